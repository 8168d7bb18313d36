// Package apptest provides an in-process quiz API for tests of the attempt
// engine and its adapters.
package apptest

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// FakeAPI serves one quiz and one attempt. Calls are counted and submitted
// payloads recorded.
type FakeAPI struct {
	Quiz       domain.Quiz
	ServerTime *time.Time
	FetchedAt  time.Time
	Attempt    domain.Attempt
	FetchErr   error
	// SubmitFunc answers submissions; nil returns a completed result.
	SubmitFunc func(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error)

	mu        sync.Mutex
	fetches   int
	starts    int
	submitted []domain.Submission
}

func (f *FakeAPI) FetchQuiz(_ context.Context, quizID string) (domain.QuizSnapshot, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.FetchErr != nil {
		return domain.QuizSnapshot{}, f.FetchErr
	}
	if quizID != f.Quiz.ID {
		return domain.QuizSnapshot{}, domain.ErrQuizNotFound
	}
	fetchedAt := f.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	return domain.QuizSnapshot{Quiz: f.Quiz, ServerTime: f.ServerTime, FetchedAt: fetchedAt}, nil
}

func (f *FakeAPI) StartAttempt(_ context.Context, quizID string) (domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	attempt := f.Attempt
	if attempt.QuizID == "" {
		attempt.QuizID = quizID
	}
	return attempt, nil
}

func (f *FakeAPI) Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, sub)
	fn := f.SubmitFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, sub)
	}
	score, passed := 100.0, true
	return domain.SubmissionResult{Status: domain.ResultCompleted, Score: &score, Passed: &passed}, nil
}

// Calls reports how many fetch and start requests were made.
func (f *FakeAPI) Calls() (fetches, starts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.starts
}

// Submitted returns the payloads received so far.
func (f *FakeAPI) Submitted() []domain.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Submission(nil), f.submitted...)
}

// Quiz builds a two-question quiz with the given limit.
func Quiz(id string, minutes int) domain.Quiz {
	return domain.Quiz{
		ID:               id,
		Title:            "Sample",
		TimeLimitMinutes: minutes,
		PassingScore:     50,
		Questions: []domain.Question{
			{ID: "q1", Prompt: "Pick a", Kind: domain.KindMultipleChoice, Options: []string{"a", "b"}, Points: 1},
			{ID: "q2", Prompt: "True?", Kind: domain.KindTrueFalse, Points: 1},
		},
	}
}
