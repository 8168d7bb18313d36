package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-engine/internal/domain"
)

// AttemptStore is an in-memory attempt repository for the reference API.
// At most one attempt exists per quiz and user.
type AttemptStore struct {
	mu     sync.Mutex
	byUser map[string]*domain.Attempt
	byID   map[string]*domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		byUser: make(map[string]*domain.Attempt),
		byID:   make(map[string]*domain.Attempt),
	}
}

// Start creates the attempt, or returns the existing one with created=false.
func (s *AttemptStore) Start(_ context.Context, quizID, userID string, now time.Time) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byUser[userKey(quizID, userID)]; ok {
		return copyAttempt(existing), false, nil
	}
	attempt := &domain.Attempt{
		ID:        uuid.NewString(),
		QuizID:    quizID,
		StartedAt: now.UTC(),
		Status:    domain.AttemptInProgress,
	}
	s.byUser[userKey(quizID, userID)] = attempt
	s.byID[attempt.ID] = attempt
	return copyAttempt(attempt), true, nil
}

func (s *AttemptStore) Find(_ context.Context, quizID, userID string) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.byUser[userKey(quizID, userID)]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return copyAttempt(attempt), nil
}

// Complete stores the result once. A second call returns the stored result
// with first=false.
func (s *AttemptStore) Complete(_ context.Context, attemptID string, result domain.SubmissionResult, _ time.Time) (domain.SubmissionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.byID[attemptID]
	if !ok {
		return domain.SubmissionResult{}, false, domain.ErrAttemptNotFound
	}
	if attempt.Status == domain.AttemptSubmitted && attempt.Result != nil {
		return *attempt.Result, false, nil
	}
	r := result
	attempt.Status = domain.AttemptSubmitted
	attempt.Result = &r
	return r, true, nil
}

func userKey(quizID, userID string) string {
	return quizID + "|" + userID
}

func copyAttempt(a *domain.Attempt) domain.Attempt {
	out := *a
	if a.Result != nil {
		r := *a.Result
		out.Result = &r
	}
	return out
}
