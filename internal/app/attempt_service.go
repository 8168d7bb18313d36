package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-attempt-engine/internal/domain"
)

// QuizAPI is the remote API collaborator.
type QuizAPI interface {
	FetchQuiz(ctx context.Context, quizID string) (domain.QuizSnapshot, error)
	StartAttempt(ctx context.Context, quizID string) (domain.Attempt, error)
	Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error)
}

// SessionRepository abstracts where live sessions are kept (in-memory, Redis, etc).
type SessionRepository interface {
	Get(key SessionKey) (*Session, bool)
	Put(key SessionKey, session *Session)
	Delete(key SessionKey)
}

// Options tune sessions created by the service.
type Options struct {
	TickInterval      time.Duration
	ConfirmUnanswered bool
	// Now overrides the local clock (tests).
	Now func() time.Time
}

// AttemptService opens, resumes and releases attempt sessions.
type AttemptService struct {
	api      QuizAPI
	sessions SessionRepository
	opts     Options
	sf       singleflight.Group
}

func NewAttemptService(api QuizAPI, sessions SessionRepository, opts Options) *AttemptService {
	return &AttemptService{api: api, sessions: sessions, opts: opts}
}

// Open returns the live session for the quiz and user, or fetches the quiz,
// starts (or resumes) the attempt on the server and starts the countdown.
// Concurrent opens for the same key share one fetch and one start call.
func (s *AttemptService) Open(ctx context.Context, quizID, userID string) (*Session, error) {
	key := SessionKey{QuizID: quizID, UserID: userID}
	if session, ok := s.live(key); ok {
		return session, nil
	}

	result, err, _ := s.sf.Do(key.String(), func() (interface{}, error) {
		// Re-check in case another caller finished opening it.
		if session, ok := s.live(key); ok {
			return session, nil
		}

		snapshot, err := s.api.FetchQuiz(ctx, quizID)
		if err != nil {
			return nil, err
		}
		attempt, err := s.api.StartAttempt(ctx, quizID)
		if err != nil {
			return nil, err
		}
		if attempt.QuizID != "" && attempt.QuizID != quizID {
			return nil, fmt.Errorf("start attempt: server returned attempt for quiz %s", attempt.QuizID)
		}

		session := newSession(sessionConfig{
			key:               key,
			snapshot:          snapshot,
			attempt:           attempt,
			submitter:         s.api,
			now:               s.opts.Now,
			interval:          s.opts.TickInterval,
			confirmUnanswered: s.opts.ConfirmUnanswered,
			onChange:          s.Persist,
		})
		s.sessions.Put(key, session)
		// The countdown outlives the request that opened it; Close stops it.
		session.start(context.Background())
		log.Printf("opened attempt %s for quiz %s (user %s)", attempt.ID, quizID, userID)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// Get returns a live session.
func (s *AttemptService) Get(quizID, userID string) (*Session, error) {
	session, ok := s.live(SessionKey{QuizID: quizID, UserID: userID})
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Persist refreshes the stored summary after a state change. Released
// sessions are not written back.
func (s *AttemptService) Persist(session *Session) {
	if session.Closed() {
		return
	}
	s.sessions.Put(session.Key(), session)
}

// Release closes the session once no renderer is attached to it. An
// in-flight submission is left to complete.
func (s *AttemptService) Release(quizID, userID string) {
	key := SessionKey{QuizID: quizID, UserID: userID}
	session, ok := s.sessions.Get(key)
	if !ok {
		return
	}
	if session.SubscriberCount() > 0 {
		return
	}
	session.Close()
	s.sessions.Delete(key)
	log.Printf("released attempt session %s", key)
}

func (s *AttemptService) live(key SessionKey) (*Session, bool) {
	session, ok := s.sessions.Get(key)
	if !ok || session.Closed() {
		return nil, false
	}
	return session, true
}
