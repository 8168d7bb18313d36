package memory

import (
	"context"
	"testing"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/app/apptest"
	"quiz-attempt-engine/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()
	api := &apptest.FakeAPI{
		Quiz:    apptest.Quiz("quiz-1", 10),
		Attempt: domain.Attempt{ID: "a1", StartedAt: time.Now(), Status: domain.AttemptInProgress},
	}
	service := app.NewAttemptService(api, store, app.Options{TickInterval: time.Hour})

	session, err := service.Open(context.Background(), "quiz-1", "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key := app.SessionKey{QuizID: "quiz-1", UserID: "u1"}
	if got, ok := store.Get(key); !ok || got != session {
		t.Fatalf("expected session present")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one session, got %d", store.Len())
	}

	service.Release("quiz-1", "u1")
	if _, ok := store.Get(key); ok {
		t.Fatalf("expected session removed when no renderer is attached")
	}
}

func TestAttemptStoreStartIsIdempotent(t *testing.T) {
	store := NewAttemptStore()
	ctx := context.Background()
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	first, created, err := store.Start(ctx, "quiz-1", "u1", now)
	if err != nil || !created {
		t.Fatalf("expected created attempt, got created=%v err=%v", created, err)
	}
	second, created, _ := store.Start(ctx, "quiz-1", "u1", now.Add(time.Minute))
	if created || second.ID != first.ID || !second.StartedAt.Equal(now) {
		t.Fatalf("expected existing attempt, got %+v created=%v", second, created)
	}
}

func TestAttemptStoreCompleteOnce(t *testing.T) {
	store := NewAttemptStore()
	ctx := context.Background()
	attempt, _, _ := store.Start(ctx, "quiz-1", "u1", time.Now())

	score := 80.0
	stored, first, err := store.Complete(ctx, attempt.ID, domain.SubmissionResult{Status: domain.ResultCompleted, Score: &score}, time.Now())
	if err != nil || !first || *stored.Score != 80 {
		t.Fatalf("unexpected first complete %+v first=%v err=%v", stored, first, err)
	}
	other := 10.0
	stored, first, _ = store.Complete(ctx, attempt.ID, domain.SubmissionResult{Status: domain.ResultCompleted, Score: &other}, time.Now())
	if first || *stored.Score != 80 {
		t.Fatalf("expected stored result kept, got %+v first=%v", stored, first)
	}

	found, err := store.Find(ctx, "quiz-1", "u1")
	if err != nil || found.Status != domain.AttemptSubmitted || found.Result == nil {
		t.Fatalf("expected submitted attempt, got %+v err=%v", found, err)
	}
	if _, _, err := store.Complete(ctx, "missing", domain.SubmissionResult{}, time.Now()); err != domain.ErrAttemptNotFound {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}
