package app_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/app/apptest"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/infra/memory"
	"quiz-attempt-engine/internal/submission"
)

// fakeClock is the learner's local clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

func openSession(t *testing.T, api *apptest.FakeAPI, clock *fakeClock, opts app.Options) (*app.AttemptService, *app.Session) {
	t.Helper()
	opts.Now = clock.Now
	if opts.TickInterval == 0 {
		opts.TickInterval = 5 * time.Millisecond
	}
	service := app.NewAttemptService(api, memory.NewSessionStore(), opts)
	session, err := service.Open(context.Background(), api.Quiz.ID, "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(session.Close)
	return service, session
}

func waitFor(t *testing.T, events <-chan domain.Event, typ domain.EventType) domain.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed before %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func waitState(t *testing.T, session *app.Session, want submission.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for session.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected state %s, got %s", want, session.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func serverAt(tm time.Time) *time.Time { return &tm }

// Clock offset is applied: a local clock five minutes fast still sees the
// full limit right after start.
func TestSkewedLocalClock(t *testing.T) {
	clock := &fakeClock{now: t0.Add(5 * time.Minute)}
	api := &apptest.FakeAPI{
		Quiz:       apptest.Quiz("quiz-1", 60),
		ServerTime: serverAt(t0),
		FetchedAt:  t0.Add(5 * time.Minute),
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{})
	if got := session.Remaining(); got != 3600 {
		t.Fatalf("expected 3600 seconds, got %d", got)
	}
	if session.View().ClockOffsetMs != (5 * time.Minute).Milliseconds() {
		t.Fatalf("unexpected offset %d", session.View().ClockOffsetMs)
	}
}

// Resuming 50 minutes into a 60 minute quiz leaves 10 minutes.
func TestResumeMidAttempt(t *testing.T) {
	clock := &fakeClock{now: t0.Add(50 * time.Minute)}
	api := &apptest.FakeAPI{
		Quiz:       apptest.Quiz("quiz-1", 60),
		ServerTime: serverAt(t0.Add(50 * time.Minute)),
		FetchedAt:  t0.Add(50 * time.Minute),
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{})
	if got := session.Remaining(); got != 600 {
		t.Fatalf("expected 600 seconds, got %d", got)
	}
}

func TestExpirySubmitsOnce(t *testing.T) {
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:       apptest.Quiz("quiz-1", 1),
		ServerTime: serverAt(t0),
		FetchedAt:  t0,
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{})
	events, cancel := session.Subscribe()
	defer cancel()

	if err := session.SetAnswer("q1", "b"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	clock.Advance(61 * time.Second)

	ev := waitFor(t, events, domain.EventOutcome)
	if ev.Outcome.Kind != domain.OutcomeGraded || ev.Remaining != 0 {
		t.Fatalf("unexpected outcome event %+v", ev)
	}

	// Let a few more ticks pass; expiry must not submit again.
	time.Sleep(30 * time.Millisecond)
	subs := api.Submitted()
	if len(subs) != 1 || subs[0].Answers["q1"] != "b" {
		t.Fatalf("expected a single submission carrying the answer, got %+v", subs)
	}
	if _, err := session.Submit(context.Background()); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestExpiryTickPrecedesAutomaticSubmit(t *testing.T) {
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:       apptest.Quiz("quiz-1", 1),
		ServerTime: serverAt(t0),
		FetchedAt:  t0,
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{})
	events, cancel := session.Subscribe()
	defer cancel()

	clock.Advance(61 * time.Second)

	sawZero := false
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed before submitting state")
			}
			if ev.Type == domain.EventTick && ev.Remaining == 0 {
				sawZero = true
			}
			if ev.Type == domain.EventState && ev.State == submission.Submitting.String() {
				if !sawZero {
					t.Fatalf("submitting state arrived before the zero tick")
				}
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for submitting state")
		}
	}
}

func TestManualSubmitFailingAfterDeadlineStaysExpired(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:       apptest.Quiz("quiz-1", 1),
		ServerTime: serverAt(t0),
		FetchedAt:  t0,
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
		SubmitFunc: func(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				<-gate
				return domain.SubmissionResult{}, &domain.APIError{StatusCode: http.StatusInternalServerError}
			}
			score, passed := 50.0, false
			return domain.SubmissionResult{Status: domain.ResultCompleted, Score: &score, Passed: &passed}, nil
		},
	}
	_, session := openSession(t, api, clock, app.Options{})
	if err := session.SetAnswer("q1", "a"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_, _ = session.Submit(context.Background())
		close(done)
	}()
	waitState(t, session, submission.Submitting)

	// The deadline passes while the manual submit is in flight; the expiry
	// signal is spent on a no-op.
	clock.Advance(61 * time.Second)
	time.Sleep(30 * time.Millisecond)
	close(gate)
	<-done

	waitState(t, session, submission.SubmitFailed)
	if view := session.View(); view.FailureKind != string(submission.FailureExpired) {
		t.Fatalf("expected expired failure, got %+v", view)
	}
	if err := session.SetAnswer("q1", "b"); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Fatalf("expected answers locked after the deadline, got %v", err)
	}
	if err := session.ClearAnswer("q1"); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Fatalf("expected clear rejected after the deadline, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if n := len(api.Submitted()); n != 1 {
		t.Fatalf("expected no automatic resubmit, got %d requests", n)
	}

	outcome, err := session.Submit(context.Background())
	if err != nil || outcome.Kind != domain.OutcomeGraded {
		t.Fatalf("expected graded manual retry, got %+v err=%v", outcome, err)
	}
	if subs := api.Submitted(); subs[1].Answers["q1"] != "a" {
		t.Fatalf("expected the answers from before the deadline, got %+v", subs[1].Answers)
	}
}

func TestSlowSubscriberKeepsStateAndOutcome(t *testing.T) {
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:       apptest.Quiz("quiz-1", 10),
		ServerTime: serverAt(t0),
		FetchedAt:  t0,
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{TickInterval: time.Millisecond})
	events, cancel := session.Subscribe()
	defer cancel()

	// Nobody reads while ticks pile up and the attempt is submitted.
	time.Sleep(40 * time.Millisecond)
	if _, err := session.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var states []string
	ticks := 0
	ev := domain.Event{}
	for ev.Type != domain.EventOutcome {
		select {
		case ev = <-events:
			switch ev.Type {
			case domain.EventTick:
				ticks++
			case domain.EventState:
				states = append(states, ev.State)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for outcome, states so far %v", states)
		}
	}
	if len(states) != 2 || states[0] != "submitting" || states[1] != "submitted" {
		t.Fatalf("expected submitting then submitted, got %v", states)
	}
	if ticks > 10 {
		t.Fatalf("expected queued ticks to collapse, got %d", ticks)
	}
}

func TestConcurrentSubmitsSendOneRequest(t *testing.T) {
	release := make(chan struct{})
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:       apptest.Quiz("quiz-1", 10),
		ServerTime: serverAt(t0),
		FetchedAt:  t0,
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
		SubmitFunc: func(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
			<-release
			return domain.SubmissionResult{Status: domain.ResultPendingReview}, nil
		},
	}
	_, session := openSession(t, api, clock, app.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = session.Submit(context.Background())
		}()
	}
	waitState(t, session, submission.Submitting)

	if err := session.SetAnswer("q1", "a"); !errors.Is(err, domain.ErrAnswersFrozen) {
		t.Fatalf("expected frozen answers while submitting, got %v", err)
	}

	// Expiry during the in-flight request is also a no-op.
	clock.Advance(11 * time.Minute)
	time.Sleep(30 * time.Millisecond)

	close(release)
	wg.Wait()
	waitState(t, session, submission.Submitted)

	if n := len(api.Submitted()); n != 1 {
		t.Fatalf("expected exactly one request, got %d", n)
	}
}

func TestForbiddenUploadRejected(t *testing.T) {
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:    apptest.Quiz("quiz-1", 10),
		Attempt: domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{})

	err := session.StageAttachment(domain.Attachment{Filename: "notes.txt", Content: []byte("x")})
	if !errors.Is(err, domain.ErrAttachmentForbidden) {
		t.Fatalf("expected ErrAttachmentForbidden, got %v", err)
	}
	if session.View().Upload != "forbidden" {
		t.Fatalf("expected forbidden upload in view")
	}
}

func TestExpiryWithoutRequiredFileRecoversManually(t *testing.T) {
	quiz := apptest.Quiz("exam", 1)
	quiz.Questions = nil
	quiz.Attachment = "exam.pdf"

	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:       quiz,
		ServerTime: serverAt(t0),
		FetchedAt:  t0,
		Attempt:    domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
		SubmitFunc: func(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
			if sub.Attachment == nil {
				return domain.SubmissionResult{}, &domain.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "an answer file is required for this quiz"}
			}
			return domain.SubmissionResult{Status: domain.ResultPendingReview}, nil
		},
	}
	_, session := openSession(t, api, clock, app.Options{})
	events, cancel := session.Subscribe()
	defer cancel()

	clock.Advance(2 * time.Minute)
	waitState(t, session, submission.SubmitFailed)

	view := session.View()
	if view.FailureKind != string(submission.FailureExpiredNeedsUpload) || view.Failure != domain.ErrTimeExpired.Error() {
		t.Fatalf("expected expired-needs-upload failure, got %+v", view)
	}

	if err := session.StageAttachment(domain.Attachment{Filename: "answers.pdf", Content: []byte("%PDF")}); err != nil {
		t.Fatalf("stage after expiry: %v", err)
	}
	outcome, err := session.Submit(context.Background())
	if err != nil {
		t.Fatalf("manual submit: %v", err)
	}
	if outcome.Kind != domain.OutcomePendingReview {
		t.Fatalf("expected pending review, got %+v", outcome)
	}
	if ev := waitFor(t, events, domain.EventOutcome); ev.Outcome.Kind != domain.OutcomePendingReview {
		t.Fatalf("unexpected outcome event %+v", ev)
	}
	if n := len(api.Submitted()); n != 2 {
		t.Fatalf("expected the expiry attempt and the manual one, got %d", n)
	}
}

func TestServerErrorKeepsAnswersForRetry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:    apptest.Quiz("quiz-1", 10),
		Attempt: domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
		SubmitFunc: func(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return domain.SubmissionResult{}, &domain.APIError{StatusCode: http.StatusInternalServerError}
			}
			score, passed := 50.0, true
			return domain.SubmissionResult{Status: domain.ResultCompleted, Score: &score, Passed: &passed}, nil
		},
	}
	_, session := openSession(t, api, clock, app.Options{})
	_ = session.SetAnswer("q1", "a")
	_ = session.SetAnswer("q2", "true")

	if _, err := session.Submit(context.Background()); err == nil {
		t.Fatalf("expected first submit to fail")
	}
	if session.State() != submission.Editing {
		t.Fatalf("expected editing after failure, got %s", session.State())
	}
	if got := session.Answers(); got["q1"] != "a" || got["q2"] != "true" {
		t.Fatalf("expected answers kept, got %+v", got)
	}

	outcome, err := session.Submit(context.Background())
	if err != nil || outcome.Kind != domain.OutcomeGraded {
		t.Fatalf("expected graded retry, got %+v err=%v", outcome, err)
	}
	subs := api.Submitted()
	if len(subs) != 2 || subs[1].Answers["q1"] != "a" {
		t.Fatalf("expected identical retry payload, got %+v", subs)
	}
}

func TestConfirmUnanswered(t *testing.T) {
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:    apptest.Quiz("quiz-1", 10),
		Attempt: domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{ConfirmUnanswered: true})
	_ = session.SetAnswer("q1", "a")

	if _, err := session.Submit(context.Background()); !errors.Is(err, domain.ErrConfirmationRequired) {
		t.Fatalf("expected confirmation request, got %v", err)
	}
	if err := session.CancelConfirm(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, _ = session.Submit(context.Background())
	if _, err := session.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if session.State() != submission.Submitted {
		t.Fatalf("expected submitted, got %s", session.State())
	}
}

func TestAnswerValidation(t *testing.T) {
	clock := &fakeClock{now: t0}
	api := &apptest.FakeAPI{
		Quiz:    apptest.Quiz("quiz-1", 10),
		Attempt: domain.Attempt{ID: "a1", StartedAt: t0, Status: domain.AttemptInProgress},
	}
	_, session := openSession(t, api, clock, app.Options{})

	if err := session.SetAnswer("q9", "a"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if err := session.SetAnswer("q1", "z"); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected invalid option, got %v", err)
	}
	if err := session.SetAnswer("q2", "yes"); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected invalid true/false, got %v", err)
	}
	if err := session.SetAnswer("q2", "false"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := session.ClearAnswer("q2"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(session.Answers()) != 0 {
		t.Fatalf("expected no answers after clear")
	}
}
