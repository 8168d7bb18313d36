package app

import (
	"context"
	"log"
	"sync"
	"time"

	"quiz-attempt-engine/internal/clocksync"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/metrics"
	"quiz-attempt-engine/internal/policy"
	"quiz-attempt-engine/internal/submission"
	"quiz-attempt-engine/internal/timer"
)

// SessionKey identifies the single live attempt of a user on a quiz.
type SessionKey struct {
	QuizID string
	UserID string
}

func (k SessionKey) String() string {
	return k.QuizID + ":" + k.UserID
}

// SessionInfo is the small, serializable summary kept by session stores.
type SessionInfo struct {
	QuizID    string    `json:"quizId"`
	UserID    string    `json:"userId"`
	AttemptID string    `json:"attemptId"`
	StartedAt time.Time `json:"startedAt"`
	State     string    `json:"state"`
}

// View is the full state handed to a renderer when it attaches.
type View struct {
	Quiz          domain.Quiz      `json:"quiz"`
	AttemptID     string           `json:"attemptId"`
	StartedAt     time.Time        `json:"startedAt"`
	Upload        string           `json:"upload"`
	Warning       string           `json:"warning,omitempty"`
	Remaining     int              `json:"remaining"`
	State         string           `json:"state"`
	Failure       string           `json:"failure,omitempty"`
	FailureKind   string           `json:"failureKind,omitempty"`
	Answers       domain.AnswerSet `json:"answers"`
	HasAttachment bool             `json:"hasAttachment"`
	Outcome       *domain.Outcome  `json:"outcome,omitempty"`
	ClockOffsetMs int64            `json:"clockOffsetMs"`
}

// Session wires clock sync, the countdown, the attachment policy and the
// submission controller around one attempt. It owns the answers and the
// staged file; nothing else mutates them.
type Session struct {
	key        SessionKey
	quiz       domain.Quiz
	attempt    domain.Attempt
	clock      clocksync.Sync
	decision   policy.Decision
	timer      *timer.Timer
	controller *submission.Controller
	now        func() time.Time
	onChange   func(*Session)

	mu          sync.RWMutex
	answers     domain.AnswerSet
	attachment  *domain.Attachment
	frozen      bool
	closed      bool
	remaining   int
	outcomeSent bool
	subscribers map[*subscriber]struct{}
}

type sessionConfig struct {
	key               SessionKey
	snapshot          domain.QuizSnapshot
	attempt           domain.Attempt
	submitter         submission.Submitter
	now               func() time.Time
	interval          time.Duration
	confirmUnanswered bool
	// onChange runs after every submission state change.
	onChange func(*Session)
}

func newSession(cfg sessionConfig) *Session {
	now := cfg.now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		key:         cfg.key,
		quiz:        cfg.snapshot.Quiz,
		attempt:     cfg.attempt,
		clock:       clocksync.New(cfg.snapshot.FetchedAt, cfg.snapshot.ServerTime),
		decision:    policy.Classify(cfg.snapshot.Quiz),
		now:         now,
		onChange:    cfg.onChange,
		answers:     make(domain.AnswerSet),
		remaining:   -1,
		subscribers: make(map[*subscriber]struct{}),
	}
	if s.clock.Degraded() {
		metrics.ClockDegraded.Inc()
		log.Printf("quiz %s: no server_time, trusting local clock", s.quiz.ID)
	}
	if s.decision.Warning != "" {
		log.Printf("quiz %s: %s", s.quiz.ID, s.decision.Warning)
	}

	s.timer = timer.New(timer.Config{
		Limit:     s.quiz.TimeLimit(),
		StartedAt: s.attempt.StartedAt,
		Clock:     s.clock,
		Now:       now,
		Interval:  cfg.interval,
		OnTick:    s.onTick,
		OnExpire:  s.onExpire,
	})
	s.controller = submission.New(cfg.submitter, draft{s}, submission.Options{
		Policy:            s.decision,
		ConfirmUnanswered: cfg.confirmUnanswered,
		Expired:           s.expired,
		OnTransition:      s.onTransition,
	})
	return s
}

// start begins the countdown, or settles the session immediately when the
// server already reports the attempt as submitted.
func (s *Session) start(ctx context.Context) {
	metrics.ActiveSessions.Inc()
	if s.attempt.Status == domain.AttemptSubmitted {
		s.mu.Lock()
		s.frozen = true
		s.mu.Unlock()
		s.timer.Stop()
		s.controller.MarkSubmitted(s.attempt.Result)
		return
	}
	s.timer.Start(ctx)
}

// Key returns the session key.
func (s *Session) Key() SessionKey { return s.key }

// Quiz returns the quiz snapshot.
func (s *Session) Quiz() domain.Quiz { return s.quiz }

// Attempt returns the attempt the session was opened with.
func (s *Session) Attempt() domain.Attempt { return s.attempt }

// Policy returns the attachment classification.
func (s *Session) Policy() policy.Decision { return s.decision }

// State returns the controller state.
func (s *Session) State() submission.State { return s.controller.State() }

// Remaining recomputes the seconds left without emitting a tick.
func (s *Session) Remaining() int { return s.timer.Remaining() }

// SetAnswer records the user's answer for a question.
func (s *Session) SetAnswer(questionID, answer string) error {
	question, ok := s.quiz.Question(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if err := validateAnswer(question, answer); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.ErrAnswersFrozen
	}
	if s.expired() {
		return domain.ErrDeadlinePassed
	}
	s.answers[questionID] = answer
	return nil
}

// ClearAnswer removes an answer.
func (s *Session) ClearAnswer(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.ErrAnswersFrozen
	}
	if s.expired() {
		return domain.ErrDeadlinePassed
	}
	delete(s.answers, questionID)
	return nil
}

// StageAttachment stages the answer file. Rejected when uploads are forbidden.
func (s *Session) StageAttachment(att domain.Attachment) error {
	if !s.decision.AllowsUpload() {
		return domain.ErrAttachmentForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.ErrAnswersFrozen
	}
	s.attachment = &att
	return nil
}

// RemoveAttachment unstages the answer file.
func (s *Session) RemoveAttachment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.ErrAnswersFrozen
	}
	s.attachment = nil
	return nil
}

// Answers returns a copy of the current answers.
func (s *Session) Answers() domain.AnswerSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answers.Clone()
}

// Submit is the user-triggered submit.
func (s *Session) Submit(ctx context.Context) (domain.Outcome, error) {
	return s.controller.AttemptSubmit(ctx, domain.TriggerManual)
}

// Confirm proceeds with a submit awaiting confirmation.
func (s *Session) Confirm(ctx context.Context) (domain.Outcome, error) {
	return s.controller.Confirm(ctx)
}

// CancelConfirm abandons a pending confirmation.
func (s *Session) CancelConfirm() error {
	return s.controller.CancelConfirm()
}

// View returns a snapshot for a renderer that just attached.
func (s *Session) View() View {
	state := s.controller.State()
	failure := s.controller.Failure()
	outcome, hasOutcome := s.controller.Outcome()

	s.mu.RLock()
	defer s.mu.RUnlock()

	remaining := s.remaining
	if remaining < 0 {
		remaining = s.timer.Remaining()
	}
	v := View{
		Quiz:          s.quiz,
		AttemptID:     s.attempt.ID,
		StartedAt:     s.attempt.StartedAt,
		Upload:        s.decision.Requirement.String(),
		Warning:       s.decision.Warning,
		Remaining:     remaining,
		State:         state.String(),
		Answers:       s.answers.Clone(),
		HasAttachment: s.attachment != nil,
		ClockOffsetMs: s.clock.Offset().Milliseconds(),
	}
	if failure != nil {
		v.Failure = failure.Message
		v.FailureKind = string(failure.Kind)
	}
	if hasOutcome {
		v.Outcome = &outcome
	}
	return v
}

// Info summarizes the session for session stores.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		QuizID:    s.key.QuizID,
		UserID:    s.key.UserID,
		AttemptID: s.attempt.ID,
		StartedAt: s.attempt.StartedAt,
		State:     s.controller.State().String(),
	}
}

// Subscribe returns a channel of session events. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ch := make(chan domain.Event)
		close(ch)
		return ch, func() {}
	}
	sub := newSubscriber()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[sub]; ok {
			delete(s.subscribers, sub)
			sub.stop()
		}
		s.mu.Unlock()
	}
	return sub.out, cancel
}

// SubscriberCount reports how many renderers are attached.
func (s *Session) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close stops the countdown and detaches subscribers. A submission already
// sent keeps running until the server answers.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for sub := range s.subscribers {
		delete(s.subscribers, sub)
		sub.stop()
	}
	s.mu.Unlock()

	s.timer.Stop()
	metrics.ActiveSessions.Dec()
}

func (s *Session) onTick(remaining int) {
	s.mu.Lock()
	s.remaining = remaining
	s.broadcastLocked(domain.Event{Type: domain.EventTick, Remaining: remaining})
	s.mu.Unlock()
}

// expired reports whether the time limit has been reached.
func (s *Session) expired() bool {
	return s.timer.Remaining() == 0
}

func (s *Session) onExpire() {
	metrics.Expiries.Inc()
	log.Printf("attempt %s expired, submitting", s.attempt.ID)
	// Submit off the tick goroutine so the countdown keeps running.
	go func() {
		_, _ = s.controller.AttemptSubmit(context.Background(), domain.TriggerExpiry)
	}()
}

func (s *Session) onTransition(tr submission.Transition) {
	if tr.State.Terminal() {
		s.timer.Stop()
	}

	s.mu.Lock()
	ev := domain.Event{Type: domain.EventState, State: tr.State.String(), Remaining: s.remaining}
	if tr.Failure != nil {
		ev.Failure = string(tr.Failure.Kind)
		ev.Message = tr.Failure.Message
	}
	s.broadcastLocked(ev)

	if tr.State.Terminal() && tr.Outcome != nil && !s.outcomeSent {
		s.outcomeSent = true
		log.Printf("attempt %s finished: %s", s.attempt.ID, tr.Outcome.Kind)
		s.broadcastLocked(domain.Event{Type: domain.EventOutcome, Outcome: tr.Outcome, Remaining: s.remaining})
	}
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(s)
	}
}

func (s *Session) broadcastLocked(ev domain.Event) {
	ev.At = s.now()
	if ev.Remaining < 0 {
		ev.Remaining = 0
	}
	for sub := range s.subscribers {
		sub.push(ev)
	}
}

// subscriber queues events for one renderer so broadcasting never blocks.
// Consecutive ticks collapse into the latest one; state and outcome events
// are always delivered in order.
type subscriber struct {
	out  chan domain.Event
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending []domain.Event
}

func newSubscriber() *subscriber {
	sub := &subscriber{
		out:  make(chan domain.Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go sub.run()
	return sub
}

func (sub *subscriber) push(ev domain.Event) {
	sub.mu.Lock()
	n := len(sub.pending)
	if ev.Type == domain.EventTick && n > 0 && sub.pending[n-1].Type == domain.EventTick {
		sub.pending[n-1] = ev
	} else {
		sub.pending = append(sub.pending, ev)
	}
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) run() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		if len(sub.pending) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}
		ev := sub.pending[0]
		sub.pending = sub.pending[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- ev:
		case <-sub.done:
			return
		}
	}
}

// stop must be called once, with the session lock held.
func (sub *subscriber) stop() {
	close(sub.done)
}

// draft exposes the session's answers to the submission controller.
type draft struct{ s *Session }

func (d draft) Freeze() domain.Submission {
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true

	sub := domain.Submission{
		AttemptID: s.attempt.ID,
		QuizID:    s.quiz.ID,
		Questions: s.quiz.Questions,
		Answers:   s.answers.Clone(),
	}
	if s.attachment != nil {
		att := *s.attachment
		sub.Attachment = &att
	}
	return sub
}

func (d draft) Thaw() {
	d.s.mu.Lock()
	d.s.frozen = false
	d.s.mu.Unlock()
}

func (d draft) Unanswered() int {
	s := d.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, q := range s.quiz.Questions {
		if _, ok := s.answers[q.ID]; !ok {
			n++
		}
	}
	return n
}

func (d draft) HasAttachment() bool {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	return d.s.attachment != nil
}

func validateAnswer(q domain.Question, answer string) error {
	switch q.Kind {
	case domain.KindTrueFalse:
		if answer != "true" && answer != "false" {
			return domain.ErrInvalidAnswer
		}
	case domain.KindMultipleChoice:
		if len(q.Options) == 0 {
			break
		}
		for _, opt := range q.Options {
			if opt == answer {
				return nil
			}
		}
		return domain.ErrInvalidAnswer
	}
	if answer == "" {
		return domain.ErrInvalidAnswer
	}
	return nil
}
