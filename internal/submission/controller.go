// Package submission moves an attempt from editing to a terminal outcome and
// is the only writer of "has this attempt been submitted".
package submission

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/metrics"
	"quiz-attempt-engine/internal/policy"
)

// State of the submission state machine.
type State int

const (
	Editing State = iota
	ConfirmPending
	Submitting
	Submitted
	SubmitFailed
	Aborted
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case ConfirmPending:
		return "confirm_pending"
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	case SubmitFailed:
		return "submit_failed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether no further submission can happen.
func (s State) Terminal() bool {
	return s == Submitted || s == Aborted
}

// FailureKind classifies a recoverable failure for the UI.
type FailureKind string

const (
	FailurePrecondition       FailureKind = "precondition"
	FailureTransient          FailureKind = "transient"
	FailureValidation         FailureKind = "validation"
	FailureExpiredNeedsUpload FailureKind = "expired_needs_upload"
	FailureExpired            FailureKind = "expired"
)

// Failure is the last surfaced error.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

// Submitter sends a frozen payload to the server.
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error)
}

// Draft is the editable answer state owned by the session.
type Draft interface {
	// Freeze locks editing and returns the payload to send.
	Freeze() domain.Submission
	// Thaw re-enables editing after a recoverable failure.
	Thaw()
	Unanswered() int
	HasAttachment() bool
}

// Transition is reported after every state change.
type Transition struct {
	State   State
	Trigger domain.Trigger
	Failure *Failure
	Outcome *domain.Outcome
}

type Options struct {
	Policy policy.Decision
	// ConfirmUnanswered routes manual submits with unanswered questions
	// through ConfirmPending.
	ConfirmUnanswered bool
	// Expired reports whether the attempt's time is up. A failed manual
	// submit after the deadline is then handled like a failed expiry submit.
	Expired      func() bool
	OnTransition func(Transition)
}

// Controller guards submission with a single-flight latch: the check and the
// move to Submitting happen in one critical section before any network call.
type Controller struct {
	submitter    Submitter
	draft        Draft
	decision     policy.Decision
	confirm      bool
	expired      func() bool
	onTransition func(Transition)

	mu      sync.Mutex
	state   State
	failure *Failure
	outcome *domain.Outcome
}

func New(submitter Submitter, draft Draft, opts Options) *Controller {
	return &Controller{
		submitter:    submitter,
		draft:        draft,
		decision:     opts.Policy,
		confirm:      opts.ConfirmUnanswered,
		expired:      opts.Expired,
		onTransition: opts.OnTransition,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failure returns the last surfaced failure, if any.
func (c *Controller) Failure() *Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Outcome returns the terminal outcome once reached.
func (c *Controller) Outcome() (domain.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return domain.Outcome{}, false
	}
	return *c.outcome, true
}

// AttemptSubmit is the single entry point for both triggers. Calls made
// while a submission is in flight or done are no-ops.
func (c *Controller) AttemptSubmit(ctx context.Context, trigger domain.Trigger) (domain.Outcome, error) {
	return c.submit(ctx, trigger, false)
}

// Confirm proceeds with a manual submit awaiting confirmation.
func (c *Controller) Confirm(ctx context.Context) (domain.Outcome, error) {
	return c.submit(ctx, domain.TriggerManual, true)
}

// CancelConfirm returns a pending confirmation to Editing.
func (c *Controller) CancelConfirm() error {
	c.mu.Lock()
	if c.state != ConfirmPending {
		c.mu.Unlock()
		return domain.ErrNotConfirming
	}
	c.state = Editing
	tr := c.transitionLocked(domain.TriggerManual)
	c.mu.Unlock()

	c.notify(tr)
	return nil
}

// MarkSubmitted records an attempt the server already reports as submitted.
func (c *Controller) MarkSubmitted(result *domain.SubmissionResult) domain.Outcome {
	c.mu.Lock()
	outcome := domain.Outcome{Kind: domain.OutcomeUnavailable, Message: domain.ErrResultUnavailable.Error()}
	if result != nil {
		outcome = outcomeFor(*result)
	}
	c.state = Submitted
	c.failure = nil
	c.outcome = &outcome
	tr := c.transitionLocked(domain.TriggerManual)
	c.mu.Unlock()

	c.notify(tr)
	return outcome
}

func (c *Controller) submit(ctx context.Context, trigger domain.Trigger, confirmed bool) (domain.Outcome, error) {
	c.mu.Lock()
	switch c.state {
	case Submitting:
		c.mu.Unlock()
		metrics.DuplicatesSuppressed.WithLabelValues(string(trigger)).Inc()
		return domain.Outcome{}, domain.ErrSubmissionInFlight
	case Submitted, Aborted:
		outcome := *c.outcome
		c.mu.Unlock()
		metrics.DuplicatesSuppressed.WithLabelValues(string(trigger)).Inc()
		return outcome, domain.ErrAlreadySubmitted
	}
	if confirmed && c.state != ConfirmPending {
		c.mu.Unlock()
		return domain.Outcome{}, domain.ErrNotConfirming
	}

	if trigger == domain.TriggerManual {
		if err := c.decision.Check(c.draft.HasAttachment()); err != nil {
			if c.state != SubmitFailed {
				c.state = Editing
				c.failure = &Failure{Kind: FailurePrecondition, Message: err.Error(), Err: err}
			}
			tr := c.transitionLocked(trigger)
			c.mu.Unlock()

			metrics.Submissions.WithLabelValues(string(trigger), "blocked").Inc()
			c.notify(tr)
			return domain.Outcome{}, err
		}
		if !confirmed && c.confirm && c.draft.Unanswered() > 0 {
			changed := c.state != ConfirmPending
			c.state = ConfirmPending
			tr := c.transitionLocked(trigger)
			c.mu.Unlock()

			if changed {
				metrics.Submissions.WithLabelValues(string(trigger), "confirm").Inc()
				c.notify(tr)
			}
			return domain.Outcome{}, domain.ErrConfirmationRequired
		}
	}

	c.state = Submitting
	c.failure = nil
	payload := c.draft.Freeze()
	if c.decision.Requirement == policy.Forbidden {
		payload.Attachment = nil
	}
	tr := c.transitionLocked(trigger)
	c.mu.Unlock()
	c.notify(tr)

	// The request must finish even if the caller goes away, otherwise the
	// attempt is left ambiguous on the server.
	started := time.Now()
	result, err := c.submitter.Submit(context.WithoutCancel(ctx), payload)
	metrics.SubmitDuration.WithLabelValues(string(trigger)).Observe(time.Since(started).Seconds())

	if err == nil {
		return c.succeed(trigger, result), nil
	}
	return c.fail(trigger, payload, err)
}

func (c *Controller) succeed(trigger domain.Trigger, result domain.SubmissionResult) domain.Outcome {
	outcome := outcomeFor(result)

	c.mu.Lock()
	c.state = Submitted
	c.outcome = &outcome
	tr := c.transitionLocked(trigger)
	c.mu.Unlock()

	metrics.Submissions.WithLabelValues(string(trigger), "submitted").Inc()
	c.notify(tr)
	return outcome
}

func (c *Controller) fail(trigger domain.Trigger, payload domain.Submission, err error) (domain.Outcome, error) {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Fatal() {
		outcome := domain.Outcome{Kind: domain.OutcomeError, Message: apiErr.Message}
		if outcome.Message == "" {
			outcome.Message = apiErr.Error()
		}

		c.mu.Lock()
		c.state = Aborted
		c.outcome = &outcome
		tr := c.transitionLocked(trigger)
		c.mu.Unlock()

		log.Printf("submit attempt %s aborted: %v", payload.AttemptID, err)
		metrics.Submissions.WithLabelValues(string(trigger), "aborted").Inc()
		c.notify(tr)
		return outcome, err
	}

	failure := classify(err)

	// A manual submit that fails after the deadline has used up the
	// expiry signal, so it ends like a failed expiry submit.
	late := trigger == domain.TriggerExpiry || (c.expired != nil && c.expired())

	c.mu.Lock()
	c.draft.Thaw()
	if !late {
		c.state = Editing
	} else {
		// No automatic retry loop; the latch is re-armed so the user can
		// finish the required action and submit manually.
		c.state = SubmitFailed
		if c.decision.Requirement == policy.Required && payload.Attachment == nil {
			failure.Kind = FailureExpiredNeedsUpload
			failure.Message = domain.ErrTimeExpired.Error()
		} else {
			failure.Kind = FailureExpired
			failure.Message = domain.ErrSubmitAfterExpiry.Error() + ": " + failure.Message
		}
	}
	c.failure = failure
	tr := c.transitionLocked(trigger)
	c.mu.Unlock()

	log.Printf("submit attempt %s (%s) failed: %v", payload.AttemptID, trigger, err)
	metrics.Submissions.WithLabelValues(string(trigger), "failed").Inc()
	c.notify(tr)
	return domain.Outcome{}, err
}

func (c *Controller) transitionLocked(trigger domain.Trigger) Transition {
	tr := Transition{State: c.state, Trigger: trigger}
	if c.failure != nil {
		f := *c.failure
		tr.Failure = &f
	}
	if c.outcome != nil {
		o := *c.outcome
		tr.Outcome = &o
	}
	return tr
}

func (c *Controller) notify(tr Transition) {
	if c.onTransition != nil {
		c.onTransition(tr)
	}
}

func classify(err error) *Failure {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return &Failure{Kind: FailureTransient, Message: apiErr.Error(), Err: err}
		}
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &Failure{Kind: FailureValidation, Message: msg, Err: err}
	}
	return &Failure{Kind: FailureTransient, Message: err.Error(), Err: err}
}

func outcomeFor(result domain.SubmissionResult) domain.Outcome {
	r := result
	switch {
	case result.Status == domain.ResultPendingReview:
		return domain.Outcome{Kind: domain.OutcomePendingReview, Result: &r}
	case result.Status == domain.ResultCompleted || result.Score != nil:
		return domain.Outcome{Kind: domain.OutcomeGraded, Result: &r}
	}
	return domain.Outcome{Kind: domain.OutcomeUnavailable, Result: &r, Message: domain.ErrResultUnavailable.Error()}
}
