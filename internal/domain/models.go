package domain

import (
	"time"
)

// QuestionKind enumerates the interactive question types.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindTrueFalse      QuestionKind = "true_false"
)

// Question is read-only for the whole session.
type Question struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Kind    QuestionKind `json:"kind"`
	Options []string     `json:"options,omitempty"` // multiple_choice only
	Points  int          `json:"points"`
}

// Quiz is the immutable snapshot fetched once per session.
type Quiz struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	PassingScore     float64    `json:"passing_score"`
	Questions        []Question `json:"questions"`
	Attachment       string     `json:"attachment,omitempty"` // server-held exam file reference
}

// TimeLimit converts the configured minutes into a duration.
func (q Quiz) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitMinutes) * time.Minute
}

// HasAttachment reports whether the quiz ships an exam file.
func (q Quiz) HasAttachment() bool {
	return q.Attachment != ""
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// QuizSnapshot pairs a quiz with the clock sample taken when it was fetched.
// ServerTime is nil for legacy responses.
type QuizSnapshot struct {
	Quiz       Quiz
	ServerTime *time.Time
	FetchedAt  time.Time
}

// AttemptStatus is the server-side status of an attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
)

// Attempt is created server-side and owns the authoritative start time.
type Attempt struct {
	ID        string        `json:"id"`
	QuizID    string        `json:"quiz_id"`
	StartedAt time.Time     `json:"started_at"`
	Status    AttemptStatus `json:"status"`
	// Result is set by servers that return the stored outcome of a
	// submitted attempt.
	Result *SubmissionResult `json:"result,omitempty"`
}

// AnswerSet maps question id to the chosen answer.
type AnswerSet map[string]string

// Clone returns an independent copy.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Attachment is a file staged for upload with the submission.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     []byte `json:"content"`
}

// Submission is the frozen payload sent to the server.
type Submission struct {
	AttemptID  string
	QuizID     string
	Questions  []Question // used to order the multipart fields
	Answers    AnswerSet
	Attachment *Attachment
}

// ResultStatus is the server's classification of a submission.
type ResultStatus string

const (
	ResultCompleted     ResultStatus = "completed"
	ResultPendingReview ResultStatus = "pending_review"
)

// SubmissionResult is returned by the server on success.
type SubmissionResult struct {
	Status ResultStatus `json:"status"`
	Score  *float64     `json:"score,omitempty"`
	Passed *bool        `json:"passed,omitempty"`
}

// Trigger identifies what asked for a submission.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerExpiry Trigger = "expiry"
)

// OutcomeKind is the terminal classification emitted to the rendering layer.
type OutcomeKind string

const (
	OutcomeGraded        OutcomeKind = "graded"
	OutcomePendingReview OutcomeKind = "pending_review"
	OutcomeError         OutcomeKind = "error"
	// OutcomeUnavailable is a submitted attempt without a server classification.
	OutcomeUnavailable   OutcomeKind = "result_unavailable"
)

// Outcome is emitted exactly once per attempt.
type Outcome struct {
	Kind    OutcomeKind       `json:"kind"`
	Result  *SubmissionResult `json:"result,omitempty"`
	Message string            `json:"message,omitempty"`
}

// EventType names the messages fanned out by a session.
type EventType string

const (
	EventTick    EventType = "tick"
	EventState   EventType = "state"
	EventOutcome EventType = "outcome"
)

// Event is a single update for the rendering layer.
type Event struct {
	Type      EventType `json:"type"`
	Remaining int       `json:"remaining"`
	State     string    `json:"state,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	Message   string    `json:"message,omitempty"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
	At        time.Time `json:"at"`
}

// QuizDefinition is the server-side record of a quiz: the public snapshot
// plus the answer key that never leaves the API.
type QuizDefinition struct {
	Quiz      Quiz              `json:"quiz"`
	AnswerKey map[string]string `json:"answer_key"`
	// ManualReview routes every submission to an instructor.
	ManualReview bool `json:"manual_review,omitempty"`
}
