package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned when no attempt exists for the quiz and user.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrSessionNotFound is returned when a quiz session has not been opened.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrQuestionNotFound indicates an answer targets an unknown question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidAnswer indicates the answer is not valid for the question kind.
	ErrInvalidAnswer = errors.New("invalid answer for question")
	// ErrAnswersFrozen is returned when editing after submission began.
	ErrAnswersFrozen = errors.New("answers are frozen while submitting")
	// ErrAttachmentRequired blocks a manual submit without the required file.
	ErrAttachmentRequired = errors.New("this quiz requires an answer file; upload it before submitting")
	// ErrAttachmentForbidden rejects a file for quizzes graded from questions.
	ErrAttachmentForbidden = errors.New("file uploads are not accepted for this quiz")
	// ErrConfirmationRequired asks the user to confirm a submit with unanswered questions.
	ErrConfirmationRequired = errors.New("some questions are unanswered; confirm to submit")
	// ErrNotConfirming is returned by confirm or cancel outside of a pending confirmation.
	ErrNotConfirming = errors.New("no submission awaiting confirmation")
	// ErrSubmissionInFlight is the no-op answer for a duplicate submit while one is running.
	ErrSubmissionInFlight = errors.New("submission already in flight")
	// ErrAlreadySubmitted is the no-op answer for a submit after the attempt is terminal.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrTimeExpired is surfaced when an automatic submit failed for a missing file.
	ErrTimeExpired = errors.New("time expired; upload your answer file and submit manually")
	// ErrSubmitAfterExpiry is surfaced when the last submit before or at the deadline failed.
	ErrSubmitAfterExpiry = errors.New("time expired; submit again to send your answers")
	// ErrDeadlinePassed rejects answer edits once the time limit is reached.
	ErrDeadlinePassed = errors.New("time is up; answers can no longer be changed")
	// ErrResultUnavailable marks a submitted attempt whose result the server did not return.
	ErrResultUnavailable = errors.New("attempt already submitted; result unavailable")
)

// APIError is a non-2xx response from the quiz API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// Fatal reports whether the attempt can no longer be submitted from this client.
func (e *APIError) Fatal() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}
