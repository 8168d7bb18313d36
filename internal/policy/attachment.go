// Package policy decides whether a submission must, or must not, carry a file.
package policy

import "quiz-attempt-engine/internal/domain"

// Requirement is the upload rule for a quiz.
type Requirement int

const (
	Forbidden Requirement = iota
	Required
)

func (r Requirement) String() string {
	if r == Required {
		return "required"
	}
	return "forbidden"
}

// Decision is the classification plus an optional warning for the UI.
type Decision struct {
	Requirement Requirement
	Warning     string
}

// WarningNoGradableSurface is set when a quiz has neither questions nor a file.
const WarningNoGradableSurface = "quiz has no questions and no exam file"

// Classify is a pure function of the quiz metadata.
//
// An exam file means the student answers by uploading a file, so uploads are
// required. Otherwise the interactive questions are graded and uploads are
// rejected. A quiz with neither is treated as forbidden with a warning.
func Classify(q domain.Quiz) Decision {
	if q.HasAttachment() {
		return Decision{Requirement: Required}
	}
	if len(q.Questions) == 0 {
		return Decision{Requirement: Forbidden, Warning: WarningNoGradableSurface}
	}
	return Decision{Requirement: Forbidden}
}

// AllowsUpload reports whether the upload control should be offered.
func (d Decision) AllowsUpload() bool {
	return d.Requirement == Required
}

// Check validates a staged attachment against the decision for a manual submit.
func (d Decision) Check(hasAttachment bool) error {
	if d.Requirement == Required && !hasAttachment {
		return domain.ErrAttachmentRequired
	}
	return nil
}
