package policy

import (
	"errors"
	"testing"

	"quiz-attempt-engine/internal/domain"
)

func TestClassify(t *testing.T) {
	questions := []domain.Question{
		{ID: "q1", Kind: domain.KindTrueFalse, Points: 1},
		{ID: "q2", Kind: domain.KindTrueFalse, Points: 1},
		{ID: "q3", Kind: domain.KindTrueFalse, Points: 1},
	}
	cases := []struct {
		name    string
		quiz    domain.Quiz
		want    Requirement
		warning bool
	}{
		{"file only", domain.Quiz{ID: "a", Attachment: "exam.pdf"}, Required, false},
		{"file and questions", domain.Quiz{ID: "b", Attachment: "exam.pdf", Questions: questions}, Required, false},
		{"questions only", domain.Quiz{ID: "c", Questions: questions}, Forbidden, false},
		{"empty", domain.Quiz{ID: "d"}, Forbidden, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.quiz)
			if got.Requirement != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Requirement)
			}
			if (got.Warning != "") != tc.warning {
				t.Fatalf("unexpected warning %q", got.Warning)
			}
			if got.AllowsUpload() != (tc.want == Required) {
				t.Fatalf("upload offered mismatch for %s", tc.want)
			}
		})
	}
}

func TestCheckBlocksMissingRequiredFile(t *testing.T) {
	required := Decision{Requirement: Required}
	if err := required.Check(false); !errors.Is(err, domain.ErrAttachmentRequired) {
		t.Fatalf("expected attachment required, got %v", err)
	}
	if err := required.Check(true); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := (Decision{Requirement: Forbidden}).Check(false); err != nil {
		t.Fatalf("expected nil for forbidden, got %v", err)
	}
}
