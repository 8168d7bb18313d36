package apiserver

import "quiz-attempt-engine/internal/domain"

// SampleQuizzes seeds the API when no database is configured: one quiz
// graded from its questions, one that ships an exam file, and one with
// neither.
func SampleQuizzes() map[string]domain.QuizDefinition {
	return map[string]domain.QuizDefinition{
		"go-basics": {
			Quiz: domain.Quiz{
				ID:               "go-basics",
				Title:            "Go basics",
				TimeLimitMinutes: 10,
				PassingScore:     60,
				Questions: []domain.Question{
					{ID: "q1", Prompt: "Which keyword starts a goroutine?", Kind: domain.KindMultipleChoice, Options: []string{"go", "async", "spawn"}, Points: 1},
					{ID: "q2", Prompt: "A nil map can be read from.", Kind: domain.KindTrueFalse, Points: 1},
					{ID: "q3", Prompt: "Which type closes over a ticker?", Kind: domain.KindMultipleChoice, Options: []string{"time.Ticker", "time.Timer", "time.Duration"}, Points: 2},
				},
			},
			AnswerKey: map[string]string{"q1": "go", "q2": "true", "q3": "time.Ticker"},
		},
		"essay-exam": {
			Quiz: domain.Quiz{
				ID:               "essay-exam",
				Title:            "Written exam",
				TimeLimitMinutes: 45,
				PassingScore:     50,
				Attachment:       "quizzes/essay-exam/exam.pdf",
			},
		},
		"empty": {
			Quiz: domain.Quiz{ID: "empty", Title: "Placeholder", TimeLimitMinutes: 5},
		},
	}
}
