package apiserver

import (
	"math"

	"quiz-attempt-engine/internal/domain"
)

// Grade scores answers against the answer key. Each question is all or
// nothing; the score is a percentage of available points. Submissions that
// carry a file, or quizzes flagged for manual review, are left for an
// instructor.
func Grade(def domain.QuizDefinition, answers domain.AnswerSet, hasFile bool) domain.SubmissionResult {
	if hasFile || def.ManualReview {
		return domain.SubmissionResult{Status: domain.ResultPendingReview}
	}

	var earned, total int
	for _, q := range def.Quiz.Questions {
		points := q.Points
		if points <= 0 {
			points = 1
		}
		total += points
		if key, ok := def.AnswerKey[q.ID]; ok && answers[q.ID] == key {
			earned += points
		}
	}

	score := 0.0
	if total > 0 {
		score = math.Round(float64(earned)/float64(total)*10000) / 100
	}
	passed := score >= def.Quiz.PassingScore
	return domain.SubmissionResult{
		Status: domain.ResultCompleted,
		Score:  &score,
		Passed: &passed,
	}
}
