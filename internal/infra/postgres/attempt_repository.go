package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-engine/internal/domain"
)

// AttemptRepository stores attempts for the reference API. The unique
// (quiz_id, user_id) constraint keeps one attempt per learner.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) Start(ctx context.Context, quizID, userID string, now time.Time) (domain.Attempt, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO attempts (id, quiz_id, user_id, started_at, status)
		VALUES ($1, $2, $3, $4, 'in_progress')
		ON CONFLICT (quiz_id, user_id) DO NOTHING`,
		uuid.NewString(), quizID, userID, now.UTC())
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("insert attempt: %w", err)
	}
	attempt, err := r.Find(ctx, quizID, userID)
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return attempt, tag.RowsAffected() == 1, nil
}

func (r *AttemptRepository) Find(ctx context.Context, quizID, userID string) (domain.Attempt, error) {
	var (
		attempt domain.Attempt
		status  string
		result  []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, quiz_id, started_at, status, result
		FROM attempts WHERE quiz_id=$1 AND user_id=$2`,
		quizID, userID).Scan(&attempt.ID, &attempt.QuizID, &attempt.StartedAt, &status, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("find attempt: %w", err)
	}
	attempt.Status = domain.AttemptStatus(status)
	attempt.StartedAt = attempt.StartedAt.UTC()
	if len(result) > 0 {
		var res domain.SubmissionResult
		if err := json.Unmarshal(result, &res); err != nil {
			return domain.Attempt{}, fmt.Errorf("unmarshal result: %w", err)
		}
		attempt.Result = &res
	}
	return attempt, nil
}

// Complete records the result once. Later calls return the stored result
// with first=false.
func (r *AttemptRepository) Complete(ctx context.Context, attemptID string, result domain.SubmissionResult, at time.Time) (domain.SubmissionResult, bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("marshal result: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE attempts SET status='submitted', result=$2::jsonb, submitted_at=$3
		WHERE id=$1::uuid AND status <> 'submitted'`,
		attemptID, string(data), at.UTC())
	if err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("complete attempt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return result, true, nil
	}

	var stored []byte
	err = r.pool.QueryRow(ctx, `SELECT result FROM attempts WHERE id=$1::uuid`, attemptID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubmissionResult{}, false, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("load result: %w", err)
	}
	var res domain.SubmissionResult
	if err := json.Unmarshal(stored, &res); err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return res, false, nil
}
