package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assessment-engine/internal/domain"
	"github.com/uptrace/bun"
)

type attemptRow struct {
	bun.BaseModel `bun:"table:exam_attempts,alias:a"`

	ID               string                   `bun:"id,pk"`
	UserID           string                   `bun:"user_id,notnull"`
	CourseID         *string                  `bun:"course_id"`
	ModuleID         *string                  `bun:"module_id"`
	Questions        []domain.Question        `bun:"questions,type:jsonb,notnull"`
	Answers          []domain.SubmittedAnswer `bun:"answers,type:jsonb"`
	Score            *float64                 `bun:"score"`
	CorrectCount     *int                     `bun:"correct_count"`
	TimeLimitSeconds *int                     `bun:"time_limit_seconds"`
	SingleChoiceLock bool                     `bun:"single_choice_lock,notnull"`
	StartedAt        time.Time                `bun:"started_at,notnull"`
	SubmittedAt      *time.Time               `bun:"submitted_at"`
}

func (r attemptRow) toDomain() domain.ExamAttempt {
	return domain.ExamAttempt{
		ID:               r.ID,
		UserID:           r.UserID,
		Scope:            scopeFromColumns(r.CourseID, r.ModuleID),
		Questions:        r.Questions,
		Answers:          r.Answers,
		Score:            r.Score,
		CorrectCount:     r.CorrectCount,
		TimeLimitSeconds: r.TimeLimitSeconds,
		SingleChoiceLock: r.SingleChoiceLock,
		StartedAt:        r.StartedAt,
		SubmittedAt:      r.SubmittedAt,
	}
}

// AttemptStore keeps exam attempts with their question snapshot as JSONB.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Create(ctx context.Context, attempt domain.ExamAttempt) error {
	courseID, moduleID := scopeColumns(attempt.Scope)
	row := attemptRow{
		ID:               attempt.ID,
		UserID:           attempt.UserID,
		CourseID:         courseID,
		ModuleID:         moduleID,
		Questions:        attempt.Questions,
		TimeLimitSeconds: attempt.TimeLimitSeconds,
		SingleChoiceLock: attempt.SingleChoiceLock,
		StartedAt:        attempt.StartedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.ExamAttempt, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).Where("a.id = ?", attemptID).Scan(ctx)
	if isNoRows(err) {
		return domain.ExamAttempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.ExamAttempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) ListByUser(ctx context.Context, userID string, scope *domain.Scope) ([]domain.ExamAttempt, error) {
	var rows []attemptRow
	q := s.db.NewSelect().Model(&rows).Where("a.user_id = ?", userID).OrderExpr("a.started_at DESC")
	if scope != nil {
		if scope.Kind == domain.ScopeCourse {
			q = q.Where("a.course_id = ?", scope.ID)
		} else {
			q = q.Where("a.module_id = ?", scope.ID)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.ExamAttempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Submit writes the outcome with a conditional update, so of two concurrent
// submissions only the one that still sees submitted_at IS NULL succeeds.
func (s *AttemptStore) Submit(ctx context.Context, attemptID string, answers []domain.SubmittedAnswer, score float64, correct int, at time.Time) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	res, err := s.db.NewUpdate().
		Model((*attemptRow)(nil)).
		Set("answers = ?::jsonb", string(raw)).
		Set("score = ?", score).
		Set("correct_count = ?", correct).
		Set("submitted_at = ?", at).
		Where("id = ?", attemptID).
		Where("submitted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("submit attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	exists, err := s.db.NewSelect().Model((*attemptRow)(nil)).Where("a.id = ?", attemptID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("submit attempt: %w", err)
	}
	if !exists {
		return domain.ErrAttemptNotFound
	}
	return domain.ErrAttemptSubmitted
}
