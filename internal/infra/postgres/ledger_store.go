package postgres

import (
	"context"
	"fmt"
	"time"

	"assessment-engine/internal/domain"
	"github.com/uptrace/bun"
)

type achievementRow struct {
	bun.BaseModel `bun:"table:user_achievements,alias:ua"`

	UserID         string `bun:"user_id,pk"`
	TotalPoints    int    `bun:"total_points,notnull"`
	CurrentStreak  int    `bun:"current_streak,notnull"`
	LongestStreak  int    `bun:"longest_streak,notnull"`
	LastActiveWeek string `bun:"last_active_week,notnull"`
}

func (r achievementRow) toDomain() domain.AchievementState {
	return domain.AchievementState{
		UserID:         r.UserID,
		TotalPoints:    r.TotalPoints,
		CurrentStreak:  r.CurrentStreak,
		LongestStreak:  r.LongestStreak,
		LastActiveWeek: r.LastActiveWeek,
	}
}

type challengeRow struct {
	bun.BaseModel `bun:"table:challenges,alias:c"`

	ID     string `bun:"id,pk"`
	Type   string `bun:"type,notnull"`
	Target int    `bun:"target,notnull"`
	Points int    `bun:"points,notnull"`
	Active bool   `bun:"active,notnull"`
}

type progressRow struct {
	bun.BaseModel `bun:"table:user_challenge_progress,alias:p"`

	UserID        string     `bun:"user_id,pk"`
	ChallengeID   string     `bun:"challenge_id,pk"`
	Progress      int        `bun:"progress,notnull"`
	Completed     bool       `bun:"completed,notnull"`
	CompletedAt   *time.Time `bun:"completed_at"`
	AwardedPoints int        `bun:"awarded_points,notnull"`
}

func (r progressRow) toDomain() domain.ChallengeProgress {
	return domain.ChallengeProgress{
		UserID:        r.UserID,
		ChallengeID:   r.ChallengeID,
		Progress:      r.Progress,
		Completed:     r.Completed,
		CompletedAt:   r.CompletedAt,
		AwardedPoints: r.AwardedPoints,
	}
}

type redemptionRow struct {
	bun.BaseModel `bun:"table:redemptions,alias:r"`

	ID         string    `bun:"id,pk"`
	UserID     string    `bun:"user_id,notnull"`
	ItemName   string    `bun:"item_name,notnull"`
	PointCost  int       `bun:"point_cost,notnull"`
	RedeemedAt time.Time `bun:"redeemed_at,notnull"`
}

// LedgerStore keeps points, streaks, challenge progress and redemptions. Every
// read-check-write is a single conditional statement or runs in one transaction.
type LedgerStore struct {
	db *bun.DB
}

func NewLedgerStore(db *bun.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) State(ctx context.Context, userID string) (domain.AchievementState, error) {
	return s.state(ctx, s.db, userID)
}

func (s *LedgerStore) state(ctx context.Context, db bun.IDB, userID string) (domain.AchievementState, error) {
	var row achievementRow
	err := db.NewSelect().Model(&row).Where("ua.user_id = ?", userID).Scan(ctx)
	if isNoRows(err) {
		return domain.AchievementState{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.AchievementState{}, fmt.Errorf("load achievements: %w", err)
	}
	return row.toDomain(), nil
}

// AdvanceStreak locks the user's row and applies domain.NextStreak.
func (s *LedgerStore) AdvanceStreak(ctx context.Context, userID, week, prevWeek string) (domain.AchievementState, error) {
	var next domain.AchievementState
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureUser(ctx, tx, userID); err != nil {
			return err
		}
		var row achievementRow
		if err := tx.NewSelect().Model(&row).Where("ua.user_id = ?", userID).For("UPDATE").Scan(ctx); err != nil {
			return err
		}
		var changed bool
		next, changed = domain.NextStreak(row.toDomain(), week, prevWeek)
		if !changed {
			return nil
		}
		_, err := tx.NewUpdate().
			Model((*achievementRow)(nil)).
			Set("current_streak = ?", next.CurrentStreak).
			Set("longest_streak = ?", next.LongestStreak).
			Set("last_active_week = ?", next.LastActiveWeek).
			Where("user_id = ?", userID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return domain.AchievementState{}, fmt.Errorf("advance streak: %w", err)
	}
	return next, nil
}

func (s *LedgerStore) ActiveChallenges(ctx context.Context, types []domain.AchievementType) ([]domain.Challenge, error) {
	if len(types) == 0 {
		return nil, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	var rows []challengeRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("c.active").
		Where("c.type IN (?)", bun.In(names)).
		OrderExpr("c.id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}
	out := make([]domain.Challenge, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Challenge{
			ID:     r.ID,
			Type:   domain.AchievementType(r.Type),
			Target: r.Target,
			Points: r.Points,
			Active: r.Active,
		})
	}
	return out, nil
}

func (s *LedgerStore) PutChallenge(ctx context.Context, challenge domain.Challenge) error {
	row := challengeRow{
		ID:     challenge.ID,
		Type:   string(challenge.Type),
		Target: challenge.Target,
		Points: challenge.Points,
		Active: challenge.Active,
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("type = EXCLUDED.type").
		Set("target = EXCLUDED.target").
		Set("points = EXCLUDED.points").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

func (s *LedgerStore) ChallengeProgress(ctx context.Context, userID, challengeID string) (domain.ChallengeProgress, bool, error) {
	var row progressRow
	err := s.db.NewSelect().
		Model(&row).
		Where("p.user_id = ?", userID).
		Where("p.challenge_id = ?", challengeID).
		Scan(ctx)
	if isNoRows(err) {
		return domain.ChallengeProgress{}, false, nil
	}
	if err != nil {
		return domain.ChallengeProgress{}, false, fmt.Errorf("load progress: %w", err)
	}
	return row.toDomain(), true, nil
}

const upsertProgressSQL = `
INSERT INTO user_challenge_progress AS p (user_id, challenge_id, progress, completed, completed_at, awarded_points)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, challenge_id) DO UPDATE
SET progress = EXCLUDED.progress,
    completed = EXCLUDED.completed,
    completed_at = EXCLUDED.completed_at,
    awarded_points = EXCLUDED.awarded_points
WHERE p.completed = FALSE
RETURNING p.completed`

const creditPointsSQL = `
INSERT INTO user_achievements (user_id, total_points) VALUES (?, ?)
ON CONFLICT (user_id) DO UPDATE SET total_points = user_achievements.total_points + EXCLUDED.total_points
RETURNING total_points`

// RecordProgress upserts progress unless the row is already completed. When the
// write completes the challenge, points are credited in the same transaction and the
// balance after the credit is returned.
func (s *LedgerStore) RecordProgress(ctx context.Context, userID string, challenge domain.Challenge, progress int, now time.Time) (bool, int, error) {
	completed := progress >= challenge.Target
	var (
		completedAt *time.Time
		awarded     int
	)
	if completed {
		completedAt = &now
		awarded = challenge.Points
	}

	var (
		transitioned bool
		total        int
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var stored bool
		err := tx.QueryRowContext(ctx, upsertProgressSQL,
			userID, challenge.ID, progress, completed, completedAt, awarded,
		).Scan(&stored)
		if isNoRows(err) {
			// already completed by an earlier write
			return nil
		}
		if err != nil {
			return err
		}
		if !stored {
			return nil
		}
		if err := tx.QueryRowContext(ctx, creditPointsSQL, userID, challenge.Points).Scan(&total); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("record progress: %w", err)
	}
	return transitioned, total, nil
}

func (s *LedgerStore) ListProgress(ctx context.Context, userID string) ([]domain.ChallengeProgress, error) {
	var rows []progressRow
	if err := s.db.NewSelect().Model(&rows).Where("p.user_id = ?", userID).OrderExpr("p.challenge_id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make([]domain.ChallengeProgress, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Redeem debits with a guarded update and records the redemption in the same
// transaction; the balance can never go below zero.
func (s *LedgerStore) Redeem(ctx context.Context, r domain.Redemption) (domain.AchievementState, error) {
	var state domain.AchievementState
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row achievementRow
		err := tx.NewUpdate().
			Model(&row).
			Set("total_points = total_points - ?", r.PointCost).
			Where("user_id = ?", r.UserID).
			Where("total_points >= ?", r.PointCost).
			Returning("*").
			Scan(ctx)
		if isNoRows(err) {
			current, err := s.state(ctx, tx, r.UserID)
			if err != nil {
				return err
			}
			return &domain.InsufficientPointsError{Current: current.TotalPoints, Required: r.PointCost}
		}
		if err != nil {
			return err
		}
		state = row.toDomain()

		redemption := redemptionRow{
			ID:         r.ID,
			UserID:     r.UserID,
			ItemName:   r.ItemName,
			PointCost:  r.PointCost,
			RedeemedAt: r.RedeemedAt,
		}
		_, err = tx.NewInsert().Model(&redemption).Exec(ctx)
		return err
	})
	if err != nil {
		return domain.AchievementState{}, err
	}
	return state, nil
}

func (s *LedgerStore) ListRedemptions(ctx context.Context, userID string) ([]domain.Redemption, error) {
	var rows []redemptionRow
	if err := s.db.NewSelect().Model(&rows).Where("r.user_id = ?", userID).OrderExpr("r.redeemed_at").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	out := make([]domain.Redemption, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Redemption{
			ID:         row.ID,
			UserID:     row.UserID,
			ItemName:   row.ItemName,
			PointCost:  row.PointCost,
			RedeemedAt: row.RedeemedAt,
		})
	}
	return out, nil
}

// SeedUser creates or replaces a user's counters.
func (s *LedgerStore) SeedUser(ctx context.Context, state domain.AchievementState) error {
	row := achievementRow{
		UserID:         state.UserID,
		TotalPoints:    state.TotalPoints,
		CurrentStreak:  state.CurrentStreak,
		LongestStreak:  state.LongestStreak,
		LastActiveWeek: state.LastActiveWeek,
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("total_points = EXCLUDED.total_points").
		Set("current_streak = EXCLUDED.current_streak").
		Set("longest_streak = EXCLUDED.longest_streak").
		Set("last_active_week = EXCLUDED.last_active_week").
		Exec(ctx)
	return err
}

func ensureUser(ctx context.Context, db bun.IDB, userID string) error {
	_, err := db.NewInsert().
		Model(&achievementRow{UserID: userID}).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	return err
}
