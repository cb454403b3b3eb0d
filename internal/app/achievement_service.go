package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assessment-engine/internal/domain"
	"assessment-engine/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProgressComputer computes the current progress value of one achievement type.
type ProgressComputer interface {
	ComputeProgress(ctx context.Context, userID string, t domain.AchievementType) (int, error)
}

// Overview is a user's gamification state.
type Overview struct {
	State       domain.AchievementState    `json:"state"`
	Progress    []domain.ChallengeProgress `json:"progress"`
	Redemptions []domain.Redemption        `json:"redemptions"`
}

// AchievementService maintains streaks, challenge completion and points.
type AchievementService struct {
	ledger   LedgerStore
	progress ProgressComputer
	notifier Notifier
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewAchievementService(ledger LedgerStore, progress ProgressComputer, notifier Notifier, log logrus.FieldLogger, m *metrics.Metrics) *AchievementService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &AchievementService{
		ledger:   ledger,
		progress: progress,
		notifier: notifier,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock swaps the clock used for ISO weeks and timestamps.
func (s *AchievementService) WithClock(now func() time.Time) *AchievementService {
	s.now = now
	return s
}

// UpdateStreak counts the current ISO week as active for userID.
func (s *AchievementService) UpdateStreak(ctx context.Context, userID string) (domain.AchievementState, error) {
	now := s.now()
	return s.ledger.AdvanceStreak(ctx, userID, domain.ISOWeek(now), domain.PreviousISOWeek(now))
}

// EvaluateAndAward recomputes progress for the active challenges of the given types and
// awards newly completed ones exactly once. Failures are logged, never returned.
func (s *AchievementService) EvaluateAndAward(ctx context.Context, userID string, types []domain.AchievementType) {
	_ = s.Evaluate(ctx, userID, types)
}

// Evaluate is EvaluateAndAward that also reports the joined failures, for callers that retry.
func (s *AchievementService) Evaluate(ctx context.Context, userID string, types []domain.AchievementType) error {
	log := s.log.WithField("user_id", userID)
	var errs []error

	if _, err := s.UpdateStreak(ctx, userID); err != nil {
		log.WithError(err).Error("update streak failed")
		errs = append(errs, err)
	}

	challenges, err := s.ledger.ActiveChallenges(ctx, types)
	if err != nil {
		log.WithError(err).Error("load active challenges failed")
		return errors.Join(append(errs, err)...)
	}

	for _, ch := range challenges {
		if err := s.evaluateChallenge(ctx, userID, ch); err != nil {
			log.WithFields(logrus.Fields{
				"challenge_id": ch.ID,
				"type":         ch.Type,
			}).WithError(err).Error("challenge evaluation failed")
			errs = append(errs, fmt.Errorf("challenge %s: %w", ch.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *AchievementService) evaluateChallenge(ctx context.Context, userID string, ch domain.Challenge) error {
	existing, found, err := s.ledger.ChallengeProgress(ctx, userID, ch.ID)
	if err != nil {
		return err
	}
	if found && existing.Completed {
		return nil
	}

	progress, err := s.progress.ComputeProgress(ctx, userID, ch.Type)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	transitioned, total, err := s.ledger.RecordProgress(ctx, userID, ch, progress, now)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	s.metrics.ChallengesCompleted.WithLabelValues(string(ch.Type)).Inc()
	s.metrics.PointsAwarded.Add(float64(ch.Points))

	notice := AwardNotice{
		Kind:        NoticeChallengeCompleted,
		UserID:      userID,
		ChallengeID: ch.ID,
		Points:      ch.Points,
		TotalPoints: total,
		At:          now,
	}
	s.notifier.Publish(notice)
	s.log.WithFields(logrus.Fields{
		"user_id":      userID,
		"challenge_id": ch.ID,
		"points":       ch.Points,
	}).Info("challenge completed")
	return nil
}

// RedeemPoints spends cost points on itemName.
func (s *AchievementService) RedeemPoints(ctx context.Context, userID, itemName string, cost int) (domain.Redemption, domain.AchievementState, error) {
	if userID == "" || itemName == "" {
		return domain.Redemption{}, domain.AchievementState{}, domain.InvalidInputf("userId and itemName are required")
	}
	if cost <= 0 {
		return domain.Redemption{}, domain.AchievementState{}, domain.InvalidInputf("cost must be positive")
	}

	redemption := domain.Redemption{
		ID:         uuid.NewString(),
		UserID:     userID,
		ItemName:   itemName,
		PointCost:  cost,
		RedeemedAt: s.now().UTC(),
	}
	state, err := s.ledger.Redeem(ctx, redemption)
	if err != nil {
		return domain.Redemption{}, domain.AchievementState{}, err
	}
	s.metrics.PointsRedeemed.Add(float64(cost))
	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"item":    itemName,
		"cost":    cost,
	}).Info("points redeemed")
	return redemption, state, nil
}

// Overview collects state, challenge progress and redemptions for userID.
func (s *AchievementService) Overview(ctx context.Context, userID string) (Overview, error) {
	state, err := s.ledger.State(ctx, userID)
	if err != nil {
		return Overview{}, err
	}
	progress, err := s.ledger.ListProgress(ctx, userID)
	if err != nil {
		return Overview{}, err
	}
	redemptions, err := s.ledger.ListRedemptions(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return Overview{}, err
	}
	return Overview{State: state, Progress: progress, Redemptions: redemptions}, nil
}
