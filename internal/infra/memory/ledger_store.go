package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"assessment-engine/internal/domain"
)

type progressKey struct {
	userID      string
	challengeID string
}

// LedgerStore is an in-memory implementation of app.LedgerStore. A single mutex
// serializes every read-check-write, standing in for the database's row locks.
type LedgerStore struct {
	mu          sync.Mutex
	states      map[string]domain.AchievementState
	challenges  map[string]domain.Challenge
	progress    map[progressKey]domain.ChallengeProgress
	redemptions map[string][]domain.Redemption
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		states:      make(map[string]domain.AchievementState),
		challenges:  make(map[string]domain.Challenge),
		progress:    make(map[progressKey]domain.ChallengeProgress),
		redemptions: make(map[string][]domain.Redemption),
	}
}

// SeedUser creates or replaces a user's counters.
func (s *LedgerStore) SeedUser(state domain.AchievementState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state
}

func (s *LedgerStore) State(_ context.Context, userID string) (domain.AchievementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		return domain.AchievementState{}, domain.ErrUserNotFound
	}
	return state, nil
}

func (s *LedgerStore) AdvanceStreak(_ context.Context, userID, week, prevWeek string) (domain.AchievementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		state = domain.AchievementState{UserID: userID}
	}
	next, _ := domain.NextStreak(state, week, prevWeek)
	s.states[userID] = next
	return next, nil
}

func (s *LedgerStore) PutChallenge(_ context.Context, challenge domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *LedgerStore) ActiveChallenges(_ context.Context, types []domain.AchievementType) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[domain.AchievementType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}
	var out []domain.Challenge
	for _, ch := range s.challenges {
		if _, ok := wanted[ch.Type]; ok && ch.Active {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *LedgerStore) ChallengeProgress(_ context.Context, userID, challengeID string) (domain.ChallengeProgress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressKey{userID, challengeID}]
	return p, ok, nil
}

func (s *LedgerStore) RecordProgress(_ context.Context, userID string, challenge domain.Challenge, progress int, now time.Time) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID, challenge.ID}
	current, ok := s.progress[key]
	if ok && current.Completed {
		return false, 0, nil
	}
	next := domain.ChallengeProgress{UserID: userID, ChallengeID: challenge.ID, Progress: progress}
	if progress < challenge.Target {
		s.progress[key] = next
		return false, 0, nil
	}

	completedAt := now
	next.Completed = true
	next.CompletedAt = &completedAt
	next.AwardedPoints = challenge.Points
	s.progress[key] = next

	state, ok := s.states[userID]
	if !ok {
		state = domain.AchievementState{UserID: userID}
	}
	state.TotalPoints += challenge.Points
	s.states[userID] = state
	return true, state.TotalPoints, nil
}

func (s *LedgerStore) ListProgress(_ context.Context, userID string) ([]domain.ChallengeProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChallengeProgress
	for key, p := range s.progress {
		if key.userID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChallengeID < out[j].ChallengeID })
	return out, nil
}

func (s *LedgerStore) Redeem(_ context.Context, r domain.Redemption) (domain.AchievementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[r.UserID]
	if !ok {
		return domain.AchievementState{}, domain.ErrUserNotFound
	}
	if state.TotalPoints < r.PointCost {
		return domain.AchievementState{}, &domain.InsufficientPointsError{Current: state.TotalPoints, Required: r.PointCost}
	}
	state.TotalPoints -= r.PointCost
	s.states[r.UserID] = state
	s.redemptions[r.UserID] = append(s.redemptions[r.UserID], r)
	return state, nil
}

func (s *LedgerStore) ListRedemptions(_ context.Context, userID string) ([]domain.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Redemption(nil), s.redemptions[userID]...), nil
}
