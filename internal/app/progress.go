package app

import (
	"context"
	"errors"
	"math"
	"time"

	"assessment-engine/internal/domain"
)

type progressFunc func(ctx context.Context, userID string) (int, error)

// ProgressSources bundles the read-side collaborators progress is computed from.
type ProgressSources struct {
	Structure CourseStructure
	Lessons   LessonProgress
	Bookings  BookingProvider
	Quizzes   QuizScores
	Ledger    LedgerStore
}

// ProgressEvaluator computes a user's current value for each achievement type.
type ProgressEvaluator struct {
	src              ProgressSources
	videoLessonHours float64
	now              func() time.Time
	table            map[domain.AchievementType]progressFunc
}

func NewProgressEvaluator(src ProgressSources, videoLessonHours float64) *ProgressEvaluator {
	p := &ProgressEvaluator{src: src, videoLessonHours: videoLessonHours, now: time.Now}
	p.table = map[domain.AchievementType]progressFunc{
		domain.AchievementLessonCount:      p.lessonCount,
		domain.AchievementModuleCount:      p.moduleCount,
		domain.AchievementCourseCount:      p.courseCount,
		domain.AchievementBestQuizScore:    p.bestQuizScore,
		domain.AchievementBookingsAttended: p.bookingsAttended,
		domain.AchievementWeeklyStreak:     p.weeklyStreak,
		domain.AchievementTotalHours:       p.totalHours,
	}
	return p
}

// WithClock swaps the clock used to decide which bookings have ended.
func (p *ProgressEvaluator) WithClock(now func() time.Time) *ProgressEvaluator {
	p.now = now
	return p
}

// ComputeProgress dispatches on the achievement type.
func (p *ProgressEvaluator) ComputeProgress(ctx context.Context, userID string, t domain.AchievementType) (int, error) {
	fn, ok := p.table[t]
	if !ok {
		return 0, domain.InvalidInputf("unknown achievement type %q", t)
	}
	return fn(ctx, userID)
}

func (p *ProgressEvaluator) lessonCount(ctx context.Context, userID string) (int, error) {
	ids, err := p.src.Lessons.CompletedLessonIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (p *ProgressEvaluator) moduleCount(ctx context.Context, userID string) (int, error) {
	done, trees, err := p.completedTrees(ctx, userID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	count := 0
	for _, course := range trees {
		for _, m := range course.Modules {
			if _, ok := seen[m.ModuleID]; ok {
				continue
			}
			seen[m.ModuleID] = struct{}{}
			if allCompleted(m.LessonIDs, done) {
				count++
			}
		}
	}
	return count, nil
}

func (p *ProgressEvaluator) courseCount(ctx context.Context, userID string) (int, error) {
	done, trees, err := p.completedTrees(ctx, userID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	count := 0
	for _, course := range trees {
		if _, ok := seen[course.CourseID]; ok {
			continue
		}
		seen[course.CourseID] = struct{}{}
		if allCompleted(course.LessonIDs(), done) {
			count++
		}
	}
	return count, nil
}

func (p *ProgressEvaluator) bestQuizScore(ctx context.Context, userID string) (int, error) {
	best, ok, err := p.src.Quizzes.BestQuizScore(ctx, userID)
	if err != nil || !ok {
		return 0, err
	}
	return int(math.Round(best)), nil
}

func (p *ProgressEvaluator) bookingsAttended(ctx context.Context, userID string) (int, error) {
	ended, err := p.endedBookings(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(ended), nil
}

func (p *ProgressEvaluator) weeklyStreak(ctx context.Context, userID string) (int, error) {
	state, err := p.src.Ledger.State(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return state.CurrentStreak, nil
}

func (p *ProgressEvaluator) totalHours(ctx context.Context, userID string) (int, error) {
	ended, err := p.endedBookings(ctx, userID)
	if err != nil {
		return 0, err
	}
	videos, err := p.src.Lessons.CompletedVideoLessons(ctx, userID)
	if err != nil {
		return 0, err
	}
	hours := float64(videos) * p.videoLessonHours
	for _, b := range ended {
		hours += b.EndsAt.Sub(b.StartsAt).Hours()
	}
	return int(math.Floor(hours)), nil
}

func (p *ProgressEvaluator) endedBookings(ctx context.Context, userID string) ([]domain.Booking, error) {
	bookings, err := p.src.Bookings.ConfirmedBookings(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	var ended []domain.Booking
	for _, b := range bookings {
		if !b.EndsAt.After(now) {
			ended = append(ended, b)
		}
	}
	return ended, nil
}

func (p *ProgressEvaluator) completedTrees(ctx context.Context, userID string) (map[string]struct{}, []domain.CourseTree, error) {
	ids, err := p.src.Lessons.CompletedLessonIDs(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	if len(ids) == 0 {
		return done, nil, nil
	}
	trees, err := p.src.Structure.CourseTrees(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return done, trees, nil
}

// allCompleted is false for empty lesson lists.
func allCompleted(lessonIDs []string, done map[string]struct{}) bool {
	if len(lessonIDs) == 0 {
		return false
	}
	for _, id := range lessonIDs {
		if _, ok := done[id]; !ok {
			return false
		}
	}
	return true
}
