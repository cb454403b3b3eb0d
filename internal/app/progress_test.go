package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"assessment-engine/internal/domain"
)

func TestLessonModuleAndCourseCounts(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	e.catalog.AddCourse(domain.CourseTree{
		CourseID: "course-2",
		Modules: []domain.ModuleTree{
			{ModuleID: "empty"},
			{ModuleID: "module-3", LessonIDs: []string{"l7", "l8"}},
		},
	})

	expect := func(typ domain.AchievementType, want int) {
		t.Helper()
		got, err := e.progress.ComputeProgress(ctx, "u1", typ)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if got != want {
			t.Fatalf("%s: expected %d, got %d", typ, want, got)
		}
	}

	expect(domain.AchievementLessonCount, 0)
	expect(domain.AchievementModuleCount, 0)

	for _, l := range []string{"l1", "l2", "l3", "l4", "l7"} {
		e.catalog.CompleteLesson("u1", l)
	}
	expect(domain.AchievementLessonCount, 5)
	expect(domain.AchievementModuleCount, 1)
	expect(domain.AchievementCourseCount, 0)

	for _, l := range []string{"l5", "l6", "l8"} {
		e.catalog.CompleteLesson("u1", l)
	}
	expect(domain.AchievementModuleCount, 3)
	expect(domain.AchievementCourseCount, 2)
}

func TestBestQuizScoreRounds(t *testing.T) {
	ctx := context.Background()
	e := newEngine()

	got, err := e.progress.ComputeProgress(ctx, "u1", domain.AchievementBestQuizScore)
	if err != nil || got != 0 {
		t.Fatalf("expected 0 without quizzes, got %d (%v)", got, err)
	}
	e.catalog.RecordQuizScore("u1", 79.4)
	e.catalog.RecordQuizScore("u1", 91.6)
	e.catalog.RecordQuizScore("u1", 60)
	got, _ = e.progress.ComputeProgress(ctx, "u1", domain.AchievementBestQuizScore)
	if got != 92 {
		t.Fatalf("expected 92, got %d", got)
	}
}

func TestBookingsAndHours(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	e.catalog.AddBooking(domain.Booking{ID: "b1", StudentID: "u1", TeacherID: "t1", StartsAt: fixedNow.Add(-2 * time.Hour), EndsAt: fixedNow.Add(-30 * time.Minute)})
	e.catalog.AddBooking(domain.Booking{ID: "b2", StudentID: "s2", TeacherID: "u1", StartsAt: fixedNow.Add(-26 * time.Hour), EndsAt: fixedNow.Add(-24 * time.Hour)})
	e.catalog.AddBooking(domain.Booking{ID: "b3", StudentID: "u1", TeacherID: "t1", StartsAt: fixedNow.Add(time.Hour), EndsAt: fixedNow.Add(2 * time.Hour)})
	e.catalog.SetLessonKind("l1", "video")
	e.catalog.SetLessonKind("l2", "video")
	e.catalog.CompleteLesson("u1", "l1")
	e.catalog.CompleteLesson("u1", "l2")
	e.catalog.CompleteLesson("u1", "l3")

	attended, err := e.progress.ComputeProgress(ctx, "u1", domain.AchievementBookingsAttended)
	if err != nil || attended != 2 {
		t.Fatalf("expected 2 ended bookings, got %d (%v)", attended, err)
	}
	// 1.5h + 2h of bookings plus two half-hour videos.
	hours, err := e.progress.ComputeProgress(ctx, "u1", domain.AchievementTotalHours)
	if err != nil || hours != 4 {
		t.Fatalf("expected 4 hours, got %d (%v)", hours, err)
	}
}

func TestWeeklyStreakProgress(t *testing.T) {
	ctx := context.Background()
	e := newEngine()

	got, err := e.progress.ComputeProgress(ctx, "u1", domain.AchievementWeeklyStreak)
	if err != nil || got != 0 {
		t.Fatalf("unknown user must have streak 0, got %d (%v)", got, err)
	}
	if _, err := e.achievements.UpdateStreak(ctx, "u1"); err != nil {
		t.Fatalf("streak: %v", err)
	}
	got, _ = e.progress.ComputeProgress(ctx, "u1", domain.AchievementWeeklyStreak)
	if got != 1 {
		t.Fatalf("expected streak 1, got %d", got)
	}
}

func TestUnknownAchievementType(t *testing.T) {
	e := newEngine()
	if _, err := e.progress.ComputeProgress(context.Background(), "u1", "karma"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected input error, got %v", err)
	}
}
