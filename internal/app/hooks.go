package app

import (
	"context"
	"errors"
	"time"

	"assessment-engine/internal/domain"
	"github.com/sirupsen/logrus"
)

const releaseTimeout = 5 * time.Second

// Achievement types re-evaluated per learning event.
var (
	LessonEventTypes = []domain.AchievementType{
		domain.AchievementLessonCount,
		domain.AchievementModuleCount,
		domain.AchievementCourseCount,
		domain.AchievementTotalHours,
		domain.AchievementWeeklyStreak,
	}
	BookingEventTypes = []domain.AchievementType{
		domain.AchievementBookingsAttended,
		domain.AchievementTotalHours,
		domain.AchievementWeeklyStreak,
	}
	QuizEventTypes = []domain.AchievementType{
		domain.AchievementBestQuizScore,
		domain.AchievementWeeklyStreak,
	}
	ExamEventTypes = []domain.AchievementType{
		domain.AchievementWeeklyStreak,
	}
)

// Hooks are the fire-and-forget entry points called by collaborator workflows.
// Each returns as soon as the work is handed to the dispatcher.
type Hooks struct {
	dispatcher   *Dispatcher
	achievements *AchievementService
	certificates *CertificateIssuer
	guard        EventGuard
	log          logrus.FieldLogger
}

func NewHooks(dispatcher *Dispatcher, achievements *AchievementService, certificates *CertificateIssuer, guard EventGuard, log logrus.FieldLogger) *Hooks {
	return &Hooks{
		dispatcher:   dispatcher,
		achievements: achievements,
		certificates: certificates,
		guard:        guard,
		log:          log,
	}
}

// LessonCompleted evaluates lesson-driven challenges and completion certificates.
func (h *Hooks) LessonCompleted(userID, lessonID string) bool {
	fields := logrus.Fields{"user_id": userID, "lesson_id": lessonID}
	return h.submit("lesson_completed", "lesson:"+userID+":"+lessonID, fields, func(ctx context.Context) error {
		evalErr := h.achievements.Evaluate(ctx, userID, LessonEventTypes)
		_, err := h.certificates.IssueForLessonCompletion(ctx, userID, lessonID)
		return errors.Join(evalErr, err)
	})
}

// BookingConfirmed evaluates attendance and hours for every participant of the booking.
func (h *Hooks) BookingConfirmed(bookingID string, userIDs ...string) bool {
	ok := true
	for _, userID := range userIDs {
		userID := userID
		fields := logrus.Fields{"user_id": userID, "booking_id": bookingID}
		ok = h.submit("booking_confirmed", "booking:"+bookingID+":"+userID, fields, func(ctx context.Context) error {
			return h.achievements.Evaluate(ctx, userID, BookingEventTypes)
		}) && ok
	}
	return ok
}

// QuizSubmitted evaluates quiz-score challenges.
func (h *Hooks) QuizSubmitted(userID, quizAttemptID string) bool {
	fields := logrus.Fields{"user_id": userID, "quiz_attempt_id": quizAttemptID}
	return h.submit("quiz_submitted", "quiz:"+userID+":"+quizAttemptID, fields, func(ctx context.Context) error {
		return h.achievements.Evaluate(ctx, userID, QuizEventTypes)
	})
}

// ExamSubmitted issues the exam certificate when the score passes and counts the streak.
func (h *Hooks) ExamSubmitted(userID, attemptID string, scope domain.Scope, score float64) {
	fields := logrus.Fields{"user_id": userID, "attempt_id": attemptID, "scope": scope.String(), "score": score}
	h.submit("exam_submitted", "exam:"+attemptID, fields, func(ctx context.Context) error {
		evalErr := h.achievements.Evaluate(ctx, userID, ExamEventTypes)
		_, err := h.certificates.IssueForExam(ctx, userID, scope, score)
		return errors.Join(evalErr, err)
	})
}

func (h *Hooks) submit(name, eventKey string, fields logrus.Fields, run func(ctx context.Context) error) bool {
	return h.dispatcher.Submit(Task{
		Name:   name,
		Fields: fields,
		Run: func(ctx context.Context) (err error) {
			if h.guard == nil {
				return run(ctx)
			}
			first, gerr := h.guard.FirstDelivery(ctx, eventKey)
			if gerr != nil {
				h.log.WithFields(fields).WithError(gerr).Warn("event guard unavailable")
				return run(ctx)
			}
			if !first {
				h.log.WithFields(fields).Debug("duplicate event skipped")
				return nil
			}
			// A failed run gives the key back so the next delivery is evaluated.
			defer func() {
				if r := recover(); r != nil {
					h.release(eventKey, fields)
					panic(r)
				}
				if err != nil {
					h.release(eventKey, fields)
				}
			}()
			return run(ctx)
		},
	})
}

// release runs on its own context since the task context may already be done.
func (h *Hooks) release(eventKey string, fields logrus.Fields) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := h.guard.Release(ctx, eventKey); err != nil {
		h.log.WithFields(fields).WithError(err).Warn("event guard release failed")
	}
}
