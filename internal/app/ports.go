package app

import (
	"context"
	"time"

	"assessment-engine/internal/domain"
)

// QuestionBank lists the live questions (with answers) of a course or module.
// Unknown scopes return domain.ErrScopeNotFound.
type QuestionBank interface {
	Questions(ctx context.Context, scope domain.Scope) ([]domain.Question, error)
	// Invalidate drops any cached copy of scope's bank after it was edited.
	Invalidate(ctx context.Context, scope domain.Scope) error
}

// AttemptStore persists exam attempts.
type AttemptStore interface {
	Create(ctx context.Context, attempt domain.ExamAttempt) error
	Get(ctx context.Context, attemptID string) (domain.ExamAttempt, error)
	ListByUser(ctx context.Context, userID string, scope *domain.Scope) ([]domain.ExamAttempt, error)
	// Submit stores the outcome only while the attempt is still in progress and
	// returns domain.ErrAttemptSubmitted otherwise. The check and the write are one step.
	Submit(ctx context.Context, attemptID string, answers []domain.SubmittedAnswer, score float64, correct int, at time.Time) error
}

// CourseStructure resolves the lesson/module/course hierarchy.
type CourseStructure interface {
	LessonContext(ctx context.Context, lessonID string) (domain.LessonContext, error)
	// CourseTrees returns the full tree of every course owning at least one of lessonIDs.
	CourseTrees(ctx context.Context, lessonIDs []string) ([]domain.CourseTree, error)
}

// LessonProgress reads completed-lesson records.
type LessonProgress interface {
	CompletedLessonIDs(ctx context.Context, userID string) ([]string, error)
	CountCompleted(ctx context.Context, userID string, lessonIDs []string) (int, error)
	CompletedVideoLessons(ctx context.Context, userID string) (int, error)
}

// BookingProvider reads confirmed bookings where the user is student or teacher.
type BookingProvider interface {
	ConfirmedBookings(ctx context.Context, userID string) ([]domain.Booking, error)
}

// QuizScores reads quiz attempt aggregates.
type QuizScores interface {
	BestQuizScore(ctx context.Context, userID string) (float64, bool, error)
}

// UserDirectory resolves display names for certificates.
type UserDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// LedgerStore persists per-user achievement counters and challenge progress.
type LedgerStore interface {
	State(ctx context.Context, userID string) (domain.AchievementState, error)
	// AdvanceStreak applies domain.NextStreak in a single write, creating the row if needed.
	AdvanceStreak(ctx context.Context, userID, week, prevWeek string) (domain.AchievementState, error)
	ActiveChallenges(ctx context.Context, types []domain.AchievementType) ([]domain.Challenge, error)
	PutChallenge(ctx context.Context, challenge domain.Challenge) error
	ChallengeProgress(ctx context.Context, userID, challengeID string) (domain.ChallengeProgress, bool, error)
	// RecordProgress upserts the (user, challenge) row unless it is already completed.
	// It reports true only for the call that flips the row to completed, and credits
	// challenge.Points to the user in the same atomic unit. The returned total is the
	// balance right after that credit, and zero when nothing was credited.
	RecordProgress(ctx context.Context, userID string, challenge domain.Challenge, progress int, now time.Time) (bool, int, error)
	ListProgress(ctx context.Context, userID string) ([]domain.ChallengeProgress, error)
	// Redeem debits PointCost with a floor check and records the redemption atomically.
	Redeem(ctx context.Context, redemption domain.Redemption) (domain.AchievementState, error)
	ListRedemptions(ctx context.Context, userID string) ([]domain.Redemption, error)
}

// CertificateStore persists certificates.
type CertificateStore interface {
	// InsertUnique inserts unless a certificate with the same (user, scope, kind) exists on the
	// automatic path. It returns the stored certificate and whether this call created it.
	InsertUnique(ctx context.Context, cert domain.Certificate) (domain.Certificate, bool, error)
	// Insert always creates a row; used for manual issuance.
	Insert(ctx context.Context, cert domain.Certificate) error
	FindByKey(ctx context.Context, userID string, scope domain.Scope, kind domain.CredentialKind) (domain.Certificate, bool, error)
	GetByCode(ctx context.Context, code string) (domain.Certificate, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Certificate, error)
}

// EventGuard suppresses redelivery of an already handled event key.
// FirstDelivery claims key; Release gives the claim back so a redelivery runs again.
type EventGuard interface {
	FirstDelivery(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
