package domain

import "time"

// ScopeKind identifies what an exam attempt or certificate is issued against.
type ScopeKind string

const (
	ScopeCourse ScopeKind = "course"
	ScopeModule ScopeKind = "module"
)

// Scope is a course or a module, never both.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// ResolveScope turns the optional course/module pair into a Scope.
func ResolveScope(courseID, moduleID string) (Scope, error) {
	switch {
	case courseID != "" && moduleID != "":
		return Scope{}, ErrScopeRequired
	case courseID != "":
		return Scope{Kind: ScopeCourse, ID: courseID}, nil
	case moduleID != "":
		return Scope{Kind: ScopeModule, ID: moduleID}, nil
	default:
		return Scope{}, ErrScopeRequired
	}
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID
}

// CourseID returns the id when the scope is a course.
func (s Scope) CourseID() string {
	if s.Kind == ScopeCourse {
		return s.ID
	}
	return ""
}

// ModuleID returns the id when the scope is a module.
func (s Scope) ModuleID() string {
	if s.Kind == ScopeModule {
		return s.ID
	}
	return ""
}

// Answer is a bank answer including its correctness flag.
type Answer struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is a bank question with its full answer set.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Answers []Answer `json:"answers"`
}

// PublicAnswer is what a client sees before submission. It has no correctness field.
type PublicAnswer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion is a question stripped of correctness.
type PublicQuestion struct {
	ID      string         `json:"id"`
	Prompt  string         `json:"prompt"`
	Answers []PublicAnswer `json:"answers"`
}

// SubmittedAnswer is one (question, chosen answer) pair.
type SubmittedAnswer struct {
	QuestionID string `json:"questionId"`
	AnswerID   string `json:"answerId"`
}

// ExamAttempt is a persisted attempt. Questions is the immutable grading snapshot.
type ExamAttempt struct {
	ID               string
	UserID           string
	Scope            Scope
	Questions        []Question
	Answers          []SubmittedAnswer
	Score            *float64
	CorrectCount     *int
	TimeLimitSeconds *int
	SingleChoiceLock bool
	StartedAt        time.Time
	SubmittedAt      *time.Time
}

// Submitted reports whether the attempt reached its terminal state.
func (a ExamAttempt) Submitted() bool {
	return a.SubmittedAt != nil
}

// Correction reveals the outcome of one question after submission.
type Correction struct {
	QuestionID         string  `json:"questionId"`
	Prompt             string  `json:"prompt"`
	SelectedAnswerID   *string `json:"selectedAnswerId"`
	SelectedAnswerText string  `json:"selectedAnswerText"`
	CorrectAnswerID    *string `json:"correctAnswerId"`
	CorrectAnswerText  string  `json:"correctAnswerText"`
	IsCorrect          bool    `json:"isCorrect"`
}

// AttemptSummary is a history row; it never carries questions.
type AttemptSummary struct {
	ID             string     `json:"id"`
	Scope          Scope      `json:"scope"`
	TotalQuestions int        `json:"totalQuestions"`
	Score          *float64   `json:"score"`
	StartedAt      time.Time  `json:"startedAt"`
	SubmittedAt    *time.Time `json:"submittedAt"`
}

// AchievementType enumerates what a challenge measures.
type AchievementType string

const (
	AchievementLessonCount      AchievementType = "lesson_count"
	AchievementModuleCount      AchievementType = "module_count"
	AchievementCourseCount      AchievementType = "course_count"
	AchievementBestQuizScore    AchievementType = "best_quiz_score"
	AchievementBookingsAttended AchievementType = "bookings_attended"
	AchievementWeeklyStreak     AchievementType = "weekly_streak"
	AchievementTotalHours       AchievementType = "total_hours"
)

// Challenge is an externally authored goal.
type Challenge struct {
	ID     string          `json:"id"`
	Type   AchievementType `json:"type"`
	Target int             `json:"target"`
	Points int             `json:"points"`
	Active bool            `json:"active"`
}

// ChallengeProgress is the (user, challenge) record. Frozen once Completed.
type ChallengeProgress struct {
	UserID        string     `json:"userId"`
	ChallengeID   string     `json:"challengeId"`
	Progress      int        `json:"progress"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completedAt"`
	AwardedPoints int        `json:"awardedPoints"`
}

// AchievementState is the per-user counter row.
type AchievementState struct {
	UserID         string `json:"userId"`
	TotalPoints    int    `json:"totalPoints"`
	CurrentStreak  int    `json:"currentStreak"`
	LongestStreak  int    `json:"longestStreak"`
	LastActiveWeek string `json:"lastActiveWeek"`
}

// Redemption records points spent on an item.
type Redemption struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ItemName   string    `json:"itemName"`
	PointCost  int       `json:"pointCost"`
	RedeemedAt time.Time `json:"redeemedAt"`
}

// CredentialKind categorises certificates.
type CredentialKind string

const (
	CredentialModuleCompletion CredentialKind = "module_completion"
	CredentialCourseCompletion CredentialKind = "course_completion"
	CredentialModuleExam       CredentialKind = "module_exam"
	CredentialCourseExam       CredentialKind = "course_exam"
)

// Certificate is an issued credential.
type Certificate struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	RecipientName    string         `json:"recipientName"`
	Scope            Scope          `json:"scope"`
	Kind             CredentialKind `json:"kind"`
	Score            *float64       `json:"score,omitempty"`
	IssuedAt         time.Time      `json:"issuedAt"`
	VerificationCode string         `json:"verificationCode"`
	Manual           bool           `json:"manual"`
}

// PublicCertificate is what the unauthenticated verification path returns.
type PublicCertificate struct {
	VerificationCode string         `json:"verificationCode"`
	Scope            Scope          `json:"scope"`
	Kind             CredentialKind `json:"kind"`
	Score            *float64       `json:"score,omitempty"`
	IssuedAt         time.Time      `json:"issuedAt"`
}

// Public strips the recipient from a certificate.
func (c Certificate) Public() PublicCertificate {
	return PublicCertificate{
		VerificationCode: c.VerificationCode,
		Scope:            c.Scope,
		Kind:             c.Kind,
		Score:            c.Score,
		IssuedAt:         c.IssuedAt,
	}
}

// ModuleTree lists the lessons of a module in order.
type ModuleTree struct {
	ModuleID  string   `json:"moduleId"`
	LessonIDs []string `json:"lessonIds"`
}

// CourseTree is a course with its module/lesson hierarchy.
type CourseTree struct {
	CourseID string       `json:"courseId"`
	Modules  []ModuleTree `json:"modules"`
}

// LessonIDs flattens the tree.
func (c CourseTree) LessonIDs() []string {
	var ids []string
	for _, m := range c.Modules {
		ids = append(ids, m.LessonIDs...)
	}
	return ids
}

// LessonContext locates a lesson within its module and course.
type LessonContext struct {
	LessonID string
	Module   ModuleTree
	Course   CourseTree
}

// Booking is a confirmed session between a student and a teacher.
type Booking struct {
	ID        string
	StudentID string
	TeacherID string
	StartsAt  time.Time
	EndsAt    time.Time
}
