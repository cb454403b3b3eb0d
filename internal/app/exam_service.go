package app

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"assessment-engine/internal/domain"
	"assessment-engine/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ExamEvents receives the submit-time side effect. Implementations must not block.
type ExamEvents interface {
	ExamSubmitted(userID, attemptID string, scope domain.Scope, score float64)
}

// StartRequest asks for a new randomized attempt.
type StartRequest struct {
	UserID           string
	CourseID         string
	ModuleID         string
	NumQuestions     int
	TimeLimitSeconds *int
	SingleChoiceLock bool
}

// StartedAttempt is returned to the client; its questions carry no correctness.
type StartedAttempt struct {
	AttemptID        string                  `json:"attemptId"`
	Scope            domain.Scope            `json:"scope"`
	Questions        []domain.PublicQuestion `json:"questions"`
	TimeLimitSeconds *int                    `json:"timeLimitSeconds"`
	SingleChoiceLock bool                    `json:"singleChoiceLock"`
	StartedAt        time.Time               `json:"startedAt"`
}

// SubmitResult is the only place correctness is revealed.
type SubmitResult struct {
	AttemptID      string              `json:"attemptId"`
	Scope          domain.Scope        `json:"scope"`
	Score          float64             `json:"score"`
	CorrectCount   int                 `json:"correctCount"`
	TotalQuestions int                 `json:"totalQuestions"`
	Corrections    []domain.Correction `json:"corrections"`
	SubmittedAt    time.Time           `json:"submittedAt"`
}

// AttemptView is an owner's view of one attempt.
type AttemptView struct {
	AttemptID        string                  `json:"attemptId"`
	Scope            domain.Scope            `json:"scope"`
	Status           string                  `json:"status"`
	Questions        []domain.PublicQuestion `json:"questions,omitempty"`
	TimeLimitSeconds *int                    `json:"timeLimitSeconds"`
	SingleChoiceLock bool                    `json:"singleChoiceLock"`
	StartedAt        time.Time               `json:"startedAt"`
	Result           *SubmitResult           `json:"result,omitempty"`
}

const (
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
)

// ExamService runs the attempt lifecycle: snapshot, serve, grade, persist.
type ExamService struct {
	bank             QuestionBank
	attempts         AttemptStore
	events           ExamEvents
	log              logrus.FieldLogger
	metrics          *metrics.Metrics
	defaultTimeLimit time.Duration
	now              func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewExamService(bank QuestionBank, attempts AttemptStore, events ExamEvents, defaultTimeLimit time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *ExamService {
	return &ExamService{
		bank:             bank,
		attempts:         attempts,
		events:           events,
		log:              log,
		metrics:          m,
		defaultTimeLimit: defaultTimeLimit,
		now:              time.Now,
		rnd:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock swaps the clock; used by tests for deterministic timestamps.
func (s *ExamService) WithClock(now func() time.Time) *ExamService {
	s.now = now
	return s
}

// WithRand swaps the random source; used by tests for reproducible selection.
func (s *ExamService) WithRand(rnd *rand.Rand) *ExamService {
	s.rnd = rnd
	return s
}

// StartAttempt snapshots a random subset of the scope's bank and serves it without correctness.
func (s *ExamService) StartAttempt(ctx context.Context, req StartRequest) (StartedAttempt, error) {
	if req.UserID == "" {
		return StartedAttempt{}, domain.InvalidInputf("userId is required")
	}
	scope, err := domain.ResolveScope(req.CourseID, req.ModuleID)
	if err != nil {
		return StartedAttempt{}, err
	}
	if req.NumQuestions <= 0 {
		return StartedAttempt{}, domain.InvalidInputf("numQuestions must be positive")
	}
	if req.TimeLimitSeconds != nil && *req.TimeLimitSeconds <= 0 {
		return StartedAttempt{}, domain.InvalidInputf("timeLimitSeconds must be positive")
	}

	bank, err := s.bank.Questions(ctx, scope)
	if err != nil {
		return StartedAttempt{}, err
	}

	s.rndMu.Lock()
	selected, err := SelectQuestions(s.rnd, bank, req.NumQuestions)
	s.rndMu.Unlock()
	if err != nil {
		return StartedAttempt{}, err
	}

	timeLimit := req.TimeLimitSeconds
	if timeLimit == nil && s.defaultTimeLimit > 0 {
		secs := int(s.defaultTimeLimit / time.Second)
		timeLimit = &secs
	}

	attempt := domain.ExamAttempt{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Scope:            scope,
		Questions:        selected,
		TimeLimitSeconds: timeLimit,
		SingleChoiceLock: req.SingleChoiceLock,
		StartedAt:        s.now().UTC(),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return StartedAttempt{}, err
	}
	s.metrics.AttemptsStarted.Inc()
	s.log.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"attempt_id": attempt.ID,
		"scope":      scope.String(),
		"questions":  len(selected),
	}).Info("exam attempt started")

	return StartedAttempt{
		AttemptID:        attempt.ID,
		Scope:            scope,
		Questions:        PublicQuestions(selected),
		TimeLimitSeconds: timeLimit,
		SingleChoiceLock: attempt.SingleChoiceLock,
		StartedAt:        attempt.StartedAt,
	}, nil
}

// InvalidateBank drops the cached bank of a course or module after its questions were edited.
// Attempts started afterwards snapshot the current bank; running attempts keep their snapshot.
func (s *ExamService) InvalidateBank(ctx context.Context, courseID, moduleID string) (domain.Scope, error) {
	scope, err := domain.ResolveScope(courseID, moduleID)
	if err != nil {
		return domain.Scope{}, err
	}
	if err := s.bank.Invalidate(ctx, scope); err != nil {
		return domain.Scope{}, fmt.Errorf("invalidate bank %s: %w", scope, err)
	}
	s.log.WithField("scope", scope.String()).Info("question bank invalidated")
	return scope, nil
}

// SubmitAttempt grades against the stored snapshot and persists the outcome once.
// Late submissions are accepted while the attempt is still in progress.
func (s *ExamService) SubmitAttempt(ctx context.Context, attemptID, userID string, answers []domain.SubmittedAnswer) (SubmitResult, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return SubmitResult{}, err
	}
	if attempt.UserID != userID {
		return SubmitResult{}, domain.ErrAttemptForbidden
	}
	if attempt.Submitted() {
		return SubmitResult{}, domain.ErrAttemptSubmitted
	}
	if err := validateAnswers(attempt.Questions, answers); err != nil {
		return SubmitResult{}, err
	}

	graded := Grade(attempt.Questions, answers)
	submittedAt := s.now().UTC()
	stored := append([]domain.SubmittedAnswer(nil), answers...)
	if err := s.attempts.Submit(ctx, attemptID, stored, graded.Score, graded.CorrectCount, submittedAt); err != nil {
		return SubmitResult{}, err
	}
	s.metrics.AttemptsSubmitted.Inc()
	s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"attempt_id": attemptID,
		"score":      graded.Score,
	}).Info("exam attempt submitted")

	if s.events != nil {
		s.events.ExamSubmitted(userID, attemptID, attempt.Scope, graded.Score)
	}

	return SubmitResult{
		AttemptID:      attemptID,
		Scope:          attempt.Scope,
		Score:          graded.Score,
		CorrectCount:   graded.CorrectCount,
		TotalQuestions: graded.Total,
		Corrections:    graded.Corrections,
		SubmittedAt:    submittedAt,
	}, nil
}

// GetAttempt returns an owner's view: public questions while in progress, corrections once submitted.
func (s *ExamService) GetAttempt(ctx context.Context, attemptID, userID string) (AttemptView, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return AttemptView{}, err
	}
	if attempt.UserID != userID {
		return AttemptView{}, domain.ErrAttemptForbidden
	}

	view := AttemptView{
		AttemptID:        attempt.ID,
		Scope:            attempt.Scope,
		TimeLimitSeconds: attempt.TimeLimitSeconds,
		SingleChoiceLock: attempt.SingleChoiceLock,
		StartedAt:        attempt.StartedAt,
	}
	if !attempt.Submitted() {
		view.Status = StatusInProgress
		view.Questions = PublicQuestions(attempt.Questions)
		return view, nil
	}

	graded := Grade(attempt.Questions, attempt.Answers)
	result := &SubmitResult{
		AttemptID:      attempt.ID,
		Scope:          attempt.Scope,
		Score:          graded.Score,
		CorrectCount:   graded.CorrectCount,
		TotalQuestions: graded.Total,
		Corrections:    graded.Corrections,
		SubmittedAt:    *attempt.SubmittedAt,
	}
	if attempt.Score != nil {
		result.Score = *attempt.Score
	}
	if attempt.CorrectCount != nil {
		result.CorrectCount = *attempt.CorrectCount
	}
	view.Status = StatusSubmitted
	view.Result = result
	return view, nil
}

// ListAttempts returns the user's attempt history, newest first.
func (s *ExamService) ListAttempts(ctx context.Context, userID string, scope *domain.Scope) ([]domain.AttemptSummary, error) {
	if userID == "" {
		return nil, domain.InvalidInputf("userId is required")
	}
	attempts, err := s.attempts.ListByUser(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].StartedAt.After(attempts[j].StartedAt)
	})
	out := make([]domain.AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, domain.AttemptSummary{
			ID:             a.ID,
			Scope:          a.Scope,
			TotalQuestions: len(a.Questions),
			Score:          a.Score,
			StartedAt:      a.StartedAt,
			SubmittedAt:    a.SubmittedAt,
		})
	}
	return out, nil
}
