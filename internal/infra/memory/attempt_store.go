package memory

import (
	"context"
	"sync"
	"time"

	"assessment-engine/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.ExamAttempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]domain.ExamAttempt)}
}

func (s *AttemptStore) Create(_ context.Context, attempt domain.ExamAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = copyAttempt(attempt)
	return nil
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.ExamAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ExamAttempt{}, domain.ErrAttemptNotFound
	}
	return copyAttempt(attempt), nil
}

func (s *AttemptStore) ListByUser(_ context.Context, userID string, scope *domain.Scope) ([]domain.ExamAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExamAttempt
	for _, a := range s.attempts {
		if a.UserID != userID {
			continue
		}
		if scope != nil && a.Scope != *scope {
			continue
		}
		out = append(out, copyAttempt(a))
	}
	return out, nil
}

// Submit checks and writes under one lock so concurrent submissions see each other.
func (s *AttemptStore) Submit(_ context.Context, attemptID string, answers []domain.SubmittedAnswer, score float64, correct int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.Submitted() {
		return domain.ErrAttemptSubmitted
	}
	attempt.Answers = append([]domain.SubmittedAnswer(nil), answers...)
	attempt.Score = &score
	attempt.CorrectCount = &correct
	attempt.SubmittedAt = &at
	s.attempts[attemptID] = attempt
	return nil
}

func copyAttempt(a domain.ExamAttempt) domain.ExamAttempt {
	out := a
	out.Questions = make([]domain.Question, len(a.Questions))
	for i, q := range a.Questions {
		out.Questions[i] = domain.Question{ID: q.ID, Prompt: q.Prompt, Answers: append([]domain.Answer(nil), q.Answers...)}
	}
	out.Answers = append([]domain.SubmittedAnswer(nil), a.Answers...)
	if a.Score != nil {
		v := *a.Score
		out.Score = &v
	}
	if a.CorrectCount != nil {
		v := *a.CorrectCount
		out.CorrectCount = &v
	}
	if a.SubmittedAt != nil {
		v := *a.SubmittedAt
		out.SubmittedAt = &v
	}
	return out
}
