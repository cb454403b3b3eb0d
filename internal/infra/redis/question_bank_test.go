package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assessment-engine/internal/domain"
	"assessment-engine/internal/infra/memory"
	"assessment-engine/internal/logging"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var moduleScope = domain.Scope{Kind: domain.ScopeModule, ID: "m1"}

func TestQuestionBankCachesInRedis(t *testing.T) {
	mr := startRedis(t)
	loader := &countingLoader{QuestionLoader: sampleCatalog()}
	bank := NewQuestionBank(newClient(mr), loader, time.Minute, logging.Discard())

	questions, err := bank.Questions(context.Background(), moduleScope)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 1 || !questions[0].Answers[1].Correct {
		t.Fatalf("unexpected bank %+v", questions)
	}
	if !mr.Exists("bank:module:m1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("bank:module:m1"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected ttl with at most 10%% jitter, got %v", ttl)
	}

	cached, err := bank.Questions(context.Background(), moduleScope)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if !cached[0].Answers[1].Correct {
		t.Fatalf("cached bank must keep correctness for grading")
	}

	if err := bank.Invalidate(context.Background(), moduleScope); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = bank.Questions(context.Background(), moduleScope)
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls.Load())
	}
}

func TestQuestionBankCoalescesMisses(t *testing.T) {
	mr := startRedis(t)
	loader := &countingLoader{QuestionLoader: sampleCatalog(), delay: 50 * time.Millisecond}
	bank := NewQuestionBank(newClient(mr), loader, time.Minute, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bank.Questions(context.Background(), moduleScope); err != nil {
				t.Errorf("questions: %v", err)
			}
		}()
	}
	wg.Wait()
	if loader.calls.Load() != 1 {
		t.Fatalf("expected one load, got %d", loader.calls.Load())
	}
}

func TestQuestionBankFallsBackWhenRedisIsDown(t *testing.T) {
	mr := startRedis(t)
	client := newClient(mr)
	mr.Close()

	loader := &countingLoader{QuestionLoader: sampleCatalog()}
	bank := NewQuestionBank(client, loader, time.Minute, logging.Discard())
	questions, err := bank.Questions(context.Background(), moduleScope)
	if err != nil || len(questions) != 1 {
		t.Fatalf("expected loader fallback, got %v (%v)", questions, err)
	}
}

func TestQuestionBankPropagatesUnknownScope(t *testing.T) {
	mr := startRedis(t)
	bank := NewQuestionBank(newClient(mr), sampleCatalog(), time.Minute, logging.Discard())
	_, err := bank.Questions(context.Background(), domain.Scope{Kind: domain.ScopeCourse, ID: "nope"})
	if !errors.Is(err, domain.ErrScopeNotFound) {
		t.Fatalf("expected scope not found, got %v", err)
	}
	if mr.Exists("bank:course:nope") {
		t.Fatalf("errors must not be cached")
	}
}

type countingLoader struct {
	QuestionLoader
	delay time.Duration
	calls atomic.Int32
}

func (l *countingLoader) LoadQuestions(ctx context.Context, scope domain.Scope) ([]domain.Question, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	return l.QuestionLoader.LoadQuestions(ctx, scope)
}

func sampleCatalog() *memory.Catalog {
	c := memory.NewCatalog()
	c.AddCourse(domain.CourseTree{
		CourseID: "c1",
		Modules:  []domain.ModuleTree{{ModuleID: "m1", LessonIDs: []string{"l1"}}},
	})
	c.SetQuestions(moduleScope, []domain.Question{{
		ID:     "q1",
		Prompt: "What is 2 + 2?",
		Answers: []domain.Answer{
			{ID: "a1", Text: "3"},
			{ID: "a2", Text: "4", Correct: true},
		},
	}})
	return c
}

func startRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
