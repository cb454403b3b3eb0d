package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"assessment-engine/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches a scope's question bank from the backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, scope domain.Scope) ([]domain.Question, error)
}

// QuestionBank caches question banks per scope with TTL to avoid repeated DB hits.
// Staleness only affects which questions new attempts draw; grading uses snapshots.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedBank
	gen   map[string]uint64
}

type cachedBank struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
		gen:    make(map[string]uint64),
	}
}

func (b *QuestionBank) Questions(ctx context.Context, scope domain.Scope) ([]domain.Question, error) {
	key := scope.String()
	now := b.clock()

	b.mu.RLock()
	if entry, ok := b.cache[key]; ok && entry.expiresAt.After(now) {
		b.mu.RUnlock()
		return entry.questions, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		now := b.clock()
		b.mu.RLock()
		if entry, ok := b.cache[key]; ok && entry.expiresAt.After(now) {
			b.mu.RUnlock()
			return entry.questions, nil
		}
		gen := b.gen[key]
		b.mu.RUnlock()

		questions, err := b.loader.LoadQuestions(ctx, scope)
		if err != nil {
			return nil, err
		}
		if b.ttl > 0 {
			b.mu.Lock()
			// an Invalidate during the load wins over this result
			if b.gen[key] == gen {
				b.cache[key] = cachedBank{questions: questions, expiresAt: now.Add(b.ttlWithJitter())}
			}
			b.mu.Unlock()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops the cached bank of scope so the next read loads the current one.
func (b *QuestionBank) Invalidate(_ context.Context, scope domain.Scope) error {
	key := scope.String()
	b.mu.Lock()
	delete(b.cache, key)
	b.gen[key]++
	b.mu.Unlock()
	b.sf.Forget(key)
	return nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
