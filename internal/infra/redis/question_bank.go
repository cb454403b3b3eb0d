package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"assessment-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches a scope's question bank from the backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, scope domain.Scope) ([]domain.Question, error)
}

// QuestionBank caches question banks in Redis and falls back to a loader on cache miss.
// Each bank is stored as one JSON value: SET bank:{kind}:{id} [...questions]
// The cache is shared by every instance; it never leaves the server.
type QuestionBank struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	log    logrus.FieldLogger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader QuestionLoader, ttl time.Duration, log logrus.FieldLogger) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) Questions(ctx context.Context, scope domain.Scope) ([]domain.Question, error) {
	key := bankKey(scope)
	if questions, ok := b.cached(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another caller filled it.
		if questions, ok := b.cached(ctx, key); ok {
			return questions, nil
		}
		questions, err := b.loader.LoadQuestions(ctx, scope)
		if err != nil {
			return nil, err
		}
		if b.ttl > 0 {
			raw, err := json.Marshal(questions)
			if err == nil {
				err = b.client.Set(ctx, key, raw, b.ttlWithJitter()).Err()
			}
			if err != nil {
				b.log.WithField("scope", scope.String()).WithError(err).Warn("question bank cache write failed")
			}
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops the cached bank of scope on every instance.
func (b *QuestionBank) Invalidate(ctx context.Context, scope domain.Scope) error {
	key := bankKey(scope)
	b.sf.Forget(key)
	return b.client.Del(ctx, key).Err()
}

func (b *QuestionBank) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	if b.ttl <= 0 {
		return nil, false
	}
	raw, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.log.WithField("key", key).WithError(err).Warn("question bank cache read failed")
		}
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, false
	}
	return questions, true
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

func bankKey(scope domain.Scope) string {
	return "bank:" + scope.String()
}
