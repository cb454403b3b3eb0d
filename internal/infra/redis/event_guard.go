package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventGuard marks handled events with SET NX so redeliveries across instances are skipped.
type EventGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventGuard(client *redis.Client, ttl time.Duration) *EventGuard {
	return &EventGuard{client: client, ttl: ttl}
}

func (g *EventGuard) FirstDelivery(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.key(key), "1", g.ttl).Result()
}

// Release deletes the marker of eventKey.
func (g *EventGuard) Release(ctx context.Context, eventKey string) error {
	return g.client.Del(ctx, g.key(eventKey)).Err()
}

func (g *EventGuard) key(eventKey string) string {
	return "event:seen:" + eventKey
}
