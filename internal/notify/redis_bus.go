package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"anonchat/backend/internal/logger"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "anonchat:notify:"

// RedisBus delivers events across service instances over Redis pub/sub.
type RedisBus struct {
	rdb *redis.Client
	log *logger.Logger
}

func NewRedisBus(rdb *redis.Client, log *logger.Logger) *RedisBus {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &RedisBus{rdb: rdb, log: log.Named("redis-bus")}
}

func channelFor(userID string) string {
	return channelPrefix + userID
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelFor(e.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", e.UserID, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.rdb.Subscribe(ctx, channelFor(userID))
	out := make(chan Event, subscriberBuffer)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		defer unsubscribe()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.log.Warnf("unreadable event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, unsubscribe
}
