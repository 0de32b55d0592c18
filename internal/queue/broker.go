// Package queue provides the message transport between pipeline stages: a
// Redis-backed broker with list queues plus a sorted-set delay lane, and a
// worker that maps queues to handlers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when no message arrived within the poll window.
var ErrEmpty = errors.New("queue empty")

// Broker is the queue transport. PublishDelayed is the scheduled-retry
// primitive: the message becomes visible only after the delay elapses.
type Broker interface {
	Publish(ctx context.Context, queue string, v interface{}) error
	PublishDelayed(ctx context.Context, queue string, v interface{}, delay time.Duration) error
	Pop(ctx context.Context, queue string) ([]byte, error)
}

// ── RedisBroker ────────────────────────────────────────

type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func listKey(queue string) string    { return "queue:" + queue }
func delayedKey(queue string) string { return "queue:" + queue + ":delayed" }

func (b *RedisBroker) Publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", queue, err)
	}
	if err := b.client.LPush(ctx, listKey(queue), body).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", queue, err)
	}
	return nil
}

func (b *RedisBroker) PublishDelayed(ctx context.Context, queue string, v interface{}, delay time.Duration) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode delayed message for %s: %w", queue, err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := b.client.ZAdd(ctx, delayedKey(queue), redis.Z{Score: due, Member: body}).Err(); err != nil {
		return fmt.Errorf("schedule on %s: %w", queue, err)
	}
	return nil
}

// Pop promotes due delayed messages, then blocks briefly on the list.
func (b *RedisBroker) Pop(ctx context.Context, queue string) ([]byte, error) {
	if err := b.promoteDue(ctx, queue); err != nil {
		return nil, err
	}
	res, err := b.client.BRPop(ctx, time.Second, listKey(queue)).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", queue, err)
	}
	// BRPOP returns [key, value]
	return []byte(res[1]), nil
}

func (b *RedisBroker) promoteDue(ctx context.Context, queue string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := b.client.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("scan delayed %s: %w", queue, err)
	}
	for _, member := range due {
		removed, err := b.client.ZRem(ctx, delayedKey(queue), member).Result()
		if err != nil {
			return fmt.Errorf("unschedule on %s: %w", queue, err)
		}
		// another worker may have promoted it first
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, listKey(queue), member).Err(); err != nil {
			return fmt.Errorf("promote on %s: %w", queue, err)
		}
	}
	return nil
}

// ── MemBroker ──────────────────────────────────────────

// MemBroker is an in-process Broker for tests.
type MemBroker struct {
	mu     sync.Mutex
	queues map[string][][]byte
	timers []*time.Timer
}

func NewMemBroker() *MemBroker {
	return &MemBroker{queues: make(map[string][][]byte)}
}

func (b *MemBroker) Publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], body)
	return nil
}

func (b *MemBroker) PublishDelayed(ctx context.Context, queue string, v interface{}, delay time.Duration) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t := time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.queues[queue] = append(b.queues[queue], body)
	})
	b.timers = append(b.timers, t)
	return nil
}

func (b *MemBroker) Pop(ctx context.Context, queue string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[queue]
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}
	head := msgs[0]
	b.queues[queue] = msgs[1:]
	return head, nil
}

// Len reports the number of visible messages on a queue.
func (b *MemBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}
