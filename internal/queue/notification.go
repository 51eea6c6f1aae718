// Package queue carries notifications from committed billing transactions to
// the delivery worker with at-least-once semantics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"saas-billing/internal/model"
	"time"

	"github.com/redis/go-redis/v9"
)

type Delivery struct {
	Notification *model.Notification
	raw          string
}

type NotificationQueue interface {
	Enqueue(ctx context.Context, n *model.Notification) error
	// Dequeue waits up to timeout and returns nil when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Retry puts the notification back with its attempt counter incremented.
	Retry(ctx context.Context, d *Delivery) error
	// Recover re-queues deliveries left unacknowledged by a previous process.
	Recover(ctx context.Context) (int, error)
}

const (
	pendingKey    = "billing:notifications:pending"
	processingKey = "billing:notifications:processing"
)

type redisNotificationQueue struct {
	rdb redis.UniversalClient
}

func NewRedisNotificationQueue(rdb redis.UniversalClient) NotificationQueue {
	return &redisNotificationQueue{rdb: rdb}
}

func (q *redisNotificationQueue) Enqueue(ctx context.Context, n *model.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := q.rdb.LPush(ctx, pendingKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	return nil
}

func (q *redisNotificationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue notification: %w", err)
	}

	var n model.Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		// Poison message: drop it from processing so it is not recovered forever.
		_ = q.rdb.LRem(ctx, processingKey, 1, raw).Err()
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	return &Delivery{Notification: &n, raw: raw}, nil
}

func (q *redisNotificationQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, processingKey, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack notification: %w", err)
	}
	return nil
}

func (q *redisNotificationQueue) Retry(ctx context.Context, d *Delivery) error {
	next := *d.Notification
	next.Attempts++

	raw, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey, 1, d.raw)
		pipe.LPush(ctx, pendingKey, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry notification: %w", err)
	}

	return nil
}

func (q *redisNotificationQueue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		err := q.rdb.LMove(ctx, processingKey, pendingKey, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("recover notifications: %w", err)
		}
		recovered++
	}
}

// memoryNotificationQueue is a process-local queue for tests and
// single-instance development.
type memoryNotificationQueue struct {
	ch chan *model.Notification
}

func NewMemoryNotificationQueue(size int) NotificationQueue {
	return &memoryNotificationQueue{ch: make(chan *model.Notification, size)}
}

func (q *memoryNotificationQueue) Enqueue(ctx context.Context, n *model.Notification) error {
	copied := *n
	select {
	case q.ch <- &copied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryNotificationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-q.ch:
		return &Delivery{Notification: n}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *memoryNotificationQueue) Ack(context.Context, *Delivery) error {
	return nil
}

func (q *memoryNotificationQueue) Retry(ctx context.Context, d *Delivery) error {
	next := *d.Notification
	next.Attempts++
	return q.Enqueue(ctx, &next)
}

func (q *memoryNotificationQueue) Recover(context.Context) (int, error) {
	return 0, nil
}
