package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types.
const (
	TypeAttendanceMarked = "attendance.marked"
	TypeClassChanged     = "class.changed"
	// TypeStudentChanged carries only StudentID.
	TypeStudentChanged = "student.changed"
)

// DefaultKey is the Redis list used when none is configured.
const DefaultKey = "geoattend:events"

// Event is a notification that derived data of a class or student changed.
type Event struct {
	Type      string    `json:"type"`
	ClassID   string    `json:"classId"`
	StudentID string    `json:"studentId,omitempty"`
	At        time.Time `json:"at"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, evt Event) error
	Consume(ctx context.Context) (<-chan Event, error)
}

// InMemory is a channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Event
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Event, size)}
}

// Publish enqueues an event, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, evt Event) error {
	select {
	case q.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel that closes when ctx is done.
func (q *InMemory) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-q.ch:
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues an event.
func (q *RedisQueue) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume streams events using BRPOP. Undecodable payloads are dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					// redis unreachable; back off instead of spinning
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(res[1]), &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
