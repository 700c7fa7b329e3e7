package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a reliable-enough FIFO on a Redis list with a dead-letter list.
type Queue struct {
	client *redis.Client
	name   string
}

func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) deadLetterKey() string { return q.name + ":dead" }

func (q *Queue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", q.name, err)
	}
	return nil
}

// Pop blocks up to wait for the next payload. It returns nil, nil on timeout.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, wait, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", q.name, err)
	}
	// BRPOP answers [key, value].
	return []byte(res[1]), nil
}

func (q *Queue) DeadLetter(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.deadLetterKey(), payload).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", q.name, err)
	}
	return nil
}

// Publish fans a message out on a pub/sub channel.
func Publish(ctx context.Context, client *redis.Client, channel string, payload []byte) error {
	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}
