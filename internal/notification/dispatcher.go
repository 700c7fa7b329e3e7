package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher delivers best-effort notifications. Notify never fails the caller
// and gives no ordering guarantee.
type Dispatcher interface {
	Notify(ctx context.Context, to Recipient, p Payload)
}

// Enqueuer is the write side of the delivery queue.
type Enqueuer interface {
	Push(ctx context.Context, payload []byte) error
}

// QueueDispatcher turns notifications into queued tasks for the notifier worker.
type QueueDispatcher struct {
	queue Enqueuer
	log   zerolog.Logger
}

func NewQueueDispatcher(queue Enqueuer, log zerolog.Logger) *QueueDispatcher {
	return &QueueDispatcher{queue: queue, log: log.With().Str("component", "notification_dispatcher").Logger()}
}

func (d *QueueDispatcher) Notify(ctx context.Context, to Recipient, p Payload) {
	channels := ChannelsFor(to)
	if len(channels) == 0 {
		d.log.Warn().Str("kind", p.Kind).Msg("notification has no reachable channel")
		return
	}

	task := Task{
		ID:         uuid.New(),
		Recipient:  to,
		Payload:    p,
		Channels:   channels,
		EnqueuedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(task)
	if err != nil {
		d.log.Error().Err(err).Str("kind", p.Kind).Msg("encode notification task")
		return
	}
	if err := d.queue.Push(ctx, raw); err != nil {
		d.log.Error().Err(err).
			Str("task_id", task.ID.String()).
			Str("user_id", to.UserID.String()).
			Str("kind", p.Kind).
			Msg("enqueue notification failed")
		return
	}
	d.log.Debug().Str("task_id", task.ID.String()).Str("kind", p.Kind).Msg("notification enqueued")
}

// LogDispatcher only logs. It backs local runs without Redis.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.With().Str("component", "notification_dispatcher").Logger()}
}

func (d *LogDispatcher) Notify(_ context.Context, to Recipient, p Payload) {
	d.log.Info().
		Str("user_id", to.UserID.String()).
		Str("kind", p.Kind).
		Str("title", p.Title).
		Bool("attachment", p.Attachment != nil).
		Msg("notification")
}
