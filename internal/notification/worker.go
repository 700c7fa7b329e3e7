package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Source is the read side of the delivery queue.
type Source interface {
	Pop(ctx context.Context, wait time.Duration) ([]byte, error)
	DeadLetter(ctx context.Context, payload []byte) error
}

const (
	popWait    = 5 * time.Second
	maxBackoff = 30 * time.Second
)

// Worker drains the delivery queue. Each channel of a task is retried with
// exponential backoff; channels that still fail are dead-lettered together.
type Worker struct {
	src         Source
	senders     map[Channel]Sender
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewWorker(src Source, maxAttempts int, backoff time.Duration, log zerolog.Logger, senders ...Sender) *Worker {
	w := &Worker{
		src:         src,
		senders:     make(map[Channel]Sender, len(senders)),
		maxAttempts: max(maxAttempts, 1),
		backoff:     backoff,
		log:         log.With().Str("component", "notification_worker").Logger(),
		sleep:       sleepCtx,
	}
	for _, s := range senders {
		w.senders[s.Channel()] = s
	}
	return w
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("senders", len(w.senders)).Msg("notification worker started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := w.src.Pop(ctx, popWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error().Err(err).Msg("queue pop failed")
			if err := w.sleep(ctx, w.backoff); err != nil {
				return nil
			}
			continue
		}
		if raw == nil {
			continue
		}
		w.Handle(ctx, raw)
	}
}

// Handle delivers one raw task.
func (w *Worker) Handle(ctx context.Context, raw []byte) {
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		w.log.Error().Err(err).Msg("undecodable notification task")
		w.deadLetter(ctx, raw)
		return
	}

	var failed []Channel
	var lastErr error
	for _, ch := range task.Channels {
		if err := w.deliver(ctx, ch, task); err != nil {
			failed = append(failed, ch)
			lastErr = err
		}
	}
	if len(failed) == 0 {
		w.log.Debug().Str("task_id", task.ID.String()).Msg("notification delivered")
		return
	}

	task.Channels = failed
	task.LastError = lastErr.Error()
	out, err := json.Marshal(task)
	if err != nil {
		out = raw
	}
	w.deadLetter(ctx, out)
}

func (w *Worker) deliver(ctx context.Context, ch Channel, task Task) error {
	sender, ok := w.senders[ch]
	if !ok {
		w.log.Warn().Str("channel", string(ch)).Str("task_id", task.ID.String()).Msg("no sender configured, skipping channel")
		return nil
	}

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err = sender.Send(ctx, task)
		if err == nil {
			return nil
		}

		ev := w.log.Warn().Err(err).
			Str("task_id", task.ID.String()).
			Str("channel", string(ch)).
			Int("attempt", attempt)
		if errors.Is(err, ErrPermanent) {
			ev.Msg("delivery failed permanently")
			return err
		}
		ev.Msg("delivery failed")

		if attempt < w.maxAttempts {
			if sleepErr := w.sleep(ctx, w.backoffFor(attempt)); sleepErr != nil {
				return err
			}
		}
	}
	return err
}

func (w *Worker) backoffFor(attempt int) time.Duration {
	d := w.backoff << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (w *Worker) deadLetter(ctx context.Context, raw []byte) {
	if err := w.src.DeadLetter(context.WithoutCancel(ctx), raw); err != nil {
		w.log.Error().Err(err).Msg("dead-letter failed, task dropped")
		return
	}
	w.log.Warn().Msg("notification task dead-lettered")
}
