package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/queue"
)

// Runner drives the receive, process, ack loop.
type Runner struct {
	consumer  queue.Consumer
	processor *Processor
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
}

// NewRunner returns a runner over consumer.
func NewRunner(consumer queue.Consumer, processor *Processor) *Runner {
	return &Runner{consumer: consumer, processor: processor, ErrorBackoff: 2 * time.Second}
}

// Run loops until ctx is cancelled. Failed messages are not acknowledged so
// the queue redelivers them.
func (r *Runner) Run(ctx context.Context) error {
	logger.Info(ctx, logger.CompWorker, "worker.started")
	defer logger.Info(context.WithoutCancel(ctx), logger.CompWorker, "worker.stopped")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := r.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, logger.CompWorker, "worker.poll_failed", logger.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.ErrorBackoff):
			}
		}
	}
}

// Poll runs a single receive, process, ack cycle.
func (r *Runner) Poll(ctx context.Context) error {
	msgs, err := r.consumer.Receive(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	start := time.Now()
	// A received batch runs to completion and is acked even during shutdown.
	workCtx := context.WithoutCancel(ctx)
	res := r.processor.ProcessBatch(workCtx, msgs)

	ok := make(map[string]struct{}, len(res.Succeeded))
	for _, id := range res.Succeeded {
		ok[id] = struct{}{}
	}
	acks := make([]queue.Message, 0, len(res.Succeeded))
	for _, m := range msgs {
		if _, done := ok[m.ID]; done {
			acks = append(acks, m)
		}
	}
	ackErr := r.consumer.Ack(workCtx, acks)
	logger.Info(ctx, logger.CompWorker, "batch.processed",
		slog.Int("received", len(msgs)),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
		slog.Duration("duration", logger.Took(start)),
	)
	if ackErr != nil {
		return fmt.Errorf("worker: ack: %w", ackErr)
	}
	return nil
}
