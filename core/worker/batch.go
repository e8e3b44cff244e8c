package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/queue"
)

// BatchResult splits a batch by outcome. Order follows the input.
type BatchResult struct {
	Succeeded []string
	Failed    []string
}

// ProcessBatch handles msgs concurrently and reports which ids succeeded.
// A panicking item is recovered and counted as failed.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []queue.Message) BatchResult {
	errs := make([]error, len(msgs))
	var g errgroup.Group
	if p.opts.Concurrency > 0 {
		g.SetLimit(p.opts.Concurrency)
	}
	for i := range msgs {
		g.Go(func() error {
			errs[i] = p.safeHandle(ctx, msgs[i])
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult
	for i, m := range msgs {
		if errs[i] != nil {
			res.Failed = append(res.Failed, m.ID)
			logger.Warn(ctx, logger.CompWorker, "message.failed",
				slog.String("msg_id", m.ID),
				slog.Int("receive_count", m.ReceiveCount),
				logger.Err(errs[i]),
			)
			continue
		}
		res.Succeeded = append(res.Succeeded, m.ID)
	}
	return res
}

func (p *Processor) safeHandle(ctx context.Context, m queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, logger.CompWorker, "worker.panic",
				slog.String("msg_id", m.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("worker: panic: %v", r)
		}
	}()
	return p.Handle(ctx, m)
}
