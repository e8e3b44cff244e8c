package redisqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3rciful/concierge/core/logger"
)

// Reclaimer runs Queue.Reclaim on a fixed interval.
type Reclaimer struct {
	cron *cron.Cron
}

// StartReclaimer schedules q.Reclaim every interval until Stop is called or ctx ends.
func StartReclaimer(ctx context.Context, q *Queue, every time.Duration) (*Reclaimer, error) {
	if every <= 0 {
		return nil, fmt.Errorf("reclaim interval must be positive")
	}
	seconds := int(every.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(fmt.Sprintf("@every %ds", seconds), func() {
		requeued, dead, err := q.Reclaim(ctx)
		if err != nil {
			logger.Error(ctx, logger.CompQueue, "queue.reclaim_failed", logger.Err(err))
			return
		}
		if requeued > 0 || dead > 0 {
			logger.Info(ctx, logger.CompQueue, "queue.reclaimed",
				slog.String("queue", q.ready),
				slog.Int("count", requeued),
				slog.Int("failed", dead),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reclaim: %w", err)
	}
	c.Start()
	r := &Reclaimer{cron: c}
	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return r, nil
}

// Stop halts scheduling and waits for a running reclaim to finish.
func (r *Reclaimer) Stop() {
	<-r.cron.Stop().Done()
}
