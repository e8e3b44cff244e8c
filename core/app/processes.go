package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/concierge/core/ingress"
	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/onboarding"
	"github.com/m3rciful/concierge/core/queue/redisqueue"
	"github.com/m3rciful/concierge/core/store"
	"github.com/m3rciful/concierge/core/telegram"
	"github.com/m3rciful/concierge/core/worker"
)

// Ingress serves the webhook endpoint.
type Ingress struct {
	deps            *Deps
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
}

// NewIngress builds the HTTP handler that authenticates and enqueues updates.
func NewIngress(ctx context.Context, deps *Deps) (*Ingress, error) {
	q, err := deps.Queue(ctx)
	if err != nil {
		return nil, err
	}
	wh := deps.Config.Webhook
	h := ingress.NewHandler(deps.WebhookSecret(), q)
	return &Ingress{
		deps:            deps,
		Addr:            net.JoinHostPort(wh.Listen, strconv.Itoa(wh.Port)),
		Handler:         ingress.NewRouter(wh.Path, h),
		ShutdownTimeout: wh.ShutdownTimeout,
	}, nil
}

// Run listens until ctx is cancelled.
func (a *Ingress) Run(ctx context.Context) error {
	return ingress.Serve(ctx, a.Addr, a.Handler, a.ShutdownTimeout)
}

// Close releases the queue connection.
func (a *Ingress) Close() error { return a.deps.Close() }

// Worker consumes the queue and runs onboarding.
type Worker struct {
	deps     *Deps
	Runner   *worker.Runner
	Registry *telegram.Registry
}

// NewWorker wires the processor over db. The Redis reclaimer is started by Run.
func NewWorker(ctx context.Context, deps *Deps, db *sqlx.DB) (*Worker, error) {
	if db == nil {
		return nil, fmt.Errorf("app: worker requires a database")
	}
	q, err := deps.Queue(ctx)
	if err != nil {
		return nil, err
	}
	cfg := deps.Config
	st := store.New(db)

	svc := onboarding.NewService(st, deps.Signer(), deps.Greetings(), deps.Telegram(), onboarding.Options{
		MediaTTL:    cfg.Media.TTL,
		TokenMaxAge: cfg.Onboarding.TokenMaxAge,
		InlineMedia: cfg.Onboarding.InlineMedia,
	})
	reg := telegram.NewRegistry()
	if err := svc.Register(reg); err != nil {
		return nil, fmt.Errorf("app: register commands: %w", err)
	}

	proc := worker.NewProcessor(st, reg, worker.Options{
		Concurrency: cfg.Worker.Concurrency,
		DedupEvents: cfg.Worker.DedupEvents,
		ClaimTTL:    cfg.Queue.VisibilityTimeout,
		BotName:     cfg.Telegram.BotName,
	})
	logger.Info(ctx, logger.CompWorker, "worker.wired",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Bool("dedup_events", cfg.Worker.DedupEvents),
		slog.Int("commands", len(reg.ListCommands(false))),
	)
	return &Worker{deps: deps, Runner: worker.NewRunner(q, proc), Registry: reg}, nil
}

// Run consumes until ctx is cancelled.
func (a *Worker) Run(ctx context.Context) error {
	if a.deps.redis != nil {
		r, err := redisqueue.StartReclaimer(ctx, a.deps.redis, a.deps.Config.Queue.ReclaimEvery)
		if err != nil {
			return err
		}
		defer r.Stop()
	}
	return a.Runner.Run(ctx)
}

// Close releases the queue connection.
func (a *Worker) Close() error { return a.deps.Close() }

// CommandRegistry lists the bot commands without wiring their dependencies.
// Only names and descriptions are read from it.
func CommandRegistry() (*telegram.Registry, error) {
	reg := telegram.NewRegistry()
	svc := onboarding.NewService(nil, nil, nil, nil, onboarding.Options{})
	if err := svc.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
