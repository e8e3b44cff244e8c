// Package worker consumes queued updates, routes them to command handlers and
// records one event per processed envelope.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/onboarding"
	"github.com/m3rciful/concierge/core/queue"
	"github.com/m3rciful/concierge/core/store"
	"github.com/m3rciful/concierge/core/telegram"
)

// ErrInProgress reports that another delivery of the same update holds the
// dedup claim. The message is left for redelivery.
var ErrInProgress = errors.New("update is being processed")

// DefaultClaimTTL is how long an unfinished claim blocks redeliveries.
const DefaultClaimTTL = time.Minute

// Store is the persistence used outside command handlers.
type Store interface {
	UpsertProfile(ctx context.Context, c store.Contact, mark store.StartMark) (store.User, bool, error)
	CreateEvent(ctx context.Context, e *store.Event) (bool, error)
	GetEventByDedupKey(ctx context.Context, key string) (store.Event, bool, error)
	MarkEventProcessed(ctx context.Context, id uuid.UUID) error
	ReleaseEvent(ctx context.Context, id uuid.UUID) error
}

// Options tunes processing.
type Options struct {
	// Concurrency bounds parallel handling inside a batch; zero means unbounded.
	Concurrency int
	// DedupEvents claims each update id before routing, so a redelivered
	// update that was already handled is skipped and appends nothing.
	DedupEvents bool
	// ClaimTTL is how long an unfinished claim blocks other deliveries before
	// it is taken over. Keep it at or above the queue visibility timeout.
	ClaimTTL time.Duration
	// BotName lets /cmd@BotName match; commands for other bots are ignored.
	BotName string
}

// Processor handles decoded envelopes.
type Processor struct {
	store Store
	reg   *telegram.Registry
	opts  Options
	now   func() time.Time
}

// NewProcessor returns a processor routing commands through reg.
func NewProcessor(st Store, reg *telegram.Registry, opts Options) *Processor {
	if opts.Concurrency < 0 {
		opts.Concurrency = 0
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = DefaultClaimTTL
	}
	return &Processor{store: st, reg: reg, opts: opts, now: time.Now}
}

// Handle processes one message. A returned error leaves it for redelivery.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	env, err := queue.Decode(msg.Body)
	if err != nil {
		return err
	}
	var upd tele.Update
	if len(env.Update) > 0 {
		if err := json.Unmarshal(env.Update, &upd); err != nil {
			return fmt.Errorf("worker: decode update: %w", err)
		}
	}
	ctx = logger.WithMessageID(telegram.UpdateContext(ctx, &upd), msg.ID)

	claim, done, err := p.claim(ctx, env, &upd)
	if err != nil || done {
		return err
	}

	start := time.Now()
	handler, err := p.route(ctx, env.EventType, &upd)
	logHandlerSummary(ctx, handler, start, err,
		slog.String("event_type", env.EventType),
		slog.Int("receive_count", msg.ReceiveCount),
	)
	if err != nil {
		p.release(ctx, claim)
		return err
	}
	if claim != nil {
		return p.complete(ctx, claim)
	}
	return p.record(ctx, env, &upd)
}

func (p *Processor) route(ctx context.Context, eventType string, upd *tele.Update) (string, error) {
	switch eventType {
	case telegram.KindMessage:
		return p.handleMessage(ctx, upd.Message)
	case telegram.KindEditedMessage:
		logger.Debug(ctx, logger.CompWorker, "worker.edited_message")
		return "edited_message", nil
	case telegram.KindCallbackQuery:
		return p.handleCallback(ctx, upd.Callback)
	}
	logger.Warn(ctx, logger.CompWorker, "worker.unknown_type", slog.String("event_type", eventType))
	return "unknown", nil
}

func (p *Processor) handleMessage(ctx context.Context, m *tele.Message) (string, error) {
	if m == nil {
		return "message", nil
	}
	if p.reg != nil {
		if name, cmd, payload, ok := p.reg.Match(m.Text, p.opts.BotName); ok {
			handler := normalizeHandlerName(name)
			return handler, cmd.Handler(logger.WithHandler(ctx, handler), m, payload)
		}
	}
	if m.Sender == nil {
		return "message", nil
	}
	return "message", p.upsert(ctx, m.Sender)
}

func (p *Processor) handleCallback(ctx context.Context, cb *tele.Callback) (string, error) {
	if cb == nil || cb.Sender == nil {
		return "callback", nil
	}
	if err := p.upsert(ctx, cb.Sender); err != nil {
		return "callback", err
	}
	key, payload := telegram.ParseCallback(cb)
	if p.reg == nil || key == "" {
		return "callback", nil
	}
	h, ok := p.reg.GetCallback(key)
	if !ok {
		return "callback", nil
	}
	handler := "callback." + normalizeHandlerName(key)
	return handler, h(logger.WithHandler(ctx, handler), cb, payload)
}

func (p *Processor) upsert(ctx context.Context, u *tele.User) error {
	if _, _, err := p.store.UpsertProfile(ctx, onboarding.ContactOf(u), store.StartMark{}); err != nil {
		return fmt.Errorf("worker: upsert %d: %w", u.ID, err)
	}
	return nil
}

func (p *Processor) newEvent(env queue.Envelope, upd *tele.Update) *store.Event {
	e := &store.Event{
		UserID:     store.UnknownUserID,
		EventType:  env.EventType,
		Payload:    env.Update,
		OccurredAt: env.ReceivedAt,
	}
	if s := telegram.SenderOf(upd); s != nil {
		e.UserID = store.UserID(s.ID)
	}
	return e
}

// claim reserves the update id before any side effect runs. done reports an
// update that an earlier delivery already handled.
func (p *Processor) claim(ctx context.Context, env queue.Envelope, upd *tele.Update) (e *store.Event, done bool, err error) {
	if !p.opts.DedupEvents || upd.ID == 0 {
		return nil, false, nil
	}
	key := store.DedupKey(upd.ID)
	e = p.newEvent(env, upd)
	e.DedupKey = &key
	inserted, err := p.store.CreateEvent(ctx, e)
	if err != nil {
		return nil, false, fmt.Errorf("worker: claim %s: %w", key, err)
	}
	if inserted {
		return e, false, nil
	}

	prev, ok, err := p.store.GetEventByDedupKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("worker: claim %s: %w", key, err)
	}
	if !ok {
		// Released between the insert and the lookup; the next delivery claims it.
		return nil, false, fmt.Errorf("worker: claim %s: %w", key, ErrInProgress)
	}
	if prev.Processed {
		logger.Info(ctx, logger.CompWorker, "event.duplicate", slog.String("dedup_key", key))
		return nil, true, nil
	}
	if age := p.now().Sub(prev.CreatedAt); age < p.opts.ClaimTTL {
		return nil, false, fmt.Errorf("worker: claim %s: %w", key, ErrInProgress)
	}
	logger.Warn(ctx, logger.CompWorker, "event.claim_taken_over",
		slog.String("dedup_key", key),
		slog.String("event_id", prev.EventID.String()),
	)
	return &prev, false, nil
}

func (p *Processor) release(ctx context.Context, claim *store.Event) {
	if claim == nil {
		return
	}
	if err := p.store.ReleaseEvent(ctx, claim.EventID); err != nil {
		logger.Warn(ctx, logger.CompWorker, "event.release_failed",
			slog.String("event_id", claim.EventID.String()),
			logger.Err(err),
		)
	}
}

func (p *Processor) complete(ctx context.Context, claim *store.Event) error {
	if err := p.store.MarkEventProcessed(ctx, claim.EventID); err != nil {
		return fmt.Errorf("worker: complete event: %w", err)
	}
	logger.Debug(ctx, logger.CompWorker, "event.recorded",
		slog.String("event_id", claim.EventID.String()),
		slog.String("user_id", claim.UserID),
	)
	return nil
}

func (p *Processor) record(ctx context.Context, env queue.Envelope, upd *tele.Update) error {
	e := p.newEvent(env, upd)
	e.Processed = true
	if _, err := p.store.CreateEvent(ctx, e); err != nil {
		return fmt.Errorf("worker: record event: %w", err)
	}
	logger.Debug(ctx, logger.CompWorker, "event.recorded",
		slog.String("event_id", e.EventID.String()),
		slog.String("user_id", e.UserID),
	)
	return nil
}
