package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultEventLimit caps ListEventsByUser when no limit is given.
const DefaultEventLimit = 50

// DedupKey returns the event dedup key for a Telegram update id.
func DedupKey(updateID int) string {
	return fmt.Sprintf("update:%d", updateID)
}

// CreateEvent appends e, assigning an id when missing. With a dedup key the
// insert is skipped on conflict and the boolean reports whether a row was written.
func (p *Postgres) CreateEvent(ctx context.Context, e *Event) (bool, error) {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.UserID == "" {
		e.UserID = UnknownUserID
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.now()
	}
	payload := "{}"
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}

	q := `INSERT INTO events (event_id, user_id, event_type, payload, occurred_at, processed, dedup_key, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)`
	if e.DedupKey != nil {
		q += ` ON CONFLICT (dedup_key) DO NOTHING`
	}
	res, err := p.db.ExecContext(ctx, q,
		e.EventID, e.UserID, e.EventType, payload, e.OccurredAt, e.Processed, e.DedupKey, p.now(),
	)
	if err != nil {
		return false, fmt.Errorf("store: create event %s: %w", e.EventType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: create event rows: %w", err)
	}
	return n > 0, nil
}

// GetEvent loads an event by id.
func (p *Postgres) GetEvent(ctx context.Context, id uuid.UUID) (Event, bool, error) {
	var e Event
	err := p.db.GetContext(ctx, &e, `SELECT `+eventColumns+` FROM events WHERE event_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("store: get event %s: %w", id, err)
	}
	return e, true, nil
}

// GetEventByDedupKey loads the event claimed under key.
func (p *Postgres) GetEventByDedupKey(ctx context.Context, key string) (Event, bool, error) {
	var e Event
	err := p.db.GetContext(ctx, &e, `SELECT `+eventColumns+` FROM events WHERE dedup_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("store: get event %s: %w", key, err)
	}
	return e, true, nil
}

// ReleaseEvent deletes an event that was never marked processed, freeing its
// dedup key. A processed event is left in place.
func (p *Postgres) ReleaseEvent(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM events WHERE event_id = $1 AND processed = FALSE`, id)
	if err != nil {
		return fmt.Errorf("store: release event %s: %w", id, err)
	}
	return nil
}

// ListEventsByUser returns the newest events of a user first.
func (p *Postgres) ListEventsByUser(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	var out []Event
	err := p.db.SelectContext(ctx, &out,
		`SELECT `+eventColumns+` FROM events WHERE user_id = $1 ORDER BY occurred_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events %s: %w", userID, err)
	}
	return out, nil
}

// MarkEventProcessed flags an event as handled.
func (p *Postgres) MarkEventProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `UPDATE events SET processed = TRUE WHERE event_id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: mark event %s: %w", id, ErrEventNotFound)
	}
	return nil
}
