// Package store persists users and their onboarding events in PostgreSQL.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/concierge/core/fsm"
)

var (
	// ErrUserExists is returned by CreateUser for a duplicate id.
	ErrUserExists = errors.New("store: user already exists")
	// ErrUserNotFound is returned when an update targets a missing user.
	ErrUserNotFound = errors.New("store: user not found")
	// ErrEventNotFound is returned when an update targets a missing event.
	ErrEventNotFound = errors.New("store: event not found")
	// ErrStateConflict means the stored state no longer matches the expected one.
	ErrStateConflict = errors.New("store: state changed concurrently")
	// ErrInvalidTransition rejects a move the state machine does not allow.
	ErrInvalidTransition = errors.New("store: invalid state transition")
)

// UnknownUserID is recorded on events without an identifiable sender.
const UnknownUserID = "unknown"

// UserID returns the storage id for a Telegram user.
func UserID(telegramID int64) string {
	return fmt.Sprintf("telegram_%d", telegramID)
}

// User is a row of the users table.
type User struct {
	UserID       string       `db:"user_id"`
	TelegramID   int64        `db:"telegram_id"`
	Username     string       `db:"username"`
	FirstName    string       `db:"first_name"`
	LastName     string       `db:"last_name"`
	LanguageCode string       `db:"language_code"`
	State        fsm.State    `db:"state"`
	Progress     fsm.Progress `db:"state_progress"`
	FirstStartAt *time.Time   `db:"first_start_at"`
	LastStartAt  *time.Time   `db:"last_start_at"`
	RefCode      *string      `db:"ref_code"`
	UTMSource    *string      `db:"utm_source"`
	UTMMedium    *string      `db:"utm_medium"`
	UTMCampaign  *string      `db:"utm_campaign"`
	TTSKey       *string      `db:"tts_key"`
	TTSLang      *string      `db:"tts_lang"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

// Event is a row of the append-only events table.
type Event struct {
	EventID    uuid.UUID       `db:"event_id"`
	UserID     string          `db:"user_id"`
	EventType  string          `db:"event_type"`
	Payload    json.RawMessage `db:"payload"`
	OccurredAt time.Time       `db:"occurred_at"`
	Processed  bool            `db:"processed"`
	DedupKey   *string         `db:"dedup_key"`
	CreatedAt  time.Time       `db:"created_at"`
}

const userColumns = `user_id, telegram_id, username, first_name, last_name, language_code,
	state, state_progress, first_start_at, last_start_at, ref_code,
	utm_source, utm_medium, utm_campaign, tts_key, tts_lang, created_at, updated_at`

const eventColumns = `event_id, user_id, event_type, payload, occurred_at, processed, dedup_key, created_at`

// Postgres implements user and event persistence on sqlx.
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

// New returns a store over db.
func New(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
