package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/concierge/core/fsm"
	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/token"
)

// Contact is the sender profile carried by every inbound update.
type Contact struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// StartMark records a /start entry. A zero At means the contact was not a start.
type StartMark struct {
	At       time.Time
	Referral token.Attributes
}

// UserPatch lists the fields UpdateUser may change; nil fields are kept.
type UserPatch struct {
	Username     *string
	FirstName    *string
	LastName     *string
	LanguageCode *string
	State        *fsm.State
	Progress     *fsm.Progress
	LastStartAt  *time.Time
	TTSKey       *string
	TTSLang      *string
}

// Transition describes a compare-and-swap state move.
type Transition struct {
	UserID  string
	From    fsm.State
	To      fsm.State
	At      time.Time
	TTSKey  string
	TTSLang string
}

// CreateUser inserts u. A duplicate id yields ErrUserExists.
func (p *Postgres) CreateUser(ctx context.Context, u User) error {
	now := p.now()
	if u.State == "" {
		u.State = fsm.New
	}
	if u.Progress == nil {
		u.Progress = fsm.Progress{}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	const q = `INSERT INTO users (` + userColumns + `)
		VALUES (:user_id, :telegram_id, :username, :first_name, :last_name, :language_code,
			:state, :state_progress, :first_start_at, :last_start_at, :ref_code,
			:utm_source, :utm_medium, :utm_campaign, :tts_key, :tts_lang, :created_at, :updated_at)`
	if _, err := p.db.NamedExecContext(ctx, q, u); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: create user %s: %w", u.UserID, ErrUserExists)
		}
		return fmt.Errorf("store: create user %s: %w", u.UserID, err)
	}
	return nil
}

// GetUser loads a user by id. The boolean is false when no row exists.
func (p *Postgres) GetUser(ctx context.Context, id string) (User, bool, error) {
	var u User
	err := p.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("store: get user %s: %w", id, err)
	}
	return u, true, nil
}

// UpdateUser applies the non-nil fields of patch. The last writer wins.
func (p *Postgres) UpdateUser(ctx context.Context, id string, patch UserPatch) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Username != nil {
		set("username", *patch.Username)
	}
	if patch.FirstName != nil {
		set("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		set("last_name", *patch.LastName)
	}
	if patch.LanguageCode != nil {
		set("language_code", *patch.LanguageCode)
	}
	if patch.State != nil {
		set("state", string(*patch.State))
	}
	if patch.Progress != nil {
		set("state_progress", *patch.Progress)
	}
	if patch.LastStartAt != nil {
		set("last_start_at", *patch.LastStartAt)
	}
	if patch.TTSKey != nil {
		set("tts_key", *patch.TTSKey)
	}
	if patch.TTSLang != nil {
		set("tts_lang", *patch.TTSLang)
	}
	set("updated_at", p.now())
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE users SET %s WHERE user_id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("store: update user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update user %s: %w", id, ErrUserNotFound)
	}
	return nil
}

const upsertProfileQuery = `INSERT INTO users (user_id, telegram_id, username, first_name, last_name, language_code,
		first_start_at, last_start_at, ref_code, utm_source, utm_medium, utm_campaign, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $9, $10, $11, $12, $12)
	ON CONFLICT (user_id) DO UPDATE SET
		username = EXCLUDED.username,
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		language_code = EXCLUDED.language_code,
		first_start_at = COALESCE(users.first_start_at, EXCLUDED.first_start_at),
		last_start_at = COALESCE(EXCLUDED.last_start_at, users.last_start_at),
		ref_code = COALESCE(users.ref_code, EXCLUDED.ref_code),
		utm_source = CASE WHEN ` + utmUnset + ` THEN EXCLUDED.utm_source ELSE users.utm_source END,
		utm_medium = CASE WHEN ` + utmUnset + ` THEN EXCLUDED.utm_medium ELSE users.utm_medium END,
		utm_campaign = CASE WHEN ` + utmUnset + ` THEN EXCLUDED.utm_campaign ELSE users.utm_campaign END,
		updated_at = EXCLUDED.updated_at
	RETURNING ` + userColumns + `, (xmax = 0) AS inserted`

const utmUnset = `users.utm_source IS NULL AND users.utm_medium IS NULL AND users.utm_campaign IS NULL`

// UpsertProfile creates or refreshes the user for c in a single statement.
// Profile fields always take the incoming values; first start time, referral
// code and the UTM triple keep whatever was written first. The boolean
// reports whether the row was inserted.
func (p *Postgres) UpsertProfile(ctx context.Context, c Contact, mark StartMark) (User, bool, error) {
	now := p.now()
	var (
		startAt                  *time.Time
		ref, src, medium, campgn *string
	)
	if !mark.At.IsZero() {
		at := mark.At.UTC()
		startAt = &at
		ref = nullable(mark.Referral.RefCode)
		if mark.Referral.HasUTM() {
			src = nullable(mark.Referral.UTMSource)
			medium = nullable(mark.Referral.UTMMedium)
			campgn = nullable(mark.Referral.UTMCampaign)
		}
	}

	var row struct {
		User
		Inserted bool `db:"inserted"`
	}
	id := UserID(c.TelegramID)
	err := p.db.GetContext(ctx, &row, upsertProfileQuery,
		id, c.TelegramID, c.Username, c.FirstName, c.LastName, c.LanguageCode,
		startAt, ref, src, medium, campgn, now,
	)
	if err != nil {
		return User{}, false, fmt.Errorf("store: upsert profile %s: %w", id, err)
	}
	logger.Debug(ctx, logger.CompStore, "user.upserted",
		slog.String("user_id", id),
		slog.Bool("inserted", row.Inserted),
		slog.String("state_to", string(row.State)),
	)
	return row.User, row.Inserted, nil
}

// TransitionState moves a user from t.From to t.To only if the stored state
// still equals t.From. A lost race yields ErrStateConflict.
func (p *Postgres) TransitionState(ctx context.Context, t Transition) error {
	if !fsm.IsValidTransition(t.From, t.To) {
		return fmt.Errorf("store: %s -> %s: %w", t.From, t.To, ErrInvalidTransition)
	}
	at := t.At
	if at.IsZero() {
		at = p.now()
	}
	entry, err := fsm.Progress{}.Append(t.To, at.UTC()).Value()
	if err != nil {
		return fmt.Errorf("store: encode progress: %w", err)
	}

	const q = `UPDATE users SET
			state = $3,
			state_progress = state_progress || $4::jsonb,
			tts_key = COALESCE($5, tts_key),
			tts_lang = COALESCE($6, tts_lang),
			updated_at = $7
		WHERE user_id = $1 AND state = $2`
	res, err := p.db.ExecContext(ctx, q,
		t.UserID, string(fsm.Normalize(t.From)), string(t.To), entry,
		nullable(t.TTSKey), nullable(t.TTSLang), p.now(),
	)
	if err != nil {
		return fmt.Errorf("store: transition %s: %w", t.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: transition %s from %s: %w", t.UserID, t.From, ErrStateConflict)
	}
	logger.Info(ctx, logger.CompStore, "user.state_changed",
		slog.String("user_id", t.UserID),
		slog.String("state_from", string(t.From)),
		slog.String("state_to", string(t.To)),
	)
	return nil
}

// ResetState puts the user back to NEW with an empty progress trail.
func (p *Postgres) ResetState(ctx context.Context, id string) error {
	const q = `UPDATE users SET state = $2, state_progress = '[]'::jsonb, updated_at = $3 WHERE user_id = $1`
	res, err := p.db.ExecContext(ctx, q, id, string(fsm.New), p.now())
	if err != nil {
		return fmt.Errorf("store: reset %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: reset %s: %w", id, ErrUserNotFound)
	}
	logger.Info(ctx, logger.CompStore, "user.state_reset", slog.String("user_id", id))
	return nil
}
