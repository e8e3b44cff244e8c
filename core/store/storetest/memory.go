// Package storetest provides an in-memory store with the same write rules as
// the Postgres implementation, for tests of code built on top of the store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/concierge/core/fsm"
	"github.com/m3rciful/concierge/core/store"
)

// Memory is a concurrency-safe in-memory store.
type Memory struct {
	mu     sync.Mutex
	users  map[string]store.User
	events []store.Event
	dedup  map[string]struct{}

	// Now stamps created_at and updated_at.
	Now func() time.Time
	// BeforeTransition, when set, runs under the lock before a transition is
	// applied; a non-nil error is returned instead.
	BeforeTransition func(t store.Transition) error
	// Err, when set, fails every call.
	Err error

	transitions int
}

// New returns an empty store.
func New() *Memory {
	return &Memory{
		users: make(map[string]store.User),
		dedup: make(map[string]struct{}),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// User returns a copy of the stored user.
func (m *Memory) User(id string) (store.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}

// PutUser stores u as is.
func (m *Memory) PutUser(u store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
}

// Events returns every appended event in insertion order.
func (m *Memory) Events() []store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Event(nil), m.events...)
}

// Transitions counts applied state transitions.
func (m *Memory) Transitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions
}

func (m *Memory) CreateUser(_ context.Context, u store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.users[u.UserID]; ok {
		return fmt.Errorf("store: create user %s: %w", u.UserID, store.ErrUserExists)
	}
	if u.State == "" {
		u.State = fsm.New
	}
	m.users[u.UserID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (store.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return store.User{}, false, m.Err
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *Memory) UpsertProfile(_ context.Context, c store.Contact, mark store.StartMark) (store.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return store.User{}, false, m.Err
	}
	now := m.Now()
	id := store.UserID(c.TelegramID)
	u, exists := m.users[id]
	if !exists {
		u = store.User{UserID: id, TelegramID: c.TelegramID, State: fsm.New, Progress: fsm.Progress{}, CreatedAt: now}
	}
	u.Username, u.FirstName, u.LastName, u.LanguageCode = c.Username, c.FirstName, c.LastName, c.LanguageCode
	if !mark.At.IsZero() {
		at := mark.At.UTC()
		if u.FirstStartAt == nil {
			u.FirstStartAt = &at
		}
		u.LastStartAt = &at
		ref := mark.Referral
		if u.RefCode == nil {
			u.RefCode = optional(ref.RefCode)
		}
		if ref.HasUTM() && u.UTMSource == nil && u.UTMMedium == nil && u.UTMCampaign == nil {
			u.UTMSource, u.UTMMedium, u.UTMCampaign = optional(ref.UTMSource), optional(ref.UTMMedium), optional(ref.UTMCampaign)
		}
	}
	u.UpdatedAt = now
	m.users[id] = u
	return u, !exists, nil
}

func (m *Memory) TransitionState(_ context.Context, t store.Transition) error {
	if !fsm.IsValidTransition(t.From, t.To) {
		return fmt.Errorf("store: %s -> %s: %w", t.From, t.To, store.ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.BeforeTransition != nil {
		if err := m.BeforeTransition(t); err != nil {
			return err
		}
	}
	u, ok := m.users[t.UserID]
	if !ok || u.State != fsm.Normalize(t.From) {
		return fmt.Errorf("store: transition %s from %s: %w", t.UserID, t.From, store.ErrStateConflict)
	}
	u.State = t.To
	u.Progress = u.Progress.Append(t.To, t.At.UTC())
	if t.TTSKey != "" {
		u.TTSKey = optional(t.TTSKey)
	}
	if t.TTSLang != "" {
		u.TTSLang = optional(t.TTSLang)
	}
	u.UpdatedAt = m.Now()
	m.users[t.UserID] = u
	m.transitions++
	return nil
}

func (m *Memory) ResetState(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("store: reset %s: %w", id, store.ErrUserNotFound)
	}
	u.State = fsm.New
	u.Progress = fsm.Progress{}
	u.UpdatedAt = m.Now()
	m.users[id] = u
	return nil
}

func (m *Memory) CreateEvent(_ context.Context, e *store.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.UserID == "" {
		e.UserID = store.UnknownUserID
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = m.Now()
	}
	if e.DedupKey != nil {
		if _, dup := m.dedup[*e.DedupKey]; dup {
			return false, nil
		}
		m.dedup[*e.DedupKey] = struct{}{}
	}
	e.CreatedAt = m.Now()
	m.events = append(m.events, *e)
	return true, nil
}

func (m *Memory) GetEvent(_ context.Context, id uuid.UUID) (store.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.EventID == id {
			return e, true, nil
		}
	}
	return store.Event{}, false, nil
}

func (m *Memory) GetEventByDedupKey(_ context.Context, key string) (store.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return store.Event{}, false, m.Err
	}
	for _, e := range m.events {
		if e.DedupKey != nil && *e.DedupKey == key {
			return e, true, nil
		}
	}
	return store.Event{}, false, nil
}

func (m *Memory) ReleaseEvent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for i, e := range m.events {
		if e.EventID != id || e.Processed {
			continue
		}
		if e.DedupKey != nil {
			delete(m.dedup, *e.DedupKey)
		}
		m.events = append(m.events[:i], m.events[i+1:]...)
		return nil
	}
	return nil
}

func (m *Memory) ListEventsByUser(_ context.Context, userID string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Event
	for _, e := range m.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkEventProcessed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].EventID == id {
			m.events[i].Processed = true
			return nil
		}
	}
	return fmt.Errorf("store: mark event %s: %w", id, store.ErrEventNotFound)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
