// Package secrets resolves credentials by logical name.
//
// Providers cache values for a TTL. Long-lived process state such as the bot
// token or the signing key is held in a Lazy cell, loaded once on first use.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/concierge/core/logger"
)

// ErrNotFound is returned when the provider has no value under the requested name.
var ErrNotFound = errors.New("secret not found")

// Provider fetches a secret value by name.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, name string) (string, error)

// Get calls f.
func (f ProviderFunc) Get(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// Static serves values from memory.
type Static map[string]string

// Get returns the value stored under name.
func (s Static) Get(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secrets: %q: %w", name, ErrNotFound)
	}
	return v, nil
}

type cacheItem struct {
	value   string
	expires time.Time
}

// ttlCache memoizes fetched values for a fixed duration.
type ttlCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]cacheItem
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, now: time.Now, items: make(map[string]cacheItem)}
}

func (c *ttlCache) get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[name]
	if !ok || !c.now().Before(it.expires) {
		return "", false
	}
	return it.value, true
}

func (c *ttlCache) put(name, value string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[name] = cacheItem{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) clear() {
	c.mu.Lock()
	c.items = make(map[string]cacheItem)
	c.mu.Unlock()
}

// Lazy is a thread-safe memo cell populated on first successful Get.
// Failed loads are not cached, so the next call retries.
type Lazy[T any] struct {
	mu     sync.Mutex
	load   func(ctx context.Context) (T, error)
	value  T
	loaded bool
}

// NewLazy returns a cell that calls load on first use.
func NewLazy[T any](load func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{load: load}
}

// Value returns a cell that is already populated with v.
func Value[T any](v T) *Lazy[T] {
	return &Lazy[T]{value: v, loaded: true}
}

// Get returns the memoized value, loading it if needed.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.value, nil
	}
	v, err := l.load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.value, l.loaded = v, true
	return v, nil
}

// Memo returns a cell holding the secret stored under name.
func Memo(p Provider, name string) *Lazy[string] {
	return NewLazy(func(ctx context.Context) (string, error) {
		start := time.Now()
		v, err := p.Get(ctx, name)
		if err != nil {
			logger.Error(ctx, logger.CompSecrets, "secret.load_failed",
				slog.String("name", name),
				logger.Err(err),
			)
			return "", err
		}
		logger.Info(ctx, logger.CompSecrets, "secret.loaded",
			slog.String("name", name),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return v, nil
	})
}

// Map derives a cell whose value is f applied to the value of src.
func Map[T, U any](src *Lazy[T], f func(T) (U, error)) *Lazy[U] {
	return NewLazy(func(ctx context.Context) (U, error) {
		v, err := src.Get(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return f(v)
	})
}
