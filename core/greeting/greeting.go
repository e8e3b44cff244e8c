// Package greeting produces the per-user synthesized welcome audio.
//
// Objects are immutable once written, so existence of the key is the cache
// hit test. There is no lock; concurrent misses may both synthesize and the
// last write wins.
package greeting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/m3rciful/concierge/core/locale"
	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/storage/objectstore"
)

const (
	// DefaultVersion is the cache generation suffix of greeting keys.
	DefaultVersion = "v1"

	contentType  = "audio/mpeg"
	cacheControl = "private, max-age=31536000, immutable"
)

// ObjectStore is the blob storage used as the cache.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body []byte, opts objectstore.PutOptions) error
}

// Synthesizer renders text to MP3 audio with the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// Voice pairs a TTS voice with the greeting text for a locale.
type Voice struct {
	ID   string
	Text string
}

var voices = map[string]Voice{
	locale.English: {
		ID:   "Matthew",
		Text: "Welcome to Latina Beauty Collection. I'm your concierge. Tap Start to begin.",
	},
	locale.Spanish: {
		ID:   "Lucia",
		Text: "Bienvenido a Latina Beauty Collection. Soy tu concierge. Toca Empezar para comenzar.",
	},
}

// VoiceFor returns the voice for lang, falling back to English.
func VoiceFor(lang string) Voice {
	if v, ok := voices[locale.Normalize(lang)]; ok {
		return v
	}
	return voices[locale.English]
}

// Result describes a resolved greeting object.
type Result struct {
	Key    string
	Lang   string
	Cached bool
}

// Cache resolves greeting audio, synthesizing only on a miss.
type Cache struct {
	store    ObjectStore
	synth    Synthesizer
	version  string
	kmsKeyID string
}

// Option customizes a Cache.
type Option func(*Cache)

// WithVersion overrides the key version suffix.
func WithVersion(v string) Option {
	return func(c *Cache) {
		if v != "" {
			c.version = v
		}
	}
}

// WithKMSKey encrypts new objects with the given KMS key.
func WithKMSKey(id string) Option {
	return func(c *Cache) { c.kmsKeyID = id }
}

// NewCache builds a cache over store and synth.
func NewCache(store ObjectStore, synth Synthesizer, opts ...Option) *Cache {
	c := &Cache{store: store, synth: synth, version: DefaultVersion}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key returns the object key for userID and lang.
func (c *Cache) Key(userID, lang string) string {
	return fmt.Sprintf("tts/%s/%s/greeting_%s.mp3", userID, locale.Normalize(lang), c.version)
}

// GetOrCreate returns the greeting key for userID, synthesizing and storing
// the audio when it does not exist yet.
func (c *Cache) GetOrCreate(ctx context.Context, userID, lang string) (Result, error) {
	lang = locale.Normalize(lang)
	key := c.Key(userID, lang)
	start := time.Now()

	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("greeting: probe %s: %w", key, err)
	}
	if exists {
		logger.Info(ctx, logger.CompGreeting, "greeting.resolved",
			slog.String("cache", "hit"),
			slog.String("key", key),
			slog.String("lang", lang),
		)
		return Result{Key: key, Lang: lang, Cached: true}, nil
	}

	voice := VoiceFor(lang)
	stream, err := c.synth.Synthesize(ctx, voice.Text, voice.ID)
	if err != nil {
		return Result{}, fmt.Errorf("greeting: synthesize: %w", err)
	}
	audio, err := io.ReadAll(stream)
	_ = stream.Close()
	if err != nil {
		return Result{}, fmt.Errorf("greeting: read audio: %w", err)
	}

	if err := c.store.Put(ctx, key, audio, objectstore.PutOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
		KMSKeyID:     c.kmsKeyID,
	}); err != nil {
		return Result{}, fmt.Errorf("greeting: store: %w", err)
	}

	logger.Info(ctx, logger.CompGreeting, "greeting.resolved",
		slog.String("cache", "miss"),
		slog.String("key", key),
		slog.String("lang", lang),
		slog.Int("bytes", len(audio)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return Result{Key: key, Lang: lang, Cached: false}, nil
}
