// Package app assembles the ingress and worker processes from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"

	"github.com/m3rciful/concierge/core/cloud"
	coreconfig "github.com/m3rciful/concierge/core/config"
	"github.com/m3rciful/concierge/core/greeting"
	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/media"
	"github.com/m3rciful/concierge/core/queue"
	"github.com/m3rciful/concierge/core/queue/redisqueue"
	"github.com/m3rciful/concierge/core/queue/sqsqueue"
	"github.com/m3rciful/concierge/core/secrets"
	"github.com/m3rciful/concierge/core/storage/objectstore"
	"github.com/m3rciful/concierge/core/telegram"
	"github.com/m3rciful/concierge/core/telegram/sender"
)

// Deps holds the infrastructure shared by every process. Each accessor builds
// its component once.
type Deps struct {
	Config  *coreconfig.Config
	AWS     *cloud.Clients
	Secrets secrets.Provider

	mu       sync.Mutex
	botToken *secrets.Lazy[string]
	webhook  *secrets.Lazy[string]
	tg       *telegram.Client
	queue    queue.Queue
	redis    *redisqueue.Queue
	closers  []func() error
}

// NewDeps loads the AWS configuration and selects the secrets provider.
func NewDeps(ctx context.Context, cfg *coreconfig.Config) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	clients, err := cloud.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	d := &Deps{Config: cfg, AWS: clients}
	d.Secrets = d.secretProvider()
	logger.Info(ctx, logger.CompApp, "deps.ready",
		slog.String("secrets_provider", cfg.Secrets.Provider),
		slog.String("queue_driver", cfg.Queue.Driver),
		slog.String("media_signer", cfg.Media.Signer),
	)
	return d, nil
}

func (d *Deps) secretProvider() secrets.Provider {
	s := d.Config.Secrets
	switch s.Provider {
	case coreconfig.SecretsManager:
		return secrets.NewSecretsManager(d.AWS.SecretsManager(), s.CacheTTL)
	case coreconfig.SecretsStatic:
		return secrets.Static(s.Values)
	default:
		return secrets.NewSSM(d.AWS.SSM(), s.CacheTTL)
	}
}

// BotToken is the bot token cell. An inline telegram.token skips the provider.
func (d *Deps) BotToken() *secrets.Lazy[string] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.botTokenLocked()
}

func (d *Deps) botTokenLocked() *secrets.Lazy[string] {
	if d.botToken == nil {
		if tok := d.Config.Telegram.Token; tok != "" {
			d.botToken = secrets.Value(tok)
		} else {
			d.botToken = secrets.Memo(d.Secrets, d.Config.Secrets.BotToken)
		}
	}
	return d.botToken
}

// WebhookSecret is the shared secret Telegram echoes on every delivery.
func (d *Deps) WebhookSecret() *secrets.Lazy[string] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.webhook == nil {
		d.webhook = secrets.Memo(d.Secrets, d.Config.Secrets.WebhookSecret)
	}
	return d.webhook
}

// Signer returns the configured media URL signer.
func (d *Deps) Signer() media.Signer {
	m := d.Config.Media
	if m.Signer == coreconfig.SignerS3 {
		return media.NewS3Presigner(s3.NewPresignClient(d.AWS.S3()), m.Bucket)
	}
	key := media.PrivateKey(secrets.Memo(d.Secrets, d.Config.Secrets.SigningKey))
	return media.NewCloudFrontSigner(m.Domain, m.KeyPairID, key)
}

// Greetings returns the greeting audio cache backed by S3 and Polly.
func (d *Deps) Greetings() *greeting.Cache {
	g := d.Config.Greeting
	return greeting.NewCache(
		objectstore.NewS3Store(d.AWS.S3(), g.Bucket),
		greeting.NewPollySynthesizer(d.AWS.Polly()),
		greeting.WithVersion(g.Version),
		greeting.WithKMSKey(g.KMSKeyID),
	)
}

// Telegram returns the bot API client.
func (d *Deps) Telegram() *telegram.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tg == nil {
		tg := d.Config.Telegram
		d.tg = telegram.NewClient(d.botTokenLocked(), telegram.Options{
			ParseMode: tg.ParseMode,
			Sender: sender.Options{
				RatePerSecond: tg.RateLimit,
				MaxRetries:    tg.MaxRetries,
				RetryBackoff:  tg.RetryBackoff,
			},
		})
	}
	return d.tg
}

// Queue connects the configured queue backend.
func (d *Deps) Queue(ctx context.Context) (queue.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		return d.queue, nil
	}
	q := d.Config.Queue
	switch q.Driver {
	case coreconfig.QueueRedis:
		rdb, err := redisqueue.Connect(ctx, q.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		d.closers = append(d.closers, rdb.Close)
		d.redis = redisqueue.New(rdb, redisqueue.Options{
			Name:              q.Name,
			BatchSize:         q.BatchSize,
			WaitTime:          q.WaitTime,
			VisibilityTimeout: q.VisibilityTimeout,
			MaxReceives:       q.MaxReceives,
		})
		d.queue = d.redis
	default:
		d.queue = sqsqueue.New(d.AWS.SQS(), q.URL, sqsqueue.Options{
			BatchSize:         q.BatchSize,
			WaitTime:          q.WaitTime,
			VisibilityTimeout: q.VisibilityTimeout,
		})
	}
	return d.queue, nil
}

// AddCloser registers f to run on Close, in reverse registration order.
func (d *Deps) AddCloser(f func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closers = append(d.closers, f)
}

// Close releases every registered resource and reports all failures.
func (d *Deps) Close() error {
	d.mu.Lock()
	closers := d.closers
	d.closers = nil
	d.mu.Unlock()

	var result *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
