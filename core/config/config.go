package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds bot transport settings.
type TelegramConfig struct {
	// Token is an inline bot token; when empty the token is fetched via Secrets.BotToken.
	Token     string `yaml:"token" envconfig:"BOT_TOKEN"`
	BotName   string `yaml:"bot_name" envconfig:"TELEGRAM_BOT_NAME"`
	ParseMode string `yaml:"parse_mode" envconfig:"TELEGRAM_PARSE_MODE"`
	// RateLimit bounds outbound API calls per second across the worker.
	RateLimit    float64       `yaml:"rate_limit" envconfig:"TELEGRAM_RATE_LIMIT"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"TELEGRAM_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"TELEGRAM_RETRY_BACKOFF"`
}

// WebhookConfig specifies the ingress HTTP listener.
type WebhookConfig struct {
	URL             string        `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen          string        `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port            int           `yaml:"port" envconfig:"WEBHOOK_PORT"`
	Path            string        `yaml:"path" envconfig:"WEBHOOK_PATH"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"WEBHOOK_SHUTDOWN_TIMEOUT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	File        string `yaml:"file"`
	ErrorsFile  string `yaml:"errors_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// DSN renders the URL form used by golang-migrate.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// AWSConfig configures the shared SDK config. Endpoint overrides every client (localstack).
type AWSConfig struct {
	Region          string `yaml:"region" envconfig:"AWS_REGION"`
	Endpoint        string `yaml:"endpoint" envconfig:"AWS_ENDPOINT_URL"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"AWS_SECRET_ACCESS_KEY"`
}

// SecretsConfig maps logical secret names onto the configured provider.
type SecretsConfig struct {
	Provider      string            `yaml:"provider" envconfig:"SECRETS_PROVIDER"`
	CacheTTL      time.Duration     `yaml:"cache_ttl" envconfig:"SECRETS_CACHE_TTL"`
	BotToken      string            `yaml:"bot_token" envconfig:"SECRETS_BOT_TOKEN"`
	WebhookSecret string            `yaml:"webhook_secret" envconfig:"SECRETS_WEBHOOK_SECRET"`
	SigningKey    string            `yaml:"signing_key" envconfig:"SECRETS_SIGNING_KEY"`
	Values        map[string]string `yaml:"values" envconfig:"SECRETS_VALUES"`
}

// MediaConfig selects the signed URL strategy.
type MediaConfig struct {
	Signer    string        `yaml:"signer" envconfig:"MEDIA_SIGNER"`
	Domain    string        `yaml:"domain" envconfig:"MEDIA_DOMAIN"`
	KeyPairID string        `yaml:"key_pair_id" envconfig:"MEDIA_KEY_PAIR_ID"`
	Bucket    string        `yaml:"bucket" envconfig:"MEDIA_BUCKET"`
	TTL       time.Duration `yaml:"ttl" envconfig:"MEDIA_TTL"`
}

// GreetingConfig configures the synthesized greeting cache.
type GreetingConfig struct {
	Bucket   string `yaml:"bucket" envconfig:"GREETING_BUCKET"`
	KMSKeyID string `yaml:"kms_key_id" envconfig:"GREETING_KMS_KEY_ID"`
	Version  string `yaml:"version" envconfig:"GREETING_VERSION"`
}

// QueueConfig configures the update queue between ingress and worker.
type QueueConfig struct {
	Driver            string        `yaml:"driver" envconfig:"QUEUE_DRIVER"`
	URL               string        `yaml:"url" envconfig:"QUEUE_URL"`
	RedisURL          string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	Name              string        `yaml:"name" envconfig:"QUEUE_NAME"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" envconfig:"QUEUE_VISIBILITY_TIMEOUT"`
	MaxReceives       int           `yaml:"max_receives" envconfig:"QUEUE_MAX_RECEIVES"`
	BatchSize         int           `yaml:"batch_size" envconfig:"QUEUE_BATCH_SIZE"`
	WaitTime          time.Duration `yaml:"wait_time" envconfig:"QUEUE_WAIT_TIME"`
	ReclaimEvery      time.Duration `yaml:"reclaim_every" envconfig:"QUEUE_RECLAIM_EVERY"`
}

// WorkerConfig tunes envelope processing.
type WorkerConfig struct {
	Concurrency int  `yaml:"concurrency" envconfig:"WORKER_CONCURRENCY"`
	DedupEvents bool `yaml:"dedup_events" envconfig:"WORKER_DEDUP_EVENTS"`
}

// OnboardingConfig tunes the start flow.
type OnboardingConfig struct {
	TokenMaxAge time.Duration `yaml:"token_max_age" envconfig:"ONBOARDING_TOKEN_MAX_AGE"`
	InlineMedia bool          `yaml:"inline_media" envconfig:"ONBOARDING_INLINE_MEDIA"`
}

const (
	// SecretsSSM reads parameters from SSM Parameter Store.
	SecretsSSM = "ssm"
	// SecretsManager reads from AWS Secrets Manager.
	SecretsManager = "secretsmanager"
	// SecretsStatic serves values from configuration; intended for local runs.
	SecretsStatic = "static"

	// SignerCloudFront issues CloudFront signed URLs.
	SignerCloudFront = "cloudfront"
	// SignerS3 issues S3 pre-signed GET URLs.
	SignerS3 = "s3"

	// QueueSQS selects Amazon SQS.
	QueueSQS = "sqs"
	// QueueRedis selects the Redis list based queue.
	QueueRedis = "redis"
)

const (
	defaultWebhookPath   = "/webhook"
	defaultWebhookPort   = 8080
	defaultSecretsTTL    = 5 * time.Minute
	defaultMediaTTL      = 10 * time.Minute
	minCloudFrontTTL     = 5 * time.Minute
	maxCloudFrontTTL     = 15 * time.Minute
	defaultGreetingVer   = "v1"
	defaultQueueName     = "concierge:updates"
	defaultVisibility    = 60 * time.Second
	defaultMaxReceives   = 5
	defaultBatchSize     = 10
	defaultWaitTime      = 20 * time.Second
	defaultReclaimEvery  = 15 * time.Second
	defaultTokenMaxAge   = 7 * 24 * time.Hour
	defaultParseMode     = "Markdown"
	defaultRateLimit     = 25
	defaultRetryBackoff  = time.Second
	defaultTelegramRetry = 2
)

// Config aggregates every section of the service configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	AWS        AWSConfig        `yaml:"aws"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Media      MediaConfig      `yaml:"media"`
	Greeting   GreetingConfig   `yaml:"greeting"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Onboarding OnboardingConfig `yaml:"onboarding"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := normalizeTelegram(cfg); err != nil {
		return err
	}
	if err := normalizeWebhook(&cfg.Webhook); err != nil {
		return err
	}
	if err := normalizeSecrets(cfg); err != nil {
		return err
	}
	if err := normalizeMedia(cfg); err != nil {
		return err
	}
	if err := normalizeQueue(&cfg.Queue); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Greeting.Bucket) == "" {
		return fmt.Errorf("greeting.bucket is required")
	}
	if strings.TrimSpace(cfg.Greeting.Version) == "" {
		cfg.Greeting.Version = defaultGreetingVer
	}

	if cfg.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must be >= 0")
	}
	if cfg.Onboarding.TokenMaxAge <= 0 {
		cfg.Onboarding.TokenMaxAge = defaultTokenMaxAge
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	tg := &cfg.Telegram
	if strings.TrimSpace(tg.Token) == "" && strings.TrimSpace(cfg.Secrets.BotToken) == "" {
		return fmt.Errorf("telegram token is required: set telegram.token or secrets.bot_token")
	}
	tg.BotName = strings.TrimPrefix(strings.TrimSpace(tg.BotName), "@")
	switch strings.ToLower(strings.TrimSpace(tg.ParseMode)) {
	case "":
		tg.ParseMode = defaultParseMode
	case "markdown":
		tg.ParseMode = "Markdown"
	case "markdownv2":
		tg.ParseMode = "MarkdownV2"
	case "html":
		tg.ParseMode = "HTML"
	case "none", "plain", "text":
		tg.ParseMode = "none"
	default:
		return fmt.Errorf("invalid telegram.parse_mode %q; allowed: Markdown, MarkdownV2, HTML, none", tg.ParseMode)
	}
	if tg.RateLimit < 0 {
		return fmt.Errorf("telegram.rate_limit must be >= 0")
	}
	if tg.RateLimit == 0 {
		tg.RateLimit = defaultRateLimit
	}
	if tg.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must be >= 0")
	}
	if tg.MaxRetries == 0 {
		tg.MaxRetries = defaultTelegramRetry
	}
	if tg.RetryBackoff <= 0 {
		tg.RetryBackoff = defaultRetryBackoff
	}
	return nil
}

func normalizeWebhook(wh *WebhookConfig) error {
	wh.Path = strings.TrimSpace(wh.Path)
	if wh.Path == "" {
		wh.Path = defaultWebhookPath
	}
	if !strings.HasPrefix(wh.Path, "/") {
		wh.Path = "/" + wh.Path
	}
	if wh.Port < 0 {
		return fmt.Errorf("webhook.port must be > 0")
	}
	if wh.Port == 0 {
		wh.Port = defaultWebhookPort
	}
	if wh.ShutdownTimeout <= 0 {
		wh.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

func normalizeSecrets(cfg *Config) error {
	s := &cfg.Secrets
	p := strings.ToLower(strings.TrimSpace(s.Provider))
	if p == "" {
		p = SecretsSSM
	}
	if p == "env" { // accept alias
		p = SecretsStatic
	}
	switch p {
	case SecretsSSM, SecretsManager, SecretsStatic:
	default:
		return fmt.Errorf("invalid secrets.provider %q; allowed: ssm, secretsmanager, static", s.Provider)
	}
	s.Provider = p
	if strings.TrimSpace(s.WebhookSecret) == "" {
		return fmt.Errorf("secrets.webhook_secret is required")
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = defaultSecretsTTL
	}
	return nil
}

func normalizeMedia(cfg *Config) error {
	m := &cfg.Media
	signer := strings.ToLower(strings.TrimSpace(m.Signer))
	if signer == "" {
		signer = SignerCloudFront
	}
	if m.TTL <= 0 {
		m.TTL = defaultMediaTTL
	}
	switch signer {
	case SignerCloudFront:
		if strings.TrimSpace(m.Domain) == "" {
			return fmt.Errorf("media.domain is required when media.signer is 'cloudfront'")
		}
		if strings.TrimSpace(m.KeyPairID) == "" {
			return fmt.Errorf("media.key_pair_id is required when media.signer is 'cloudfront'")
		}
		if strings.TrimSpace(cfg.Secrets.SigningKey) == "" {
			return fmt.Errorf("secrets.signing_key is required when media.signer is 'cloudfront'")
		}
		m.TTL = clamp(m.TTL, minCloudFrontTTL, maxCloudFrontTTL)
	case SignerS3:
		if strings.TrimSpace(m.Bucket) == "" {
			m.Bucket = cfg.Greeting.Bucket
		}
		if strings.TrimSpace(m.Bucket) == "" {
			return fmt.Errorf("media.bucket is required when media.signer is 's3'")
		}
	default:
		return fmt.Errorf("invalid media.signer %q; allowed: cloudfront, s3", m.Signer)
	}
	m.Signer = signer
	return nil
}

func normalizeQueue(q *QueueConfig) error {
	driver := strings.ToLower(strings.TrimSpace(q.Driver))
	if driver == "" {
		driver = QueueSQS
	}
	switch driver {
	case QueueSQS:
		if strings.TrimSpace(q.URL) == "" {
			return fmt.Errorf("queue.url is required when queue.driver is 'sqs'")
		}
		if q.BatchSize > 10 {
			return fmt.Errorf("queue.batch_size must be <= 10 for sqs")
		}
		if q.WaitTime > defaultWaitTime {
			return fmt.Errorf("queue.wait_time must be <= 20s for sqs")
		}
	case QueueRedis:
		if strings.TrimSpace(q.RedisURL) == "" {
			return fmt.Errorf("queue.redis_url is required when queue.driver is 'redis'")
		}
	default:
		return fmt.Errorf("invalid queue.driver %q; allowed: sqs, redis", q.Driver)
	}
	q.Driver = driver

	if strings.TrimSpace(q.Name) == "" {
		q.Name = defaultQueueName
	}
	if q.VisibilityTimeout <= 0 {
		q.VisibilityTimeout = defaultVisibility
	}
	if q.MaxReceives <= 0 {
		q.MaxReceives = defaultMaxReceives
	}
	if q.BatchSize <= 0 {
		q.BatchSize = defaultBatchSize
	}
	if q.WaitTime <= 0 {
		q.WaitTime = defaultWaitTime
	}
	if q.ReclaimEvery <= 0 {
		q.ReclaimEvery = defaultReclaimEvery
	}
	return nil
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
