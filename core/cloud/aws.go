// Package cloud builds AWS SDK clients from application configuration.
package cloud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	coreconfig "github.com/m3rciful/concierge/core/config"
	"github.com/m3rciful/concierge/core/logger"
)

// Clients bundles the SDK clients used by the application. Each field is
// created on demand by the matching method and shares one aws.Config.
type Clients struct {
	AWS      aws.Config
	endpoint string
}

// Load resolves the shared SDK config. Static credentials and a custom
// endpoint are applied only when set, which keeps the default chain for
// production and allows localstack in development.
func Load(ctx context.Context, cfg coreconfig.AWSConfig) (*Clients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	logger.Info(ctx, logger.CompApp, "aws.config_loaded",
		slog.String("region", awsCfg.Region),
		slog.Bool("custom_endpoint", cfg.Endpoint != ""),
	)
	return &Clients{AWS: awsCfg, endpoint: cfg.Endpoint}, nil
}

// S3 returns an S3 client. Path-style addressing is forced with a custom endpoint.
func (c *Clients) S3() *s3.Client {
	return s3.NewFromConfig(c.AWS, func(o *s3.Options) {
		if c.endpoint != "" {
			o.BaseEndpoint = aws.String(c.endpoint)
			o.UsePathStyle = true
		}
	})
}

// Polly returns a Polly client.
func (c *Clients) Polly() *polly.Client {
	return polly.NewFromConfig(c.AWS, func(o *polly.Options) {
		if c.endpoint != "" {
			o.BaseEndpoint = aws.String(c.endpoint)
		}
	})
}

// SQS returns an SQS client.
func (c *Clients) SQS() *sqs.Client {
	return sqs.NewFromConfig(c.AWS, func(o *sqs.Options) {
		if c.endpoint != "" {
			o.BaseEndpoint = aws.String(c.endpoint)
		}
	})
}

// SSM returns an SSM client.
func (c *Clients) SSM() *ssm.Client {
	return ssm.NewFromConfig(c.AWS, func(o *ssm.Options) {
		if c.endpoint != "" {
			o.BaseEndpoint = aws.String(c.endpoint)
		}
	})
}

// SecretsManager returns a Secrets Manager client.
func (c *Clients) SecretsManager() *secretsmanager.Client {
	return secretsmanager.NewFromConfig(c.AWS, func(o *secretsmanager.Options) {
		if c.endpoint != "" {
			o.BaseEndpoint = aws.String(c.endpoint)
		}
	})
}
