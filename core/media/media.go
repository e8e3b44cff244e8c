// Package media issues short-lived signed URLs for protected objects.
package media

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/cloudfront/sign"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/m3rciful/concierge/core/locale"
	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/secrets"
)

// DefaultTTL is the lifetime of URLs handed to users.
const DefaultTTL = 10 * time.Minute

// ErrInvalidInput reports a missing or malformed signing argument.
var ErrInvalidInput = errors.New("media: invalid input")

// Signer turns an object key into a time-limited URL.
type Signer interface {
	Sign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// WelcomeVideoKey returns the object key of the localized welcome video.
func WelcomeVideoKey(lang string) string {
	return fmt.Sprintf("media/welcome/v1/welcome_%s.mp4", locale.Normalize(lang))
}

func invalid(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
}

// CloudFrontSigner signs URLs for a CloudFront distribution with a canned policy.
type CloudFrontSigner struct {
	domain    string
	keyPairID string
	key       *secrets.Lazy[*rsa.PrivateKey]
	now       func() time.Time
}

// NewCloudFrontSigner returns a signer for domain. The private key is resolved on first Sign.
func NewCloudFrontSigner(domain, keyPairID string, key *secrets.Lazy[*rsa.PrivateKey]) *CloudFrontSigner {
	domain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(domain), "https://"), "/")
	return &CloudFrontSigner{domain: domain, keyPairID: keyPairID, key: key, now: time.Now}
}

// Sign returns https://<domain>/<key> signed to expire after ttl.
func (s *CloudFrontSigner) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	switch {
	case s.domain == "":
		return "", invalid("domain")
	case s.keyPairID == "":
		return "", invalid("key pair id")
	case strings.TrimSpace(key) == "":
		return "", invalid("key")
	case ttl <= 0:
		return "", fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	pk, err := s.key.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("media: load signing key: %w", err)
	}
	raw := fmt.Sprintf("https://%s/%s", s.domain, strings.TrimPrefix(key, "/"))
	signed, err := sign.NewURLSigner(s.keyPairID, pk).Sign(raw, s.now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("media: sign %s: %w", key, err)
	}
	logger.Debug(ctx, logger.CompMedia, "media.signed",
		slog.String("signer", "cloudfront"),
		slog.String("key", key),
		slog.Duration("ttl", ttl),
	)
	return signed, nil
}

// PrivateKey derives an RSA key cell from a PEM secret cell.
func PrivateKey(pemCell *secrets.Lazy[string]) *secrets.Lazy[*rsa.PrivateKey] {
	return secrets.Map(pemCell, ParsePrivateKey)
}

// ParsePrivateKey decodes a PKCS#1 or PKCS#8 RSA key. Escaped "\n" sequences,
// as stored in single-line parameters, are expanded first.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n")
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("media: signing key is not PEM encoded")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("media: parse signing key: %w", err)
	}
	k, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("media: signing key is %T, want RSA", parsed)
	}
	return k, nil
}

// PresignAPI is the subset of s3.PresignClient used here.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Presigner issues pre-signed GET URLs against a bucket.
type S3Presigner struct {
	bucket string
	client PresignAPI
}

// NewS3Presigner returns a presigner for bucket.
func NewS3Presigner(client PresignAPI, bucket string) *S3Presigner {
	return &S3Presigner{bucket: strings.TrimSpace(bucket), client: client}
}

// Sign pre-signs a GET for key valid for ttl.
func (s *S3Presigner) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	switch {
	case s.bucket == "":
		return "", invalid("bucket")
	case strings.TrimSpace(key) == "":
		return "", invalid("key")
	case ttl <= 0:
		return "", fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	req, err := s.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("media: presign %s: %w", key, err)
	}
	logger.Debug(ctx, logger.CompMedia, "media.signed",
		slog.String("signer", "s3"),
		slog.String("key", key),
		slog.Duration("ttl", ttl),
	)
	return req.URL, nil
}
