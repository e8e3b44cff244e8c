package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSM reads SecureString parameters with decryption and caches them for a TTL.
type SSM struct {
	client SSMAPI
	cache  *ttlCache
}

// NewSSM wraps client with a cache of the given TTL.
func NewSSM(client SSMAPI, ttl time.Duration) *SSM {
	return &SSM{client: client, cache: newTTLCache(ttl)}
}

// Get returns the decrypted parameter value.
func (s *SSM) Get(ctx context.Context, name string) (string, error) {
	if v, ok := s.cache.get(name); ok {
		return v, nil
	}
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("secrets: ssm %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("secrets: ssm get %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: ssm %q: %w", name, ErrNotFound)
	}
	v := aws.ToString(out.Parameter.Value)
	s.cache.put(name, v)
	return v, nil
}

// GetMany fetches several parameters in one call; cached names are not re-fetched.
// Names the service reports as invalid are absent from the result.
func (s *SSM) GetMany(ctx context.Context, names []string) (map[string]string, error) {
	result := make(map[string]string, len(names))
	var missing []string
	for _, n := range names {
		if v, ok := s.cache.get(n); ok {
			result[n] = v
			continue
		}
		missing = append(missing, n)
	}
	// GetParameters accepts at most 10 names per call.
	for len(missing) > 0 {
		batch := missing[:min(10, len(missing))]
		missing = missing[len(batch):]
		out, err := s.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("secrets: ssm get parameters: %w", err)
		}
		for _, p := range out.Parameters {
			name, value := aws.ToString(p.Name), aws.ToString(p.Value)
			result[name] = value
			s.cache.put(name, value)
		}
	}
	return result, nil
}

// ClearCache drops every cached value.
func (s *SSM) ClearCache() {
	s.cache.clear()
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager reads string secrets and caches them for a TTL.
type SecretsManager struct {
	client SecretsManagerAPI
	cache  *ttlCache
}

// NewSecretsManager wraps client with a cache of the given TTL.
func NewSecretsManager(client SecretsManagerAPI, ttl time.Duration) *SecretsManager {
	return &SecretsManager{client: client, cache: newTTLCache(ttl)}
}

// Get returns the SecretString stored under name.
func (s *SecretsManager) Get(ctx context.Context, name string) (string, error) {
	if v, ok := s.cache.get(name); ok {
		return v, nil
	}
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("secrets: secretsmanager %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("secrets: secretsmanager get %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secrets: secretsmanager %q has no string value: %w", name, ErrNotFound)
	}
	v := aws.ToString(out.SecretString)
	s.cache.put(name, v)
	return v, nil
}

// ClearCache drops every cached value.
func (s *SecretsManager) ClearCache() {
	s.cache.clear()
}
