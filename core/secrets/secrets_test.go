package secrets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values map[string]string
	gets   atomic.Int32
	batch  [][]string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.gets.Add(1)
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("decryption not requested")
	}
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func (f *fakeSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batch = append(f.batch, in.Names)
	out := &ssm.GetParametersOutput{}
	for _, n := range in.Names {
		if v, ok := f.values[n]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(n), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, n)
		}
	}
	return out, nil
}

func TestSSMCachesWithinTTL(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"/bot/token": "123:abc"}}
	p := NewSSM(f, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := p.Get(context.Background(), "/bot/token")
		require.NoError(t, err)
		assert.Equal(t, "123:abc", v)
	}
	assert.EqualValues(t, 1, f.gets.Load())

	now = now.Add(2 * time.Minute)
	_, err := p.Get(context.Background(), "/bot/token")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.gets.Load())

	p.ClearCache()
	_, err = p.Get(context.Background(), "/bot/token")
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.gets.Load())
}

func TestSSMNotFound(t *testing.T) {
	p := NewSSM(&fakeSSM{}, time.Minute)
	_, err := p.Get(context.Background(), "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSSMGetManySkipsCachedAndInvalid(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"a": "1", "b": "2"}}
	p := NewSSM(f, time.Minute)
	_, err := p.Get(context.Background(), "a")
	require.NoError(t, err)

	got, err := p.GetMany(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
	require.Len(t, f.batch, 1)
	assert.Equal(t, []string{"b", "c"}, f.batch[0])
}

type fakeSM struct{ calls int }

func (f *fakeSM) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if aws.ToString(in.SecretId) != "webhook" {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("s3cr3t")}, nil
}

func TestSecretsManager(t *testing.T) {
	f := &fakeSM{}
	p := NewSecretsManager(f, time.Minute)

	v, err := p.Get(context.Background(), "webhook")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)
	_, _ = p.Get(context.Background(), "webhook")
	assert.Equal(t, 1, f.calls)

	_, err = p.Get(context.Background(), "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	var calls int
	l := NewLazy(func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	_, err := l.Get(context.Background())
	require.Error(t, err)
	v, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	_, _ = l.Get(context.Background())
	assert.Equal(t, 2, calls)
}

func TestMemoLoadsOnceUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "key", nil
	})
	cell := Memo(p, "signing_key")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cell.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "key", v)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestMapAndStatic(t *testing.T) {
	s := Static{"n": "41"}
	cell := Map(Memo(s, "n"), func(v string) (int, error) { return len(v), nil })
	n, err := cell.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = Memo(s, "absent").Get(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	v, _ := Value(7).Get(context.Background())
	assert.Equal(t, 7, v)
}
