package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	values map[string]string
	calls  int
}

func (p *countingProvider) GetSecret(_ context.Context, key string) (string, error) {
	p.calls++
	v, ok := p.values[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("LISTENER_TEST_SECRET", "s3cret")
	p := NewEnvProvider()

	v, err := p.GetSecret(context.Background(), "LISTENER_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = p.GetSecret(context.Background(), "LISTENER_TEST_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{values: map[string]string{"k": "v1"}}
	p := NewCachedProvider(inner, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := p.GetSecret(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, "v1", v)
	}
	assert.Equal(t, 1, inner.calls)

	inner.values["k"] = "v2"
	now = now.Add(2 * time.Minute)
	v, err := p.GetSecret(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 2, inner.calls)

	p.Invalidate()
	_, _ = p.GetSecret(context.Background(), "k")
	assert.Equal(t, 3, inner.calls)
}

func TestResolve(t *testing.T) {
	p := &countingProvider{values: map[string]string{
		"WEBHOOK_SECRET": "hook",
		"TRONGRID_KEY":   "grid",
	}}
	var webhook, grid, preset, optional, required string
	preset = "already-set"

	err := Resolve(context.Background(), p,
		Ref{Key: "WEBHOOK_SECRET", Target: &webhook, Required: true},
		Ref{Key: "TRONGRID_KEY", Target: &grid},
		Ref{Key: "TRONGRID_KEY", Target: &preset},
		Ref{Key: "OPTIONAL", Target: &optional},
	)
	require.NoError(t, err)
	assert.Equal(t, "hook", webhook)
	assert.Equal(t, "grid", grid)
	assert.Equal(t, "already-set", preset)
	assert.Empty(t, optional)

	err = Resolve(context.Background(), p, Ref{Key: "DATABASE_URL", Target: &required, Required: true})
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

type fakeSecretsManager struct {
	values map[string]string
	err    error
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*in.SecretId]
	if !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: &v}, nil
}

func TestAWSSecretsManagerProvider(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{
		"payment-listener/SENDGRID_API_KEY": "SG.key",
		"payment-listener/db":               `{"url":"postgres://db"}`,
	}}
	p := &AWSSecretsManagerProvider{client: fake, prefix: "payment-listener/"}

	v, err := p.GetSecret(context.Background(), "SENDGRID_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "SG.key", v)

	_, err = p.GetSecret(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	var db struct {
		URL string `json:"url"`
	}
	require.NoError(t, p.GetSecretJSON(context.Background(), "db", &db))
	assert.Equal(t, "postgres://db", db.URL)

	fake.err = errors.New("throttled")
	_, err = p.GetSecret(context.Background(), "SENDGRID_API_KEY")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "vault"})
	assert.Error(t, err)

	p, err := New(context.Background(), Options{Provider: "env", CacheTTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &CachedProvider{}, p)
}
