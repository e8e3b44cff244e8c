package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/concierge/core/config"
)

type stubApp struct {
	runErr   error
	closeErr error
	ran      bool
	closed   bool
}

func (a *stubApp) Run(context.Context) error { a.ran = true; return a.runErr }
func (a *stubApp) Close() error              { a.closed = true; return a.closeErr }

func stubLoad(path string) (*coreconfig.Config, error) {
	return &coreconfig.Config{Telegram: coreconfig.TelegramConfig{BotName: path}}, nil
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CONCIERGE_TEST_CONFIG", "")

	_, err := ResolveConfigPath(Options{ConfigEnvVar: "CONCIERGE_TEST_CONFIG"})
	assert.Error(t, err)

	p, err := ResolveConfigPath(Options{ConfigEnvVar: "CONCIERGE_TEST_CONFIG", DefaultConfigPath: "config.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", p)

	t.Setenv("CONCIERGE_TEST_CONFIG", "/etc/concierge.yaml")
	p, err = ResolveConfigPath(Options{ConfigEnvVar: "CONCIERGE_TEST_CONFIG", DefaultConfigPath: "config.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/concierge.yaml", p)

	p, err = ResolveConfigPath(Options{ConfigPath: "flag.yaml", ConfigEnvVar: "CONCIERGE_TEST_CONFIG"})
	require.NoError(t, err)
	assert.Equal(t, "flag.yaml", p)
}

func TestLoadEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CONCIERGE_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("CONCIERGE_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CONCIERGE_TEST_DOTENV"))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "loaded", os.Getenv("CONCIERGE_TEST_DOTENV"))
}

func TestRunLifecycle(t *testing.T) {
	app := &stubApp{}
	var gotCfg *coreconfig.Config
	err := Run(Options{
		ConfigPath: "bot",
		EnvFiles:   []string{filepath.Join(t.TempDir(), "none.env")},
		LoadConfig: stubLoad,
		Bootstrap: func(_ context.Context, cfg *coreconfig.Config) (App, error) {
			gotCfg = cfg
			return app, nil
		},
		ShutdownLogger: func() error { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "bot", gotCfg.Telegram.BotName)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
}

func TestRunAggregatesErrors(t *testing.T) {
	app := &stubApp{runErr: errors.New("listen failed"), closeErr: errors.New("close failed")}
	err := Run(Options{
		ConfigPath:     "x",
		EnvFiles:       []string{filepath.Join(t.TempDir(), "none.env")},
		LoadConfig:     stubLoad,
		Bootstrap:      func(context.Context, *coreconfig.Config) (App, error) { return app, nil },
		ShutdownLogger: func() error { return nil },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen failed")
	assert.Contains(t, err.Error(), "close failed")
}

func TestRunCanceledIsNotAnError(t *testing.T) {
	app := &stubApp{runErr: context.Canceled}
	err := Run(Options{
		ConfigPath:     "x",
		EnvFiles:       []string{filepath.Join(t.TempDir(), "none.env")},
		LoadConfig:     stubLoad,
		Bootstrap:      func(context.Context, *coreconfig.Config) (App, error) { return app, nil },
		ShutdownLogger: func() error { return nil },
	})
	assert.NoError(t, err)
}

func TestRunBootstrapFailure(t *testing.T) {
	err := Run(Options{
		ConfigPath:     "x",
		EnvFiles:       []string{filepath.Join(t.TempDir(), "none.env")},
		LoadConfig:     stubLoad,
		Bootstrap:      func(context.Context, *coreconfig.Config) (App, error) { return nil, errors.New("boom") },
		ShutdownLogger: func() error { return nil },
	})
	assert.ErrorContains(t, err, "bootstrap failed")
}
