package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/concierge/core/config"
)

func noLogger(*coreconfig.Config) error { return nil }

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(raw, "postgres"), mock
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)
}

func TestRunSkipDatabase(t *testing.T) {
	connected := false
	res, err := Run(context.Background(), Options{
		Config:       &coreconfig.Config{},
		SkipDatabase: true,
		LoggerInit:   noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			connected = true
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res.DB)
	assert.False(t, connected)
	assert.NoError(t, res.Close())
}

func TestRunConnectsAndMigrates(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectClose()
	cfg := &coreconfig.Config{Database: coreconfig.DatabaseConfig{Name: "concierge"}}

	var migrated string
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(_ context.Context, c coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			return db, nil
		},
		Migrate: func(_ context.Context, c coreconfig.DatabaseConfig) error {
			migrated = c.Name
			return nil
		},
	})
	require.NoError(t, err)
	assert.Same(t, db, res.DB)
	assert.Equal(t, "concierge", migrated)
	require.NoError(t, res.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunClosesDatabaseWhenMigrationsFail(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectClose()

	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			return db, nil
		},
		Migrate: func(context.Context, coreconfig.DatabaseConfig) error {
			return errors.New("dirty")
		},
	})
	require.ErrorContains(t, err, "dirty")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipMigrations(t *testing.T) {
	db, _ := mockDB(t)
	_, err := Run(context.Background(), Options{
		Config:         &coreconfig.Config{},
		SkipMigrations: true,
		LoggerInit:     noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			return db, nil
		},
		Migrate: func(context.Context, coreconfig.DatabaseConfig) error {
			t.Fatal("migrate must not run")
			return nil
		},
	})
	require.NoError(t, err)
}

func TestRunLoggerFailure(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return errors.New("no sink") },
	})
	assert.ErrorContains(t, err, "logger init failed")
}
