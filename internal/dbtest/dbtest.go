// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
)

// New returns a fresh, fully migrated in-memory database closed on cleanup.
func New(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, DSN: ":memory:"}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db.DB, cfg.Driver, nil))
	t.Cleanup(func() { db.Close() })
	return db
}
