package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbais/conductor/errors"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "conductor-test.db")
	database, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func tableExists(t *testing.T, database *sql.DB, name string) bool {
	t.Helper()

	var count int
	err := database.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestOpen(t *testing.T) {
	database := openTestDB(t)

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrate(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, Migrate(database, nil))

	t.Run("creates tables", func(t *testing.T) {
		assert.True(t, tableExists(t, database, "schema_migrations"))
		assert.True(t, tableExists(t, database, "jobs"))
	})

	t.Run("creates job indexes", func(t *testing.T) {
		rows, err := database.Query(
			"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'jobs' AND name LIKE 'idx_%'")
		require.NoError(t, err)
		defer rows.Close()

		indexes := map[string]bool{}
		for rows.Next() {
			var name string
			require.NoError(t, rows.Scan(&name))
			indexes[name] = true
		}
		require.NoError(t, rows.Err())

		assert.True(t, indexes["idx_jobs_status"])
		assert.True(t, indexes["idx_jobs_tool"])
		assert.True(t, indexes["idx_jobs_submitted_at"])
	})

	t.Run("records applied versions", func(t *testing.T) {
		var count int
		require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 2, count)
	})

	t.Run("is idempotent", func(t *testing.T) {
		require.NoError(t, Migrate(database, nil))

		var count int
		require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 2, count)
	})
}

func TestIsDatabaseClosed(t *testing.T) {
	t.Run("closed connection", func(t *testing.T) {
		database := openTestDB(t)
		require.NoError(t, database.Close())

		_, err := database.Exec("SELECT 1")
		assert.True(t, IsDatabaseClosed(err))
	})

	t.Run("wrapped sentinel", func(t *testing.T) {
		assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "query jobs")))
	})

	t.Run("other errors", func(t *testing.T) {
		assert.False(t, IsDatabaseClosed(nil))
		assert.False(t, IsDatabaseClosed(errors.New("disk full")))
	})
}
