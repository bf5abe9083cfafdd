package job

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbais/conductor/errors"
)

// These tests drive the store against a mocked driver to exercise the
// database failure paths that an in-memory SQLite database cannot
// produce on demand.

func TestStoreCreateDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("disk I/O error"))

	store := NewStore(db)
	err = store.Create(New("intentcrawler", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreTransitionDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs SET status").WillReturnError(errors.New("database is locked"))

	store := NewStore(db)
	_, err = store.Transition("some-id", StatusQueued, StatusRunning, Fields{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to transition job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnError(errors.New("database is closed"))

	store := NewStore(db)
	_, err = store.List(Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list jobs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
