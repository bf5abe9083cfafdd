package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbais/conductor/errors"
	conductortest "github.com/airbais/conductor/internal/testing"
)

func TestQueueEnqueueAndClaim(t *testing.T) {
	db := conductortest.CreateTestDB(t)
	queue := NewQueue(db)

	j := New("intentcrawler", json.RawMessage(`{"url":"https://example.com"}`))
	require.NoError(t, queue.Enqueue(j))

	claimed, err := queue.Claim()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, j.ID, claimed.ID)
	assert.Equal(t, StatusRunning, claimed.Status)

	// Nothing left to claim
	claimed, err = queue.Claim()
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestQueueCompleteAndFail(t *testing.T) {
	db := conductortest.CreateTestDB(t)
	queue := NewQueue(db)

	t.Run("complete stores result", func(t *testing.T) {
		j := New("intentcrawler", nil)
		require.NoError(t, queue.Enqueue(j))
		_, err := queue.Claim()
		require.NoError(t, err)

		done, err := queue.Complete(j.ID, json.RawMessage(`{"files":{}}`))
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, done.Status)
		assert.JSONEq(t, `{"files":{}}`, string(done.Result))
	})

	t.Run("fail classifies the error", func(t *testing.T) {
		j := New("geoevaluator", nil)
		require.NoError(t, queue.Enqueue(j))
		_, err := queue.Claim()
		require.NoError(t, err)

		failed, err := queue.Fail(j.ID, errors.New("connection refused by upstream"))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, failed.Status)
		assert.Equal(t, ErrorCodeNetworkError, failed.ErrorCode)
		assert.Contains(t, failed.Error, "connection refused")
	})

	t.Run("completing a queued job is stale", func(t *testing.T) {
		j := New("graspevaluator", nil)
		require.NoError(t, queue.Enqueue(j))

		_, err := queue.Complete(j.ID, nil)
		require.Error(t, err)
		assert.True(t, errors.IsStaleTransition(err))
	})
}

func TestQueueCancel(t *testing.T) {
	db := conductortest.CreateTestDB(t)
	queue := NewQueue(db)

	t.Run("cancels a queued job", func(t *testing.T) {
		j := New("intentcrawler", nil)
		require.NoError(t, queue.Enqueue(j))

		cancelled, err := queue.Cancel(j.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
		assert.Equal(t, ErrorCodeCancelled, cancelled.ErrorCode)
	})

	t.Run("cancels a running job", func(t *testing.T) {
		j := New("intentcrawler", nil)
		require.NoError(t, queue.Enqueue(j))
		_, err := queue.Claim()
		require.NoError(t, err)

		cancelled, err := queue.Cancel(j.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
	})

	t.Run("cancel on terminal job is a no-op", func(t *testing.T) {
		j := New("intentcrawler", nil)
		require.NoError(t, queue.Enqueue(j))
		_, err := queue.Claim()
		require.NoError(t, err)
		_, err = queue.Complete(j.ID, nil)
		require.NoError(t, err)

		got, err := queue.Cancel(j.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status, "completed outcome must stand")

		got, err = queue.Cancel(j.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status, "repeat cancels stay no-ops")
	})

	t.Run("cancel of unknown job reports not found", func(t *testing.T) {
		_, err := queue.Cancel("missing")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestQueueSubscribers(t *testing.T) {
	db := conductortest.CreateTestDB(t)
	queue := NewQueue(db)

	updates := queue.Subscribe()
	defer queue.Unsubscribe(updates)

	j := New("intentcrawler", nil)
	require.NoError(t, queue.Enqueue(j))

	select {
	case got := <-updates:
		assert.Equal(t, j.ID, got.ID)
		assert.Equal(t, StatusQueued, got.Status)
	default:
		t.Fatal("expected an enqueue notification")
	}

	_, err := queue.Claim()
	require.NoError(t, err)

	select {
	case got := <-updates:
		assert.Equal(t, StatusRunning, got.Status)
	default:
		t.Fatal("expected a claim notification")
	}

	// After unsubscribing, no further updates arrive
	queue.Unsubscribe(updates)
	_, err = queue.Complete(j.ID, nil)
	require.NoError(t, err)

	select {
	case got := <-updates:
		t.Fatalf("unexpected notification after unsubscribe: %v", got.Status)
	default:
	}
}
