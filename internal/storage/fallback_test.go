package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	UserID string `json:"userId"`
	Value  string `json:"value"`
}

func newFallback(t *testing.T, remote storage.RemoteStore, checkInterval time.Duration) *storage.Fallback {
	t.Helper()
	local, err := storage.NewLocalStore("")
	require.NoError(t, err)
	f, err := storage.NewFallback(remote, local, storage.FallbackConfig{
		CheckInterval:   checkInterval,
		RemoteTimeout:   time.Second,
		IndexRetryDelay: 5 * time.Second,
		AutoProvision:   true,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func decodeDoc(t *testing.T, raw json.RawMessage) doc {
	t.Helper()
	var d doc
	require.NoError(t, json.Unmarshal(raw, &d))
	return d
}

func TestFallback_SetAndGetWhileRemoteUnreachable(t *testing.T) {
	// Arrange
	remote := storage.NewMemoryRemote()
	remote.SetUnreachable(true)
	f := newFallback(t, remote, time.Minute)
	ctx := context.Background()

	// Act
	ok := f.Set(ctx, "things.a", doc{UserID: "a", Value: "v1"})
	raw, found := f.Get(ctx, "things.a")

	// Assert
	assert.True(t, ok)
	require.True(t, found)
	assert.Equal(t, "v1", decodeDoc(t, raw).Value)
	assert.True(t, f.Degraded())
	assert.Equal(t, 1, f.PendingWrites())
	assert.Equal(t, 0, remote.Puts())
}

func TestFallback_GetAfterRecoveryReturnsLatestLocalWrite(t *testing.T) {
	remote := storage.NewMemoryRemote()
	f := newFallback(t, remote, time.Millisecond)
	ctx := context.Background()

	require.True(t, f.Set(ctx, "things.a", doc{UserID: "a", Value: "online"}))

	remote.SetUnreachable(true)
	time.Sleep(5 * time.Millisecond)
	f.Set(ctx, "things.a", doc{UserID: "a", Value: "degraded-1"})
	f.Set(ctx, "things.a", doc{UserID: "a", Value: "degraded-2"})
	f.Set(ctx, "things.b", doc{UserID: "b", Value: "gone"})
	f.Remove(ctx, "things.b")
	assert.True(t, f.Degraded())

	remote.SetUnreachable(false)
	time.Sleep(5 * time.Millisecond)

	raw, found := f.Get(ctx, "things.a")
	require.True(t, found)
	assert.Equal(t, "degraded-2", decodeDoc(t, raw).Value)
	assert.Equal(t, 0, f.PendingWrites())

	stored, err := remote.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, "degraded-2", decodeDoc(t, stored).Value)

	_, err = remote.Get(ctx, "things", "b")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFallback_GetServesLastKnownValueWhenRemoteFails(t *testing.T) {
	remote := storage.NewMemoryRemote()
	f := newFallback(t, remote, time.Millisecond)
	ctx := context.Background()
	require.True(t, f.Set(ctx, "things.a", doc{UserID: "a", Value: "cached"}))

	remote.SetUnreachable(true)
	time.Sleep(5 * time.Millisecond)

	raw, found := f.Get(ctx, "things.a")
	require.True(t, found)
	assert.Equal(t, "cached", decodeDoc(t, raw).Value)
}

func TestFallback_ReplayKeepsSequenceOrder(t *testing.T) {
	remote := storage.NewMemoryRemote()
	remote.SetUnreachable(true)
	f := newFallback(t, remote, time.Hour)
	ctx := context.Background()

	f.Set(ctx, "things.a", doc{UserID: "a", Value: "1"})
	f.Remove(ctx, "things.a")
	f.Set(ctx, "things.a", doc{UserID: "a", Value: "3"})

	pending := f.Local().Pending()
	require.Len(t, pending, 3)
	for i := 1; i < len(pending); i++ {
		assert.Greater(t, pending[i].Seq, pending[i-1].Seq)
	}

	remote.SetUnreachable(false)
	n, err := f.Replay(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, f.PendingWrites())
	stored, err := remote.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, "3", decodeDoc(t, stored).Value)
}

func TestFallback_ReplayStopsAtFirstConnectivityFailure(t *testing.T) {
	remote := storage.NewMemoryRemote()
	remote.SetUnreachable(true)
	f := newFallback(t, remote, time.Hour)
	ctx := context.Background()

	f.Set(ctx, "things.a", doc{UserID: "a", Value: "1"})
	f.Set(ctx, "things.b", doc{UserID: "b", Value: "2"})

	n, err := f.Replay(ctx)

	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, f.PendingWrites())
}

func TestFallback_QueryMissingIndexIsProvisionedAndRetryable(t *testing.T) {
	remote := storage.NewMemoryRemote()
	remote.RequireIndexes(true)
	f := newFallback(t, remote, time.Minute)
	ctx := context.Background()
	f.Set(ctx, "things.a", doc{UserID: "a", Value: "1"})

	q := storage.Query{
		Collection: "things",
		Index:      storage.IndexSpec{Name: "things_by_value", Collection: "things", PartitionKey: "userId", SortKey: "value"},
		OrderBy:    "value",
	}

	_, err := f.Query(ctx, q)

	var pending *storage.IndexPendingError
	require.ErrorAs(t, err, &pending)
	assert.ErrorIs(t, err, storage.ErrIndexPending)
	assert.Equal(t, "things_by_value", pending.Index)
	assert.Equal(t, 5*time.Second, pending.RetryAfter)
	assert.True(t, remote.HasIndex("things_by_value"))
	assert.False(t, f.Degraded())

	docs, err := f.Query(ctx, q)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestFallback_QueryProvisioningFailureStillReportsPendingIndex(t *testing.T) {
	remote := storage.NewMemoryRemote()
	remote.RequireIndexes(true)
	quota := errors.New("index quota exceeded")
	remote.FailProvisioning(quota)
	f := newFallback(t, remote, time.Minute)

	_, err := f.Query(context.Background(), storage.Query{
		Collection: "things",
		Index:      storage.IndexSpec{Name: "things_by_value", Collection: "things", PartitionKey: "userId"},
	})

	assert.ErrorIs(t, err, storage.ErrIndexPending)
	assert.ErrorIs(t, err, quota)
	assert.False(t, remote.HasIndex("things_by_value"))
}

func TestFallback_PermissionDeniedIsSurfacedOnlyByQuery(t *testing.T) {
	remote := storage.NewMemoryRemote()
	f := newFallback(t, remote, time.Minute)
	ctx := context.Background()
	remote.SetPermissionDenied(true)

	ok := f.Set(ctx, "things.a", doc{UserID: "a", Value: "1"})
	_, err := f.Query(ctx, storage.Query{Collection: "things"})

	assert.True(t, ok)
	assert.ErrorIs(t, err, storage.ErrPermissionDenied)
	assert.False(t, f.Degraded())
	assert.Equal(t, 0, f.PendingWrites())
}

func TestFallback_GetAllEvaluatesLocallyWhenDegraded(t *testing.T) {
	remote := storage.NewMemoryRemote()
	remote.SetUnreachable(true)
	f := newFallback(t, remote, time.Minute)
	ctx := context.Background()

	f.Set(ctx, "things.a", doc{UserID: "a", Value: "x"})
	f.Set(ctx, "things.b", doc{UserID: "b", Value: "y"})
	f.Set(ctx, "other.c", doc{UserID: "c", Value: "x"})

	all := f.GetAll(ctx, "things", nil)
	filtered := f.GetAll(ctx, "things", map[string]any{"value": "x"})

	assert.Len(t, all, 2)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", decodeDoc(t, filtered[0]).UserID)
}

func TestFallback_QueryDegradesToOrderedLocalEvaluation(t *testing.T) {
	remote := storage.NewMemoryRemote()
	remote.SetUnreachable(true)
	f := newFallback(t, remote, time.Minute)
	ctx := context.Background()

	f.Set(ctx, "things.a", doc{UserID: "a", Value: "2"})
	f.Set(ctx, "things.b", doc{UserID: "b", Value: "1"})
	f.Set(ctx, "things.c", doc{UserID: "c", Value: "3"})

	docs, err := f.Query(ctx, storage.Query{
		Collection: "things",
		NotEqual:   map[string]any{"userId": "c"},
		OrderBy:    "value",
	})

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", decodeDoc(t, docs[0]).UserID)
	assert.Equal(t, "a", decodeDoc(t, docs[1]).UserID)
}
