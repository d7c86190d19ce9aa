package matchmaking_test

import (
	"context"
	"testing"
	"time"

	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/matchmaking"
	"anonchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newPoller(t *testing.T, f *fixture, opts ...matchmaking.ResolverOption) *matchmaking.Poller {
	t.Helper()
	p, err := matchmaking.NewPoller(f.resolver(opts...), f.queue, f.relay, 20*time.Millisecond, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func isDone(h *matchmaking.SearchHandle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func TestPoller_MatchOnFirstAttempt(t *testing.T) {
	f := newFixture(t)
	p := newPoller(t, f)
	enqueue(t, f, "bob")

	h, err := p.StartSearch(context.Background(), "alice", anyone)

	require.NoError(t, err)
	assert.True(t, isDone(h))
	res, err := h.Result()
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "bob", res.PartnerID)
}

func TestPoller_WaitingSearchFinishesWhenSomeoneElseMatches(t *testing.T) {
	// Arrange
	f := newFixture(t)
	p := newPoller(t, f)
	ctx := context.Background()

	alice, err := p.StartSearch(ctx, "alice", anyone)
	require.NoError(t, err)
	require.False(t, isDone(alice))

	// Act
	bob, err := p.StartSearch(ctx, "bob", anyone)
	require.NoError(t, err)

	// Assert
	require.True(t, isDone(bob))
	bobRes, _ := bob.Result()
	require.True(t, bobRes.Matched)

	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("alice's search never finished")
	}
	aliceRes, err := alice.Result()
	require.NoError(t, err)
	assert.True(t, aliceRes.Matched)
	assert.Equal(t, bobRes.ChatID, aliceRes.ChatID)
	assert.Equal(t, "bob", aliceRes.PartnerID)
	assert.False(t, f.queue.IsQueued(ctx, "alice"))
}

func TestPoller_StaleNotificationDoesNotEndSearch(t *testing.T) {
	f := newFixture(t)
	p := newPoller(t, f)
	ctx := context.Background()
	require.NoError(t, f.relay.Notify(ctx, "alice", "old-chat", "zoe"))

	h, err := p.StartSearch(ctx, "alice", anyone)
	require.NoError(t, err)
	t.Cleanup(func() { h.Cancel(ctx) })

	assert.Never(t, func() bool { return isDone(h) }, 150*time.Millisecond, 10*time.Millisecond)
	assert.True(t, f.queue.IsQueued(ctx, "alice"))
}

func TestPoller_CancelDequeues(t *testing.T) {
	f := newFixture(t)
	p := newPoller(t, f)
	ctx := context.Background()

	h, err := p.StartSearch(ctx, "alice", anyone)
	require.NoError(t, err)
	require.True(t, f.queue.IsQueued(ctx, "alice"))

	h.Cancel(ctx)
	h.Stop()

	assert.True(t, isDone(h))
	assert.False(t, f.queue.IsQueued(ctx, "alice"))
	res, err := h.Result()
	assert.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestPoller_CancelWaitsForRunningAttempt(t *testing.T) {
	// Arrange
	f := newFixture(t)
	gated := newGatedStore(f.store)
	queue := matchmaking.NewQueue(gated, logger.Nop())
	factory := chat.NewFactory(f.store, echoTexts{}, logger.Nop())
	resolver := matchmaking.NewResolver(queue, factory, f.relay, logger.Nop())
	p, err := matchmaking.NewPoller(resolver, queue, f.relay, 20*time.Millisecond, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown() })
	ctx := context.Background()

	h, err := p.StartSearch(ctx, "alice", anyone)
	require.NoError(t, err)
	gated.arm(storage.Key(matchmaking.QueueCollection, "alice"))
	select {
	case <-gated.parked:
	case <-time.After(2 * time.Second):
		t.Fatal("background attempt never ran")
	}

	// Act
	cancelled := make(chan struct{})
	go func() {
		h.Cancel(ctx)
		close(cancelled)
	}()
	select {
	case <-cancelled:
		t.Fatal("Cancel returned while an attempt was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(gated.release)

	// Assert
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not return")
	}
	assert.True(t, isDone(h))
	assert.False(t, queue.IsQueued(ctx, "alice"))
	assert.Never(t, func() bool { return queue.IsQueued(ctx, "alice") }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, f.store.PendingWrites())
}

func TestResolver_CancelledContextLeavesQueueAlone(t *testing.T) {
	f := newFixture(t)
	r := f.resolver()
	enqueue(t, f, "bob")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Resolve(ctx, "alice", anyone)

	assert.Error(t, err)
	assert.False(t, res.Matched)
	assert.False(t, f.queue.IsQueued(context.Background(), "alice"))
	assert.True(t, f.queue.IsQueued(context.Background(), "bob"))
}

func TestPoller_StopKeepsUserQueued(t *testing.T) {
	f := newFixture(t)
	p := newPoller(t, f)
	ctx := context.Background()

	h, err := p.StartSearch(ctx, "alice", anyone)
	require.NoError(t, err)
	h.Stop()

	assert.True(t, isDone(h))
	assert.True(t, f.queue.IsQueued(ctx, "alice"))
}

func TestPoller_BannedUserGetsNoHandle(t *testing.T) {
	f := newFixture(t)
	bans := new(MockBans)
	bans.On("IsBanned", mock.Anything, "mallory").Return(true, nil)
	p := newPoller(t, f, matchmaking.WithBanChecker(bans))

	h, err := p.StartSearch(context.Background(), "mallory", anyone)

	assert.ErrorIs(t, err, matchmaking.ErrBanned)
	assert.Nil(t, h)
}

func TestPoller_RegistryReplacesPreviousSearch(t *testing.T) {
	f := newFixture(t)
	p := newPoller(t, f)
	ctx := context.Background()
	reg := matchmaking.NewRegistry(p)

	first, err := reg.Start(ctx, "alice", anyone)
	require.NoError(t, err)
	second, err := reg.Start(ctx, "alice", anyone)
	require.NoError(t, err)

	assert.True(t, isDone(first))
	assert.False(t, isDone(second))
	got, ok := reg.Get("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.True(t, f.queue.IsQueued(ctx, "alice"))

	reg.Cancel(ctx, "alice")

	assert.True(t, isDone(second))
	assert.False(t, f.queue.IsQueued(ctx, "alice"))
	_, ok = reg.Get("alice")
	assert.False(t, ok)
}

func TestPoller_MatchReadBeforeTickStillEndsSearch(t *testing.T) {
	f := newFixture(t)
	p := newPoller(t, f)
	ctx := context.Background()

	alice, err := p.StartSearch(ctx, "alice", anyone)
	require.NoError(t, err)
	bob, err := p.StartSearch(ctx, "bob", anyone)
	require.NoError(t, err)
	require.NoError(t, f.relay.MarkRead(ctx, "alice"))

	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("alice's search never finished")
	}
	res, _ := alice.Result()
	bobRes, _ := bob.Result()
	assert.Equal(t, bobRes.ChatID, res.ChatID)
	assert.False(t, f.queue.IsQueued(ctx, "alice"))
}
