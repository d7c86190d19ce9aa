package matchmaking_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/matchmaking"
	"anonchat/backend/internal/notify"
	"anonchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBans struct {
	mock.Mock
}

func (m *MockBans) IsBanned(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type echoTexts struct{}

func (echoTexts) Format(_, key string, _ ...any) string { return key }

type fixture struct {
	store  *storage.Fallback
	remote *storage.MemoryRemote
	queue  *matchmaking.Queue
	relay  *notify.Relay
	chats  *chat.Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remote := storage.NewMemoryRemote()
	local, err := storage.NewLocalStore("")
	require.NoError(t, err)
	store, err := storage.NewFallback(remote, local, storage.FallbackConfig{
		CheckInterval:   time.Minute,
		RemoteTimeout:   time.Second,
		IndexRetryDelay: time.Second,
		AutoProvision:   true,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	relay := notify.NewRelay(store, notify.NewLocalBus(), logger.Nop())
	return &fixture{
		store:  store,
		remote: remote,
		queue:  matchmaking.NewQueue(store, logger.Nop()),
		relay:  relay,
		chats:  chat.NewLifecycle(store, nil, relay, echoTexts{}, logger.Nop()),
	}
}

func (f *fixture) resolver(opts ...matchmaking.ResolverOption) *matchmaking.Resolver {
	factory := chat.NewFactory(f.store, echoTexts{}, logger.Nop())
	return matchmaking.NewResolver(f.queue, factory, f.relay, logger.Nop(), opts...)
}

// gatedStore holds the next Get of an armed key until release is closed.
type gatedStore struct {
	storage.Store

	mu      sync.Mutex
	key     string
	parked  chan struct{}
	release chan struct{}
}

func newGatedStore(inner storage.Store) *gatedStore {
	return &gatedStore{Store: inner, parked: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) arm(key string) {
	g.mu.Lock()
	g.key = key
	g.mu.Unlock()
}

func (g *gatedStore) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	g.mu.Lock()
	hold := g.key != "" && g.key == key
	if hold {
		g.key = ""
	}
	g.mu.Unlock()
	if hold {
		close(g.parked)
		<-g.release
	}
	return g.Store.Get(ctx, key)
}
