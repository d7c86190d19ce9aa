package chat_test

import (
	"context"
	"testing"
	"time"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStats struct {
	mock.Mock
}

func (m *MockStats) IncrementCompletedChats(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockStats) IncrementUnread(ctx context.Context, userID, chatID string) error {
	args := m.Called(ctx, userID, chatID)
	return args.Error(0)
}

func (m *MockStats) ResetUnread(ctx context.Context, userID, chatID string) error {
	args := m.Called(ctx, userID, chatID)
	return args.Error(0)
}

type echoTexts struct{}

func (echoTexts) Format(_, key string, _ ...any) string { return key }

func newStore(t *testing.T) (*storage.Fallback, *storage.MemoryRemote) {
	t.Helper()
	remote := storage.NewMemoryRemote()
	local, err := storage.NewLocalStore("")
	require.NoError(t, err)
	f, err := storage.NewFallback(remote, local, storage.FallbackConfig{
		CheckInterval:   time.Minute,
		RemoteTimeout:   time.Second,
		IndexRetryDelay: time.Second,
		AutoProvision:   true,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, remote
}
