package chathub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"anonchat/backend/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockClient struct {
	userID string
	frames chan models.ServerFrame
	closed chan struct{}
	once   sync.Once
}

func newMockClient(userID string) *MockClient {
	return &MockClient{
		userID: userID,
		frames: make(chan models.ServerFrame, 16),
		closed: make(chan struct{}),
	}
}

func (c *MockClient) GetUserID() string                         { return c.userID }
func (c *MockClient) GetSendChannel() chan<- models.ServerFrame { return c.frames }
func (c *MockClient) Run()                                      {}

func (c *MockClient) Close() {
	c.once.Do(func() { close(c.closed) })
}

func (c *MockClient) next(t *testing.T) models.ServerFrame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.userID)
		return models.ServerFrame{}
	}
}

func (c *MockClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type MockChats struct {
	mock.Mock
}

func (m *MockChats) SendMessage(ctx context.Context, chatID, senderID, text string) (*models.Message, error) {
	args := m.Called(ctx, chatID, senderID, text)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChats) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Int(0), args.Error(1)
}

func (m *MockChats) EndChat(ctx context.Context, chatID, byUserID string) (*models.ChatSession, error) {
	args := m.Called(ctx, chatID, byUserID)
	if s := args.Get(0); s != nil {
		return s.(*models.ChatSession), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSearches struct {
	mock.Mock
}

func (m *MockSearches) Stop(userID string) {
	m.Called(userID)
}

// settle waits until the hub handled everything sent before it.
func settle(t *testing.T, submit func(), c *MockClient) {
	t.Helper()
	submit()
	f := c.next(t)
	require.Equal(t, models.FrameError, f.Type)
}
