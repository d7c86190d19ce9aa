package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anonchat/backend/internal/api/handler"
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/complaint"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/matchmaking"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/notify"
	"anonchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStats struct{}

func (nopStats) IncrementCompletedChats(context.Context, string) error { return nil }
func (nopStats) IncrementUnread(context.Context, string, string) error { return nil }
func (nopStats) ResetUnread(context.Context, string, string) error { return nil }

type keyTexts struct{}

func (keyTexts) Format(_, key string, _ ...any) string { return key }

// noProfiles answers as if no user had a relational profile.
type noProfiles struct{}

func (noProfiles) GetUserByID(context.Context, string) (*models.User, error) {
	return nil, storage.ErrUserNotFound
}
func (noProfiles) UpdateUserReputation(context.Context, string, int) error {
	return storage.ErrUserNotFound
}
func (noProfiles) UpdateUser(context.Context, *models.User) error { return storage.ErrUserNotFound }

type server struct {
	router *gin.Engine
	auth   *handler.Auth
	remote *storage.MemoryRemote
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWithRetryDelay(t, 7*time.Second)
}

func newServerWithRetryDelay(t *testing.T, retryDelay time.Duration) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	remote := storage.NewMemoryRemote()
	local, err := storage.NewLocalStore("")
	require.NoError(t, err)
	store, err := storage.NewFallback(remote, local, storage.FallbackConfig{
		CheckInterval:   time.Minute,
		RemoteTimeout:   time.Second,
		IndexRetryDelay: retryDelay,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	relay := notify.NewRelay(store, notify.NewLocalBus(), logger.Nop())
	lifecycle := chat.NewLifecycle(store, nopStats{}, relay, keyTexts{}, logger.Nop())
	queue := matchmaking.NewQueue(store, logger.Nop())
	resolver := matchmaking.NewResolver(queue, chat.NewFactory(store, keyTexts{}, logger.Nop()), relay, logger.Nop())
	poller, err := matchmaking.NewPoller(resolver, queue, relay, 50*time.Millisecond, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = poller.Shutdown() })

	auth := handler.NewAuth("test-secret", time.Hour)
	h := handler.NewHandler(handler.Deps{
		Auth:       auth,
		Searches:   matchmaking.NewRegistry(poller),
		Queue:      queue,
		Relay:      relay,
		Chats:      lifecycle,
		Groups:     chat.NewGroups(store, relay, keyTexts{}, logger.Nop()),
		Complaints: complaint.NewService(noProfiles{}, lifecycle, store, logger.Nop()),
		Store:      store,
		Log:        logger.Nop(),
	})
	r := gin.New()
	h.Register(r)
	return &server{router: r, auth: auth, remote: remote}
}

func (s *server) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.auth.IssueToken(userID)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) handler.Response[T] {
	t.Helper()
	var resp handler.Response[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestAnonIDTokenAuthenticates(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/anonid", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	issued := decode[map[string]string](t, w)
	assert.True(t, issued.Success)
	assert.NotEmpty(t, issued.Data["anon_id"])
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = s.do(t, http.MethodGet, "/chats", issued.Data["token"], nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[any](t, w).Code)

	w = s.do(t, http.MethodGet, "/chats", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_RejectsForeignTokens(t *testing.T) {
	other := handler.NewAuth("another-secret", time.Hour)
	tok, err := other.IssueToken("alice")
	require.NoError(t, err)

	_, err = handler.NewAuth("test-secret", time.Hour).ParseToken(tok)
	assert.ErrorIs(t, err, handler.ErrInvalidToken)

	expired, err := handler.NewAuth("test-secret", -time.Minute).IssueToken("alice")
	require.NoError(t, err)
	_, err = handler.NewAuth("test-secret", time.Hour).ParseToken(expired)
	assert.ErrorIs(t, err, handler.ErrInvalidToken)
}

type searchView struct {
	Searching bool   `json:"searching"`
	Queued    bool   `json:"queued"`
	Matched   bool   `json:"matched"`
	ChatID    string `json:"chatId"`
	PartnerID string `json:"partnerId"`
}

func TestSearchToChatFlow(t *testing.T) {
	// Arrange
	s := newServer(t)
	alice, bob := s.token(t, "alice"), s.token(t, "bob")

	// Act: alice waits, bob finds her
	w := s.do(t, http.MethodPost, "/search", alice, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.True(t, decode[searchView](t, w).Data.Searching)

	w = s.do(t, http.MethodPost, "/search", bob, models.Preferences{Random: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	found := decode[searchView](t, w).Data
	require.True(t, found.Matched)
	assert.Equal(t, "alice", found.PartnerID)

	// Assert: alice is told, then both can talk until the chat ends
	w = s.do(t, http.MethodGet, "/notifications", alice, nil)
	note := decode[struct {
		HasNewChat   bool                     `json:"hasNewChat"`
		Notification models.MatchNotification `json:"notification"`
	}](t, w).Data
	assert.True(t, note.HasNewChat)
	assert.Equal(t, found.ChatID, note.Notification.ChatID)

	assert.Eventually(t, func() bool {
		st := decode[searchView](t, s.do(t, http.MethodGet, "/search", alice, nil)).Data
		return st.Matched && st.ChatID == found.ChatID
	}, 2*time.Second, 20*time.Millisecond)

	w = s.do(t, http.MethodPost, "/notifications/read", alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/notifications", alice, nil)
	assert.False(t, decode[notificationFlag](t, w).Data.HasNewChat)

	chatPath := "/chats/" + found.ChatID
	w = s.do(t, http.MethodPost, chatPath+"/messages", bob, map[string]string{"text": "hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, chatPath+"/messages", alice, nil)
	msgs := decode[[]models.Message](t, w).Data
	require.NotEmpty(t, msgs)
	assert.Equal(t, "hi", msgs[len(msgs)-1].Text)

	w = s.do(t, http.MethodPost, chatPath+"/read", alice, nil)
	assert.Equal(t, float64(2), decode[map[string]any](t, w).Data["marked"])

	w = s.do(t, http.MethodGet, chatPath+"/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodGet, chatPath+"/messages", s.token(t, "mallory"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, chatPath+"/end", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, chatPath+"/messages", bob, map[string]string{"text": "still there?"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CHAT_ENDED", decode[any](t, w).Code)
}

type notificationFlag struct {
	HasNewChat bool `json:"hasNewChat"`
}

func TestCancelSearch(t *testing.T) {
	s := newServer(t)
	alice := s.token(t, "alice")

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/search", alice, nil).Code)
	assert.True(t, decode[searchView](t, s.do(t, http.MethodGet, "/search", alice, nil)).Data.Queued)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/search", alice, nil).Code)

	st := decode[searchView](t, s.do(t, http.MethodGet, "/search", alice, nil)).Data
	assert.False(t, st.Queued)
	assert.False(t, st.Searching)
}

func TestSearchRejectsBadPreferences(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/search", s.token(t, "alice"), map[string]any{"ageRange": []int{50, 20}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[any](t, w).Code)
}

func TestLatestChatReportsPendingIndex(t *testing.T) {
	s := newServer(t)
	s.remote.RequireIndexes(true)

	w := s.do(t, http.MethodGet, "/chats/latest", s.token(t, "alice"), nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "INDEX_PENDING", decode[any](t, w).Code)
	assert.Equal(t, "7", w.Header().Get("Retry-After"))
}

func TestPendingIndexRetryAfterRoundsUp(t *testing.T) {
	for delay, want := range map[time.Duration]string{
		300 * time.Millisecond:  "1",
		1500 * time.Millisecond: "2",
		0:                       "1",
	} {
		s := newServerWithRetryDelay(t, delay)
		s.remote.RequireIndexes(true)

		w := s.do(t, http.MethodGet, "/chats/latest", s.token(t, "alice"), nil)

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, want, w.Header().Get("Retry-After"), "delay %v", delay)
	}
}

func TestGroupRoutes(t *testing.T) {
	s := newServer(t)
	alice, bob := s.token(t, "alice"), s.token(t, "bob")

	w := s.do(t, http.MethodPost, "/groups", alice, map[string]string{"name": "night owls"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	group := decode[models.Group](t, w).Data
	base := "/groups/" + group.ID

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/join", bob, nil).Code)

	w = s.do(t, http.MethodPut, base+"/members/alice/role", bob, map[string]string{"role": "member"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, base+"/members/alice/role", alice, map[string]string{"role": "member"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "LAST_ADMIN", decode[any](t, w).Code)

	w = s.do(t, http.MethodPut, base+"/members/bob/role", alice, map[string]string{"role": "moderator"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, base+"/messages", bob, map[string]string{"text": "hoot"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodGet, base+"/messages", alice, nil)
	msgs := decode[[]models.GroupMessage](t, w).Data
	assert.Equal(t, "hoot", msgs[len(msgs)-1].Text)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/leave", bob, nil).Code)
	w = s.do(t, http.MethodGet, base+"/messages", bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/groups/missing/join", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportRoute(t *testing.T) {
	s := newServer(t)
	alice, bob := s.token(t, "alice"), s.token(t, "bob")
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/search", alice, nil).Code)
	found := decode[searchView](t, s.do(t, http.MethodPost, "/search", bob, nil)).Data
	require.True(t, found.Matched)
	path := "/chats/" + found.ChatID + "/reports"

	w := s.do(t, http.MethodPost, path, alice, map[string]string{"severity": "Apocalyptic"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, path, alice, map[string]string{"severity": "Low", "reason": "spam"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "bob", decode[models.Report](t, w).Data.TargetID)
}

func TestHealthAndMissingServices(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w).Data
	assert.Equal(t, false, health["degraded"])

	w = s.do(t, http.MethodGet, "/recommendations", s.token(t, "alice"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodGet, "/ws", s.token(t, "alice"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
