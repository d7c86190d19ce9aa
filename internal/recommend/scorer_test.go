package recommend_test

import (
	"context"
	"testing"
	"time"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/recommend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.User), args.Error(1)
}

type history []models.ChatSession

func (h history) ListSessions(context.Context, string) ([]models.ChatSession, error) { return h, nil }

type moderation struct {
	reported map[string]bool
}

func (m moderation) ReportedBy(context.Context, string) map[string]bool { return m.reported }

func chatWith(other string, active bool, userMessages int) models.ChatSession {
	s := models.ChatSession{
		ID:           "chat-" + other,
		Participants: []string{"me", other},
		IsActive:     active,
		Ended:        !active,
	}
	for i := 0; i < userMessages; i++ {
		s.Messages = append(s.Messages, models.Message{SenderID: "me", Kind: models.MessageKindUser})
	}
	s.Messages = append(s.Messages, models.Message{SenderID: models.SystemSenderID, IsSystem: true})
	return s
}

func TestScorer_Recommend(t *testing.T) {
	// Arrange
	users := new(MockUsers)
	me := &models.User{ID: "me", Age: 25, Interests: []string{"chess", "go", "jazz"}}
	users.On("GetUserByID", mock.Anything, "me").Return(me, nil)
	users.On("ListUsers", mock.Anything, mock.Anything).Return([]models.User{
		*me,
		{ID: "ben", Age: 40},
		{ID: "cat", Interests: []string{"jazz"}},
		{ID: "ann", Age: 27, Interests: []string{"chess", "go"}},
		{ID: "dan", Age: 25, Interests: []string{"chess", "go", "jazz"}, IsBlocked: true},
		{ID: "eve", Age: 25, Interests: []string{"chess"}},
		{ID: "fay", Age: 25, Interests: []string{"go"}},
	}, nil)
	sessions := history{chatWith("cat", false, 12), chatWith("fay", true, 3)}
	mod := moderation{reported: map[string]bool{"eve": true}}
	scorer := recommend.NewScorer(users, sessions, mod, nil, logger.Nop())

	// Act
	got, err := scorer.Recommend(context.Background(), "me", 0)

	// Assert
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.UserID)
	}
	assert.Equal(t, []string{"ann", "cat", "ben"}, ids)
	assert.InDelta(t, 72.5, got[0].Score, 1e-9)
	assert.Equal(t, []string{"chess", "go"}, got[0].SharedInterests)
	assert.InDelta(t, 47.5, got[1].Score, 1e-9)
	assert.InDelta(t, 7.5, got[2].Score, 1e-9)
}

func TestScorer_RecommendLimitAndShortChats(t *testing.T) {
	users := new(MockUsers)
	users.On("GetUserByID", mock.Anything, "me").Return(&models.User{ID: "me"}, nil)
	users.On("ListUsers", mock.Anything, mock.Anything).Return([]models.User{
		{ID: "bob"}, {ID: "amy"}, {ID: "cid"},
	}, nil)
	sessions := history{chatWith("cid", false, 2)}
	scorer := recommend.NewScorer(users, sessions, moderation{}, nil, logger.Nop())

	got, err := scorer.Recommend(context.Background(), "me", 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	// no interests and no ages: only the interaction term differs
	assert.Equal(t, "amy", got[0].UserID)
	assert.Equal(t, "bob", got[1].UserID)
	assert.InDelta(t, 25+7.5, got[0].Score, 1e-9)
}

type queued struct{ entry *models.QueueEntry }

func (q queued) Entry(context.Context, string) (*models.QueueEntry, bool) {
	return q.entry, q.entry != nil
}

func TestScorer_UsesRequestedAgeRange(t *testing.T) {
	users := new(MockUsers)
	users.On("GetUserByID", mock.Anything, "me").Return(&models.User{ID: "me", Age: 25}, nil)
	users.On("ListUsers", mock.Anything, mock.Anything).Return([]models.User{
		{ID: "young", Age: 24}, {ID: "older", Age: 45},
	}, nil)
	prefs := queued{entry: &models.QueueEntry{UserID: "me", Preferences: models.Preferences{AgeRange: models.AgeRange{40, 50}}}}
	scorer := recommend.NewScorer(users, history{}, moderation{}, prefs, logger.Nop())

	got, err := scorer.Recommend(context.Background(), "me", 0)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].UserID)
	assert.InDelta(t, 25+7.5, got[0].Score, 1e-9)
	assert.InDelta(t, 0+7.5, got[1].Score, 1e-9)
}

func TestScorer_BanStateComesFromLoadedProfiles(t *testing.T) {
	users := new(MockUsers)
	now := time.Now()
	users.On("GetUserByID", mock.Anything, "me").Return(&models.User{ID: "me"}, nil)
	users.On("ListUsers", mock.Anything, mock.Anything).Return([]models.User{
		{ID: "served", IsBlocked: true, BlockEndTime: now.Add(-time.Hour).Unix()},
		{ID: "serving", IsBlocked: true, BlockEndTime: now.Add(time.Hour).Unix()},
		{ID: "clean"},
	}, nil)
	scorer := recommend.NewScorer(users, history{}, moderation{}, nil, logger.Nop())

	got, err := scorer.Recommend(context.Background(), "me", 0)

	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.UserID)
	}
	assert.ElementsMatch(t, []string{"served", "clean"}, ids)
	// one profile lookup for the requester, none per candidate
	users.AssertNumberOfCalls(t, "GetUserByID", 1)
}
