package chat

import (
	"context"
	"fmt"
	"slices"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"

	"github.com/google/uuid"
)

// Factory creates chat sessions for matched users.
type Factory struct {
	store storage.Store
	texts Texts
	log   *logger.Logger
}

func NewFactory(store storage.Store, texts Texts, log *logger.Logger) *Factory {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Factory{store: store, texts: texts, log: log.Named("session-factory")}
}

// CreateSession persists a new active session between a and b, seeded with
// one system message, and adds it to both users' session lists. A failed
// list update is logged only: the match notification still leads the user
// to the session.
func (f *Factory) CreateSession(ctx context.Context, a, b string) (*models.ChatSession, error) {
	if a == b {
		return nil, ErrSelfMatch
	}

	at := now()
	id := uuid.NewString()
	first := newSystemMessage(id, models.SystemCreated, systemText(f.texts, "chat.created"), at)
	s := &models.ChatSession{
		ID:           id,
		Kind:         models.ChatKindDirect,
		Participants: []string{a, b},
		CreatedAt:    at,
		UpdatedAt:    at,
		IsActive:     true,
		Messages:     []models.Message{first},
		LastMessage:  &first,
		Reports:      []models.Report{},
	}
	if err := saveSession(ctx, f.store, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for _, userID := range s.Participants {
		if err := f.addToUserChats(ctx, userID, id); err != nil {
			f.log.Ctx(ctx).Warnf("index session %s for %s: %v", id, userID, err)
		}
	}

	f.log.Ctx(ctx).Infof("created session %s for %s and %s", id, a, b)
	return s, nil
}

func (f *Factory) addToUserChats(ctx context.Context, userID, chatID string) error {
	key := storage.Key(UserChatsCollection, userID)
	index := &models.UserChats{UserID: userID}
	if raw, ok := f.store.Get(ctx, key); ok {
		decoded, err := models.Decode[models.UserChats](raw)
		if err != nil {
			return err
		}
		index = decoded
	}
	if slices.Contains(index.ChatIDs, chatID) {
		return nil
	}
	index.ChatIDs = append(index.ChatIDs, chatID)
	if !f.store.Set(ctx, key, index) {
		return fmt.Errorf("write %s", key)
	}
	return nil
}
