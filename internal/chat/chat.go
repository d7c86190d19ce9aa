// Package chat creates chat sessions and runs their lifecycle: messages,
// read state, system messages and termination. It also manages groups.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/notify"
	"anonchat/backend/internal/storage"

	"github.com/google/uuid"
)

const (
	SessionCollection      = "chats"
	UserChatsCollection    = "userChats"
	GroupCollection        = "groups"
	GroupMemberCollection  = "groupMembers"
	GroupMessageCollection = "groupMessages"
	ReportCollection       = "reports"
)

// ActiveSessionIndex orders direct sessions by creation time.
var ActiveSessionIndex = storage.IndexSpec{
	Name:         "chats_by_createdAt",
	Collection:   SessionCollection,
	PartitionKey: "kind",
	SortKey:      "createdAt",
}

// ErrSessionEnded belongs to the ErrSessionNotFound class: an ended session
// accepts no more messages.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = fmt.Errorf("%w: session has ended", ErrSessionNotFound)
	ErrNotParticipant  = errors.New("user is not a participant of this session")
	ErrSelfMatch       = errors.New("a session needs two distinct participants")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrGroupNotFound   = errors.New("group not found")
	ErrNotMember       = errors.New("user is not a member of this group")
	ErrForbidden       = errors.New("only an admin can do that")
	ErrLastAdmin       = errors.New("the group would be left without an admin")
	ErrReportNotFound  = errors.New("report not found")
	ErrInvalidRole     = errors.New("unknown group role")
)

// Stats receives the per-user chat counters.
type Stats interface {
	IncrementCompletedChats(ctx context.Context, userID string) error
	IncrementUnread(ctx context.Context, userID, chatID string) error
	ResetUnread(ctx context.Context, userID, chatID string) error
}

// Publisher pushes real-time events to users.
type Publisher interface {
	Publish(ctx context.Context, e notify.Event) error
}

// Texts resolves system message texts.
type Texts interface {
	Format(lang, key string, args ...any) string
}

func now() time.Time { return time.Now().UTC() }

func systemText(texts Texts, key string, args ...any) string {
	if texts == nil {
		return key
	}
	return texts.Format(localization.DefaultLanguage, key, args...)
}

func newSystemMessage(chatID string, kind models.SystemKind, text string, at time.Time) models.Message {
	return models.Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderID:   models.SystemSenderID,
		Text:       text,
		Timestamp:  at,
		IsSystem:   true,
		Kind:       models.MessageKindSystem,
		SystemKind: kind,
	}
}

func loadSession(ctx context.Context, store storage.Store, chatID string) (*models.ChatSession, error) {
	raw, ok := store.Get(ctx, storage.Key(SessionCollection, chatID))
	if !ok {
		return nil, ErrSessionNotFound
	}
	s, err := models.Decode[models.ChatSession](raw)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", chatID, err)
	}
	return s, nil
}

func saveSession(ctx context.Context, store storage.Store, s *models.ChatSession) error {
	if err := models.Validate(s); err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	if !store.Set(ctx, storage.Key(SessionCollection, s.ID), s) {
		return fmt.Errorf("session %s: write failed", s.ID)
	}
	return nil
}
