// Package notify delivers "you have a new chat" markers and real-time
// events to users.
package notify

import (
	"context"
	"fmt"
	"time"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
)

const (
	NotificationCollection = "matchNotifications"
	FlagCollection         = "hasNewChat"
)

type EventKind string

const (
	EventChatFound    EventKind = "chat_found"
	EventMessage      EventKind = "message"
	EventChatEnded    EventKind = "chat_ended"
	EventGroupMessage EventKind = "group_message"
)

// Event is pushed to every live subscriber of UserID.
type Event struct {
	Kind        EventKind       `json:"kind"`
	UserID      string          `json:"userId"`
	ChatID      string          `json:"chatId,omitempty"`
	GroupID     string          `json:"groupId,omitempty"`
	OtherUserID string          `json:"otherUserId,omitempty"`
	Message     *models.Message `json:"message,omitempty"`
	At          time.Time       `json:"at"`
}

// Bus fans events out to subscribers of a user.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(ctx context.Context, userID string) (<-chan Event, func())
}

type Relay struct {
	store storage.Store
	bus   Bus
	log   *logger.Logger
}

func NewRelay(store storage.Store, bus Bus, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Relay{store: store, bus: bus, log: log.Named("notify")}
}

// Notify records a new chat for userID, raises the presence flag and
// publishes chat_found to live subscribers.
func (r *Relay) Notify(ctx context.Context, userID, chatID, otherUserID string) error {
	n := models.MatchNotification{
		UserID:      userID,
		ChatID:      chatID,
		OtherUserID: otherUserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := models.Validate(&n); err != nil {
		return fmt.Errorf("notify %s: %w", userID, err)
	}

	if !r.store.Set(ctx, storage.Key(NotificationCollection, userID), n) {
		return fmt.Errorf("notify %s: could not write notification", userID)
	}
	if !r.store.Set(ctx, storage.Key(FlagCollection, userID), models.NewChatFlag{UserID: userID, Value: true}) {
		return fmt.Errorf("notify %s: could not raise flag", userID)
	}

	if err := r.Publish(ctx, Event{Kind: EventChatFound, UserID: userID, ChatID: chatID, OtherUserID: otherUserID}); err != nil {
		r.log.Ctx(ctx).Warnf("publish chat_found to %s: %v", userID, err)
	}
	return nil
}

// HasNewChat is true only when both the flag is raised and a valid
// notification exists. Any partial state reads as false.
func (r *Relay) HasNewChat(ctx context.Context, userID string) bool {
	raw, ok := r.store.Get(ctx, storage.Key(FlagCollection, userID))
	if !ok {
		return false
	}
	flag, err := models.Decode[models.NewChatFlag](raw)
	if err != nil || !flag.Value {
		return false
	}
	_, ok = r.Latest(ctx, userID)
	return ok
}

// Latest returns the user's current notification, if it parses.
func (r *Relay) Latest(ctx context.Context, userID string) (*models.MatchNotification, bool) {
	raw, ok := r.store.Get(ctx, storage.Key(NotificationCollection, userID))
	if !ok {
		return nil, false
	}
	n, err := models.Decode[models.MatchNotification](raw)
	if err != nil {
		r.log.Ctx(ctx).Warnf("unreadable notification for %s: %v", userID, err)
		return nil, false
	}
	return n, true
}

// MarkRead marks the notification read and lowers the flag. The record is kept.
func (r *Relay) MarkRead(ctx context.Context, userID string) error {
	if n, ok := r.Latest(ctx, userID); ok && !n.IsRead {
		n.IsRead = true
		r.store.Set(ctx, storage.Key(NotificationCollection, userID), n)
	}
	if !r.store.Set(ctx, storage.Key(FlagCollection, userID), models.NewChatFlag{UserID: userID, Value: false}) {
		return fmt.Errorf("mark read for %s: could not clear flag", userID)
	}
	return nil
}

func (r *Relay) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return r.bus.Publish(ctx, e)
}

// Subscribe streams events for userID until ctx ends or the returned func is called.
func (r *Relay) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	return r.bus.Subscribe(ctx, userID)
}
