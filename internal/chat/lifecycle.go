package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/notify"
	"anonchat/backend/internal/storage"

	"github.com/google/uuid"
)

// Lifecycle runs a session from creation to its terminal ended state.
// Session documents are rewritten as a whole, so updates inside one process
// are serialized.
type Lifecycle struct {
	store storage.Store
	stats Stats
	pub   Publisher
	texts Texts
	log   *logger.Logger
	mu    sync.Mutex
}

func NewLifecycle(store storage.Store, stats Stats, pub Publisher, texts Texts, log *logger.Logger) *Lifecycle {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Lifecycle{store: store, stats: stats, pub: pub, texts: texts, log: log.Named("lifecycle")}
}

// SendMessage appends a user message. Ended or missing sessions reject it.
func (l *Lifecycle) SendMessage(ctx context.Context, chatID, senderID, text string) (*models.Message, error) {
	l.mu.Lock()
	s, err := loadSession(ctx, l.store, chatID)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if s.Ended {
		l.mu.Unlock()
		return nil, ErrSessionEnded
	}
	if senderID == models.SystemSenderID || !s.HasParticipant(senderID) {
		l.mu.Unlock()
		return nil, ErrNotParticipant
	}

	at := now()
	msg := models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: at,
		Kind:      models.MessageKindUser,
	}
	if text == "" {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	if err := models.Validate(&msg); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	s.Messages = append(s.Messages, msg)
	s.LastMessage = &msg
	s.UpdatedAt = at
	err = saveSession(ctx, l.store, s)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, other := range s.Others(senderID) {
		if err := l.stats.IncrementUnread(ctx, other, chatID); err != nil {
			l.log.Ctx(ctx).Warnf("unread counter for %s in %s: %v", other, chatID, err)
		}
		l.publish(ctx, notify.Event{Kind: notify.EventMessage, UserID: other, ChatID: chatID, Message: &msg})
	}
	return &msg, nil
}

// GetSessionMessages returns the messages of a session the user takes part in.
func (l *Lifecycle) GetSessionMessages(ctx context.Context, chatID, userID string) ([]models.Message, error) {
	s, err := l.GetSession(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return s.Messages, nil
}

// GetSession loads a session. An empty userID skips the participant check.
func (l *Lifecycle) GetSession(ctx context.Context, chatID, userID string) (*models.ChatSession, error) {
	s, err := loadSession(ctx, l.store, chatID)
	if err != nil {
		return nil, err
	}
	if userID != "" && !s.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return s, nil
}

// MarkRead flips isRead on every message the reader did not author. Messages
// already read are left alone, and nothing is written when no message changed.
func (l *Lifecycle) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	l.mu.Lock()
	s, err := loadSession(ctx, l.store, chatID)
	if err != nil {
		l.mu.Unlock()
		return 0, err
	}
	if !s.HasParticipant(readerID) {
		l.mu.Unlock()
		return 0, ErrNotParticipant
	}

	flipped := 0
	for i := range s.Messages {
		m := &s.Messages[i]
		if m.SenderID == readerID || m.IsRead {
			continue
		}
		m.IsRead = true
		flipped++
		if s.LastMessage != nil && s.LastMessage.ID == m.ID {
			s.LastMessage.IsRead = true
		}
	}
	if flipped == 0 {
		l.mu.Unlock()
		return 0, nil
	}
	err = saveSession(ctx, l.store, s)
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if err := l.stats.ResetUnread(ctx, readerID, chatID); err != nil {
		l.log.Ctx(ctx).Warnf("reset unread for %s in %s: %v", readerID, chatID, err)
	}
	return flipped, nil
}

// AppendSystemMessage adds a lifecycle message to an active session.
func (l *Lifecycle) AppendSystemMessage(ctx context.Context, chatID string, kind models.SystemKind, text string) (*models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := loadSession(ctx, l.store, chatID)
	if err != nil {
		return nil, err
	}
	if s.Ended {
		return nil, ErrSessionEnded
	}

	msg := newSystemMessage(chatID, kind, text, now())
	if err := models.Validate(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	s.Messages = append(s.Messages, msg)
	s.LastMessage = &msg
	s.UpdatedAt = msg.Timestamp
	if err := saveSession(ctx, l.store, s); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EndChat moves the session to its terminal state. Ending an ended session
// changes nothing. An empty byUserID ends the session on behalf of the system.
func (l *Lifecycle) EndChat(ctx context.Context, chatID, byUserID string) (*models.ChatSession, error) {
	l.mu.Lock()
	s, err := loadSession(ctx, l.store, chatID)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if byUserID != "" && !s.HasParticipant(byUserID) {
		l.mu.Unlock()
		return nil, ErrNotParticipant
	}
	if s.Ended {
		l.mu.Unlock()
		return s, nil
	}

	msg := newSystemMessage(chatID, models.SystemEnded, systemText(l.texts, "chat.ended"), now())
	s.Messages = append(s.Messages, msg)
	s.LastMessage = &msg
	s.UpdatedAt = msg.Timestamp
	s.IsActive = false
	s.Ended = true
	err = saveSession(ctx, l.store, s)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.Kind == models.ChatKindDirect && len(s.Participants) == 2 {
		for _, p := range s.Participants {
			if err := l.stats.IncrementCompletedChats(ctx, p); err != nil {
				l.log.Ctx(ctx).Warnf("completed chats counter for %s: %v", p, err)
			}
		}
	}
	for _, p := range s.Participants {
		l.publish(ctx, notify.Event{Kind: notify.EventChatEnded, UserID: p, ChatID: chatID, Message: &msg})
	}
	l.log.Ctx(ctx).Infof("session %s ended by %q", chatID, byUserID)
	return s, nil
}

// AttachReport records a complaint inside the session together with a
// system message. The session may already be ended.
func (l *Lifecycle) AttachReport(ctx context.Context, r models.Report) (*models.ChatSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := loadSession(ctx, l.store, r.ChatID)
	if err != nil {
		return nil, err
	}
	if !s.HasParticipant(r.ReporterID) || !s.HasParticipant(r.TargetID) {
		return nil, ErrNotParticipant
	}

	msg := newSystemMessage(r.ChatID, models.SystemReported, systemText(l.texts, "chat.reported"), now())
	s.Reports = append(s.Reports, r)
	s.Messages = append(s.Messages, msg)
	s.LastMessage = &msg
	s.UpdatedAt = msg.Timestamp
	if err := saveSession(ctx, l.store, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ConfirmReport marks a report of the session as confirmed. The returned flag
// is false when it already was.
func (l *Lifecycle) ConfirmReport(ctx context.Context, chatID, reportID string) (*models.Report, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := loadSession(ctx, l.store, chatID)
	if err != nil {
		return nil, false, err
	}
	for i := range s.Reports {
		r := &s.Reports[i]
		if r.ID != reportID {
			continue
		}
		if r.Confirmed {
			return r, false, nil
		}
		r.Confirmed = true
		if err := saveSession(ctx, l.store, s); err != nil {
			return nil, false, err
		}
		return r, true, nil
	}
	return nil, false, ErrReportNotFound
}

// ListSessions returns the sessions in the user's index, most recently
// updated first. Entries that no longer load are skipped.
func (l *Lifecycle) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	raw, ok := l.store.Get(ctx, storage.Key(UserChatsCollection, userID))
	if !ok {
		return []models.ChatSession{}, nil
	}
	index, err := models.Decode[models.UserChats](raw)
	if err != nil {
		return nil, fmt.Errorf("session list of %s: %w", userID, err)
	}

	sessions := make([]models.ChatSession, 0, len(index.ChatIDs))
	for _, id := range index.ChatIDs {
		s, err := loadSession(ctx, l.store, id)
		if err != nil {
			l.log.Ctx(ctx).Warnf("skip session %s of %s: %v", id, userID, err)
			continue
		}
		sessions = append(sessions, *s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// LatestActiveSession finds the newest active direct session of userID
// through the remote query path. A missing index is returned to the caller.
func (l *Lifecycle) LatestActiveSession(ctx context.Context, userID string) (*models.ChatSession, error) {
	docs, err := l.store.Query(ctx, storage.Query{
		Collection: SessionCollection,
		Index:      ActiveSessionIndex,
		Filter:     map[string]any{"kind": models.ChatKindDirect, "isActive": true},
		Contains:   map[string]string{"participants": userID},
		OrderBy:    "createdAt",
		Desc:       true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrSessionNotFound
	}
	return models.Decode[models.ChatSession](docs[0])
}

func (l *Lifecycle) publish(ctx context.Context, e notify.Event) {
	if l.pub == nil {
		return
	}
	if err := l.pub.Publish(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		l.log.Ctx(ctx).Warnf("publish %s to %s: %v", e.Kind, e.UserID, err)
	}
}
