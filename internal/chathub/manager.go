// Package chathub keeps the live websocket connections, pushes chat events to
// them and routes what users send back into the chat lifecycle.
package chathub

import (
	"context"
	"errors"

	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/notify"
)

// Chats is the part of the chat lifecycle a connected user can drive.
type Chats interface {
	SendMessage(ctx context.Context, chatID, senderID, text string) (*models.Message, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int, error)
	EndChat(ctx context.Context, chatID, byUserID string) (*models.ChatSession, error)
}

// Events delivers the real-time events of one user.
type Events interface {
	Subscribe(ctx context.Context, userID string) (<-chan notify.Event, func())
}

// Searches stops the background search of a user whose view went away.
type Searches interface {
	Stop(userID string)
}

type delivery struct {
	userID string
	frame  models.ServerFrame
}

// ManagerService owns the connected clients. All map access happens on the
// Run goroutine.
type ManagerService struct {
	Clients map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Inbound

	pubSubCh chan delivery
	subs     map[string]func()
	done     chan struct{}

	chats    Chats
	events   Events
	searches Searches
	log      *logger.Logger
}

func NewManagerService(chats Chats, events Events, searches Searches, log *logger.Logger) *ManagerService {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &ManagerService{
		Clients:      make(map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Inbound, 64),
		pubSubCh:     make(chan delivery, 256),
		subs:         make(map[string]func()),
		done:         make(chan struct{}),
		chats:        chats,
		events:       events,
		searches:     searches,
		log:          log.Named("hub"),
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (m *ManagerService) Run(ctx context.Context) {
	m.log.Infof("chat hub started")
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			for id, c := range m.Clients {
				m.drop(id, c)
			}
			m.log.Infof("chat hub stopped")
			return

		case c := <-m.RegisterCh:
			m.register(ctx, c)

		case c := <-m.UnregisterCh:
			if cur, ok := m.Clients[c.GetUserID()]; ok && cur == c {
				m.drop(c.GetUserID(), c)
				if m.searches != nil {
					m.searches.Stop(c.GetUserID())
				}
			}

		case in := <-m.IncomingCh:
			m.handleIncoming(ctx, in)

		case d := <-m.pubSubCh:
			m.deliver(d.userID, d.frame)
		}
	}
}

// Register hands a new connection to the hub. It reports false when the hub
// has stopped and c was not taken.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Unregister hands c back to the hub. It does not block once the hub stopped.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// Submit queues a frame read from a client.
func (m *ManagerService) Submit(in Inbound) {
	select {
	case m.IncomingCh <- in:
	case <-m.done:
	}
}

// register replaces any previous connection of the same user.
func (m *ManagerService) register(ctx context.Context, c Client) {
	id := c.GetUserID()
	if prev, ok := m.Clients[id]; ok && prev != c {
		m.drop(id, prev)
	}
	m.Clients[id] = c
	m.subscribe(ctx, id)
	c.Run()
	m.log.Ctx(ctx).Infof("client %s connected", id)
}

func (m *ManagerService) drop(userID string, c Client) {
	delete(m.Clients, userID)
	if unsubscribe, ok := m.subs[userID]; ok {
		unsubscribe()
		delete(m.subs, userID)
	}
	c.Close()
}

func (m *ManagerService) handleIncoming(ctx context.Context, in Inbound) {
	ctx = logger.WithUserID(ctx, in.UserID)
	f := in.Frame

	var err error
	switch f.Type {
	case models.FrameMessage:
		var msg *models.Message
		msg, err = m.chats.SendMessage(ctx, f.ChatID, in.UserID, f.Text)
		if err == nil {
			m.deliver(in.UserID, models.ServerFrame{Type: models.FrameMessage, ChatID: f.ChatID, Message: msg})
		}
	case models.FrameRead:
		_, err = m.chats.MarkRead(ctx, f.ChatID, in.UserID)
	case models.FrameEnd:
		_, err = m.chats.EndChat(ctx, f.ChatID, in.UserID)
	default:
		err = errors.New("unknown frame type " + f.Type)
	}
	if err != nil {
		m.log.Ctx(ctx).Warnf("%s frame for chat %s: %v", f.Type, f.ChatID, err)
		m.deliver(in.UserID, models.ServerFrame{Type: models.FrameError, ChatID: f.ChatID, Error: frameError(err)})
	}
}

// deliver pushes a frame without blocking. A client that cannot keep up is
// disconnected.
func (m *ManagerService) deliver(userID string, frame models.ServerFrame) {
	c, ok := m.Clients[userID]
	if !ok {
		return
	}
	select {
	case c.GetSendChannel() <- frame:
	default:
		m.log.Warnf("client %s is too slow, disconnecting", userID)
		m.drop(userID, c)
	}
}

func frameError(err error) string {
	switch {
	case errors.Is(err, chat.ErrSessionEnded):
		return "chat_ended"
	case errors.Is(err, chat.ErrSessionNotFound):
		return "chat_not_found"
	case errors.Is(err, chat.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, chat.ErrInvalidMessage):
		return "invalid_message"
	}
	return "internal_error"
}
