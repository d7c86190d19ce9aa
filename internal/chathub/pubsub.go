package chathub

import (
	"context"

	"anonchat/backend/internal/models"
	"anonchat/backend/internal/notify"
)

// subscribe forwards the user's relay events into the hub loop until the
// subscription is cancelled.
func (m *ManagerService) subscribe(ctx context.Context, userID string) {
	if m.events == nil {
		return
	}
	ch, unsubscribe := m.events.Subscribe(ctx, userID)
	m.subs[userID] = unsubscribe

	go func() {
		for e := range ch {
			select {
			case m.pubSubCh <- delivery{userID: userID, frame: frameFor(e)}:
			case <-m.done:
				return
			}
		}
	}()
}

func frameFor(e notify.Event) models.ServerFrame {
	f := models.ServerFrame{
		ChatID:      e.ChatID,
		GroupID:     e.GroupID,
		OtherUserID: e.OtherUserID,
		Message:     e.Message,
	}
	switch e.Kind {
	case notify.EventChatFound:
		f.Type = models.FrameChatFound
	case notify.EventChatEnded:
		f.Type = models.FrameChatEnded
	case notify.EventGroupMessage:
		f.Type = models.FrameGroupMessage
	default:
		f.Type = models.FrameMessage
	}
	return f
}
