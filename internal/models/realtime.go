package models

// Frame types exchanged over the WebSocket connection.
const (
	FrameMessage      = "message"
	FrameRead         = "read"
	FrameEnd          = "end"
	FrameChatFound    = "chat_found"
	FrameChatEnded    = "chat_ended"
	FrameGroupMessage = "group_message"
	FrameError        = "error"
)

// ClientFrame is what a connected user sends to the hub.
type ClientFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
	Text   string `json:"text,omitempty"`
}

// ServerFrame is what the hub pushes to a connected user.
type ServerFrame struct {
	Type        string   `json:"type"`
	ChatID      string   `json:"chatId,omitempty"`
	GroupID     string   `json:"groupId,omitempty"`
	OtherUserID string   `json:"otherUserId,omitempty"`
	Message     *Message `json:"message,omitempty"`
	Error       string   `json:"error,omitempty"`
}
