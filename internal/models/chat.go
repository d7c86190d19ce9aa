package models

import "time"

// SystemSenderID marks lifecycle-generated messages.
const SystemSenderID = "system"

const (
	ChatKindDirect = "direct"
	ChatKindGroup  = "group"
)

// MessageKind tags the Message variant.
type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
)

// SystemKind says which lifecycle event produced a system message.
type SystemKind string

const (
	SystemCreated  SystemKind = "created"
	SystemJoined   SystemKind = "joined"
	SystemLeft     SystemKind = "left"
	SystemEnded    SystemKind = "ended"
	SystemGame     SystemKind = "game"
	SystemReported SystemKind = "reported"
	SystemPromoted SystemKind = "promoted"
)

// Message is a single chat message. Only IsRead may change after creation,
// and only from false to true.
type Message struct {
	ID         string      `json:"id" validate:"required"`
	ChatID     string      `json:"chatId" validate:"required"`
	SenderID   string      `json:"senderId" validate:"required"`
	Text       string      `json:"text" validate:"max=4096"`
	Timestamp  time.Time   `json:"timestamp" validate:"required"`
	IsRead     bool        `json:"isRead"`
	IsSystem   bool        `json:"isSystem"`
	Kind       MessageKind `json:"kind" validate:"oneof=user system"`
	SystemKind SystemKind  `json:"systemKind,omitempty"`
}

// Report is a complaint filed by one participant against another.
type Report struct {
	ID         string    `json:"id" validate:"required"`
	ChatID     string    `json:"chatId" validate:"required"`
	ReporterID string    `json:"reporterId" validate:"required"`
	TargetID   string    `json:"targetId" validate:"required,nefield=ReporterID"`
	Reason     string    `json:"reason" validate:"max=1024"`
	Severity   string    `json:"severity" validate:"oneof=Low Medium Critical"`
	Confirmed  bool      `json:"confirmed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatSession is a 1:1 conversation record. Sessions are never deleted:
// Ended implies !IsActive and is terminal.
type ChatSession struct {
	ID           string    `json:"id" validate:"required"`
	Kind         string    `json:"kind"`
	Participants []string  `json:"participants" validate:"len=2,dive,required"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IsActive     bool      `json:"isActive"`
	Ended        bool      `json:"ended"`
	Messages     []Message `json:"messages" validate:"dive"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	Reports      []Report  `json:"reports" validate:"dive"`
}

// HasParticipant reports whether userID takes part in the session.
func (s *ChatSession) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID.
func (s *ChatSession) Others(userID string) []string {
	others := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// UserChats is the per-user "my sessions" index.
type UserChats struct {
	UserID  string   `json:"userId"`
	ChatIDs []string `json:"chatIds"`
}
