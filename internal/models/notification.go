package models

import "time"

// MatchNotification tells a user that a new chat was created for them.
// There is one per user; each new match overwrites it.
type MatchNotification struct {
	UserID      string    `json:"userId" validate:"required"`
	ChatID      string    `json:"chatId" validate:"required"`
	OtherUserID string    `json:"otherUserId" validate:"required,nefield=UserID"`
	CreatedAt   time.Time `json:"createdAt" validate:"required"`
	IsRead      bool      `json:"isRead"`
}

// NewChatFlag is the fast presence flag paired with a MatchNotification.
type NewChatFlag struct {
	UserID string `json:"userId"`
	Value  bool   `json:"value"`
}
