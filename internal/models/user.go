package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User is the relational profile of an anonymous user.
// Interests feed both the queue preferences and the recommendation scorer.
type User struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	Age          int            `json:"age"`
	Gender       string         `json:"gender"`
	Interests    pq.StringArray `gorm:"type:text[]" json:"interests"`
	Reputation   int            `gorm:"default:1000" json:"reputation"`
	IsBlocked    bool           `json:"isBlocked"`
	BlockEndTime int64          `json:"blockEndTime"`
	BlockLevel   int            `json:"blockLevel"`
	LastBanDate  int64          `json:"lastBanDate"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// BeforeCreate is a GORM hook that assigns a UUID when the ID is empty.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// Banned reports whether the block is still in force at now.
// A block without an end time is permanent.
func (u *User) Banned(now time.Time) bool {
	if !u.IsBlocked {
		return false
	}
	return u.BlockEndTime == 0 || u.BlockEndTime > now.Unix()
}

// UserStats holds the per-user counters kept by the statistics collaborator.
type UserStats struct {
	UserID         string `gorm:"primaryKey"`
	CompletedChats int    `gorm:"not null;default:0"`
	UpdatedAt      time.Time
}

// UnreadCounter counts unread messages of one user in one chat.
type UnreadCounter struct {
	UserID    string `gorm:"primaryKey"`
	ChatID    string `gorm:"primaryKey"`
	Count     int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}
