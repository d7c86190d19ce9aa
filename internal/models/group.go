package models

import "time"

// GroupRole is the role of a member inside a group.
type GroupRole string

const (
	RoleAdmin     GroupRole = "admin"
	RoleModerator GroupRole = "moderator"
	RoleMember    GroupRole = "member"
)

// Valid reports whether r is a known role.
func (r GroupRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// Group is a multi-party chat. MemberCount mirrors the size of the member set.
type Group struct {
	ID          string    `json:"id" validate:"required"`
	Name        string    `json:"name" validate:"required,max=128"`
	CreatedBy   string    `json:"createdBy"`
	MemberCount int       `json:"memberCount" validate:"gte=0"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// GroupMember links a user to a group.
type GroupMember struct {
	ID       string    `json:"id" validate:"required"`
	GroupID  string    `json:"groupId" validate:"required"`
	UserID   string    `json:"userId" validate:"required"`
	Role     GroupRole `json:"role" validate:"oneof=admin moderator member"`
	JoinedAt time.Time `json:"joinedAt"`
}

// GroupMemberID builds the document id of a membership.
func GroupMemberID(groupID, userID string) string {
	return groupID + ":" + userID
}

// GroupMessage is a message posted to a group.
type GroupMessage struct {
	ID         string     `json:"id" validate:"required"`
	GroupID    string     `json:"groupId" validate:"required"`
	SenderID   string     `json:"senderId" validate:"required"`
	Text       string     `json:"text" validate:"max=4096"`
	Timestamp  time.Time  `json:"timestamp"`
	IsSystem   bool       `json:"isSystem"`
	SystemKind SystemKind `json:"systemKind,omitempty"`
}
