package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/notify"
	"anonchat/backend/internal/storage"

	"github.com/google/uuid"
)

// Groups manages multi-party chats. MemberCount is recomputed from the
// member set on every change, and a group with members always keeps an admin.
type Groups struct {
	store storage.Store
	pub   Publisher
	texts Texts
	log   *logger.Logger
	mu    sync.Mutex
}

func NewGroups(store storage.Store, pub Publisher, texts Texts, log *logger.Logger) *Groups {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Groups{store: store, pub: pub, texts: texts, log: log.Named("groups")}
}

func (g *Groups) Create(ctx context.Context, name, creatorID string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	at := now()
	group := &models.Group{
		ID:          uuid.NewString(),
		Name:        name,
		CreatedBy:   creatorID,
		MemberCount: 1,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := models.Validate(group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	admin := models.GroupMember{
		ID:       models.GroupMemberID(group.ID, creatorID),
		GroupID:  group.ID,
		UserID:   creatorID,
		Role:     models.RoleAdmin,
		JoinedAt: at,
	}
	g.store.Set(ctx, storage.Key(GroupMemberCollection, admin.ID), admin)
	if err := g.saveGroup(ctx, group); err != nil {
		return nil, err
	}
	g.systemMessage(ctx, group.ID, models.SystemCreated, systemText(g.texts, "group.created", name))
	return group, nil
}

func (g *Groups) Get(ctx context.Context, groupID string) (*models.Group, error) {
	raw, ok := g.store.Get(ctx, storage.Key(GroupCollection, groupID))
	if !ok {
		return nil, ErrGroupNotFound
	}
	return models.Decode[models.Group](raw)
}

// Join adds userID as a plain member. Joining twice returns the existing membership.
func (g *Groups) Join(ctx context.Context, groupID, userID string) (*models.GroupMember, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, err := g.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if m, ok := g.member(ctx, groupID, userID); ok {
		return m, nil
	}

	m := models.GroupMember{
		ID:       models.GroupMemberID(groupID, userID),
		GroupID:  groupID,
		UserID:   userID,
		Role:     models.RoleMember,
		JoinedAt: now(),
	}
	g.store.Set(ctx, storage.Key(GroupMemberCollection, m.ID), m)
	if err := g.syncCount(ctx, group); err != nil {
		return nil, err
	}
	g.systemMessage(ctx, groupID, models.SystemJoined, systemText(g.texts, "group.joined"))
	return &m, nil
}

// Leave removes userID. When the last admin leaves, the longest-standing
// moderator is promoted, or the longest-standing member if there is none.
func (g *Groups) Leave(ctx context.Context, groupID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, err := g.Get(ctx, groupID)
	if err != nil {
		return err
	}
	leaving, ok := g.member(ctx, groupID, userID)
	if !ok {
		return ErrNotMember
	}
	g.store.Remove(ctx, storage.Key(GroupMemberCollection, leaving.ID))

	remaining := g.members(ctx, groupID)
	if leaving.Role == models.RoleAdmin && len(remaining) > 0 && countRole(remaining, models.RoleAdmin) == 0 {
		heir := successor(remaining)
		heir.Role = models.RoleAdmin
		g.store.Set(ctx, storage.Key(GroupMemberCollection, heir.ID), heir)
		g.log.Ctx(ctx).Infof("promoted %s to admin of %s", heir.UserID, groupID)
		g.systemMessage(ctx, groupID, models.SystemPromoted, systemText(g.texts, "group.promoted"))
	}

	if err := g.syncCount(ctx, group); err != nil {
		return err
	}
	g.systemMessage(ctx, groupID, models.SystemLeft, systemText(g.texts, "group.left"))
	return nil
}

// SetRole changes the role of targetID. Only admins may do it, and the
// last admin cannot be demoted.
func (g *Groups) SetRole(ctx context.Context, groupID, actorID, targetID string, role models.GroupRole) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.Get(ctx, groupID); err != nil {
		return err
	}
	actor, ok := g.member(ctx, groupID, actorID)
	if !ok {
		return ErrNotMember
	}
	if actor.Role != models.RoleAdmin {
		return ErrForbidden
	}
	target, ok := g.member(ctx, groupID, targetID)
	if !ok {
		return ErrNotMember
	}
	if target.Role == role {
		return nil
	}
	if target.Role == models.RoleAdmin && countRole(g.members(ctx, groupID), models.RoleAdmin) == 1 {
		return ErrLastAdmin
	}

	target.Role = role
	g.store.Set(ctx, storage.Key(GroupMemberCollection, target.ID), target)
	return nil
}

// Members lists the group's members, longest-standing first.
func (g *Groups) Members(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	if _, err := g.Get(ctx, groupID); err != nil {
		return nil, err
	}
	return g.members(ctx, groupID), nil
}

func (g *Groups) SendMessage(ctx context.Context, groupID, senderID, text string) (*models.GroupMessage, error) {
	if _, ok := g.member(ctx, groupID, senderID); !ok {
		if _, err := g.Get(ctx, groupID); err != nil {
			return nil, err
		}
		return nil, ErrNotMember
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}

	msg := models.GroupMessage{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: now(),
	}
	if err := models.Validate(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	g.store.Set(ctx, storage.Key(GroupMessageCollection, msg.ID), msg)

	for _, m := range g.members(ctx, groupID) {
		if m.UserID == senderID || g.pub == nil {
			continue
		}
		e := notify.Event{Kind: notify.EventGroupMessage, UserID: m.UserID, GroupID: groupID}
		if err := g.pub.Publish(ctx, e); err != nil {
			g.log.Ctx(ctx).Warnf("publish group message to %s: %v", m.UserID, err)
		}
	}
	return &msg, nil
}

// Messages returns the group's messages in chronological order.
func (g *Groups) Messages(ctx context.Context, groupID, userID string) ([]models.GroupMessage, error) {
	if _, ok := g.member(ctx, groupID, userID); !ok {
		if _, err := g.Get(ctx, groupID); err != nil {
			return nil, err
		}
		return nil, ErrNotMember
	}

	docs := g.store.GetAll(ctx, GroupMessageCollection, map[string]any{"groupId": groupID})
	msgs := make([]models.GroupMessage, 0, len(docs))
	for _, raw := range docs {
		m, err := models.Decode[models.GroupMessage](raw)
		if err != nil {
			g.log.Ctx(ctx).Warnf("skip unreadable group message: %v", err)
			continue
		}
		msgs = append(msgs, *m)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

func (g *Groups) member(ctx context.Context, groupID, userID string) (*models.GroupMember, bool) {
	raw, ok := g.store.Get(ctx, storage.Key(GroupMemberCollection, models.GroupMemberID(groupID, userID)))
	if !ok {
		return nil, false
	}
	m, err := models.Decode[models.GroupMember](raw)
	if err != nil {
		return nil, false
	}
	return m, true
}

func (g *Groups) members(ctx context.Context, groupID string) []models.GroupMember {
	docs := g.store.GetAll(ctx, GroupMemberCollection, map[string]any{"groupId": groupID})
	out := make([]models.GroupMember, 0, len(docs))
	for _, raw := range docs {
		m, err := models.Decode[models.GroupMember](raw)
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (g *Groups) syncCount(ctx context.Context, group *models.Group) error {
	group.MemberCount = len(g.members(ctx, group.ID))
	group.UpdatedAt = now()
	return g.saveGroup(ctx, group)
}

func (g *Groups) saveGroup(ctx context.Context, group *models.Group) error {
	if !g.store.Set(ctx, storage.Key(GroupCollection, group.ID), group) {
		return fmt.Errorf("group %s: write failed", group.ID)
	}
	return nil
}

func (g *Groups) systemMessage(ctx context.Context, groupID string, kind models.SystemKind, text string) {
	msg := models.GroupMessage{
		ID:         uuid.NewString(),
		GroupID:    groupID,
		SenderID:   models.SystemSenderID,
		Text:       text,
		Timestamp:  now(),
		IsSystem:   true,
		SystemKind: kind,
	}
	g.store.Set(ctx, storage.Key(GroupMessageCollection, msg.ID), msg)
}

func countRole(members []models.GroupMember, role models.GroupRole) int {
	n := 0
	for _, m := range members {
		if m.Role == role {
			n++
		}
	}
	return n
}

// successor picks the longest-standing moderator, else the longest-standing
// member. members must be sorted by JoinedAt.
func successor(members []models.GroupMember) models.GroupMember {
	for _, m := range members {
		if m.Role == models.RoleModerator {
			return m
		}
	}
	return members[0]
}
