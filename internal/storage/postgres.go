package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUserNotFound is returned when a user profile does not exist.
var ErrUserNotFound = errors.New("user not found")

// AutoMigrate creates the relational tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.UnreadCounter{})
}

// PostgresStats keeps the chat counters in PostgreSQL.
type PostgresStats struct {
	DB *gorm.DB
}

func NewPostgresStats(db *gorm.DB) *PostgresStats {
	return &PostgresStats{DB: db}
}

// IncrementCompletedChats bumps the completed-chat counter of userID.
func (s *PostgresStats) IncrementCompletedChats(ctx context.Context, userID string) error {
	now := time.Now()
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"completed_chats": gorm.Expr("user_stats.completed_chats + 1"),
			"updated_at":      now,
		}),
	}).Create(&models.UserStats{UserID: userID, CompletedChats: 1, UpdatedAt: now}).Error
}

// IncrementUnread bumps the unread counter of userID in chatID.
func (s *PostgresStats) IncrementUnread(ctx context.Context, userID, chatID string) error {
	now := time.Now()
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "chat_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("unread_counters.count + 1"),
			"updated_at": now,
		}),
	}).Create(&models.UnreadCounter{UserID: userID, ChatID: chatID, Count: 1, UpdatedAt: now}).Error
}

// ResetUnread zeroes the unread counter of userID in chatID.
func (s *PostgresStats) ResetUnread(ctx context.Context, userID, chatID string) error {
	return s.DB.WithContext(ctx).Model(&models.UnreadCounter{}).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Updates(map[string]interface{}{"count": 0, "updated_at": time.Now()}).Error
}

func (s *PostgresStats) CompletedChats(ctx context.Context, userID string) (int, error) {
	var st models.UserStats
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return st.CompletedChats, nil
}

func (s *PostgresStats) UnreadCount(ctx context.Context, userID, chatID string) (int, error) {
	var c models.UnreadCounter
	err := s.DB.WithContext(ctx).Where("user_id = ? AND chat_id = ?", userID, chatID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Count, nil
}

// UserRepository stores user profiles, reputation and ban state.
type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUser inserts or fully updates a user.
func (r *UserRepository) SaveUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return r.DB.WithContext(ctx).Create(user).Error
	}
	return r.DB.WithContext(ctx).Save(user).Error
}

// ListUsers returns up to limit users, newest first.
func (r *UserRepository) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	var users []models.User
	q := r.DB.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUserReputation adds delta to the reputation, clamped to the allowed range.
func (r *UserRepository) UpdateUserReputation(ctx context.Context, id string, delta int) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("reputation", gorm.Expr("LEAST(GREATEST(reputation + ?, ?), ?)",
			delta, config.MinReputation, config.MaxReputation))
	if res.Error != nil {
		return fmt.Errorf("update reputation of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUser persists the ban fields of user.
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"is_blocked":     user.IsBlocked,
			"block_end_time": user.BlockEndTime,
			"block_level":    user.BlockLevel,
			"last_ban_date":  user.LastBanDate,
		}).Error
}
