// Package complaint handles reports between chat partners: reputation
// penalties, escalating bans and report confirmation.
package complaint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anonchat/backend/internal/analysis"
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"

	"github.com/google/uuid"
)

var ErrUnknownSeverity = errors.New("unknown complaint severity")

// Users is the profile store holding reputation and ban state.
type Users interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUserReputation(ctx context.Context, id string, delta int) error
	UpdateUser(ctx context.Context, user *models.User) error
}

// Sessions is the part of the chat lifecycle reports are recorded in.
type Sessions interface {
	GetSession(ctx context.Context, chatID, userID string) (*models.ChatSession, error)
	AttachReport(ctx context.Context, r models.Report) (*models.ChatSession, error)
	ConfirmReport(ctx context.Context, chatID, reportID string) (*models.Report, bool, error)
}

type Service struct {
	users    Users
	sessions Sessions
	store    storage.Store
	log      *logger.Logger
	now      func() time.Time
}

func NewService(users Users, sessions Sessions, store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		store:    store,
		log:      log.Named("complaint"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Report files a complaint of reporterID against the other participant of
// chatID and applies the penalty.
func (s *Service) Report(ctx context.Context, chatID, reporterID, reason, severity string) (*models.Report, error) {
	weight, ok := analysis.Weight(severity)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeverity, severity)
	}
	session, err := s.sessions.GetSession(ctx, chatID, reporterID)
	if err != nil {
		return nil, err
	}
	others := session.Others(reporterID)
	if len(others) == 0 {
		return nil, chat.ErrNotParticipant
	}

	r := models.Report{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		ReporterID: reporterID,
		TargetID:   others[0],
		Reason:     reason,
		Severity:   severity,
		CreatedAt:  s.now(),
	}
	if err := models.Validate(&r); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	if _, err := s.sessions.AttachReport(ctx, r); err != nil {
		return nil, err
	}
	s.store.Set(ctx, storage.Key(chat.ReportCollection, r.ID), r)

	if err := s.users.UpdateUserReputation(ctx, r.TargetID, -weight); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.log.Ctx(ctx).Warnf("reported user %s has no profile", r.TargetID)
			return &r, nil
		}
		return &r, err
	}
	if err := s.CheckForBan(ctx, r.TargetID); err != nil {
		s.log.Ctx(ctx).Errorf("ban check for %s: %v", r.TargetID, err)
	}
	return &r, nil
}

// CheckForBan bans userID when its reputation fell too low or it was reported
// too often within the frequency window.
func (s *Service) CheckForBan(ctx context.Context, userID string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Banned(s.now()) {
		return nil
	}
	if !analysis.ShouldBan(user.Reputation, s.recentReports(ctx, userID)) {
		return nil
	}
	return s.applyBan(ctx, user, analysis.BanLevel(user.LastBanDate, s.now()))
}

func (s *Service) recentReports(ctx context.Context, userID string) int {
	since := s.now().Add(-config.BanFrequencyWindow)
	n := 0
	for _, raw := range s.store.GetAll(ctx, chat.ReportCollection, map[string]any{"targetId": userID}) {
		r, err := models.Decode[models.Report](raw)
		if err != nil {
			continue
		}
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

func (s *Service) applyBan(ctx context.Context, user *models.User, level int) error {
	now := s.now()
	user.IsBlocked = true
	user.BlockLevel = level
	user.BlockEndTime = now.Add(analysis.BanDuration(level)).Unix()
	user.LastBanDate = now.Unix()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("ban %s: %w", user.ID, err)
	}
	s.log.Ctx(ctx).Infof("banned %s at level %d until %s", user.ID, level, time.Unix(user.BlockEndTime, 0).UTC())
	return nil
}

// IsBanned reports whether userID is currently blocked. Users without a
// profile are not banned.
func (s *Service) IsBanned(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Banned(s.now()), nil
}

// Ban blocks userID at the given level, escalating from its history when
// level is 0.
func (s *Service) Ban(ctx context.Context, userID string, level int) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if level <= 0 {
		level = analysis.BanLevel(user.LastBanDate, s.now())
	}
	return s.applyBan(ctx, user, level)
}

func (s *Service) Unban(ctx context.Context, userID string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	user.IsBlocked = false
	user.BlockEndTime = 0
	return s.users.UpdateUser(ctx, user)
}

// ConfirmReport marks a report as confirmed and rewards the reporter once.
func (s *Service) ConfirmReport(ctx context.Context, chatID, reportID string) (*models.Report, error) {
	r, changed, err := s.sessions.ConfirmReport(ctx, chatID, reportID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return r, nil
	}
	s.store.Set(ctx, storage.Key(chat.ReportCollection, r.ID), r)
	if err := s.users.UpdateUserReputation(ctx, r.ReporterID, config.ConfirmedComplaintBonus); err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return r, err
	}
	return r, nil
}

// ReportedBy lists the users reporterID has reported.
func (s *Service) ReportedBy(ctx context.Context, reporterID string) map[string]bool {
	targets := make(map[string]bool)
	for _, raw := range s.store.GetAll(ctx, chat.ReportCollection, map[string]any{"reporterId": reporterID}) {
		if r, err := models.Decode[models.Report](raw); err == nil {
			targets[r.TargetID] = true
		}
	}
	return targets
}
