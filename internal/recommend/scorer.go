// Package recommend ranks possible partners outside the search queue by
// shared interests, age fit and how earlier chats with them went.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"anonchat/backend/internal/config"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
)

const (
	interestWeight    = 60
	ageWeight         = 25
	interactionWeight = 15

	// ageDecayYears is how far outside the range the age fit reaches zero.
	ageDecayYears = 10
	// defaultAgeSpread builds a range around the requester's own age when
	// no range was requested.
	defaultAgeSpread = 5
	// candidatePool bounds how many profiles one request looks at.
	candidatePool = 500
)

type Users interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, limit int) ([]models.User, error)
}

type Sessions interface {
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
}

type Moderation interface {
	ReportedBy(ctx context.Context, reporterID string) map[string]bool
}

// Preferences exposes the requester's current search, if any.
type Preferences interface {
	Entry(ctx context.Context, userID string) (*models.QueueEntry, bool)
}

// Candidate is one ranked recommendation.
type Candidate struct {
	UserID          string   `json:"userId"`
	Score           float64  `json:"score"`
	SharedInterests []string `json:"sharedInterests"`
	Age             int      `json:"age,omitempty"`
}

type Scorer struct {
	users    Users
	sessions Sessions
	mod      Moderation
	prefs    Preferences
	log      *logger.Logger
	now      func() time.Time
}

func NewScorer(users Users, sessions Sessions, mod Moderation, prefs Preferences, log *logger.Logger) *Scorer {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Scorer{users: users, sessions: sessions, mod: mod, prefs: prefs, log: log.Named("recommend"), now: time.Now}
}

// Recommend returns up to limit candidates for userID, best first. Ties keep
// user id order.
func (s *Scorer) Recommend(ctx context.Context, userID string, limit int) ([]Candidate, error) {
	me, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recommend for %s: %w", userID, err)
	}
	pool, err := s.users.ListUsers(ctx, candidatePool)
	if err != nil {
		return nil, fmt.Errorf("recommend for %s: %w", userID, err)
	}
	history, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		s.log.Ctx(ctx).Warnf("session history of %s: %v", userID, err)
	}

	ageRange := s.ageRange(ctx, me)
	reported := s.mod.ReportedBy(ctx, userID)
	active, past := partners(history, userID)
	now := s.now()

	out := make([]Candidate, 0, len(pool))
	for _, u := range pool {
		if u.ID == userID || reported[u.ID] || active[u.ID] || u.Banned(now) {
			continue
		}
		shared := sharedInterests(me.Interests, u.Interests)
		score := interestWeight*jaccard(me.Interests, u.Interests, len(shared)) +
			ageWeight*ageFit(ageRange, u.Age) +
			interactionWeight*interaction(past[u.ID])
		out = append(out, Candidate{UserID: u.ID, Score: score, SharedInterests: shared, Age: u.Age})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Scorer) ageRange(ctx context.Context, me *models.User) models.AgeRange {
	if s.prefs != nil {
		if e, ok := s.prefs.Entry(ctx, me.ID); ok && !e.Preferences.AgeRange.IsZero() {
			return e.Preferences.AgeRange
		}
	}
	if me.Age == 0 {
		return models.AgeRange{}
	}
	return models.AgeRange{max(me.Age-defaultAgeSpread, 0), me.Age + defaultAgeSpread}
}

// partners splits the requester's history into users it is chatting with
// right now and, for ended chats, the longest exchange with each partner.
func partners(history []models.ChatSession, userID string) (active map[string]bool, past map[string]int) {
	active = make(map[string]bool)
	past = make(map[string]int)
	for _, s := range history {
		for _, other := range s.Others(userID) {
			if s.IsActive && !s.Ended {
				active[other] = true
				continue
			}
			if n := max(userMessages(s), 1); n > past[other] {
				past[other] = n
			}
		}
	}
	return active, past
}

func userMessages(s models.ChatSession) int {
	n := 0
	for _, m := range s.Messages {
		if !m.IsSystem {
			n++
		}
	}
	return n
}

// interaction scores prior chats: 0 means none, otherwise the longest
// number of user messages exchanged.
func interaction(messages int) float64 {
	switch {
	case messages == 0:
		return 0.5
	case messages >= config.GoodChatMessages:
		return 1
	default:
		return 0.3
	}
}

func ageFit(r models.AgeRange, age int) float64 {
	if r.IsZero() {
		return 1
	}
	if age == 0 {
		return 0.5
	}
	if r.Contains(age) {
		return 1
	}
	d := r.Min() - age
	if age > r.Max() {
		d = age - r.Max()
	}
	return max(0, 1-float64(d)/ageDecayYears)
}

func sharedInterests(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, i := range a {
		seen[i] = true
	}
	var shared []string
	for _, i := range b {
		if seen[i] {
			shared = append(shared, i)
			delete(seen, i)
		}
	}
	sort.Strings(shared)
	return shared
}

func jaccard(a, b []string, shared int) float64 {
	union := len(dedupe(a)) + len(dedupe(b)) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func dedupe(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		set[v] = struct{}{}
	}
	return set
}
