package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"anonchat/backend/internal/config"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
)

type Strategy string

const (
	// StrategyOrdered pairs the requester with the earliest compatible user.
	StrategyOrdered Strategy = "ordered"
	// StrategyRandom picks uniformly among compatible waiting users.
	StrategyRandom Strategy = "random"
	// StrategyLocal pairs the two earliest users of an in-memory snapshot,
	// whoever they are.
	StrategyLocal Strategy = "local"
)

var ErrBanned = errors.New("user is banned")

// errSuperseded means the requester was matched by someone else while
// waiting for its turn.
var errSuperseded = errors.New("search already matched")

// errStopped means the search was stopped before the attempt changed the queue.
var errStopped = errors.New("search stopped")

// Result describes one resolution attempt. A lost race and an empty queue are
// both reported as Matched == false.
type Result struct {
	Matched bool
	Session *models.ChatSession
	ChatID  string
	// PartnerID is the requester's partner. It is empty when the pair made by
	// this attempt does not include the requester.
	PartnerID string
	Pair      [2]string
}

type SessionCreator interface {
	CreateSession(ctx context.Context, a, b string) (*models.ChatSession, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID, chatID, otherUserID string) error
}

type BanChecker interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
}

type ResolverOption func(*Resolver)

func WithStrategy(s Strategy) ResolverOption {
	return func(r *Resolver) { r.strategy = s }
}

// WithLease shares pair claims with other instances.
func WithLease(l Lease, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.lease = l
		if ttl > 0 {
			r.leaseTTL = ttl
		}
	}
}

func WithBanChecker(b BanChecker) ResolverOption {
	return func(r *Resolver) { r.bans = b }
}

// WithPicker replaces the random index source of StrategyRandom.
func WithPicker(pick func(n int) int) ResolverOption {
	return func(r *Resolver) { r.pick = pick }
}

type Resolver struct {
	queue    *Queue
	sessions SessionCreator
	notifier Notifier
	bans     BanChecker
	lease    Lease
	leaseTTL time.Duration
	strategy Strategy
	pick     func(n int) int
	log      *logger.Logger

	mu sync.Mutex
}

func NewResolver(queue *Queue, sessions SessionCreator, notifier Notifier, log *logger.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	r := &Resolver{
		queue:    queue,
		sessions: sessions,
		notifier: notifier,
		leaseTTL: config.DefaultLeaseTTL,
		strategy: StrategyOrdered,
		pick:     rand.IntN,
		log:      log.Named("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Strategy() Strategy { return r.strategy }

// Resolve enqueues userID with prefs and tries to pair it right away.
func (r *Resolver) Resolve(ctx context.Context, userID string, prefs models.Preferences) (Result, error) {
	return r.resolve(ctx, userID, prefs, nil)
}

// resolve runs one attempt. searching, when set, is checked once the
// requester is claimed; a false answer means the requester was paired
// elsewhere and must not be enqueued again.
func (r *Resolver) resolve(ctx context.Context, userID string, prefs models.Preferences, searching func(context.Context) bool) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("%w: empty user id", ErrInvalidPreferences)
	}
	if err := models.Validate(&prefs); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}
	if err := r.checkBan(ctx, userID); err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return Result{}, errStopped
	}

	held := newClaims(r.lease, r.leaseTTL, func(key string, err error) {
		r.log.Ctx(ctx).Warnf("lease %s unavailable, continuing with local lock: %v", key, err)
	})
	defer held.releaseAll()

	if !held.take(ctx, userID) {
		return Result{}, nil
	}
	if searching != nil && !searching(ctx) {
		return Result{}, errSuperseded
	}
	if _, err := r.queue.Enqueue(ctx, userID, prefs); err != nil {
		return Result{}, err
	}

	if r.strategy == StrategyLocal {
		return r.resolveLocal(ctx, userID, held)
	}

	candidates, err := r.queue.Ordered(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	compatible := candidates[:0]
	for _, c := range candidates {
		if c.UserID != userID && models.Compatible(prefs, c.Preferences) {
			compatible = append(compatible, c)
		}
	}
	if len(compatible) == 0 {
		return Result{}, nil
	}

	partner := compatible[0]
	if r.strategy == StrategyRandom {
		partner = compatible[r.pick(len(compatible))]
	}
	return r.pair(ctx, userID, partner.UserID, userID, held)
}

func (r *Resolver) resolveLocal(ctx context.Context, userID string, held *claims) (Result, error) {
	waiting := r.queue.ListQueued(ctx)
	if len(waiting) < 2 {
		return Result{}, nil
	}
	return r.pair(ctx, waiting[0].UserID, waiting[1].UserID, userID, held)
}

// pair claims both users, checks they are still waiting, removes them from the
// queue and creates their session. Losing any of those steps is a race loss.
func (r *Resolver) pair(ctx context.Context, a, b, requester string, held *claims) (Result, error) {
	if a == b {
		return Result{}, nil
	}
	if !held.take(ctx, a) || !held.take(ctx, b) {
		r.log.Ctx(ctx).Infof("pair %s/%s claimed elsewhere", a, b)
		return Result{}, nil
	}

	entryA, okA := r.queue.Entry(ctx, a)
	entryB, okB := r.queue.Entry(ctx, b)
	if !okA || !okB {
		r.log.Ctx(ctx).Infof("pair %s/%s no longer waiting", a, b)
		return Result{}, nil
	}
	if ctx.Err() != nil {
		return Result{}, errStopped
	}

	r.queue.Dequeue(ctx, a)
	r.queue.Dequeue(ctx, b)

	session, err := r.sessions.CreateSession(ctx, a, b)
	if err != nil {
		r.restore(ctx, entryA, entryB)
		return Result{}, fmt.Errorf("pair %s/%s: %w", a, b, err)
	}

	for _, n := range [][2]string{{a, b}, {b, a}} {
		if err := r.notifier.Notify(ctx, n[0], session.ID, n[1]); err != nil {
			r.log.Ctx(ctx).Errorf("notify %s of chat %s: %v", n[0], session.ID, err)
		}
	}
	r.log.Ctx(ctx).Infof("matched %s and %s in chat %s", a, b, session.ID)

	res := Result{Matched: true, Session: session, ChatID: session.ID, Pair: [2]string{a, b}}
	switch requester {
	case a:
		res.PartnerID = b
	case b:
		res.PartnerID = a
	}
	return res, nil
}

// Withdraw removes userID from the queue between resolution attempts. stop
// runs first under the same lock; returning false keeps the entry.
func (r *Resolver) Withdraw(ctx context.Context, userID string, stop func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stop != nil && !stop() {
		return
	}
	r.queue.Dequeue(ctx, userID)
}

// restore puts both users back with their original enqueue times.
func (r *Resolver) restore(ctx context.Context, entries ...*models.QueueEntry) {
	for _, e := range entries {
		if !r.queue.put(ctx, e) {
			r.log.Ctx(ctx).Errorf("requeue %s failed", e.UserID)
		}
	}
}

func (r *Resolver) checkBan(ctx context.Context, userID string) error {
	if r.bans == nil {
		return nil
	}
	banned, err := r.bans.IsBanned(ctx, userID)
	if err != nil {
		r.log.Ctx(ctx).Warnf("ban check for %s failed: %v", userID, err)
		return nil
	}
	if banned {
		r.queue.Dequeue(ctx, userID)
		return ErrBanned
	}
	return nil
}
