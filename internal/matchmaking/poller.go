package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"anonchat/backend/internal/config"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
)

// MatchWatcher exposes the notifications a search waits for.
type MatchWatcher interface {
	Latest(ctx context.Context, userID string) (*models.MatchNotification, bool)
}

// Poller retries searches on a fixed interval until they are matched or
// stopped. Each search owns one scheduler job.
type Poller struct {
	resolver *Resolver
	queue    *Queue
	watcher  MatchWatcher
	interval time.Duration
	sched    gocron.Scheduler
	log      *logger.Logger
}

func NewPoller(resolver *Resolver, queue *Queue, watcher MatchWatcher, interval time.Duration, log *logger.Logger) (*Poller, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("poller scheduler: %w", err)
	}
	sched.Start()
	return &Poller{
		resolver: resolver,
		queue:    queue,
		watcher:  watcher,
		interval: interval,
		sched:    sched,
		log:      log.Named("poller"),
	}, nil
}

// Shutdown stops every running search job.
func (p *Poller) Shutdown() error {
	return p.sched.Shutdown()
}

// StartSearch enqueues userID and tries to match it at once. If that attempt
// does not pair the user, the search keeps running in the background until
// the returned handle is stopped or a match arrives.
func (p *Poller) StartSearch(ctx context.Context, userID string, prefs models.Preferences) (*SearchHandle, error) {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &SearchHandle{
		UserID: userID,
		poller: p,
		prefs:  prefs,
		ctx:    bg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if n, ok := p.watcher.Latest(ctx, userID); ok {
		h.seenChatID = n.ChatID
	}

	res, err := p.resolver.resolve(ctx, userID, prefs, h.searching)
	if err != nil {
		cancel()
		if !errors.Is(err, ErrBanned) && !errors.Is(err, ErrInvalidPreferences) {
			p.queue.Dequeue(ctx, userID)
		}
		return nil, err
	}
	if res.Matched && res.PartnerID != "" {
		h.finish(res, nil)
		return h, nil
	}

	job, err := p.sched.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(h.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("search:"+userID),
	)
	if err != nil {
		cancel()
		p.queue.Dequeue(ctx, userID)
		return nil, fmt.Errorf("schedule search for %s: %w", userID, err)
	}
	h.mu.Lock()
	h.job = job
	h.mu.Unlock()

	p.log.Ctx(ctx).Infof("search started for %s", userID)
	return h, nil
}

// SearchHandle controls one running search.
type SearchHandle struct {
	UserID string

	poller     *Poller
	prefs      models.Preferences
	seenChatID string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once

	mu     sync.Mutex
	job    gocron.Job
	result Result
	err    error
}

// Stop ends the background job. It is safe to call more than once. The user
// stays queued.
func (h *SearchHandle) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		job := h.job
		h.mu.Unlock()
		if job != nil {
			if err := h.poller.sched.RemoveJob(job.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
				h.poller.log.Warnf("remove search job for %s: %v", h.UserID, err)
			}
		}
		h.cancel()
		close(h.done)
	})
}

// Cancel stops the search and takes the user out of the queue. It waits for
// an attempt already in flight, so that attempt cannot queue the user again.
func (h *SearchHandle) Cancel(ctx context.Context) {
	h.poller.resolver.Withdraw(ctx, h.UserID, func() bool {
		h.Stop()
		h.mu.Lock()
		defer h.mu.Unlock()
		return !h.result.Matched
	})
}

// Done is closed once the search is over.
func (h *SearchHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome. It is meaningful once Done is closed.
func (h *SearchHandle) Result() (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *SearchHandle) finish(res Result, err error) {
	h.mu.Lock()
	h.result, h.err = res, err
	h.mu.Unlock()
	h.Stop()
}

// searching is false once a notification newer than the one seen at start
// shows the user was paired. The record outlives the new-chat flag, so a
// match already read by the user still counts.
func (h *SearchHandle) searching(ctx context.Context) bool {
	n, ok := h.poller.watcher.Latest(ctx, h.UserID)
	return !ok || n.ChatID == h.seenChatID
}

func (h *SearchHandle) matchedElsewhere() {
	n, ok := h.poller.watcher.Latest(h.ctx, h.UserID)
	if !ok {
		return
	}
	h.finish(Result{
		Matched:   true,
		ChatID:    n.ChatID,
		PartnerID: n.OtherUserID,
		Pair:      [2]string{n.OtherUserID, h.UserID},
	}, nil)
}

func (h *SearchHandle) tick() {
	select {
	case <-h.done:
		return
	default:
	}
	log := h.poller.log.Ctx(h.ctx)

	if !h.searching(h.ctx) {
		h.matchedElsewhere()
		return
	}

	res, err := h.poller.resolver.resolve(h.ctx, h.UserID, h.prefs, h.searching)
	switch {
	case errors.Is(err, errStopped):
		return
	case errors.Is(err, errSuperseded):
		h.matchedElsewhere()
	case errors.Is(err, ErrBanned):
		h.finish(Result{}, err)
	case errors.Is(err, storage.ErrIndexPending):
		log.Infof("search for %s waiting for queue index: %v", h.UserID, err)
	case err != nil:
		log.Warnf("search attempt for %s: %v", h.UserID, err)
	case res.Matched && res.PartnerID != "":
		h.finish(res, nil)
	}
}
