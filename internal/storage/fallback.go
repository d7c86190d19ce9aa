package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"anonchat/backend/internal/logger"

	"github.com/go-co-op/gocron/v2"
)

// FallbackConfig tunes the façade. CheckInterval bounds how often remote
// availability is probed. IndexRetryDelay is the wait callers are told to
// observe after an index request.
type FallbackConfig struct {
	CheckInterval   time.Duration
	RemoteTimeout   time.Duration
	IndexRetryDelay time.Duration
	AutoProvision   bool
}

// Fallback implements Store over a remote document store with a local
// fallback. Writes go to the local store first. Writes made while the remote
// store is unreachable are journaled and replayed in order on recovery.
type Fallback struct {
	remote RemoteStore
	local  *LocalStore
	cfg    FallbackConfig
	log    *logger.Logger
	sched  gocron.Scheduler

	mu         sync.Mutex
	available  bool
	checkedAt  time.Time
	recheckJob gocron.Job

	replayMu sync.Mutex
}

func NewFallback(remote RemoteStore, local *LocalStore, cfg FallbackConfig, log *logger.Logger) (*Fallback, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create availability scheduler: %w", err)
	}
	sched.Start()

	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Fallback{
		remote:    remote,
		local:     local,
		cfg:       cfg,
		log:       log.Named("storage"),
		sched:     sched,
		available: true,
	}, nil
}

// Close stops the background availability checks.
func (f *Fallback) Close() error {
	return f.sched.Shutdown()
}

// Local exposes the fallback store, mainly for the admin tooling.
func (f *Fallback) Local() *LocalStore { return f.local }

// Degraded reports whether the façade currently serves from the local store only.
func (f *Fallback) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.available
}

// PendingWrites is the number of journaled writes waiting for replay.
func (f *Fallback) PendingWrites() int {
	return len(f.local.Pending())
}

func (f *Fallback) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	collection, id, ok := SplitKey(key)
	if !ok || !f.online(ctx) || f.local.HasPending(key) {
		return f.local.Get(key)
	}

	rctx, cancel := f.remoteCtx(ctx)
	defer cancel()
	doc, err := f.remote.Get(rctx, collection, id)
	switch {
	case err == nil:
		if err := f.local.Put(key, doc); err != nil {
			f.log.Ctx(ctx).Warnf("cache %s locally: %v", key, err)
		}
		return doc, true
	case errors.Is(err, ErrNotFound):
		if err := f.local.Delete(key); err != nil {
			f.log.Ctx(ctx).Warnf("evict %s locally: %v", key, err)
		}
		return nil, false
	default:
		f.remoteFailed(ctx, "get "+key, err)
		return f.local.Get(key)
	}
}

func (f *Fallback) Set(ctx context.Context, key string, v any) bool {
	doc, err := encode(v)
	if err != nil {
		f.log.Ctx(ctx).Errorf("encode %s: %v", key, err)
		return false
	}
	if err := f.local.Put(key, doc); err != nil {
		f.log.Ctx(ctx).Warnf("write %s locally: %v", key, err)
	}

	collection, id, ok := SplitKey(key)
	if !ok {
		return true
	}
	if !f.online(ctx) {
		f.journal(ctx, OpPut, key, doc)
		return true
	}

	rctx, cancel := f.remoteCtx(ctx)
	defer cancel()
	if err := f.remote.Put(rctx, collection, id, doc); err != nil {
		if f.remoteFailed(ctx, "put "+key, err) {
			f.journal(ctx, OpPut, key, doc)
		}
	}
	return true
}

func (f *Fallback) Remove(ctx context.Context, key string) bool {
	if err := f.local.Delete(key); err != nil {
		f.log.Ctx(ctx).Warnf("remove %s locally: %v", key, err)
	}

	collection, id, ok := SplitKey(key)
	if !ok {
		return true
	}
	if !f.online(ctx) {
		f.journal(ctx, OpDelete, key, nil)
		return true
	}

	rctx, cancel := f.remoteCtx(ctx)
	defer cancel()
	if err := f.remote.Delete(rctx, collection, id); err != nil && !errors.Is(err, ErrNotFound) {
		if f.remoteFailed(ctx, "remove "+key, err) {
			f.journal(ctx, OpDelete, key, nil)
		}
	}
	return true
}

func (f *Fallback) GetAll(ctx context.Context, collection string, filter map[string]any) []json.RawMessage {
	q := Query{Collection: collection, Filter: filter}
	if f.online(ctx) {
		rctx, cancel := f.remoteCtx(ctx)
		docs, err := f.remote.Query(rctx, q)
		cancel()
		if err == nil {
			f.cache(ctx, collection, docs)
			return raw(docs)
		}
		f.remoteFailed(ctx, "list "+collection, err)
	}
	return raw(Evaluate(f.local.Collection(collection), q))
}

// Query runs q against the remote store. Unlike the other methods it
// surfaces missing indexes and permission rejections; connectivity
// failures still degrade to local evaluation.
func (f *Fallback) Query(ctx context.Context, q Query) ([]json.RawMessage, error) {
	if !f.online(ctx) {
		return raw(Evaluate(f.local.Collection(q.Collection), q)), nil
	}

	rctx, cancel := f.remoteCtx(ctx)
	docs, err := f.remote.Query(rctx, q)
	cancel()
	switch {
	case err == nil:
		f.cache(ctx, q.Collection, docs)
		return raw(Evaluate(docs, q)), nil
	case errors.Is(err, ErrIndexMissing):
		return nil, f.provision(ctx, q.Index, err)
	case errors.Is(err, ErrPermissionDenied):
		f.log.Ctx(ctx).Warnf("query %s rejected: %v", q.Collection, err)
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	default:
		f.remoteFailed(ctx, "query "+q.Collection, err)
		return raw(Evaluate(f.local.Collection(q.Collection), q)), nil
	}
}

func (f *Fallback) provision(ctx context.Context, idx IndexSpec, cause error) error {
	pending := &IndexPendingError{Index: idx.Name, RetryAfter: f.cfg.IndexRetryDelay, Cause: cause}
	if idx.Name == "" || !f.cfg.AutoProvision {
		f.log.Ctx(ctx).Warnf("query on %s needs an index, auto-provisioning is off", idx.Collection)
		return pending
	}

	rctx, cancel := f.remoteCtx(ctx)
	defer cancel()
	if err := f.remote.ProvisionIndex(rctx, idx); err != nil {
		f.log.Ctx(ctx).Errorf("provision index %s: %v", idx.Name, err)
		pending.Cause = err
		return pending
	}
	f.log.Ctx(ctx).Infof("requested index %s on %s", idx.Name, idx.Collection)
	return pending
}

// Replay pushes journaled writes to the remote store in sequence order,
// dropping each entry once the remote store accepted it. It stops at the
// first connectivity failure and returns the number of entries applied.
func (f *Fallback) Replay(ctx context.Context) (int, error) {
	f.replayMu.Lock()
	defer f.replayMu.Unlock()

	applied := 0
	for _, e := range f.local.Pending() {
		collection, id, ok := SplitKey(e.Key)
		if !ok {
			_ = f.local.Ack(e.Seq)
			continue
		}

		rctx, cancel := f.remoteCtx(ctx)
		var err error
		switch e.Op {
		case OpPut:
			err = f.remote.Put(rctx, collection, id, e.Doc)
		case OpDelete:
			err = f.remote.Delete(rctx, collection, id)
			if errors.Is(err, ErrNotFound) {
				err = nil
			}
		}
		cancel()

		if err != nil && !errors.Is(err, ErrPermissionDenied) {
			return applied, fmt.Errorf("replay seq %d (%s %s): %w", e.Seq, e.Op, e.Key, err)
		}
		if err != nil {
			f.log.Ctx(ctx).Errorf("replay seq %d rejected, dropping: %v", e.Seq, err)
		} else {
			applied++
		}
		if err := f.local.Ack(e.Seq); err != nil {
			f.log.Ctx(ctx).Warnf("trim journal seq %d: %v", e.Seq, err)
		}
	}

	if applied > 0 {
		f.log.Ctx(ctx).Infof("replayed %d degraded writes", applied)
	}
	return applied, nil
}

// online reports whether the remote store may be used right now. On
// recovery it replays the journal before any remote read happens.
func (f *Fallback) online(ctx context.Context) bool {
	f.mu.Lock()
	fresh := !f.checkedAt.IsZero() && time.Since(f.checkedAt) < f.cfg.CheckInterval
	available := f.available
	f.mu.Unlock()

	if !fresh {
		rctx, cancel := f.remoteCtx(ctx)
		err := f.remote.Ping(rctx)
		cancel()
		if err != nil {
			f.markUnavailable(ctx, err)
			return false
		}
		f.markAvailable(ctx)
		available = true
	}
	if !available {
		return false
	}

	if f.PendingWrites() > 0 {
		if _, err := f.Replay(ctx); err != nil {
			f.markUnavailable(ctx, err)
			return false
		}
	}
	return true
}

// remoteFailed records a failed remote call. It returns true when the
// failure was a connectivity problem, which flips the façade to degraded.
func (f *Fallback) remoteFailed(ctx context.Context, op string, err error) bool {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrIndexMissing) {
		f.log.Ctx(ctx).Warnf("remote %s: %v", op, err)
		return false
	}
	if ctx.Err() != nil {
		// cancelled by the caller, not a remote failure
		return true
	}
	f.markUnavailable(ctx, fmt.Errorf("%s: %w", op, err))
	return true
}

func (f *Fallback) markAvailable(ctx context.Context) {
	f.mu.Lock()
	if !f.available {
		f.log.Ctx(ctx).Infof("remote store reachable again")
	}
	f.available = true
	f.checkedAt = time.Now()
	job := f.recheckJob
	f.recheckJob = nil
	f.mu.Unlock()

	if job != nil {
		_ = f.sched.RemoveJob(job.ID())
	}
}

func (f *Fallback) markUnavailable(ctx context.Context, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available {
		f.log.Ctx(ctx).Warnf("remote store unavailable, serving from local store: %v", err)
	}
	f.available = false
	f.checkedAt = time.Now()
	if f.recheckJob != nil {
		return
	}

	job, jerr := f.sched.NewJob(
		gocron.DurationJob(f.cfg.CheckInterval),
		gocron.NewTask(f.recheck),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if jerr != nil {
		f.log.Errorf("schedule availability re-check: %v", jerr)
		return
	}
	f.recheckJob = job
}

func (f *Fallback) recheck() {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.RemoteTimeout)
	defer cancel()
	if err := f.remote.Ping(ctx); err != nil {
		return
	}
	f.markAvailable(ctx)
	if _, err := f.Replay(context.Background()); err != nil {
		f.markUnavailable(context.Background(), err)
	}
}

func (f *Fallback) journal(ctx context.Context, op JournalOp, key string, doc json.RawMessage) {
	e, err := f.local.Append(op, key, doc)
	if err != nil {
		f.log.Ctx(ctx).Warnf("persist journal seq %d: %v", e.Seq, err)
	}
}

func (f *Fallback) cache(ctx context.Context, collection string, docs []Document) {
	for _, d := range docs {
		key := Key(collection, d.ID)
		if f.local.HasPending(key) {
			continue
		}
		if err := f.local.Put(key, d.Data); err != nil {
			f.log.Ctx(ctx).Warnf("cache %s locally: %v", key, err)
		}
	}
}

func (f *Fallback) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.RemoteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.cfg.RemoteTimeout)
}

func raw(docs []Document) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = d.Data
	}
	return out
}
