package matchmaking

import (
	"context"
	"sync"

	"anonchat/backend/internal/models"
)

// Registry keeps at most one running search per user for one caller, such as
// the HTTP surface or a websocket hub.
type Registry struct {
	poller *Poller

	mu       sync.Mutex
	searches map[string]*SearchHandle
}

func NewRegistry(p *Poller) *Registry {
	return &Registry{poller: p, searches: make(map[string]*SearchHandle)}
}

// Start replaces any previous search of userID with a new one.
func (r *Registry) Start(ctx context.Context, userID string, prefs models.Preferences) (*SearchHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.searches[userID]; ok {
		prev.Stop()
		delete(r.searches, userID)
	}
	h, err := r.poller.StartSearch(ctx, userID, prefs)
	if err != nil {
		return nil, err
	}
	r.searches[userID] = h
	return h, nil
}

// Get returns the latest search of userID, finished or not.
func (r *Registry) Get(userID string) (*SearchHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.searches[userID]
	return h, ok
}

// Stop ends the background polling for userID and keeps its queue entry.
func (r *Registry) Stop(userID string) {
	if h := r.take(userID); h != nil {
		h.Stop()
	}
}

// Cancel ends the search and removes userID from the queue.
func (r *Registry) Cancel(ctx context.Context, userID string) {
	if h := r.take(userID); h != nil {
		h.Cancel(ctx)
		return
	}
	r.poller.resolver.Withdraw(ctx, userID, nil)
}

// StopAll stops every search, used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.searches {
		h.Stop()
		delete(r.searches, id)
	}
}

func (r *Registry) take(userID string) *SearchHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.searches[userID]
	delete(r.searches, userID)
	return h
}
