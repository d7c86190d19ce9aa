// Package matchmaking keeps the search queue and pairs waiting users.
package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
)

const QueueCollection = "searchQueue"

// QueueIndex keeps waiting users ordered by enqueue time.
var QueueIndex = storage.IndexSpec{
	Name:         "searchQueue_by_enqueuedAt",
	Collection:   QueueCollection,
	PartitionKey: "bucket",
	SortKey:      "enqueuedAt",
}

var ErrInvalidPreferences = errors.New("invalid search preferences")

// Queue is the durable set of users looking for a partner, one entry per user.
type Queue struct {
	store storage.Store
	log   *logger.Logger
}

func NewQueue(store storage.Store, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Queue{store: store, log: log.Named("queue")}
}

// Enqueue adds userID or replaces its preferences in place. A user already
// waiting keeps the original enqueue time.
func (q *Queue) Enqueue(ctx context.Context, userID string, prefs models.Preferences) (*models.QueueEntry, error) {
	if err := models.Validate(&prefs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}

	enqueuedAt := time.Now().UTC()
	if existing, ok := q.Entry(ctx, userID); ok {
		enqueuedAt = existing.EnqueuedAt
	}
	entry := &models.QueueEntry{
		UserID:      userID,
		EnqueuedAt:  enqueuedAt,
		Bucket:      models.QueueBucket,
		Preferences: prefs,
	}
	if err := models.Validate(entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}
	if !q.put(ctx, entry) {
		return nil, fmt.Errorf("enqueue %s: write failed", userID)
	}
	return entry, nil
}

func (q *Queue) put(ctx context.Context, e *models.QueueEntry) bool {
	return q.store.Set(ctx, storage.Key(QueueCollection, e.UserID), e)
}

// Dequeue removes userID. Removing an absent user is a no-op.
func (q *Queue) Dequeue(ctx context.Context, userID string) {
	q.store.Remove(ctx, storage.Key(QueueCollection, userID))
}

func (q *Queue) IsQueued(ctx context.Context, userID string) bool {
	_, ok := q.Entry(ctx, userID)
	return ok
}

// Entry returns the queue entry of userID if it exists and is valid.
func (q *Queue) Entry(ctx context.Context, userID string) (*models.QueueEntry, bool) {
	raw, ok := q.store.Get(ctx, storage.Key(QueueCollection, userID))
	if !ok {
		return nil, false
	}
	e, err := models.Decode[models.QueueEntry](raw)
	if err != nil {
		q.log.Ctx(ctx).Warnf("unreadable queue entry for %s: %v", userID, err)
		return nil, false
	}
	return e, true
}

// ListQueued returns every waiting user, earliest first.
func (q *Queue) ListQueued(ctx context.Context) []models.QueueEntry {
	entries := q.decode(ctx, q.store.GetAll(ctx, QueueCollection, map[string]any{"bucket": models.QueueBucket}))
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
	return entries
}

// Ordered queries the queue index for everyone but excludeUserID, earliest
// first. Index and permission errors are returned as they are.
func (q *Queue) Ordered(ctx context.Context, excludeUserID string) ([]models.QueueEntry, error) {
	query := storage.Query{
		Collection: QueueCollection,
		Index:      QueueIndex,
		Filter:     map[string]any{"bucket": models.QueueBucket},
		OrderBy:    "enqueuedAt",
	}
	if excludeUserID != "" {
		query.NotEqual = map[string]any{"userId": excludeUserID}
	}
	docs, err := q.store.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return q.decode(ctx, docs), nil
}

func (q *Queue) decode(ctx context.Context, docs []json.RawMessage) []models.QueueEntry {
	entries := make([]models.QueueEntry, 0, len(docs))
	for _, raw := range docs {
		e, err := models.Decode[models.QueueEntry](raw)
		if err != nil {
			q.log.Ctx(ctx).Warnf("skip unreadable queue entry: %v", err)
			continue
		}
		entries = append(entries, *e)
	}
	return entries
}
