package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by a RemoteStore when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrIndexMissing means the remote store needs an index it does not have yet.
	ErrIndexMissing = errors.New("query requires an index that does not exist")
	// ErrIndexPending is the retryable error callers see after an index was requested.
	ErrIndexPending = errors.New("index is being created, retry shortly")
	// ErrPermissionDenied is an access-control rejection by the remote store.
	ErrPermissionDenied = errors.New("remote store denied access")
	// ErrUnavailable covers every connectivity or timeout failure.
	ErrUnavailable = errors.New("remote store unavailable")
)

// IndexPendingError tells the caller to retry a query after RetryAfter.
type IndexPendingError struct {
	Index      string
	RetryAfter time.Duration
	Cause      error
}

func (e *IndexPendingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("index %s is being created, retry in %s: %v", e.Index, e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("index %s is being created, retry in %s", e.Index, e.RetryAfter)
}

func (e *IndexPendingError) Is(target error) bool { return target == ErrIndexPending }

func (e *IndexPendingError) Unwrap() error { return e.Cause }

// IndexSpec describes a secondary index the remote store needs for an ordered query.
type IndexSpec struct {
	Name         string
	Collection   string
	PartitionKey string
	SortKey      string
}

// Query is a collection query. Filter holds equality matches, Contains holds
// "array field contains value" matches and NotEqual excludes values.
type Query struct {
	Collection string
	Index      IndexSpec
	Filter     map[string]any
	Contains   map[string]string
	NotEqual   map[string]any
	OrderBy    string
	Desc       bool
	Limit      int
}

// Document is one stored document together with its id inside the collection.
type Document struct {
	ID   string
	Data json.RawMessage
}

// RemoteStore is the managed document store.
type RemoteStore interface {
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	Put(ctx context.Context, collection, id string, doc json.RawMessage) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Ping(ctx context.Context) error
	ProvisionIndex(ctx context.Context, idx IndexSpec) error
}

// Store is the persistence façade used by every domain package.
// Get, Set, Remove and GetAll never fail because the remote store is down;
// they fall back to the local store instead.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, v any) bool
	Remove(ctx context.Context, key string) bool
	GetAll(ctx context.Context, collection string, filter map[string]any) []json.RawMessage
	Query(ctx context.Context, q Query) ([]json.RawMessage, error)
}

// Key builds a "collection.id" key.
func Key(collection, id string) string {
	return collection + "." + id
}

// SplitKey splits a "collection.id" key at the first dot.
func SplitKey(key string) (collection, id string, ok bool) {
	collection, id, ok = strings.Cut(key, ".")
	if !ok || collection == "" || id == "" {
		return "", "", false
	}
	return collection, id, true
}

func encode(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case json.RawMessage:
		return d, nil
	case []byte:
		return json.RawMessage(d), nil
	}
	return json.Marshal(v)
}
