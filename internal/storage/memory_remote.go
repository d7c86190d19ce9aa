package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryRemote is an in-process RemoteStore. It backs local development
// when no managed store is configured and lets tests simulate outages,
// missing indexes and access-control rejections.
type MemoryRemote struct {
	mu           sync.RWMutex
	collections  map[string]map[string]json.RawMessage
	indexes      map[string]bool
	requireIndex bool
	unreachable  bool
	denied       bool
	provisionErr error
	puts         int
}

func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		collections: make(map[string]map[string]json.RawMessage),
		indexes:     make(map[string]bool),
	}
}

// SetUnreachable makes every call fail with ErrUnavailable.
func (m *MemoryRemote) SetUnreachable(v bool) {
	m.mu.Lock()
	m.unreachable = v
	m.mu.Unlock()
}

// SetPermissionDenied makes every call fail with ErrPermissionDenied.
func (m *MemoryRemote) SetPermissionDenied(v bool) {
	m.mu.Lock()
	m.denied = v
	m.mu.Unlock()
}

// RequireIndexes makes indexed queries fail with ErrIndexMissing until the
// index has been provisioned.
func (m *MemoryRemote) RequireIndexes(v bool) {
	m.mu.Lock()
	m.requireIndex = v
	m.mu.Unlock()
}

// FailProvisioning makes ProvisionIndex return err.
func (m *MemoryRemote) FailProvisioning(err error) {
	m.mu.Lock()
	m.provisionErr = err
	m.mu.Unlock()
}

// HasIndex reports whether the named index was provisioned.
func (m *MemoryRemote) HasIndex(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexes[name]
}

// Puts counts successful writes.
func (m *MemoryRemote) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

func (m *MemoryRemote) fault() error {
	switch {
	case m.unreachable:
		return ErrUnavailable
	case m.denied:
		return ErrPermissionDenied
	}
	return nil
}

func (m *MemoryRemote) Get(_ context.Context, collection, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault(); err != nil {
		return nil, err
	}
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (m *MemoryRemote) Put(_ context.Context, collection, id string, doc json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	c, ok := m.collections[collection]
	if !ok {
		c = make(map[string]json.RawMessage)
		m.collections[collection] = c
	}
	c[id] = append(json.RawMessage(nil), doc...)
	m.puts++
	return nil
}

func (m *MemoryRemote) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryRemote) Query(_ context.Context, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault(); err != nil {
		return nil, err
	}
	if q.Index.Name != "" && m.requireIndex && !m.indexes[q.Index.Name] {
		return nil, ErrIndexMissing
	}

	docs := make([]Document, 0, len(m.collections[q.Collection]))
	for id, d := range m.collections[q.Collection] {
		docs = append(docs, Document{ID: id, Data: d})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return Evaluate(docs, q), nil
}

func (m *MemoryRemote) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unreachable {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryRemote) ProvisionIndex(_ context.Context, idx IndexSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	if m.provisionErr != nil {
		return m.provisionErr
	}
	m.indexes[idx.Name] = true
	return nil
}
