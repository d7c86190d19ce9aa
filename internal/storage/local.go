package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type JournalOp string

const (
	OpPut    JournalOp = "put"
	OpDelete JournalOp = "delete"
)

// JournalEntry is a write made while the remote store was unreachable.
type JournalEntry struct {
	Seq uint64          `json:"seq"`
	Op  JournalOp       `json:"op"`
	Key string          `json:"key"`
	Doc json.RawMessage `json:"doc,omitempty"`
}

type snapshot struct {
	Docs    map[string]json.RawMessage `json:"docs"`
	Journal []JournalEntry             `json:"journal"`
	Seq     uint64                     `json:"seq"`
}

// LocalStore is the synchronous fallback store. It keeps every document in
// memory and, when a path is set, mirrors itself to a JSON snapshot file.
type LocalStore struct {
	mu      sync.RWMutex
	docs    map[string]json.RawMessage
	journal []JournalEntry
	seq     uint64
	path    string
}

// NewLocalStore opens the store, loading the snapshot at path if one exists.
// An empty path keeps everything in memory.
func NewLocalStore(path string) (*LocalStore, error) {
	s := &LocalStore{
		docs: make(map[string]json.RawMessage),
		path: path,
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse local snapshot: %w", err)
	}
	if snap.Docs != nil {
		s.docs = snap.Docs
	}
	s.journal = snap.Journal
	s.seq = snap.Seq
	return s, nil
}

func (s *LocalStore) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	return doc, ok
}

func (s *LocalStore) Put(key string, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = doc
	return s.saveLocked()
}

func (s *LocalStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return s.saveLocked()
}

// Collection returns every document of a collection, ordered by id.
func (s *LocalStore) Collection(collection string) []Document {
	prefix := collection + "."
	s.mu.RLock()
	out := make([]Document, 0)
	for k, v := range s.docs {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			out = append(out, Document{ID: id, Data: v})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Append journals a degraded write and returns it with its sequence number.
func (s *LocalStore) Append(op JournalOp, key string, doc json.RawMessage) (JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e := JournalEntry{Seq: s.seq, Op: op, Key: key, Doc: doc}
	s.journal = append(s.journal, e)
	return e, s.saveLocked()
}

// Pending returns a copy of the journal in sequence order.
func (s *LocalStore) Pending() []JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JournalEntry, len(s.journal))
	copy(out, s.journal)
	return out
}

// HasPending reports whether key has journaled writes not yet replayed.
func (s *LocalStore) HasPending(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.journal {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Ack drops the journal entry with the given sequence number.
func (s *LocalStore) Ack(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.journal {
		if e.Seq == seq {
			s.journal = append(s.journal[:i], s.journal[i+1:]...)
			return s.saveLocked()
		}
	}
	return nil
}

func (s *LocalStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(snapshot{Docs: s.docs, Journal: s.journal, Seq: s.seq})
	if err != nil {
		return fmt.Errorf("encode local snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write local snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}
