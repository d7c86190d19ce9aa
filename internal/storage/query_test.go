package storage_test

import (
	"encoding/json"
	"testing"
	"time"

	"anonchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

func sessionDocs(t *testing.T, sessions ...session) []storage.Document {
	t.Helper()
	docs := make([]storage.Document, len(sessions))
	for i, s := range sessions {
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		docs[i] = storage.Document{ID: s.ID, Data: raw}
	}
	return docs
}

func TestEvaluate_ParticipantActiveLatest(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	docs := sessionDocs(t,
		session{ID: "old", Participants: []string{"a", "b"}, IsActive: true, CreatedAt: base},
		session{ID: "new", Participants: []string{"a", "c"}, IsActive: true, CreatedAt: base.Add(1500 * time.Millisecond)},
		session{ID: "ended", Participants: []string{"a", "d"}, IsActive: false, CreatedAt: base.Add(time.Hour)},
		session{ID: "other", Participants: []string{"x", "y"}, IsActive: true, CreatedAt: base.Add(2 * time.Hour)},
	)

	got := storage.Evaluate(docs, storage.Query{
		Filter:   map[string]any{"isActive": true},
		Contains: map[string]string{"participants": "a"},
		OrderBy:  "createdAt",
		Desc:     true,
		Limit:    1,
	})

	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestEvaluate_OrdersTimestampsChronologically(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	// Whole-second timestamps serialize without a fraction and would sort
	// after fractional ones as plain strings.
	docs := sessionDocs(t,
		session{ID: "second", CreatedAt: base.Add(time.Second)},
		session{ID: "first", CreatedAt: base.Add(500 * time.Millisecond)},
	)

	got := storage.Evaluate(docs, storage.Query{OrderBy: "createdAt"})

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)
}

func TestEvaluate_NotEqualAndNumbers(t *testing.T) {
	docs := []storage.Document{
		{ID: "1", Data: json.RawMessage(`{"userId":"a","age":30}`)},
		{ID: "2", Data: json.RawMessage(`{"userId":"b","age":20}`)},
		{ID: "3", Data: json.RawMessage(`{"userId":"c","age":25}`)},
	}

	got := storage.Evaluate(docs, storage.Query{
		NotEqual: map[string]any{"userId": "a"},
		OrderBy:  "age",
	})

	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	got = storage.Evaluate(docs, storage.Query{Filter: map[string]any{"age": 25}})
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)
}
