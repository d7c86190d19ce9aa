package storage

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Evaluate applies q to docs in memory. It is how the local store answers
// queries and how remote results are ordered when the index cannot do it.
func Evaluate(docs []Document, q Query) []Document {
	type row struct {
		doc    Document
		fields map[string]any
	}

	filter := normalize(q.Filter)
	notEqual := normalize(q.NotEqual)

	rows := make([]row, 0, len(docs))
	for _, d := range docs {
		var fields map[string]any
		if err := json.Unmarshal(d.Data, &fields); err != nil {
			continue
		}
		if matches(fields, filter, q.Contains, notEqual) {
			rows = append(rows, row{doc: d, fields: fields})
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			c := compareValues(rows[i].fields[q.OrderBy], rows[j].fields[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}

func matches(fields, filter map[string]any, contains map[string]string, notEqual map[string]any) bool {
	for k, want := range filter {
		if !reflect.DeepEqual(fields[k], want) {
			return false
		}
	}
	for k, want := range notEqual {
		if reflect.DeepEqual(fields[k], want) {
			return false
		}
	}
	for k, want := range contains {
		list, ok := fields[k].([]any)
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if s, ok := item.(string); ok && s == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// normalize round-trips filter values through JSON so they compare equal to
// decoded document fields (ints become float64, times become strings).
func normalize(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		raw, err := json.Marshal(v)
		if err != nil {
			out[k] = v
			continue
		}
		var n any
		if err := json.Unmarshal(raw, &n); err != nil {
			out[k] = v
			continue
		}
		out[k] = n
	}
	return out
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			ta, errA := time.Parse(time.RFC3339Nano, av)
			tb, errB := time.Parse(time.RFC3339Nano, bv)
			if errA == nil && errB == nil {
				return ta.Compare(tb)
			}
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	// Missing values sort first.
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return 0
}
