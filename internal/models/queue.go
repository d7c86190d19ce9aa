package models

import "time"

// QueueBucket is the constant partition value shared by every waiting entry.
// It lets the remote store keep the queue ordered by enqueuedAt in one index.
const QueueBucket = "waiting"

// AgeRange is encoded as [min, max]. The zero value means "any age".
type AgeRange [2]int

func (r AgeRange) Min() int { return r[0] }
func (r AgeRange) Max() int { return r[1] }

// IsZero reports whether no range was requested.
func (r AgeRange) IsZero() bool { return r[0] == 0 && r[1] == 0 }

// Contains reports whether age falls inside the range. Unknown ages (0) and
// unset ranges always match.
func (r AgeRange) Contains(age int) bool {
	if r.IsZero() || age == 0 {
		return true
	}
	return age >= r[0] && age <= r[1]
}

// Preferences describe what a searching user is looking for.
type Preferences struct {
	Random    bool     `json:"random"`
	Interests []string `json:"interests,omitempty" validate:"omitempty,max=20,dive,required,max=64"`
	AgeRange  AgeRange `json:"ageRange"`
	// Age is the searcher's own age, used to check the partner's range.
	Age int `json:"age,omitempty" validate:"gte=0,lte=120"`
}

// QueueEntry is one waiting user in the search queue, keyed by UserID.
type QueueEntry struct {
	UserID      string      `json:"userId" validate:"required"`
	EnqueuedAt  time.Time   `json:"enqueuedAt" validate:"required"`
	Bucket      string      `json:"bucket" validate:"eq=waiting"`
	Preferences Preferences `json:"preferences"`
}

// SharedInterests counts interests present in both preference sets.
func SharedInterests(a, b Preferences) int {
	seen := make(map[string]struct{}, len(a.Interests))
	for _, i := range a.Interests {
		seen[i] = struct{}{}
	}
	n := 0
	for _, i := range b.Interests {
		if _, ok := seen[i]; ok {
			n++
			delete(seen, i)
		}
	}
	return n
}

// Compatible reports whether two searchers may be paired. A random searcher
// accepts anyone; a filtered one needs the partner's age inside its range.
func Compatible(a, b Preferences) bool {
	return (a.Random || a.AgeRange.Contains(b.Age)) &&
		(b.Random || b.AgeRange.Contains(a.Age))
}
