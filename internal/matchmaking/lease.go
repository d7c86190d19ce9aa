package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a short-lived exclusive claim on a user while they are being
// paired. A claim that cannot be taken is reported with ok == false.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease shares claims between service instances.
type RedisLease struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLease(rdb *redis.Client) *RedisLease {
	return &RedisLease{rdb: rdb, prefix: "anonchat:lease:"}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{k}, token).Err()
	}
	return release, true, nil
}

// MemoryLease keeps claims in process memory. It stands in for RedisLease
// when Redis is disabled and lets several resolvers share claims in tests.
type MemoryLease struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
}

type memoryClaim struct {
	token   string
	expires time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{claims: make(map[string]memoryClaim)}
}

func (l *MemoryLease) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if c, ok := l.claims[key]; ok && now.Before(c.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.claims[key] = memoryClaim{token: token, expires: now.Add(ttl)}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if c, ok := l.claims[key]; ok && c.token == token {
			delete(l.claims, key)
		}
	}, true, nil
}

// claims tracks the leases one resolution holds so that a user is claimed at
// most once per resolution and everything is released together.
type claims struct {
	lease    Lease
	ttl      time.Duration
	held     map[string]func()
	onFailed func(key string, err error)
}

func newClaims(lease Lease, ttl time.Duration, onFailed func(string, error)) *claims {
	return &claims{lease: lease, ttl: ttl, held: make(map[string]func()), onFailed: onFailed}
}

// take claims userID. Without a lease every claim succeeds. A lease backend
// error is reported and treated as granted; the process mutex still holds.
func (c *claims) take(ctx context.Context, userID string) bool {
	if c.lease == nil {
		return true
	}
	key := "match:" + userID
	if _, ok := c.held[key]; ok {
		return true
	}
	release, ok, err := c.lease.Acquire(ctx, key, c.ttl)
	if err != nil {
		if c.onFailed != nil {
			c.onFailed(key, err)
		}
		c.held[key] = func() {}
		return true
	}
	if !ok {
		return false
	}
	c.held[key] = release
	return true
}

func (c *claims) releaseAll() {
	for key, release := range c.held {
		release()
		delete(c.held, key)
	}
}
