// Package distlock provides a Redis-backed mutual exclusion lock used
// to serialize control verbs (pause, resume, finish, cancel) on a
// qualification run across server replicas.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if the caller still owns it, so
// a lock that expired and was re-acquired elsewhere is never released
// by the stale owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-use lock instance. Each Acquire/Release pair should
// use its own Lock; the ownership token is generated per instance.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// New builds a lock on the given key. The TTL bounds how long a
// crashed holder can block other callers.
func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	buf := make([]byte, 16)
	rand.Read(buf)
	return &Lock{
		client: client,
		key:    key,
		token:  hex.EncodeToString(buf),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock. Returns false without error when
// another holder has it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("distlock: acquiring %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lock if this instance still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("distlock: releasing %s: %w", l.key, err)
	}
	return nil
}
