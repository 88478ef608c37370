// Package lock keeps two ingestion runs from writing the same collection.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

const lockPrefix = "tenancy-rag:lock:"

// Lock is a Redis SETNX lock owned by one ingestion run.
type Lock struct {
	client  *redis.Client
	ownerID string
}

// NewLock identifies the holder as hostname:pid:runID.
func NewLock(client *redis.Client, runID string) *Lock {
	hostname, _ := os.Hostname()
	return &Lock{
		client:  client,
		ownerID: fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), runID),
	}
}

func (l *Lock) OwnerID() string { return l.ownerID }

// Acquire takes the named lock for ttl. It fails with models.ErrLocked when
// another owner holds it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) error {
	key := lockPrefix + name
	ok, err := l.client.SetNX(ctx, key, l.ownerID, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, key).Result()
		return fmt.Errorf("%w: %s is held by %s", models.ErrLocked, name, holder)
	}
	log.Debug().Str("lock", name).Str("owner", l.ownerID).Dur("ttl", ttl).Msg("lock acquired")
	return nil
}

// only the owner may delete the key
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release drops the lock if this owner still holds it.
func (l *Lock) Release(ctx context.Context, name string) error {
	key := lockPrefix + name
	_, err := releaseScript.Run(ctx, l.client, []string{key}, l.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Extend resets the ttl of a lock this owner holds.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	key := lockPrefix + name
	n, err := extendScript.Run(ctx, l.client, []string{key}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is not held by %s", models.ErrLocked, name, l.ownerID)
	}
	return nil
}

// KeepAlive extends the lock every ttl/2 until ctx is done.
func (l *Lock) KeepAlive(ctx context.Context, name string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Extend(ctx, name, ttl); err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("lock", name).Msg("failed to extend lock")
				}
				return
			}
		}
	}
}
