package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// releaseLua deletes the lock only while it still carries our token, so an
// expired holder never frees a lock that another replica has since taken.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the release call, which runs on a fresh context.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token
// checked release. Tokens name the replica ("host/pid/uuid") so a stuck
// intake or archive lock can be traced to its holder with GET.
type LockManager struct {
	c       *Client
	release *redis.Script
	replica string
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &LockManager{
		c:       c,
		release: redis.NewScript(releaseLua),
		replica: fmt.Sprintf("%s/%d", host, os.Getpid()),
	}
}

// Acquire takes the lock named key for ttl. It returns domain.ErrLockHeld
// when another holder has it. The returned release func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk := lm.c.Key("lock", key)
	token := lm.replica + "/" + uuid.NewString()

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
