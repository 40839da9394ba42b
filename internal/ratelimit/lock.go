package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// lockReleaseScript deletes the key only while it still holds this
// holder's token. A lease that expired and was re-acquired elsewhere is
// never deleted by its previous holder.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out expiring leases keyed by name. Leases are advisory:
// a holder must finish inside the TTL or accept that another instance
// may take over.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// Lock is one held lease.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// TryLock takes the lease without blocking. A nil Lock with a nil error
// means another holder has it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lock{locker: l, key: key, token: token}, nil
}

// Release frees the lease if this holder still owns it. Safe to call on
// a nil Lock and after the lease expired.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil || lk.locker == nil {
		return nil
	}
	return lk.locker.script.Run(ctx, lk.locker.client, []string{lk.key}, lk.token).Err()
}
