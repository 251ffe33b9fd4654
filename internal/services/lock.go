package services

import (
  "context"
  "time"

  "github.com/google/uuid"
  goredis "github.com/redis/go-redis/v9"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// DistributedLock is non-blocking, TTL-bounded mutual exclusion over an
// arbitrary resource key. A busy lock returns immediately; the TTL is the only
// deadlock-prevention mechanism, so a crashed holder self-clears.
type DistributedLock interface {
  TryAcquire(ctx context.Context, resource string, ttl time.Duration) (bool, string, error)
  Release(ctx context.Context, resource, token string) error
}

type distributedLock struct {
  log *logger.Logger
  rdb *goredis.Client
}

// Release must only succeed for the holder that acquired: compare the stored
// token and delete in one atomic script, so an expired holder cannot free a
// lock someone else now owns.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

func NewDistributedLock(rdb *goredis.Client, log *logger.Logger) DistributedLock {
  return &distributedLock{
    log: log.With("service", "DistributedLock"),
    rdb: rdb,
  }
}

func (l *distributedLock) TryAcquire(ctx context.Context, resource string, ttl time.Duration) (bool, string, error) {
  token := uuid.NewString()
  ok, err := l.rdb.SetNX(ctx, lockKey(resource), token, ttl).Result()
  if err != nil {
    return false, "", err
  }
  if !ok {
    return false, "", nil
  }
  return true, token, nil
}

func (l *distributedLock) Release(ctx context.Context, resource, token string) error {
  return releaseScript.Run(ctx, l.rdb, []string{lockKey(resource)}, token).Err()
}
