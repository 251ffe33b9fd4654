package services

import (
  "context"
  "crypto/sha1"
  "encoding/hex"
  "errors"
  "fmt"
  "strconv"
  "time"

  goredis "github.com/redis/go-redis/v9"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// ErrStoreUnavailable marks failures of the shared state store itself, as
// opposed to a negative answer from it. Callers on the message path fail open
// when they see it.
var ErrStoreUnavailable = errors.New("shared state store unavailable")

// RequestDeduplicator marks a (session, request id) pair as seen exactly once.
type RequestDeduplicator interface {
  Register(ctx context.Context, session, requestID string) (bool, error)
}

type requestDeduplicator struct {
  log       *logger.Logger
  rdb       *goredis.Client
  retention time.Duration
}

// NewRequestDeduplicator keeps markers for twice the session idle timeout;
// request ids are never reused after their round ages out, so bounded
// retention loses nothing.
func NewRequestDeduplicator(rdb *goredis.Client, log *logger.Logger, idleTimeout time.Duration) RequestDeduplicator {
  return &requestDeduplicator{
    log:       log.With("service", "RequestDeduplicator"),
    rdb:       rdb,
    retention: 2 * idleTimeout,
  }
}

func (d *requestDeduplicator) Register(ctx context.Context, session, requestID string) (bool, error) {
  ok, err := d.rdb.SetNX(ctx, dedupKey(session, requestID), "1", d.retention).Result()
  if err != nil {
    return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
  }
  return ok, nil
}

// MakeRequestID derives a stable request id for upstream callers that cannot
// track their own. The 3-second bucket makes rapid client retransmits of the
// same text collapse onto one id.
func MakeRequestID(session, text string, nowMS int64) string {
  bucket := nowMS / 3000
  h := sha1.Sum([]byte(session + "|" + text + "|" + strconv.FormatInt(bucket, 10)))
  return hex.EncodeToString(h[:])
}
