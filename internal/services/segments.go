package services

import (
  "context"
  "strings"
  "time"

  goredis "github.com/redis/go-redis/v9"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// SegmentBuffer accumulates partial utterance fragments until the final
// fragment arrives. Buffers expire on their own if a final never comes.
type SegmentBuffer interface {
  Append(ctx context.Context, session, utteranceID, fragment string) error
  // Drain reads the accumulated fragments and deletes the buffer in one
  // atomic step; a post-drain Append starts a fresh buffer.
  Drain(ctx context.Context, session, utteranceID string) (string, error)
}

type segmentBuffer struct {
  log *logger.Logger
  rdb *goredis.Client
  ttl time.Duration
}

func NewSegmentBuffer(rdb *goredis.Client, log *logger.Logger, ttl time.Duration) SegmentBuffer {
  if ttl <= 0 {
    ttl = time.Hour
  }
  return &segmentBuffer{
    log: log.With("service", "SegmentBuffer"),
    rdb: rdb,
    ttl: ttl,
  }
}

func (b *segmentBuffer) Append(ctx context.Context, session, utteranceID, fragment string) error {
  key := segmentBufKey(session, utteranceID)
  _, err := b.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
    p.RPush(ctx, key, fragment)
    p.Expire(ctx, key, b.ttl)
    return nil
  })
  return err
}

func (b *segmentBuffer) Drain(ctx context.Context, session, utteranceID string) (string, error) {
  key := segmentBufKey(session, utteranceID)
  var rangeCmd *goredis.StringSliceCmd
  _, err := b.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
    rangeCmd = p.LRange(ctx, key, 0, -1)
    p.Del(ctx, key)
    return nil
  })
  if err != nil {
    return "", err
  }
  parts := rangeCmd.Val()
  joined := make([]string, 0, len(parts))
  for _, part := range parts {
    part = strings.TrimSpace(part)
    if part != "" {
      joined = append(joined, part)
    }
  }
  return strings.Join(joined, " "), nil
}
