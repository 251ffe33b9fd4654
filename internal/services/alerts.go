package services

import (
  "context"
  "fmt"
  "os"
  "strings"
  "time"

  goredis "github.com/redis/go-redis/v9"
  "github.com/yungbote/carebridge-backend/internal/logger"
)

// AlertPublisher fans emergency signals out to a Redis stream so caregiver
// tooling can consume them independently of the chat path.
type AlertPublisher interface {
  Publish(ctx context.Context, session, reason, rid string) error
}

type alertPublisher struct {
  log    *logger.Logger
  rdb    *goredis.Client
  stream string
}

func NewAlertPublisher(log *logger.Logger, rdb *goredis.Client) (AlertPublisher, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  if rdb == nil {
    return nil, fmt.Errorf("redis client required")
  }
  stream := strings.TrimSpace(os.Getenv("ALERT_STREAM_KEY"))
  if stream == "" {
    stream = "alerts:stream"
  }
  return &alertPublisher{
    log:    log.With("service", "AlertPublisher"),
    rdb:    rdb,
    stream: stream,
  }, nil
}

func (p *alertPublisher) Publish(ctx context.Context, session, reason, rid string) error {
  err := p.rdb.XAdd(ctx, &goredis.XAddArgs{
    Stream: p.stream,
    Values: map[string]any{
      "session_id": session,
      "reason":     reason,
      "rid":        rid,
      "ts":         time.Now().UnixMilli(),
    },
  }).Err()
  if err != nil {
    return fmt.Errorf("alert publish failed: %w", err)
  }
  p.log.Warn("emergency alert published", "session_id", session, "reason", reason)
  return nil
}
