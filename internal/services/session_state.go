package services

import (
  "context"
  "errors"
  "strconv"
  "time"

  goredis "github.com/redis/go-redis/v9"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

const (
  SessionStateActive     = "ACTIVE"
  SessionStateFinalizing = "FINALIZING"
)

// SessionStateMachine tracks the session lifecycle and its idle timer.
// A missing state key reads as ACTIVE; at most one ACTIVE→FINALIZING
// transition succeeds per session lifetime.
type SessionStateMachine interface {
  // TransitionIf is a CAS: it succeeds only when the current state equals
  // expect. A false return is not an error — someone else got there first.
  TransitionIf(ctx context.Context, session, expect, to string) (bool, error)
  // StartOrRefresh marks the session active and resets the idle timer.
  // Returns true when this call started a new session.
  StartOrRefresh(ctx context.Context, session string) (bool, error)
  IsActive(ctx context.Context, session string) (bool, error)
  // ExpiredSessions scans for sessions whose idle marker has lapsed.
  ExpiredSessions(ctx context.Context) ([]string, error)
  // Purge deletes every session-scoped key: rounds, cursor, summary, state,
  // buffers and reply caches.
  Purge(ctx context.Context, session string) error
}

type sessionStateMachine struct {
  log         *logger.Logger
  rdb         *goredis.Client
  idleTimeout time.Duration
}

func NewSessionStateMachine(rdb *goredis.Client, log *logger.Logger, idleTimeout time.Duration) SessionStateMachine {
  if idleTimeout <= 0 {
    idleTimeout = 5 * time.Minute
  }
  return &sessionStateMachine{
    log:         log.With("service", "SessionStateMachine"),
    rdb:         rdb,
    idleTimeout: idleTimeout,
  }
}

func (s *sessionStateMachine) TransitionIf(ctx context.Context, session, expect, to string) (bool, error) {
  key := sessionStateKey(session)
  swapped := false
  err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
    cur, err := tx.Get(ctx, key).Result()
    if err != nil && !errors.Is(err, goredis.Nil) {
      return err
    }
    if cur == "" {
      cur = SessionStateActive
    }
    if cur != expect {
      return nil
    }
    _, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
      p.Set(ctx, key, to, 0)
      return nil
    })
    if err == nil {
      swapped = true
    }
    return err
  }, key)
  if errors.Is(err, goredis.TxFailedErr) {
    // Lost the race; whoever won owns the transition.
    return false, nil
  }
  if err != nil {
    return false, err
  }
  return swapped, nil
}

func (s *sessionStateMachine) StartOrRefresh(ctx context.Context, session string) (bool, error) {
  activeKey := sessionActiveKey(session)
  exists, err := s.rdb.Exists(ctx, activeKey).Result()
  if err != nil {
    return false, err
  }
  isNew := exists == 0
  _, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
    p.Set(ctx, activeKey, "1", s.idleTimeout)
    p.Set(ctx, sessionLastActiveKey(session), strconv.FormatInt(time.Now().Unix(), 10), 0)
    return nil
  })
  if err != nil {
    return false, err
  }
  return isNew, nil
}

func (s *sessionStateMachine) IsActive(ctx context.Context, session string) (bool, error) {
  n, err := s.rdb.Exists(ctx, sessionActiveKey(session)).Result()
  if err != nil {
    return false, err
  }
  return n > 0, nil
}

func (s *sessionStateMachine) ExpiredSessions(ctx context.Context) ([]string, error) {
  const prefix = "session:last_active:"
  now := time.Now().Unix()
  var expired []string

  iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
  for iter.Next(ctx) {
    key := iter.Val()
    session := key[len(prefix):]
    raw, err := s.rdb.Get(ctx, key).Result()
    if err != nil {
      continue
    }
    lastActive, err := strconv.ParseInt(raw, 10, 64)
    if err != nil {
      s.log.Warn("unparseable last-active marker", "key", key)
      continue
    }
    if now-lastActive <= int64(s.idleTimeout.Seconds()) {
      continue
    }
    // Double-check the active flag really lapsed before flagging.
    active, err := s.IsActive(ctx, session)
    if err != nil || active {
      continue
    }
    expired = append(expired, session)
  }
  if err := iter.Err(); err != nil {
    return expired, err
  }
  return expired, nil
}

func (s *sessionStateMachine) Purge(ctx context.Context, session string) error {
  patterns := []string{
    "session:" + session + ":*",
    "audio:" + session + ":*",
  }
  var keys []string
  for _, pattern := range patterns {
    iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
    for iter.Next(ctx) {
      keys = append(keys, iter.Val())
    }
    if err := iter.Err(); err != nil {
      return err
    }
  }
  keys = append(keys, sessionActiveKey(session), sessionLastActiveKey(session))
  return s.rdb.Del(ctx, keys...).Err()
}
