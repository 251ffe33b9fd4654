package services

import (
  "context"
  "encoding/json"
  "errors"
  "time"

  goredis "github.com/redis/go-redis/v9"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// Round is one completed conversation exchange. Immutable once appended;
// a round's index is its position in the history list.
type Round struct {
  Input     string `json:"input"`
  Output    string `json:"output"`
  RequestID string `json:"rid"`
}

// HistoryStore owns the append-only round list and the per-utterance reply
// cache that lets duplicate finals short-circuit.
type HistoryStore interface {
  AppendRound(ctx context.Context, session string, round Round) error
  FetchAll(ctx context.Context, session string) ([]Round, error)
  Len(ctx context.Context, session string) (int64, error)
  CacheReply(ctx context.Context, session, utteranceID, reply string) error
  CachedReply(ctx context.Context, session, utteranceID string) (string, bool, error)
}

type historyStore struct {
  log      *logger.Logger
  rdb      *goredis.Client
  replyTTL time.Duration
}

func NewHistoryStore(rdb *goredis.Client, log *logger.Logger, replyTTL time.Duration) HistoryStore {
  if replyTTL <= 0 {
    replyTTL = 24 * time.Hour
  }
  return &historyStore{
    log:      log.With("service", "HistoryStore"),
    rdb:      rdb,
    replyTTL: replyTTL,
  }
}

func (h *historyStore) AppendRound(ctx context.Context, session string, round Round) error {
  raw, err := json.Marshal(round)
  if err != nil {
    return err
  }
  return h.rdb.RPush(ctx, historyKey(session), raw).Err()
}

func (h *historyStore) FetchAll(ctx context.Context, session string) ([]Round, error) {
  items, err := h.rdb.LRange(ctx, historyKey(session), 0, -1).Result()
  if err != nil {
    return nil, err
  }
  return decodeRounds(h.log, items), nil
}

func (h *historyStore) Len(ctx context.Context, session string) (int64, error) {
  return h.rdb.LLen(ctx, historyKey(session)).Result()
}

func (h *historyStore) CacheReply(ctx context.Context, session, utteranceID, reply string) error {
  return h.rdb.Set(ctx, replyCacheKey(session, utteranceID), reply, h.replyTTL).Err()
}

func (h *historyStore) CachedReply(ctx context.Context, session, utteranceID string) (string, bool, error) {
  reply, err := h.rdb.Get(ctx, replyCacheKey(session, utteranceID)).Result()
  if errors.Is(err, goredis.Nil) {
    return "", false, nil
  }
  if err != nil {
    return "", false, err
  }
  return reply, true, nil
}

func decodeRounds(log *logger.Logger, items []string) []Round {
  rounds := make([]Round, 0, len(items))
  for _, item := range items {
    var r Round
    if err := json.Unmarshal([]byte(item), &r); err != nil {
      log.Warn("dropping undecodable history round", "error", err)
      continue
    }
    rounds = append(rounds, r)
  }
  return rounds
}
