package services

import (
  "context"
  "errors"
  "fmt"
  "strings"

  goredis "github.com/redis/go-redis/v9"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// RollingSummarizer maintains the per-session summary cursor: the index of the
// next unsummarized round plus the concatenated summary text. The cursor only
// ever moves forward, and only through a winning Commit CAS. Concurrent
// summarization attempts are safe by construction: the loser's generated text
// is discarded, never retried.
type RollingSummarizer interface {
  // PeekNext returns the next n unsummarized rounds iff at least n exist.
  // It never returns a partial chunk; rounds is nil when fewer than n remain.
  PeekNext(ctx context.Context, session string, n int) (int64, []Round, error)
  // PeekRemaining returns whatever unsummarized tail exists, possibly empty.
  PeekRemaining(ctx context.Context, session string) (int64, []Round, error)
  // Commit appends text to the running summary and advances the cursor by
  // advanceBy, iff the stored cursor still equals expected. A false return
  // means the CAS lost; nothing was mutated.
  Commit(ctx context.Context, session string, expected, advanceBy int64, text string) (bool, error)
  Summary(ctx context.Context, session string) (string, int64, error)
  // SummarizeChunk generates a summary for the chunk via the model and
  // commits it. A lost commit is logged and dropped.
  SummarizeChunk(ctx context.Context, session string, start int64, chunk []Round) bool
}

type rollingSummarizer struct {
  log *logger.Logger
  rdb *goredis.Client
  ai  OpenAIClient
}

func NewRollingSummarizer(rdb *goredis.Client, ai OpenAIClient, log *logger.Logger) RollingSummarizer {
  return &rollingSummarizer{
    log: log.With("service", "RollingSummarizer"),
    rdb: rdb,
    ai:  ai,
  }
}

func (s *rollingSummarizer) cursor(ctx context.Context, session string) (int64, error) {
  cur, err := s.rdb.Get(ctx, summaryCursorKey(session)).Int64()
  if errors.Is(err, goredis.Nil) {
    return 0, nil
  }
  return cur, err
}

func (s *rollingSummarizer) PeekNext(ctx context.Context, session string, n int) (int64, []Round, error) {
  if n < 1 {
    return 0, nil, nil
  }
  cur, err := s.cursor(ctx, session)
  if err != nil {
    return 0, nil, err
  }
  total, err := s.rdb.LLen(ctx, historyKey(session)).Result()
  if err != nil {
    return 0, nil, err
  }
  if total-cur < int64(n) {
    return 0, nil, nil
  }
  items, err := s.rdb.LRange(ctx, historyKey(session), cur, cur+int64(n)-1).Result()
  if err != nil {
    return 0, nil, err
  }
  return cur, decodeRounds(s.log, items), nil
}

func (s *rollingSummarizer) PeekRemaining(ctx context.Context, session string) (int64, []Round, error) {
  cur, err := s.cursor(ctx, session)
  if err != nil {
    return 0, nil, err
  }
  total, err := s.rdb.LLen(ctx, historyKey(session)).Result()
  if err != nil {
    return 0, nil, err
  }
  if total <= cur {
    return cur, nil, nil
  }
  items, err := s.rdb.LRange(ctx, historyKey(session), cur, total-1).Result()
  if err != nil {
    return cur, nil, err
  }
  return cur, decodeRounds(s.log, items), nil
}

func (s *rollingSummarizer) Commit(ctx context.Context, session string, expected, advanceBy int64, text string) (bool, error) {
  ckey := summaryCursorKey(session)
  tkey := summaryTextKey(session)
  committed := false
  err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
    cur, err := tx.Get(ctx, ckey).Int64()
    if err != nil && !errors.Is(err, goredis.Nil) {
      return err
    }
    if cur != expected {
      return nil
    }
    old, err := tx.Get(ctx, tkey).Result()
    if err != nil && !errors.Is(err, goredis.Nil) {
      return err
    }
    add := strings.TrimSpace(text)
    merged := old
    if add != "" {
      if old != "" {
        merged = old + "\n\n" + add
      } else {
        merged = add
      }
    }
    _, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
      p.Set(ctx, tkey, merged, 0)
      p.Set(ctx, ckey, cur+advanceBy, 0)
      return nil
    })
    if err == nil {
      committed = true
    }
    return err
  }, ckey, tkey)
  if errors.Is(err, goredis.TxFailedErr) {
    return false, nil
  }
  if err != nil {
    return false, err
  }
  return committed, nil
}

func (s *rollingSummarizer) Summary(ctx context.Context, session string) (string, int64, error) {
  text, err := s.rdb.Get(ctx, summaryTextKey(session)).Result()
  if err != nil && !errors.Is(err, goredis.Nil) {
    return "", 0, err
  }
  cur, err := s.cursor(ctx, session)
  if err != nil {
    return "", 0, err
  }
  return text, cur, nil
}

func (s *rollingSummarizer) SummarizeChunk(ctx context.Context, session string, start int64, chunk []Round) bool {
  if len(chunk) == 0 {
    return true
  }
  var b strings.Builder
  for i, r := range chunk {
    fmt.Fprintf(&b, "Round %d:\nPatient: %s\nCompanion: %s\n\n", start+int64(i)+1, r.Input, r.Output)
  }
  prompt := "Summarize the following conversation in 80-120 words. Focus on health " +
    "concerns, mood, and concrete daily-life details.\n\n" + b.String()

  summary, err := s.ai.Chat(ctx, "You are a careful conversation summarizer.", prompt, 0.3)
  if err != nil {
    s.log.Warn("chunk summarization failed", "session_id", session, "error", err)
    return false
  }
  ok, err := s.Commit(ctx, session, start, int64(len(chunk)), summary)
  if err != nil {
    s.log.Warn("summary commit failed", "session_id", session, "error", err)
    return false
  }
  if !ok {
    // Another worker consumed this chunk first; discard our text.
    s.log.Debug("summary commit lost CAS, dropping", "session_id", session, "start", start)
  }
  return ok
}
