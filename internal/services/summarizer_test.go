package services

import (
  "context"
  "fmt"
  "testing"
  "time"
)

func seedRounds(t *testing.T, history HistoryStore, session string, n int) {
  t.Helper()
  for i := 0; i < n; i++ {
    round := Round{
      Input:     fmt.Sprintf("patient line %d", i+1),
      Output:    fmt.Sprintf("companion line %d", i+1),
      RequestID: fmt.Sprintf("rid-%d", i+1),
    }
    if err := history.AppendRound(context.Background(), session, round); err != nil {
      t.Fatalf("append round %d: %v", i+1, err)
    }
  }
}

func TestPeekNextAllOrNothing(t *testing.T) {
  _, rdb := newTestRedis(t)
  log := mustTestLogger(t)
  history := NewHistoryStore(rdb, log, time.Hour)
  summarizer := NewRollingSummarizer(rdb, &fakeAIClient{}, log)
  ctx := context.Background()

  seedRounds(t, history, "s1", 3)

  start, chunk, err := summarizer.PeekNext(ctx, "s1", 5)
  if err != nil {
    t.Fatalf("peek short: %v", err)
  }
  if chunk != nil {
    t.Fatalf("peek short: want=nil chunk got=%d rounds", len(chunk))
  }

  seedRounds(t, history, "s1", 2)
  start, chunk, err = summarizer.PeekNext(ctx, "s1", 5)
  if err != nil {
    t.Fatalf("peek full: %v", err)
  }
  if start != 0 || len(chunk) != 5 {
    t.Fatalf("peek full: want start=0 len=5 got start=%d len=%d", start, len(chunk))
  }
  if chunk[0].Input != "patient line 1" || chunk[4].Input != "patient line 5" {
    t.Fatalf("peek full order: got first=%q last=%q", chunk[0].Input, chunk[4].Input)
  }
}

func TestCommitAdvancesCursorAndAppendsText(t *testing.T) {
  _, rdb := newTestRedis(t)
  log := mustTestLogger(t)
  summarizer := NewRollingSummarizer(rdb, &fakeAIClient{}, log)
  ctx := context.Background()

  ok, err := summarizer.Commit(ctx, "s1", 0, 5, "first chunk summary")
  if err != nil {
    t.Fatalf("first commit: %v", err)
  }
  if !ok {
    t.Fatalf("first commit: want=committed got=lost")
  }

  ok, err = summarizer.Commit(ctx, "s1", 5, 5, "second chunk summary")
  if err != nil {
    t.Fatalf("second commit: %v", err)
  }
  if !ok {
    t.Fatalf("second commit: want=committed got=lost")
  }

  text, cursor, err := summarizer.Summary(ctx, "s1")
  if err != nil {
    t.Fatalf("summary: %v", err)
  }
  if cursor != 10 {
    t.Fatalf("cursor: want=10 got=%d", cursor)
  }
  want := "first chunk summary\n\nsecond chunk summary"
  if text != want {
    t.Fatalf("summary text: want=%q got=%q", want, text)
  }
}

func TestCommitWithStaleCursorLoses(t *testing.T) {
  _, rdb := newTestRedis(t)
  summarizer := NewRollingSummarizer(rdb, &fakeAIClient{}, mustTestLogger(t))
  ctx := context.Background()

  if ok, err := summarizer.Commit(ctx, "s1", 0, 5, "winner"); err != nil || !ok {
    t.Fatalf("winning commit: ok=%v err=%v", ok, err)
  }

  // A worker that peeked before the winner committed now carries expected=0.
  ok, err := summarizer.Commit(ctx, "s1", 0, 5, "stale text")
  if err != nil {
    t.Fatalf("stale commit: %v", err)
  }
  if ok {
    t.Fatalf("stale commit: want=lost got=committed")
  }

  text, cursor, err := summarizer.Summary(ctx, "s1")
  if err != nil {
    t.Fatalf("summary: %v", err)
  }
  if cursor != 5 || text != "winner" {
    t.Fatalf("after stale commit: want cursor=5 text=%q got cursor=%d text=%q", "winner", cursor, text)
  }
}

func TestSummarizeChunkCommitsModelOutput(t *testing.T) {
  _, rdb := newTestRedis(t)
  log := mustTestLogger(t)
  ai := &fakeAIClient{
    chatFn: func(system, user string) (string, error) {
      return "they discussed morning dizziness", nil
    },
  }
  history := NewHistoryStore(rdb, log, time.Hour)
  summarizer := NewRollingSummarizer(rdb, ai, log)
  ctx := context.Background()

  seedRounds(t, history, "s1", 5)
  start, chunk, err := summarizer.PeekNext(ctx, "s1", 5)
  if err != nil || chunk == nil {
    t.Fatalf("peek: chunk=%v err=%v", chunk, err)
  }

  if !summarizer.SummarizeChunk(ctx, "s1", start, chunk) {
    t.Fatalf("summarize chunk: want=committed got=lost")
  }
  text, cursor, err := summarizer.Summary(ctx, "s1")
  if err != nil {
    t.Fatalf("summary: %v", err)
  }
  if cursor != 5 || text != "they discussed morning dizziness" {
    t.Fatalf("after summarize: cursor=%d text=%q", cursor, text)
  }

  // The tail is shorter than a chunk now; PeekRemaining still sees it.
  seedRounds(t, history, "s1", 2)
  start, tail, err := summarizer.PeekRemaining(ctx, "s1")
  if err != nil {
    t.Fatalf("peek remaining: %v", err)
  }
  if start != 5 || len(tail) != 2 {
    t.Fatalf("peek remaining: want start=5 len=2 got start=%d len=%d", start, len(tail))
  }
}

func TestSummarizeChunkModelFailureLeavesCursor(t *testing.T) {
  _, rdb := newTestRedis(t)
  log := mustTestLogger(t)
  ai := &fakeAIClient{
    chatFn: func(system, user string) (string, error) {
      return "", fmt.Errorf("model unavailable")
    },
  }
  history := NewHistoryStore(rdb, log, time.Hour)
  summarizer := NewRollingSummarizer(rdb, ai, log)
  ctx := context.Background()

  seedRounds(t, history, "s1", 5)
  start, chunk, _ := summarizer.PeekNext(ctx, "s1", 5)
  if summarizer.SummarizeChunk(ctx, "s1", start, chunk) {
    t.Fatalf("summarize with failing model: want=false")
  }
  _, cursor, err := summarizer.Summary(ctx, "s1")
  if err != nil {
    t.Fatalf("summary: %v", err)
  }
  if cursor != 0 {
    t.Fatalf("cursor after failure: want=0 got=%d", cursor)
  }
}
