package services

import (
  "context"
  "errors"
  "testing"
  "time"
)

func TestRegisterFirstSeenWinsOnce(t *testing.T) {
  _, rdb := newTestRedis(t)
  dedup := NewRequestDeduplicator(rdb, mustTestLogger(t), 5*time.Minute)
  ctx := context.Background()

  fresh, err := dedup.Register(ctx, "s1", "rid-1")
  if err != nil {
    t.Fatalf("first register: %v", err)
  }
  if !fresh {
    t.Fatalf("first register: want=fresh got=duplicate")
  }

  fresh, err = dedup.Register(ctx, "s1", "rid-1")
  if err != nil {
    t.Fatalf("second register: %v", err)
  }
  if fresh {
    t.Fatalf("second register: want=duplicate got=fresh")
  }

  // Same rid under another session is a distinct request.
  fresh, err = dedup.Register(ctx, "s2", "rid-1")
  if err != nil {
    t.Fatalf("other session register: %v", err)
  }
  if !fresh {
    t.Fatalf("other session register: want=fresh got=duplicate")
  }
}

func TestRegisterMarkerExpires(t *testing.T) {
  mr, rdb := newTestRedis(t)
  idle := 5 * time.Minute
  dedup := NewRequestDeduplicator(rdb, mustTestLogger(t), idle)
  ctx := context.Background()

  if fresh, _ := dedup.Register(ctx, "s1", "rid-1"); !fresh {
    t.Fatalf("seed register: want=fresh got=duplicate")
  }

  // Retention is twice the idle timeout; just past one timeout the marker
  // must still hold.
  mr.FastForward(idle + time.Second)
  if fresh, _ := dedup.Register(ctx, "s1", "rid-1"); fresh {
    t.Fatalf("mid-retention register: want=duplicate got=fresh")
  }

  mr.FastForward(idle + time.Second)
  if fresh, _ := dedup.Register(ctx, "s1", "rid-1"); !fresh {
    t.Fatalf("post-retention register: want=fresh got=duplicate")
  }
}

func TestRegisterStoreDown(t *testing.T) {
  mr, rdb := newTestRedis(t)
  dedup := NewRequestDeduplicator(rdb, mustTestLogger(t), 5*time.Minute)
  mr.Close()

  _, err := dedup.Register(context.Background(), "s1", "rid-1")
  if err == nil {
    t.Fatalf("register against closed store: want error")
  }
  if !errors.Is(err, ErrStoreUnavailable) {
    t.Fatalf("register error: want=ErrStoreUnavailable got=%v", err)
  }
}

func TestMakeRequestIDBuckets(t *testing.T) {
  base := int64(1_700_000_000_000)

  a := MakeRequestID("s1", "hello", base)
  b := MakeRequestID("s1", "hello", base+2000)
  if a != b {
    t.Fatalf("same 3s bucket: want equal ids, got %s vs %s", a, b)
  }

  c := MakeRequestID("s1", "hello", base+4000)
  if a == c {
    t.Fatalf("next bucket: want distinct ids, both %s", a)
  }
  if d := MakeRequestID("s2", "hello", base); d == a {
    t.Fatalf("distinct sessions: want distinct ids, both %s", a)
  }
}
