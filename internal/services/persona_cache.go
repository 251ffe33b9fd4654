package services

import (
  "container/list"
  "sync"
  "time"
)

// personaCache keeps recently rendered persona prompts in memory so warm
// sessions skip the profile lookup. Bounded by entry count and idle TTL.
type personaCache struct {
  mu      sync.Mutex
  max     int
  ttl     time.Duration
  entries map[string]*list.Element
  lru     *list.List
  now     func() time.Time
}

type personaEntry struct {
  key      string
  persona  string
  lastUsed time.Time
}

func newPersonaCache(max int, ttl time.Duration) *personaCache {
  if max < 1 {
    max = 256
  }
  if ttl <= 0 {
    ttl = 10 * time.Minute
  }
  return &personaCache{
    max:     max,
    ttl:     ttl,
    entries: make(map[string]*list.Element),
    lru:     list.New(),
    now:     time.Now,
  }
}

func (c *personaCache) Get(key string) (string, bool) {
  c.mu.Lock()
  defer c.mu.Unlock()

  el, ok := c.entries[key]
  if !ok {
    return "", false
  }
  entry := el.Value.(*personaEntry)
  if c.now().Sub(entry.lastUsed) > c.ttl {
    c.lru.Remove(el)
    delete(c.entries, key)
    return "", false
  }
  entry.lastUsed = c.now()
  c.lru.MoveToFront(el)
  return entry.persona, true
}

func (c *personaCache) Put(key, persona string) {
  c.mu.Lock()
  defer c.mu.Unlock()

  if el, ok := c.entries[key]; ok {
    entry := el.Value.(*personaEntry)
    entry.persona = persona
    entry.lastUsed = c.now()
    c.lru.MoveToFront(el)
    return
  }
  el := c.lru.PushFront(&personaEntry{key: key, persona: persona, lastUsed: c.now()})
  c.entries[key] = el
  for c.lru.Len() > c.max {
    oldest := c.lru.Back()
    c.lru.Remove(oldest)
    delete(c.entries, oldest.Value.(*personaEntry).key)
  }
}

func (c *personaCache) Invalidate(key string) {
  c.mu.Lock()
  defer c.mu.Unlock()
  if el, ok := c.entries[key]; ok {
    c.lru.Remove(el)
    delete(c.entries, key)
  }
}
