package services

import (
  "crypto/sha1"
  "encoding/hex"
  "strings"
)

const (
  MemoryRecordAtom    = "atom"
  MemoryRecordSurface = "surface"

  MemoryStatusActive = "active"

  // Display text is capped before storage; anything longer is truncated.
  memoryTextMax = 4000
)

// MemoryRecord is one long-term memory row bound for the vector store.
// An atom carries the canonical human-readable fact with a placeholder
// embedding; its surfaces carry verbatim evidence quotes with real embeddings
// and share the atom's group key and expiry.
type MemoryRecord struct {
  Type            string
  GroupKey        string
  Text            string
  Importance      int
  Confidence      float64
  TimesSeen       int
  Status          string
  SourceSessionID string
  ExpireAt        int64
  Embedding       []float32
}

// MemoryGroupKey hashes the lowercased display text so the same fact lands
// under the same key across sessions, letting atoms and their surfaces merge
// and re-surface later.
func MemoryGroupKey(displayText string) string {
  h := sha1.Sum([]byte(strings.ToLower(displayText)))
  return "auto:" + hex.EncodeToString(h[:])[:32]
}

func truncateMemoryText(text string) string {
  if len(text) <= memoryTextMax {
    return text
  }
  return text[:memoryTextMax]
}
