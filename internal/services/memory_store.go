package services

import (
  "context"
  "crypto/sha1"
  "encoding/hex"
  "fmt"
  "math"
  "os"
  "sort"
  "strconv"
  "strings"
  "time"

  "github.com/yungbote/carebridge-backend/internal/clients/pinecone"
  "github.com/yungbote/carebridge-backend/internal/logger"
)

// MemoryStore is the durable owner of distilled atoms and surfaces. Upserts
// carry no cross-record transaction guarantee; a partial batch failure is
// tolerated by callers.
type MemoryStore interface {
  Upsert(ctx context.Context, session string, records []MemoryRecord) (int, error)
  // RetrievePack returns ranked, grouped memory text for prompt building, or
  // an empty string when nothing clears the similarity threshold.
  RetrievePack(ctx context.Context, session string, queryVec []float32, topKGroups int) (string, error)
  // GCExpired hard-deletes records whose expiry has passed.
  GCExpired(ctx context.Context, session string) error
}

type pineconeMemoryStore struct {
  log       *logger.Logger
  pc        pinecone.Client
  indexName string
  indexHost string
  nsPrefix  string
  embedDim  int
  simThr    float64
  tauDays   float64
}

func NewMemoryStore(log *logger.Logger, pc pinecone.Client, embedDim int) (MemoryStore, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  if pc == nil {
    return nil, fmt.Errorf("pinecone client required")
  }

  indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
  if indexName == "" {
    return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
  }

  host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))

  nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
  if nsPrefix == "" {
    nsPrefix = "cb"
  }

  // If host missing, bootstrap via describe_index (fine for local/dev; avoid in prod).
  if host == "" {
    desc, err := pc.DescribeIndex(context.Background(), indexName)
    if err != nil {
      return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
    }
    host = strings.TrimSpace(desc.Host)
    if host == "" {
      return nil, fmt.Errorf("pinecone describe_index returned empty host")
    }
    log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
      "index_name", indexName,
      "index_host", host,
    )
  }

  simThr := 0.5
  if v := strings.TrimSpace(os.Getenv("MEMORY_SIM_THRESHOLD")); v != "" {
    if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
      simThr = f
    }
  }
  tauDays := 45.0
  if v := strings.TrimSpace(os.Getenv("MEMORY_RECENCY_TAU_DAYS")); v != "" {
    if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
      tauDays = f
    }
  }
  if embedDim <= 0 {
    embedDim = 1536
  }

  return &pineconeMemoryStore{
    log:       log.With("service", "MemoryStore"),
    pc:        pc,
    indexName: indexName,
    indexHost: host,
    nsPrefix:  nsPrefix,
    embedDim:  embedDim,
    simThr:    simThr,
    tauDays:   tauDays,
  }, nil
}

func (s *pineconeMemoryStore) Upsert(ctx context.Context, session string, records []MemoryRecord) (int, error) {
  if len(records) == 0 {
    return 0, nil
  }
  now := time.Now().UnixMilli()
  vectors := make([]pinecone.Vector, 0, len(records))
  for _, rec := range records {
    values := rec.Embedding
    if len(values) != s.embedDim {
      if rec.Type != MemoryRecordAtom {
        return 0, fmt.Errorf("%s record needs a %d-dim embedding", rec.Type, s.embedDim)
      }
      values = make([]float32, s.embedDim)
    }
    vectors = append(vectors, pinecone.Vector{
      ID:     s.recordID(session, rec),
      Values: values,
      Metadata: map[string]any{
        "type":              rec.Type,
        "group_key":         rec.GroupKey,
        "text":              rec.Text,
        "importance":        rec.Importance,
        "confidence":        rec.Confidence,
        "times_seen":        rec.TimesSeen,
        "status":            rec.Status,
        "source_session_id": rec.SourceSessionID,
        "created_at":        now,
        "updated_at":        now,
        "last_used_at":      now,
        "expire_at":         rec.ExpireAt,
      },
    })
  }
  resp, err := s.pc.UpsertVectors(ctx, s.indexHost, pinecone.UpsertRequest{
    Namespace: s.qualifyNamespace(session),
    Vectors:   vectors,
  })
  if err != nil {
    return 0, err
  }
  return int(resp.UpsertedCount), nil
}

// recordID gives every atom one stable slot per group key and every surface
// one per (group key, quote prefix), so re-upserting the same fact overwrites
// instead of duplicating.
func (s *pineconeMemoryStore) recordID(session string, rec MemoryRecord) string {
  var seed string
  if rec.Type == MemoryRecordAtom {
    seed = session + "|atom|" + rec.GroupKey
  } else {
    text := rec.Text
    if len(text) > 80 {
      text = text[:80]
    }
    seed = session + "|" + rec.Type + "|" + rec.GroupKey + "|" + text
  }
  h := sha1.Sum([]byte(seed))
  return hex.EncodeToString(h[:])
}

type memoryBucket struct {
  score       float64
  bestAtom    string
  bestSurface string
}

func (s *pineconeMemoryStore) RetrievePack(ctx context.Context, session string, queryVec []float32, topKGroups int) (string, error) {
  if len(queryVec) == 0 {
    return "", nil
  }
  if topKGroups < 1 {
    topKGroups = 5
  }
  now := time.Now().UnixMilli()

  resp, err := s.pc.Query(ctx, s.indexHost, pinecone.QueryRequest{
    Namespace: s.qualifyNamespace(session),
    Vector:    queryVec,
    TopK:      50,
    Filter: map[string]any{
      "status": MemoryStatusActive,
      "type":   map[string]any{"$in": []string{MemoryRecordAtom, MemoryRecordSurface}},
      "$or": []map[string]any{
        {"expire_at": 0},
        {"expire_at": map[string]any{"$gte": now}},
      },
    },
    IncludeMetadata: true,
  })
  if err != nil {
    return "", err
  }

  hits := filterByScore(resp.Matches, s.simThr)
  if len(hits) == 0 && len(resp.Matches) > 0 {
    // Relax once, in place, rather than re-querying.
    hits = filterByScore(resp.Matches, math.Max(0.30, s.simThr*0.7))
  }
  if len(hits) == 0 {
    return "", nil
  }

  buckets := map[string]*memoryBucket{}
  var order []string
  for _, hit := range hits {
    md := hit.Metadata
    recType, _ := md["type"].(string)
    text, _ := md["text"].(string)
    groupKey, _ := md["group_key"].(string)
    if text == "" || groupKey == "" {
      continue
    }

    recency := recencyWeight(metaInt64(md, "last_used_at"), s.tauDays, now)
    importance := float64(metaInt64(md, "importance")) / 5.0
    score := 0.64*hit.Score + 0.18*recency + 0.12*importance
    if recType == MemoryRecordSurface {
      score += 0.05
    }

    bucket, ok := buckets[groupKey]
    if !ok {
      bucket = &memoryBucket{score: -1}
      buckets[groupKey] = bucket
      order = append(order, groupKey)
    }
    if score > bucket.score {
      bucket.score = score
    }
    if recType == MemoryRecordAtom && bucket.bestAtom == "" {
      bucket.bestAtom = text
    }
    if recType == MemoryRecordSurface && bucket.bestSurface == "" {
      bucket.bestSurface = text
    }
  }

  sort.SliceStable(order, func(i, j int) bool {
    return buckets[order[i]].score > buckets[order[j]].score
  })
  if len(order) > topKGroups {
    order = order[:topKGroups]
  }

  var lines []string
  for _, groupKey := range order {
    bucket := buckets[groupKey]
    switch {
    case bucket.bestAtom != "":
      lines = append(lines, "- "+bucket.bestAtom)
    case bucket.bestSurface != "":
      lines = append(lines, "- "+bucket.bestSurface+" (their words)")
    }
  }
  if len(lines) == 0 {
    return "", nil
  }
  return "Long-term memory:\n" + strings.Join(lines, "\n"), nil
}

func (s *pineconeMemoryStore) GCExpired(ctx context.Context, session string) error {
  now := time.Now().UnixMilli()
  _, err := s.pc.DeleteVectors(ctx, s.indexHost, pinecone.DeleteRequest{
    Namespace: s.qualifyNamespace(session),
    Filter: map[string]any{
      "$and": []map[string]any{
        {"expire_at": map[string]any{"$gt": 0}},
        {"expire_at": map[string]any{"$lt": now}},
      },
    },
  })
  return err
}

func (s *pineconeMemoryStore) qualifyNamespace(session string) string {
  session = strings.TrimSpace(session)
  if session == "" {
    return s.nsPrefix
  }
  return s.nsPrefix + ":" + session
}

func filterByScore(matches []pinecone.QueryMatch, threshold float64) []pinecone.QueryMatch {
  out := make([]pinecone.QueryMatch, 0, len(matches))
  for _, m := range matches {
    if m.Score >= threshold {
      out = append(out, m)
    }
  }
  return out
}

func recencyWeight(tsMS int64, tauDays float64, nowMS int64) float64 {
  if tsMS <= 0 {
    return 0
  }
  deltaDays := math.Max(0, float64(nowMS-tsMS)/86_400_000.0)
  return math.Exp(-deltaDays / tauDays)
}

func metaInt64(md map[string]any, key string) int64 {
  switch v := md[key].(type) {
  case float64:
    return int64(v)
  case int64:
    return v
  case int:
    return int64(v)
  case string:
    n, _ := strconv.ParseInt(v, 10, 64)
    return n
  default:
    return 0
  }
}
