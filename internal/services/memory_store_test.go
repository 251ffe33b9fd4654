package services

import (
  "context"
  "strings"
  "testing"
  "time"

  "github.com/yungbote/carebridge-backend/internal/clients/pinecone"
)

type fakePineconeClient struct {
  upserts []pinecone.UpsertRequest
  deletes []pinecone.DeleteRequest
  matches []pinecone.QueryMatch
  queries []pinecone.QueryRequest
}

func (f *fakePineconeClient) DescribeIndex(ctx context.Context, indexName string) (*pinecone.IndexDescription, error) {
  return &pinecone.IndexDescription{Name: indexName, Host: "fake-host.pinecone.io"}, nil
}

func (f *fakePineconeClient) UpsertVectors(ctx context.Context, host string, req pinecone.UpsertRequest) (*pinecone.UpsertResponse, error) {
  f.upserts = append(f.upserts, req)
  return &pinecone.UpsertResponse{UpsertedCount: int64(len(req.Vectors))}, nil
}

func (f *fakePineconeClient) Query(ctx context.Context, host string, req pinecone.QueryRequest) (*pinecone.QueryResponse, error) {
  f.queries = append(f.queries, req)
  return &pinecone.QueryResponse{Matches: f.matches}, nil
}

func (f *fakePineconeClient) DeleteVectors(ctx context.Context, host string, req pinecone.DeleteRequest) (*pinecone.DeleteResponse, error) {
  f.deletes = append(f.deletes, req)
  return &pinecone.DeleteResponse{}, nil
}

func newTestMemoryStore(t *testing.T, pc pinecone.Client) MemoryStore {
  t.Helper()
  t.Setenv("PINECONE_INDEX_NAME", "carebridge-test")
  t.Setenv("PINECONE_INDEX_HOST", "fake-host.pinecone.io")
  store, err := NewMemoryStore(mustTestLogger(t), pc, 3)
  if err != nil {
    t.Fatalf("new memory store: %v", err)
  }
  return store
}

func TestUpsertAssignsStableIDsAndNamespace(t *testing.T) {
  pc := &fakePineconeClient{}
  store := newTestMemoryStore(t, pc)
  ctx := context.Background()

  records := []MemoryRecord{
    {
      Type:       MemoryRecordAtom,
      GroupKey:   MemoryGroupKey("allergic to penicillin"),
      Text:       "Allergic to penicillin",
      Importance: 4,
      Confidence: 0.9,
      TimesSeen:  1,
      Status:     MemoryStatusActive,
    },
    {
      Type:       MemoryRecordSurface,
      GroupKey:   MemoryGroupKey("allergic to penicillin"),
      Text:       "I can't take penicillin",
      Importance: 2,
      Confidence: 0.95,
      TimesSeen:  1,
      Status:     MemoryStatusActive,
      Embedding:  []float32{0.1, 0.2, 0.3},
    },
  }

  count, err := store.Upsert(ctx, "s1", records)
  if err != nil {
    t.Fatalf("upsert: %v", err)
  }
  if count != 2 {
    t.Fatalf("upsert count: want=2 got=%d", count)
  }
  if len(pc.upserts) != 1 {
    t.Fatalf("upsert calls: want=1 got=%d", len(pc.upserts))
  }
  req := pc.upserts[0]
  if req.Namespace != "cb:s1" {
    t.Fatalf("namespace: want=cb:s1 got=%s", req.Namespace)
  }
  if req.Vectors[0].ID == "" || req.Vectors[0].ID == req.Vectors[1].ID {
    t.Fatalf("vector ids: want distinct non-empty got %q / %q", req.Vectors[0].ID, req.Vectors[1].ID)
  }
  // Atoms without an embedding get a zero placeholder at the index dim.
  if len(req.Vectors[0].Values) != 3 {
    t.Fatalf("atom placeholder dim: want=3 got=%d", len(req.Vectors[0].Values))
  }

  // Re-upserting the same records must hit the same slots.
  if _, err := store.Upsert(ctx, "s1", records); err != nil {
    t.Fatalf("second upsert: %v", err)
  }
  again := pc.upserts[1]
  if again.Vectors[0].ID != req.Vectors[0].ID || again.Vectors[1].ID != req.Vectors[1].ID {
    t.Fatalf("ids not stable across upserts")
  }
}

func TestUpsertRejectsSurfaceWithoutEmbedding(t *testing.T) {
  store := newTestMemoryStore(t, &fakePineconeClient{})
  _, err := store.Upsert(context.Background(), "s1", []MemoryRecord{
    {Type: MemoryRecordSurface, GroupKey: "auto:x", Text: "quote", Status: MemoryStatusActive},
  })
  if err == nil {
    t.Fatalf("surface without embedding: want error")
  }
}

func queryMatch(id, recType, groupKey, text string, score float64, importance int) pinecone.QueryMatch {
  return pinecone.QueryMatch{
    ID:    id,
    Score: score,
    Metadata: map[string]any{
      "type":         recType,
      "group_key":    groupKey,
      "text":         text,
      "importance":   float64(importance),
      "last_used_at": float64(time.Now().UnixMilli()),
      "expire_at":    float64(0),
      "status":       MemoryStatusActive,
    },
  }
}

func TestRetrievePackGroupsAndPrefersAtoms(t *testing.T) {
  pc := &fakePineconeClient{
    matches: []pinecone.QueryMatch{
      queryMatch("1", MemoryRecordSurface, "auto:g1", "I can't take penicillin", 0.82, 2),
      queryMatch("2", MemoryRecordAtom, "auto:g1", "Allergic to penicillin", 0.80, 4),
      queryMatch("3", MemoryRecordSurface, "auto:g2", "my hands ache when it rains", 0.65, 2),
    },
  }
  store := newTestMemoryStore(t, pc)

  pack, err := store.RetrievePack(context.Background(), "s1", []float32{0.1, 0.2, 0.3}, 5)
  if err != nil {
    t.Fatalf("retrieve: %v", err)
  }
  if !strings.HasPrefix(pack, "Long-term memory:") {
    t.Fatalf("pack header: got %q", pack)
  }
  // The g1 group has an atom; the atom's text wins over its surface.
  if !strings.Contains(pack, "- Allergic to penicillin") {
    t.Fatalf("pack: want atom line, got %q", pack)
  }
  if strings.Contains(pack, "I can't take penicillin") {
    t.Fatalf("pack: surface should not appear when its atom is present, got %q", pack)
  }
  // The g2 group only has a surface; it appears marked as verbatim.
  if !strings.Contains(pack, "- my hands ache when it rains (their words)") {
    t.Fatalf("pack: want surface line with marker, got %q", pack)
  }
}

func TestRetrievePackRelaxesThresholdOnce(t *testing.T) {
  // All matches land between the relaxed floor and the normal threshold.
  pc := &fakePineconeClient{
    matches: []pinecone.QueryMatch{
      queryMatch("1", MemoryRecordAtom, "auto:g1", "Keeps a garden", 0.42, 3),
    },
  }
  store := newTestMemoryStore(t, pc)

  pack, err := store.RetrievePack(context.Background(), "s1", []float32{0.1, 0.2, 0.3}, 5)
  if err != nil {
    t.Fatalf("retrieve: %v", err)
  }
  if !strings.Contains(pack, "Keeps a garden") {
    t.Fatalf("relaxed retrieval: want hit, got %q", pack)
  }
}

func TestRetrievePackEmptyBelowRelaxedFloor(t *testing.T) {
  pc := &fakePineconeClient{
    matches: []pinecone.QueryMatch{
      queryMatch("1", MemoryRecordAtom, "auto:g1", "Keeps a garden", 0.10, 3),
    },
  }
  store := newTestMemoryStore(t, pc)

  pack, err := store.RetrievePack(context.Background(), "s1", []float32{0.1, 0.2, 0.3}, 5)
  if err != nil {
    t.Fatalf("retrieve: %v", err)
  }
  if pack != "" {
    t.Fatalf("far matches: want empty pack got %q", pack)
  }
}

func TestGCExpiredIssuesBoundedDelete(t *testing.T) {
  pc := &fakePineconeClient{}
  store := newTestMemoryStore(t, pc)

  if err := store.GCExpired(context.Background(), "s1"); err != nil {
    t.Fatalf("gc: %v", err)
  }
  if len(pc.deletes) != 1 {
    t.Fatalf("delete calls: want=1 got=%d", len(pc.deletes))
  }
  req := pc.deletes[0]
  if req.Namespace != "cb:s1" {
    t.Fatalf("gc namespace: want=cb:s1 got=%s", req.Namespace)
  }
  if req.Filter == nil {
    t.Fatalf("gc filter: want expiry filter got nil")
  }
}
