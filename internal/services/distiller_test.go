package services

import (
  "context"
  "fmt"
  "testing"
)

func factPayload(facts ...map[string]any) map[string]any {
  items := make([]any, 0, len(facts))
  for _, f := range facts {
    items = append(items, f)
  }
  return map[string]any{"facts": items}
}

func TestDistillProducesAtomAndSurfaces(t *testing.T) {
  ai := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return factPayload(map[string]any{
        "type":         "allergy",
        "display_text": "Allergic to penicillin",
        "evidence":     []any{"I can't take penicillin", "penicillin gives me hives"},
        "ttl_days":     float64(30),
      }), nil
    },
  }
  distiller := NewMemoryDistiller(ai, DefaultTTLPolicy(), 8, mustTestLogger(t))

  records := distiller.Distill(context.Background(), "s1", []Round{
    {Input: "I can't take penicillin", Output: "noted"},
  })
  if len(records) != 3 {
    t.Fatalf("records: want=3 (atom + 2 surfaces) got=%d", len(records))
  }

  var atoms, surfaces []MemoryRecord
  for _, rec := range records {
    switch rec.Type {
    case MemoryRecordAtom:
      atoms = append(atoms, rec)
    case MemoryRecordSurface:
      surfaces = append(surfaces, rec)
    }
  }
  if len(atoms) != 1 || len(surfaces) != 2 {
    t.Fatalf("split: want 1 atom 2 surfaces got %d/%d", len(atoms), len(surfaces))
  }

  atom := atoms[0]
  if atom.Importance != 4 {
    t.Fatalf("allergy atom importance: want=4 got=%d", atom.Importance)
  }
  // Allergies never expire regardless of the model's ttl suggestion.
  if atom.ExpireAt != 0 {
    t.Fatalf("allergy atom expiry: want=0 got=%d", atom.ExpireAt)
  }
  if len(atom.Embedding) != 8 {
    t.Fatalf("atom embedding dim: want=8 got=%d", len(atom.Embedding))
  }
  for _, v := range atom.Embedding {
    if v != 0 {
      t.Fatalf("atom embedding: want zero placeholder got %v", atom.Embedding)
    }
  }

  for _, surface := range surfaces {
    if surface.GroupKey != atom.GroupKey {
      t.Fatalf("surface group key: want=%s got=%s", atom.GroupKey, surface.GroupKey)
    }
    if surface.Importance != 2 {
      t.Fatalf("surface importance: want=2 got=%d", surface.Importance)
    }
    if len(surface.Embedding) == 0 {
      t.Fatalf("surface embedding: want real vector got empty")
    }
  }
}

func TestDistillUnknownTypeTrustsModelTTL(t *testing.T) {
  ai := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return factPayload(map[string]any{
        "type":         "travel_plan",
        "display_text": "Visiting their daughter in June",
        "evidence":     []any{},
        "ttl_days":     float64(60),
      }), nil
    },
  }
  distiller := NewMemoryDistiller(ai, DefaultTTLPolicy(), 8, mustTestLogger(t))

  records := distiller.Distill(context.Background(), "s1", []Round{{Input: "x", Output: "y"}})
  if len(records) != 1 {
    t.Fatalf("records: want=1 atom got=%d", len(records))
  }
  if records[0].ExpireAt == 0 {
    t.Fatalf("unknown type expiry: want finite got never")
  }
  if records[0].Importance != 3 {
    t.Fatalf("unknown type importance: want=3 got=%d", records[0].Importance)
  }
}

func TestDistillSkipsEmptyDisplayText(t *testing.T) {
  ai := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return factPayload(
        map[string]any{"type": "note", "display_text": "   ", "evidence": []any{}, "ttl_days": float64(0)},
        map[string]any{"type": "note", "display_text": "Keeps a garden", "evidence": []any{}, "ttl_days": float64(0)},
      ), nil
    },
  }
  distiller := NewMemoryDistiller(ai, DefaultTTLPolicy(), 8, mustTestLogger(t))

  records := distiller.Distill(context.Background(), "s1", []Round{{Input: "x", Output: "y"}})
  if len(records) != 1 {
    t.Fatalf("records: want=1 got=%d", len(records))
  }
  if records[0].Text != "Keeps a garden" {
    t.Fatalf("kept fact: want=%q got=%q", "Keeps a garden", records[0].Text)
  }
}

func TestDistillExtractionFailureYieldsNothing(t *testing.T) {
  ai := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return nil, fmt.Errorf("model unavailable")
    },
  }
  distiller := NewMemoryDistiller(ai, DefaultTTLPolicy(), 8, mustTestLogger(t))

  records := distiller.Distill(context.Background(), "s1", []Round{{Input: "x", Output: "y"}})
  if records != nil {
    t.Fatalf("failed extraction: want=nil got=%v", records)
  }
}

func TestDistillEmbedFailureDropsSurfacesKeepsAtom(t *testing.T) {
  ai := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return factPayload(map[string]any{
        "type":         "condition",
        "display_text": "Has mild arthritis in both hands",
        "evidence":     []any{"my hands ache when it rains"},
        "ttl_days":     float64(0),
      }), nil
    },
    embedFn: func(inputs []string) ([][]float32, error) {
      return nil, fmt.Errorf("embedding service down")
    },
  }
  distiller := NewMemoryDistiller(ai, DefaultTTLPolicy(), 8, mustTestLogger(t))

  records := distiller.Distill(context.Background(), "s1", []Round{{Input: "x", Output: "y"}})
  if len(records) != 1 {
    t.Fatalf("records: want=1 atom only got=%d", len(records))
  }
  if records[0].Type != MemoryRecordAtom {
    t.Fatalf("surviving record: want=atom got=%s", records[0].Type)
  }
}

func TestDistillEmptyTranscript(t *testing.T) {
  distiller := NewMemoryDistiller(&fakeAIClient{}, DefaultTTLPolicy(), 8, mustTestLogger(t))
  if records := distiller.Distill(context.Background(), "s1", nil); records != nil {
    t.Fatalf("empty transcript: want=nil got=%v", records)
  }
}
