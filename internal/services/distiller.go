package services

import (
  "context"
  "encoding/json"
  "fmt"
  "strings"
  "sync"
  "time"

  "golang.org/x/sync/errgroup"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// MemoryDistiller turns a finished session transcript into long-term memory
// records. Distillation is best effort end to end: malformed model output,
// a failed extraction call, or a failed embedding all degrade to fewer (or no)
// records, never to an error on the finalize path.
type MemoryDistiller interface {
  Distill(ctx context.Context, session string, transcript []Round) []MemoryRecord
}

type memoryDistiller struct {
  log      *logger.Logger
  ai       OpenAIClient
  policy   TTLPolicy
  embedDim int
}

func NewMemoryDistiller(ai OpenAIClient, policy TTLPolicy, embedDim int, log *logger.Logger) MemoryDistiller {
  if embedDim <= 0 {
    embedDim = 1536
  }
  return &memoryDistiller{
    log:      log.With("service", "MemoryDistiller"),
    ai:       ai,
    policy:   policy,
    embedDim: embedDim,
  }
}

const distillSystemPrompt = `You are a memory distiller. From the conversation, extract only established facts worth remembering long term.
Include: personal background, allergies, stable preferences, current doctor's orders or medications, fixed schedules or reminders, contacts, chronic conditions, long-term constraints.
Exclude: small talk, one-off events, short-lived symptoms, guesses, your own opinions.
For each fact give a readable display_text of 60-160 characters with no speculation beyond what was said, and 1-3 verbatim evidence quotes from the conversation.
Type must be one of: info, allergy, preference, doctor_order, schedule, reminder, contact, condition, constraint, note.
If nothing qualifies, return an empty facts array.`

var distillSchema = map[string]any{
  "type": "object",
  "properties": map[string]any{
    "facts": map[string]any{
      "type": "array",
      "items": map[string]any{
        "type": "object",
        "properties": map[string]any{
          "type":         map[string]any{"type": "string"},
          "display_text": map[string]any{"type": "string"},
          "evidence": map[string]any{
            "type":  "array",
            "items": map[string]any{"type": "string"},
          },
          "ttl_days": map[string]any{"type": "integer"},
        },
        "required":             []string{"type", "display_text", "evidence", "ttl_days"},
        "additionalProperties": false,
      },
    },
  },
  "required":             []string{"facts"},
  "additionalProperties": false,
}

type distilledFact struct {
  Type        string   `json:"type"`
  DisplayText string   `json:"display_text"`
  Evidence    []string `json:"evidence"`
  TTLDays     int      `json:"ttl_days"`
}

func (d *memoryDistiller) Distill(ctx context.Context, session string, transcript []Round) []MemoryRecord {
  if len(transcript) == 0 {
    return nil
  }

  facts := d.extract(ctx, session, transcript)
  if len(facts) == 0 {
    return nil
  }

  nowMS := time.Now().UnixMilli()
  sourceID := fmt.Sprintf("sess:%d", time.Now().Unix())

  var (
    mu      sync.Mutex
    records []MemoryRecord
  )
  g, gctx := errgroup.WithContext(ctx)
  g.SetLimit(4)

  for _, fact := range facts {
    display := strings.TrimSpace(fact.DisplayText)
    if display == "" {
      continue
    }

    ttlDays, known := d.policy.Days(fact.Type)
    if !known && fact.TTLDays >= 0 {
      // Unknown type: trust the model's suggestion over the blanket fallback.
      ttlDays = fact.TTLDays
    }
    expireAt := ExpireAtMS(nowMS, ttlDays)
    groupKey := MemoryGroupKey(display)

    atom := MemoryRecord{
      Type:            MemoryRecordAtom,
      GroupKey:        groupKey,
      Text:            truncateMemoryText(display),
      Importance:      atomImportance(fact.Type),
      Confidence:      0.9,
      TimesSeen:       1,
      Status:          MemoryStatusActive,
      SourceSessionID: sourceID,
      ExpireAt:        expireAt,
      Embedding:       make([]float32, d.embedDim), // placeholder, not retrievable
    }
    mu.Lock()
    records = append(records, atom)
    mu.Unlock()

    quotes := nonEmptyQuotes(fact.Evidence, 3)
    if len(quotes) == 0 {
      continue
    }
    g.Go(func() error {
      vecs, err := d.ai.Embed(gctx, quotes)
      if err != nil {
        // A missing embedding drops the surfaces, never the atom.
        d.log.Warn("evidence embedding failed, dropping surfaces",
          "session_id", session, "group_key", groupKey, "error", err)
        return nil
      }
      for i, quote := range quotes {
        if i >= len(vecs) || len(vecs[i]) == 0 {
          continue
        }
        surface := MemoryRecord{
          Type:            MemoryRecordSurface,
          GroupKey:        groupKey,
          Text:            truncateMemoryText(quote),
          Importance:      2,
          Confidence:      0.95,
          TimesSeen:       1,
          Status:          MemoryStatusActive,
          SourceSessionID: sourceID,
          ExpireAt:        expireAt,
          Embedding:       vecs[i],
        }
        mu.Lock()
        records = append(records, surface)
        mu.Unlock()
      }
      return nil
    })
  }
  _ = g.Wait()

  return records
}

// extract runs the schema-bound model call and parses strictly. Any failure
// yields an empty list, never an error.
func (d *memoryDistiller) extract(ctx context.Context, session string, transcript []Round) []distilledFact {
  var b strings.Builder
  for i, r := range transcript {
    fmt.Fprintf(&b, "%02d. Patient: %s\n    Companion: %s\n", i+1, strings.TrimSpace(r.Input), strings.TrimSpace(r.Output))
  }

  raw, err := d.ai.GenerateJSON(ctx, distillSystemPrompt,
    "The session transcript, verbatim:\n<<<\n"+b.String()+"\n>>>",
    "session_facts", distillSchema)
  if err != nil {
    d.log.Warn("fact extraction failed, no facts this session", "session_id", session, "error", err)
    return nil
  }

  encoded, err := json.Marshal(raw)
  if err != nil {
    d.log.Warn("fact extraction returned unencodable output", "session_id", session, "error", err)
    return nil
  }
  var parsed struct {
    Facts []distilledFact `json:"facts"`
  }
  if err := json.Unmarshal(encoded, &parsed); err != nil {
    d.log.Warn("fact extraction output failed schema parse", "session_id", session, "error", err)
    return nil
  }
  return parsed.Facts
}

func atomImportance(factType string) int {
  switch factType {
  case "allergy", "doctor_order", "contact", "condition":
    return 4
  default:
    return 3
  }
}

func nonEmptyQuotes(evidence []string, max int) []string {
  out := make([]string, 0, max)
  for _, quote := range evidence {
    quote = strings.TrimSpace(quote)
    if quote == "" {
      continue
    }
    out = append(out, quote)
    if len(out) == max {
      break
    }
  }
  return out
}
