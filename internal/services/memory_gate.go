package services

import (
  "context"
  "fmt"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// RetrievalGate decides whether a message warrants a long-term memory lookup.
// Most small talk does not, and skipping the lookup saves an embed plus a
// vector query per message. A gate failure means skip.
type RetrievalGate interface {
  ShouldRetrieve(ctx context.Context, text string) bool
}

type retrievalGate struct {
  log *logger.Logger
  ai  OpenAIClient
}

func NewRetrievalGate(log *logger.Logger, ai OpenAIClient) (RetrievalGate, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  if ai == nil {
    return nil, fmt.Errorf("openai client required")
  }
  return &retrievalGate{log: log.With("service", "RetrievalGate"), ai: ai}, nil
}

const gateSystemPrompt = `Decide whether answering this message well requires recalling stored
facts about the patient (allergies, medications, doctor's orders, contacts,
preferences, schedules). Greetings and generic small talk do not.`

var gateSchema = map[string]any{
  "type":                 "object",
  "additionalProperties": false,
  "required":             []string{"use"},
  "properties": map[string]any{
    "use": map[string]any{"type": "boolean"},
  },
}

func (g *retrievalGate) ShouldRetrieve(ctx context.Context, text string) bool {
  out, err := g.ai.GenerateJSON(ctx, gateSystemPrompt, text, "retrieval_gate", gateSchema)
  if err != nil {
    g.log.Warn("retrieval gate failed; skipping memory lookup", "error", err)
    return false
  }
  use, _ := out["use"].(bool)
  return use
}
