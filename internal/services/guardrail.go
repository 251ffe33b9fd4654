package services

import (
  "context"
  "fmt"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

type GuardrailVerdict struct {
  Blocked bool
  Reason  string
}

// SafetyClassifier screens patient input before any reply strategy runs. A
// classifier failure never blocks the conversation.
type SafetyClassifier interface {
  Classify(ctx context.Context, text string) GuardrailVerdict
}

type safetyClassifier struct {
  log *logger.Logger
  ai  OpenAIClient
}

func NewSafetyClassifier(log *logger.Logger, ai OpenAIClient) (SafetyClassifier, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  if ai == nil {
    return nil, fmt.Errorf("openai client required")
  }
  return &safetyClassifier{log: log.With("service", "SafetyClassifier"), ai: ai}, nil
}

const guardrailSystemPrompt = `You screen messages sent to an elderly-care companion bot.
Block a message only if it asks the bot to give medication dosing changes, to
contradict a doctor's order, or to help conceal a health emergency.
Ordinary health questions, complaints, and emotional messages are allowed.`

var guardrailSchema = map[string]any{
  "type":                 "object",
  "additionalProperties": false,
  "required":             []string{"blocked", "reason"},
  "properties": map[string]any{
    "blocked": map[string]any{"type": "boolean"},
    "reason":  map[string]any{"type": "string"},
  },
}

func (s *safetyClassifier) Classify(ctx context.Context, text string) GuardrailVerdict {
  out, err := s.ai.GenerateJSON(ctx, guardrailSystemPrompt, text, "guardrail_verdict", guardrailSchema)
  if err != nil {
    s.log.Warn("guardrail check failed; allowing message", "error", err)
    return GuardrailVerdict{}
  }
  blocked, _ := out["blocked"].(bool)
  reason, _ := out["reason"].(string)
  return GuardrailVerdict{Blocked: blocked, Reason: reason}
}
