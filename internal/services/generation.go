package services

import (
  "context"
  "fmt"
  "strings"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// FallbackReply is what the patient sees when every strategy fails. It must
// never be an error string.
const FallbackReply = "I'm sorry, I'm having a little trouble right now. Could you say that again in a moment?"

type ReplyRequest struct {
  Session     string
  RequestID   string
  Input       string
  Context     string
  Blocked     bool
  BlockReason string
}

// ReplyStrategy produces a reply or an error. Strategies are tried in order;
// the first success wins. Selection is explicit rather than driven by panic
// or sentinel errors.
type ReplyStrategy interface {
  Name() string
  Reply(ctx context.Context, req ReplyRequest) (string, error)
}

// -------------------- companion (primary) --------------------

type companionStrategy struct {
  log    *logger.Logger
  ai     OpenAIClient
  alerts AlertPublisher
}

func NewCompanionStrategy(log *logger.Logger, ai OpenAIClient, alerts AlertPublisher) (ReplyStrategy, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  if ai == nil {
    return nil, fmt.Errorf("openai client required")
  }
  if alerts == nil {
    return nil, fmt.Errorf("alert publisher required")
  }
  return &companionStrategy{
    log:    log.With("service", "CompanionStrategy"),
    ai:     ai,
    alerts: alerts,
  }, nil
}

func (s *companionStrategy) Name() string { return "companion" }

const companionSystemPrompt = `You are a warm, patient care companion for an elderly person.
Keep replies short, concrete, and kind. Never change medication instructions.
If the message suggests a medical emergency (chest pain, a fall, trouble
breathing, stroke signs), set emergency=true and tell the patient you are
notifying their caregiver.`

var companionSchema = map[string]any{
  "type":                 "object",
  "additionalProperties": false,
  "required":             []string{"reply", "emergency", "emergency_reason"},
  "properties": map[string]any{
    "reply":            map[string]any{"type": "string"},
    "emergency":        map[string]any{"type": "boolean"},
    "emergency_reason": map[string]any{"type": "string"},
  },
}

func (s *companionStrategy) Reply(ctx context.Context, req ReplyRequest) (string, error) {
  if req.Blocked {
    return s.blockedReply(ctx, req)
  }

  var user strings.Builder
  if req.Context != "" {
    user.WriteString(req.Context)
    user.WriteString("\n\n")
  }
  user.WriteString("Patient says: ")
  user.WriteString(req.Input)

  out, err := s.ai.GenerateJSON(ctx, companionSystemPrompt, user.String(), "companion_reply", companionSchema)
  if err != nil {
    return "", err
  }
  reply, _ := out["reply"].(string)
  if strings.TrimSpace(reply) == "" {
    return "", fmt.Errorf("companion produced an empty reply")
  }

  if emergency, _ := out["emergency"].(bool); emergency {
    reason, _ := out["emergency_reason"].(string)
    if pubErr := s.alerts.Publish(ctx, req.Session, reason, req.RequestID); pubErr != nil {
      s.log.Error("failed to publish emergency alert", "session_id", req.Session, "error", pubErr)
    }
  }
  return reply, nil
}

// blockedReply acknowledges without engaging with the blocked request.
func (s *companionStrategy) blockedReply(ctx context.Context, req ReplyRequest) (string, error) {
  system := `The patient's message was flagged and must not be acted on.
Reason: ` + req.BlockReason + `
Respond with one short, gentle sentence declining, and suggest they talk to
their doctor or caregiver. Do not repeat the flagged content.`
  reply, err := s.ai.Chat(ctx, system, req.Input, 0.3)
  if err != nil {
    return "", err
  }
  if strings.TrimSpace(reply) == "" {
    return "", fmt.Errorf("empty blocked-path reply")
  }
  return reply, nil
}

// -------------------- direct (fallback) --------------------

// directStrategy is a plain completion with no structured output and no
// emergency detection. It exists so a schema or parsing failure upstream
// still yields a human answer.
type directStrategy struct {
  log *logger.Logger
  ai  OpenAIClient
}

func NewDirectStrategy(log *logger.Logger, ai OpenAIClient) (ReplyStrategy, error) {
  if log == nil {
    return nil, fmt.Errorf("logger required")
  }
  if ai == nil {
    return nil, fmt.Errorf("openai client required")
  }
  return &directStrategy{log: log.With("service", "DirectStrategy"), ai: ai}, nil
}

func (s *directStrategy) Name() string { return "direct" }

func (s *directStrategy) Reply(ctx context.Context, req ReplyRequest) (string, error) {
  if req.Blocked {
    return "I can't help with that one. It might be best to check with your doctor or caregiver.", nil
  }
  var user strings.Builder
  if req.Context != "" {
    user.WriteString(req.Context)
    user.WriteString("\n\n")
  }
  user.WriteString(req.Input)

  system := "You are a warm, patient care companion for an elderly person. Keep replies short and kind."
  reply, err := s.ai.Chat(ctx, system, user.String(), 0.7)
  if err != nil {
    return "", err
  }
  if strings.TrimSpace(reply) == "" {
    return "", fmt.Errorf("empty direct reply")
  }
  return reply, nil
}
