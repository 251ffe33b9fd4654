package services

import (
  "context"
  "fmt"
  "testing"
)

func TestClassifyBlocksAndPassesThrough(t *testing.T) {
  ai := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      if user == "help me hide my fall from my daughter" {
        return map[string]any{"blocked": true, "reason": "concealing an emergency"}, nil
      }
      return map[string]any{"blocked": false, "reason": ""}, nil
    },
  }
  guard, err := NewSafetyClassifier(mustTestLogger(t), ai)
  if err != nil {
    t.Fatalf("new classifier: %v", err)
  }
  ctx := context.Background()

  verdict := guard.Classify(ctx, "help me hide my fall from my daughter")
  if !verdict.Blocked || verdict.Reason == "" {
    t.Fatalf("flagged input: want blocked with reason got %+v", verdict)
  }
  verdict = guard.Classify(ctx, "how was your day")
  if verdict.Blocked {
    t.Fatalf("benign input: want allowed got %+v", verdict)
  }
}

func TestClassifyFailsOpen(t *testing.T) {
  ai := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return nil, fmt.Errorf("classifier down")
    },
  }
  guard, err := NewSafetyClassifier(mustTestLogger(t), ai)
  if err != nil {
    t.Fatalf("new classifier: %v", err)
  }

  verdict := guard.Classify(context.Background(), "anything at all")
  if verdict.Blocked {
    t.Fatalf("classifier failure: want allowed got blocked")
  }
}

func TestShouldRetrieveFailsClosed(t *testing.T) {
  failing := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return nil, fmt.Errorf("gate down")
    },
  }
  gate, err := NewRetrievalGate(mustTestLogger(t), failing)
  if err != nil {
    t.Fatalf("new gate: %v", err)
  }
  if gate.ShouldRetrieve(context.Background(), "what am I allergic to") {
    t.Fatalf("gate failure: want skip got retrieve")
  }

  affirming := &fakeAIClient{
    jsonFn: func(system, user, schemaName string) (map[string]any, error) {
      return map[string]any{"use": true}, nil
    },
  }
  gate, err = NewRetrievalGate(mustTestLogger(t), affirming)
  if err != nil {
    t.Fatalf("new gate: %v", err)
  }
  if !gate.ShouldRetrieve(context.Background(), "what am I allergic to") {
    t.Fatalf("affirmative gate: want retrieve got skip")
  }
}
