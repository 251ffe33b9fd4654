package services

import (
  "context"
  "testing"

  "github.com/alicebob/miniredis/v2"
  goredis "github.com/redis/go-redis/v9"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
  t.Helper()
  log, err := logger.New("development")
  if err != nil {
    t.Fatalf("logger.New: %v", err)
  }
  t.Cleanup(log.Sync)
  return log
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
  t.Helper()
  mr := miniredis.RunT(t)
  rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
  t.Cleanup(func() { rdb.Close() })
  return mr, rdb
}

// fakeAIClient lets each test script model behavior per call kind.
type fakeAIClient struct {
  chatFn  func(system, user string) (string, error)
  embedFn func(inputs []string) ([][]float32, error)
  jsonFn  func(system, user, schemaName string) (map[string]any, error)
}

func (f *fakeAIClient) Chat(ctx context.Context, system, user string, temperature float64) (string, error) {
  if f.chatFn == nil {
    return "ok", nil
  }
  return f.chatFn(system, user)
}

func (f *fakeAIClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
  if f.embedFn == nil {
    out := make([][]float32, len(inputs))
    for i := range inputs {
      out[i] = []float32{0.1, 0.2, 0.3}
    }
    return out, nil
  }
  return f.embedFn(inputs)
}

func (f *fakeAIClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
  if f.jsonFn == nil {
    return map[string]any{}, nil
  }
  return f.jsonFn(system, user, schemaName)
}
