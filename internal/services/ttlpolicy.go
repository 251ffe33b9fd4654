package services

import (
  "os"

  "gopkg.in/yaml.v3"

  "github.com/yungbote/carebridge-backend/internal/logger"
)

// TTLPolicy maps a distilled fact type to its retention in days.
// 0 means the fact never expires.
type TTLPolicy map[string]int

const ttlPolicyFallbackDays = 365

// DefaultTTLPolicy: identity-level facts are permanent, current medical
// instructions survive half a year, schedules and reminders churn fastest.
func DefaultTTLPolicy() TTLPolicy {
  return TTLPolicy{
    "info":         0,
    "allergy":      0,
    "condition":    0,
    "contact":      0,
    "doctor_order": 180,
    "preference":   365,
    "schedule":     90,
    "reminder":     90,
    "constraint":   365,
    "note":         365,
  }
}

// LoadTTLPolicy overlays a YAML file (type -> days) onto the defaults.
// A missing or unreadable file just yields the defaults.
func LoadTTLPolicy(path string, log *logger.Logger) TTLPolicy {
  policy := DefaultTTLPolicy()
  if path == "" {
    return policy
  }
  raw, err := os.ReadFile(path)
  if err != nil {
    if log != nil {
      log.Warn("TTL policy file unreadable, using defaults", "path", path, "error", err)
    }
    return policy
  }
  overrides := TTLPolicy{}
  if err := yaml.Unmarshal(raw, &overrides); err != nil {
    if log != nil {
      log.Warn("TTL policy file malformed, using defaults", "path", path, "error", err)
    }
    return policy
  }
  for factType, days := range overrides {
    if days < 0 {
      continue
    }
    policy[factType] = days
  }
  return policy
}

// Days returns the retention for a fact type, falling back for types the
// table does not know.
func (p TTLPolicy) Days(factType string) (int, bool) {
  days, ok := p[factType]
  if !ok {
    return ttlPolicyFallbackDays, false
  }
  return days, true
}

// ExpireAtMS converts a retention into an absolute epoch-ms expiry.
// Zero days is the "never expires" sentinel and maps to 0.
func ExpireAtMS(nowMS int64, ttlDays int) int64 {
  if ttlDays <= 0 {
    return 0
  }
  return nowMS + int64(ttlDays)*86_400_000
}
