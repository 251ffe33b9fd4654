package services

import (
  "os"
  "path/filepath"
  "testing"
)

func TestTTLPolicyDays(t *testing.T) {
  policy := DefaultTTLPolicy()

  days, known := policy.Days("allergy")
  if !known || days != 0 {
    t.Fatalf("allergy: want=(0,true) got=(%d,%v)", days, known)
  }
  days, known = policy.Days("doctor_order")
  if !known || days != 180 {
    t.Fatalf("doctor_order: want=(180,true) got=(%d,%v)", days, known)
  }
  days, known = policy.Days("favorite_color")
  if known || days != 365 {
    t.Fatalf("unknown type: want=(365,false) got=(%d,%v)", days, known)
  }
}

func TestExpireAtMS(t *testing.T) {
  nowMS := int64(1_700_000_000_000)

  if got := ExpireAtMS(nowMS, 0); got != 0 {
    t.Fatalf("never-expires: want=0 got=%d", got)
  }
  if got := ExpireAtMS(nowMS, -1); got != 0 {
    t.Fatalf("negative days: want=0 got=%d", got)
  }
  want := nowMS + 90*86_400_000
  if got := ExpireAtMS(nowMS, 90); got != want {
    t.Fatalf("90 days: want=%d got=%d", want, got)
  }
}

func TestLoadTTLPolicyOverlay(t *testing.T) {
  log := mustTestLogger(t)
  path := filepath.Join(t.TempDir(), "ttl.yaml")
  raw := "doctor_order: 30\nvacation_plan: 14\nschedule: -5\n"
  if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
    t.Fatalf("write policy: %v", err)
  }

  policy := LoadTTLPolicy(path, log)

  if days, _ := policy.Days("doctor_order"); days != 30 {
    t.Fatalf("override: want=30 got=%d", days)
  }
  if days, known := policy.Days("vacation_plan"); !known || days != 14 {
    t.Fatalf("new type: want=(14,true) got=(%d,%v)", days, known)
  }
  // Negative overrides are ignored, defaults win.
  if days, _ := policy.Days("schedule"); days != 90 {
    t.Fatalf("negative override: want=90 got=%d", days)
  }
  if days, _ := policy.Days("allergy"); days != 0 {
    t.Fatalf("untouched default: want=0 got=%d", days)
  }
}

func TestLoadTTLPolicyMissingFile(t *testing.T) {
  policy := LoadTTLPolicy(filepath.Join(t.TempDir(), "absent.yaml"), mustTestLogger(t))
  if days, _ := policy.Days("doctor_order"); days != 180 {
    t.Fatalf("missing file fallback: want=180 got=%d", days)
  }
}
