package repos

import (
  "context"
  "strings"
  "time"

  "gorm.io/gorm"
  "gorm.io/gorm/clause"
  "github.com/yungbote/carebridge-backend/internal/logger"
  "github.com/yungbote/carebridge-backend/internal/types"
)

type ProfileRepo interface {
  GetBySessionKey(ctx context.Context, tx *gorm.DB, sessionKey string) (*types.PatientProfile, error)
  TouchLastContact(ctx context.Context, tx *gorm.DB, sessionKey string) error
  AppendFacts(ctx context.Context, tx *gorm.DB, sessionKey string, facts []string) error
}

type profileRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
  repoLog := baseLog.With("repo", "ProfileRepo")
  return &profileRepo{db: db, log: repoLog}
}

func (pr *profileRepo) GetBySessionKey(ctx context.Context, tx *gorm.DB, sessionKey string) (*types.PatientProfile, error) {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  var result types.PatientProfile
  if err := transaction.WithContext(ctx).
    Where("session_key = ?", sessionKey).
    First(&result).Error; err != nil {
    return nil, err
  }
  return &result, nil
}

// TouchLastContact upserts so an unknown session key still gets a row.
func (pr *profileRepo) TouchLastContact(ctx context.Context, tx *gorm.DB, sessionKey string) error {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  now := time.Now()
  profile := types.PatientProfile{
    SessionKey:    sessionKey,
    LastContactAt: &now,
  }
  return transaction.WithContext(ctx).
    Clauses(clause.OnConflict{
      Columns:   []clause.Column{{Name: "session_key"}},
      DoUpdates: clause.Assignments(map[string]any{"last_contact_at": now, "updated_at": now}),
    }).
    Create(&profile).Error
}

func (pr *profileRepo) AppendFacts(ctx context.Context, tx *gorm.DB, sessionKey string, facts []string) error {
  transaction := tx
  if transaction == nil {
    transaction = pr.db
  }

  cleaned := make([]string, 0, len(facts))
  for _, f := range facts {
    if f = strings.TrimSpace(f); f != "" {
      cleaned = append(cleaned, f)
    }
  }
  if len(cleaned) == 0 {
    return nil
  }

  return transaction.WithContext(ctx).Transaction(func(innerTx *gorm.DB) error {
    var profile types.PatientProfile
    if err := innerTx.
      Clauses(clause.Locking{Strength: "UPDATE"}).
      Where("session_key = ?", sessionKey).
      First(&profile).Error; err != nil {
      return err
    }

    existing := map[string]bool{}
    for _, line := range strings.Split(profile.Facts, "\n") {
      if line = strings.TrimSpace(line); line != "" {
        existing[line] = true
      }
    }
    merged := profile.Facts
    for _, f := range cleaned {
      if existing[f] {
        continue
      }
      if merged != "" {
        merged += "\n"
      }
      merged += f
      existing[f] = true
    }
    if merged == profile.Facts {
      return nil
    }

    return innerTx.Model(&profile).Update("facts", merged).Error
  })
}
