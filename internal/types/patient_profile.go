package types

import (
  "time"
  "gorm.io/gorm"
  "github.com/google/uuid"
)

// PatientProfile is the durable identity behind a session key. Facts is a
// newline-separated digest of distilled atoms, kept as a human-readable
// fallback when the vector store is unavailable.
type PatientProfile struct {
  gorm.Model
  ID              uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  SessionKey      string     `gorm:"uniqueIndex;not null;column:session_key" json:"session_key"`
  DisplayName     string     `gorm:"column:display_name" json:"display_name"`
  Persona         string     `gorm:"type:text;column:persona" json:"persona"`
  Facts           string     `gorm:"type:text;column:facts" json:"facts"`
  CaregiverPhone  string     `gorm:"column:caregiver_phone" json:"caregiver_phone"`
  LastContactAt   *time.Time `gorm:"column:last_contact_at" json:"last_contact_at"`
  CreatedAt       time.Time  `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt       time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (PatientProfile) TableName() string {
  return "patient_profile"
}
