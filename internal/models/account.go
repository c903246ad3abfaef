package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account roles. Room agents get a role-restricted account scoped to a
// single room; disabling an account revokes it without deleting history.
const (
	RoleDisabled = "disabled"
	RoleRoom     = "room"
	RoleAdmin    = "admin"
)

// Account represents an authentication principal: an operator or a
// room's self-reporting agent.
type Account struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name         string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	Role         string         `gorm:"type:varchar(16);not null" json:"role"`
	PasswordHash string         `gorm:"not null" json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
