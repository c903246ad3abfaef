package models

import (
	"time"

	"github.com/google/uuid"
)

// Room statuses, in forward order. destroyed and failed are terminal.
const (
	StatusSubmitted       = "submitted"
	StatusIPAcquired      = "ip_acquired"
	StatusRecordCreated   = "record_created"
	StatusProxyReady      = "proxy_ready"
	StatusReady           = "ready"
	StatusDecommissioning = "decommissioning"
	StatusRecordDestroyed = "record_destroyed"
	StatusDestroyed       = "destroyed"
	StatusFailed          = "failed"
)

// Step values for the fixed forward states. Step is a monotonic change
// counter, not an ordinal with business meaning; StepFailed is the only
// value a room's step may decrease to.
const (
	StepFailed        = -1
	StepSubmitted     = 1
	StepIPAcquired    = 2
	StepRecordCreated = 3
	StepProxyReady    = 4
)

// Room is a tracked ephemeral virtual-desktop session plus its backing
// compute instance, DNS record and scoped credential.
type Room struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"name"`

	Status string `gorm:"type:varchar(32);index;not null" json:"status"`
	Step   int    `gorm:"not null" json:"step"`

	// Version guards read-modify-write races; every checked save bumps it.
	Version int `gorm:"not null;default:0" json:"-"`

	InstanceID  int64  `gorm:"index" json:"instance_id,omitempty"`
	IP          string `gorm:"type:varchar(45)" json:"ip,omitempty"`
	URL         string `json:"url,omitempty"`
	DNSRecordID int64  `json:"dns_record_id,omitempty"`

	Image      string `gorm:"not null" json:"image"`
	Resolution string `gorm:"not null" json:"resolution"`
	FPS        int    `gorm:"not null" json:"fps"`

	// Session secrets; blanked once the room is destroyed.
	Password      string `json:"-"`
	AdminPassword string `json:"-"`

	// CallbackURL, when set, receives a webhook on every externally
	// visible status change.
	CallbackURL string `json:"callback_url,omitempty"`

	// CredentialID references the scoped account issued for the room's
	// self-reporting agent.
	CredentialID *uuid.UUID `gorm:"type:uuid;index" json:"-"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the room can make no further forward progress.
func (r *Room) Terminal() bool {
	return r.Status == StatusDestroyed || r.Status == StatusFailed
}

// RoomState is the externally visible view of a room, returned by the
// status API and delivered to webhook receivers. It includes the session
// secrets: callers need them to join the room.
type RoomState struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	Step          int       `json:"step"`
	IP            string    `json:"ip,omitempty"`
	URL           string    `json:"url,omitempty"`
	Image         string    `json:"image"`
	Resolution    string    `json:"resolution"`
	FPS           int       `json:"fps"`
	Password      string    `json:"password,omitempty"`
	AdminPassword string    `json:"adminPassword,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// State returns the public view of the room.
func (r *Room) State() RoomState {
	return RoomState{
		ID:            r.ID,
		Name:          r.Name,
		Status:        r.Status,
		Step:          r.Step,
		IP:            r.IP,
		URL:           r.URL,
		Image:         r.Image,
		Resolution:    r.Resolution,
		FPS:           r.FPS,
		Password:      r.Password,
		AdminPassword: r.AdminPassword,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}
