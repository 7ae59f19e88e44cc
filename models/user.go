package models

import (
	"encoding/json"
	"time"
)

// User carries the nested team -> property membership map the notification and
// team-reassignment workflows maintain. Authentication lives outside the core.
type User struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	FirstName string `gorm:"size:255" json:"first_name"`
	LastName  string `gorm:"size:255" json:"last_name"`
	Email     string `gorm:"size:255;index" json:"email"`
	Admin     bool   `gorm:"not null;default:false" json:"admin"`
	Corporate bool   `gorm:"not null;default:false" json:"corporate"`
	// TeamsJSON materializes {teamId: {propertyId: true}}.
	TeamsJSON []byte `gorm:"type:blob" json:"-"`
	// PropertiesJSON materializes direct {propertyId: true} access grants.
	PropertiesJSON []byte `gorm:"type:blob" json:"-"`

	PushOptOut bool      `gorm:"not null;default:false" json:"push_opt_out"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Teams() map[string]map[string]bool {
	m := map[string]map[string]bool{}
	if len(u.TeamsJSON) > 0 {
		_ = json.Unmarshal(u.TeamsJSON, &m)
	}
	if m == nil {
		// A stored JSON null unmarshals the map back to nil.
		m = map[string]map[string]bool{}
	}
	return m
}

func (u *User) SetTeams(m map[string]map[string]bool) {
	data, _ := json.Marshal(m)
	u.TeamsJSON = data
}

func (u *User) Properties() map[string]bool {
	m := map[string]bool{}
	if len(u.PropertiesJSON) > 0 {
		_ = json.Unmarshal(u.PropertiesJSON, &m)
	}
	if m == nil {
		m = map[string]bool{}
	}
	return m
}

func (u *User) SetProperties(m map[string]bool) {
	data, _ := json.Marshal(m)
	u.PropertiesJSON = data
}

// RegistrationToken is one push-delivery token for a user's device. Tokens are
// pruned when the messaging service reports them stale.
type RegistrationToken struct {
	Token     string    `gorm:"primaryKey;size:255" json:"token"`
	UserId    string    `gorm:"size:64;not null;index" json:"user"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Notification is the durable record written before a push fan-out so delivery
// failures remain observable.
type Notification struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	Summary    string    `gorm:"type:text" json:"summary"`
	PropertyId string    `gorm:"size:64;index" json:"property"`
	Creator    string    `gorm:"size:64" json:"creator"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
