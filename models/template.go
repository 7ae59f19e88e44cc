package models

import "time"

type Template struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	// Category references a TemplateCategory id. Category deletion strips this
	// field (and its proxy copies), never the template itself.
	Category            string    `gorm:"size:64;index" json:"category"`
	TrackDeficientItems bool      `gorm:"not null;default:false" json:"track_deficient_items"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TemplateCategory struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TemplateListProxy is the global read-optimized template list. CategoryName
// is folded in by a point read of the category at sync time, never cached.
type TemplateListProxy struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"size:255" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	Category     string    `gorm:"size:64;index" json:"category"`
	CategoryName string    `gorm:"size:255" json:"category_name"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PropertyTemplateProxy scopes the template list to a property's template
// membership map.
type PropertyTemplateProxy struct {
	PropertyId   string    `gorm:"primaryKey;size:64" json:"-"`
	TemplateId   string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"size:255" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	Category     string    `gorm:"size:64;index" json:"category"`
	CategoryName string    `gorm:"size:255" json:"category_name"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
