package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Property counters are pure functions of the property's completed inspections
// and their deficiencies. They are never incremented in place; the aggregation
// workflow always recomputes them from scratch and writes them in one update.
type Property struct {
	ID     string  `gorm:"primaryKey;size:64" json:"id"`
	Name   string  `gorm:"size:255;not null" json:"name" binding:"required"`
	TeamId *string `gorm:"size:64;index" json:"team"`
	// TemplatesJSON materializes {templateId: true} membership.
	TemplatesJSON []byte `gorm:"type:blob" json:"-"`

	NumOfInspections                      int             `gorm:"not null;default:0" json:"num_of_inspections"`
	LastInspectionScore                   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"last_inspection_score"`
	LastInspectionDate                    *time.Time      `json:"last_inspection_date"`
	NumOfDeficientItems                   int             `gorm:"not null;default:0" json:"num_of_deficient_items"`
	NumOfRequiredActionsForDeficientItems int             `gorm:"not null;default:0" json:"num_of_required_actions_for_deficient_items"`
	NumOfFollowUpActionsForDeficientItems int             `gorm:"not null;default:0" json:"num_of_follow_up_actions_for_deficient_items"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Property) Templates() map[string]bool {
	m := map[string]bool{}
	if len(p.TemplatesJSON) > 0 {
		_ = json.Unmarshal(p.TemplatesJSON, &m)
	}
	if m == nil {
		// A stored JSON null unmarshals the map back to nil.
		m = map[string]bool{}
	}
	return m
}

type Team struct {
	ID   string `gorm:"primaryKey;size:64" json:"id"`
	Name string `gorm:"size:255;not null" json:"name"`
	// PropertiesJSON materializes {propertyId: true} membership.
	PropertiesJSON []byte    `gorm:"type:blob" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Team) Properties() map[string]bool {
	m := map[string]bool{}
	if len(t.PropertiesJSON) > 0 {
		_ = json.Unmarshal(t.PropertiesJSON, &m)
	}
	if m == nil {
		m = map[string]bool{}
	}
	return m
}

func (t *Team) SetProperties(m map[string]bool) {
	data, _ := json.Marshal(m)
	t.PropertiesJSON = data
}
