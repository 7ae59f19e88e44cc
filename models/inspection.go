package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AdminEdit is one admin correction applied to an inspection item after the
// inspection was filed. EditDate is a unix timestamp in seconds.
type AdminEdit struct {
	Action    string `json:"action"`
	AdminName string `json:"admin_name"`
	AdminUid  string `json:"admin_uid"`
	EditDate  int64  `json:"edit_date"`
}

type ItemPhoto struct {
	Caption     string `json:"caption,omitempty"`
	DownloadURL string `json:"download_url"`
}

// InspectionItem is one line of a filed inspection. DeficientIndexes carries
// the template-configured main-input selections that flag the item deficient.
type InspectionItem struct {
	ID                 string               `json:"id"`
	Index              int                  `json:"index"`
	Title              string               `json:"title"`
	ItemType           string               `json:"item_type"` // main | text_input | signature
	SectionId          string               `json:"section_id"`
	MainInputType      string               `json:"main_input_type,omitempty"`
	MainInputSelected  bool                 `json:"main_input_selected"`
	MainInputSelection int                  `json:"main_input_selection"`
	DeficientIndexes   []int                `json:"deficient_indexes,omitempty"`
	TextInputValue     string               `json:"text_input_value,omitempty"`
	InspectorNotes     string               `json:"inspector_notes,omitempty"`
	AdminEdits         map[string]AdminEdit `json:"admin_edits,omitempty"`
	Photos             map[string]ItemPhoto `json:"photos,omitempty"`
}

type InspectionSection struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	Title       string `json:"title"`
	SectionType string `json:"section_type"` // single | multi
}

// InspectionTemplate is the template snapshot embedded in a filed inspection.
type InspectionTemplate struct {
	Items               map[string]InspectionItem    `json:"items"`
	Sections            map[string]InspectionSection `json:"sections"`
	TrackDeficientItems bool                         `json:"track_deficient_items"`
}

type Inspection struct {
	ID                  string           `gorm:"primaryKey;size:64" json:"id"`
	PropertyId          string           `gorm:"size:64;not null;index" json:"property"`
	TemplateName        string           `gorm:"size:255" json:"template_name"`
	TemplateCategory    string           `gorm:"size:64" json:"template_category"`
	Inspector           string           `gorm:"size:64;index" json:"inspector"`
	InspectorName       string           `gorm:"size:255" json:"inspector_name"`
	CreationDate        time.Time        `gorm:"not null;index" json:"creation_date"`
	UpdatedLastDate     time.Time        `gorm:"not null" json:"updated_last_date"`
	Score               *decimal.Decimal `gorm:"type:decimal(20,4)" json:"score"`
	DeficienciesExist   bool             `gorm:"not null;default:false" json:"deficiencies_exist"`
	ItemsCompleted      int              `gorm:"not null;default:0" json:"items_completed"`
	TotalItems          int              `gorm:"not null;default:0" json:"total_items"`
	InspectionCompleted bool             `gorm:"not null;default:false;index" json:"inspection_completed"`
	TemplateJSON        []byte           `gorm:"type:mediumblob" json:"-"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Inspection) Template() InspectionTemplate {
	var tpl InspectionTemplate
	if len(i.TemplateJSON) > 0 {
		_ = json.Unmarshal(i.TemplateJSON, &tpl)
	}
	return tpl
}

func (i *Inspection) SetTemplate(tpl InspectionTemplate) error {
	data, err := json.Marshal(tpl)
	if err != nil {
		return err
	}
	i.TemplateJSON = data
	return nil
}

// NormalizedScore clamps a nil or negative score to zero. Every proxy target
// projects through this so no consumer ever sees a null score.
func (i *Inspection) NormalizedScore() decimal.Decimal {
	if i.Score == nil || i.Score.IsNegative() {
		return decimal.Zero
	}
	return *i.Score
}

// PropertyInspectionProxy is the property-scoped denormalized copy of an
// inspection. The property id is the scoping column, never a projected field.
// Rows here are derived, never authoritative; they are rewritten in full on
// every sync and may be dropped and rebuilt at any time.
type PropertyInspectionProxy struct {
	ID                  string          `gorm:"primaryKey;size:64" json:"id"`
	PropertyId          string          `gorm:"size:64;not null;index" json:"-"`
	TemplateName        string          `gorm:"size:255" json:"template_name"`
	TemplateCategory    string          `gorm:"size:64" json:"template_category"`
	Inspector           string          `gorm:"size:64" json:"inspector"`
	InspectorName       string          `gorm:"size:255" json:"inspector_name"`
	CreationDate        time.Time       `json:"creation_date"`
	UpdatedLastDate     time.Time       `json:"updated_last_date"`
	Score               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"score"`
	DeficienciesExist   bool            `gorm:"not null;default:false" json:"deficiencies_exist"`
	ItemsCompleted      int             `gorm:"not null;default:0" json:"items_completed"`
	TotalItems          int             `gorm:"not null;default:0" json:"total_items"`
	InspectionCompleted bool            `gorm:"not null;default:false" json:"inspection_completed"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CompletedInspectionProxy exists iff the source inspection has
// inspectionCompleted == true. itemsCompleted/totalItems are excluded from
// this target (a completed inspection is by definition fully itemized).
type CompletedInspectionProxy struct {
	ID               string          `gorm:"primaryKey;size:64" json:"id"`
	PropertyId       string          `gorm:"size:64;not null;index" json:"property"`
	TemplateName     string          `gorm:"size:255" json:"template_name"`
	TemplateCategory string          `gorm:"size:64" json:"template_category"`
	Inspector        string          `gorm:"size:64" json:"inspector"`
	InspectorName    string          `gorm:"size:255" json:"inspector_name"`
	CreationDate     time.Time       `json:"creation_date"`
	UpdatedLastDate  time.Time       `json:"updated_last_date"`
	Score            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"score"`
	DeficienciesExist bool           `gorm:"not null;default:false" json:"deficiencies_exist"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
