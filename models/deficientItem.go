package models

import (
	"encoding/json"
	"time"
)

// StateHistoryEntry records one lifecycle transition of a deficient item.
type StateHistoryEntry struct {
	State     DeficiencyState `json:"state"`
	User      string          `json:"user"`
	CreatedAt int64           `json:"created_at"`
}

// CompletedPhoto is a photo attached when work on a deficiency is completed.
// TrelloCardAttachment holds the external attachment id once mirrored to the
// card; it is cleared when the card is found deleted.
type CompletedPhoto struct {
	Caption              string `json:"caption,omitempty"`
	DownloadURL          string `json:"download_url"`
	StorageDBPath        string `json:"storage_db_path,omitempty"`
	TrelloCardAttachment string `json:"trello_card_attachment,omitempty"`
}

// DeficientItem tracks one flagged inspection item through its lifecycle.
// Identity is (property, inspection, item); one row exists per inspection item
// whose main-input selection matches a template-configured deficient index.
type DeficientItem struct {
	ID           string          `gorm:"primaryKey;size:64" json:"id"`
	PropertyId   string          `gorm:"size:64;not null;index" json:"property"`
	InspectionId string          `gorm:"size:64;not null;index:uniq_def_item,unique" json:"inspection"`
	ItemId       string          `gorm:"size:64;not null;index:uniq_def_item,unique" json:"item"`
	State        DeficiencyState `gorm:"size:32;not null;index" json:"state"`

	StateHistoryJSON []byte     `gorm:"type:blob" json:"-"`
	CurrentDueDate   *time.Time `json:"current_due_date"`
	PlanToFix        string     `gorm:"type:text" json:"current_plan_to_fix"`
	Archive          bool       `gorm:"not null;default:false" json:"archive"`

	TrelloCardURL       string `gorm:"size:512" json:"trello_card_url"`
	CompletedPhotosJSON []byte `gorm:"type:blob" json:"-"`

	// Attributes re-copied from the source inspection item on every
	// inspection write (see the deficiency sync workflow for the fixed map).
	ItemTitle               string    `gorm:"size:255" json:"item_title"`
	SectionTitle            string    `gorm:"size:255" json:"section_title"`
	SectionSubtitle         string    `gorm:"size:255" json:"section_subtitle"`
	ItemMainInputType       string    `gorm:"size:64" json:"item_main_input_type"`
	ItemMainInputSelection  int       `gorm:"not null;default:0" json:"item_main_input_selection"`
	ItemInspectorNotes      string    `gorm:"type:text" json:"item_inspector_notes"`
	ItemPhotosJSON          []byte    `gorm:"type:blob" json:"-"`
	ItemAdminEditsJSON      []byte    `gorm:"type:blob" json:"-"`
	ItemDataLastUpdatedDate time.Time `json:"item_data_last_updated_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *DeficientItem) StateHistory() map[string]StateHistoryEntry {
	m := map[string]StateHistoryEntry{}
	if len(d.StateHistoryJSON) > 0 {
		_ = json.Unmarshal(d.StateHistoryJSON, &m)
	}
	if m == nil {
		// A stored JSON null unmarshals the map back to nil.
		m = map[string]StateHistoryEntry{}
	}
	return m
}

func (d *DeficientItem) SetStateHistory(m map[string]StateHistoryEntry) {
	data, _ := json.Marshal(m)
	d.StateHistoryJSON = data
}

func (d *DeficientItem) CompletedPhotos() map[string]CompletedPhoto {
	m := map[string]CompletedPhoto{}
	if len(d.CompletedPhotosJSON) > 0 {
		_ = json.Unmarshal(d.CompletedPhotosJSON, &m)
	}
	if m == nil {
		m = map[string]CompletedPhoto{}
	}
	return m
}

func (d *DeficientItem) SetCompletedPhotos(m map[string]CompletedPhoto) {
	data, _ := json.Marshal(m)
	d.CompletedPhotosJSON = data
}

func (d *DeficientItem) ItemPhotos() map[string]ItemPhoto {
	m := map[string]ItemPhoto{}
	if len(d.ItemPhotosJSON) > 0 {
		_ = json.Unmarshal(d.ItemPhotosJSON, &m)
	}
	if m == nil {
		m = map[string]ItemPhoto{}
	}
	return m
}

func (d *DeficientItem) ItemAdminEdits() map[string]AdminEdit {
	m := map[string]AdminEdit{}
	if len(d.ItemAdminEditsJSON) > 0 {
		_ = json.Unmarshal(d.ItemAdminEditsJSON, &m)
	}
	if m == nil {
		m = map[string]AdminEdit{}
	}
	return m
}

// ArchivedDeficientItem is the archive namespace for deficiencies removed via
// the archive flag. It is a side-channel copy, not a lifecycle state.
type ArchivedDeficientItem struct {
	ID           string          `gorm:"primaryKey;size:64" json:"id"`
	PropertyId   string          `gorm:"size:64;not null;index" json:"property"`
	InspectionId string          `gorm:"size:64;not null;index" json:"inspection"`
	ItemId       string          `gorm:"size:64;not null" json:"item"`
	State        DeficiencyState `gorm:"size:32;not null" json:"state"`
	PayloadJSON  []byte          `gorm:"type:blob" json:"-"`
	ArchivedAt   time.Time       `gorm:"autoCreateTime" json:"archived_at"`
}

// ArchiveDeficientItem snapshots the full row into the archive namespace.
func ArchiveDeficientItem(d *DeficientItem) (*ArchivedDeficientItem, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return &ArchivedDeficientItem{
		ID:           d.ID,
		PropertyId:   d.PropertyId,
		InspectionId: d.InspectionId,
		ItemId:       d.ItemId,
		State:        d.State,
		PayloadJSON:  payload,
	}, nil
}
