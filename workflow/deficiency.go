package workflow

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// IsItemDeficient decides deficiency existence: an item produces (or keeps) a
// deficiency iff its main-input selection matches one of the
// template-configured deficient selection indices.
func IsItemDeficient(item models.InspectionItem) bool {
	if item.ItemType != "main" || !item.MainInputSelected {
		return false
	}
	for _, idx := range item.DeficientIndexes {
		if item.MainInputSelection == idx {
			return true
		}
	}
	return false
}

// DeficientItemsOf lists an inspection's deficient items ordered by item index
// so counting and derivation are deterministic.
func DeficientItemsOf(ins *models.Inspection) []models.InspectionItem {
	tpl := ins.Template()
	var items []models.InspectionItem
	for _, item := range tpl.Items {
		if IsItemDeficient(item) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Index != items[j].Index {
			return items[i].Index < items[j].Index
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// SectionSubtitle resolves the subtitle of a multi-item section: the value of
// the sibling text-input item with the lowest index in the same section.
func SectionSubtitle(tpl models.InspectionTemplate, item models.InspectionItem) string {
	section, ok := tpl.Sections[item.SectionId]
	if !ok || section.SectionType != "multi" {
		return ""
	}
	subtitle := ""
	bestIndex := -1
	for _, sibling := range tpl.Items {
		if sibling.SectionId != item.SectionId || sibling.ItemType != "text_input" {
			continue
		}
		if bestIndex == -1 || sibling.Index < bestIndex {
			bestIndex = sibling.Index
			subtitle = sibling.TextInputValue
		}
	}
	return subtitle
}

// ItemDataLastUpdated is the max edit_date across the item's admin edits, or
// the inspection's updatedLastDate when no edits exist.
func ItemDataLastUpdated(ins *models.Inspection, item models.InspectionItem) time.Time {
	var maxEdit int64
	for _, edit := range item.AdminEdits {
		if edit.EditDate > maxEdit {
			maxEdit = edit.EditDate
		}
	}
	if maxEdit > 0 {
		return time.Unix(maxEdit, 0).UTC()
	}
	return ins.UpdatedLastDate
}

// ApplyItemAttributes re-copies the fixed deficiency-attribute <- source-item
// map onto an existing or new deficiency. Returns true when anything changed
// so callers can skip no-op writes.
func ApplyItemAttributes(def *models.DeficientItem, ins *models.Inspection, item models.InspectionItem) bool {
	tpl := ins.Template()
	section := tpl.Sections[item.SectionId]

	photosJSON := encodeMap(item.Photos)
	editsJSON := encodeMap(item.AdminEdits)
	lastUpdated := ItemDataLastUpdated(ins, item)
	subtitle := SectionSubtitle(tpl, item)

	changed := false
	if def.ItemTitle != item.Title {
		def.ItemTitle = item.Title
		changed = true
	}
	if def.SectionTitle != section.Title {
		def.SectionTitle = section.Title
		changed = true
	}
	if def.SectionSubtitle != subtitle {
		def.SectionSubtitle = subtitle
		changed = true
	}
	if def.ItemMainInputType != item.MainInputType {
		def.ItemMainInputType = item.MainInputType
		changed = true
	}
	if def.ItemMainInputSelection != item.MainInputSelection {
		def.ItemMainInputSelection = item.MainInputSelection
		changed = true
	}
	if def.ItemInspectorNotes != item.InspectorNotes {
		def.ItemInspectorNotes = item.InspectorNotes
		changed = true
	}
	if string(def.ItemPhotosJSON) != string(photosJSON) {
		def.ItemPhotosJSON = photosJSON
		changed = true
	}
	if string(def.ItemAdminEditsJSON) != string(editsJSON) {
		def.ItemAdminEditsJSON = editsJSON
		changed = true
	}
	if !def.ItemDataLastUpdatedDate.Equal(lastUpdated) {
		def.ItemDataLastUpdatedDate = lastUpdated
		changed = true
	}
	return changed
}

// NewDeficientItem builds the initial record for a freshly-flagged item.
// Every new deficiency starts in requires-action.
func NewDeficientItem(ins *models.Inspection, item models.InspectionItem, now time.Time) *models.DeficientItem {
	def := &models.DeficientItem{
		ID:           uuid.NewString(),
		PropertyId:   ins.PropertyId,
		InspectionId: ins.ID,
		ItemId:       item.ID,
		State:        models.DeficiencyStateRequiresAction,
	}
	def.SetStateHistory(map[string]models.StateHistoryEntry{
		uuid.NewString(): {
			State:     models.DeficiencyStateRequiresAction,
			User:      ins.Inspector,
			CreatedAt: now.Unix(),
		},
	})
	ApplyItemAttributes(def, ins, item)
	return def
}

// SyncInspectionDeficiencies reconciles the deficiency set of one inspection
// against its current item data: creates records for newly-flagged items,
// re-copies attributes onto surviving ones, and removes (or archives, when the
// archive flag was requested) records whose item is no longer deficient.
func SyncInspectionDeficiencies(tx *gorm.DB, logger *logrus.Logger, ins *models.Inspection) error {
	if !ins.Template().TrackDeficientItems {
		return nil
	}

	var existing []models.DeficientItem
	if err := tx.Where("inspection_id = ?", ins.ID).Find(&existing).Error; err != nil {
		config.LogError(logger, "deficiency.go", "SyncInspectionDeficiencies", "QueryDeficientItems", ins.ID, err)
		return err
	}
	existingByItem := make(map[string]*models.DeficientItem, len(existing))
	for i := range existing {
		existingByItem[existing[i].ItemId] = &existing[i]
	}

	now := time.Now().UTC()
	deficient := DeficientItemsOf(ins)
	deficientByItem := make(map[string]bool, len(deficient))

	for _, item := range deficient {
		deficientByItem[item.ID] = true
		if def, ok := existingByItem[item.ID]; ok {
			if ApplyItemAttributes(def, ins, item) {
				if err := tx.Save(def).Error; err != nil {
					config.LogError(logger, "deficiency.go", "SyncInspectionDeficiencies", "UpdateDeficientItem", def.ID, err)
					return err
				}
			}
			continue
		}
		def := NewDeficientItem(ins, item, now)
		if err := tx.Create(def).Error; err != nil {
			config.LogError(logger, "deficiency.go", "SyncInspectionDeficiencies", "CreateDeficientItem", def.ItemId, err)
			return err
		}
	}

	for i := range existing {
		def := &existing[i]
		if deficientByItem[def.ItemId] {
			continue
		}
		if err := RemoveDeficientItem(tx, logger, def); err != nil {
			return err
		}
	}

	return nil
}

// RemoveDeficientItem deletes a deficiency whose item is no longer flagged.
// When the archive flag was requested the record is first copied to the
// archive namespace; archiving is a side channel, not a lifecycle state.
func RemoveDeficientItem(tx *gorm.DB, logger *logrus.Logger, def *models.DeficientItem) error {
	if def.Archive {
		archived, err := models.ArchiveDeficientItem(def)
		if err != nil {
			config.LogError(logger, "deficiency.go", "RemoveDeficientItem", "SnapshotArchive", def.ID, err)
			return err
		}
		if err := tx.Create(archived).Error; err != nil {
			config.LogError(logger, "deficiency.go", "RemoveDeficientItem", "CreateArchivedDeficientItem", def.ID, err)
			return err
		}
	}
	if err := tx.Where("id = ?", def.ID).Delete(&models.DeficientItem{}).Error; err != nil {
		config.LogError(logger, "deficiency.go", "RemoveDeficientItem", "DeleteDeficientItem", def.ID, err)
		return err
	}
	return nil
}

// ArchiveInspectionDeficiencies moves every deficiency of a deleted inspection
// into the archive namespace so the trail survives the cascade.
func ArchiveInspectionDeficiencies(tx *gorm.DB, logger *logrus.Logger, inspectionId string) error {
	var existing []models.DeficientItem
	if err := tx.Where("inspection_id = ?", inspectionId).Find(&existing).Error; err != nil {
		config.LogError(logger, "deficiency.go", "ArchiveInspectionDeficiencies", "QueryDeficientItems", inspectionId, err)
		return err
	}
	for i := range existing {
		def := &existing[i]
		archived, err := models.ArchiveDeficientItem(def)
		if err != nil {
			config.LogError(logger, "deficiency.go", "ArchiveInspectionDeficiencies", "SnapshotArchive", def.ID, err)
			return err
		}
		if err := tx.Create(archived).Error; err != nil {
			config.LogError(logger, "deficiency.go", "ArchiveInspectionDeficiencies", "CreateArchivedDeficientItem", def.ID, err)
			return err
		}
		if err := tx.Where("id = ?", def.ID).Delete(&models.DeficientItem{}).Error; err != nil {
			config.LogError(logger, "deficiency.go", "ArchiveInspectionDeficiencies", "DeleteDeficientItem", def.ID, err)
			return err
		}
	}
	return nil
}

func encodeMap[T any](m map[string]T) []byte {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}
