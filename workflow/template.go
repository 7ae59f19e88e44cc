package workflow

import (
	"errors"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/proplens/inspections_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lookupCategory is the point read that folds category data into template
// proxies. Relationship data is never cached; a missing or empty category
// resolves to nil and the proxy carries no category name.
func lookupCategory(tx *gorm.DB, categoryId string) *models.TemplateCategory {
	if categoryId == "" {
		return nil
	}
	var category models.TemplateCategory
	if err := tx.Where("id = ?", categoryId).Take(&category).Error; err != nil {
		return nil
	}
	return &category
}

// SyncTemplateProxies rewrites the global template proxy and the per-property
// proxies for one template. Property rows exist iff the property's template
// membership map contains the template.
func SyncTemplateProxies(tx *gorm.DB, logger *logrus.Logger, tpl *models.Template) error {
	category := lookupCategory(tx, tpl.Category)

	global := ProjectTemplateList(tpl, category)
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(global).Error; err != nil {
		config.LogError(logger, "template.go", "SyncTemplateProxies", "UpsertTemplateListProxy", tpl.ID, err)
		return err
	}

	var properties []models.Property
	if err := tx.Find(&properties).Error; err != nil {
		config.LogError(logger, "template.go", "SyncTemplateProxies", "QueryProperties", tpl.ID, err)
		return err
	}

	memberIds := []string{}
	for i := range properties {
		p := &properties[i]
		if !p.Templates()[tpl.ID] {
			continue
		}
		memberIds = append(memberIds, p.ID)
		proxy := ProjectPropertyTemplate(p.ID, tpl, category)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(proxy).Error; err != nil {
			config.LogError(logger, "template.go", "SyncTemplateProxies", "UpsertPropertyTemplateProxy", p.ID+"/"+tpl.ID, err)
			return err
		}
	}

	// Rows for properties that dropped the template are orphans.
	del := tx.Where("template_id = ?", tpl.ID)
	if len(memberIds) > 0 {
		del = del.Where("property_id NOT IN ?", memberIds)
	}
	if err := del.Delete(&models.PropertyTemplateProxy{}).Error; err != nil {
		config.LogError(logger, "template.go", "SyncTemplateProxies", "DeleteOrphanPropertyTemplateProxies", tpl.ID, err)
		return err
	}
	return nil
}

// DeleteTemplateProxies removes every proxy of a deleted template.
func DeleteTemplateProxies(tx *gorm.DB, logger *logrus.Logger, templateId string) error {
	if err := tx.Where("id = ?", templateId).Delete(&models.TemplateListProxy{}).Error; err != nil {
		config.LogError(logger, "template.go", "DeleteTemplateProxies", "DeleteTemplateListProxy", templateId, err)
		return err
	}
	if err := tx.Where("template_id = ?", templateId).Delete(&models.PropertyTemplateProxy{}).Error; err != nil {
		config.LogError(logger, "template.go", "DeleteTemplateProxies", "DeletePropertyTemplateProxies", templateId, err)
		return err
	}
	return nil
}

// ProcessTemplateWorkflow reacts to template writes.
func ProcessTemplateWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.ChangeEvent) error {
	if msg.ReferenceId == "" {
		config.LogError(logger, "template.go", "ProcessTemplateWorkflow", "MissingReference", msg.ID, errors.New("change event missing reference id"))
		return nil
	}

	if models.ChangeEventAction(msg.Action) == models.ChangeEventActionDelete {
		return DeleteTemplateProxies(tx, logger, msg.ReferenceId)
	}

	var tpl models.Template
	if err := utils.UnmarshalFromJSON(msg.NewObj, &tpl); err != nil {
		config.LogError(logger, "template.go", "ProcessTemplateWorkflow", "DecodeNewObj", msg.ID, err)
		return nil
	}
	return SyncTemplateProxies(tx, logger, &tpl)
}

// CategoryStrip lists the templates a category deletion must touch. Pure; the
// applier turns it into targeted single-field updates so every non-category
// field is left untouched.
func CategoryStrip(templates []models.Template, categoryId string) []string {
	var ids []string
	for i := range templates {
		if templates[i].Category == categoryId {
			ids = append(ids, templates[i].ID)
		}
	}
	return ids
}

// CascadeCategoryDelete strips the deleted category from every template that
// referenced it and from both proxy tables. Unrelated templates and all
// non-category fields are untouched.
func CascadeCategoryDelete(tx *gorm.DB, logger *logrus.Logger, categoryId string) error {
	var templates []models.Template
	if err := tx.Where("category = ?", categoryId).Find(&templates).Error; err != nil {
		config.LogError(logger, "template.go", "CascadeCategoryDelete", "QueryTemplates", categoryId, err)
		return err
	}
	ids := CategoryStrip(templates, categoryId)
	if len(ids) > 0 {
		if err := tx.Model(&models.Template{}).Where("id IN ?", ids).
			Update("category", "").Error; err != nil {
			config.LogError(logger, "template.go", "CascadeCategoryDelete", "StripTemplates", categoryId, err)
			return err
		}
	}

	strip := map[string]interface{}{"category": "", "category_name": ""}
	if err := tx.Model(&models.TemplateListProxy{}).Where("category = ?", categoryId).
		Updates(strip).Error; err != nil {
		config.LogError(logger, "template.go", "CascadeCategoryDelete", "StripTemplateListProxies", categoryId, err)
		return err
	}
	if err := tx.Model(&models.PropertyTemplateProxy{}).Where("category = ?", categoryId).
		Updates(strip).Error; err != nil {
		config.LogError(logger, "template.go", "CascadeCategoryDelete", "StripPropertyTemplateProxies", categoryId, err)
		return err
	}
	return nil
}

// ProcessTemplateCategoryWorkflow reacts to category writes: renames re-fold
// the name into every referencing proxy, deletion cascades the strip.
func ProcessTemplateCategoryWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.ChangeEvent) error {
	if msg.ReferenceId == "" {
		config.LogError(logger, "template.go", "ProcessTemplateCategoryWorkflow", "MissingReference", msg.ID, errors.New("change event missing reference id"))
		return nil
	}

	if models.ChangeEventAction(msg.Action) == models.ChangeEventActionDelete {
		return CascadeCategoryDelete(tx, logger, msg.ReferenceId)
	}

	var category models.TemplateCategory
	if err := utils.UnmarshalFromJSON(msg.NewObj, &category); err != nil {
		config.LogError(logger, "template.go", "ProcessTemplateCategoryWorkflow", "DecodeNewObj", msg.ID, err)
		return nil
	}

	rename := map[string]interface{}{"category_name": category.Name}
	if err := tx.Model(&models.TemplateListProxy{}).Where("category = ?", category.ID).
		Updates(rename).Error; err != nil {
		config.LogError(logger, "template.go", "ProcessTemplateCategoryWorkflow", "RenameTemplateListProxies", category.ID, err)
		return err
	}
	if err := tx.Model(&models.PropertyTemplateProxy{}).Where("category = ?", category.ID).
		Updates(rename).Error; err != nil {
		config.LogError(logger, "template.go", "ProcessTemplateCategoryWorkflow", "RenamePropertyTemplateProxies", category.ID, err)
		return err
	}
	return nil
}

// SyncPropertyTemplates reconciles a property's template proxies against its
// membership map after a property write.
func SyncPropertyTemplates(tx *gorm.DB, logger *logrus.Logger, property *models.Property) error {
	members := property.Templates()

	memberIds := []string{}
	for id := range members {
		if !members[id] {
			continue
		}
		var tpl models.Template
		if err := tx.Where("id = ?", id).Take(&tpl).Error; err != nil {
			// Membership may reference a template that was deleted since.
			config.LogError(logger, "template.go", "SyncPropertyTemplates", "GetTemplate", id, err)
			continue
		}
		memberIds = append(memberIds, id)
		proxy := ProjectPropertyTemplate(property.ID, &tpl, lookupCategory(tx, tpl.Category))
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(proxy).Error; err != nil {
			config.LogError(logger, "template.go", "SyncPropertyTemplates", "UpsertPropertyTemplateProxy", property.ID+"/"+id, err)
			return err
		}
	}

	del := tx.Where("property_id = ?", property.ID)
	if len(memberIds) > 0 {
		del = del.Where("template_id NOT IN ?", memberIds)
	}
	if err := del.Delete(&models.PropertyTemplateProxy{}).Error; err != nil {
		config.LogError(logger, "template.go", "SyncPropertyTemplates", "DeleteOrphanPropertyTemplateProxies", property.ID, err)
		return err
	}
	return nil
}

// ReconcileTemplateProxies is the repair half for template denormalization:
// every template is re-synced and orphaned proxies are dropped. Idempotent;
// per-record failures are logged and the scan continues.
func ReconcileTemplateProxies(tx *gorm.DB, logger *logrus.Logger) (SyncStats, error) {
	var stats SyncStats

	var templates []models.Template
	if err := tx.Find(&templates).Error; err != nil {
		config.LogError(logger, "template.go", "ReconcileTemplateProxies", "QueryTemplates", nil, err)
		return stats, err
	}
	sourceIds := make([]string, 0, len(templates))
	for i := range templates {
		tpl := &templates[i]
		sourceIds = append(sourceIds, tpl.ID)
		if err := SyncTemplateProxies(tx, logger, tpl); err != nil {
			stats.Errors++
			continue
		}
		stats.Upserts++
	}

	// Orphans: proxies whose source template no longer exists.
	delGlobal := tx.Model(&models.TemplateListProxy{})
	delProperty := tx.Model(&models.PropertyTemplateProxy{})
	if len(sourceIds) > 0 {
		delGlobal = delGlobal.Where("id NOT IN ?", sourceIds)
		delProperty = delProperty.Where("template_id NOT IN ?", sourceIds)
	}
	res := delGlobal.Delete(&models.TemplateListProxy{})
	if res.Error != nil {
		config.LogError(logger, "template.go", "ReconcileTemplateProxies", "DeleteOrphanTemplateListProxies", nil, res.Error)
		stats.Errors++
	} else {
		stats.Deletes += int(res.RowsAffected)
	}
	res = delProperty.Delete(&models.PropertyTemplateProxy{})
	if res.Error != nil {
		config.LogError(logger, "template.go", "ReconcileTemplateProxies", "DeleteOrphanPropertyTemplateProxies", nil, res.Error)
		stats.Errors++
	} else {
		stats.Deletes += int(res.RowsAffected)
	}
	return stats, nil
}
