package workflow

import (
	"errors"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/proplens/inspections_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProcessPropertyWorkflow reacts to property writes: team reassignment and the
// property's template proxy set. Deletion cascades through every collection
// keyed by the property id.
func ProcessPropertyWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.ChangeEvent) error {
	if msg.ReferenceId == "" {
		config.LogError(logger, "property.go", "ProcessPropertyWorkflow", "MissingReference", msg.ID, errors.New("change event missing reference id"))
		return nil
	}

	if models.ChangeEventAction(msg.Action) == models.ChangeEventActionDelete {
		var oldProperty models.Property
		if err := utils.UnmarshalFromJSON(msg.OldObj, &oldProperty); err != nil {
			config.LogError(logger, "property.go", "ProcessPropertyWorkflow", "DecodeOldObj", msg.ID, err)
			oldProperty.ID = msg.ReferenceId
		}
		return cascadePropertyDelete(tx, logger, &oldProperty)
	}

	var newProperty models.Property
	if err := utils.UnmarshalFromJSON(msg.NewObj, &newProperty); err != nil {
		config.LogError(logger, "property.go", "ProcessPropertyWorkflow", "DecodeNewObj", msg.ID, err)
		return nil
	}
	// Membership blobs are stripped from event payloads; reload the row.
	if err := tx.Where("id = ?", msg.ReferenceId).Take(&newProperty).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		config.LogError(logger, "property.go", "ProcessPropertyWorkflow", "GetProperty", msg.ReferenceId, err)
		return err
	}

	var oldProperty *models.Property
	if len(msg.OldObj) > 0 {
		var decoded models.Property
		if err := utils.UnmarshalFromJSON(msg.OldObj, &decoded); err == nil {
			oldProperty = &decoded
		}
	}

	if err := ProcessPropertyTeamChange(tx, logger, oldProperty, &newProperty); err != nil {
		return err
	}
	return SyncPropertyTemplates(tx, logger, &newProperty)
}

// cascadePropertyDelete removes every collection keyed by the deleted
// property, regardless of policy guards: proxies, deficiencies (archived, so
// the trail survives), integration config, and membership entries on teams
// and users.
func cascadePropertyDelete(tx *gorm.DB, logger *logrus.Logger, property *models.Property) error {
	propertyId := property.ID

	if err := tx.Where("property_id = ?", propertyId).Delete(&models.PropertyInspectionProxy{}).Error; err != nil {
		config.LogError(logger, "property.go", "cascadePropertyDelete", "DeletePropertyInspectionProxies", propertyId, err)
		return err
	}
	if err := tx.Where("property_id = ?", propertyId).Delete(&models.CompletedInspectionProxy{}).Error; err != nil {
		config.LogError(logger, "property.go", "cascadePropertyDelete", "DeleteCompletedInspectionProxies", propertyId, err)
		return err
	}
	if err := tx.Where("property_id = ?", propertyId).Delete(&models.PropertyTemplateProxy{}).Error; err != nil {
		config.LogError(logger, "property.go", "cascadePropertyDelete", "DeletePropertyTemplateProxies", propertyId, err)
		return err
	}
	if err := tx.Where("property_id = ?", propertyId).Delete(&models.PropertyTrelloIntegration{}).Error; err != nil {
		config.LogError(logger, "property.go", "cascadePropertyDelete", "DeleteTrelloIntegration", propertyId, err)
		return err
	}

	var deficiencies []models.DeficientItem
	if err := tx.Where("property_id = ?", propertyId).Find(&deficiencies).Error; err != nil {
		config.LogError(logger, "property.go", "cascadePropertyDelete", "QueryDeficientItems", propertyId, err)
		return err
	}
	for i := range deficiencies {
		def := &deficiencies[i]
		archived, err := models.ArchiveDeficientItem(def)
		if err != nil {
			config.LogError(logger, "property.go", "cascadePropertyDelete", "SnapshotArchive", def.ID, err)
			return err
		}
		if err := tx.Create(archived).Error; err != nil {
			config.LogError(logger, "property.go", "cascadePropertyDelete", "CreateArchivedDeficientItem", def.ID, err)
			return err
		}
	}
	if err := tx.Where("property_id = ?", propertyId).Delete(&models.DeficientItem{}).Error; err != nil {
		config.LogError(logger, "property.go", "cascadePropertyDelete", "DeleteDeficientItems", propertyId, err)
		return err
	}

	// Membership cleanup reuses the reassignment planner with an empty target.
	oldTeam := ""
	if property.TeamId != nil {
		oldTeam = *property.TeamId
	}
	if oldTeam != "" {
		var teams []models.Team
		if err := tx.Where("id = ?", oldTeam).Find(&teams).Error; err != nil {
			config.LogError(logger, "property.go", "cascadePropertyDelete", "QueryTeams", oldTeam, err)
			return err
		}
		var users []models.User
		if err := tx.Find(&users).Error; err != nil {
			config.LogError(logger, "property.go", "cascadePropertyDelete", "QueryUsers", propertyId, err)
			return err
		}
		plan := PlanTeamReassignment(propertyId, oldTeam, "", teams, users)
		if !plan.Empty() {
			if err := ApplyTeamReassignment(tx, logger, plan); err != nil {
				return err
			}
		}
	}

	_ = config.RemoveRedisKey("PropertyMeta:" + propertyId)

	return nil
}
