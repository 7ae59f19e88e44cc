package workflow

import (
	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InspectionSyncPlan is the computed difference between inspection sources and
// their proxy targets. Planning is pure so convergence and idempotence are
// testable without a database: applying a plan and re-planning yields an empty
// plan.
type InspectionSyncPlan struct {
	PropertyUpserts  []models.PropertyInspectionProxy
	PropertyDeletes  []string
	CompletedUpserts []models.CompletedInspectionProxy
	CompletedDeletes []string
}

func (p InspectionSyncPlan) Empty() bool {
	return len(p.PropertyUpserts) == 0 && len(p.PropertyDeletes) == 0 &&
		len(p.CompletedUpserts) == 0 && len(p.CompletedDeletes) == 0
}

// PlanInspectionProxySync computes upserts for missing or drifted proxies and
// deletes for orphans (proxies whose source no longer exists) and for
// completed proxies whose source is no longer completed.
func PlanInspectionProxySync(sources []models.Inspection, propProxies []models.PropertyInspectionProxy, completedProxies []models.CompletedInspectionProxy) InspectionSyncPlan {
	var plan InspectionSyncPlan

	sourceById := make(map[string]*models.Inspection, len(sources))
	for i := range sources {
		sourceById[sources[i].ID] = &sources[i]
	}
	propById := make(map[string]*models.PropertyInspectionProxy, len(propProxies))
	for i := range propProxies {
		propById[propProxies[i].ID] = &propProxies[i]
	}
	completedById := make(map[string]*models.CompletedInspectionProxy, len(completedProxies))
	for i := range completedProxies {
		completedById[completedProxies[i].ID] = &completedProxies[i]
	}

	for i := range sources {
		ins := &sources[i]

		if desired := ProjectPropertyInspection(ins); desired != nil {
			existing := propById[ins.ID]
			if existing == nil || !propertyProxyEqual(existing, desired) {
				plan.PropertyUpserts = append(plan.PropertyUpserts, *desired)
			}
		}

		desired := ProjectCompletedInspection(ins)
		existing := completedById[ins.ID]
		if desired == nil {
			if existing != nil {
				plan.CompletedDeletes = append(plan.CompletedDeletes, ins.ID)
			}
		} else if existing == nil || !completedProxyEqual(existing, desired) {
			plan.CompletedUpserts = append(plan.CompletedUpserts, *desired)
		}
	}

	// Orphans: proxy rows whose source id is gone.
	for i := range propProxies {
		if sourceById[propProxies[i].ID] == nil {
			plan.PropertyDeletes = append(plan.PropertyDeletes, propProxies[i].ID)
		}
	}
	for i := range completedProxies {
		if sourceById[completedProxies[i].ID] == nil {
			plan.CompletedDeletes = append(plan.CompletedDeletes, completedProxies[i].ID)
		}
	}

	return plan
}

// Explicit per-field comparison; UpdatedAt is bookkeeping, not state.
func propertyProxyEqual(a, b *models.PropertyInspectionProxy) bool {
	return a.ID == b.ID &&
		a.PropertyId == b.PropertyId &&
		a.TemplateName == b.TemplateName &&
		a.TemplateCategory == b.TemplateCategory &&
		a.Inspector == b.Inspector &&
		a.InspectorName == b.InspectorName &&
		a.CreationDate.Equal(b.CreationDate) &&
		a.UpdatedLastDate.Equal(b.UpdatedLastDate) &&
		a.Score.Equal(b.Score) &&
		a.DeficienciesExist == b.DeficienciesExist &&
		a.ItemsCompleted == b.ItemsCompleted &&
		a.TotalItems == b.TotalItems &&
		a.InspectionCompleted == b.InspectionCompleted
}

func completedProxyEqual(a, b *models.CompletedInspectionProxy) bool {
	return a.ID == b.ID &&
		a.PropertyId == b.PropertyId &&
		a.TemplateName == b.TemplateName &&
		a.TemplateCategory == b.TemplateCategory &&
		a.Inspector == b.Inspector &&
		a.InspectorName == b.InspectorName &&
		a.CreationDate.Equal(b.CreationDate) &&
		a.UpdatedLastDate.Equal(b.UpdatedLastDate) &&
		a.Score.Equal(b.Score) &&
		a.DeficienciesExist == b.DeficienciesExist
}

// SyncInspectionProxies propagates one inspection write into both proxy
// targets. Each upsert overwrites the previous row in full (no field-level
// merge) so fields removed at the source are actually removed.
func SyncInspectionProxies(tx *gorm.DB, logger *logrus.Logger, ins *models.Inspection) error {
	if desired := ProjectPropertyInspection(ins); desired != nil {
		err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(desired).Error
		if err != nil {
			config.LogError(logger, "proxySync.go", "SyncInspectionProxies", "UpsertPropertyInspectionProxy", ins.ID, err)
			return err
		}
	}

	if desired := ProjectCompletedInspection(ins); desired != nil {
		err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(desired).Error
		if err != nil {
			config.LogError(logger, "proxySync.go", "SyncInspectionProxies", "UpsertCompletedInspectionProxy", ins.ID, err)
			return err
		}
	} else {
		// Guard failed: the proxy must vanish the instant the flag flips off.
		err := tx.Where("id = ?", ins.ID).Delete(&models.CompletedInspectionProxy{}).Error
		if err != nil {
			config.LogError(logger, "proxySync.go", "SyncInspectionProxies", "DeleteCompletedInspectionProxy", ins.ID, err)
			return err
		}
	}
	return nil
}

// DeleteInspectionProxies removes every proxy target unconditionally,
// regardless of policy guards. Used when the source inspection is deleted.
func DeleteInspectionProxies(tx *gorm.DB, logger *logrus.Logger, inspectionId string) error {
	if err := tx.Where("id = ?", inspectionId).Delete(&models.PropertyInspectionProxy{}).Error; err != nil {
		config.LogError(logger, "proxySync.go", "DeleteInspectionProxies", "DeletePropertyInspectionProxy", inspectionId, err)
		return err
	}
	if err := tx.Where("id = ?", inspectionId).Delete(&models.CompletedInspectionProxy{}).Error; err != nil {
		config.LogError(logger, "proxySync.go", "DeleteInspectionProxies", "DeleteCompletedInspectionProxy", inspectionId, err)
		return err
	}
	return nil
}

type SyncStats struct {
	Upserts int
	Deletes int
	Errors  int
}

// ReconcileInspectionProxies is the full-scan repair half: it closes any gap
// between the inspection collection and both proxy targets. A failure on one
// record is logged and does not abort the rest of the batch. Running it twice
// on an unchanged source performs zero writes on the second run.
func ReconcileInspectionProxies(tx *gorm.DB, logger *logrus.Logger) (SyncStats, error) {
	var stats SyncStats

	var sources []models.Inspection
	if err := tx.Find(&sources).Error; err != nil {
		config.LogError(logger, "proxySync.go", "ReconcileInspectionProxies", "QueryInspections", nil, err)
		return stats, err
	}
	var propProxies []models.PropertyInspectionProxy
	if err := tx.Find(&propProxies).Error; err != nil {
		config.LogError(logger, "proxySync.go", "ReconcileInspectionProxies", "QueryPropertyInspectionProxies", nil, err)
		return stats, err
	}
	var completedProxies []models.CompletedInspectionProxy
	if err := tx.Find(&completedProxies).Error; err != nil {
		config.LogError(logger, "proxySync.go", "ReconcileInspectionProxies", "QueryCompletedInspectionProxies", nil, err)
		return stats, err
	}

	plan := PlanInspectionProxySync(sources, propProxies, completedProxies)

	for i := range plan.PropertyUpserts {
		err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&plan.PropertyUpserts[i]).Error
		if err != nil {
			stats.Errors++
			config.LogError(logger, "proxySync.go", "ReconcileInspectionProxies", "UpsertPropertyInspectionProxy", plan.PropertyUpserts[i].ID, err)
			continue
		}
		stats.Upserts++
	}
	for _, id := range plan.PropertyDeletes {
		err := tx.Where("id = ?", id).Delete(&models.PropertyInspectionProxy{}).Error
		if err != nil {
			stats.Errors++
			config.LogError(logger, "proxySync.go", "ReconcileInspectionProxies", "DeletePropertyInspectionProxy", id, err)
			continue
		}
		stats.Deletes++
	}
	for i := range plan.CompletedUpserts {
		err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&plan.CompletedUpserts[i]).Error
		if err != nil {
			stats.Errors++
			config.LogError(logger, "proxySync.go", "ReconcileInspectionProxies", "UpsertCompletedInspectionProxy", plan.CompletedUpserts[i].ID, err)
			continue
		}
		stats.Upserts++
	}
	for _, id := range plan.CompletedDeletes {
		err := tx.Where("id = ?", id).Delete(&models.CompletedInspectionProxy{}).Error
		if err != nil {
			stats.Errors++
			config.LogError(logger, "proxySync.go", "ReconcileInspectionProxies", "DeleteCompletedInspectionProxy", id, err)
			continue
		}
		stats.Deletes++
	}

	return stats, nil
}
