package workflow

import (
	"time"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PropertyMeta is the full set of derived counters on a property. Counters are
// always recomputed from scratch from the current children, never adjusted by
// deltas, which is what makes out-of-order and duplicate triggers safe.
type PropertyMeta struct {
	NumOfInspections                      int
	LastInspectionScore                   decimal.Decimal
	LastInspectionDate                    *time.Time
	NumOfDeficientItems                   int
	NumOfRequiredActionsForDeficientItems int
	NumOfFollowUpActionsForDeficientItems int
}

// ComputePropertyMeta derives the counters from a property's inspections and
// deficiencies. Only completed inspections count; the latest inspection is the
// one with the maximum creationDate, ties broken by id so the result is stable
// for a fixed input set.
func ComputePropertyMeta(inspections []models.Inspection, deficiencies []models.DeficientItem) PropertyMeta {
	meta := PropertyMeta{
		LastInspectionScore: decimal.Zero,
	}

	var latest *models.Inspection
	for i := range inspections {
		ins := &inspections[i]
		if !ins.InspectionCompleted {
			continue
		}
		meta.NumOfInspections++

		if latest == nil ||
			ins.CreationDate.After(latest.CreationDate) ||
			(ins.CreationDate.Equal(latest.CreationDate) && ins.ID > latest.ID) {
			latest = ins
		}

		if ins.Template().TrackDeficientItems {
			meta.NumOfDeficientItems += len(DeficientItemsOf(ins))
		}
	}

	if latest != nil {
		meta.LastInspectionScore = latest.NormalizedScore()
		date := latest.CreationDate
		meta.LastInspectionDate = &date
	}

	trackedInspections := map[string]bool{}
	for i := range inspections {
		ins := &inspections[i]
		if ins.InspectionCompleted && ins.Template().TrackDeficientItems {
			trackedInspections[ins.ID] = true
		}
	}
	for i := range deficiencies {
		def := &deficiencies[i]
		if !trackedInspections[def.InspectionId] {
			continue
		}
		if def.State.RequiresAction() {
			meta.NumOfRequiredActionsForDeficientItems++
		} else if def.State.FollowUpAction() {
			meta.NumOfFollowUpActionsForDeficientItems++
		}
	}

	return meta
}

// metaEqual guards derived writes with value equality so a recomputation that
// changes nothing writes nothing — the property row only changes when a source
// record changed it, which rules out trigger cycles.
func metaEqual(p *models.Property, meta PropertyMeta) bool {
	if p.NumOfInspections != meta.NumOfInspections ||
		p.NumOfDeficientItems != meta.NumOfDeficientItems ||
		p.NumOfRequiredActionsForDeficientItems != meta.NumOfRequiredActionsForDeficientItems ||
		p.NumOfFollowUpActionsForDeficientItems != meta.NumOfFollowUpActionsForDeficientItems {
		return false
	}
	if !p.LastInspectionScore.Equal(meta.LastInspectionScore) {
		return false
	}
	if (p.LastInspectionDate == nil) != (meta.LastInspectionDate == nil) {
		return false
	}
	if p.LastInspectionDate != nil && !p.LastInspectionDate.Equal(*meta.LastInspectionDate) {
		return false
	}
	return true
}

// RecomputePropertyMeta rescans the owning property's children and writes all
// counters back in one update. Zero completed inspections still produces a
// write when the prior state was non-empty; absence and zero are not the same
// thing to downstream consumers.
func RecomputePropertyMeta(tx *gorm.DB, logger *logrus.Logger, propertyId string) error {
	var property models.Property
	if err := tx.Where("id = ?", propertyId).Take(&property).Error; err != nil {
		config.LogError(logger, "propertyMeta.go", "RecomputePropertyMeta", "GetProperty", propertyId, err)
		return err
	}

	var inspections []models.Inspection
	if err := tx.Where("property_id = ?", propertyId).Find(&inspections).Error; err != nil {
		config.LogError(logger, "propertyMeta.go", "RecomputePropertyMeta", "QueryInspections", propertyId, err)
		return err
	}
	var deficiencies []models.DeficientItem
	if err := tx.Where("property_id = ?", propertyId).Find(&deficiencies).Error; err != nil {
		config.LogError(logger, "propertyMeta.go", "RecomputePropertyMeta", "QueryDeficientItems", propertyId, err)
		return err
	}

	meta := ComputePropertyMeta(inspections, deficiencies)
	if metaEqual(&property, meta) {
		return nil
	}

	err := tx.Model(&models.Property{}).Where("id = ?", propertyId).Updates(map[string]interface{}{
		"num_of_inspections":                           meta.NumOfInspections,
		"last_inspection_score":                        meta.LastInspectionScore,
		"last_inspection_date":                         meta.LastInspectionDate,
		"num_of_deficient_items":                       meta.NumOfDeficientItems,
		"num_of_required_actions_for_deficient_items":  meta.NumOfRequiredActionsForDeficientItems,
		"num_of_follow_up_actions_for_deficient_items": meta.NumOfFollowUpActionsForDeficientItems,
	}).Error
	if err != nil {
		config.LogError(logger, "propertyMeta.go", "RecomputePropertyMeta", "UpdateProperty", propertyId, err)
		return err
	}

	// Write-through for the read-side service; never authoritative, the TTL
	// bounds staleness if a refresh is ever missed.
	_ = config.SetRedisObject("PropertyMeta:"+propertyId, meta, time.Hour)

	return nil
}

// ReconcileAllPropertyMeta recomputes counters for every property. Per-record
// failures are logged and the scan continues.
func ReconcileAllPropertyMeta(tx *gorm.DB, logger *logrus.Logger) (SyncStats, error) {
	var stats SyncStats
	var ids []string
	if err := tx.Model(&models.Property{}).Pluck("id", &ids).Error; err != nil {
		config.LogError(logger, "propertyMeta.go", "ReconcileAllPropertyMeta", "QueryPropertyIds", nil, err)
		return stats, err
	}
	for _, id := range ids {
		if err := RecomputePropertyMeta(tx, logger, id); err != nil {
			stats.Errors++
			continue
		}
		stats.Upserts++
	}
	return stats, nil
}
