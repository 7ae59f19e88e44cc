package workflow

import (
	"context"
	"errors"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/proplens/inspections_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProcessInspectionWorkflow propagates one inspection write: proxy targets,
// deficiency derivation, then the owning property's counters. Deletion
// cascades through every target and archives the deficiency trail; uploaded
// media referenced by the deleted record is reclaimed from storage.
func ProcessInspectionWorkflow(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, msg config.ChangeEvent) error {
	if msg.ReferenceId == "" || msg.PropertyId == "" {
		config.LogError(logger, "inspection.go", "ProcessInspectionWorkflow", "MissingReference", msg.ID, errors.New("change event missing reference or property id"))
		return nil
	}

	if models.ChangeEventAction(msg.Action) == models.ChangeEventActionDelete {
		var oldIns models.Inspection
		if err := utils.UnmarshalFromJSON(msg.OldObj, &oldIns); err != nil {
			config.LogError(logger, "inspection.go", "ProcessInspectionWorkflow", "DecodeOldObj", msg.ID, err)
		} else {
			reclaimInspectionMedia(ctx, logger, &oldIns)
		}
		if err := DeleteInspectionProxies(tx, logger, msg.ReferenceId); err != nil {
			return err
		}
		if err := ArchiveInspectionDeficiencies(tx, logger, msg.ReferenceId); err != nil {
			return err
		}
		return RecomputePropertyMeta(tx, logger, msg.PropertyId)
	}

	var ins models.Inspection
	if err := utils.UnmarshalFromJSON(msg.NewObj, &ins); err != nil {
		config.LogError(logger, "inspection.go", "ProcessInspectionWorkflow", "DecodeNewObj", msg.ID, err)
		return nil
	}
	// The event payload carries the row minus the template blob; reload so
	// derivation sees the full snapshot.
	if len(ins.TemplateJSON) == 0 {
		if err := tx.Where("id = ?", msg.ReferenceId).Take(&ins).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Deleted between event and handler; the delete event follows.
				return nil
			}
			config.LogError(logger, "inspection.go", "ProcessInspectionWorkflow", "GetInspection", msg.ReferenceId, err)
			return err
		}
	}

	if err := SyncInspectionProxies(tx, logger, &ins); err != nil {
		return err
	}
	if err := SyncInspectionDeficiencies(tx, logger, &ins); err != nil {
		return err
	}
	return RecomputePropertyMeta(tx, logger, msg.PropertyId)
}

// reclaimInspectionMedia deletes uploaded item photos of a removed inspection.
// Failures are logged per object; an orphaned blob is not worth failing the
// cascade for.
func reclaimInspectionMedia(ctx context.Context, logger *logrus.Logger, ins *models.Inspection) {
	tpl := ins.Template()
	for _, item := range tpl.Items {
		for _, photo := range item.Photos {
			if photo.DownloadURL == "" {
				continue
			}
			if err := utils.DeleteFileFromGCS(ctx, photo.DownloadURL); err != nil {
				config.LogError(logger, "inspection.go", "reclaimInspectionMedia", "DeleteFileFromGCS", photo.DownloadURL, err)
			}
		}
	}
}
