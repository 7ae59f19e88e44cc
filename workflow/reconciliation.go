package workflow

import (
	"context"
	"strconv"
	"time"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DispatchChangeEvent routes one change event to its handler by reference
// type. Both the live consumer and the reconciliation re-drive go through
// this one switch.
func DispatchChangeEvent(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, msg config.ChangeEvent, cards CardService, push MessagingService) error {
	switch models.ChangeReferenceType(msg.ReferenceType) {
	case models.ChangeReferenceTypeInspection:
		return ProcessInspectionWorkflow(ctx, tx, logger, msg)
	case models.ChangeReferenceTypeProperty:
		return ProcessPropertyWorkflow(tx, logger, msg)
	case models.ChangeReferenceTypeTemplate:
		return ProcessTemplateWorkflow(tx, logger, msg)
	case models.ChangeReferenceTypeTemplateCategory:
		return ProcessTemplateCategoryWorkflow(tx, logger, msg)
	case models.ChangeReferenceTypeDeficientItem:
		return ProcessDeficientItemWorkflow(ctx, tx, logger, msg, cards, push)
	}
	return nil
}

// MarkChangeEventProcessed flags an outbox record as consumed. A non-nil
// processErr is recorded alongside so dropped messages stay observable.
func MarkChangeEventProcessed(tx *gorm.DB, recordId int, processErr error) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"is_processed": true,
		"processed_at": &now,
	}
	if processErr != nil {
		msg := processErr.Error()
		updates["last_process_error"] = &msg
	}
	return tx.Model(&models.ChangeEventRecord{}).Where("id = ?", recordId).Updates(updates).Error
}

// ProcessReconciliationWorkflow re-drives every unprocessed outbox record
// through the normal dispatch, each under durable idempotency so the pass can
// be retried safely, then runs the full-scan repair jobs.
func ProcessReconciliationWorkflow(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, msg config.ChangeEvent, cards CardService, push MessagingService) error {
	var records []models.ChangeEventRecord
	err := tx.Where("is_processed = 0").Order("id ASC").Find(&records).Error
	if err != nil {
		config.LogError(logger, "reconciliation.go", "ProcessReconciliationWorkflow", "QueryChangeEventRecords", msg, err)
		return err
	}

	for _, record := range records {
		// Durable idempotency per outbox record (reconcile can be retried safely).
		handlerName := string(record.ReferenceType)
		messageId := strconv.Itoa(record.ID)
		skip, err := BeginIdempotency(tx, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		m := models.ConvertToChangeEvent(record)
		if err := DispatchChangeEvent(ctx, tx, logger, m, cards, push); err != nil {
			_ = MarkIdempotencyFailed(tx, handlerName, messageId, err)
			return err
		}
		if err := MarkIdempotencySucceeded(tx, handlerName, messageId); err != nil {
			return err
		}
		if err := MarkChangeEventProcessed(tx, record.ID, nil); err != nil {
			return err
		}
	}

	return RunFullReconciliation(tx, logger, time.Now().UTC())
}

// RunFullReconciliation is the repair half: full scans that close any gap
// event delivery left behind. Idempotent; a clean system produces zero writes.
func RunFullReconciliation(tx *gorm.DB, logger *logrus.Logger, now time.Time) error {
	if _, err := ReconcileInspectionProxies(tx, logger); err != nil {
		return err
	}
	if _, err := ReconcileTemplateProxies(tx, logger); err != nil {
		return err
	}
	if _, err := MarkOverdueDeficiencies(tx, logger, now); err != nil {
		return err
	}
	if _, err := ReconcileAllPropertyMeta(tx, logger); err != nil {
		return err
	}
	return nil
}
