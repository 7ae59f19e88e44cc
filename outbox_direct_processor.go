package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/proplens/inspections_backend/models"
	"github.com/proplens/inspections_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDirectProcessor applies unprocessed outbox records straight through
// the dispatch path, without a Pub/Sub round trip. Primarily for local/dev,
// but also a safety net when Pub/Sub delivery is misconfigured: idempotency
// keys make the overlap with the subscription consumer harmless.
type OutboxDirectProcessor struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	WorkerID  string
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
}

func NewOutboxDirectProcessor(db *gorm.DB, logger *logrus.Logger) *OutboxDirectProcessor {
	return &OutboxDirectProcessor{
		DB:        db,
		Logger:    logger,
		WorkerID:  "direct-" + time.Now().Format("20060102-150405.000"),
		BatchSize: 50,
		Interval:  2 * time.Second,
		LockTTL:   30 * time.Second,
	}
}

// Enabled unless OUTBOX_DIRECT_PROCESSING=false. Running alongside a healthy
// subscription is safe; without it, broken Pub/Sub permissions would leave
// derived views permanently behind with no error surfaced anywhere.
func shouldRunDirectOutboxProcessor() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DIRECT_PROCESSING"))) {
	case "false":
		return false
	default:
		return true
	}
}

func (p *OutboxDirectProcessor) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		p.drainOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *OutboxDirectProcessor) drainOnce(ctx context.Context) {
	batch := p.claimUnprocessed(ctx)

	for _, rec := range batch {
		procCtx := utils.SetUserIdInContext(ctx, "system")
		procCtx = utils.SetUserNameInContext(procCtx, "System")
		procCtx = utils.SetCorrelationIdInContext(procCtx, rec.CorrelationId)

		procErr := ProcessMessage(procCtx, p.Logger, models.ConvertToChangeEvent(rec))
		p.release(ctx, rec, procErr)
	}
}

// claimUnprocessed locks a batch of is_processed=0 rows. Rows whose lock is
// older than LockTTL count as abandoned and are re-claimed.
func (p *OutboxDirectProcessor) claimUnprocessed(ctx context.Context) []models.ChangeEventRecord {
	now := time.Now().UTC()
	var batch []models.ChangeEventRecord

	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("is_processed = 0 AND (locked_at IS NULL OR locked_at <= ?)", now.Add(-p.LockTTL)).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&batch).Error
		if err != nil {
			return err
		}
		for i := range batch {
			err := tx.Model(&models.ChangeEventRecord{}).
				Where("id = ?", batch[i].ID).
				Updates(map[string]interface{}{"locked_at": &now, "locked_by": &p.WorkerID}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":     "OutboxDirectProcessor",
				"worker_id": p.WorkerID,
			}).Error("claim failed: " + err.Error())
		}
		return nil
	}
	return batch
}

// release drops the lock and, on failure, stores the error for the next pass.
// Success marking happens inside ProcessMessage's transaction.
func (p *OutboxDirectProcessor) release(ctx context.Context, rec models.ChangeEventRecord, procErr error) {
	updates := map[string]interface{}{
		"locked_at": nil,
		"locked_by": nil,
	}
	if procErr != nil {
		reason := procErr.Error()
		updates["last_process_error"] = &reason
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":          "OutboxDirectProcessor",
				"property_id":    rec.PropertyId,
				"reference_type": rec.ReferenceType,
				"reference_id":   rec.ReferenceId,
				"record_id":      rec.ID,
			}).Error("direct processing failed: " + reason)
		}
	}
	_ = p.DB.WithContext(ctx).Model(&models.ChangeEventRecord{}).
		Where("id = ?", rec.ID).
		Updates(updates).Error
}
