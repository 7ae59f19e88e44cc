package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPublishBackoff = 10 * time.Minute

// OutboxDispatcher drains ChangeEventRecord rows into Pub/Sub. Multiple
// replicas may run concurrently; SKIP LOCKED row claims plus a lock TTL keep
// them from double-publishing while still reclaiming rows from a crashed
// replica.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	for {
		d.publishBatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *OutboxDispatcher) publishBatch(ctx context.Context) {
	if d.DB == nil {
		return
	}
	now := time.Now().UTC()

	batch, err := d.claimBatch(ctx, now)
	if err != nil {
		if d.Logger != nil {
			config.LogError(d.Logger, "outboxDispatcher.go", "publishBatch", "ClaimBatch", d.DispatcherID, err)
		}
		return
	}

	for _, rec := range batch {
		// Rows that went DEAD during the claim stay where they are.
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		pubId, pubErr := config.PublishChangeEventWithResult(ctx, models.ConvertToChangeEvent(rec))
		if pubErr != nil {
			d.recordFailure(ctx, rec, pubErr)
			continue
		}
		d.recordSent(ctx, rec.ID, pubId, now)
	}
}

// claimBatch selects and marks eligible rows inside one transaction. A row is
// eligible when it is PENDING or FAILED with its retry delay elapsed, or
// PROCESSING with a lock older than LockTimeout (abandoned by a dead replica).
func (d *OutboxDispatcher) claimBatch(ctx context.Context, now time.Time) ([]models.ChangeEventRecord, error) {
	var batch []models.ChangeEventRecord
	staleBefore := now.Add(-d.LockTimeout)

	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?)",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&batch).Error
		if err != nil {
			return err
		}

		for i := range batch {
			rec := &batch[i]

			if d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts {
				rec.PublishStatus = models.OutboxPublishStatusDead
				reason := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := d.updateRecord(tx, rec.ID, models.OutboxPublishStatusDead, &reason, nil); err != nil {
					return err
				}
				continue
			}

			rec.PublishStatus = models.OutboxPublishStatusProcessing
			rec.PublishAttempts++
			err := tx.Model(&models.ChangeEventRecord{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	return batch, err
}

// updateRecord writes a terminal or retry state and always releases the lock.
func (d *OutboxDispatcher) updateRecord(db *gorm.DB, recordId int, status string, lastError *string, nextAttempt *time.Time) error {
	return db.Model(&models.ChangeEventRecord{}).Where("id = ?", recordId).Updates(map[string]interface{}{
		"publish_status":     status,
		"last_publish_error": lastError,
		"next_attempt_at":    nextAttempt,
		"locked_at":          nil,
		"locked_by":          nil,
	}).Error
}

func (d *OutboxDispatcher) recordSent(ctx context.Context, recordId int, pubsubMsgId string, now time.Time) {
	_ = d.DB.WithContext(ctx).Model(&models.ChangeEventRecord{}).Where("id = ?", recordId).Updates(map[string]interface{}{
		"publish_status":     models.OutboxPublishStatusSent,
		"published_at":       &now,
		"pub_sub_message_id": &pubsubMsgId,
		"locked_at":          nil,
		"locked_by":          nil,
		"next_attempt_at":    nil,
	}).Error
}

func (d *OutboxDispatcher) recordFailure(ctx context.Context, rec models.ChangeEventRecord, pubErr error) {
	db := d.DB.WithContext(ctx)
	reason := pubErr.Error()

	fields := logrus.Fields{
		"field":       "OutboxDispatcher",
		"property_id": rec.PropertyId,
		"record_id":   rec.ID,
		"attempt":     rec.PublishAttempts,
	}

	if d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts {
		_ = d.updateRecord(db, rec.ID, models.OutboxPublishStatusDead, &reason, nil)
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("outbox publish moved to DEAD after max attempts: " + reason)
		}
		return
	}

	next := time.Now().UTC().Add(d.backoffFor(rec.PublishAttempts))
	_ = d.updateRecord(db, rec.ID, models.OutboxPublishStatusFailed, &reason, &next)
	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Error("outbox publish failed: " + reason)
	}
}

// backoffFor doubles the retry delay per attempt, capped at maxPublishBackoff.
func (d *OutboxDispatcher) backoffFor(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxPublishBackoff {
			return maxPublishBackoff
		}
	}
	return backoff
}
