package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/proplens/inspections_backend/appctx"
	"github.com/proplens/inspections_backend/config"
	"gorm.io/gorm"
)

// ChangeEventRecord is the transactional outbox row for one source-record
// write. The row is created inside the caller's DB transaction; publishing to
// Pub/Sub happens after commit via the outbox dispatcher. Only source-record
// mutation paths write these rows — proxy and aggregate writes never do, which
// is what statically rules out self-triggering cycles.
type ChangeEventRecord struct {
	ID            int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3;index:idx_outbox_reconcile,priority:2" json:"id"`
	OccurredAt    time.Time           `gorm:"index;not null" json:"occurred_at"`
	ReferenceId   string              `gorm:"size:64;not null;index" json:"reference_id"`
	ReferenceType ChangeReferenceType `gorm:"type:enum('IS','PR','TP','TC','DI','RC')" json:"reference_type"`
	Action        ChangeEventAction   `gorm:"type:enum('C','U','D')" json:"action"`
	PropertyId    string              `gorm:"size:64;index" json:"property_id"`
	OldObj        []byte              `gorm:"type:mediumblob" json:"old_obj"`
	NewObj        []byte              `gorm:"type:mediumblob" json:"new_obj"`
	IsProcessed   bool                `gorm:"index;not null;index:idx_outbox_reconcile,priority:1" json:"is_processed"`

	// Outbox publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	// Processing metadata (consumer/worker).
	LastProcessError *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt      *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToChangeEvent(record ChangeEventRecord) config.ChangeEvent {
	return config.ChangeEvent{
		ID:            record.ID,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		PropertyId:    record.PropertyId,
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// PublishChange writes the outbox row inside the caller's DB transaction but
// does NOT publish to Pub/Sub; the dispatcher publishes after commit.
func PublishChange(ctx context.Context, db *gorm.DB, refId string, refType ChangeReferenceType, propertyId string, obj interface{}, oldObj interface{}, action ChangeEventAction) error {
	var objInByte []byte
	var oldObjInByte []byte
	var err error

	if action == ChangeEventActionCreate || action == ChangeEventActionUpdate {
		objInByte, err = json.Marshal(obj)
		if err != nil {
			return err
		}
	}
	if action == ChangeEventActionUpdate || action == ChangeEventActionDelete {
		oldObjInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}

	record := ChangeEventRecord{
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		PropertyId:    propertyId,
		NewObj:        objInByte,
		OldObj:        oldObjInByte,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return db.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
