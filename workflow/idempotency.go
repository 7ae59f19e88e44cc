package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/proplens/inspections_backend/models"
	"gorm.io/gorm"
)

// ErrIdempotencyInProgress means another worker holds the key in STARTED and
// it is not yet stale; the caller should nack so delivery retries later.
var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// A STARTED row older than this is treated as abandoned by a crashed worker.
const idempotencyStaleAfter = 5 * time.Minute

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// BeginIdempotency claims (handler, message) for this worker. skip=true means
// the message was already processed to completion and must be acked without
// re-running the handler. The unique index on the key pair is what makes the
// claim race-free; the insert either wins or collides with the prior owner.
func BeginIdempotency(tx *gorm.DB, handlerName, messageId string) (skip bool, err error) {
	insertErr := tx.Create(&models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}).Error
	if insertErr == nil {
		return false, nil
	}
	if !isDuplicateKeyErr(insertErr) {
		return false, insertErr
	}

	var prior models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&prior).Error; err != nil {
		return false, err
	}

	if prior.Status == models.IdempotencyStatusSucceeded {
		return true, nil
	}
	if prior.Status == models.IdempotencyStatusStarted && time.Since(prior.UpdatedAt) < idempotencyStaleAfter {
		return false, ErrIdempotencyInProgress
	}

	// FAILED, or STARTED gone stale: take over the row and retry.
	return false, restartIdempotencyKey(tx, prior.ID)
}

func restartIdempotencyKey(tx *gorm.DB, keyId int) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", keyId).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusStarted,
			"last_error": nil,
		}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusSucceeded,
			"last_error": nil,
		}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName, messageId string, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusFailed,
			"last_error": &reason,
		}).Error
}
