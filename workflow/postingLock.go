package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquirePropertyPostingLock takes a MySQL advisory lock scoped to one
// property, serializing handlers across all replicas. GET_LOCK binds to the
// connection, so acquire and release must run on the same *gorm.DB the
// processing transaction uses.
func AcquirePropertyPostingLock(tx *gorm.DB, propertyId string) error {
	var acquired int
	err := tx.Raw("SELECT GET_LOCK(?, 30)", propertyLockName(propertyId)).Scan(&acquired).Error
	if err != nil {
		return err
	}
	if acquired != 1 {
		return fmt.Errorf("could not acquire posting lock for property_id=%s", propertyId)
	}
	return nil
}

func ReleasePropertyPostingLock(tx *gorm.DB, propertyId string) {
	var released int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", propertyLockName(propertyId)).Scan(&released).Error
}

func propertyLockName(propertyId string) string {
	return "posting:" + propertyId
}
