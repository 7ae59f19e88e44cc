package models

import (
	"log"

	"github.com/proplens/inspections_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Property{}, &Team{}, &User{}, &RegistrationToken{}, &Notification{},
		&Inspection{}, &PropertyInspectionProxy{}, &CompletedInspectionProxy{},
		&Template{}, &TemplateCategory{}, &TemplateListProxy{}, &PropertyTemplateProxy{},
		&DeficientItem{}, &ArchivedDeficientItem{},
		&PropertyTrelloIntegration{},
		&ChangeEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
