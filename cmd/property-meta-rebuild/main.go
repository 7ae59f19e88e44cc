package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	propertyID := flag.String("property-id", "", "Optional: rebuild a single property; default rebuilds all")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		if strings.TrimSpace(*propertyID) != "" {
			return workflow.RecomputePropertyMeta(tx, logger, strings.TrimSpace(*propertyID))
		}
		stats, err := workflow.ReconcileAllPropertyMeta(tx, logger)
		if err != nil {
			return err
		}
		fmt.Printf("property meta: %d recomputes, %d errors\n", stats.Upserts, stats.Errors)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("rebuild complete")
}
