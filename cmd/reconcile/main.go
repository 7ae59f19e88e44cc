package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	dryRunUnsupported := flag.Bool("dry-run", false, "Not supported; present for symmetry with other tools")
	onlyStr := flag.String("only", "", "Optional: comma-separated subset of passes (proxies,templates,overdue,meta)")
	flag.Parse()

	if *dryRunUnsupported {
		fmt.Fprintln(os.Stderr, "--dry-run is not supported; reconciliation writes are idempotent")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	passes := map[string]bool{}
	for _, p := range strings.Split(*onlyStr, ",") {
		if p = strings.TrimSpace(p); p != "" {
			passes[p] = true
		}
	}
	runAll := len(passes) == 0
	now := time.Now().UTC()

	err := db.Transaction(func(tx *gorm.DB) error {
		if runAll || passes["proxies"] {
			stats, err := workflow.ReconcileInspectionProxies(tx, logger)
			if err != nil {
				return err
			}
			fmt.Printf("inspection proxies: %d upserts, %d deletes, %d errors\n", stats.Upserts, stats.Deletes, stats.Errors)
		}
		if runAll || passes["templates"] {
			stats, err := workflow.ReconcileTemplateProxies(tx, logger)
			if err != nil {
				return err
			}
			fmt.Printf("template proxies: %d upserts, %d deletes, %d errors\n", stats.Upserts, stats.Deletes, stats.Errors)
		}
		if runAll || passes["overdue"] {
			stats, err := workflow.MarkOverdueDeficiencies(tx, logger, now)
			if err != nil {
				return err
			}
			fmt.Printf("overdue deficiencies: %d transitions, %d errors\n", stats.Upserts, stats.Errors)
		}
		if runAll || passes["meta"] {
			stats, err := workflow.ReconcileAllPropertyMeta(tx, logger)
			if err != nil {
				return err
			}
			fmt.Printf("property meta: %d recomputes, %d errors\n", stats.Upserts, stats.Errors)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("reconciliation complete")
}
