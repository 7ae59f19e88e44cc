package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/xuri/excelize/v2"
)

// Exports every open (non-closed) deficiency to an xlsx workbook, one row per
// deficiency, optionally scoped to a single property.
func main() {
	propertyID := flag.String("property-id", "", "Optional: limit the report to one property")
	outPath := flag.String("out", "deficiencies.xlsx", "Output xlsx path")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	q := db.Where("state <> ?", models.DeficiencyStateClosed)
	if strings.TrimSpace(*propertyID) != "" {
		q = q.Where("property_id = ?", strings.TrimSpace(*propertyID))
	}
	var deficiencies []models.DeficientItem
	if err := q.Order("property_id, state, item_data_last_updated_date").Find(&deficiencies).Error; err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}

	propertyNames := map[string]string{}
	var properties []models.Property
	if err := db.Find(&properties).Error; err == nil {
		for i := range properties {
			propertyNames[properties[i].ID] = properties[i].Name
		}
	}

	f := excelize.NewFile()
	sheet := "Deficiencies"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Property", "Inspection", "Item", "Section", "State", "Due Date", "Plan To Fix", "Inspector Notes", "Photos", "Last Admin Edit", "Last Updated"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, def := range deficiencies {
		name := propertyNames[def.PropertyId]
		if name == "" {
			name = def.PropertyId
		}
		due := ""
		if def.CurrentDueDate != nil {
			due = def.CurrentDueDate.Format("2006-01-02")
		}
		values := []interface{}{
			name,
			def.InspectionId,
			def.ItemTitle,
			def.SectionTitle,
			string(def.State),
			due,
			def.PlanToFix,
			def.ItemInspectorNotes,
			len(def.ItemPhotos()),
			lastAdminEdit(def.ItemAdminEdits()),
			def.ItemDataLastUpdatedDate.Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	if err := f.SaveAs(*outPath); err != nil {
		fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d deficiencies to %s\n", len(deficiencies), *outPath)
}

// lastAdminEdit summarizes the most recent admin correction, e.g.
// "updated by Dana Reeves (2026-03-01)". Empty when the item was never edited.
func lastAdminEdit(edits map[string]models.AdminEdit) string {
	var latest models.AdminEdit
	for _, e := range edits {
		if e.EditDate > latest.EditDate {
			latest = e
		}
	}
	if latest.EditDate == 0 {
		return ""
	}
	when := time.Unix(latest.EditDate, 0).UTC().Format("2006-01-02")
	return fmt.Sprintf("%s by %s (%s)", latest.Action, latest.AdminName, when)
}
