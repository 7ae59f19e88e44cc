package workflow

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/proplens/inspections_backend/models"
	"github.com/shopspring/decimal"
)

func metaInspection(id string, completed bool, score int64, date time.Time) models.Inspection {
	s := decimal.NewFromInt(score)
	ins := testInspection(id, completed, &s)
	ins.CreationDate = date
	return *ins
}

func TestComputePropertyMeta_CompletedOnlyAndLatestWins(t *testing.T) {
	t1 := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(-48 * time.Hour)
	t3 := t1.Add(24 * time.Hour)

	inspections := []models.Inspection{
		metaInspection("ins-1", true, 65, t1),
		metaInspection("ins-2", true, 25, t2),
		// Incomplete, newer and higher scoring; must not influence anything.
		metaInspection("ins-3", false, 90, t3),
	}

	got := ComputePropertyMeta(inspections, nil)
	want := PropertyMeta{
		NumOfInspections:    2,
		LastInspectionScore: decimal.NewFromInt(65),
		LastInspectionDate:  &t1,
	}
	decimalCmp := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	if diff := cmp.Diff(want, got, decimalCmp); diff != "" {
		t.Fatalf("meta mismatch (-want +got):\n%s", diff)
	}
}

func TestComputePropertyMeta_NoCompletedInspections(t *testing.T) {
	inspections := []models.Inspection{
		metaInspection("ins-1", false, 90, time.Now()),
	}
	got := ComputePropertyMeta(inspections, nil)
	if got.NumOfInspections != 0 {
		t.Fatalf("expected zero completed inspections, got %d", got.NumOfInspections)
	}
	if !got.LastInspectionScore.Equal(decimal.Zero) {
		t.Fatalf("expected zero score, got %s", got.LastInspectionScore)
	}
	if got.LastInspectionDate != nil {
		t.Fatalf("expected nil last date, got %v", got.LastInspectionDate)
	}
}

func TestComputePropertyMeta_CreationDateTieBrokenById(t *testing.T) {
	ts := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	inspections := []models.Inspection{
		metaInspection("ins-b", true, 40, ts),
		metaInspection("ins-a", true, 70, ts),
	}
	got := ComputePropertyMeta(inspections, nil)
	if !got.LastInspectionScore.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("tie must resolve to the greater id, got score %s", got.LastInspectionScore)
	}
}

func TestComputePropertyMeta_DeficiencyStateCounters(t *testing.T) {
	ts := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	ins := metaInspection("ins-1", true, 65, ts)
	if err := ins.SetTemplate(models.InspectionTemplate{TrackDeficientItems: true}); err != nil {
		t.Fatal(err)
	}

	deficiencies := []models.DeficientItem{
		{ID: "def-1", InspectionId: "ins-1", State: models.DeficiencyStateRequiresAction},
		{ID: "def-2", InspectionId: "ins-1", State: models.DeficiencyStateCompleted},
		// Pending and closed belong to neither counter class.
		{ID: "def-3", InspectionId: "ins-1", State: models.DeficiencyStatePending},
		{ID: "def-4", InspectionId: "ins-1", State: models.DeficiencyStateClosed},
		// Deficiency of an untracked inspection is ignored.
		{ID: "def-5", InspectionId: "ins-other", State: models.DeficiencyStateOverdue},
	}

	got := ComputePropertyMeta([]models.Inspection{ins}, deficiencies)
	if got.NumOfRequiredActionsForDeficientItems != 1 {
		t.Fatalf("expected 1 requires-action deficiency, got %d", got.NumOfRequiredActionsForDeficientItems)
	}
	if got.NumOfFollowUpActionsForDeficientItems != 1 {
		t.Fatalf("expected 1 follow-up deficiency, got %d", got.NumOfFollowUpActionsForDeficientItems)
	}
}

func TestMetaEqual_GuardsUnchangedWrites(t *testing.T) {
	ts := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	property := &models.Property{
		NumOfInspections:    2,
		LastInspectionScore: decimal.NewFromInt(65),
		LastInspectionDate:  &ts,
	}
	meta := PropertyMeta{
		NumOfInspections:    2,
		LastInspectionScore: decimal.NewFromInt(65),
		LastInspectionDate:  &ts,
	}
	if !metaEqual(property, meta) {
		t.Fatal("identical state must compare equal")
	}

	meta.NumOfDeficientItems = 1
	if metaEqual(property, meta) {
		t.Fatal("changed counter must compare unequal")
	}

	meta.NumOfDeficientItems = 0
	meta.LastInspectionDate = nil
	if metaEqual(property, meta) {
		t.Fatal("nil versus set date must compare unequal")
	}
}
