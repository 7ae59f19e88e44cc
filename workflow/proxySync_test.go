package workflow

import (
	"testing"

	"github.com/proplens/inspections_backend/models"
	"github.com/shopspring/decimal"
)

// applyPlanToState simulates the target store so planning can be exercised
// without a database.
func applyPlanToState(plan InspectionSyncPlan, propProxies []models.PropertyInspectionProxy, completedProxies []models.CompletedInspectionProxy) ([]models.PropertyInspectionProxy, []models.CompletedInspectionProxy) {
	propById := map[string]models.PropertyInspectionProxy{}
	for _, p := range propProxies {
		propById[p.ID] = p
	}
	completedById := map[string]models.CompletedInspectionProxy{}
	for _, p := range completedProxies {
		completedById[p.ID] = p
	}

	for _, up := range plan.PropertyUpserts {
		propById[up.ID] = up
	}
	for _, id := range plan.PropertyDeletes {
		delete(propById, id)
	}
	for _, up := range plan.CompletedUpserts {
		completedById[up.ID] = up
	}
	for _, id := range plan.CompletedDeletes {
		delete(completedById, id)
	}

	var outProp []models.PropertyInspectionProxy
	for _, p := range propById {
		outProp = append(outProp, p)
	}
	var outCompleted []models.CompletedInspectionProxy
	for _, p := range completedById {
		outCompleted = append(outCompleted, p)
	}
	return outProp, outCompleted
}

func TestPlanInspectionProxySync_SecondRunIsEmpty(t *testing.T) {
	score := decimal.NewFromInt(65)
	sources := []models.Inspection{
		*testInspection("ins-1", true, &score),
		*testInspection("ins-2", false, nil),
	}

	plan := PlanInspectionProxySync(sources, nil, nil)
	if plan.Empty() {
		t.Fatal("first run against empty targets must produce writes")
	}

	propProxies, completedProxies := applyPlanToState(plan, nil, nil)
	second := PlanInspectionProxySync(sources, propProxies, completedProxies)
	if !second.Empty() {
		t.Fatalf("second run on an unchanged source must be empty, got %+v", second)
	}
}

func TestPlanInspectionProxySync_DeletesOrphans(t *testing.T) {
	orphanProp := []models.PropertyInspectionProxy{{ID: "gone-1", PropertyId: "prop-1"}}
	orphanCompleted := []models.CompletedInspectionProxy{{ID: "gone-2", PropertyId: "prop-1"}}

	plan := PlanInspectionProxySync(nil, orphanProp, orphanCompleted)
	if len(plan.PropertyDeletes) != 1 || plan.PropertyDeletes[0] != "gone-1" {
		t.Fatalf("expected property orphan delete, got %v", plan.PropertyDeletes)
	}
	if len(plan.CompletedDeletes) != 1 || plan.CompletedDeletes[0] != "gone-2" {
		t.Fatalf("expected completed orphan delete, got %v", plan.CompletedDeletes)
	}
}

func TestPlanInspectionProxySync_CompletedFlagToggle(t *testing.T) {
	score := decimal.NewFromInt(80)
	completed := testInspection("ins-1", true, &score)
	sources := []models.Inspection{*completed}

	plan := PlanInspectionProxySync(sources, nil, nil)
	if len(plan.CompletedUpserts) != 1 {
		t.Fatalf("toggling completed on must create the proxy, got %+v", plan)
	}

	propProxies, completedProxies := applyPlanToState(plan, nil, nil)

	// Flag flips off: the completed proxy must be deleted, not left stale.
	sources[0].InspectionCompleted = false
	plan = PlanInspectionProxySync(sources, propProxies, completedProxies)
	if len(plan.CompletedDeletes) != 1 || plan.CompletedDeletes[0] != "ins-1" {
		t.Fatalf("toggling completed off must delete the proxy, got %+v", plan)
	}
}

func TestPlanInspectionProxySync_DriftedProxyIsRewritten(t *testing.T) {
	score := decimal.NewFromInt(65)
	sources := []models.Inspection{*testInspection("ins-1", true, &score)}
	plan := PlanInspectionProxySync(sources, nil, nil)
	propProxies, completedProxies := applyPlanToState(plan, nil, nil)

	// Simulate drift in the target store.
	propProxies[0].InspectorName = "stale"

	plan = PlanInspectionProxySync(sources, propProxies, completedProxies)
	if len(plan.PropertyUpserts) != 1 {
		t.Fatalf("drifted proxy must be rewritten, got %+v", plan)
	}
	if plan.PropertyUpserts[0].InspectorName != "Dana Reeves" {
		t.Fatalf("rewrite must restore the source value, got %q", plan.PropertyUpserts[0].InspectorName)
	}
}
