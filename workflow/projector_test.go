package workflow

import (
	"testing"
	"time"

	"github.com/proplens/inspections_backend/models"
	"github.com/shopspring/decimal"
)

func testInspection(id string, completed bool, score *decimal.Decimal) *models.Inspection {
	return &models.Inspection{
		ID:                  id,
		PropertyId:          "prop-1",
		TemplateName:        "Fire Safety",
		TemplateCategory:    "cat-1",
		Inspector:           "user-1",
		InspectorName:       "Dana Reeves",
		CreationDate:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedLastDate:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Score:               score,
		ItemsCompleted:      7,
		TotalItems:          10,
		InspectionCompleted: completed,
	}
}

func TestProjectPropertyInspection_NilScoreProjectsZero(t *testing.T) {
	proxy := ProjectPropertyInspection(testInspection("ins-1", false, nil))
	if proxy == nil {
		t.Fatal("expected a proxy for every inspection")
	}
	if !proxy.Score.Equal(decimal.Zero) {
		t.Fatalf("expected zero score, got %s", proxy.Score)
	}
}

func TestProjectPropertyInspection_NegativeScoreProjectsZero(t *testing.T) {
	neg := decimal.NewFromInt(-5)
	proxy := ProjectPropertyInspection(testInspection("ins-1", false, &neg))
	if !proxy.Score.Equal(decimal.Zero) {
		t.Fatalf("expected zero score, got %s", proxy.Score)
	}
}

func TestProjectCompletedInspection_GuardedByCompletedFlag(t *testing.T) {
	if got := ProjectCompletedInspection(testInspection("ins-1", false, nil)); got != nil {
		t.Fatal("expected nil proxy for an incomplete inspection")
	}
	score := decimal.NewFromInt(80)
	got := ProjectCompletedInspection(testInspection("ins-1", true, &score))
	if got == nil {
		t.Fatal("expected a proxy for a completed inspection")
	}
	if !got.Score.Equal(score) {
		t.Fatalf("expected score %s, got %s", score, got.Score)
	}
}

func TestProjectPropertyInspection_CopiesAllProjectedFields(t *testing.T) {
	score := decimal.NewFromInt(65)
	ins := testInspection("ins-1", true, &score)
	ins.DeficienciesExist = true

	proxy := ProjectPropertyInspection(ins)
	if proxy.ID != ins.ID ||
		proxy.PropertyId != ins.PropertyId ||
		proxy.TemplateName != ins.TemplateName ||
		proxy.TemplateCategory != ins.TemplateCategory ||
		proxy.Inspector != ins.Inspector ||
		proxy.InspectorName != ins.InspectorName ||
		!proxy.CreationDate.Equal(ins.CreationDate) ||
		!proxy.UpdatedLastDate.Equal(ins.UpdatedLastDate) ||
		proxy.DeficienciesExist != ins.DeficienciesExist ||
		proxy.ItemsCompleted != ins.ItemsCompleted ||
		proxy.TotalItems != ins.TotalItems ||
		proxy.InspectionCompleted != ins.InspectionCompleted {
		t.Fatalf("projection dropped or altered a field: %+v", proxy)
	}
}

func TestProjectTemplateList_FoldsCategoryName(t *testing.T) {
	tpl := &models.Template{ID: "tpl-1", Name: "Move In", Category: "cat-1"}
	category := &models.TemplateCategory{ID: "cat-1", Name: "Residential"}

	proxy := ProjectTemplateList(tpl, category)
	if proxy.CategoryName != "Residential" {
		t.Fatalf("expected folded category name, got %q", proxy.CategoryName)
	}

	proxy = ProjectTemplateList(tpl, nil)
	if proxy.CategoryName != "" {
		t.Fatalf("expected empty category name without a category record, got %q", proxy.CategoryName)
	}
}
