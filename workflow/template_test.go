package workflow

import (
	"testing"

	"github.com/proplens/inspections_backend/models"
)

func TestCategoryStrip_SelectsOnlyMembers(t *testing.T) {
	templates := []models.Template{
		{ID: "tpl-1", Category: "cat-1"},
		{ID: "tpl-2", Category: "cat-2"},
		{ID: "tpl-3", Category: "cat-1"},
		{ID: "tpl-4", Category: ""},
	}

	got := CategoryStrip(templates, "cat-1")
	if len(got) != 2 || got[0] != "tpl-1" || got[1] != "tpl-3" {
		t.Fatalf("expected [tpl-1 tpl-3], got %v", got)
	}
}

func TestCategoryStrip_NoMembers(t *testing.T) {
	templates := []models.Template{
		{ID: "tpl-1", Category: "cat-1"},
	}
	if got := CategoryStrip(templates, "cat-9"); len(got) != 0 {
		t.Fatalf("expected no members, got %v", got)
	}
}
