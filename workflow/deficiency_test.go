package workflow

import (
	"testing"
	"time"

	"github.com/proplens/inspections_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deficiencyTestTemplate() models.InspectionTemplate {
	return models.InspectionTemplate{
		TrackDeficientItems: true,
		Sections: map[string]models.InspectionSection{
			"sec-1": {ID: "sec-1", Index: 0, Title: "Unit 101", SectionType: "multi"},
			"sec-2": {ID: "sec-2", Index: 1, Title: "Exterior", SectionType: "single"},
		},
		Items: map[string]models.InspectionItem{
			"item-1": {
				ID: "item-1", Index: 2, Title: "Smoke detector", ItemType: "main",
				SectionId: "sec-1", MainInputType: "twoactions_checkmarkx",
				MainInputSelected: true, MainInputSelection: 1,
				DeficientIndexes: []int{1},
			},
			"item-2": {
				ID: "item-2", Index: 0, Title: "Door lock", ItemType: "main",
				SectionId: "sec-1", MainInputType: "twoactions_checkmarkx",
				MainInputSelected: true, MainInputSelection: 1,
				DeficientIndexes: []int{1},
			},
			"item-3": {
				ID: "item-3", Index: 1, ItemType: "text_input",
				SectionId: "sec-1", TextInputValue: "Bedroom A",
			},
			"item-4": {
				ID: "item-4", Index: 0, ItemType: "text_input",
				SectionId: "sec-1", TextInputValue: "Apartment 101",
			},
			"item-5": {
				ID: "item-5", Index: 3, Title: "Gutters", ItemType: "main",
				SectionId: "sec-2", MainInputType: "twoactions_checkmarkx",
				MainInputSelected: true, MainInputSelection: 0,
				DeficientIndexes: []int{1},
			},
		},
	}
}

func TestIsItemDeficient(t *testing.T) {
	item := models.InspectionItem{
		ItemType:           "main",
		MainInputSelected:  true,
		MainInputSelection: 1,
		DeficientIndexes:   []int{1, 2},
	}
	assert.True(t, IsItemDeficient(item))

	notSelected := item
	notSelected.MainInputSelected = false
	assert.False(t, IsItemDeficient(notSelected), "unanswered items are never deficient")

	cleanSelection := item
	cleanSelection.MainInputSelection = 0
	assert.False(t, IsItemDeficient(cleanSelection))

	textInput := item
	textInput.ItemType = "text_input"
	assert.False(t, IsItemDeficient(textInput), "only main items carry deficiency semantics")
}

func TestDeficientItemsOf_OrderedByIndex(t *testing.T) {
	ins := testInspection("ins-1", true, nil)
	require.NoError(t, ins.SetTemplate(deficiencyTestTemplate()))

	items := DeficientItemsOf(ins)
	require.Len(t, items, 2)
	assert.Equal(t, "item-2", items[0].ID)
	assert.Equal(t, "item-1", items[1].ID)
}

func TestSectionSubtitle(t *testing.T) {
	tpl := deficiencyTestTemplate()

	// Multi section: lowest-index text input wins.
	got := SectionSubtitle(tpl, tpl.Items["item-1"])
	assert.Equal(t, "Apartment 101", got)

	// Single sections carry no subtitle.
	got = SectionSubtitle(tpl, tpl.Items["item-5"])
	assert.Equal(t, "", got)
}

func TestItemDataLastUpdated(t *testing.T) {
	ins := testInspection("ins-1", true, nil)

	item := models.InspectionItem{ID: "item-1"}
	assert.True(t, ItemDataLastUpdated(ins, item).Equal(ins.UpdatedLastDate),
		"no admin edits falls back to the inspection update date")

	item.AdminEdits = map[string]models.AdminEdit{
		"edit-1": {EditDate: 1767225600},
		"edit-2": {EditDate: 1798761600},
	}
	got := ItemDataLastUpdated(ins, item)
	assert.Equal(t, time.Unix(1798761600, 0).UTC(), got)
}

func TestApplyItemAttributes_ChangeDetection(t *testing.T) {
	ins := testInspection("ins-1", true, nil)
	require.NoError(t, ins.SetTemplate(deficiencyTestTemplate()))
	item := ins.Template().Items["item-1"]

	def := &models.DeficientItem{}
	assert.True(t, ApplyItemAttributes(def, ins, item), "first copy must report changes")
	assert.Equal(t, "Smoke detector", def.ItemTitle)
	assert.Equal(t, "Unit 101", def.SectionTitle)
	assert.Equal(t, "Apartment 101", def.SectionSubtitle)
	assert.Equal(t, "twoactions_checkmarkx", def.ItemMainInputType)
	assert.Equal(t, 1, def.ItemMainInputSelection)

	assert.False(t, ApplyItemAttributes(def, ins, item), "second copy of identical data is a no-op")

	item.InspectorNotes = "replaced battery"
	assert.True(t, ApplyItemAttributes(def, ins, item))
	assert.Equal(t, "replaced battery", def.ItemInspectorNotes)
}

func TestNewDeficientItem_StartsInRequiresAction(t *testing.T) {
	ins := testInspection("ins-1", true, nil)
	require.NoError(t, ins.SetTemplate(deficiencyTestTemplate()))
	item := ins.Template().Items["item-1"]
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	def := NewDeficientItem(ins, item, now)
	require.NotEmpty(t, def.ID)
	assert.Equal(t, ins.PropertyId, def.PropertyId)
	assert.Equal(t, ins.ID, def.InspectionId)
	assert.Equal(t, item.ID, def.ItemId)
	assert.Equal(t, models.DeficiencyStateRequiresAction, def.State)

	history := def.StateHistory()
	require.Len(t, history, 1)
	for _, entry := range history {
		assert.Equal(t, models.DeficiencyStateRequiresAction, entry.State)
		assert.Equal(t, ins.Inspector, entry.User)
		assert.Equal(t, now.Unix(), entry.CreatedAt)
	}
}
