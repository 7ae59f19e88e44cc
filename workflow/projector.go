package workflow

import (
	"github.com/proplens/inspections_backend/models"
)

// InspectionProxyPolicy is the explicit field policy for one proxy target.
// Exclusion lists are enumerated, never inferred, so drift between targets is
// visible in one place (the proxy struct shapes must agree with these lists;
// a test holds them together).
type InspectionProxyPolicy struct {
	Name          string
	ExcludeFields []string
	Guard         func(*models.Inspection) bool
}

var PropertyInspectionsPolicy = InspectionProxyPolicy{
	Name: "propertyInspections",
	// property is the scoping column of the target table, not a projected field.
	ExcludeFields: []string{"property"},
	Guard:         func(*models.Inspection) bool { return true },
}

var CompletedInspectionsPolicy = InspectionProxyPolicy{
	Name:          "completedInspections",
	ExcludeFields: []string{"items_completed", "total_items"},
	Guard:         func(ins *models.Inspection) bool { return ins.InspectionCompleted },
}

// ProjectPropertyInspection computes the property-scoped proxy of an
// inspection. Score sanitization happens here once so every target is
// consistent. The source is never mutated.
func ProjectPropertyInspection(ins *models.Inspection) *models.PropertyInspectionProxy {
	if ins == nil || !PropertyInspectionsPolicy.Guard(ins) {
		return nil
	}
	return &models.PropertyInspectionProxy{
		ID:                  ins.ID,
		PropertyId:          ins.PropertyId,
		TemplateName:        ins.TemplateName,
		TemplateCategory:    ins.TemplateCategory,
		Inspector:           ins.Inspector,
		InspectorName:       ins.InspectorName,
		CreationDate:        ins.CreationDate,
		UpdatedLastDate:     ins.UpdatedLastDate,
		Score:               ins.NormalizedScore(),
		DeficienciesExist:   ins.DeficienciesExist,
		ItemsCompleted:      ins.ItemsCompleted,
		TotalItems:          ins.TotalItems,
		InspectionCompleted: ins.InspectionCompleted,
	}
}

// ProjectCompletedInspection computes the global completed-inspection proxy.
// Returns nil when the guard fails; callers treat nil as "delete the proxy if
// present" — the proxy exists iff the source inspection is completed.
func ProjectCompletedInspection(ins *models.Inspection) *models.CompletedInspectionProxy {
	if ins == nil || !CompletedInspectionsPolicy.Guard(ins) {
		return nil
	}
	return &models.CompletedInspectionProxy{
		ID:                ins.ID,
		PropertyId:        ins.PropertyId,
		TemplateName:      ins.TemplateName,
		TemplateCategory:  ins.TemplateCategory,
		Inspector:         ins.Inspector,
		InspectorName:     ins.InspectorName,
		CreationDate:      ins.CreationDate,
		UpdatedLastDate:   ins.UpdatedLastDate,
		Score:             ins.NormalizedScore(),
		DeficienciesExist: ins.DeficienciesExist,
	}
}

// ProjectTemplateList folds the category name into the global template proxy
// by a point read the caller performs at sync time; category may be nil.
func ProjectTemplateList(tpl *models.Template, category *models.TemplateCategory) *models.TemplateListProxy {
	if tpl == nil {
		return nil
	}
	proxy := &models.TemplateListProxy{
		ID:          tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		Category:    tpl.Category,
	}
	if category != nil {
		proxy.CategoryName = category.Name
	}
	return proxy
}

func ProjectPropertyTemplate(propertyId string, tpl *models.Template, category *models.TemplateCategory) *models.PropertyTemplateProxy {
	if tpl == nil {
		return nil
	}
	proxy := &models.PropertyTemplateProxy{
		PropertyId:  propertyId,
		TemplateId:  tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		Category:    tpl.Category,
	}
	if category != nil {
		proxy.CategoryName = category.Name
	}
	return proxy
}
