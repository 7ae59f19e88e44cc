package models

// DeficiencyState is the closed lifecycle set for a deficient item.
// Transitions are not strictly linear; overdue is time-derived from the
// requires-action class, closed is terminal.
type DeficiencyState string

const (
	DeficiencyStateRequiresAction         DeficiencyState = "requires-action"
	DeficiencyStateGoBack                 DeficiencyState = "go-back"
	DeficiencyStatePending                DeficiencyState = "pending"
	DeficiencyStateRequiresProgressUpdate DeficiencyState = "requires-progress-update"
	DeficiencyStateOverdue                DeficiencyState = "overdue"
	DeficiencyStateCompleted              DeficiencyState = "completed"
	DeficiencyStateIncomplete             DeficiencyState = "incomplete"
	DeficiencyStateGoBackSelected         DeficiencyState = "go-back-selected"
	DeficiencyStateClosed                 DeficiencyState = "closed"
)

// RequiresActionStates and FollowUpActionStates are fixed, mutually exclusive
// groupings used for property counters and reporting. They are configuration,
// not computed; pending and closed belong to neither.
var RequiresActionStates = []DeficiencyState{
	DeficiencyStateRequiresAction,
	DeficiencyStateGoBack,
	DeficiencyStateRequiresProgressUpdate,
	DeficiencyStateOverdue,
}

var FollowUpActionStates = []DeficiencyState{
	DeficiencyStateCompleted,
	DeficiencyStateIncomplete,
	DeficiencyStateGoBackSelected,
}

func (s DeficiencyState) IsValid() bool {
	switch s {
	case DeficiencyStateRequiresAction, DeficiencyStateGoBack, DeficiencyStatePending,
		DeficiencyStateRequiresProgressUpdate, DeficiencyStateOverdue, DeficiencyStateCompleted,
		DeficiencyStateIncomplete, DeficiencyStateGoBackSelected, DeficiencyStateClosed:
		return true
	}
	return false
}

func (s DeficiencyState) RequiresAction() bool {
	for _, v := range RequiresActionStates {
		if v == s {
			return true
		}
	}
	return false
}

func (s DeficiencyState) FollowUpAction() bool {
	for _, v := range FollowUpActionStates {
		if v == s {
			return true
		}
	}
	return false
}

type ChangeReferenceType string

const (
	ChangeReferenceTypeInspection       ChangeReferenceType = "IS"
	ChangeReferenceTypeProperty         ChangeReferenceType = "PR"
	ChangeReferenceTypeTemplate         ChangeReferenceType = "TP"
	ChangeReferenceTypeTemplateCategory ChangeReferenceType = "TC"
	ChangeReferenceTypeDeficientItem    ChangeReferenceType = "DI"
	ChangeReferenceTypeReconcile        ChangeReferenceType = "RC"
)

type ChangeEventAction string

const (
	ChangeEventActionCreate ChangeEventAction = "C"
	ChangeEventActionUpdate ChangeEventAction = "U"
	ChangeEventActionDelete ChangeEventAction = "D"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
