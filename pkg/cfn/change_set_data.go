package cfn

import (
	"strings"

	"github.com/aws/aws-sdk-go/service/cloudformation"
)

const (
	// ChangeSetStatusNotFound is the State of change set,
	// when change set is not found.
	ChangeSetStatusNotFound = "CHANGE_SET_NOT_FOUND"
)

// Status reasons reported for change sets without changes.
var noChangesReasons = []string{
	"The submitted information didn't contain changes.",
	"No updates are to be performed.",
}

// ChangeSetData is the data structure
// containing change set information.
type ChangeSetData struct {
	ID              string
	Name            string
	Status          string
	StatusReason    string
	ExecutionStatus string
	StackData       *StackData

	IsNew   bool
	Changes []*cloudformation.ResourceChange
}

// IsInProgress indicates if change set is currently
// being updated.
func (c ChangeSetData) IsInProgress() bool {
	return c.Status == cloudformation.ChangeSetStatusCreatePending ||
		c.Status == cloudformation.ChangeSetStatusCreateInProgress
}

// IsComplete indicates if change set is in
// completed state.
func (c ChangeSetData) IsComplete() bool {
	return c.Status == cloudformation.ChangeSetStatusCreateComplete
}

// IsFailed indicates if change set is in
// failed state. Note, that if change set doesn't contain
// any changes, false is returned.
func (c ChangeSetData) IsFailed() bool {
	return c.Status == cloudformation.ChangeSetStatusFailed && !c.HasNoChanges()
}

// HasNoChanges indicates if change set failed
// because it does not contain any changes.
func (c ChangeSetData) HasNoChanges() bool {
	if c.Status != cloudformation.ChangeSetStatusFailed {
		return false
	}
	for _, reason := range noChangesReasons {
		if strings.HasPrefix(c.StatusReason, reason) {
			return true
		}
	}
	return false
}

// Exists indicates if change set exists.
func (c ChangeSetData) Exists() bool {
	return c.Status != ChangeSetStatusNotFound
}

// IsExecutable indicates if change set can be executed.
func (c ChangeSetData) IsExecutable() bool {
	return c.ExecutionStatus == cloudformation.ExecutionStatusAvailable
}

// IsReady indicates if change set left the transient
// creation states and either failed or its execution status is known.
func (c ChangeSetData) IsReady() bool {
	if c.IsInProgress() {
		return false
	}
	return c.Status == cloudformation.ChangeSetStatusFailed ||
		c.ExecutionStatus != cloudformation.ExecutionStatusUnavailable
}

// HasRemovals indicates if any planned change removes a resource.
func (c ChangeSetData) HasRemovals() bool {
	for _, change := range c.Changes {
		if change != nil && change.Action != nil && *change.Action == cloudformation.ChangeActionRemove {
			return true
		}
	}
	return false
}
