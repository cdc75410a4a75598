package gamelift

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spirius/gldeploy/pkg/deploy"
)

// DiffString is helper type for tracking
// changes in string values.
type DiffString struct {
	Old, New string

	// Added and Removed are set if the key is missing
	// on the respective side.
	Added, Removed bool
}

// String returns string representation of diff.
func (d DiffString) String() string {
	switch {
	case d.Added:
		return strconv.Quote(d.New)
	case d.Removed:
		return strconv.Quote(d.Old)
	case d.IsEqual():
		return strconv.Quote(d.Old)
	}
	return fmt.Sprintf(`%s => %s`, strconv.Quote(d.Old), strconv.Quote(d.New))
}

// IsEqual indicates if underlying strings are equal.
func (d DiffString) IsEqual() bool {
	return !d.Added && !d.Removed && d.Old == d.New
}

// DiffStringMap is map of string diffs.
type DiffStringMap map[string]DiffString

// HasChange indicates if any value differs.
func (d DiffStringMap) HasChange() bool {
	for _, diff := range d {
		if !diff.IsEqual() {
			return true
		}
	}
	return false
}

// Keys returns the sorted keys of the map.
func (d DiffStringMap) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newDiffStringMap(src, dst map[string]string) DiffStringMap {
	res := make(DiffStringMap, len(src))
	for k, v := range src {
		res[k] = DiffString{Old: v, Removed: true}
	}
	for k, v := range dst {
		r, ok := res[k]
		if ok {
			r.New, r.Removed = v, false
		} else {
			r = DiffString{New: v, Added: true}
		}
		res[k] = r
	}
	return res
}

// Plan is the reviewable summary of a pending change set.
type Plan struct {
	ChangeSet  *deploy.ChangeSetDescription
	Parameters DiffStringMap
}

// NewPlan compares parameters of the change set with the current
// stack. Stack is nil when the change set creates it.
func NewPlan(cs *deploy.ChangeSetDescription, stack *deploy.StackDescriptor) *Plan {
	var current map[string]string
	if stack != nil {
		current = stack.Parameters
	}
	return &Plan{
		ChangeSet:  cs,
		Parameters: newDiffStringMap(current, cs.Parameters),
	}
}
