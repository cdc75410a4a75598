package deploy

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/spirius/gldeploy/pkg/cfn"
	"github.com/spirius/gldeploy/pkg/errcode"
)

// State is the state of a deployment.
type State string

// Deployment states.
const (
	NotStarted           State = "NotStarted"
	TemplateValidated    State = "TemplateValidated"
	BuildUploaded        State = "BuildUploaded"
	ChangeSetCreated     State = "ChangeSetCreated"
	AwaitingConfirmation State = "AwaitingConfirmation"
	Executing            State = "Executing"
	Polling              State = "Polling"
	Succeeded            State = "Succeeded"
	Failed               State = "Failed"
	Cancelled            State = "Cancelled"

	// NoChanges is reached when the change set contains
	// no changes. It is terminal, but not a failure of the stack.
	NoChanges State = "NoChanges"
)

// IsTerminal indicates if no further transition happens
// without starting a new deployment.
func (s State) IsTerminal() bool {
	switch s {
	case Succeeded, Failed, Cancelled, NoChanges:
		return true
	}
	return false
}

// isRunning indicates if an operation is currently
// driving the deployment.
func (s State) isRunning() bool {
	switch s {
	case TemplateValidated, BuildUploaded, ChangeSetCreated, Executing, Polling:
		return true
	}
	return false
}

// Request describes a single deployment attempt.
// It is copied when the deployment starts.
type Request struct {
	Profile      string
	Region       string
	BucketName   string
	ScenarioName string
	GameName     string

	TemplatePath   string
	ParametersPath string

	StackName     string
	ChangeSetName string

	// BuildFolderPath is set only for scenarios with a game server.
	BuildFolderPath string
	BuildS3Key      string

	// LambdaFolderPath is the folder of lambda functions
	// uploaded along with the template.
	LambdaFolderPath string

	IsDevelopmentBuild bool

	// AlwaysConfirm requests confirmation for every update
	// of an existing stack, not only for removals.
	AlwaysConfirm bool

	// Parameters override values of the parameters file.
	Parameters map[string]string
}

func (r Request) clone() Request {
	res := r
	if r.Parameters != nil {
		res.Parameters = make(map[string]string, len(r.Parameters))
		for k, v := range r.Parameters {
			res.Parameters[k] = v
		}
	}
	return res
}

// Validate checks that all mandatory fields are set.
func (r Request) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"bucket name", r.BucketName},
		{"template path", r.TemplatePath},
		{"parameters path", r.ParametersPath},
		{"stack name", r.StackName},
	}
	var missing []string
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return errcode.Newf(errcode.InvalidParameters, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// DeploymentID identifies a completed deployment for
// subsequent status queries.
type DeploymentID struct {
	Profile      string
	Region       string
	StackName    string
	ScenarioName string
}

func (id DeploymentID) String() string {
	return strings.Join([]string{id.Profile, id.Region, id.StackName, id.ScenarioName}, "/")
}

// ParseDeploymentID parses the output of DeploymentID.String.
func ParseDeploymentID(s string) (DeploymentID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 || parts[1] == "" || parts[2] == "" {
		return DeploymentID{}, errcode.Newf(errcode.InvalidParameters, "invalid deployment id '%s'", s)
	}
	return DeploymentID{
		Profile:      parts[0],
		Region:       parts[1],
		StackName:    parts[2],
		ScenarioName: parts[3],
	}, nil
}

// Change is a planned change of a single resource.
type Change struct {
	Action       string
	LogicalID    string
	PhysicalID   string
	ResourceType string
	Replacement  string
	Module       string
}

// ChangeSetDescription describes the changes a
// change set performs when executed.
type ChangeSetDescription struct {
	StackID         string
	StackName       string
	ChangeSetID     string
	ChangeSetName   string
	Status          string
	StatusReason    string
	ExecutionStatus string
	Changes         []Change

	// Parameters are the stack parameters the change set applies.
	Parameters map[string]string
}

// HasRemovals indicates if any change removes a resource.
func (c ChangeSetDescription) HasRemovals() bool {
	for _, change := range c.Changes {
		if change.Action == "Remove" {
			return true
		}
	}
	return false
}

func newChangeSetDescription(data *cfn.ChangeSetData) *ChangeSetDescription {
	d := &ChangeSetDescription{
		ChangeSetID:     data.ID,
		ChangeSetName:   data.Name,
		Status:          data.Status,
		StatusReason:    data.StatusReason,
		ExecutionStatus: data.ExecutionStatus,
		Changes:         make([]Change, 0, len(data.Changes)),
		Parameters:      make(map[string]string),
	}
	if data.StackData != nil {
		d.StackID = data.StackData.ID
		d.StackName = data.StackData.Name
		for k, v := range data.StackData.Parameters {
			d.Parameters[k] = v
		}
	}
	for _, rc := range data.Changes {
		if rc == nil {
			continue
		}
		c := Change{
			Action:       aws.StringValue(rc.Action),
			LogicalID:    aws.StringValue(rc.LogicalResourceId),
			PhysicalID:   aws.StringValue(rc.PhysicalResourceId),
			ResourceType: aws.StringValue(rc.ResourceType),
			Replacement:  aws.StringValue(rc.Replacement),
		}
		if rc.ModuleInfo != nil {
			c.Module = aws.StringValue(rc.ModuleInfo.LogicalIdHierarchy)
		}
		d.Changes = append(d.Changes, c)
	}
	return d
}

// StackDescriptor describes the current state of a stack.
type StackDescriptor struct {
	StackID         string
	StackName       string
	Status          string
	StatusReason    string
	Outputs         map[string]string
	LastUpdatedTime time.Time
	GameName        string
	Parameters      map[string]string
}

func newStackDescriptor(sd *cfn.StackData) *StackDescriptor {
	if sd == nil {
		return nil
	}
	d := &StackDescriptor{
		StackID:         sd.ID,
		StackName:       sd.Name,
		Status:          sd.Status,
		StatusReason:    sd.StatusReason,
		Outputs:         make(map[string]string, len(sd.Outputs)),
		LastUpdatedTime: sd.LastUpdatedTime,
		GameName:        sd.Parameters[GameNameParameter],
		Parameters:      make(map[string]string, len(sd.Parameters)),
	}
	if d.LastUpdatedTime.IsZero() {
		d.LastUpdatedTime = sd.CreationTime
	}
	for k, v := range sd.Outputs {
		d.Outputs[k] = v
	}
	for k, v := range sd.Parameters {
		d.Parameters[k] = v
	}
	return d
}

// Outcome is the result of an orchestrator operation. Code
// is empty on success.
type Outcome struct {
	State   State
	Code    errcode.Code
	Message string

	// DeploymentID is set when deployment succeeds.
	DeploymentID *DeploymentID

	ChangeSet *ChangeSetDescription
	Stack     *StackDescriptor
}

// Success indicates if the operation succeeded.
func (o Outcome) Success() bool {
	return o.Code == ""
}

// Err returns the outcome as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Success() {
		return nil
	}
	return &errcode.Error{Code: o.Code, Message: o.Message}
}

func (o Outcome) String() string {
	if o.Success() {
		return string(o.State)
	}
	return fmt.Sprintf("%s (%s)", o.State, o.Err())
}
