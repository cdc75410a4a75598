package deploy

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/cfn"
	"github.com/spirius/gldeploy/pkg/closer"
	"github.com/spirius/gldeploy/pkg/errcode"
)

// Orchestrator runs one deployment at a time through its
// states. All methods are safe for concurrent use; Cancel is
// expected to be called while Start or Confirm is blocked.
type Orchestrator struct {
	deployer *Deployer

	lock       sync.Mutex
	state      State
	req        Request
	cs         *cfn.ChangeSet
	csData     *cfn.ChangeSetData
	closer     *closer.Closer
	cancelled  bool
	cancelOnce sync.Once

	// active is set while Start runs, executed once
	// the change set execution was submitted.
	active   bool
	executed bool
}

// New creates new Orchestrator over deployer.
func New(deployer *Deployer) *Orchestrator {
	return &Orchestrator{
		deployer: deployer,
		state:    NotStarted,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.setStateLocked(s)
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.state != s {
		log.WithField("stack", o.req.StackName).Debugf("deployment state %s -> %s", o.state, s)
	}
	o.state = s
}

func (o *Orchestrator) isCancelled() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.cancelled
}

// recoverPanic converts a panic of an operation into
// a failed outcome.
func (o *Orchestrator) recoverPanic(out *Outcome) {
	if r := recover(); r != nil {
		log.Errorf("deployment panic: %v", r)
		o.setState(Failed)
		*out = Outcome{State: Failed, Code: errcode.UnknownError, Message: fmt.Sprint(r)}
	}
}

// fail moves the deployment into the terminal state
// matching err and returns the outcome.
func (o *Orchestrator) fail(err error) Outcome {
	if o.isCancelled() {
		return o.finishCancelled()
	}
	e := errcode.Classify(err, errcode.UnknownError)
	o.setState(Failed)
	return Outcome{State: Failed, Code: e.Code, Message: e.Message}
}

func (o *Orchestrator) finishCancelled() Outcome {
	o.setState(Cancelled)
	return Outcome{State: Cancelled, Code: errcode.OperationCancelled, Message: "deployment was cancelled"}
}

// Start runs the deployment of req. It returns when the deployment
// reaches a terminal state or AwaitingConfirmation.
func (o *Orchestrator) Start(req Request) (out Outcome) {
	defer o.recoverPanic(&out)

	o.lock.Lock()
	if o.state.isRunning() || o.state == AwaitingConfirmation {
		state := o.state
		o.lock.Unlock()
		return Outcome{State: state, Code: errcode.InvalidParameters, Message: fmt.Sprintf("deployment is already in state %s", state)}
	}
	o.req = req.clone()
	o.state = NotStarted
	o.cs, o.csData = nil, nil
	o.closer = closer.New()
	o.cancelled = false
	o.cancelOnce = sync.Once{}
	o.active, o.executed = true, false
	req, c := o.req, o.closer
	o.lock.Unlock()

	defer func() {
		o.lock.Lock()
		o.active = false
		o.lock.Unlock()
	}()

	if err := req.Validate(); err != nil {
		return Outcome{State: NotStarted, Code: errcode.CodeOf(err), Message: errcode.MessageOf(err)}
	}
	if req.Region != "" && o.deployer.Region != "" && req.Region != o.deployer.Region {
		return Outcome{State: NotStarted, Code: errcode.InvalidParameters,
			Message: fmt.Sprintf("request region %s does not match %s", req.Region, o.deployer.Region)}
	}

	fileParams, err := LoadParameters(req.ParametersPath)
	if err != nil {
		return o.fail(err)
	}

	if _, err := o.deployer.ValidateTemplate(req.TemplatePath); err != nil {
		return o.fail(err)
	}
	if c.IsClosed() {
		return o.finishCancelled()
	}
	o.setState(TemplateValidated)

	if req.BuildFolderPath != "" {
		if req.BuildS3Key == "" {
			req.BuildS3Key = o.deployer.Formatter.BuildS3Key()
		}
		if _, err := o.deployer.UploadBuild(req.BucketName, req.BuildFolderPath, req.BuildS3Key); err != nil {
			return o.fail(err)
		}
		o.setState(BuildUploaded)
	}
	if c.IsClosed() {
		return o.finishCancelled()
	}

	cs, err := o.deployer.CreateChangeSet(req, fileParams)
	if err != nil {
		return o.fail(err)
	}
	o.lock.Lock()
	o.req, o.cs = req, cs
	o.setStateLocked(ChangeSetCreated)
	o.lock.Unlock()

	data, err := o.deployer.waitChangeSet(cs, c)
	if err != nil {
		return o.fail(err)
	}
	if c.IsClosed() {
		o.deleteChangeSet(cs)
		return o.finishCancelled()
	}
	data.IsNew = o.isNewStack(req.StackName)
	o.lock.Lock()
	o.csData = data
	o.lock.Unlock()

	desc := newChangeSetDescription(data)

	switch {
	case !data.Exists():
		o.setState(Failed)
		return Outcome{State: Failed, Code: errcode.ChangeSetNotFound, Message: fmt.Sprintf("change set '%s' not found", data.Name)}
	case data.HasNoChanges():
		o.deleteChangeSet(cs)
		o.setState(NoChanges)
		return Outcome{State: NoChanges, Code: errcode.StackDoesNotHaveChanges, Message: data.StatusReason, ChangeSet: desc}
	case data.IsFailed():
		o.setState(Failed)
		return Outcome{State: Failed, Code: errcode.AwsError, Message: data.StatusReason, ChangeSet: desc}
	case !data.IsExecutable():
		o.setState(Failed)
		return Outcome{State: Failed, Code: errcode.InvalidChangeSetStatus,
			Message: fmt.Sprintf("change set execution status is %s", data.ExecutionStatus), ChangeSet: desc}
	}

	if desc.HasRemovals() || (req.AlwaysConfirm && !data.IsNew) {
		o.setState(AwaitingConfirmation)
		return Outcome{State: AwaitingConfirmation, ChangeSet: desc}
	}
	return o.execute(desc)
}

// isNewStack indicates if stack is created by the current
// deployment, i.e. it is still in review.
func (o *Orchestrator) isNewStack(name string) bool {
	stack, err := o.deployer.newStack(name)
	if err != nil {
		return false
	}
	return !stack.Data().Exists() || stack.Data().IsReviewInProgress()
}

func (o *Orchestrator) deleteChangeSet(cs *cfn.ChangeSet) {
	if err := cs.Delete(); err != nil {
		log.WithError(err).Warnf("cannot delete change set %s", cs.ID())
	}
}

// Confirm resolves AwaitingConfirmation. Approved change set
// is executed, otherwise it is deleted and deployment is cancelled.
func (o *Orchestrator) Confirm(approved bool) (out Outcome) {
	defer o.recoverPanic(&out)

	o.lock.Lock()
	if o.state != AwaitingConfirmation {
		state := o.state
		o.lock.Unlock()
		return Outcome{State: state, Code: errcode.InvalidParameters, Message: fmt.Sprintf("deployment is not awaiting confirmation, state %s", state)}
	}
	cs, data := o.cs, o.csData
	if approved {
		o.setStateLocked(Executing)
	}
	o.lock.Unlock()

	if !approved {
		o.deleteChangeSet(cs)
		return o.finishCancelled()
	}
	return o.execute(newChangeSetDescription(data))
}

// execute runs the change set and polls the stack until
// it reaches a terminal status.
func (o *Orchestrator) execute(desc *ChangeSetDescription) Outcome {
	o.lock.Lock()
	req, cs, c := o.req, o.cs, o.closer
	o.setStateLocked(Executing)
	o.lock.Unlock()

	if c.IsClosed() {
		o.deleteChangeSet(cs)
		return o.finishCancelled()
	}

	events, err := cfn.NewStackEvents(o.deployer.cfnconn, req.StackName)
	if err != nil {
		log.WithError(err).Warn("stack events are not available")
	} else {
		events.Poller = o.deployer.Poller
		eventsCloser := c.Child()
		defer eventsCloser.Close(nil)
		events.Wait(cfn.WaitConfig{Closer: eventsCloser}, func(e *cfn.StackEventData) (bool, error) {
			entry := log.WithFields(log.Fields{
				"stack":    req.StackName,
				"resource": e.LogicalResourceID,
				"type":     e.ResourceType,
			})
			if e.IsFailed() {
				entry.Warnf("%s: %s", e.ResourceStatus, e.ResourceStatusReason)
			} else {
				entry.Info(e.ResourceStatus)
			}
			return true, nil
		})
	}

	o.lock.Lock()
	if o.cancelled || c.IsClosed() {
		o.lock.Unlock()
		o.deleteChangeSet(cs)
		return o.finishCancelled()
	}
	o.lock.Unlock()

	err = cs.Execute()

	o.lock.Lock()
	o.executed = true
	cancelled := o.cancelled
	o.lock.Unlock()

	if err != nil {
		log.WithError(err).Errorf("cannot execute change set %s", cs.ID())
		out := o.fail(errcode.Classify(err, errcode.AwsError))
		out.ChangeSet = desc
		return out
	}
	o.setState(Polling)

	if cancelled {
		// cancelled while execution was submitted
		o.cancelOnce.Do(func() {
			o.cancelUpdate(req.StackName, c)
		})
		out := o.finishCancelled()
		out.ChangeSet = desc
		return out
	}

	stack, err := o.deployer.newStack(req.StackName)
	if err != nil {
		return o.fail(errcode.Classify(err, errcode.AwsError))
	}
	err = stack.Poll(cfn.WaitConfig{Closer: c}, func(sd *cfn.StackData) (bool, error) {
		return !sd.IsTerminal(), nil
	})
	if err != nil {
		return o.fail(errcode.Classify(err, errcode.AwsError))
	}

	sd := stack.Data()
	if sd.IsSucceeded() {
		o.setState(Succeeded)
		return Outcome{
			State: Succeeded,
			DeploymentID: &DeploymentID{
				Profile:      req.Profile,
				Region:       o.deployer.Region,
				StackName:    req.StackName,
				ScenarioName: req.ScenarioName,
			},
			ChangeSet: desc,
			Stack:     newStackDescriptor(sd),
		}
	}
	if o.isCancelled() {
		out := o.finishCancelled()
		out.Stack = newStackDescriptor(sd)
		return out
	}
	o.setState(Failed)
	return Outcome{
		State:     Failed,
		Code:      errcode.AwsError,
		Message:   fmt.Sprintf("%s: %s", sd.Status, sd.StatusReason),
		ChangeSet: desc,
		Stack:     newStackDescriptor(sd),
	}
}

// Cancel stops the running deployment. Stack updates in progress
// are rolled back. Cancelling a finished deployment does nothing.
func (o *Orchestrator) Cancel() (out Outcome) {
	defer o.recoverPanic(&out)

	o.lock.Lock()
	state, req, c := o.state, o.req, o.closer
	switch {
	case state == NotStarted && o.active:
		o.cancelled = true
		o.lock.Unlock()
		c.Close(errcode.New(errcode.OperationCancelled))
		return Outcome{State: Cancelled}
	case state == NotStarted || state.IsTerminal():
		o.lock.Unlock()
		return Outcome{State: state}
	case state == AwaitingConfirmation:
		o.lock.Unlock()
		out = o.Confirm(false)
		if out.Code == errcode.OperationCancelled {
			out.Code, out.Message = "", ""
		}
		return out
	case (state == Executing || state == Polling) && o.executed:
	default:
		// change set is not executed yet
		o.cancelled = true
		o.lock.Unlock()
		c.Close(errcode.New(errcode.OperationCancelled))
		return Outcome{State: Cancelled}
	}
	o.lock.Unlock()

	out = Outcome{State: Cancelled}
	o.cancelOnce.Do(func() {
		out = o.cancelUpdate(req.StackName, c)
	})
	return out
}

// cancelUpdate requests rollback of stack update. Stacks which
// already reached a terminal status are left as they are.
func (o *Orchestrator) cancelUpdate(stackName string, c *closer.Closer) Outcome {
	o.lock.Lock()
	o.cancelled = true
	o.lock.Unlock()

	revert := func() Outcome {
		o.lock.Lock()
		o.cancelled = false
		state := o.state
		o.lock.Unlock()
		return Outcome{State: state}
	}

	stack, err := o.deployer.newStack(stackName)
	if err != nil {
		revert()
		e := errcode.Classify(err, errcode.AwsError)
		return Outcome{State: o.State(), Code: e.Code, Message: e.Message}
	}
	if stack.Data().IsTerminal() {
		return revert()
	}

	err = stack.CancelUpdate(uuid.New().String())
	if err == nil {
		log.WithField("stack", stackName).Info("stack update cancelled")
		return Outcome{State: Cancelled}
	}
	if errcode.AWSCode(err) == "ValidationError" && stack.Refresh() == nil {
		sd := stack.Data()
		if sd.IsTerminal() {
			return revert()
		}
		if sd.Status == cloudformation.StackStatusCreateInProgress {
			// stack creation can not be cancelled, only the wait for it
			log.WithField("stack", stackName).Warn("stack creation continues in background")
			c.Close(errcode.New(errcode.OperationCancelled))
			return Outcome{State: Cancelled}
		}
	}
	log.WithError(err).Errorf("cannot cancel update of %s", stackName)
	revert()
	e := errcode.Classify(errors.Trace(err), errcode.AwsError)
	return Outcome{State: o.State(), Code: e.Code, Message: e.Message}
}

// TeardownOptions configures Teardown.
type TeardownOptions struct {
	// StackName defaults to the stack of the last deployment.
	StackName string

	// ChangeSetName is deleted if set. Defaults to the change
	// set of the last deployment when it was not executed.
	ChangeSetName string

	DeleteStack bool
	Wait        bool
}

// Teardown deletes the change set and optionally the stack.
func (o *Orchestrator) Teardown(opts TeardownOptions) (out Outcome) {
	defer o.recoverPanic(&out)

	o.lock.Lock()
	state := o.state
	if state.isRunning() {
		o.lock.Unlock()
		return Outcome{State: state, Code: errcode.InvalidParameters, Message: fmt.Sprintf("deployment is running, state %s", state)}
	}
	if opts.StackName == "" {
		opts.StackName = o.req.StackName
	}
	if opts.ChangeSetName == "" && o.csData != nil && state != Succeeded && state != Failed {
		opts.ChangeSetName = o.csData.Name
	}
	c := o.closer
	o.lock.Unlock()

	if opts.StackName == "" {
		return Outcome{State: state, Code: errcode.InvalidParameters, Message: "stack name is required"}
	}

	if opts.ChangeSetName != "" {
		if err := o.deployer.DeleteChangeSet(opts.StackName, opts.ChangeSetName); err != nil {
			e := errcode.Classify(err, errcode.AwsError)
			return Outcome{State: state, Code: e.Code, Message: e.Message}
		}
		if state == AwaitingConfirmation {
			o.setState(Cancelled)
			state = Cancelled
		}
	}

	if !opts.DeleteStack {
		return Outcome{State: state}
	}
	if c == nil {
		c = closer.New()
	}
	sd, err := o.deployer.DeleteStack(opts.StackName, opts.Wait, c)
	if err != nil {
		e := errcode.Classify(err, errcode.AwsError)
		return Outcome{State: state, Code: e.Code, Message: e.Message, Stack: sd}
	}
	return Outcome{State: state, Stack: sd}
}
