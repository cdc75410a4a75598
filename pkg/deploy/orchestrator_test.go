package deploy

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/stretchr/testify/require"

	"github.com/spirius/gldeploy/pkg/errcode"
)

func removalChange(logicalID string) *cloudformation.Change {
	return &cloudformation.Change{
		ResourceChange: &cloudformation.ResourceChange{
			Action:            aws.String(cloudformation.ChangeActionRemove),
			LogicalResourceId: aws.String(logicalID),
			ResourceType:      aws.String("AWS::GameLift::Fleet"),
		},
	}
}

func TestStart(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	o := New(env.deployer)

	require.Equal(NotStarted, o.State())

	out := o.Start(env.request())
	require.True(out.Success(), out.String())
	require.Nil(out.Err())
	require.Equal(Succeeded, out.State)
	require.Equal(Succeeded, o.State())
	require.Equal("default/us-west-2/GameLiftPluginForUnity-mygame/single-region-fleet", out.DeploymentID.String())
	require.Equal(cloudformation.StackStatusCreateComplete, out.Stack.Status)

	require.Equal(cloudformation.StackStatusCreateComplete, env.cfnconn.StackStatus(testStackName))
	require.Equal(1, env.cfnconn.Calls("ExecuteChangeSet"))
	require.Equal([]string{"CloudFormation/cloudformation_42.yml"}, env.s3conn.Keys(testBucket))
}

func TestStart_build(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	o := New(env.deployer)

	req := env.request()
	req.BuildFolderPath = env.writeFolder("build", map[string]string{"server.x86_64": "binary"})

	out := o.Start(req)
	require.True(out.Success(), out.String())
	require.Equal(Succeeded, out.State)

	require.Equal([]string{"CloudFormation/cloudformation_42.yml", "GameLift_Build_42.zip"}, env.s3conn.Keys(testBucket))
	require.Empty(env.tempFiles())
}

func TestStart_confirmRemovals(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	env.cfnconn.ChangeSetTemplate.Changes = []*cloudformation.Change{removalChange("Fleet")}

	o := New(env.deployer)
	out := o.Start(env.request())
	require.True(out.Success(), out.String())
	require.Equal(AwaitingConfirmation, out.State)
	require.Equal(AwaitingConfirmation, o.State())
	require.True(out.ChangeSet.HasRemovals())
	require.Equal("Fleet", out.ChangeSet.Changes[0].LogicalID)
	require.Equal(0, env.cfnconn.Calls("ExecuteChangeSet"))

	// second deployment is rejected until confirmation
	again := o.Start(env.request())
	require.Equal(errcode.InvalidParameters, again.Code)
	require.Equal(AwaitingConfirmation, o.State())

	out = o.Confirm(true)
	require.True(out.Success(), out.String())
	require.Equal(Succeeded, out.State)
	require.Equal(1, env.cfnconn.Calls("ExecuteChangeSet"))
	require.Equal(cloudformation.StackStatusUpdateComplete, env.cfnconn.StackStatus(testStackName))
}

func TestStart_rejectRemovals(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	env.cfnconn.ChangeSetTemplate.Changes = []*cloudformation.Change{removalChange("Fleet")}

	o := New(env.deployer)
	out := o.Start(env.request())
	require.Equal(AwaitingConfirmation, out.State)
	csName := out.ChangeSet.ChangeSetName
	require.True(env.cfnconn.ChangeSetExists(testStackName, csName))

	out = o.Confirm(false)
	require.Equal(Cancelled, out.State)
	require.Equal(errcode.OperationCancelled, out.Code)
	require.Equal(0, env.cfnconn.Calls("ExecuteChangeSet"))
	require.False(env.cfnconn.ChangeSetExists(testStackName, csName))

	out = o.Confirm(true)
	require.Equal(errcode.InvalidParameters, out.Code)
}

func TestStart_alwaysConfirm(t *testing.T) {
	require := require.New(t)

	// new stacks are deployed without confirmation
	env := newTestEnv(t)
	req := env.request()
	req.AlwaysConfirm = true
	out := New(env.deployer).Start(req)
	require.Equal(Succeeded, out.State)

	env = newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	out = New(env.deployer).Start(req)
	require.Equal(AwaitingConfirmation, out.State)
}

func TestStart_noChanges(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	env.cfnconn.ChangeSetTemplate.Status = aws.String(cloudformation.ChangeSetStatusFailed)
	env.cfnconn.ChangeSetTemplate.StatusReason = aws.String("The submitted information didn't contain changes. Submit different information to create a change set.")
	env.cfnconn.ChangeSetTemplate.ExecutionStatus = aws.String(cloudformation.ExecutionStatusUnavailable)

	o := New(env.deployer)
	out := o.Start(env.request())
	require.Equal(NoChanges, out.State)
	require.Equal(errcode.StackDoesNotHaveChanges, out.Code)
	require.True(strings.HasPrefix(out.Message, "The submitted information didn't contain changes."))
	require.False(env.cfnconn.ChangeSetExists(testStackName, out.ChangeSet.ChangeSetName))
	require.Equal(0, env.cfnconn.Calls("ExecuteChangeSet"))
	require.True(o.State().IsTerminal())
}

func TestStart_changeSetFailed(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.cfnconn.ChangeSetTemplate.Status = aws.String(cloudformation.ChangeSetStatusFailed)
	env.cfnconn.ChangeSetTemplate.StatusReason = aws.String("Parameters: [FleetName] must have values")
	env.cfnconn.ChangeSetTemplate.ExecutionStatus = aws.String(cloudformation.ExecutionStatusUnavailable)

	out := New(env.deployer).Start(env.request())
	require.Equal(Failed, out.State)
	require.Equal(errcode.AwsError, out.Code)
	require.Equal("Parameters: [FleetName] must have values", out.Message)
}

func TestStart_rollback(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	env.cfnconn.MockExecuteChangeSet = func(*cloudformation.ExecuteChangeSetInput) (*cloudformation.ExecuteChangeSetOutput, error) {
		env.cfnconn.SetStackStatus(testStackName, cloudformation.StackStatusUpdateRollbackComplete)
		return &cloudformation.ExecuteChangeSetOutput{}, nil
	}

	o := New(env.deployer)
	out := o.Start(env.request())
	require.Equal(Failed, out.State)
	require.Equal(errcode.AwsError, out.Code)
	require.True(strings.HasPrefix(out.Message, cloudformation.StackStatusUpdateRollbackComplete))
	require.Equal(cloudformation.StackStatusUpdateRollbackComplete, out.Stack.Status)
	require.Nil(out.DeploymentID)
	require.Equal(Failed, o.State())
}

func TestStart_errors(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	req := env.request()
	req.StackName = ""
	out := New(env.deployer).Start(req)
	require.Equal(NotStarted, out.State)
	require.Equal(errcode.InvalidParameters, out.Code)
	require.Equal("missing stack name", out.Message)

	req = env.request()
	req.Region = "eu-west-1"
	out = New(env.deployer).Start(req)
	require.Equal(errcode.InvalidParameters, out.Code)

	req = env.request()
	req.TemplatePath = filepath.Join(env.dir, "missing.yml")
	out = New(env.deployer).Start(req)
	require.Equal(Failed, out.State)
	require.Equal(errcode.TemplateFileNotFound, out.Code)

	req = env.request()
	req.ParametersPath = filepath.Join(env.dir, "missing.json")
	out = New(env.deployer).Start(req)
	require.Equal(errcode.ParametersFileNotFound, out.Code)

	req = env.request()
	req.ParametersPath = filepath.Join(env.dir, "invalid.json")
	require.Nil(ioutil.WriteFile(req.ParametersPath, []byte(`{"GameNameParameter": `), 0644))
	out = New(env.deployer).Start(req)
	require.Equal(errcode.InvalidParametersFile, out.Code)

	req = env.request()
	req.BuildFolderPath = filepath.Join(env.dir, "missing")
	out = New(env.deployer).Start(req)
	require.Equal(errcode.FileNotFound, out.Code)

	require.Equal(0, env.cfnconn.Calls("CreateChangeSet"))
}

func TestStart_panic(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.cfnconn.MockCreateChangeSet = func(*cloudformation.CreateChangeSetInput) (*cloudformation.CreateChangeSetOutput, error) {
		panic("boom")
	}

	o := New(env.deployer)
	out := o.Start(env.request())
	require.Equal(Failed, out.State)
	require.Equal(errcode.UnknownError, out.Code)
	require.Equal("boom", out.Message)
	require.Equal(Failed, o.State())
}

func TestCancel(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	env.cfnconn.MockExecuteChangeSet = func(*cloudformation.ExecuteChangeSetInput) (*cloudformation.ExecuteChangeSetOutput, error) {
		env.cfnconn.SetStackStatus(testStackName, cloudformation.StackStatusUpdateInProgress)
		return &cloudformation.ExecuteChangeSetOutput{}, nil
	}

	o := New(env.deployer)
	done := make(chan Outcome, 1)
	go func() {
		done <- o.Start(env.request())
	}()

	require.Eventually(func() bool {
		return o.State() == Polling
	}, 5*time.Second, time.Millisecond)

	out := o.Cancel()
	require.True(out.Success(), out.String())
	require.Equal(Cancelled, out.State)

	out = o.Cancel()
	require.True(out.Success(), out.String())

	var res Outcome
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		require.Fail("deployment did not finish")
	}
	require.Equal(Cancelled, res.State)
	require.Equal(errcode.OperationCancelled, res.Code)
	require.Equal(cloudformation.StackStatusUpdateRollbackComplete, res.Stack.Status)
	require.Equal(Cancelled, o.State())

	require.Equal(1, env.cfnconn.Calls("CancelUpdateStack"))
}

func TestCancel_beforeExecute(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)

	o := New(env.deployer)
	var cancelOut *Outcome
	env.cfnconn.MockDescribeStackEvents = func(*cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error) {
		if cancelOut == nil && o.State() == Executing {
			out := o.Cancel()
			cancelOut = &out
		}
		return &cloudformation.DescribeStackEventsOutput{}, nil
	}

	out := o.Start(env.request())
	require.NotNil(cancelOut)
	require.True(cancelOut.Success(), cancelOut.String())
	require.Equal(Cancelled, cancelOut.State)

	require.Equal(Cancelled, out.State)
	require.Equal(errcode.OperationCancelled, out.Code)
	require.Equal(Cancelled, o.State())
	require.Equal(0, env.cfnconn.Calls("ExecuteChangeSet"))
	require.Equal(0, env.cfnconn.Calls("CancelUpdateStack"))
	require.Equal(1, env.cfnconn.Calls("DeleteChangeSet"))
	require.Equal(cloudformation.StackStatusUpdateComplete, env.cfnconn.StackStatus(testStackName))
}

func TestCancel_duringExecute(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)

	o := New(env.deployer)
	var cancelOut Outcome
	env.cfnconn.MockExecuteChangeSet = func(*cloudformation.ExecuteChangeSetInput) (*cloudformation.ExecuteChangeSetOutput, error) {
		cancelOut = o.Cancel()
		env.cfnconn.SetStackStatus(testStackName, cloudformation.StackStatusUpdateInProgress)
		return &cloudformation.ExecuteChangeSetOutput{}, nil
	}

	out := o.Start(env.request())
	require.Equal(Cancelled, cancelOut.State)
	require.Equal(Cancelled, out.State)
	require.Equal(errcode.OperationCancelled, out.Code)
	require.Equal(1, env.cfnconn.Calls("ExecuteChangeSet"))
	require.Equal(1, env.cfnconn.Calls("CancelUpdateStack"))
}

func TestCancel_validating(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	o := New(env.deployer)
	var cancelOut Outcome
	env.cfnconn.MockValidateTemplate = func(*cloudformation.ValidateTemplateInput) (*cloudformation.ValidateTemplateOutput, error) {
		cancelOut = o.Cancel()
		return &cloudformation.ValidateTemplateOutput{}, nil
	}

	out := o.Start(env.request())
	require.Equal(Cancelled, cancelOut.State)
	require.Equal(Cancelled, out.State)
	require.Equal(errcode.OperationCancelled, out.Code)
	require.Equal(0, env.cfnconn.Calls("CreateChangeSet"))

	// finished deployment is not cancelled again
	out = o.Cancel()
	require.Equal(Cancelled, out.State)
	require.True(out.Success())
}

func TestCancel_finished(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	o := New(env.deployer)

	out := o.Cancel()
	require.True(out.Success())
	require.Equal(NotStarted, out.State)

	require.Equal(Succeeded, o.Start(env.request()).State)

	out = o.Cancel()
	require.True(out.Success())
	require.Equal(Succeeded, out.State)
	require.Equal(Succeeded, o.State())
	require.Equal(0, env.cfnconn.Calls("CancelUpdateStack"))
}

func TestCancel_awaitingConfirmation(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	env.cfnconn.ChangeSetTemplate.Changes = []*cloudformation.Change{removalChange("Fleet")}

	o := New(env.deployer)
	out := o.Start(env.request())
	require.Equal(AwaitingConfirmation, out.State)

	out = o.Cancel()
	require.True(out.Success(), out.String())
	require.Equal(Cancelled, out.State)
	require.Equal(Cancelled, o.State())
	require.Equal(1, env.cfnconn.Calls("DeleteChangeSet"))
	require.Equal(0, env.cfnconn.Calls("CancelUpdateStack"))
}

func TestTeardown(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.addStack(cloudformation.StackStatusUpdateComplete)
	env.cfnconn.ChangeSetTemplate.Changes = []*cloudformation.Change{removalChange("Fleet")}

	o := New(env.deployer)
	out := o.Start(env.request())
	require.Equal(AwaitingConfirmation, out.State)
	csName := out.ChangeSet.ChangeSetName

	out = o.Teardown(TeardownOptions{DeleteStack: true, Wait: true})
	require.True(out.Success(), out.String())
	require.Equal(Cancelled, out.State)
	require.False(env.cfnconn.ChangeSetExists(testStackName, csName))
	require.Equal("", env.cfnconn.StackStatus(testStackName))

	out = o.Teardown(TeardownOptions{DeleteStack: true})
	require.Equal(errcode.StackDoesNotExist, out.Code)
}

func TestTeardown_noStack(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	out := New(env.deployer).Teardown(TeardownOptions{DeleteStack: true})
	require.Equal(errcode.InvalidParameters, out.Code)
}
