package cmd

import (
	"os"
	"os/signal"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spirius/gldeploy/pkg/deploy"
	"github.com/spirius/gldeploy/pkg/errcode"
	"github.com/spirius/gldeploy/pkg/gamelift"
)

var deployFlags struct {
	buildFolder   string
	bucket        string
	changeSetName string
	parameters    map[string]string
	confirm       bool

	deleteStack bool
	wait        bool
}

func flagDeploy(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&deployFlags.buildFolder, "build", "b", "", "Server build folder, defaults to ServerBuildPath setting")
	cmd.Flags().StringVar(&deployFlags.bucket, "bucket", "", "Bucket of artifacts, defaults to the current bucket of settings")
	cmd.Flags().StringVar(&deployFlags.changeSetName, "change-set", "", "Change set name, generated if empty")
	cmd.Flags().StringToStringVar(&deployFlags.parameters, "parameter", nil, "Override stack parameter, key=value")
	cmd.Flags().BoolVar(&deployFlags.confirm, "always-confirm", false, "Ask for confirmation of every stack update")
}

func flagTeardown(cmd *cobra.Command) {
	cmd.Flags().StringVar(&deployFlags.changeSetName, "change-set", "", "Change set to delete")
	cmd.Flags().BoolVar(&deployFlags.deleteStack, "delete-stack", false, "Delete the stack")
	cmd.Flags().BoolVarP(&deployFlags.wait, "wait", "w", false, "Wait until the stack is deleted")
}

// target identifies the stack of a command.
type target struct {
	profile, region, stackName string
}

// resolveTarget takes the stack from args, the configured game or the
// last deployment, in that order.
func resolveTarget(args []string) (target, error) {
	t := target{profile: configFlags.profile, region: configFlags.region}
	switch {
	case len(args) > 0:
		t.stackName = args[0]
	case core.Config.GameName != "":
		t.stackName = core.Formatter.StackName(core.Config.GameName)
	default:
		id, err := core.LastDeployment()
		if err != nil {
			return t, errors.Annotatef(err, "stack name is not given and no deployment is recorded")
		}
		t.stackName = id.StackName
		if t.profile == "" {
			t.profile = id.Profile
		}
		if t.region == "" {
			t.region = id.Region
		}
	}
	return t, nil
}

func (t target) deployer() (*deploy.Deployer, error) {
	return core.Deployer(t.profile, t.region)
}

// cancelOnInterrupt cancels deployment on the first interrupt.
// The returned function stops listening.
func cancelOnInterrupt(o *deploy.Orchestrator) func() {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, os.Interrupt)
	go func() {
		select {
		case <-sig:
			log.Warn("interrupted, cancelling deployment")
			if out := o.Cancel(); !out.Success() {
				log.Errorf("cannot cancel deployment: %s", out.Err())
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func deployScenario(scenario string) (interface{}, error) {
	req, err := core.NewDeploymentRequest(scenario)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot prepare deployment of '%s'", scenario)
	}
	for _, o := range []struct {
		value string
		dst   *string
	}{
		{configFlags.profile, &req.Profile},
		{configFlags.region, &req.Region},
		{deployFlags.bucket, &req.BucketName},
		{deployFlags.buildFolder, &req.BuildFolderPath},
		{deployFlags.changeSetName, &req.ChangeSetName},
	} {
		if o.value != "" {
			*o.dst = o.value
		}
	}
	if req.BuildFolderPath != "" && req.BuildS3Key == "" {
		req.BuildS3Key = core.Formatter.BuildS3Key()
	}
	if req.Parameters == nil {
		req.Parameters = make(map[string]string)
	}
	for k, v := range deployFlags.parameters {
		req.Parameters[k] = v
	}
	req.AlwaysConfirm = req.AlwaysConfirm || deployFlags.confirm

	d, err := core.Deployer(req.Profile, req.Region)
	if err != nil {
		return nil, errors.Trace(err)
	}
	o := deploy.New(d)
	stop := cancelOnInterrupt(o)
	defer stop()

	out := o.Start(req)
	if out.State == deploy.AwaitingConfirmation {
		stack, err := d.DescribeStack(req.StackName)
		if err != nil && !errcode.Is(err, errcode.StackDoesNotExist) {
			return nil, errors.Trace(err)
		}
		newOutput(gamelift.NewPlan(out.ChangeSet, stack)).Output(stderr)

		msg := "Do you want to apply these changes on stack?"
		if out.ChangeSet.HasRemovals() {
			msg = "Some resources will be removed. Do you want to apply these changes on stack?"
		}
		approved, err := askForConfirmation(msg)
		if err != nil {
			o.Cancel()
			return nil, errors.Annotatef(err, "changes are not approved")
		}
		out = o.Confirm(approved)
	}

	if err := core.RecordDeployment(out); err != nil {
		log.WithError(err).Warn("cannot record deployment")
	}
	return newOutput(out), outcomeError(out)
}

func status(args []string) (interface{}, error) {
	t, err := resolveTarget(args)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d, err := t.deployer()
	if err != nil {
		return nil, errors.Trace(err)
	}
	stack, err := d.DescribeStack(t.stackName)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot read stack '%s'", t.stackName)
	}
	return newOutput(stack), nil
}

func cancel(args []string) (interface{}, error) {
	t, err := resolveTarget(args)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d, err := t.deployer()
	if err != nil {
		return nil, errors.Trace(err)
	}
	stack, err := d.CancelStackUpdate(t.stackName)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot cancel update of '%s'", t.stackName)
	}
	return newOutput(stack).Short(), nil
}

func teardown(args []string) (interface{}, error) {
	t, err := resolveTarget(args)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d, err := t.deployer()
	if err != nil {
		return nil, errors.Trace(err)
	}

	if deployFlags.deleteStack {
		stack, err := d.DescribeStack(t.stackName)
		if err != nil {
			return nil, errors.Annotatef(err, "cannot read stack '%s'", t.stackName)
		}
		newOutput(stack).Short().Output(stderr)
		approved, err := askForConfirmation("Are you sure you want to delete this stack?")
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !approved {
			return nil, &errorCode{errors.New("stack deletion is not approved"), exitCancelled}
		}
	}

	out := deploy.New(d).Teardown(deploy.TeardownOptions{
		StackName:     t.stackName,
		ChangeSetName: deployFlags.changeSetName,
		DeleteStack:   deployFlags.deleteStack,
		Wait:          deployFlags.wait,
	})
	return newOutput(out), outcomeError(out)
}

func init() {
	newCmd(rootCmd, &cobra.Command{
		Use:   "deploy scenario",
		Short: "Deploy scenario",
		Long: `Deploy the scenario stack through a change set.

Changes removing resources require confirmation, which needs
interactive shell or -a flag to be specified. Interrupt cancels
the deployment and rolls back the stack update.

  exit codes are following:
  0 - deployed, or no changes on stack
  1 - error occurred
  3 - deployment was cancelled
`,
		Args: exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return deployScenario(args[0])
	}, flagAutoApprove, flagDeploy)

	newCmd(rootCmd, &cobra.Command{
		Use:   "status [stack-name]",
		Short: "Show stack status",
		Long:  `Show status of the stack. Defaults to the stack of the game or of the last deployment.`,
		Args:  rangeArgs(0, 1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return status(args)
	})

	newCmd(rootCmd, &cobra.Command{
		Use:   "cancel [stack-name]",
		Short: "Cancel stack update",
		Long:  `Cancel the update in progress and roll back the stack.`,
		Args:  rangeArgs(0, 1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return cancel(args)
	})

	newCmd(rootCmd, &cobra.Command{
		Use:   "teardown [stack-name]",
		Short: "Delete change set or stack",
		Long: `Delete the change set and optionally the stack.

Stack deletion requires interactive shell or -a flag to be specified.`,
		Args: rangeArgs(0, 1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return teardown(args)
	}, flagAutoApprove, flagTeardown)
}
