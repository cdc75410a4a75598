package cmd

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/spirius/gldeploy/pkg/deploy"
	"github.com/spirius/gldeploy/pkg/errcode"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 3
)

func cmdResultHandler(out interface{}, err error) error {
	if out != nil {
		switch res := out.(type) {
		case output:
			res.Output(stdout)
		case []output:
			for i, r := range res {
				if i > 0 {
					fmt.Fprintln(stdout)
				}
				r.Output(stdout)
			}
		default:
			fmt.Fprintf(stdout, "Unknown type %#+v\n", res)
		}
	}
	if err != nil {
		return errors.Annotatef(err, "command returned error")
	}
	return nil
}

// nolint: unparam
func newCmd(parent *cobra.Command, cmd *cobra.Command, fn func(*cobra.Command, []string) (interface{}, error), flags ...func(*cobra.Command)) *cobra.Command {
	cmd.DisableFlagsInUseLine = true
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		out, err := fn(cmd, args)
		return cmdResultHandler(out, errors.Trace(err))
	}
	for _, flag := range flags {
		flag(cmd)
	}
	parent.AddCommand(cmd)
	return cmd
}

// newGroupCmd adds command which only groups subcommands.
func newGroupCmd(parent *cobra.Command, use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   use,
		Short:                 short,
		DisableFlagsInUseLine: true,
		Args:                  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	parent.AddCommand(cmd)
	return cmd
}

// outcomeError converts the outcome of a deployment
// operation to the command error.
func outcomeError(out deploy.Outcome) error {
	switch {
	case out.Success() && out.State == deploy.Cancelled:
		return &errorCode{nil, exitCancelled}
	case out.Success():
		return nil
	case out.Code == errcode.StackDoesNotHaveChanges:
		return &errorCode{out.Err(), exitOK}
	case out.State == deploy.Cancelled:
		return &errorCode{out.Err(), exitCancelled}
	}
	return &errorCode{out.Err(), exitError}
}

type argsError struct {
	err error
	cmd *cobra.Command
}

func (e argsError) Error() string {
	return e.err.Error()
}

func exactArgs(n int) func(cmd *cobra.Command, args []string) error {
	cb := cobra.ExactArgs(n)
	return func(cmd *cobra.Command, args []string) error {
		if err := cb(cmd, args); err != nil {
			return argsError{err, cmd}
		}
		return nil
	}
}

// nolint: unparam
func rangeArgs(min, max int) func(cmd *cobra.Command, args []string) error {
	cb := cobra.RangeArgs(min, max)
	return func(cmd *cobra.Command, args []string) error {
		if err := cb(cmd, args); err != nil {
			return argsError{err, cmd}
		}
		return nil
	}
}

func minArgs(n int) func(cmd *cobra.Command, args []string) error {
	cb := cobra.MinimumNArgs(n)
	return func(cmd *cobra.Command, args []string) error {
		if err := cb(cmd, args); err != nil {
			return argsError{err, cmd}
		}
		return nil
	}
}
