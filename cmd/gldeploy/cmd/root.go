package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/spirius/gldeploy/pkg/errcode"
	"github.com/spirius/gldeploy/pkg/gamelift"
)

// Revision is the revision number of build (commit Id).
var Revision = ""

// Version is the version of the current build.
var Version = "v0.1.0"

type errorCode struct {
	err  error
	code int
}

func (e errorCode) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "nil"
}

var core *gamelift.Core

var configFlags struct {
	// Automatically approve changes
	autoApprove bool

	// Enables debug logging
	debug bool

	// Enabled tracing on errors
	trace bool

	// Indicates if user-input is available.
	// Defaults to true, if stdin is terminal.
	input bool

	config         string
	configOverride string

	// Override profile and region of settings.
	profile string
	region  string
}

// use wrapped stdout and stderr, so that
// colors will work on windows properly.
var stdout = color.Output
var stderr = color.Error

var rootCmd = &cobra.Command{
	Use:                   "gldeploy",
	Short:                 "gldeploy deploys GameLift scenarios with AWS CloudFormation",
	SilenceErrors:         true,
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFlags.debug {
			log.SetLevel(log.DebugLevel)
		}
		config, err := gamelift.LoadConfig(configFlags.config, configFlags.configOverride)
		if err != nil {
			return errors.Annotatef(err, "cannot load config")
		}
		core = gamelift.NewCore(config)
		return nil
	},
}

func flagAutoApprove(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&configFlags.autoApprove, "auto-approve", "a", false, "Auto-approve changes")
}

func init() {
	log.SetFormatter(&logFormatter{})
	log.SetOutput(stderr)

	// global flags
	rootCmd.PersistentFlags().BoolVarP(&configFlags.debug, "debug", "d", false, "Enable debug mode")
	rootCmd.PersistentFlags().BoolVarP(&configFlags.trace, "trace", "t", false, "Enable error tracing output")
	rootCmd.PersistentFlags().BoolVarP(&configFlags.input, "input", "i", terminal.IsTerminal(int(os.Stdin.Fd())), "User input availability. If not specified, value is identified from terminal.")
	rootCmd.PersistentFlags().StringVarP(&configFlags.config, "config", "c", gamelift.DefaultConfigFile, "Config file")
	rootCmd.PersistentFlags().StringVarP(&configFlags.configOverride, "config-override", "e", "", "Override config file")
	rootCmd.PersistentFlags().StringVarP(&configFlags.profile, "profile", "p", "", "AWS credentials profile, defaults to the current profile of settings")
	rootCmd.PersistentFlags().StringVarP(&configFlags.region, "region", "r", "", "AWS region, defaults to the current region of settings")

	// version
	rootCmd.AddCommand(&cobra.Command{
		Use:               "version",
		Short:             "show version information",
		Args:              exactArgs(0),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error { return nil },
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(stdout, "gldeploy %s\n", Version)
			return nil
		},
	})
}

// Execute will execute the root command and output.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var stackTrace []string
	if traceableError, ok := err.(*errors.Err); ok {
		stackTrace = traceableError.StackTrace()
	}

	var argsErr argsError
	if errors.As(err, &argsErr) {
		log.Error(argsErr)
		argsErr.cmd.Usage()
		os.Exit(exitError)
		return
	}

	code := exitError
	var e *errorCode
	if errors.As(err, &e) {
		code = e.code
		err = e.err
	} else {
		var codeErr *errcode.Error
		if errors.As(err, &codeErr) {
			err = codeErr
		}
	}

	if err != nil && code == exitOK {
		fmt.Fprintln(stderr, err)
	} else if err != nil {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "%s", err)

		if len(stackTrace) > 1 && configFlags.trace {
			fmt.Fprintf(&buf, "\n%s", strings.Join(stackTrace[1:], "\n"))
			fmt.Fprintf(&buf, "\ngldeploy %s (commit %s)", Version, Revision)
		}

		log.Error(buf.String())
	}
	os.Exit(code)
}
