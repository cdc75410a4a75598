package cmd

import (
	"fmt"
	"strconv"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spirius/gldeploy/pkg/errcode"
	"github.com/spirius/gldeploy/pkg/localtest"
	"github.com/spirius/gldeploy/pkg/settings"
)

var localFlags struct {
	path string
	port int
}

var runner = localtest.New()

func startLocal() (interface{}, error) {
	req, err := core.LocalStartRequest()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if localFlags.path != "" {
		req.GameLiftLocalPath = localFlags.path
	}
	if localFlags.port != 0 {
		req.Port = localFlags.port
	}

	java := runner.CheckJava()
	if !java.Installed {
		if java.Version != nil {
			return nil, errcode.Newf(errcode.UnknownError, "java %s is not supported, %s or later is required", java.Version, localtest.MinJavaVersion)
		}
		return nil, errcode.Newf(errcode.UnknownError, "java is not installed")
	}
	log.Debugf("java %s found", java.Version)

	pid, err := runner.Start(req)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot start GameLift Local")
	}
	return newOutput(message(strconv.Itoa(pid))), nil
}

func runServer(args []string) (interface{}, error) {
	req := localtest.ServerRequest{}
	if len(args) > 0 {
		req.Path, req.Args = args[0], args[1:]
	} else {
		path, err := core.Setting(settings.LocalServerPath)
		if err != nil {
			return nil, errors.Trace(err)
		}
		req.Path = path
	}
	pid, err := runner.RunLocalServer(req)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot start game server")
	}
	return newOutput(message(strconv.Itoa(pid))), nil
}

func init() {
	localCmd := newGroupCmd(rootCmd, "local", "Test game server with GameLift Local")

	newCmd(localCmd, &cobra.Command{
		Use:   "start",
		Short: "Start GameLift Local",
		Long: `Start GameLift Local in background and print its process id.

Path and port default to GameLiftLocalPath and GameLiftLocalPort
settings, then to config.`,
		Args: exactArgs(0),
	}, func(_ *cobra.Command, _ []string) (interface{}, error) {
		return startLocal()
	}, func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&localFlags.path, "path", "", "Path of GameLiftLocal.jar")
		cmd.Flags().IntVar(&localFlags.port, "port", 0, fmt.Sprintf("Port of GameLift Local, defaults to %d", localtest.DefaultPort))
	})

	newCmd(localCmd, &cobra.Command{
		Use:   "stop pid",
		Short: "Stop process started by local commands",
		Args:  exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, errcode.Newf(errcode.InvalidParameters, "invalid process id '%s'", args[0])
		}
		return nil, errors.Trace(runner.Stop(pid))
	})

	newCmd(localCmd, &cobra.Command{
		Use:   "server [path] [args...]",
		Short: "Start game server",
		Long:  `Start game server in background and print its process id. Path defaults to LocalServerPath setting.`,
		Args:  minArgs(0),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return runServer(args)
	})
}
