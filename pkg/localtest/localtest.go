// Package localtest runs GameLift Local and game servers
// on the local machine.
package localtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirius/gldeploy/pkg/errcode"
)

// DefaultPort is the port GameLift Local listens on
// when none is requested.
const DefaultPort = 8080

// MinJavaVersion is the minimal Java version required
// by GameLift Local.
var MinJavaVersion = mustVersion("8.0.0")

func mustVersion(v string) *semver.Version {
	ver, err := semver.NewVersion(v)
	if err != nil {
		panic(err)
	}
	return ver
}

// Command is a process to start.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// ProcessStarter starts and stops local processes.
type ProcessStarter interface {
	// Start launches cmd without waiting for it and returns its pid.
	Start(cmd Command) (int, error)

	// Kill terminates process pid.
	Kill(pid int) error

	// Output runs cmd to completion and returns its combined output.
	Output(cmd Command) ([]byte, error)
}

type execStarter struct{}

func (execStarter) Start(c Command) (int, error) {
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, errors.Trace(err)
	}
	pid := cmd.Process.Pid
	go func() {
		if err := cmd.Wait(); err != nil {
			log.WithError(err).Debugf("process %d exited", pid)
		}
	}()
	return pid, nil
}

func (execStarter) Kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.Kill())
}

func (execStarter) Output(c Command) ([]byte, error) {
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	out, err := cmd.CombinedOutput()
	return out, errors.Trace(err)
}

// Runner manages GameLift Local and game server processes.
type Runner struct {
	Starter ProcessStarter

	// Java is the java executable. Defaults to "java".
	Java string
}

// New creates new Runner which starts real processes.
func New() *Runner {
	return &Runner{Starter: execStarter{}, Java: "java"}
}

func (r *Runner) java() string {
	if r.Java == "" {
		return "java"
	}
	return r.Java
}

// StartRequest configures GameLift Local.
type StartRequest struct {
	// GameLiftLocalPath is the path of GameLiftLocal.jar.
	GameLiftLocalPath string
	Port              int
}

// Start launches GameLift Local and returns its process id.
func (r *Runner) Start(req StartRequest) (int, error) {
	if strings.TrimSpace(req.GameLiftLocalPath) == "" {
		return 0, errcode.Newf(errcode.InvalidParameters, "GameLift Local path is required")
	}
	port := req.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		return 0, errcode.Newf(errcode.InvalidParameters, "invalid port %d", req.Port)
	}
	if _, err := os.Stat(req.GameLiftLocalPath); err != nil {
		return 0, errcode.Newf(errcode.FileNotFound, "'%s' not found", req.GameLiftLocalPath)
	}

	cmd := Command{
		Name: r.java(),
		Args: []string{"-jar", req.GameLiftLocalPath, "-p", strconv.Itoa(port)},
		Dir:  filepath.Dir(req.GameLiftLocalPath),
	}
	pid, err := r.Starter.Start(cmd)
	if err != nil {
		log.WithError(err).Errorf("cannot start %s", cmd)
		return 0, errcode.Wrap(errcode.UnknownError, err)
	}
	log.Infof("GameLift Local started on port %d, pid %d", port, pid)
	return pid, nil
}

// Stop terminates process pid.
func (r *Runner) Stop(pid int) error {
	if pid <= 0 {
		return errcode.Newf(errcode.InvalidParameters, "invalid process id %d", pid)
	}
	if err := r.Starter.Kill(pid); err != nil {
		log.WithError(err).Errorf("cannot stop process %d", pid)
		return errcode.Wrap(errcode.UnknownError, err)
	}
	return nil
}

// ServerRequest configures a local game server.
type ServerRequest struct {
	// Path is the server executable.
	Path string
	Args []string
}

// RunLocalServer launches game server and returns its process id.
func (r *Runner) RunLocalServer(req ServerRequest) (int, error) {
	if strings.TrimSpace(req.Path) == "" {
		return 0, errcode.Newf(errcode.InvalidParameters, "server path is required")
	}
	cmd := Command{
		Name: req.Path,
		Args: append([]string(nil), req.Args...),
		Dir:  filepath.Dir(req.Path),
	}
	pid, err := r.Starter.Start(cmd)
	if err != nil {
		log.WithError(err).Errorf("cannot start %s", cmd)
		return 0, errcode.Wrap(errcode.UnknownError, err)
	}
	log.Infof("game server started, pid %d", pid)
	return pid, nil
}

// JavaVersion is the result of CheckJava.
type JavaVersion struct {
	// Installed is set if a supported Java version is found.
	Installed bool
	Version   *semver.Version
}

var javaVersionRegexp = regexp.MustCompile(`version "([^"]+)"`)

// parseJavaVersion extracts version from "java -version" output.
// Legacy "1.x" versions are reported as major version x.
func parseJavaVersion(output string) (*semver.Version, error) {
	m := javaVersionRegexp.FindStringSubmatch(output)
	if m == nil {
		return nil, errors.Errorf("unrecognized java version output")
	}
	raw := m[1]
	if i := strings.IndexAny(raw, "_+"); i >= 0 {
		raw = raw[:i]
	}
	if strings.HasPrefix(raw, "1.") {
		raw = strings.TrimPrefix(raw, "1.")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot parse java version '%s'", m[1])
	}
	return v, nil
}

// CheckJava reports the installed Java version. Missing
// or unsupported Java is not an error.
func (r *Runner) CheckJava() JavaVersion {
	out, err := r.Starter.Output(Command{Name: r.java(), Args: []string{"-version"}})
	if err != nil {
		log.WithError(err).Debug("java is not available")
		return JavaVersion{}
	}
	v, err := parseJavaVersion(string(out))
	if err != nil {
		log.WithError(err).Debug("cannot read java version")
		return JavaVersion{}
	}
	return JavaVersion{Installed: !v.LessThan(MinJavaVersion), Version: v}
}
