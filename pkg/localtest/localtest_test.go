package localtest

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spirius/gldeploy/pkg/errcode"
)

type recordStarter struct {
	started []Command
	killed  []int
	output  string
	err     error
}

func (s *recordStarter) Start(c Command) (int, error) {
	s.started = append(s.started, c)
	if s.err != nil {
		return 0, s.err
	}
	return 1000 + len(s.started), nil
}

func (s *recordStarter) Kill(pid int) error {
	s.killed = append(s.killed, pid)
	return s.err
}

func (s *recordStarter) Output(Command) ([]byte, error) {
	return []byte(s.output), s.err
}

func newTestJar(t *testing.T) string {
	dir, err := ioutil.TempDir("", "localtest")
	require.Nil(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	jar := filepath.Join(dir, "GameLiftLocal.jar")
	require.Nil(t, ioutil.WriteFile(jar, []byte("jar"), 0644))
	return jar
}

func TestStart(t *testing.T) {
	require := require.New(t)
	jar := newTestJar(t)
	s := &recordStarter{}
	r := &Runner{Starter: s}

	pid, err := r.Start(StartRequest{GameLiftLocalPath: jar, Port: 9080})
	require.Nil(err)
	require.Equal(1001, pid)
	require.Equal(Command{
		Name: "java",
		Args: []string{"-jar", jar, "-p", "9080"},
		Dir:  filepath.Dir(jar),
	}, s.started[0])

	_, err = r.Start(StartRequest{GameLiftLocalPath: jar})
	require.Nil(err)
	require.Equal("8080", s.started[1].Args[3])
}

func TestStart_errors(t *testing.T) {
	require := require.New(t)
	jar := newTestJar(t)
	s := &recordStarter{}
	r := &Runner{Starter: s}

	_, err := r.Start(StartRequest{Port: 8080})
	require.Equal(errcode.InvalidParameters, errcode.CodeOf(err))

	_, err = r.Start(StartRequest{GameLiftLocalPath: jar, Port: 70000})
	require.Equal(errcode.InvalidParameters, errcode.CodeOf(err))

	_, err = r.Start(StartRequest{GameLiftLocalPath: jar + ".missing"})
	require.Equal(errcode.FileNotFound, errcode.CodeOf(err))
	require.Empty(s.started)

	s.err = fmt.Errorf("exec: \"java\": executable file not found in $PATH")
	_, err = r.Start(StartRequest{GameLiftLocalPath: jar})
	require.Equal(errcode.UnknownError, errcode.CodeOf(err))
	require.Contains(errcode.MessageOf(err), "executable file not found")
}

func TestStop(t *testing.T) {
	require := require.New(t)
	s := &recordStarter{}
	r := &Runner{Starter: s}

	require.Nil(r.Stop(42))
	require.Equal([]int{42}, s.killed)

	require.Equal(errcode.InvalidParameters, errcode.CodeOf(r.Stop(0)))

	s.err = fmt.Errorf("os: process already finished")
	require.Equal(errcode.UnknownError, errcode.CodeOf(r.Stop(42)))
}

func TestRunLocalServer(t *testing.T) {
	require := require.New(t)
	s := &recordStarter{}
	r := &Runner{Starter: s}

	pid, err := r.RunLocalServer(ServerRequest{Path: "/games/server/server.x86_64", Args: []string{"-batchmode"}})
	require.Nil(err)
	require.Equal(1001, pid)
	require.Equal(Command{
		Name: "/games/server/server.x86_64",
		Args: []string{"-batchmode"},
		Dir:  "/games/server",
	}, s.started[0])

	_, err = r.RunLocalServer(ServerRequest{Path: " "})
	require.Equal(errcode.InvalidParameters, errcode.CodeOf(err))

	s.err = fmt.Errorf("permission denied")
	_, err = r.RunLocalServer(ServerRequest{Path: "/games/server/server.x86_64"})
	require.Equal(errcode.UnknownError, errcode.CodeOf(err))
}

func TestCheckJava(t *testing.T) {
	require := require.New(t)

	for output, expected := range map[string]struct {
		installed bool
		major     int64
	}{
		"java version \"1.8.0_292\"\nJava(TM) SE Runtime Environment":           {true, 8},
		"openjdk version \"11.0.2\" 2019-01-15\nOpenJDK Runtime Environment":    {true, 11},
		"openjdk version \"17\" 2021-09-14":                                     {true, 17},
		"openjdk version \"21-ea\" 2023-09-19":                                  {true, 21},
		"java version \"1.7.0_80\"\nJava(TM) SE Runtime Environment (build 1)": {false, 7},
	} {
		v := (&Runner{Starter: &recordStarter{output: output}}).CheckJava()
		require.Equal(expected.installed, v.Installed, output)
		require.Equal(expected.major, v.Version.Major(), output)
	}

	v := (&Runner{Starter: &recordStarter{output: "bash: java: command not found"}}).CheckJava()
	require.False(v.Installed)
	require.Nil(v.Version)

	v = (&Runner{Starter: &recordStarter{err: fmt.Errorf("not found")}}).CheckJava()
	require.False(v.Installed)
}
