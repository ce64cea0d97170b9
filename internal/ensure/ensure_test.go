package ensure

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibebox/vibebox/internal/project"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return logrus.NewEntry(l)
}

func reapedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

// writeNoopSupervisor produces a trivial, real executable for
// Options.SupervisorPath: spawnSupervisor only needs something it can exec
// and forget, since this test plays the role of the spawned supervisor
// itself by binding vm.sock directly.
func writeNoopSupervisor(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vibebox-supervisor-stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

// TestScenarioS7StalePidMissingSocketSpawnsFresh mirrors spec.md scenario
// S7: a leftover vm.pid from a dead process with no vm.sock must be removed,
// and EnsureManager must spawn and connect to a new supervisor rather than
// treating the stale pid as a live owner.
func TestScenarioS7StalePidMissingSocketSpawnsFresh(t *testing.T) {
	root := t.TempDir()
	paths := project.NewPaths(root)
	require.NoError(t, os.MkdirAll(paths.State, 0o755))
	require.NoError(t, os.WriteFile(paths.PidFile(), []byte(strconv.Itoa(reapedPID(t))+"\n"), 0o600))

	listening := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		l, err := net.Listen("unix", paths.SockFile())
		if err != nil {
			close(listening)
			return
		}
		close(listening)
		defer l.Close()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	opts := Options{
		SupervisorPath: writeNoopSupervisor(t),
		AutoShutdownMS: 1000,
		Logger:         testLogger(),
	}

	manager, err := EnsureManager(paths, opts)
	require.NoError(t, err)
	require.NotNil(t, manager)
	defer manager.Conn.Close()

	<-listening

	_, statErr := os.Stat(paths.PidFile())
	assert.True(t, os.IsNotExist(statErr), "stale pid file should have been removed")
}
