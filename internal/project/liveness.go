package project

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Liveness is the derived tri-state of a project's supervisor claim.
type Liveness int

const (
	NotRunningOrMissing Liveness = iota
	RunningWithoutSocket
	RunningWithSocket
)

// Probe computes the liveness tri-state from vm.pid and vm.sock, per
// spec.md §3: a pid is alive if signal 0 succeeds or fails with EPERM;
// ESRCH (or no pid file) means not running.
func Probe(paths Paths) (Liveness, int, error) {
	pid, ok, err := readPID(paths.PidFile())
	if err != nil {
		return NotRunningOrMissing, 0, err
	}
	if !ok || !PidIsAlive(pid) {
		return NotRunningOrMissing, 0, nil
	}
	if isSocket(paths.SockFile()) {
		return RunningWithSocket, pid, nil
	}
	return RunningWithoutSocket, pid, nil
}

// PidIsAlive reports whether pid refers to a live process, using the
// kill(pid, 0) probe: ESRCH means dead, EPERM means alive-but-unowned.
func PidIsAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}

func isSocket(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().Type() == os.ModeSocket
}

func readPID(path string) (pid int, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	line := strings.TrimSpace(firstLine(string(data)))
	n, convErr := strconv.Atoi(line)
	if convErr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// RemoveStalePidFile deletes vm.pid if it refers to a dead process or is
// otherwise unreadable, mirroring ensure_manager step 1.
func RemoveStalePidFile(paths Paths) error {
	live, _, err := Probe(paths)
	if err != nil {
		return err
	}
	if live == NotRunningOrMissing {
		if err := os.Remove(paths.PidFile()); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
