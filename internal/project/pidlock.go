package project

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PidFileGuard removes the supervisor's vm.pid file on clean shutdown.
type PidFileGuard struct {
	path string
}

// WritePidFile claims vm.pid for the current process. The caller must have
// already established (via Probe) that no live supervisor holds it.
func WritePidFile(paths Paths) (*PidFileGuard, error) {
	if err := os.MkdirAll(paths.State, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	path := paths.PidFile()
	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return &PidFileGuard{path: path}, nil
}

// Release removes the pid file. Safe to call multiple times.
func (g *PidFileGuard) Release() {
	if g == nil {
		return
	}
	_ = os.Remove(g.path)
}

// AcquireSpawnLock exclusively creates vm.lock with "pid=<caller>". If the
// lock already exists and belongs to a dead process, it is reclaimed and the
// attempt is retried once. Returns ok=false (no error) when another live
// process holds the lock.
func AcquireSpawnLock(paths Paths) (guard *LockGuard, ok bool, err error) {
	path := paths.LockFile()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "pid=%d\n", os.Getpid()); werr != nil {
				_ = f.Close()
				return nil, false, fmt.Errorf("writing spawn lock: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				return nil, false, fmt.Errorf("closing spawn lock: %w", cerr)
			}
			return &LockGuard{path: path}, true, nil
		}
		if !os.IsExist(err) {
			return nil, false, fmt.Errorf("creating spawn lock: %w", err)
		}
		if !isLockStale(path) {
			return nil, false, nil
		}
		_ = os.Remove(path)
	}
	return nil, false, nil
}

// LockGuard releases the spawn lock.
type LockGuard struct {
	path string
}

func (g *LockGuard) Release() {
	if g == nil {
		return
	}
	_ = os.Remove(g.path)
}

func isLockStale(path string) bool {
	pid, ok := readLockPID(path)
	if !ok {
		return true
	}
	return !PidIsAlive(pid)
}

func readLockPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	line := strings.TrimSpace(firstLine(string(data)))
	line = strings.TrimPrefix(line, "pid=")
	pid, err := strconv.Atoi(line)
	if err != nil {
		return 0, false
	}
	return pid, true
}
