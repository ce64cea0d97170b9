// Package ensure implements the client-side single-instance algorithm: a
// caller either connects to a live supervisor, or wins a spawn lock and
// launches one, or waits for another invocation's spawn to finish.
package ensure

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibebox/vibebox/internal/diskprep"
	"github.com/vibebox/vibebox/internal/project"
)

const (
	connectPollInterval = 100 * time.Millisecond
	connectTimeout      = 10 * time.Second
)

// Options configures how a supervisor is spawned when none is running.
type Options struct {
	SupervisorPath  string
	AutoShutdownMS  uint64
	ConfigPath      string // optional, empty means unset
	Logger          *logrus.Entry
}

// Manager is a connected control-socket stream, either freshly spawned or
// attached to an existing supervisor.
type Manager struct {
	Conn net.Conn
}

// EnsureManager implements spec.md §4.1's client algorithm.
func EnsureManager(paths project.Paths, opts Options) (*Manager, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if err := project.RemoveStalePidFile(paths); err != nil {
		return nil, fmt.Errorf("removing stale pid file: %w", err)
	}

	if conn, err := net.Dial("unix", paths.SockFile()); err == nil {
		if err := sendClientPID(conn); err != nil {
			log.WithError(err).Warn("failed to send client pid")
		}
		return &Manager{Conn: conn}, nil
	}

	lock, won, err := project.AcquireSpawnLock(paths)
	if err != nil {
		return nil, fmt.Errorf("acquiring spawn lock: %w", err)
	}
	if won {
		log.Info("spawning vm supervisor")
		if err := spawnSupervisor(paths, opts, log); err != nil {
			lock.Release()
			return nil, fmt.Errorf("spawning vm supervisor: %w", err)
		}
	} else {
		log.Debug("waiting for vm supervisor spawn lock")
	}

	deadline := time.Now().Add(connectTimeout)
	for {
		conn, dialErr := net.Dial("unix", paths.SockFile())
		if dialErr == nil {
			if err := sendClientPID(conn); err != nil {
				log.WithError(err).Warn("failed to send client pid")
			}
			lock.Release()
			return &Manager{Conn: conn}, nil
		}
		if time.Now().After(deadline) {
			lock.Release()
			return nil, fmt.Errorf("timed out waiting for vm manager socket: %w", dialErr)
		}
		time.Sleep(connectPollInterval)
	}
}

func sendClientPID(conn net.Conn) error {
	_, err := fmt.Fprintf(conn, "pid=%d\n", os.Getpid())
	return err
}

func spawnSupervisor(paths project.Paths, opts Options, log *logrus.Entry) error {
	if opts.SupervisorPath == "" {
		return fmt.Errorf("vibebox-supervisor binary not found")
	}
	if _, err := os.Stat(opts.SupervisorPath); err != nil {
		return fmt.Errorf("vibebox-supervisor binary missing: %w", err)
	}

	logPath := paths.VMManagerLog()
	rotatePreviousLog(log, logPath)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening vm manager log: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		_ = logFile.Close()
		return fmt.Errorf("opening /dev/null: %w", err)
	}

	cmd := exec.Command(opts.SupervisorPath)
	cmd.Dir = paths.Root
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"VIBEBOX_INTERNAL=1",
		"VIBEBOX_LOG_NO_COLOR=1",
		fmt.Sprintf("VIBEBOX_AUTO_SHUTDOWN_MS=%d", opts.AutoShutdownMS),
	)
	if opts.ConfigPath != "" {
		cmd.Env = append(cmd.Env, "VIBEBOX_CONFIG_PATH="+opts.ConfigPath)
	}
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		return err
	}
	// The supervisor is deliberately not waited on: it detaches and outlives
	// this client process.
	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
		_ = devnull.Close()
	}()
	return nil
}

// rotatePreviousLog compresses a prior run's vm_manager.log before it is
// truncated for the new supervisor, so a crash loop doesn't silently
// discard the previous attempt's output.
func rotatePreviousLog(log *logrus.Entry, logPath string) {
	if _, err := os.Stat(logPath); err != nil {
		return
	}
	if err := diskprep.CompressLogFile(logPath, logPath+".gz"); err != nil {
		log.WithError(err).Warn("failed to rotate previous vm manager log")
	}
}

// ReadStatusLines streams status: lines from the supervisor to fn until the
// connection closes or fn returns false.
func ReadStatusLines(conn net.Conn, fn func(line string) bool) error {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if !fn(scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}
