// Command vibebox is the user-facing entry point: it ensures a supervisor
// is running for the current project directory, attaches to its control
// socket, and prints status lines until the guest is ready for SSH. The
// full front-end (subcommands, terminal UI, SSH client invocation) is out
// of scope per spec.md §1; this binary exercises only the client side of
// the supervisor contract described in §4.1 and §6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibebox/vibebox/internal/ensure"
	"github.com/vibebox/vibebox/internal/project"
)

var (
	logLevel       = "info"
	autoShutdownMS uint64 = 5 * 60 * 1000
	configPath     string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	binaryName := filepath.Base(os.Args[0])
	desc := binaryName + " attaches to (spawning if needed) the vibebox VM supervisor for the current project directory."

	cmd := &cobra.Command{
		Use:   binaryName,
		Short: desc,
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.StandardLogger()
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			logger.SetLevel(lvl)
			return run(cmd.Context(), logrus.NewEntry(logger))
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", logLevel, "log level")
	cmd.Flags().Uint64Var(&autoShutdownMS, "auto-shutdown-ms", autoShutdownMS, "grace period before an idle supervisor shuts its VM down")
	cmd.Flags().StringVar(&configPath, "config", "", "path to vibebox.toml (defaults to <project>/vibebox.toml)")

	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("vibebox failed")
	}
}

func run(ctx context.Context, log *logrus.Entry) error {
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	paths := project.NewPaths(root)

	manager, err := ensure.EnsureManager(paths, ensure.Options{
		SupervisorPath: supervisorBinaryPath(),
		AutoShutdownMS: autoShutdownMS,
		ConfigPath:     configPath,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("attaching to vm supervisor: %w", err)
	}
	defer manager.Conn.Close()

	ready := make(chan error, 1)
	go func() {
		ready <- ensure.ReadStatusLines(manager.Conn, func(line string) bool {
			fmt.Println(line)
			rest, ok := strings.CutPrefix(line, "status:")
			if !ok {
				return true
			}
			if strings.HasPrefix(rest, "error:") || strings.HasPrefix(rest, "vm_error") {
				return false
			}
			return !strings.Contains(rest, "go vibecoder!")
		})
	}()

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervisorBinaryPath resolves the vibebox-supervisor binary installed
// alongside this one, falling back to PATH lookup.
func supervisorBinaryPath() string {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "vibebox-supervisor")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate
		}
	}
	if path, err := exec.LookPath("vibebox-supervisor"); err == nil {
		return path
	}
	return ""
}
