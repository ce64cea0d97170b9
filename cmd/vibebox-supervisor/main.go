// Command vibebox-supervisor is the long-lived helper process that owns
// exactly one virtual machine per project directory. It is never invoked
// directly by a user: internal/ensure spawns it with VIBEBOX_INTERNAL=1 set,
// per spec.md §4.1.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Code-Hex/vz/v3"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibebox/vibebox/internal/config"
	"github.com/vibebox/vibebox/internal/diskprep"
	vio "github.com/vibebox/vibebox/internal/io"
	"github.com/vibebox/vibebox/internal/login"
	"github.com/vibebox/vibebox/internal/mount"
	"github.com/vibebox/vibebox/internal/project"
	"github.com/vibebox/vibebox/internal/serialio"
	"github.com/vibebox/vibebox/internal/socket"
	"github.com/vibebox/vibebox/internal/sshkey"
	"github.com/vibebox/vibebox/internal/supervisor"
	"github.com/vibebox/vibebox/internal/vmconfig"
	"github.com/vibebox/vibebox/internal/vminstance"
)

var (
	logLevel    = "info"
	projectRoot string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	binaryName := filepath.Base(os.Args[0])
	desc := binaryName + " supervises one Virtualization.framework guest for a single project directory."

	cmd := &cobra.Command{
		Use:   binaryName,
		Short: desc,
		Long:  desc,
		Run: func(cmd *cobra.Command, args []string) {
			logger := logrus.StandardLogger()
			if os.Getenv("VIBEBOX_LOG_NO_COLOR") != "" {
				logger.SetFormatter(&logrus.TextFormatter{DisableColors: true})
			}
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				logrus.WithError(err).Fatal("error parsing log level")
			}
			logger.SetLevel(lvl)
			log := logrus.NewEntry(logger)

			if err := run(cmd.Context(), log); err != nil {
				log.WithError(err).Error("supervisor exiting")
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", logLevel, "log level")
	cmd.Flags().StringVar(&projectRoot, "project", "", "project root (defaults to the current directory)")

	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("error executing command")
	}
}

func run(ctx context.Context, log *logrus.Entry) error {
	if os.Getenv("VIBEBOX_INTERNAL") != "1" {
		return fmt.Errorf("refusing to start: must be launched by the vibebox client (VIBEBOX_INTERNAL not set)")
	}

	root, err := resolveProjectRoot(projectRoot)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	paths := project.NewPaths(root)
	log = log.WithField("project", root)

	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	grace := supervisor.Grace(time.Duration(cfg.Supervisor.AutoShutdownMS) * time.Millisecond)

	live, _, err := project.Probe(paths)
	if err != nil {
		return fmt.Errorf("probing existing supervisor: %w", err)
	}
	if live == project.RunningWithSocket {
		return fmt.Errorf("a supervisor already owns %s", paths.SockFile())
	}

	pidGuard, err := project.WritePidFile(paths)
	if err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer pidGuard.Release()
	defer os.Remove(paths.SockFile())

	identity, err := project.LoadOrCreateIdentity(paths)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	if err := project.TouchLastActive(paths, &identity, time.Now()); err != nil {
		log.WithError(err).Warn("failed to stamp last_active on start")
	}

	if err := sshkey.EnsureKeypair(paths.SSHKey(), paths.SSHPublicKey()); err != nil {
		return fmt.Errorf("ensuring ssh keypair: %w", err)
	}

	events := make(chan socket.ClientEvent, 16)
	server, err := socket.Listen(paths.SockFile(), events, log)
	if err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}
	defer server.Close()
	go server.Serve()

	server.Broadcast("preparing VM image...")

	resizeNeeded, err := prepareInstanceDisk(ctx, log, paths, cfg)
	if err != nil {
		server.Broadcast("error: " + err.Error())
		return fmt.Errorf("preparing instance disk: %w", err)
	}

	shares, links, err := buildMounts(root, identity.SSHUser, cfg)
	if err != nil {
		server.Broadcast("error: " + err.Error())
		return fmt.Errorf("translating mounts: %w", err)
	}

	vmConfig, hostStdinWrite, hostStdoutRead, err := buildVMConfig(paths, cfg, shares)
	if err != nil {
		server.Broadcast("error: " + err.Error())
		return fmt.Errorf("building vm configuration: %w", err)
	}

	instance, err := vminstance.New(ctx, vmConfig, log.WithField("component", "vm"))
	if err != nil {
		server.Broadcast("error: " + err.Error())
		return fmt.Errorf("creating vm instance: %w", err)
	}

	engine, err := serialio.New(hostStdoutRead, hostStdinWrite, nil, &vio.DiscardWriteCloser{}, nil,
		makeOutputHook(log, paths, &identity, server))
	if err != nil {
		server.Broadcast("error: " + err.Error())
		return fmt.Errorf("creating serial io engine: %w", err)
	}
	go engine.Run()
	defer engine.Close()

	loop := supervisor.NewLoop(grace, supervisor.HardDeadlineDefault,
		shutdownWriterFunc(func() error {
			engine.Send([]byte(supervisor.ShutdownCommand))
			return nil
		}), server, log, func(code int) { os.Exit(code) })

	go bridgeClientEvents(events, loop.Events())

	instance.OnExit = func(vmErr error) {
		loop.Events() <- supervisor.Event{Kind: supervisor.EventVMExited, Err: vmErr}
	}

	if err := instance.Start(ctx); err != nil {
		server.Broadcast("error: " + err.Error())
		return fmt.Errorf("starting vm: %w", err)
	}
	server.Broadcast("vm booting...")

	var resizeScript string
	if resizeNeeded {
		resizeScript = "resize2fs $(findmnt -n -o SOURCE /) || true"
	}
	scheduler := login.NewScheduler(engine.Monitor(), engine)
	prelude := login.StandardPrelude(shares, links, identity.SSHUser, resizeScript)
	if err := scheduler.Run(prelude); err != nil {
		server.Broadcast("error: " + err.Error())
		_ = instance.RequestStop()
		return fmt.Errorf("running login sequence: %w", err)
	}
	server.Broadcast("vm booting... go vibecoder!")

	initial := supervisor.NewState()
	// The shutdown writer (the serial engine) is already running by the
	// time the event loop starts, so WriterAvailable never needs to flip at
	// runtime here; the reducer's writer-absent retry path only fires in a
	// process that loses and regains its writer mid-flight, which this
	// supervisor never does.
	initial.WriterAvailable = true
	runErr := loop.Run(initial)
	if runErr == nil {
		if err := project.TouchLastActive(paths, &identity, time.Now()); err != nil {
			log.WithError(err).Warn("failed to stamp last_active on exit")
		}
	}
	return runErr
}

func resolveProjectRoot(flagValue string) (string, error) {
	root := flagValue
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Abs(root)
}

func loadConfig(root string) (config.Config, error) {
	path := os.Getenv("VIBEBOX_CONFIG_PATH")
	if path == "" {
		path = filepath.Join(root, "vibebox.toml")
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return config.Config{}, err
	}
	if ms := os.Getenv("VIBEBOX_AUTO_SHUTDOWN_MS"); ms != "" {
		if parsed, convErr := strconv.ParseUint(ms, 10, 64); convErr == nil && parsed > 0 {
			cfg.Supervisor.AutoShutdownMS = parsed
		}
	}
	return cfg, nil
}

func prepareInstanceDisk(ctx context.Context, log *logrus.Entry, paths project.Paths, cfg config.Config) (resizeNeeded bool, err error) {
	home, err := homedir.Dir()
	if err != nil {
		return false, fmt.Errorf("resolving home directory: %w", err)
	}
	cache := diskprep.CacheDir{Dir: filepath.Join(home, ".cache", "vibebox")}
	if err := ensureDefaultImage(ctx, log, cache); err != nil {
		return false, err
	}
	return diskprep.EnsureInstanceDisk(log, cache.DefaultImagePath(), paths.InstanceDisk(), cfg.Box.DiskBytes())
}

// ensureDefaultImage implements spec.md §4.7 step 1: the global cache must
// hold a provisioned default.raw before any project disk can be derived
// from it.
func ensureDefaultImage(ctx context.Context, log *logrus.Entry, cache diskprep.CacheDir) error {
	if _, statErr := os.Stat(cache.DefaultImagePath()); statErr == nil {
		return validateCachedDefaultImage(log, cache)
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("stat cached default image: %w", statErr)
	}

	if err := diskprep.RestoreDefaultImageIfNeeded(log, cache); err != nil {
		return fmt.Errorf("restoring cached default image from archive: %w", err)
	}
	if _, statErr := os.Stat(cache.DefaultImagePath()); statErr == nil {
		return nil
	}

	if _, statErr := os.Stat(cache.BaseImagePath()); statErr != nil {
		return fmt.Errorf("no base image at %s to provision from (base image download/decompression runs outside the supervisor)", cache.BaseImagePath())
	}

	log.WithField("base_image", cache.BaseImagePath()).Info("provisioning default image")
	if err := runProvisioningSession(ctx, log, cache); err != nil {
		return err
	}

	if _, err := diskprep.RecordDigest(cache.DefaultImagePath()); err != nil {
		return fmt.Errorf("recording default image digest: %w", err)
	}
	if err := diskprep.ArchiveDefaultImage(cache); err != nil {
		log.WithError(err).Warn("failed to archive provisioned default image")
	}
	return nil
}

func validateCachedDefaultImage(log *logrus.Entry, cache diskprep.CacheDir) error {
	recorded, ok, err := diskprep.ReadRecordedDigest(cache.DefaultImagePath())
	if err != nil {
		return fmt.Errorf("reading recorded default image digest: %w", err)
	}
	if !ok {
		log.Warn("no digest recorded for cached default image; skipping validation")
		return nil
	}
	if err := diskprep.ValidateFileWithDigest(log, cache.DefaultImagePath(), recorded); err != nil {
		return fmt.Errorf("cached default image failed digest validation: %w", err)
	}
	return nil
}

// provisionTimeout bounds how long a provisioning session may run before
// the supervisor gives up and reports failure.
const provisionTimeout = 15 * time.Minute

// runProvisioningSession boots cache.BaseImagePath() in a throwaway VM and
// waits for it to announce VIBEBOX_PROVISION_OK or VIBEBOX_PROVISION_FAILED
// over the serial console, per spec.md §4.7 step 1. On success,
// default.raw is left in place at cache.DefaultImagePath(); on failure it
// is removed (scenario S6).
func runProvisioningSession(ctx context.Context, log *logrus.Entry, cache diskprep.CacheDir) (err error) {
	if err := diskprep.CopyFile(cache.BaseImagePath(), cache.DefaultImagePath()); err != nil {
		return fmt.Errorf("seeding provisioning disk: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := diskprep.RemovePartialDefaultImage(cache); rmErr != nil {
				log.WithError(rmErr).Warn("failed to remove partially provisioned default image")
			}
		}
	}()

	opts := vmconfig.Options{
		CPUCount:    2,
		MemoryBytes: 2 << 30,
		DiskPath:    cache.DefaultImagePath(),
		EFIVarStore: filepath.Join(cache.Dir, "provision_efi_vars.fd"),
	}
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating provisioning stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating provisioning stdout pipe: %w", err)
	}
	serial := vmconfig.SerialHandles{GuestStdinRead: stdinRead, GuestStdoutWrite: stdoutWrite}

	vmConfig, err := vmconfig.Build(opts, serial)
	if err != nil {
		return fmt.Errorf("building provisioning vm configuration: %w", err)
	}

	instance, err := vminstance.New(ctx, vmConfig, log.WithField("component", "provision-vm"))
	if err != nil {
		return fmt.Errorf("creating provisioning vm: %w", err)
	}

	result := make(chan error, 1)
	scanner := &serialio.LineScanner{}
	hook := func(chunk []byte) {
		for _, ev := range scanner.Feed(chunk) {
			switch ev.Kind {
			case serialio.EventProvisionOK:
				select {
				case result <- nil:
				default:
				}
			case serialio.EventProvisionFailed:
				select {
				case result <- diskprep.ErrProvisionFailed:
				default:
				}
			}
		}
	}

	engine, err := serialio.New(stdoutRead, stdinWrite, nil, &vio.DiscardWriteCloser{}, nil, hook)
	if err != nil {
		return fmt.Errorf("creating provisioning serial engine: %w", err)
	}
	go engine.Run()
	defer engine.Close()

	if err := instance.Start(ctx); err != nil {
		return fmt.Errorf("starting provisioning vm: %w", err)
	}
	defer func() { _ = instance.ForceStop() }()

	scheduler := login.NewScheduler(engine.Monitor(), engine)
	if err := scheduler.Run(login.StandardPrelude(nil, nil, "root", "")); err != nil {
		return fmt.Errorf("provisioning login sequence: %w", err)
	}

	select {
	case provErr := <-result:
		return provErr
	case <-time.After(provisionTimeout):
		return fmt.Errorf("provisioning session timed out after %s", provisionTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMounts(root, sshUser string, cfg config.Config) ([]mount.Share, []mount.HomeLink, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving home directory: %w", err)
	}
	projectName := filepath.Base(root)
	specs := mount.EnsureProjectMount(cfg.Box.Mounts, root, projectName, sshUser)
	return mount.Translate(specs, sshUser, home)
}

// buildVMConfig constructs the hypervisor configuration plus the host-side
// ends of the two serial pipes; the guest-facing ends are handed to
// vmconfig.Build and retained by the hypervisor.
func buildVMConfig(paths project.Paths, cfg config.Config, shares []mount.Share) (*vz.VirtualMachineConfiguration, *os.File, *os.File, error) {
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating guest stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating guest stdout pipe: %w", err)
	}

	opts := vmconfig.Options{
		CPUCount:        cfg.Box.CPUCount,
		MemoryBytes:     cfg.Box.RAMBytes(),
		DiskPath:        paths.InstanceDisk(),
		EFIVarStore:     paths.EFIVarStore(),
		DirectoryShares: shares,
	}
	serial := vmconfig.SerialHandles{GuestStdinRead: stdinRead, GuestStdoutWrite: stdoutWrite}

	built, err := vmconfig.Build(opts, serial)
	if err != nil {
		return nil, nil, nil, err
	}
	return built, stdinWrite, stdoutRead, nil
}

func makeOutputHook(log *logrus.Entry, paths project.Paths, identity *project.Identity, server *socket.Server) serialio.OnOutput {
	scanner := &serialio.LineScanner{}
	return func(chunk []byte) {
		for _, ev := range scanner.Feed(chunk) {
			switch ev.Kind {
			case serialio.EventIPv4Discovered:
				if changed, err := project.SetVMIPv4(paths, identity, ev.IPv4); err != nil {
					log.WithError(err).Warn("failed to persist discovered ipv4")
				} else if changed {
					log.WithField("ipv4", ev.IPv4).Info("guest advertised ipv4")
				}
			case serialio.EventSSHReady:
				log.Debug("guest ssh daemon is ready")
			case serialio.EventProvisionFailed:
				server.Broadcast("error: base image provisioning failed")
			case serialio.EventScriptError:
				msg := fmt.Sprintf("%s:%d:%d", ev.ScriptLabel, ev.ScriptLine, ev.ScriptRC)
				log.WithField("script_error", msg).Warn("guest script reported an error")
				server.Broadcast("vm_error " + msg)
			}
		}
	}
}

func bridgeClientEvents(in <-chan socket.ClientEvent, out chan<- supervisor.Event) {
	for ev := range in {
		switch ev.Kind {
		case socket.EventInc:
			out <- supervisor.Event{Kind: supervisor.EventInc}
		case socket.EventDec:
			out <- supervisor.Event{Kind: supervisor.EventDec}
		}
	}
}

type shutdownWriterFunc func() error

func (f shutdownWriterFunc) WriteShutdown() error { return f() }
