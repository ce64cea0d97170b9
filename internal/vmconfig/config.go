// Package vmconfig builds the hypervisor configuration for a headless Linux
// guest. Adapted from the teacher's pkg/vm/config/virtual_machine.go (kept:
// the config-builder shape, storage/network/entropy device wiring, the
// directory-sharing device pattern) with every macOS-guest-only device
// (graphics, pointing, keyboard, audio, Mac platform/hardware model)
// dropped and the serial console device added, grounded on
// other_examples/59fa81c5_royisme-vibebox__internal-backend-macos-backend_darwin.go.go.
package vmconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Code-Hex/vz/v3"

	"github.com/vibebox/vibebox/internal/mount"
)

// Options describes the VM to build, per spec.md §4.4's configuration
// invariants.
type Options struct {
	CPUCount       uint
	MemoryBytes    uint64
	DiskPath       string
	EFIVarStore    string
	DirectoryShares []mount.Share
}

// SerialHandles are the hypervisor-facing ends of the guest_stdin/guest_stdout
// pipes, per spec.md §4.5: the guest reads its stdin from GuestStdinRead and
// writes its stdout to GuestStdoutWrite. The other end of each pipe
// (GuestStdinWrite, GuestStdoutRead) stays with the host and is handed to
// internal/serialio instead.
type SerialHandles struct {
	GuestStdinRead   *os.File // vz reads from here to feed the guest's serial stdin
	GuestStdoutWrite *os.File // vz writes the guest's serial stdout here
}

// Build constructs a validated vz.VirtualMachineConfiguration for a
// headless Linux guest: one EFI boot loader, one virtio-blk boot volume,
// one virtio-net NAT device, one virtio-entropy device, one virtio-console
// serial port, and optionally one virtio-fs device.
func Build(opts Options, serial SerialHandles) (*vz.VirtualMachineConfiguration, error) {
	cpuCount, err := ValidateCPUCount(opts.CPUCount)
	if err != nil {
		return nil, err
	}
	memoryBytes, err := ValidateMemorySize(opts.MemoryBytes)
	if err != nil {
		return nil, err
	}

	bootLoader, err := efiBootLoader(opts.EFIVarStore)
	if err != nil {
		return nil, fmt.Errorf("creating EFI boot loader: %w", err)
	}

	config, err := vz.NewVirtualMachineConfiguration(bootLoader, cpuCount, memoryBytes)
	if err != nil {
		return nil, fmt.Errorf("creating virtual machine configuration: %w", err)
	}

	if err := attachStorage(config, opts.DiskPath); err != nil {
		return nil, err
	}
	if err := attachNetwork(config); err != nil {
		return nil, err
	}
	if err := attachEntropy(config); err != nil {
		return nil, err
	}
	if err := attachSerialConsole(config, serial); err != nil {
		return nil, err
	}
	if err := attachDirectoryShares(config, opts.DirectoryShares); err != nil {
		return nil, err
	}

	valid, err := config.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating virtual machine configuration: %w", err)
	}
	if !valid {
		return nil, fmt.Errorf("invalid virtual machine configuration")
	}

	return config, nil
}

func efiBootLoader(varStorePath string) (*vz.EFIBootLoader, error) {
	if err := os.MkdirAll(filepath.Dir(varStorePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating EFI variable store directory: %w", err)
	}

	var store *vz.EFIVariableStore
	var err error
	if _, statErr := os.Stat(varStorePath); statErr == nil {
		store, err = vz.NewEFIVariableStore(varStorePath)
	} else {
		store, err = vz.NewEFIVariableStore(varStorePath, vz.WithCreatingEFIVariableStore())
	}
	if err != nil {
		return nil, fmt.Errorf("initializing EFI variable store: %w", err)
	}

	return vz.NewEFIBootLoader(vz.WithEFIVariableStore(store))
}

func attachStorage(config *vz.VirtualMachineConfiguration, diskPath string) error {
	attachment, err := vz.NewDiskImageStorageDeviceAttachment(diskPath, false)
	if err != nil {
		return fmt.Errorf("creating disk image attachment: %w", err)
	}
	block, err := vz.NewVirtioBlockDeviceConfiguration(attachment)
	if err != nil {
		return fmt.Errorf("creating block device configuration: %w", err)
	}
	config.SetStorageDevicesVirtualMachineConfiguration([]vz.StorageDeviceConfiguration{block})
	return nil
}

func attachNetwork(config *vz.VirtualMachineConfiguration) error {
	attachment, err := vz.NewNATNetworkDeviceAttachment()
	if err != nil {
		return fmt.Errorf("creating NAT network attachment: %w", err)
	}
	netDev, err := vz.NewVirtioNetworkDeviceConfiguration(attachment)
	if err != nil {
		return fmt.Errorf("creating network device configuration: %w", err)
	}
	if mac, macErr := vz.NewRandomLocallyAdministeredMACAddress(); macErr == nil {
		netDev.SetMACAddress(mac)
	}
	config.SetNetworkDevicesVirtualMachineConfiguration([]*vz.VirtioNetworkDeviceConfiguration{netDev})
	return nil
}

func attachEntropy(config *vz.VirtualMachineConfiguration) error {
	entropy, err := vz.NewVirtioEntropyDeviceConfiguration()
	if err != nil {
		return fmt.Errorf("creating entropy device configuration: %w", err)
	}
	config.SetEntropyDevicesVirtualMachineConfiguration([]*vz.VirtioEntropyDeviceConfiguration{entropy})
	return nil
}

func attachSerialConsole(config *vz.VirtualMachineConfiguration, serial SerialHandles) error {
	attachment, err := vz.NewFileHandleSerialPortAttachment(serial.GuestStdinRead, serial.GuestStdoutWrite)
	if err != nil {
		return fmt.Errorf("creating serial port attachment: %w", err)
	}
	port, err := vz.NewVirtioConsoleDeviceSerialPortConfiguration(attachment)
	if err != nil {
		return fmt.Errorf("creating serial console configuration: %w", err)
	}
	config.SetSerialPortsVirtualMachineConfiguration([]*vz.VirtioConsoleDeviceSerialPortConfiguration{port})
	return nil
}

// sharedStagingTag is the virtio-fs automount tag the guest mounts once at
// /mnt/shared, matching the "shared" tag used by the login prelude.
const sharedStagingTag = "shared"

func attachDirectoryShares(config *vz.VirtualMachineConfiguration, shares []mount.Share) error {
	if len(shares) == 0 {
		return nil
	}

	dirs := make(map[string]*vz.SharedDirectory, len(shares))
	for _, share := range shares {
		if info, err := os.Stat(share.HostPath); err != nil || !info.IsDir() {
			return fmt.Errorf("directory share host path %q does not exist or is not a directory", share.HostPath)
		}
		sd, err := vz.NewSharedDirectory(share.HostPath, share.Mode == mount.ReadOnly)
		if err != nil {
			return fmt.Errorf("creating shared directory %q: %w", share.HostPath, err)
		}
		dirs[mount.ShareTag(share.HostPath)] = sd
	}

	multiShare, err := vz.NewMultipleDirectoryShare(dirs)
	if err != nil {
		return fmt.Errorf("creating multiple directory share: %w", err)
	}
	fsConfig, err := vz.NewVirtioFileSystemDeviceConfiguration(sharedStagingTag)
	if err != nil {
		return fmt.Errorf("creating virtiofs device configuration: %w", err)
	}
	fsConfig.SetDirectoryShare(multiShare)

	config.SetDirectorySharingDevicesVirtualMachineConfiguration([]vz.DirectorySharingDeviceConfiguration{fsConfig})
	return nil
}
