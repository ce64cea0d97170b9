// Package project resolves the per-project .vibebox/ state directory and
// the files that live under it.
package project

import "path/filepath"

const stateDirName = ".vibebox"

// Paths resolves the on-disk layout of a project's state directory.
type Paths struct {
	Root  string // absolute project root
	State string // <Root>/.vibebox
}

// NewPaths resolves the state directory paths for a project root.
// root must already be absolute; callers resolve relative roots before
// constructing Paths.
func NewPaths(root string) Paths {
	return Paths{
		Root:  root,
		State: filepath.Join(root, stateDirName),
	}
}

func (p Paths) PidFile() string         { return filepath.Join(p.State, "vm.pid") }
func (p Paths) SockFile() string        { return filepath.Join(p.State, "vm.sock") }
func (p Paths) LockFile() string        { return filepath.Join(p.State, "vm.lock") }
func (p Paths) InstanceTOML() string    { return filepath.Join(p.State, "instance.toml") }
func (p Paths) InstanceDisk() string    { return filepath.Join(p.State, "instance.raw") }
func (p Paths) SSHKey() string          { return filepath.Join(p.State, "ssh_key") }
func (p Paths) SSHPublicKey() string    { return filepath.Join(p.State, "ssh_key.pub") }
func (p Paths) CLILog() string          { return filepath.Join(p.State, "cli.log") }
func (p Paths) VMManagerLog() string    { return filepath.Join(p.State, "vm_manager.log") }
func (p Paths) VMRootLog() string       { return filepath.Join(p.State, "vm_root.log") }
func (p Paths) EFIVarStore() string     { return filepath.Join(p.State, "efi_vars.fd") }
