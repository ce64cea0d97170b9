//go:build darwin || linux

package ensure

import "syscall"

// detachedSysProcAttr detaches the spawned supervisor into its own session
// so it survives the parent terminal closing.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
