package project

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// Identity is the persistent identity stored in instance.toml.
type Identity struct {
	ID           uuid.UUID  `toml:"id"`
	SSHUser      string     `toml:"ssh_user"`
	SudoPassword string     `toml:"sudo_password"`
	LastActive   *time.Time `toml:"last_active,omitempty"`
	VMIPv4       string     `toml:"vm_ipv4,omitempty"`
}

const DefaultSSHUser = "vibecoder"

// LoadOrCreateIdentity loads the project's instance.toml, creating it with a
// fresh UUIDv7 identity if it does not exist yet. vm_ipv4 is always cleared,
// per the contract that it only reflects the current supervisor run.
func LoadOrCreateIdentity(paths Paths) (Identity, error) {
	data, err := os.ReadFile(paths.InstanceTOML())
	switch {
	case err == nil:
		var id Identity
		if err := toml.Unmarshal(data, &id); err != nil {
			return Identity{}, fmt.Errorf("parsing instance.toml: %w", err)
		}
		id.VMIPv4 = ""
		return id, nil
	case os.IsNotExist(err):
		id, genErr := newIdentity()
		if genErr != nil {
			return Identity{}, genErr
		}
		if err := SaveIdentity(paths, id); err != nil {
			return Identity{}, err
		}
		return id, nil
	default:
		return Identity{}, fmt.Errorf("reading instance.toml: %w", err)
	}
}

func newIdentity() (Identity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Identity{}, fmt.Errorf("generating instance id: %w", err)
	}
	password, err := randomSudoPassword()
	if err != nil {
		return Identity{}, fmt.Errorf("generating sudo password: %w", err)
	}
	return Identity{
		ID:           id,
		SSHUser:      DefaultSSHUser,
		SudoPassword: password,
	}, nil
}

// SaveIdentity writes instance.toml atomically: a temp file in the same
// directory is written and fsynced, then renamed over the target so
// concurrent readers never observe a truncated document.
func SaveIdentity(paths Paths, id Identity) error {
	data, err := toml.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshaling instance.toml: %w", err)
	}
	return atomicWriteFile(paths.InstanceTOML(), data, 0o600)
}

// SetVMIPv4 persists a newly discovered guest IPv4 address, iff it differs
// from the currently stored value.
func SetVMIPv4(paths Paths, id *Identity, addr string) (changed bool, err error) {
	if id.VMIPv4 == addr {
		return false, nil
	}
	id.VMIPv4 = addr
	if err := SaveIdentity(paths, *id); err != nil {
		return false, err
	}
	return true, nil
}

// TouchLastActive stamps last_active with the current time and saves it.
func TouchLastActive(paths Paths, id *Identity, now time.Time) error {
	id.LastActive = &now
	return SaveIdentity(paths, *id)
}

func atomicWriteFile(path string, data []byte, mode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}
