// Package config loads the fields of a project's vibebox.toml that the
// supervisor itself consumes, per spec.md §6. Validation and editing of the
// rest of the file are the front-end CLI's concern and stay out of scope
// here.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Box describes the hypervisor-facing fields of box.*.
type Box struct {
	CPUCount uint     `toml:"cpu_count"`
	RAMMB    uint64   `toml:"ram_mb"`
	DiskGB   uint64   `toml:"disk_gb"`
	Mounts   []string `toml:"mounts"`
}

// SupervisorConfig describes the supervisor.* fields.
type SupervisorConfig struct {
	AutoShutdownMS uint64 `toml:"auto_shutdown_ms"`
}

// Config is the subset of vibebox.toml the supervisor reads.
type Config struct {
	Box        Box              `toml:"box"`
	Supervisor SupervisorConfig `toml:"supervisor"`
}

// DefaultAutoShutdownMS is used when supervisor.auto_shutdown_ms is absent.
const DefaultAutoShutdownMS = 5 * 60 * 1000

// Default returns the fallback configuration used when no vibebox.toml
// exists yet, mirroring the minimal viable box the CLI front-end would
// otherwise have written.
func Default() Config {
	return Config{
		Box: Box{
			CPUCount: 2,
			RAMMB:    2048,
			DiskGB:   20,
		},
		Supervisor: SupervisorConfig{AutoShutdownMS: DefaultAutoShutdownMS},
	}
}

// Load reads and parses path. Fields absent from the file keep their
// Default() values, so callers never have to special-case an absent
// supervisor/box table; a numeric field set explicitly to zero is rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if cfg.Box.CPUCount == 0 {
		return Config{}, fmt.Errorf("%s: box.cpu_count must be >= 1", path)
	}
	if cfg.Box.RAMMB == 0 {
		return Config{}, fmt.Errorf("%s: box.ram_mb must be >= 1", path)
	}
	if cfg.Box.DiskGB == 0 {
		return Config{}, fmt.Errorf("%s: box.disk_gb must be >= 1", path)
	}
	if cfg.Supervisor.AutoShutdownMS == 0 {
		return Config{}, fmt.Errorf("%s: supervisor.auto_shutdown_ms must be >= 1", path)
	}

	return cfg, nil
}

// LoadOrDefault reads path if present, otherwise returns Default().
func LoadOrDefault(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// RAMBytes converts box.ram_mb to bytes, per spec.md §6.
func (b Box) RAMBytes() uint64 {
	return b.RAMMB * 1024 * 1024
}

// DiskBytes converts box.disk_gb to bytes.
func (b Box) DiskBytes() int64 {
	return int64(b.DiskGB) * 1024 * 1024 * 1024
}
