package mount

import (
	"fmt"
	"path/filepath"
)

// ShareTag computes the deterministic per-share tag used both as the vz
// SharedDirectory map key (internal/vmconfig) and as the guest staging
// directory name under /mnt/shared (internal/login): "<basename>_<16-hex
// DJB2 of full path>", per spec.md §4.4. Ported from the reference
// implementation's DirectoryShare::tag in original_source/src/vm.rs.
func ShareTag(hostPath string) string {
	var hash uint64 = 5381
	for _, b := range []byte(hostPath) {
		hash = hash*33 + uint64(b)
	}
	base := filepath.Base(hostPath)
	if base == "" || base == "." || base == "/" {
		base = "share"
	}
	return fmt.Sprintf("%s_%016x", base, hash)
}
