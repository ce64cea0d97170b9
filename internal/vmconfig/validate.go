package vmconfig

import (
	"fmt"

	"github.com/Code-Hex/vz/v3"
)

// ValidateCPUCount clamps and validates a requested CPU count against the
// hypervisor's allowed range. Kept near-verbatim from the teacher's
// pkg/vm/validator.go.
func ValidateCPUCount(cpuCount uint) (uint, error) {
	maxAllowed := vz.VirtualMachineConfigurationMaximumAllowedCPUCount()
	if cpuCount > maxAllowed {
		return maxAllowed, fmt.Errorf("cpu count %d is greater than the maximum allowed cpu count %d", cpuCount, maxAllowed)
	}

	minAllowed := vz.VirtualMachineConfigurationMinimumAllowedCPUCount()
	if cpuCount < minAllowed {
		return minAllowed, fmt.Errorf("cpu count %d is less than the minimum allowed cpu count %d", cpuCount, minAllowed)
	}

	return cpuCount, nil
}

// ValidateMemorySize clamps and validates a requested memory size against
// the hypervisor's allowed range.
func ValidateMemorySize(memorySize uint64) (uint64, error) {
	maxAllowed := vz.VirtualMachineConfigurationMaximumAllowedMemorySize()
	if memorySize > maxAllowed {
		return maxAllowed, fmt.Errorf("memory size %d is greater than the maximum allowed memory size %d", memorySize, maxAllowed)
	}

	minAllowed := vz.VirtualMachineConfigurationMinimumAllowedMemorySize()
	if memorySize < minAllowed {
		return minAllowed, fmt.Errorf("memory size %d is less than the minimum allowed memory size %d", memorySize, minAllowed)
	}

	return memorySize, nil
}
