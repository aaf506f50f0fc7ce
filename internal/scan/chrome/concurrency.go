package chrome

import (
	"strconv"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	minConcurrency = 1
	maxConcurrency = 50

	// Memory model for "auto" sizing: reserve headroom for the system and
	// budget per concurrent tab.
	reservedBytes = int64(2 * 1024 * 1024 * 1024)
	perScanBytes  = int64(500 * 1024 * 1024)
	fallbackRAM   = int64(8 * 1024 * 1024 * 1024)
)

// CalculateConcurrency resolves the scan.concurrency setting to a slot count.
// "auto" sizes from system RAM; an explicit positive integer is taken as-is.
// Anything else falls back to auto sizing.
func CalculateConcurrency(setting string) int {
	if setting == "auto" {
		return autoConcurrency(totalRAM())
	}

	n, err := strconv.Atoi(setting)
	if err != nil || n <= 0 {
		return autoConcurrency(totalRAM())
	}
	return n
}

func totalRAM() int64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return fallbackRAM
	}
	return int64(v.Total)
}

func autoConcurrency(totalRAMBytes int64) int {
	n := int((totalRAMBytes - reservedBytes) / perScanBytes)
	if n < minConcurrency {
		return minConcurrency
	}
	if n > maxConcurrency {
		return maxConcurrency
	}
	return n
}
