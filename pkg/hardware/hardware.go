// Package hardware detects the local machine's thread count and available
// memory and turns them into the planner's cost-model weights.
//
// The core idea — more RAM makes scanning cheap, more threads make rollup
// aggregation cheap — comes straight from the source implementation's
// hardware-aware cost function; this package exists so pkg/planner never
// has to read /proc/meminfo itself.
package hardware

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rollkeeper/rollkeeper/pkg/consts"
)

type (
	// Info describes the resources the planner's cost model scales against.
	Info struct {
		// Threads is the number of logical CPUs available for parallel
		// aggregation by the OLAP engine.
		Threads int

		// AvailableMemoryGB is the amount of free memory, in gigabytes,
		// the engine can use for scanning and caching rollups.
		AvailableMemoryGB float64
	}
)

const (
	baselineMemoryGB = 18.0
	baselineThreads  = 10.0
	minFactor        = 0.5
	maxFactor        = 2.0
	fallbackMemoryGB = 16.0
)

var (
	detectOnce   sync.Once
	detectedInfo Info
)

// Detect returns the process-wide hardware snapshot, computing it once and
// caching the result. Use Detect().CostWeights() to obtain planner weights
// from autodetected hardware, or construct an Info directly (e.g. from
// config) to override detection.
func Detect() Info {
	detectOnce.Do(func() {
		detectedInfo = Info{
			Threads:           runtime.NumCPU(),
			AvailableMemoryGB: detectAvailableMemoryGB(),
		}
	})
	return detectedInfo
}

func detectAvailableMemoryGB() float64 {
	if runtime.GOOS != "linux" {
		return fallbackMemoryGB
	}

	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fallbackMemoryGB
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			break
		}
		return kb / 1_048_576.0 // KB -> GB
	}

	return fallbackMemoryGB
}

// CostWeights derives (scanWeight, rollupWeight) from the hardware snapshot.
// Lower scanWeight means scanning more rows is relatively cheap (more RAM to
// spare); lower rollupWeight means aggregating extra groups is relatively
// cheap (more threads to parallelize across). Both factors are clamped to
// [0.5, 2.0] so a single outlier machine can't swing the cost model by more
// than 2x in either direction.
func (i Info) CostWeights() (scanWeight, rollupWeight float64) {
	memoryFactor := clamp(i.AvailableMemoryGB/baselineMemoryGB, minFactor, maxFactor)
	scanWeight = consts.DefaultScanWeight / memoryFactor

	threads := float64(i.Threads)
	threadFactor := clamp(threads/baselineThreads, minFactor, maxFactor)
	rollupWeight = consts.DefaultRollupWeight / threadFactor

	return scanWeight, rollupWeight
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
