// Package consts holds small fixed values shared across the planner, the
// materializer, and the stats collector, so that magic numbers don't drift
// between packages.
package consts

const (
	// DefaultClickHouseVersion records the ClickHouse release rollkeeper
	// was built against. No code reads it; the container image tag comes
	// from docker.Options.Version.
	DefaultClickHouseVersion = "24.8"

	// DefaultClickHouseCluster is a conventional cluster name. No code reads
	// it: ON CLUSTER is added only when clickhouse.cluster is set in config.
	DefaultClickHouseCluster = "cluster"

	// PartitionRowThreshold is the minimum row count (spec §3) a base MV
	// must reach before type-partitioned siblings are built for it.
	PartitionRowThreshold = 100_000

	// TopK is the number of most-frequent values kept per grouping key by
	// the stats collector.
	TopK = 10

	// DefaultScanWeight and DefaultRollupWeight are the baseline cost-model
	// weights that hardware.Info.CostWeights divides by its memory and
	// thread factors. An explicit weight in config replaces the result.
	DefaultScanWeight   = 1.0
	DefaultRollupWeight = 32.0
)

// EventTypes lists the categorical values of the `type` column that
// type-partitioned MVs are built for. The source workload hard-codes these
// four. The materializer and planner copy this list into their EventTypes
// fields; there is no config setting for it.
var EventTypes = []string{"serve", "impression", "click", "purchase"}

// TimeDimensions are the event columns treated as ordered (date/time-like)
// for the purposes of BETWEEN predicate validation (spec §9 Open Question
// on BETWEEN semantics).
var TimeDimensions = map[string]bool{
	"week":   true,
	"day":    true,
	"hour":   true,
	"minute": true,
}

// NumericDimensions are non-time columns BETWEEN is also permitted on.
var NumericDimensions = map[string]bool{
	"advertiser_id": true,
	"publisher_id":  true,
	"bid_price":     true,
	"total_price":   true,
}
