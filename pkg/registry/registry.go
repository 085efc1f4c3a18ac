// Package registry defines the static catalog of materialized-view
// descriptors rollkeeper builds at startup, and the aggregate-spec type
// shared by the query IR, the materializer, and the planner.
//
// The catalog is a curated, workload-aware list (spec §4.2): one MV per
// expected filter/group-by shape in the query set, plus a few broader MVs
// to cover unanticipated shapes. It is grounded directly on the source
// implementation's mv.rs::create_mv_registry.
package registry

import (
	"fmt"
	"strings"
)

type (
	// AggOp is the aggregate operator half of an Agg spec.
	AggOp string

	// Agg pairs an operator with the column it applies to. An empty Column
	// means COUNT(*); every other op requires a column.
	Agg struct {
		Op     AggOp
		Column string // empty means COUNT(*)
	}

	// MV describes one materialized view: its stable name, its ordered
	// grouping keys, and the preaggregates it stores.
	MV struct {
		Name    string
		GroupBy []string
		Aggs    map[Agg]struct{}
	}
)

const (
	Count AggOp = "COUNT"
	Sum   AggOp = "SUM"
	Min   AggOp = "MIN"
	Max   AggOp = "MAX"
	Avg   AggOp = "AVG"
)

// CountStar is the Agg for COUNT(*).
var CountStar = Agg{Op: Count}

// NewAggSet builds a set from a slice, the idiomatic Go stand-in for the
// source's HashSet<Agg>.
func NewAggSet(aggs ...Agg) map[Agg]struct{} {
	set := make(map[Agg]struct{}, len(aggs))
	for _, a := range aggs {
		set[a] = struct{}{}
	}
	return set
}

// Has reports whether the MV stores the given aggregate exactly.
func (m MV) Has(a Agg) bool {
	_, ok := m.Aggs[a]
	return ok
}

// HasGroupKey reports whether col is one of the MV's grouping keys.
func (m MV) HasGroupKey(col string) bool {
	for _, k := range m.GroupBy {
		if k == col {
			return true
		}
	}
	return false
}

// CanonicalAggs is the preaggregate bundle every registry MV carries,
// chosen so that SUM, COUNT, AVG of the two monetary columns and COUNT(*)
// are always derivable (spec §4.2).
func CanonicalAggs() map[Agg]struct{} {
	return NewAggSet(
		CountStar,
		Agg{Op: Count, Column: "bid_price"},
		Agg{Op: Count, Column: "total_price"},
		Agg{Op: Sum, Column: "bid_price"},
		Agg{Op: Sum, Column: "total_price"},
	)
}

// MetricColumnName implements the MV column-naming rule from spec §6:
// COUNT(*) becomes count_rows; any other op over column c becomes
// <op_lowercase>_<c>.
func MetricColumnName(op AggOp, column string) string {
	lower := strings.ToLower(string(op))
	if lower == "count" && column == "" {
		return "count_rows"
	}
	if column == "" {
		column = "rows"
	}
	return fmt.Sprintf("%s_%s", lower, strings.ReplaceAll(column, ".", "_"))
}

// Catalog returns the static MV registry. Order matters: the materializer
// builds MVs in this order (spec §5), and ties in planner cost are broken
// by name rather than position, so reordering this slice changes nothing
// observable — but building happens in this order so a failure partway
// through leaves a deterministic prefix built.
func Catalog() []MV {
	common := CanonicalAggs()

	return []MV{
		{
			Name:    "mv_advertiser_id_full",
			GroupBy: []string{"type", "day", "country", "advertiser_id"},
			Aggs:    common,
		},
		{
			Name:    "mv_day_fast",
			GroupBy: []string{"type", "day"},
			Aggs:    common,
		},
		{
			Name:    "mv_time_fast",
			GroupBy: []string{"type", "day", "hour", "minute"},
			Aggs:    common,
		},
		{
			Name:    "mv_advertiser_id_fast",
			GroupBy: []string{"type", "advertiser_id"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_country",
			GroupBy: []string{"type", "country"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_week",
			GroupBy: []string{"type", "week"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_day_country",
			GroupBy: []string{"type", "day", "country"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_only",
			GroupBy: []string{"type"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_day_publisher_id",
			GroupBy: []string{"type", "day", "publisher_id"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_day_minute",
			GroupBy: []string{"type", "day", "minute"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_week_day",
			GroupBy: []string{"type", "week", "day"},
			Aggs:    common,
		},
		{
			Name:    "mv_type_day_country_publisher_id",
			GroupBy: []string{"type", "day", "country", "publisher_id"},
			Aggs:    common,
		},
	}
}

// PartitionName returns the stable name for the type-partitioned sibling of
// parent restricted to the given type value (spec §3, §6).
func PartitionName(parent, typeValue string) string {
	return fmt.Sprintf("%s_type_%s", parent, typeValue)
}

// SplitPartitionName reports whether name is a type-partitioned MV name and,
// if so, returns its parent name and type value. A name only counts as
// type-partitioned if the suffix after the last "_type_" is one of
// knownTypes — otherwise a base MV that contains "_type_" in its own name
// (e.g. mv_type_day_country) would be misidentified.
func SplitPartitionName(name string, knownTypes []string) (parent, typeValue string, ok bool) {
	const marker = "_type_"
	idx := strings.LastIndex(name, marker)
	if idx < 0 {
		return "", "", false
	}

	candidate := name[idx+len(marker):]
	for _, t := range knownTypes {
		if candidate == t {
			return name[:idx], candidate, true
		}
	}
	return "", "", false
}
