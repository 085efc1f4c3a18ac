// Package materializer builds the registry's materialized views against a
// live ClickHouse connection, and the per-type partition siblings for any
// base MV that grows past the partitioning threshold.
//
// Grounded on the source implementation's preprocessor.rs::create_materialized_views
// (sequential build, abort on first failure, progress per MV) and
// mv.rs::generate_create_sql (the SELECT list / GROUP BY shape of each MV),
// reworked for ClickHouse's MergeTree engine instead of DuckDB's default
// table storage.
package materializer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/consts"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
	"github.com/rollkeeper/rollkeeper/pkg/stats"
)

type (
	// ClickHouse is the narrow surface Build/Partition need: running the
	// CREATE TABLE statements for base MVs and their type partitions. Row
	// counts come from pkg/stats, collected separately after Build.
	ClickHouse interface {
		Exec(ctx context.Context, query string, args ...any) error
	}

	// Queryer is the narrow surface Skip needs: listing the tables a prior
	// run already created, to tell which type partitions exist.
	Queryer interface {
		Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	}

	// Materializer builds the static MV registry, then partitions any base
	// MV whose row count reaches PartitionThreshold.
	Materializer struct {
		EventTypes []string

		// PartitionThreshold overrides consts.PartitionRowThreshold. Zero
		// means use the default.
		PartitionThreshold int64

		// Cluster, when non-empty, adds ON CLUSTER to every CREATE TABLE
		// statement this Materializer issues, for replicated deployments.
		Cluster string
	}
)

// New builds a Materializer using the default event-type list and the
// default partitioning threshold.
func New() Materializer {
	return Materializer{EventTypes: consts.EventTypes}
}

// Skip discovers the MVs a prior run already built, for use-existing-db mode.
// The base registry is assumed present; type partitions are whichever
// <parent>_type_<value> tables actually exist, found by listing the
// database's tables rather than assuming every partition-eligible MV was
// partitioned (that depended on row counts at the time of the prior build,
// which Skip has no other way to learn). Returns base MVs and partitioned
// MVs separately, matching Build/Partition's split.
func (m Materializer) Skip(ctx context.Context, ch Queryer) (base, partitioned []registry.MV, err error) {
	base = registry.Catalog()

	existing, err := existingTableNames(ctx, ch)
	if err != nil {
		return nil, nil, err
	}

	for _, mv := range base {
		if !mv.HasGroupKey("type") {
			continue
		}
		for _, typeValue := range m.EventTypes {
			name := registry.PartitionName(mv.Name, typeValue)
			if !existing[name] {
				continue
			}
			partitioned = append(partitioned, registry.MV{
				Name:    name,
				GroupBy: partitionGroupBy(mv.GroupBy),
				Aggs:    mv.Aggs,
			})
		}
	}

	return base, partitioned, nil
}

func existingTableNames(ctx context.Context, ch Queryer) (map[string]bool, error) {
	rows, err := ch.Query(ctx, "SELECT name FROM system.tables WHERE database = currentDatabase()")
	if err != nil {
		return nil, errors.Wrap(err, "listing existing tables")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scanning table name")
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (m Materializer) threshold() int64 {
	if m.PartitionThreshold > 0 {
		return m.PartitionThreshold
	}
	return consts.PartitionRowThreshold
}

// Build creates every MV in the registry, in registry order, and returns the
// descriptors unchanged (stats are collected separately). It aborts on the
// first failure: the spec requires the registry be built whole or not at
// all, since the planner's cost model assumes a complete set.
func (m Materializer) Build(ctx context.Context, ch ClickHouse) ([]registry.MV, error) {
	mvs := registry.Catalog()
	for _, mv := range mvs {
		if err := ch.Exec(ctx, CreateSQL(mv, m.Cluster)); err != nil {
			return nil, errors.Wrapf(err, "creating materialized view %s", mv.Name)
		}
	}
	return mvs, nil
}

// CreateSQL renders the CREATE TABLE statement for a base MV: a MergeTree
// table ordered by its grouping keys, populated by one grouped aggregate
// over events. The select-list and naming rules come from spec §5/§6. An
// optional cluster name adds ON CLUSTER for replicated deployments.
func CreateSQL(mv registry.MV, cluster ...string) string {
	selectParts := make([]string, 0, len(mv.GroupBy)+len(mv.Aggs))
	selectParts = append(selectParts, mv.GroupBy...)
	selectParts = append(selectParts, metricSelectParts(mv.Aggs)...)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s\n", mv.Name)
	if c := firstNonEmpty(cluster); c != "" {
		fmt.Fprintf(&b, "ON CLUSTER %s\n", c)
	}
	fmt.Fprintf(&b, "ENGINE = MergeTree ORDER BY (%s)\n", strings.Join(mv.GroupBy, ", "))
	b.WriteString("AS SELECT\n    ")
	b.WriteString(strings.Join(selectParts, ",\n    "))
	b.WriteString("\nFROM events\n")
	fmt.Fprintf(&b, "GROUP BY %s", strings.Join(mv.GroupBy, ", "))

	return b.String()
}

func metricSelectParts(aggs map[registry.Agg]struct{}) []string {
	parts := make([]string, 0, len(aggs))
	for agg := range aggs {
		col := agg.Column
		metricName := registry.MetricColumnName(agg.Op, col)
		if col == "" {
			parts = append(parts, fmt.Sprintf("COUNT(*) AS %s", metricName))
		} else {
			parts = append(parts, fmt.Sprintf("%s(%s) AS %s", agg.Op, col, metricName))
		}
	}
	return parts
}

// PartitionCreateSQL renders the CREATE TABLE statement for a type-partitioned
// sibling: the same recipe as the parent, restricted to one type value and
// grouped on every parent key except "type". The partition keeps a constant
// "type" column — selected as a string literal rather than grouped, since
// every row in the table already has that value — so a query that groups by
// or selects "type" alongside other partition keys still resolves against a
// real column instead of producing invalid SQL. An optional cluster name
// adds ON CLUSTER for replicated deployments.
func PartitionCreateSQL(parent registry.MV, typeValue string, cluster ...string) string {
	childGroupBy := partitionGroupBy(parent.GroupBy)

	selectParts := make([]string, 0, len(childGroupBy)+len(parent.Aggs)+1)
	selectParts = append(selectParts, fmt.Sprintf("'%s' AS type", escapeLiteral(typeValue)))
	selectParts = append(selectParts, childGroupBy...)
	selectParts = append(selectParts, metricSelectParts(parent.Aggs)...)

	orderBy := childGroupBy
	if len(orderBy) == 0 {
		orderBy = []string{"type"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s\n", registry.PartitionName(parent.Name, typeValue))
	if c := firstNonEmpty(cluster); c != "" {
		fmt.Fprintf(&b, "ON CLUSTER %s\n", c)
	}
	fmt.Fprintf(&b, "ENGINE = MergeTree ORDER BY (%s)\n", strings.Join(orderBy, ", "))
	b.WriteString("AS SELECT\n    ")
	b.WriteString(strings.Join(selectParts, ",\n    "))
	b.WriteString("\nFROM events\n")
	fmt.Fprintf(&b, "WHERE type = '%s'\n", escapeLiteral(typeValue))
	if len(childGroupBy) > 0 {
		fmt.Fprintf(&b, "GROUP BY %s", strings.Join(childGroupBy, ", "))
	}

	return b.String()
}

// partitionGroupBy drops "type" from a parent MV's grouping keys: the
// partitioned child no longer needs it as a real grouping key since every
// row already has the same value.
func partitionGroupBy(parentGroupBy []string) []string {
	out := make([]string, 0, len(parentGroupBy))
	for _, k := range parentGroupBy {
		if k != "type" {
			out = append(out, k)
		}
	}
	return out
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

func firstNonEmpty(vals []string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Partition builds the per-type siblings for every base MV whose row count,
// per its collected stats, is at least the partitioning threshold. MVs
// without a "type" grouping key, or whose stats are missing, are skipped.
func (m Materializer) Partition(ctx context.Context, ch ClickHouse, mvs []registry.MV, collected map[string]*stats.Stats) ([]registry.MV, error) {
	var partitioned []registry.MV

	for _, mv := range mvs {
		if !mv.HasGroupKey("type") {
			continue
		}
		s := collected[mv.Name]
		if !s.HasStats() || s.NumRows < m.threshold() {
			continue
		}

		for _, typeValue := range m.EventTypes {
			sql := PartitionCreateSQL(mv, typeValue, m.Cluster)
			if err := ch.Exec(ctx, sql); err != nil {
				return nil, errors.Wrapf(err, "creating partition %s", registry.PartitionName(mv.Name, typeValue))
			}

			partitioned = append(partitioned, registry.MV{
				Name:    registry.PartitionName(mv.Name, typeValue),
				GroupBy: partitionGroupBy(mv.GroupBy),
				Aggs:    mv.Aggs,
			})
		}
	}

	return partitioned, nil
}
