// Package testutil provides fluent fixture builders for tests that need a
// query, an MV registry, or collected stats without hand-assembling the
// structs inline every time.
//
// Grounded on the teacher's pkg/cmd/testutil fixture-builder pattern (a
// struct with chainable With* methods that mutate and return itself),
// adapted from project-directory fixtures to query-planning fixtures.
package testutil

import (
	"github.com/rollkeeper/rollkeeper/pkg/ir"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
	"github.com/rollkeeper/rollkeeper/pkg/stats"
)

// QueryBuilder assembles an ir.Query one clause at a time.
type QueryBuilder struct {
	q ir.Query
}

// Query starts a new QueryBuilder over events with an empty select list.
func Query() *QueryBuilder {
	return &QueryBuilder{q: ir.Query{From: "events"}}
}

// Select appends a plain (non-aggregate) column to the select list.
func (b *QueryBuilder) Select(col string) *QueryBuilder {
	b.q.Select = append(b.q.Select, ir.SelectItem{Column: col})
	return b
}

// SelectAgg appends an aggregate select item.
func (b *QueryBuilder) SelectAgg(op registry.AggOp, col string) *QueryBuilder {
	agg := registry.Agg{Op: op, Column: col}
	b.q.Select = append(b.q.Select, ir.SelectItem{Agg: &agg})
	return b
}

// Where appends an equality predicate.
func (b *QueryBuilder) Where(col string, val any) *QueryBuilder {
	b.q.Where = append(b.q.Where, ir.Predicate{Col: col, Op: ir.OpEq, Val: val})
	return b
}

// WherePred appends an arbitrary predicate.
func (b *QueryBuilder) WherePred(p ir.Predicate) *QueryBuilder {
	b.q.Where = append(b.q.Where, p)
	return b
}

// GroupBy sets the query's grouping keys.
func (b *QueryBuilder) GroupBy(cols ...string) *QueryBuilder {
	b.q.GroupBy = cols
	return b
}

// Limit sets the query's row limit.
func (b *QueryBuilder) Limit(n int64) *QueryBuilder {
	b.q.Limit = &n
	return b
}

// Build returns the assembled query.
func (b *QueryBuilder) Build() ir.Query {
	return b.q
}

// MV builds a registry.MV with the canonical aggregate set unless aggs is
// supplied.
func MV(name string, groupBy []string, aggs ...map[registry.Agg]struct{}) registry.MV {
	set := registry.CanonicalAggs()
	if len(aggs) > 0 {
		set = aggs[0]
	}
	return registry.MV{Name: name, GroupBy: groupBy, Aggs: set}
}

// Stats builds a fully-populated stats.Stats fixture: every column in
// distinct gets a NumDistinct entry and an empty TopK bucket, ready for the
// planner's cost model to read without a nil check tripping HasStats.
func Stats(numRows int64, distinct map[string]int64) *stats.Stats {
	topK := make(map[string]map[string]int64, len(distinct))
	for col := range distinct {
		topK[col] = map[string]int64{}
	}
	return &stats.Stats{
		NumRows:     numRows,
		NumDistinct: distinct,
		TopK:        topK,
	}
}
