// Package planner is the cost-based materialized-view rewriter: given a
// query and the MV registry with its collected stats, it picks the cheapest
// MV that can answer the query exactly, or falls back to the base table.
//
// Grounded directly on the source implementation's planner.rs
// (is_mv_usable, predicate_selectivity, mv_cost, translate_query), with one
// deliberate behavioral change: translate_query's tie-break is an artifact
// of HashSet/Vec iteration order in that implementation, but ties here are
// broken by MV name so the choice is reproducible regardless of registry
// ordering.
package planner

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/consts"
	"github.com/rollkeeper/rollkeeper/pkg/emit"
	"github.com/rollkeeper/rollkeeper/pkg/hardware"
	"github.com/rollkeeper/rollkeeper/pkg/ir"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
	"github.com/rollkeeper/rollkeeper/pkg/stats"
)

type (
	// Weights are the hardware-scaled per-row and per-group cost factors
	// (spec §4.5 Step 2).
	Weights struct {
		Scan   float64
		Rollup float64
	}

	// Planner holds the MV registry, its collected stats, and the cost
	// weights used to translate queries into SQL.
	Planner struct {
		MVs        []registry.MV
		Stats      map[string]*stats.Stats
		Weights    Weights
		EventTypes []string
	}

	// Candidate is one usable MV considered for a query, carrying enough
	// detail for callers (tests, logging) to see why it was or wasn't
	// picked.
	Candidate struct {
		MV            registry.MV
		Cost          float64
		AdjustedCost  float64
		IsPartitioned bool
		PartitionType string
	}

	// Result is the outcome of translating one query: the emitted SQL and,
	// when an MV served it, which one.
	Result struct {
		SQL      string
		UsedMV   string
		Fallback bool
	}
)

// New builds a Planner using the given MV set and stats, with weights
// derived from the host's detected hardware.
func New(mvs []registry.MV, collected map[string]*stats.Stats) Planner {
	hw := hardware.Detect()
	scan, rollup := hw.CostWeights()
	return Planner{
		MVs:        mvs,
		Stats:      collected,
		Weights:    Weights{Scan: scan, Rollup: rollup},
		EventTypes: consts.EventTypes,
	}
}

// Translate picks the cheapest usable MV for q and emits SQL against it, or
// falls back to the base table when no MV qualifies (spec §4.5 Step 3).
func (p Planner) Translate(q ir.Query) (Result, error) {
	candidates := p.Candidates(q)
	if len(candidates) == 0 {
		sql, err := emit.Plain(q)
		if err != nil {
			return Result{}, err
		}
		return Result{SQL: sql, Fallback: true}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].AdjustedCost != candidates[j].AdjustedCost {
			return candidates[i].AdjustedCost < candidates[j].AdjustedCost
		}
		return candidates[i].MV.Name < candidates[j].MV.Name
	})

	best := candidates[0]
	sql, err := emit.ForMV(q, best.MV, best.IsPartitioned)
	if err != nil {
		return Result{}, err
	}
	return Result{SQL: sql, UsedMV: best.MV.Name}, nil
}

// Candidates returns every usable MV for q with its cost, unsorted.
func (p Planner) Candidates(q ir.Query) []Candidate {
	queryType, hasTypeFilter := extractTypeFilter(q)

	var out []Candidate
	for _, mv := range p.MVs {
		_, typeValue, isPartitioned := registry.SplitPartitionName(mv.Name, p.EventTypes)

		if !p.IsUsable(q, mv) {
			continue
		}

		cost := p.Cost(q, mv)
		adjusted := cost
		if isPartitioned && hasTypeFilter && typeValue == queryType {
			// IsUsable already requires a partitioned MV's type value to
			// match the query's filter exactly, so there is no "wrong type
			// partition" case to penalize here: the bonus rewards a
			// partitioned MV over its unpartitioned parent for the same
			// query rather than disambiguating between partitions.
			adjusted = cost * 0.1
		}

		out = append(out, Candidate{
			MV:            mv,
			Cost:          cost,
			AdjustedCost:  adjusted,
			IsPartitioned: isPartitioned,
			PartitionType: typeValue,
		})
	}
	return out
}

// IsUsable implements the spec §4.5 Step 1 usability filter.
func (p Planner) IsUsable(q ir.Query, mv registry.MV) bool {
	_, typeValue, isPartitioned := registry.SplitPartitionName(mv.Name, p.EventTypes)
	queryType, hasTypeFilter := extractTypeFilter(q)

	if isPartitioned {
		if !hasTypeFilter || queryType != typeValue {
			return false
		}
	}

	mvGroupBy := make(map[string]bool, len(mv.GroupBy)+1)
	for _, k := range mv.GroupBy {
		mvGroupBy[k] = true
	}
	if isPartitioned {
		mvGroupBy["type"] = true
	}

	for _, g := range q.GroupBy {
		if !mvGroupBy[g] {
			return false
		}
	}

	for _, pred := range q.Where {
		if isPartitioned && pred.Col == "type" {
			continue
		}
		if !mvGroupBy[pred.Col] {
			return false
		}
	}

	for _, item := range q.Select {
		if !item.IsAggregate() {
			if !mvGroupBy[item.Column] {
				return false
			}
			continue
		}
		if !aggDerivable(*item.Agg, mv) {
			return false
		}
	}

	return true
}

func aggDerivable(agg registry.Agg, mv registry.MV) bool {
	if agg.Op == registry.Avg {
		return mv.Has(registry.Agg{Op: registry.Sum, Column: agg.Column}) &&
			mv.Has(registry.Agg{Op: registry.Count, Column: agg.Column})
	}
	switch agg.Op {
	case registry.Min, registry.Max, registry.Sum, registry.Count:
		return mv.Has(agg)
	default:
		return false
	}
}

// extractTypeFilter finds the query's `type eq v` predicate, if any (spec
// §4.5's type-partitioned handling needs this both for usability and for
// the cost adjustment).
func extractTypeFilter(q ir.Query) (value string, ok bool) {
	for _, pred := range q.Where {
		if pred.Col == "type" && pred.Op == ir.OpEq {
			if s, isStr := pred.Val.(string); isStr {
				return s, true
			}
		}
	}
	return "", false
}

// Selectivity estimates the fraction of an MV's rows a predicate passes,
// per spec §4.5 Step 2's per-op rules. A nil or stats-less s falls back to
// the documented default of 0.1 for every predicate.
func (p Planner) Selectivity(pred ir.Predicate, mv registry.MV, s *stats.Stats) float64 {
	if !s.HasStats() {
		return 0.1
	}

	switch pred.Op {
	case ir.OpEq:
		return eqSelectivity(pred.Col, pred.Val, s)
	case ir.OpIn:
		arr, ok := pred.Val.([]any)
		if !ok || len(arr) == 0 {
			return 0.1
		}
		var sum float64
		for _, v := range arr {
			sum += eqSelectivity(pred.Col, v, s)
		}
		if sum > 1.0 {
			sum = 1.0
		}
		return sum
	case ir.OpNeq:
		return 1.0 - eqSelectivity(pred.Col, pred.Val, s)
	case ir.OpBetween:
		return betweenSelectivity(pred.Col, s)
	default:
		return 0.1
	}
}

// eqSelectivity estimates the fraction of rows matching col = val: the
// value's observed top_k frequency when known, otherwise a uniform
// 1/num_distinct[col] estimate.
func eqSelectivity(col string, val any, s *stats.Stats) float64 {
	str, ok := val.(string)
	if !ok {
		str = fmt.Sprint(val)
	}
	if topk, ok := s.TopK[col]; ok {
		if count, found := topk[str]; found {
			if s.NumRows == 0 {
				return 1.0
			}
			return float64(count) / float64(s.NumRows)
		}
	}
	if distinct, ok := s.NumDistinct[col]; ok && distinct > 0 {
		return 1.0 / float64(distinct)
	}
	return 0.1
}

func betweenSelectivity(col string, s *stats.Stats) float64 {
	distinct, ok := s.NumDistinct[col]
	if !ok || distinct <= 0 {
		return 0.1
	}
	switch col {
	case "day":
		if distinct > 100 {
			return 0.5
		}
		return 0.2
	case "hour", "minute":
		v := float64(distinct) / 2.0
		if v > 0.5 {
			v = 0.5
		}
		return v / float64(distinct)
	default:
		v := float64(distinct) / 3.0
		if v < 1.0 {
			v = 1.0
		}
		return v / float64(distinct)
	}
}

// Cost implements spec §4.5 Step 2's cost model and deterministic
// adjustments (exact-match discount, MV-size bucket factor). The
// type-partitioned adjustment is applied separately by Candidates, since it
// depends on the query's type filter rather than the MV alone.
func (p Planner) Cost(q ir.Query, mv registry.MV) float64 {
	s := p.Stats[mv.Name]

	selectivity := 1.0
	for _, pred := range q.Where {
		selectivity *= p.Selectivity(pred, mv, s)
	}

	numRows := int64(0)
	if s.HasStats() {
		numRows = s.NumRows
	}
	rowsScanned := float64(numRows) * selectivity

	hasRollup := len(q.GroupBy) > 0 && len(q.GroupBy) < len(mv.GroupBy)
	numGroups := 1.0
	if hasRollup {
		inQueryGroupBy := make(map[string]bool, len(q.GroupBy))
		for _, g := range q.GroupBy {
			inQueryGroupBy[g] = true
		}
		for _, k := range mv.GroupBy {
			if inQueryGroupBy[k] {
				continue
			}
			if s.HasStats() {
				if d, ok := s.NumDistinct[k]; ok {
					numGroups *= float64(d)
				}
			}
		}
	}

	cost := p.Weights.Scan*rowsScanned + p.Weights.Rollup*numGroups

	if !hasRollup && sameGroupBySet(q.GroupBy, mv.GroupBy) {
		cost *= 0.8
	}

	return cost * mvSizeFactor(numRows, s.HasStats())
}

func sameGroupBySet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, y := range b {
		if !set[y] {
			return false
		}
	}
	return true
}

func mvSizeFactor(numRows int64, hasStats bool) float64 {
	if !hasStats {
		return 1.0
	}
	switch {
	case numRows < 10_000:
		return 0.9
	case numRows < 100_000:
		return 0.95
	case numRows < 1_000_000:
		return 1.0
	default:
		return 1.05
	}
}

// ValidateAggregateSupport surfaces ErrUnsupportedAggregate up front for a
// whole query, rather than failing deep inside SQL emission, should a
// caller want to reject unsupported queries before spending planning time.
func ValidateAggregateSupport(q ir.Query) error {
	for _, item := range q.Select {
		if !item.IsAggregate() {
			continue
		}
		switch item.Agg.Op {
		case registry.Count, registry.Sum, registry.Min, registry.Max, registry.Avg:
			continue
		default:
			return errors.Wrapf(emit.ErrUnsupportedAggregate, "%s(%s)", item.Agg.Op, item.Agg.Column)
		}
	}
	return nil
}
