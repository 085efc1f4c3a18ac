package planner

import (
	"testing"

	"github.com/rollkeeper/rollkeeper/pkg/ir"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
	"github.com/rollkeeper/rollkeeper/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eqPred(col string, val any) ir.Predicate {
	return ir.Predicate{Col: col, Op: ir.OpEq, Val: val}
}

func mvTypeOnly() registry.MV {
	return registry.MV{Name: "mv_type_only", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()}
}

func mvTypeDayCountry() registry.MV {
	return registry.MV{
		Name:    "mv_type_day_country",
		GroupBy: []string{"type", "day", "country"},
		Aggs:    registry.CanonicalAggs(),
	}
}

func fullStats(numRows int64) *stats.Stats {
	return &stats.Stats{
		NumRows:     numRows,
		NumDistinct: map[string]int64{"type": 4, "day": 30, "country": 50},
		TopK:        map[string]map[string]int64{"type": {"impression": numRows / 2}},
	}
}

func TestAggDerivable_AvgNeedsSumAndCount(t *testing.T) {
	mv := mvTypeOnly()
	assert.True(t, aggDerivable(registry.Agg{Op: registry.Avg, Column: "bid_price"}, mv))
	assert.False(t, aggDerivable(registry.Agg{Op: registry.Avg, Column: "nonexistent_col"}, mv))
}

func TestAggDerivable_ExactMatchForOtherOps(t *testing.T) {
	mv := mvTypeOnly()
	assert.True(t, aggDerivable(registry.CountStar, mv))
	assert.True(t, aggDerivable(registry.Agg{Op: registry.Sum, Column: "bid_price"}, mv))
	assert.False(t, aggDerivable(registry.Agg{Op: registry.Max, Column: "bid_price"}, mv))
}

func TestIsUsable_RejectsSelectColumnNotInGroupBy(t *testing.T) {
	p := Planner{EventTypes: []string{"click", "impression", "purchase", "serve"}}
	q := ir.Query{
		Select: []ir.SelectItem{{Column: "advertiser_id"}},
		Where:  []ir.Predicate{eqPred("type", "impression")},
	}
	assert.False(t, p.IsUsable(q, mvTypeOnly()))
}

func TestIsUsable_AcceptsDerivableAggregateAndGroupBySubset(t *testing.T) {
	p := Planner{EventTypes: []string{"click", "impression", "purchase", "serve"}}
	q := ir.Query{
		Select:  []ir.SelectItem{{Column: "country"}, {Agg: &registry.Agg{Op: registry.Sum, Column: "total_price"}}},
		Where:   []ir.Predicate{eqPred("type", "purchase"), {Col: "day", Op: ir.OpBetween, Val: []any{"2024-01-01", "2024-01-31"}}},
		GroupBy: []string{"country"},
	}
	assert.True(t, p.IsUsable(q, mvTypeDayCountry()))
}

func TestIsUsable_PartitionedMVRequiresMatchingTypeFilter(t *testing.T) {
	p := Planner{EventTypes: []string{"click", "impression", "purchase", "serve"}}
	partitioned := registry.MV{Name: "mv_type_only_type_impression", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()}

	q := ir.Query{Select: []ir.SelectItem{{Agg: &registry.Agg{Op: registry.Count}}}}
	assert.False(t, p.IsUsable(q, partitioned), "no type filter at all")

	q.Where = []ir.Predicate{eqPred("type", "click")}
	assert.False(t, p.IsUsable(q, partitioned), "wrong type value")

	q.Where = []ir.Predicate{eqPred("type", "impression")}
	assert.True(t, p.IsUsable(q, partitioned))
}

func TestIsUsable_WhereColumnMustBeInMVGroupBy(t *testing.T) {
	p := Planner{EventTypes: []string{"click", "impression", "purchase", "serve"}}
	q := ir.Query{
		Select: []ir.SelectItem{{Agg: &registry.Agg{Op: registry.Count}}},
		Where:  []ir.Predicate{eqPred("type", "impression"), eqPred("country", "US")},
	}
	assert.False(t, p.IsUsable(q, mvTypeOnly()))
}

func TestSelectivity_NoStatsDefaultsToPointOne(t *testing.T) {
	p := Planner{}
	assert.Equal(t, 0.1, p.Selectivity(eqPred("country", "US"), mvTypeDayCountry(), nil))
}

func TestSelectivity_EqUsesTopKFrequency(t *testing.T) {
	p := Planner{}
	s := fullStats(1000)
	got := p.Selectivity(eqPred("type", "impression"), mvTypeOnly(), s)
	assert.Equal(t, 0.5, got)
}

func TestSelectivity_EqFallsBackToUniformDistinct(t *testing.T) {
	p := Planner{}
	s := fullStats(1000)
	got := p.Selectivity(eqPred("country", "US"), mvTypeDayCountry(), s)
	assert.InDelta(t, 1.0/50.0, got, 1e-9)
}

func TestSelectivity_NeqIsOneMinusEq(t *testing.T) {
	p := Planner{}
	s := fullStats(1000)
	eq := p.Selectivity(eqPred("type", "impression"), mvTypeOnly(), s)
	neq := p.Selectivity(ir.Predicate{Col: "type", Op: ir.OpNeq, Val: "impression"}, mvTypeOnly(), s)
	assert.InDelta(t, 1.0-eq, neq, 1e-9)
}

func TestSelectivity_BetweenOnDayUsesDistinctThreshold(t *testing.T) {
	p := Planner{}
	pred := ir.Predicate{Col: "day", Op: ir.OpBetween, Val: []any{"2024-01-01", "2024-01-31"}}

	small := &stats.Stats{NumDistinct: map[string]int64{"day": 30}, TopK: map[string]map[string]int64{}}
	assert.Equal(t, 0.2, p.Selectivity(pred, mvTypeDayCountry(), small))

	big := &stats.Stats{NumDistinct: map[string]int64{"day": 365}, TopK: map[string]map[string]int64{}}
	assert.Equal(t, 0.5, p.Selectivity(pred, mvTypeDayCountry(), big))
}

func TestCost_ExactGroupByMatchGetsDiscount(t *testing.T) {
	p := Planner{Weights: Weights{Scan: 1.0, Rollup: 10.0}}
	mv := mvTypeDayCountry()
	s := fullStats(1000)
	p.Stats = map[string]*stats.Stats{mv.Name: s}

	q := ir.Query{
		Where:   []ir.Predicate{eqPred("type", "purchase")},
		GroupBy: []string{"type", "day", "country"},
	}
	cost := p.Cost(q, mv)
	assert.Greater(t, cost, 0.0)
	// type=purchase is not in top_k, so selectivity is 1/4: 250 rows scanned,
	// one group; 0.8 exact-match discount, 0.9 size factor for 1000 rows.
	assert.InDelta(t, (1.0*250+10.0*1)*0.8*0.9, cost, 1e-9)
}

func TestCost_RollupAddsGroupMultiplier(t *testing.T) {
	p := Planner{Weights: Weights{Scan: 1.0, Rollup: 10.0}}
	mv := mvTypeDayCountry()
	s := fullStats(1000)
	p.Stats = map[string]*stats.Stats{mv.Name: s}

	exact := ir.Query{GroupBy: []string{"type", "day", "country"}}
	rollup := ir.Query{GroupBy: []string{"type"}}

	exactCost := p.Cost(exact, mv)
	rollupCost := p.Cost(rollup, mv)
	assert.Greater(t, rollupCost, exactCost)
}

func TestCost_IsMonotonicInMVSize(t *testing.T) {
	p := Planner{Weights: Weights{Scan: 1.0, Rollup: 10.0}}
	mv := mvTypeOnly()
	q := ir.Query{Where: []ir.Predicate{eqPred("type", "impression")}}

	small := fullStats(500)
	large := fullStats(500_000)

	p.Stats = map[string]*stats.Stats{mv.Name: small}
	smallCost := p.Cost(q, mv)
	p.Stats = map[string]*stats.Stats{mv.Name: large}
	largeCost := p.Cost(q, mv)

	assert.Greater(t, largeCost, smallCost)
}

func TestTranslate_FallsBackWhenNoMVUsable(t *testing.T) {
	p := Planner{EventTypes: []string{"click", "impression", "purchase", "serve"}}
	q := ir.Query{
		Select:  []ir.SelectItem{{Column: "user_agent"}, {Agg: &registry.Agg{Op: registry.Count}}},
		GroupBy: []string{"user_agent"},
	}
	res, err := p.Translate(q)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Contains(t, res.SQL, "FROM events")
}

func TestTranslate_S1_PicksTypePartitionedMVForCountStar(t *testing.T) {
	eventTypes := []string{"click", "impression", "purchase", "serve"}
	parent := mvTypeOnly()
	partitioned := registry.MV{Name: "mv_type_only_type_impression", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()}

	p := Planner{
		MVs:        []registry.MV{parent, partitioned},
		EventTypes: eventTypes,
		Weights:    Weights{Scan: 1.0, Rollup: 10.0},
		Stats: map[string]*stats.Stats{
			parent.Name:      fullStats(1_000_000),
			partitioned.Name: fullStats(250_000),
		},
	}

	q := ir.Query{
		Select: []ir.SelectItem{{Agg: &registry.Agg{Op: registry.Count}}},
		Where:  []ir.Predicate{eqPred("type", "impression")},
	}

	res, err := p.Translate(q)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, "mv_type_only_type_impression", res.UsedMV)
}

func TestTranslate_S6_TiesBreakByMVName(t *testing.T) {
	a := registry.MV{Name: "mv_a_only", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()}
	b := registry.MV{Name: "mv_b_only", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()}

	same := fullStats(1000)
	p := Planner{
		MVs:        []registry.MV{b, a},
		EventTypes: []string{"click", "impression", "purchase", "serve"},
		Weights:    Weights{Scan: 1.0, Rollup: 10.0},
		Stats: map[string]*stats.Stats{
			a.Name: same,
			b.Name: same,
		},
	}

	q := ir.Query{Select: []ir.SelectItem{{Agg: &registry.Agg{Op: registry.Count}}}}
	res, err := p.Translate(q)
	require.NoError(t, err)
	assert.Equal(t, "mv_a_only", res.UsedMV, "ties must break by name regardless of registry order")
}

func TestValidateAggregateSupport_RejectsUnknownOp(t *testing.T) {
	q := ir.Query{Select: []ir.SelectItem{{Agg: &registry.Agg{Op: "MEDIAN", Column: "bid_price"}}}}
	err := ValidateAggregateSupport(q)
	require.Error(t, err)
}

func TestValidateAggregateSupport_AcceptsKnownOps(t *testing.T) {
	q := ir.Query{Select: []ir.SelectItem{{Agg: &registry.Agg{Op: registry.Avg, Column: "bid_price"}}}}
	assert.NoError(t, ValidateAggregateSupport(q))
}

func TestCandidates_PartitionedMVGetsDiscountOverParent(t *testing.T) {
	matching := registry.MV{Name: "mv_type_only_type_click", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()}
	p := Planner{
		MVs:        []registry.MV{matching},
		EventTypes: []string{"click", "impression", "purchase", "serve"},
		Weights:    Weights{Scan: 1.0, Rollup: 10.0},
	}
	q := ir.Query{Select: []ir.SelectItem{{Agg: &registry.Agg{Op: registry.Count}}}, Where: []ir.Predicate{eqPred("type", "click")}}

	cands := p.Candidates(q)
	require.Len(t, cands, 1)
	assert.InDelta(t, cands[0].Cost*0.1, cands[0].AdjustedCost, 1e-9)
}

func TestCandidates_ExcludesMismatchedTypePartitionEntirely(t *testing.T) {
	mismatch := registry.MV{Name: "mv_type_only_type_impression", GroupBy: []string{"type"}, Aggs: registry.CanonicalAggs()}
	p := Planner{
		MVs:        []registry.MV{mismatch},
		EventTypes: []string{"click", "impression", "purchase", "serve"},
		Weights:    Weights{Scan: 1.0, Rollup: 10.0},
	}
	q := ir.Query{Select: []ir.SelectItem{{Agg: &registry.Agg{Op: registry.Count}}}, Where: []ir.Predicate{eqPred("type", "click")}}

	assert.Empty(t, p.Candidates(q))
}
