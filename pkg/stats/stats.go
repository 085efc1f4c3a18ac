// Package stats collects per-materialized-view cardinality and top-value
// statistics that the planner uses to estimate selectivity and cost.
//
// It is grounded on the source implementation's preprocessor.rs, which
// computes row counts, per-key distinct counts, and per-key top-10 value
// frequencies directly after building each materialized view.
package stats

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/consts"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
)

type (
	// ClickHouse is the narrow query surface stats collection needs.
	ClickHouse interface {
		Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	}

	// Stats holds the collected numbers for one materialized view.
	Stats struct {
		NumRows     int64
		NumDistinct map[string]int64
		TopK        map[string]map[string]int64
	}
)

// HasStats reports whether Collect has populated this Stats (a zero Stats
// from an uninitialized map means "not yet collected", distinct from a
// legitimately empty MV).
func (s *Stats) HasStats() bool {
	return s != nil && s.NumDistinct != nil
}

// Collect computes NumRows, NumDistinct, and TopK for a single MV. It runs
// one query for row count and per-key distinct counts, then one top-k query
// per grouping key, matching the two-pass shape of compute_mv_stats. topK
// overrides consts.TopK; omit it (or pass <= 0) to use the default.
func Collect(ctx context.Context, ch ClickHouse, mv registry.MV, topK ...int) (*Stats, error) {
	k := resolveTopK(topK)
	s := &Stats{
		NumDistinct: make(map[string]int64, len(mv.GroupBy)),
		TopK:        make(map[string]map[string]int64, len(mv.GroupBy)),
	}

	selects := make([]string, 0, len(mv.GroupBy)+1)
	selects = append(selects, "COUNT(*)")
	for _, col := range mv.GroupBy {
		selects = append(selects, fmt.Sprintf("COUNT(DISTINCT %s)", col))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), mv.Name)
	rows, err := ch.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "collecting row/distinct counts for %s", mv.Name)
	}
	defer rows.Close()

	dest := make([]any, len(mv.GroupBy)+1)
	dest[0] = &s.NumRows
	distinctVals := make([]int64, len(mv.GroupBy))
	for i := range mv.GroupBy {
		dest[i+1] = &distinctVals[i]
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrapf(err, "no stats row returned for %s", mv.Name)
		}
		return nil, errors.Errorf("no stats row returned for %s", mv.Name)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, errors.Wrapf(err, "scanning stats row for %s", mv.Name)
	}
	for i, col := range mv.GroupBy {
		s.NumDistinct[col] = distinctVals[i]
	}

	for _, col := range mv.GroupBy {
		topk, err := collectTopK(ctx, ch, mv.Name, col, k)
		if err != nil {
			return nil, err
		}
		s.TopK[col] = topk
	}

	return s, nil
}

func collectTopK(ctx context.Context, ch ClickHouse, mvName, col string, k int) (map[string]int64, error) {
	query := fmt.Sprintf(
		"SELECT CAST(%s AS String) AS %s, COUNT(*) AS cnt FROM %s GROUP BY %s ORDER BY cnt DESC LIMIT %d",
		col, col, mvName, col, k,
	)
	rows, err := ch.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "collecting top-%d for %s.%s", k, mvName, col)
	}
	defer rows.Close()

	topk := make(map[string]int64, k)
	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return nil, errors.Wrapf(err, "scanning top-k row for %s.%s", mvName, col)
		}
		topk[value] = count
	}
	return topk, rows.Err()
}

func resolveTopK(topK []int) int {
	if len(topK) > 0 && topK[0] > 0 {
		return topK[0]
	}
	return consts.TopK
}

// CollectAll collects stats for every MV in mvs, in order, aborting on the
// first failure so a caller can report exactly which MV broke. topK
// overrides consts.TopK for every MV; omit it (or pass <= 0) to use the
// default.
func CollectAll(ctx context.Context, ch ClickHouse, mvs []registry.MV, topK ...int) (map[string]*Stats, error) {
	out := make(map[string]*Stats, len(mvs))
	for _, mv := range mvs {
		s, err := Collect(ctx, ch, mv, topK...)
		if err != nil {
			return nil, err
		}
		out[mv.Name] = s
	}
	return out, nil
}
