package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
)

type (
	// ClickHouse is the query surface the executor needs. Identical in
	// shape to the teacher's migration-executor interface, so
	// pkg/clickhouse.Client satisfies both without an adapter.
	ClickHouse interface {
		Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	}

	// Executor runs planned queries one at a time against a single
	// ClickHouse connection.
	Executor struct {
		ch ClickHouse
	}

	// PlannedQuery is one query ready to execute: the SQL the planner
	// emitted, plus which MV (if any) served it.
	PlannedQuery struct {
		SQL      string
		UsedMV   string
		Fallback bool
	}

	// Result holds one query's output: its column names in result order,
	// and every row rendered as strings (ready for CSV encoding).
	Result struct {
		Query    PlannedQuery
		Columns  []string
		Rows     [][]string
		Duration time.Duration
	}
)

// New builds an Executor over ch.
func New(ch ClickHouse) *Executor {
	return &Executor{ch: ch}
}

// RunBatch executes every query in order against the same connection and
// collects its rows. There is no explicit read-only transaction over
// ClickHouse's native protocol, so "batch" here means one connection with
// no interleaved writes between queries, the idiomatic reading of a batch
// guarantee for this engine. Execution aborts on the first failure; the
// caller sees exactly which query failed and how many already succeeded.
func (e *Executor) RunBatch(ctx context.Context, queries []PlannedQuery) ([]Result, error) {
	results := make([]Result, 0, len(queries))
	for i, q := range queries {
		result, err := e.run(ctx, q)
		if err != nil {
			return results, errors.Wrapf(err, "query %d (mv=%q) failed", i, q.UsedMV)
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Executor) run(ctx context.Context, q PlannedQuery) (Result, error) {
	start := time.Now()

	rows, err := e.ch.Query(ctx, q.SQL)
	if err != nil {
		return Result{}, errors.Wrap(err, "running query")
	}
	defer rows.Close()

	columns := rows.Columns()

	var out [][]string
	for rows.Next() {
		dest := make([]any, len(columns))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return Result{}, errors.Wrap(err, "scanning result row")
		}
		out = append(out, formatRow(dest))
	}
	if err := rows.Err(); err != nil {
		return Result{}, errors.Wrap(err, "iterating result rows")
	}

	return Result{
		Query:    q,
		Columns:  columns,
		Rows:     out,
		Duration: time.Since(start),
	}, nil
}

// formatRow renders each scanned *any destination as its CSV text form.
func formatRow(dest []any) []string {
	row := make([]string, len(dest))
	for i, d := range dest {
		v := *(d.(*any))
		if t, ok := v.(time.Time); ok {
			row[i] = t.Format(time.RFC3339)
			continue
		}
		row[i] = fmt.Sprintf("%v", v)
	}
	return row
}
