// Package pipeline ties the MV planner's pieces into the one end-to-end
// operation the CLI exposes: connect, materialize (or reuse), collect
// stats, plan every query, execute, and write results.
//
// Grounded on original_source/src/main.rs's phase structure (load, parse,
// execute, save, check) and the teacher's pkg/project.Project, which plays
// the same "root object coordinating sub-steps" role for DDL migrations.
package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/clickhouse"
	"github.com/rollkeeper/rollkeeper/pkg/config"
	"github.com/rollkeeper/rollkeeper/pkg/executor"
	"github.com/rollkeeper/rollkeeper/pkg/ir"
	"github.com/rollkeeper/rollkeeper/pkg/materializer"
	"github.com/rollkeeper/rollkeeper/pkg/planner"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
	"github.com/rollkeeper/rollkeeper/pkg/stats"
)

type (
	// QueryReport describes the outcome of planning and running one query.
	QueryReport struct {
		Index    int
		SQL      string
		UsedMV   string
		Fallback bool
		RowCount int
		Duration time.Duration
		CSVPath  string
	}

	// Report aggregates the outcome of a full pipeline run.
	Report struct {
		BuiltMVs       int
		PartitionedMVs int
		Queries        []QueryReport
	}

	// Pipeline wires a ClickHouse connection together with the
	// materializer, stats collector, planner, and executor.
	Pipeline struct {
		Log io.Writer
	}
)

// New builds a Pipeline that writes progress to w. A nil w discards
// progress output.
func New(w io.Writer) Pipeline {
	if w == nil {
		w = io.Discard
	}
	return Pipeline{Log: w}
}

// Run executes the full build-plan-execute-save cycle described by cfg.
func (p Pipeline) Run(ctx context.Context, cfg *config.Config) (*Report, error) {
	client, err := clickhouse.NewClientWithOptions(ctx, cfg.ClickHouse.DSN, clickhouse.ClientOptions{
		Database: cfg.ClickHouse.Database,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to clickhouse")
	}
	defer func() { _ = client.Close() }()

	m := materializer.New()
	m.PartitionThreshold = cfg.PartitionRowThreshold()
	m.Cluster = cfg.ClickHouse.Cluster

	var mvs []registry.MV
	var partitioned []registry.MV

	if cfg.UseExistingDB == "" {
		fmt.Fprintln(p.Log, "building materialized views...")
		mvs, err = m.Build(ctx, client)
		if err != nil {
			return nil, errors.Wrap(err, "building materialized views")
		}

		fmt.Fprintln(p.Log, "collecting stats for partitioning...")
		collected, err := stats.CollectAll(ctx, client, mvs, cfg.TopK())
		if err != nil {
			return nil, errors.Wrap(err, "collecting stats")
		}

		partitioned, err = m.Partition(ctx, client, mvs, collected)
		if err != nil {
			return nil, errors.Wrap(err, "partitioning materialized views")
		}
	} else {
		fmt.Fprintln(p.Log, "reusing existing database, discovering materialized views...")
		mvs, partitioned, err = m.Skip(ctx, client)
		if err != nil {
			return nil, errors.Wrap(err, "discovering existing materialized views")
		}
	}

	allMVs := append(append([]registry.MV{}, mvs...), partitioned...)

	fmt.Fprintln(p.Log, "collecting stats...")
	collected, err := stats.CollectAll(ctx, client, allMVs, cfg.TopK())
	if err != nil {
		return nil, errors.Wrap(err, "collecting stats")
	}

	scanWeight, rollupWeight := cfg.PlannerWeights()
	pl := planner.New(allMVs, collected)
	pl.Weights = planner.Weights{Scan: scanWeight, Rollup: rollupWeight}

	queriesData, err := os.ReadFile(cfg.QueriesFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading queries file %s", cfg.QueriesFile)
	}

	queries, err := ir.ParseQueries(queriesData)
	if err != nil {
		return nil, errors.Wrap(err, "parsing queries")
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %s", cfg.OutputDir)
	}

	exec := executor.New(client)

	report := &Report{
		BuiltMVs:       len(mvs),
		PartitionedMVs: len(partitioned),
		Queries:        make([]QueryReport, 0, len(queries)),
	}

	for i, q := range queries {
		translated, err := pl.Translate(q)
		if err != nil {
			return nil, errors.Wrapf(err, "planning query %d", i)
		}

		results, err := exec.RunBatch(ctx, []executor.PlannedQuery{
			{SQL: translated.SQL, UsedMV: translated.UsedMV, Fallback: translated.Fallback},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "executing query %d", i)
		}
		result := results[0]

		csvPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("q%d.csv", i+1))
		if err := writeCSV(csvPath, result.Columns, result.Rows); err != nil {
			return nil, errors.Wrapf(err, "writing result csv for query %d", i)
		}

		fmt.Fprintf(p.Log, "query %d: mv=%s rows=%d duration=%s -> %s\n",
			i+1, displayMV(translated), len(result.Rows), result.Duration, csvPath)

		report.Queries = append(report.Queries, QueryReport{
			Index:    i,
			SQL:      translated.SQL,
			UsedMV:   translated.UsedMV,
			Fallback: translated.Fallback,
			RowCount: len(result.Rows),
			Duration: result.Duration,
			CSVPath:  csvPath,
		})
	}

	return report, nil
}

// Plan connects to an already-materialized database, collects stats, and
// translates every query in cfg.QueriesFile without executing any of them.
// It is the no-side-effects half of Run, used by the `plan` CLI command for
// inspection.
func (p Pipeline) Plan(ctx context.Context, cfg *config.Config) ([]planner.Result, error) {
	client, err := clickhouse.NewClientWithOptions(ctx, cfg.ClickHouse.DSN, clickhouse.ClientOptions{
		Database: cfg.ClickHouse.Database,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to clickhouse")
	}
	defer func() { _ = client.Close() }()

	m := materializer.New()
	m.Cluster = cfg.ClickHouse.Cluster
	mvs, partitioned, err := m.Skip(ctx, client)
	if err != nil {
		return nil, errors.Wrap(err, "discovering existing materialized views")
	}
	allMVs := append(append([]registry.MV{}, mvs...), partitioned...)

	collected, err := stats.CollectAll(ctx, client, allMVs, cfg.TopK())
	if err != nil {
		return nil, errors.Wrap(err, "collecting stats")
	}

	scanWeight, rollupWeight := cfg.PlannerWeights()
	pl := planner.New(allMVs, collected)
	pl.Weights = planner.Weights{Scan: scanWeight, Rollup: rollupWeight}

	queriesData, err := os.ReadFile(cfg.QueriesFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading queries file %s", cfg.QueriesFile)
	}

	queries, err := ir.ParseQueries(queriesData)
	if err != nil {
		return nil, errors.Wrap(err, "parsing queries")
	}

	results := make([]planner.Result, 0, len(queries))
	for i, q := range queries {
		result, err := pl.Translate(q)
		if err != nil {
			return nil, errors.Wrapf(err, "planning query %d", i)
		}
		results = append(results, result)
	}
	return results, nil
}

func displayMV(r planner.Result) string {
	if r.Fallback {
		return "(fallback)"
	}
	return r.UsedMV
}

func writeCSV(path string, columns []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	w.Flush()
	return w.Error()
}
