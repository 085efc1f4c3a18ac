package cmd

import (
	"context"
	"fmt"

	"github.com/rollkeeper/rollkeeper/pkg/pipeline"
	"github.com/urfave/cli/v3"
)

// buildCmd returns the command that builds (or reuses) the materialized
// view registry, plans and executes every query in queries.json, and
// writes one CSV per query to the output directory.
func buildCmd() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Build the MV registry (or reuse an existing one) and run queries.json",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input-dir", Usage: "directory of raw event data (recorded in the config; not loaded, events must already exist)"},
			&cli.StringFlag{Name: "queries", Usage: "path to queries.json"},
			&cli.StringFlag{Name: "out", Usage: "directory to write per-query result CSVs to"},
			&cli.StringFlag{Name: "use-existing-db", Usage: "skip materialization and reuse an already-built registry"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := currentConfig
			if v := cmd.String("input-dir"); v != "" {
				cfg.InputDir = v
			}
			if v := cmd.String("queries"); v != "" {
				cfg.QueriesFile = v
			}
			if v := cmd.String("out"); v != "" {
				cfg.OutputDir = v
			}
			if v := cmd.String("use-existing-db"); v != "" {
				cfg.UseExistingDB = v
			}

			p := pipeline.New(cmd.Writer)
			report, err := p.Run(ctx, cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.Writer, "built %d materialized views (%d type partitions), ran %d queries\n",
				report.BuiltMVs, report.PartitionedMVs, len(report.Queries))
			return nil
		},
	}
}
