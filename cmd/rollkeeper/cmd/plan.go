package cmd

import (
	"context"
	"fmt"

	"github.com/rollkeeper/rollkeeper/pkg/pipeline"
	"github.com/urfave/cli/v3"
)

// planCmd returns the command that translates every query in queries.json
// against an already-materialized registry and prints the chosen MV and
// emitted SQL, without running anything.
func planCmd() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Translate queries.json without executing, for inspection",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "queries", Usage: "path to queries.json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := currentConfig
			if v := cmd.String("queries"); v != "" {
				cfg.QueriesFile = v
			}

			p := pipeline.New(cmd.Writer)
			results, err := p.Plan(ctx, cfg)
			if err != nil {
				return err
			}

			for i, r := range results {
				mv := r.UsedMV
				if r.Fallback {
					mv = "(fallback)"
				}
				fmt.Fprintf(cmd.Writer, "query %d: mv=%s\n%s\n\n", i+1, mv, r.SQL)
			}
			return nil
		},
	}
}
