package cmd

import (
	"context"

	"github.com/rollkeeper/rollkeeper/pkg/config"
	"github.com/urfave/cli/v3"
)

// currentConfig holds the configuration loaded by the root command's Before
// hook, for subcommands to read. Mirrors the teacher's currentProject
// package-level handoff between root.go and its subcommands.
var currentConfig *config.Config

// Run creates and executes the rollkeeper CLI application with the given
// version and command-line arguments.
func Run(ctx context.Context, version string, args []string) error {
	app := &cli.Command{
		Name:    "rollkeeper",
		Usage:   "Plan and run analytic queries over a cost-based materialized-view registry",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the rollkeeper config file",
				Value:   "rollkeeper.yaml",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := config.LoadConfigFile(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			currentConfig = cfg
			return ctx, nil
		},
		Commands: []*cli.Command{
			buildCmd(),
			planCmd(),
		},
	}

	return app.Run(ctx, args)
}
