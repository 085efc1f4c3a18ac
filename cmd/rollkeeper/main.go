// Rollkeeper plans and executes analytic queries against a materialized-view
// registry it builds over a ClickHouse events table, choosing the cheapest
// view that can answer each query exactly and falling back to the base
// table when none can.
//
// Usage:
//
//	# Build the MV registry, run queries.json, write results to ./out
//	rollkeeper build --config rollkeeper.yaml
//
//	# Translate queries without executing them, for inspection
//	rollkeeper plan --config rollkeeper.yaml
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rollkeeper/rollkeeper/cmd/rollkeeper/cmd"
	"github.com/urfave/cli/v3"
)

// Build-time variables set by GoReleaser during release builds.
var (
	version string = "local"
	commit  string = "local"
	date    string = time.Now().UTC().Format(time.RFC3339)
)

func main() {
	cli.VersionPrinter = func(cmd *cli.Command) {
		fmt.Fprintln(cmd.Writer, "Version:", version)
		fmt.Fprintln(cmd.Writer, "Commit:", commit)
		fmt.Fprintln(cmd.Writer, "Date:", date)
	}

	if err := cmd.Run(context.Background(), version, os.Args); err != nil {
		log.Fatal(err)
	}
}
