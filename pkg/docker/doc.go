// Package docker spins up a temporary ClickHouse container for integration
// tests that need a real engine behind pkg/clickhouse, pkg/materializer,
// pkg/stats, and pkg/executor rather than a fake.
//
// Grounded on the teacher's pkg/docker, trimmed down: rollkeeper has no
// config.d directory to bind-mount, so only the version and the container
// lifecycle survive.
package docker
