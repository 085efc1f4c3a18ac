package docker_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/rollkeeper/rollkeeper/pkg/clickhouse"
	"github.com/rollkeeper/rollkeeper/pkg/docker"
	"github.com/stretchr/testify/require"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available")
	}
	if err := exec.Command("docker", "ps").Run(); err != nil {
		t.Skip("docker daemon not running")
	}
}

func TestContainer_StartStopLifecycle(t *testing.T) {
	skipIfNoDocker(t)

	ctx := context.Background()
	c := docker.New()
	require.False(t, c.IsRunning())

	require.NoError(t, c.Start(ctx))
	defer func() { _ = c.Stop(ctx) }()
	require.True(t, c.IsRunning())

	dsn, err := c.DSN()
	require.NoError(t, err)
	require.NotEmpty(t, dsn)

	require.NoError(t, c.Stop(ctx))
	require.False(t, c.IsRunning())
}

func TestContainer_StartTwiceFails(t *testing.T) {
	skipIfNoDocker(t)

	ctx := context.Background()
	c := docker.New()
	require.NoError(t, c.Start(ctx))
	defer func() { _ = c.Stop(ctx) }()

	require.Error(t, c.Start(ctx))
}

// TestContainer_CreatesEventsTable connects a client to a real ClickHouse
// instance and creates the events table there.
func TestContainer_CreatesEventsTable(t *testing.T) {
	skipIfNoDocker(t)

	ctx := context.Background()
	c := docker.NewWithOptions(docker.Options{Version: "24.8"})
	require.NoError(t, c.Start(ctx))
	defer func() { _ = c.Stop(ctx) }()

	dsn, err := c.DSN()
	require.NoError(t, err)

	client, err := clickhouse.NewClient(dsn)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	err = client.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			type LowCardinality(String),
			country LowCardinality(String),
			advertiser_id UInt64,
			publisher_id UInt64,
			bid_price Float64,
			total_price Float64,
			day Date,
			hour UInt8,
			minute UInt8
		) ENGINE = MergeTree ORDER BY (type, day)`)
	require.NoError(t, err)
}
