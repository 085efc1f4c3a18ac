package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"
)

type (
	// Options configures the temporary ClickHouse container.
	Options struct {
		// Version is the ClickHouse image tag to run, e.g. "24.8". Empty
		// means "latest".
		Version string
	}

	// Container manages one temporary ClickHouse instance for integration
	// tests.
	Container struct {
		options   Options
		container *clickhouse.ClickHouseContainer
	}
)

// New creates a Container with default options.
func New() *Container {
	return &Container{}
}

// NewWithOptions creates a Container with a pinned version.
func NewWithOptions(opts Options) *Container {
	return &Container{options: opts}
}

// Start launches the container and blocks until ClickHouse is accepting
// HTTP connections.
func (c *Container) Start(ctx context.Context) error {
	if c.container != nil {
		return errors.New("container is already running")
	}

	version := c.options.Version
	if version == "" {
		version = "latest"
	}

	container, err := clickhouse.Run(ctx,
		fmt.Sprintf("clickhouse/clickhouse-server:%s-alpine", version),
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		testcontainers.WithWaitStrategyAndDeadline(
			5*time.Minute,
			wait.
				NewHTTPStrategy("/").
				WithPort(nat.Port("8123/tcp")).
				WithStatusCodeMatcher(func(status int) bool { return status == 200 }),
		),
	)
	if err != nil {
		return errors.Wrap(err, "starting clickhouse container")
	}

	c.container = container
	return nil
}

// Stop terminates the container. A no-op if it isn't running.
func (c *Container) Stop(ctx context.Context) error {
	if c.container == nil {
		return nil
	}

	err := c.container.Terminate(ctx)
	c.container = nil
	if err != nil {
		return errors.Wrap(err, "stopping clickhouse container")
	}
	return nil
}

// DSN returns the native-protocol connection string for the running
// container.
func (c *Container) DSN() (string, error) {
	if c.container == nil {
		return "", errors.New("container is not running")
	}

	dsn, err := c.container.ConnectionString(context.Background())
	if err != nil {
		return "", errors.Wrap(err, "getting connection string")
	}
	return dsn, nil
}

// IsRunning reports whether the container has been started.
func (c *Container) IsRunning() bool {
	return c.container != nil
}
