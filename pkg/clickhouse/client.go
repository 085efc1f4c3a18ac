// Package clickhouse connects to a ClickHouse deployment and exposes the
// narrow Query/Exec surface the rest of rollkeeper needs: building
// materialized views, collecting per-column statistics, and running planned
// queries. It does not attempt schema introspection or DDL diffing — this is
// a query-engine client, not a migration tool.
package clickhouse

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
)

type (
	// Client represents a ClickHouse database connection.
	Client struct {
		conn driver.Conn
	}

	// TLSSettings is the mTLS material for a secured connection.
	TLSSettings struct {
		CertFile string
		KeyFile  string
		CAFile   string
	}

	// ClientOptions configures NewClientWithOptions. The zero value connects
	// without TLS or a database name, which is fine for a local dev instance.
	ClientOptions struct {
		TLSSettings

		Database string
		Username string
		Password string
	}
)

// NewClient creates a new ClickHouse client connection using the default
// options. The DSN should be in the format "host:port" (e.g.,
// "localhost:9000").
func NewClient(dsn string) (*Client, error) {
	return NewClientWithOptions(context.Background(), dsn, ClientOptions{})
}

// NewClientWithOptions creates a client with TLS and auth settings applied.
func NewClientWithOptions(ctx context.Context, dsn string, opts ClientOptions) (*Client, error) {
	chOpts := &clickhouse.Options{
		Addr: []string{dsn},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	}

	if opts.CertFile != "" {
		tlsConfig, err := GetTLSConfig(opts)
		if err != nil {
			return nil, errors.Wrap(err, "building TLS config")
		}
		chOpts.TLS = tlsConfig
	}

	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, errors.Wrap(err, "opening clickhouse connection")
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "pinging clickhouse")
	}

	return &Client{conn: conn}, nil
}

// Close closes the underlying ClickHouse connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Query runs a query and returns its result rows, matching the narrow
// interface the planner-facing packages (stats, materializer, executor)
// depend on rather than *Client directly, so they can be tested against a
// fake.
func (c *Client) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// Exec runs a statement that returns no rows, e.g. CREATE TABLE.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}
