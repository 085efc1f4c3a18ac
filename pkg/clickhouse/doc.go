// Package clickhouse provides a client for interacting with ClickHouse
// databases.
//
// The client is deliberately small: connect, Query, Exec. Callers needing
// only a subset of that depend on the ClickHouse interface each package
// (materializer, stats, executor) declares locally rather than on *Client,
// so tests can substitute a fake.
//
// Example usage:
//
//	client, err := clickhouse.NewClient("localhost:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
package clickhouse
