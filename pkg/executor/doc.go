// Package executor runs planned queries against ClickHouse and collects
// their result rows.
//
// The planner only produces SQL text; something still has to run it and
// hand back rows the pipeline can write out as CSV. This package is that
// narrow collaborator: one query in, one result (columns plus
// string-formatted rows) out, executed over the same ClickHouse interface
// the rest of rollkeeper depends on rather than the concrete driver type
// (grounded on the teacher's pkg/executor, which defines the identical
// Query/Exec interface so *clickhouse.Client needs no executor-specific
// adapter).
package executor
