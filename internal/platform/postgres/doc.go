// Package postgres provides the PostgreSQL implementation of store.JobStore,
// together with the embedded goose migrations that create the job_records table.
//
// The pgx stdlib driver is registered by this package, so callers only need
// to pass a connection URL to Open.
package postgres
