// Package store defines the job status store contract and its in-memory
// implementation. Durable implementations live under internal/platform and
// keep the same semantics: atomic per-ID upserts that never move CreatedAt
// and never let an older attempt overwrite a newer one.
package store
