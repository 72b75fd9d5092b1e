// Package redis provides the Redis backends: a Streams-based task queue with
// consumer groups, lease reclaim and delayed retries, and a hash-based job store.
package redis
