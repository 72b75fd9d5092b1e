// Package dynamo provides a store.JobStore backed by a DynamoDB table keyed by tracking ID.
package dynamo
