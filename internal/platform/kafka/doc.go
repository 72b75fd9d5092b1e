// Package kafka implements the task queue on Kafka topics using segmentio/kafka-go.
//
// Tasks are read from the main topic by a consumer group with manual
// commits. Offsets are committed only once every earlier message of the
// same partition has been settled. Delayed retries go through a separate
// retry topic that Maintain forwards back to the main topic when due, and
// undeliverable messages are written to a dead-letter topic.
package kafka
