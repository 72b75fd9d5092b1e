// Package queue defines the durable task queue used between the dispatcher
// and the workers, the JSON codec for NotificationTask messages, and an
// in-memory broker used by tests and the local mode.
//
// Delivery is at-least-once. A message received by a Consumer stays leased
// to it until it is acked, nacked or dead-lettered, or until its lease expires
// and a Maintainer hands it to another consumer.
package queue
