// Package worker consumes notification tasks from the queue, records each
// processing attempt in the job store and delivers the notification.
//
// A Processor runs one attempt for one task. A Pool runs a fixed number of
// consumer goroutines that lease messages, hand them to the Processor and
// settle them on the queue according to a RetryPolicy.
package worker
