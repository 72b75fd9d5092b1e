// Package domain contains the notification task carried through the queue and
// the job record that tracks each task's processing state. It is independent
// of any queue, store or transport implementation.
package domain
