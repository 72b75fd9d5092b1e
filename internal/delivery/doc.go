// Package delivery defines the transport used by workers to deliver a
// notification, the failure injection hook that simulates unreliable
// transports, and a logging transport for local runs.
package delivery
