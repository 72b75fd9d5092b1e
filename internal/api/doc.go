// Package api implements the HTTP surface of sendnforget: the notification
// submit endpoint served by the dispatcher and the job status endpoints
// served by the worker.
package api
