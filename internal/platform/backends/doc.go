// Package backends opens the queue, job store and delivery transport selected
// by configuration. It is the only package that knows every driver.
package backends
