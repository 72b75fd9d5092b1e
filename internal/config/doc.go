// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, files). It provides type-safe
// access to the settings of the dispatcher and worker processes while keeping
// configuration details separate from queue and delivery logic.
package config
