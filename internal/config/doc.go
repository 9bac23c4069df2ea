// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, files). It provides type-safe
// access to the database credentials, worker pool sizing and logging settings
// while keeping configuration details separate from the task core.
package config
