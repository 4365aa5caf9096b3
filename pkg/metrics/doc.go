// Package metrics defines Prometheus metrics for the CLI auth broker,
// covering the login handshake, upstream calls, rate limiting and the
// audit pipeline.
package metrics
