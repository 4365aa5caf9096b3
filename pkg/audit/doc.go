// Package audit records the credential lifecycle of the CLI auth broker
// (logins, issued and denied credentials, renewals) and forwards the events
// to log and Kafka sinks through a non-blocking queue.
package audit
