// Package statestore provides the TTL-bounded key/value store that carries
// CLI login correlation state and sessions between HTTP requests.
package statestore
