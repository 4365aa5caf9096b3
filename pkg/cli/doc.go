// Package cli defines the broker's command-line flags and their environment
// variable fallbacks.
package cli
