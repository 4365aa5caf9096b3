// Package client is the authctl HTTP client for the broker's /auth/cli
// endpoints, including the status polling loop used during login.
package client
