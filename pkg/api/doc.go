// Package api implements the broker's HTTP surface on Gin: the CLI login
// endpoints under /auth/cli, the admin session endpoints, the info page,
// health probes and the Prometheus endpoint.
package api
