// Package apiresponses provides the JSON error envelope and status helpers
// shared by the broker's HTTP handlers and middleware.
package apiresponses
