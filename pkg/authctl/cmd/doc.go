// Package cmd implements the authctl command tree: login, renew, logout,
// version and completion.
package cmd
