// Package authctl holds the building blocks of the authctl command line
// client: the broker HTTP client, refresh token storage, credential output
// and the cobra command tree.
package authctl
