// Package idtoken verifies identity provider ID tokens against the
// provider's published signing keys.
package idtoken
