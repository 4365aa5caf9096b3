// Package tokenstore persists the broker refresh token per profile, either
// in the operating system keychain or in a private JSON file.
package tokenstore
