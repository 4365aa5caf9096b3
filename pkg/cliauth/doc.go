// Package cliauth implements the CLI device login handshake.
//
// A login moves through four operations. Start stores a short-lived
// AuthRequestState under a fresh state token and returns the provider's
// authorize URL. Callback consumes that state exactly once, exchanges the
// authorization code, validates the ID token and records a Session plus a
// StatePointer from the state token to the subject. Status is polled by
// the CLI and turns the pointer into role credentials. Renew trades a
// refresh token for new credentials without a browser.
//
// All state lives in an injected statestore.Store under three key spaces;
// see StateKey, PointerKey and SessionKey.
package cliauth
