// Package tokenexchange redeems authorization codes and refresh tokens at
// the identity provider's token endpoint.
package tokenexchange
