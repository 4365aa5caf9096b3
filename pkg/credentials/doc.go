// Package credentials issues temporary cloud credentials through STS
// AssumeRole for authenticated CLI users.
package credentials
