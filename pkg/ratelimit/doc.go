// Package ratelimit provides keyed token-bucket rate limiting middleware for
// Gin HTTP servers. Limiters are keyed per client IP or per request value
// (for example the login state being polled) and drop idle keys on a timer.
package ratelimit
