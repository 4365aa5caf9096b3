/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// === CLI login events ===
	EventLoginStarted   EventType = "cli_login.started"
	EventLoginCompleted EventType = "cli_login.completed"
	EventLoginRejected  EventType = "cli_login.rejected"

	// === Credential events ===
	EventCredentialsIssued EventType = "credentials.issued"
	EventCredentialsDenied EventType = "credentials.denied"
	EventCredentialsFailed EventType = "credentials.failed"

	// === Session events ===
	EventSessionRenewed     EventType = "session.renewed"
	EventRenewRejected      EventType = "session.renew_rejected"
	EventSessionDeactivated EventType = "session.deactivated"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Actor is who triggered the event
	Actor Actor `json:"actor"`

	// Target is what was affected by the event
	Target Target `json:"target"`

	// Details contains event-specific information. Never put tokens or
	// credentials here.
	Details map[string]interface{} `json:"details,omitempty"`

	// RequestContext contains correlation information
	RequestContext *RequestContext `json:"requestContext,omitempty"`
}

// Actor represents who triggered an audit event
type Actor struct {
	// Subject is the identity provider subject, empty before login completes
	Subject string `json:"subject,omitempty"`

	// Email from the validated ID token
	Email string `json:"email,omitempty"`

	// SourceIP is the IP address of the request origin
	SourceIP string `json:"sourceIP,omitempty"`

	// UserAgent from the request
	UserAgent string `json:"userAgent,omitempty"`
}

// Target represents what was affected by an audit event
type Target struct {
	// Kind is "role", "session" or "login"
	Kind string `json:"kind"`

	// Name is the role ARN, session subject or login state fingerprint
	Name string `json:"name"`
}

// RequestContext contains correlation and context information
type RequestContext struct {
	// CorrelationID for tracing requests across components
	CorrelationID string `json:"correlationId,omitempty"`

	// Device is the CLI-reported device name
	Device string `json:"device,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventCredentialsFailed, EventSessionDeactivated:
		return SeverityCritical
	case EventLoginRejected, EventCredentialsDenied, EventRenewRejected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// RequestInfo is the per-request metadata the HTTP layer attaches to the
// context so events emitted deeper down carry it.
type RequestInfo struct {
	SourceIP      string
	UserAgent     string
	CorrelationID string
}

type requestInfoKey struct{}

// WithRequestInfo returns a copy of ctx carrying info.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the RequestInfo stored in ctx, if any.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
