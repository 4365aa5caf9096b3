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

package cliauth

import (
	"encoding/json"
	"time"
)

// Key prefixes. Each record kind has its own key space so a state token
// can never collide with a subject.
const (
	statePrefix   = "auth:cli:state:"
	pointerPrefix = "auth:cli:pointer:"
	sessionPrefix = "auth:cli:session:"
)

// StateKey is the store key of the AuthRequestState for a state token.
func StateKey(state string) string { return statePrefix + state }

// PointerKey is the store key of the StatePointer for a state token.
func PointerKey(state string) string { return pointerPrefix + state }

// SessionKey is the store key of a subject's Session.
func SessionKey(subject string) string { return sessionPrefix + subject }

// DeviceInfo is what the CLI reports about itself on start.
type DeviceInfo struct {
	DeviceName string `json:"device_name,omitempty"`
	OS         string `json:"os,omitempty"`
	CLIVersion string `json:"cli_version,omitempty"`
}

// AuthRequestState is stored by Start and consumed once by Callback.
type AuthRequestState struct {
	DeviceInfo
	CreatedAt time.Time `json:"created_at"`
}

// StatePointer links a state token to the subject that completed login.
type StatePointer struct {
	UserSub   string    `json:"user_sub"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the per-subject record consulted before issuing credentials.
type Session struct {
	UserSub      string    `json:"user_sub"`
	Email        string    `json:"email,omitempty"`
	DeviceName   string    `json:"device_name,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UnmarshalJSON defaults Active to true for records written without it.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	p := plain{Active: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Session(p)
	return nil
}

// StartResult is returned by Start.
type StartResult struct {
	AuthURL   string `json:"auth_url"`
	ExpiresIn int    `json:"expires_in"`
	// State is also embedded in AuthURL.
	State string `json:"-"`
}

// CallbackResult identifies who completed a login.
type CallbackResult struct {
	Subject string
	Email   string
}

// IssuancePolicy decides whether a completed login can be redeemed once
// or on every poll until the pointer expires.
type IssuancePolicy string

const (
	// PolicySingleIssue consumes the pointer on the first successful poll.
	PolicySingleIssue IssuancePolicy = "single-issue"
	// PolicyRepeatable leaves the pointer in place; every poll mints
	// fresh credentials until its TTL runs out.
	PolicyRepeatable IssuancePolicy = "repeatable"
)

// Valid reports whether p is a known policy.
func (p IssuancePolicy) Valid() bool {
	return p == PolicySingleIssue || p == PolicyRepeatable
}
