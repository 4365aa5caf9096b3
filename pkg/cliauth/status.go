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

// Status is the discriminant rendered as the "status" field.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusExpired    Status = "EXPIRED"
	StatusDenied     Status = "DENIED"
	StatusAuthorized Status = "AUTHORIZED"
)

// StatusResponse is one of Pending, Expired, Denied or Authorized. The
// unexported method closes the set.
type StatusResponse interface {
	Status() Status
	statusResponse()
}

// Pending means the browser login has not completed yet.
type Pending struct{}

// Expired means the state token is unknown, timed out or already redeemed.
type Expired struct{}

// Denied means the subject's session has been deactivated.
type Denied struct{}

// Authorized carries freshly issued role credentials.
type Authorized struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
	// RefreshToken is the token the CLI should keep for Renew. It may be
	// empty when the provider did not issue one.
	RefreshToken string
}

func (Pending) Status() Status    { return StatusPending }
func (Expired) Status() Status    { return StatusExpired }
func (Denied) Status() Status     { return StatusDenied }
func (Authorized) Status() Status { return StatusAuthorized }

func (Pending) statusResponse()    {}
func (Expired) statusResponse()    {}
func (Denied) statusResponse()     {}
func (Authorized) statusResponse() {}

// statusBody is the wire shape shared by every variant.
type statusBody struct {
	Status          Status `json:"status"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
}

func (p Pending) MarshalJSON() ([]byte, error) { return json.Marshal(statusBody{Status: p.Status()}) }
func (e Expired) MarshalJSON() ([]byte, error) { return json.Marshal(statusBody{Status: e.Status()}) }
func (d Denied) MarshalJSON() ([]byte, error)  { return json.Marshal(statusBody{Status: d.Status()}) }

func (a Authorized) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusBody{
		Status:          a.Status(),
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
		SessionToken:    a.SessionToken,
		ExpiresAt:       a.ExpiresAt.UTC().Format(time.RFC3339),
		RefreshToken:    a.RefreshToken,
	})
}
