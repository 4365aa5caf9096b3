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

package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	// SessionNamePrefix is prepended to the subject in role session names.
	SessionNamePrefix = "cli-"
	// MaxSessionNameLength is the AssumeRole limit for RoleSessionName.
	MaxSessionNameLength = 64
)

// ErrMissingCredentials is returned when AssumeRole succeeds without a
// complete credential set, expiry included.
var ErrMissingCredentials = errors.New("assume role response carried no credentials")

// AssumeRoleAPI is the subset of the STS client the issuer needs.
type AssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Credentials are temporary role credentials. They are never persisted.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// IssueError wraps an AssumeRole API failure.
type IssueError struct {
	RoleARN string
	// Code is the service error code, e.g. AccessDenied, when available.
	Code string
	Err  error
}

func (e *IssueError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("assume role %s failed (%s): %v", e.RoleARN, e.Code, e.Err)
	}
	return fmt.Sprintf("assume role %s failed: %v", e.RoleARN, e.Err)
}

func (e *IssueError) Unwrap() error {
	return e.Err
}

// Config selects the role to assume.
type Config struct {
	RoleARN string
	// ExternalID is sent when non-empty.
	ExternalID string
	// Duration of the issued credentials. Zero leaves the role default.
	Duration time.Duration
	// Timeout bounds each AssumeRole call. Default: 10s
	Timeout time.Duration
}

// Issuer mints credentials by assuming a fixed role for a subject.
type Issuer struct {
	api AssumeRoleAPI
	cfg Config
	log *zap.SugaredLogger
}

// NewIssuer returns an Issuer calling api.
func NewIssuer(api AssumeRoleAPI, cfg Config, log *zap.SugaredLogger) (*Issuer, error) {
	if api == nil {
		return nil, errors.New("sts client is required")
	}
	if cfg.RoleARN == "" {
		return nil, errors.New("role arn is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Issuer{api: api, cfg: cfg, log: log}, nil
}

// Issue assumes the configured role on behalf of subject. Failures are
// not retried; they usually stem from a bad role ARN or trust policy.
func (i *Issuer) Issue(ctx context.Context, subject string) (*Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	sessionName := RoleSessionName(subject)
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(i.cfg.RoleARN),
		RoleSessionName: aws.String(sessionName),
	}
	if i.cfg.ExternalID != "" {
		input.ExternalId = aws.String(i.cfg.ExternalID)
	}
	if i.cfg.Duration > 0 {
		input.DurationSeconds = aws.Int32(int32(i.cfg.Duration / time.Second))
	}

	out, err := i.api.AssumeRole(ctx, input, func(o *sts.Options) {
		o.RetryMaxAttempts = 1
	})
	if err != nil {
		issueErr := &IssueError{RoleARN: i.cfg.RoleARN, Err: err}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			issueErr.Code = apiErr.ErrorCode()
		}
		i.log.Errorw("AssumeRole failed", "roleArn", i.cfg.RoleARN, "sessionName", sessionName, "code", issueErr.Code, "error", err)
		return nil, issueErr
	}

	c := out.Credentials
	if c == nil || c.Expiration == nil ||
		aws.ToString(c.AccessKeyId) == "" || aws.ToString(c.SecretAccessKey) == "" || aws.ToString(c.SessionToken) == "" {
		return nil, ErrMissingCredentials
	}
	creds := &Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Expiration:      aws.ToTime(c.Expiration),
	}
	i.log.Debugw("Issued role credentials", "sessionName", sessionName, "expiresAt", creds.Expiration)
	return creds, nil
}

// RoleSessionName derives the AssumeRole session name for subject: the
// prefix plus the subject, restricted to [A-Za-z0-9=,.@_-] and cut to 64.
func RoleSessionName(subject string) string {
	var b strings.Builder
	b.Grow(len(SessionNamePrefix) + len(subject))
	b.WriteString(SessionNamePrefix)
	for _, r := range subject {
		if allowedSessionRune(r) {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > MaxSessionNameLength {
		name = name[:MaxSessionNameLength]
	}
	return name
}

func allowedSessionRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("=,.@-_", r)
}
