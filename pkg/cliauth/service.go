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
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/audit"
	"github.com/telekom/cli-auth-broker/pkg/credentials"
	"github.com/telekom/cli-auth-broker/pkg/idtoken"
	"github.com/telekom/cli-auth-broker/pkg/metrics"
	"github.com/telekom/cli-auth-broker/pkg/statestore"
	"github.com/telekom/cli-auth-broker/pkg/tokenexchange"
)

const (
	DefaultStateTTL   = 300 * time.Second
	DefaultPointerTTL = 600 * time.Second
	DefaultSessionTTL = 30 * 24 * time.Hour

	// stateTokenBytes is 256 bits of entropy.
	stateTokenBytes = 32
)

// CodeExchanger talks to the provider's token endpoint.
type CodeExchanger interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*tokenexchange.Tokens, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*tokenexchange.Tokens, error)
}

// TokenValidator verifies ID tokens.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*idtoken.Claims, error)
}

// CredentialIssuer mints role credentials for a subject.
type CredentialIssuer interface {
	Issue(ctx context.Context, subject string) (*credentials.Credentials, error)
}

// Auditor receives lifecycle events. *audit.Manager satisfies it.
type Auditor interface {
	Emit(ctx context.Context, event *audit.Event)
}

// Dependencies are the collaborators a Service is built from.
type Dependencies struct {
	Store     statestore.Store
	Exchanger CodeExchanger
	Validator TokenValidator
	Issuer    CredentialIssuer
	// Auditor is optional.
	Auditor Auditor
	Log     *zap.SugaredLogger
}

// Options tune TTLs and the issuance policy. Zero values take defaults.
type Options struct {
	StateTTL   time.Duration
	PointerTTL time.Duration
	SessionTTL time.Duration
	Policy     IssuancePolicy
}

// DefaultOptions returns the production TTLs with single-issue redemption.
func DefaultOptions() Options {
	return Options{
		StateTTL:   DefaultStateTTL,
		PointerTTL: DefaultPointerTTL,
		SessionTTL: DefaultSessionTTL,
		Policy:     PolicySingleIssue,
	}
}

// Service runs the login state machine. It is safe for concurrent use;
// all shared state lives in the store.
type Service struct {
	store     statestore.Store
	exchanger CodeExchanger
	validator TokenValidator
	issuer    CredentialIssuer
	auditor   Auditor
	log       *zap.SugaredLogger
	opts      Options
	tracer    trace.Tracer

	now      func() time.Time
	newToken func() (string, error)
}

// NewService validates deps and opts and returns a Service.
func NewService(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, newError(CategoryConfig, "init", errors.New("store is required"))
	case deps.Exchanger == nil:
		return nil, newError(CategoryConfig, "init", errors.New("exchanger is required"))
	case deps.Validator == nil:
		return nil, newError(CategoryConfig, "init", errors.New("validator is required"))
	case deps.Issuer == nil:
		return nil, newError(CategoryConfig, "init", errors.New("credential issuer is required"))
	}

	defaults := DefaultOptions()
	if opts.StateTTL <= 0 {
		opts.StateTTL = defaults.StateTTL
	}
	if opts.PointerTTL <= 0 {
		opts.PointerTTL = defaults.PointerTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaults.SessionTTL
	}
	if opts.Policy == "" {
		opts.Policy = defaults.Policy
	}
	if !opts.Policy.Valid() {
		return nil, newError(CategoryConfig, "init", fmt.Errorf("unknown issuance policy %q", opts.Policy))
	}

	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	auditor := deps.Auditor
	if auditor == nil {
		auditor = nopAuditor{}
	}

	return &Service{
		store:     deps.Store,
		exchanger: deps.Exchanger,
		validator: deps.Validator,
		issuer:    deps.Issuer,
		auditor:   auditor,
		log:       log,
		opts:      opts,
		tracer:    otel.Tracer("github.com/telekom/cli-auth-broker/pkg/cliauth"),
		now:       time.Now,
		newToken:  randomToken,
	}, nil
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// Start begins a login: it stores the device info under a fresh state
// token and returns the provider URL the user must open.
func (s *Service) Start(ctx context.Context, info DeviceInfo) (_ *StartResult, err error) {
	ctx, span := s.tracer.Start(ctx, "cliauth.Start")
	defer func() { endSpan(span, err) }()
	defer observeDuration("start", time.Now())

	state, err := s.newToken()
	if err != nil {
		return nil, newError(CategoryInternal, "start", err)
	}

	req := AuthRequestState{DeviceInfo: info, CreatedAt: s.now().UTC()}
	if err := statestore.PutJSON(ctx, s.store, StateKey(state), req, s.opts.StateTTL); err != nil {
		return nil, s.storageError("start", "put_state", err)
	}

	metrics.CLIAuthStarted.Inc()
	s.log.Infow("CLI login started", "state", fingerprint(state), "device", info.DeviceName, "os", info.OS, "cliVersion", info.CLIVersion)
	s.auditor.Emit(ctx, &audit.Event{
		Type:           audit.EventLoginStarted,
		Target:         audit.Target{Kind: "login", Name: fingerprint(state)},
		RequestContext: &audit.RequestContext{Device: info.DeviceName},
		Details: map[string]interface{}{
			"os":         info.OS,
			"cliVersion": info.CLIVersion,
		},
	})

	return &StartResult{
		AuthURL:   s.exchanger.AuthCodeURL(state),
		ExpiresIn: int(s.opts.StateTTL / time.Second),
		State:     state,
	}, nil
}

// Callback completes the browser leg. The state is consumed even when a
// later step fails, so a callback can never be replayed.
func (s *Service) Callback(ctx context.Context, code, state string) (_ *CallbackResult, err error) {
	ctx, span := s.tracer.Start(ctx, "cliauth.Callback")
	defer func() {
		endSpan(span, err)
		metrics.CLIAuthCallbacks.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			s.auditor.Emit(ctx, &audit.Event{
				Type:    audit.EventLoginRejected,
				Target:  audit.Target{Kind: "login", Name: fingerprint(state)},
				Details: map[string]interface{}{"reason": string(CategoryOf(err))},
			})
		}
	}()
	defer observeDuration("callback", time.Now())

	if state == "" {
		return nil, newError(CategoryState, "callback", ErrInvalidState)
	}

	tokens, err := s.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return nil, s.exchangeError("callback", "authorization_code", err)
	}
	metrics.TokenExchanges.WithLabelValues("authorization_code", "success").Inc()

	var req AuthRequestState
	if err := statestore.TakeJSON(ctx, s.store, StateKey(state), &req); err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			s.log.Infow("Callback for unknown or expired state", "state", fingerprint(state))
			return nil, newError(CategoryState, "callback", ErrInvalidState)
		}
		return nil, s.storageError("callback", "take_state", err)
	}

	claims, err := s.validate(ctx, "callback", tokens.IDToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("cliauth.subject", claims.Subject))

	now := s.now().UTC()
	session := Session{
		UserSub:      claims.Subject,
		Email:        claims.Email,
		DeviceName:   req.DeviceName,
		RefreshToken: tokens.RefreshToken,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := statestore.PutJSON(ctx, s.store, SessionKey(claims.Subject), session, s.opts.SessionTTL); err != nil {
		return nil, s.storageError("callback", "put_session", err)
	}

	pointer := StatePointer{UserSub: claims.Subject, CreatedAt: now}
	if err := statestore.PutJSON(ctx, s.store, PointerKey(state), pointer, s.opts.PointerTTL); err != nil {
		return nil, s.storageError("callback", "put_pointer", err)
	}

	s.log.Infow("CLI login completed", "subject", claims.Subject, "device", req.DeviceName)
	s.auditor.Emit(ctx, &audit.Event{
		Type:           audit.EventLoginCompleted,
		Actor:          audit.Actor{Subject: claims.Subject, Email: claims.Email},
		Target:         audit.Target{Kind: "session", Name: claims.Subject},
		RequestContext: &audit.RequestContext{Device: req.DeviceName},
	})

	return &CallbackResult{Subject: claims.Subject, Email: claims.Email}, nil
}

// Status reports the state of a login. Expected outcomes (pending,
// expired, denied) are values, not errors.
func (s *Service) Status(ctx context.Context, state string) (_ StatusResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "cliauth.Status")
	var resp StatusResponse
	defer func() {
		endSpan(span, err)
		label := "error"
		if err == nil {
			label = string(resp.Status())
		}
		metrics.CLIAuthStatusPolls.WithLabelValues(label).Inc()
	}()
	defer observeDuration("status", time.Now())

	resp, err = s.status(ctx, state)
	return resp, err
}

func (s *Service) status(ctx context.Context, state string) (StatusResponse, error) {
	if state == "" {
		return Expired{}, nil
	}

	var pointer StatePointer
	var err error
	if s.opts.Policy == PolicySingleIssue {
		err = statestore.TakeJSON(ctx, s.store, PointerKey(state), &pointer)
	} else {
		err = statestore.GetJSON(ctx, s.store, PointerKey(state), &pointer)
	}
	if errors.Is(err, statestore.ErrNotFound) {
		return s.pendingOrExpired(ctx, state)
	}
	if err != nil {
		return nil, s.storageError("status", "read_pointer", err)
	}

	session, err := s.loadSession(ctx, "status", pointer.UserSub)
	if errors.Is(err, ErrSessionNotFound) {
		return Expired{}, nil
	}
	if err != nil {
		s.restorePointer(ctx, state, pointer)
		return nil, err
	}
	if !session.Active {
		// repeat polls keep answering DENIED until the pointer expires
		s.restorePointer(ctx, state, pointer)
		s.denied(ctx, session, "status")
		return Denied{}, nil
	}

	creds, err := s.issue(ctx, "status", session.UserSub)
	if err != nil {
		s.restorePointer(ctx, state, pointer)
		return nil, err
	}

	return Authorized{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		ExpiresAt:       creds.Expiration,
		RefreshToken:    session.RefreshToken,
	}, nil
}

// pendingOrExpired distinguishes a login still waiting for its callback
// from one that is unknown, timed out or already redeemed.
func (s *Service) pendingOrExpired(ctx context.Context, state string) (StatusResponse, error) {
	_, err := s.store.Get(ctx, StateKey(state))
	switch {
	case err == nil:
		return Pending{}, nil
	case errors.Is(err, statestore.ErrNotFound):
		return Expired{}, nil
	default:
		return nil, s.storageError("status", "get_state", err)
	}
}

// restorePointer puts a pointer consumed by a single-issue poll back when
// the poll did not pay out, so the CLI can retry within the original
// window. Best effort; a no-op for the repeatable policy.
func (s *Service) restorePointer(ctx context.Context, state string, pointer StatePointer) {
	if s.opts.Policy != PolicySingleIssue {
		return
	}
	remaining := s.opts.PointerTTL - s.now().Sub(pointer.CreatedAt)
	if remaining <= 0 {
		return
	}
	if err := statestore.PutJSON(ctx, s.store, PointerKey(state), pointer, remaining); err != nil {
		s.log.Warnw("Failed to restore state pointer", "state", fingerprint(state), "error", err)
	}
}

// Renew exchanges a refresh token for new credentials. A rotated refresh
// token is persisted on the session and returned; otherwise the caller's
// token is echoed back.
func (s *Service) Renew(ctx context.Context, refreshToken string) (_ *Authorized, err error) {
	ctx, span := s.tracer.Start(ctx, "cliauth.Renew")
	var subject string
	defer func() {
		endSpan(span, err)
		metrics.CLIAuthRenewals.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			s.auditor.Emit(ctx, &audit.Event{
				Type:    audit.EventRenewRejected,
				Actor:   audit.Actor{Subject: subject},
				Target:  audit.Target{Kind: "session", Name: subject},
				Details: map[string]interface{}{"reason": renewReason(err)},
			})
		}
	}()
	defer observeDuration("renew", time.Now())

	if refreshToken == "" {
		return nil, newError(CategoryValidation, "renew", ErrMissingRefreshToken)
	}

	tokens, err := s.exchanger.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, s.exchangeError("renew", "refresh_token", err)
	}
	metrics.TokenExchanges.WithLabelValues("refresh_token", "success").Inc()

	claims, err := s.validate(ctx, "renew", tokens.IDToken)
	if err != nil {
		return nil, err
	}
	subject = claims.Subject
	span.SetAttributes(attribute.String("cliauth.subject", subject))

	session, err := s.loadSession(ctx, "renew", subject)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		s.denied(ctx, session, "renew")
		return nil, newError(CategoryState, "renew", ErrSessionInactive)
	}

	current := refreshToken
	if tokens.RefreshToken != "" {
		current = tokens.RefreshToken
	}
	session.RefreshToken = current
	if claims.Email != "" {
		session.Email = claims.Email
	}
	session.UpdatedAt = s.now().UTC()
	if err := statestore.PutJSON(ctx, s.store, SessionKey(subject), session, s.opts.SessionTTL); err != nil {
		return nil, s.storageError("renew", "put_session", err)
	}

	creds, err := s.issue(ctx, "renew", subject)
	if err != nil {
		return nil, err
	}

	s.log.Infow("Session renewed", "subject", subject, "rotated", tokens.RefreshToken != "")
	s.auditor.Emit(ctx, &audit.Event{
		Type:    audit.EventSessionRenewed,
		Actor:   audit.Actor{Subject: subject, Email: session.Email},
		Target:  audit.Target{Kind: "session", Name: subject},
		Details: map[string]interface{}{"rotated": tokens.RefreshToken != ""},
	})

	return &Authorized{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		ExpiresAt:       creds.Expiration,
		RefreshToken:    current,
	}, nil
}

// DeactivateSession marks a subject's session inactive. Later status polls
// answer DENIED and renewals fail until the user logs in again.
func (s *Service) DeactivateSession(ctx context.Context, subject string) (err error) {
	ctx, span := s.tracer.Start(ctx, "cliauth.DeactivateSession")
	defer func() { endSpan(span, err) }()

	session, err := s.loadSession(ctx, "deactivate", subject)
	if err != nil {
		return err
	}
	session.Active = false
	session.UpdatedAt = s.now().UTC()
	if err := statestore.PutJSON(ctx, s.store, SessionKey(subject), session, s.opts.SessionTTL); err != nil {
		return s.storageError("deactivate", "put_session", err)
	}

	s.log.Infow("Session deactivated", "subject", subject)
	s.auditor.Emit(ctx, &audit.Event{
		Type:   audit.EventSessionDeactivated,
		Actor:  audit.Actor{Subject: subject, Email: session.Email},
		Target: audit.Target{Kind: "session", Name: subject},
	})
	return nil
}

// GetSession returns the stored session for subject.
func (s *Service) GetSession(ctx context.Context, subject string) (*Session, error) {
	session, err := s.loadSession(ctx, "get_session", subject)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Service) loadSession(ctx context.Context, op, subject string) (Session, error) {
	var session Session
	if subject == "" {
		return session, newError(CategoryState, op, ErrSessionNotFound)
	}
	err := statestore.GetJSON(ctx, s.store, SessionKey(subject), &session)
	if errors.Is(err, statestore.ErrNotFound) {
		return session, newError(CategoryState, op, ErrSessionNotFound)
	}
	if err != nil {
		return session, s.storageError(op, "get_session", err)
	}
	return session, nil
}

func (s *Service) validate(ctx context.Context, op, raw string) (*idtoken.Claims, error) {
	claims, err := s.validator.Validate(ctx, raw)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, idtoken.ErrKeySetUnavailable) {
		metrics.TokenValidationFailures.WithLabelValues("jwks_unavailable").Inc()
		s.log.Warnw("Signing keys unavailable", "op", op, "error", err)
		return nil, newError(CategoryTransport, op, err)
	}
	metrics.TokenValidationFailures.WithLabelValues(validationReason(err)).Inc()
	s.log.Infow("ID token rejected", "op", op, "error", err)
	return nil, newError(CategoryValidation, op, err)
}

func (s *Service) issue(ctx context.Context, op, subject string) (*credentials.Credentials, error) {
	creds, err := s.issuer.Issue(ctx, subject)
	if err != nil {
		metrics.CredentialIssueFailures.WithLabelValues(op).Inc()
		s.auditor.Emit(ctx, &audit.Event{
			Type:    audit.EventCredentialsFailed,
			Actor:   audit.Actor{Subject: subject},
			Target:  audit.Target{Kind: "role", Name: credentials.RoleSessionName(subject)},
			Details: map[string]interface{}{"operation": op, "error": err.Error()},
		})
		return nil, newError(CategoryInternal, op, err)
	}
	metrics.CredentialsIssued.WithLabelValues(op).Inc()
	s.auditor.Emit(ctx, &audit.Event{
		Type:   audit.EventCredentialsIssued,
		Actor:  audit.Actor{Subject: subject},
		Target: audit.Target{Kind: "role", Name: credentials.RoleSessionName(subject)},
		Details: map[string]interface{}{
			"operation": op,
			"expiresAt": creds.Expiration.UTC().Format(time.RFC3339),
		},
	})
	return creds, nil
}

func (s *Service) denied(ctx context.Context, session Session, op string) {
	s.log.Infow("Refusing credentials for inactive session", "subject", session.UserSub, "op", op)
	s.auditor.Emit(ctx, &audit.Event{
		Type:    audit.EventCredentialsDenied,
		Actor:   audit.Actor{Subject: session.UserSub, Email: session.Email},
		Target:  audit.Target{Kind: "session", Name: session.UserSub},
		Details: map[string]interface{}{"operation": op, "reason": "session inactive"},
	})
}

func (s *Service) exchangeError(op, grant string, err error) error {
	var exErr *tokenexchange.ExchangeError
	if errors.As(err, &exErr) {
		metrics.TokenExchanges.WithLabelValues(grant, exErr.Kind.String()).Inc()
		if exErr.Kind == tokenexchange.KindTransport {
			s.log.Warnw("Token endpoint unreachable", "op", op, "error", err)
			return newError(CategoryTransport, op, err)
		}
		s.log.Infow("Token exchange rejected", "op", op, "kind", exErr.Kind.String(), "status", exErr.Status)
		return newError(CategoryRejected, op, err)
	}
	metrics.TokenExchanges.WithLabelValues(grant, "error").Inc()
	return newError(CategoryInternal, op, err)
}

// storageError classifies a failed store call. Backend failures are
// storage errors; a record that does not decode is an internal error.
func (s *Service) storageError(op, storeOp string, err error) error {
	metrics.StoreErrors.WithLabelValues(storeOp).Inc()
	if !statestore.IsStorageError(err) {
		s.log.Errorw("Corrupt state store record", "op", op, "storeOp", storeOp, "error", err)
		return newError(CategoryInternal, op, err)
	}
	s.log.Errorw("State store failure", "op", op, "storeOp", storeOp, "error", err)
	return newError(CategoryStorage, op, err)
}

type nopAuditor struct{}

func (nopAuditor) Emit(context.Context, *audit.Event) {}

func randomToken() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// fingerprint is a log-safe handle for a state token.
func fingerprint(state string) string {
	if state == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:6])
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CategoryOf(err)))
	}
	span.End()
}

func observeDuration(op string, start time.Time) {
	metrics.CLIAuthOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(CategoryOf(err))
}

func renewReason(err error) string {
	switch {
	case errors.Is(err, ErrSessionInactive):
		return "session inactive"
	case errors.Is(err, ErrSessionNotFound):
		return "session not found"
	default:
		return string(CategoryOf(err))
	}
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, idtoken.ErrMissingKeyID):
		return "missing_kid"
	case errors.Is(err, idtoken.ErrUnknownKeyID):
		return "unknown_kid"
	case errors.Is(err, idtoken.ErrMalformedKey):
		return "malformed_key"
	default:
		return "verification"
	}
}
