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

package tokenexchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Kind classifies exchange failures.
type Kind int

const (
	// KindRejected means the provider answered with a non-2xx status:
	// the code or refresh token is invalid, expired or revoked.
	KindRejected Kind = iota
	// KindTransport means the provider could not be reached.
	KindTransport
	// KindInvalidResponse means a 2xx answer lacked required fields.
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindTransport:
		return "transport"
	case KindInvalidResponse:
		return "invalid_response"
	}
	return "unknown"
}

// ExchangeError is returned by every failed exchange.
type ExchangeError struct {
	Kind Kind
	Op   string
	// Status is the provider's HTTP status for KindRejected.
	Status int
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token exchange %s %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("token exchange %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Tokens is the token endpoint response.
type Tokens struct {
	AccessToken string
	IDToken     string
	// RefreshToken is empty when the provider did not issue or rotate one.
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// Config describes the registered client and the provider endpoints.
type Config struct {
	ClientID string
	// ClientSecret is optional; public clients leave it empty.
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	// Timeout bounds each token request. Default: 10s
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// CognitoEndpoints returns the hosted UI authorize and token URLs of a
// Cognito domain such as https://auth.example.com.
func CognitoEndpoints(domain string) (authURL, tokenURL string) {
	domain = strings.TrimRight(domain, "/")
	return domain + "/oauth2/authorize", domain + "/oauth2/token"
}

// Exchanger turns authorization codes and refresh tokens into tokens.
// Failures are never retried: codes are single-use and a rejected refresh
// token will not become valid.
type Exchanger struct {
	oauth   oauth2.Config
	client  *http.Client
	timeout time.Duration
	log     *zap.SugaredLogger
}

// New validates cfg and returns an Exchanger.
func New(cfg Config, log *zap.SugaredLogger) (*Exchanger, error) {
	if cfg.ClientID == "" || cfg.RedirectURI == "" {
		return nil, errors.New("client id and redirect uri are required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, errors.New("authorize and token urls are required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Exchanger{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:  client,
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

// AuthCodeURL returns the provider authorize URL carrying state. The
// redirect URI is the one later sent with ExchangeCode.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.oauth.AuthCodeURL(state)
}

// ExchangeCode redeems an authorization code.
func (e *Exchanger) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	tok, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, e.classify("authorization_code", err)
	}
	return e.tokens("authorization_code", tok, "")
}

// ExchangeRefreshToken redeems a refresh token. The returned RefreshToken
// is set only when the provider rotated it.
func (e *Exchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	tok, err := e.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, e.classify("refresh_token", err)
	}
	return e.tokens("refresh_token", tok, refreshToken)
}

func (e *Exchanger) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Exchanger) tokens(op string, tok *oauth2.Token, priorRefresh string) (*Tokens, error) {
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, &ExchangeError{Kind: KindInvalidResponse, Op: op, Err: errors.New("response has no id_token")}
	}
	out := &Tokens{
		AccessToken: tok.AccessToken,
		IDToken:     idToken,
		TokenType:   tok.Type(),
		ExpiresIn:   tok.ExpiresIn,
	}
	// oauth2 carries the prior refresh token forward when none was issued.
	if tok.RefreshToken != priorRefresh {
		out.RefreshToken = tok.RefreshToken
	}
	if out.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return out, nil
}

func (e *Exchanger) classify(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		e.log.Debugw("Token endpoint rejected grant", "grant", op, "status", status, "errorCode", retrieveErr.ErrorCode)
		if status >= 200 && status < 300 {
			return &ExchangeError{Kind: KindInvalidResponse, Op: op, Status: status, Err: err}
		}
		return &ExchangeError{Kind: KindRejected, Op: op, Status: status, Err: err}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e.log.Warnw("Token endpoint unreachable", "grant", op, "error", err)
		return &ExchangeError{Kind: KindTransport, Op: op, Err: err}
	}

	// e.g. "server response missing access_token" or an unparseable body
	return &ExchangeError{Kind: KindInvalidResponse, Op: op, Err: err}
}
