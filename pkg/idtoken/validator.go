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

package idtoken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

var (
	// ErrInvalidToken is the parent of every verification failure.
	ErrInvalidToken = errors.New("invalid identity token")
	// ErrMissingKeyID is returned when the token header carries no kid.
	ErrMissingKeyID = fmt.Errorf("%w: missing key id", ErrInvalidToken)
	// ErrUnknownKeyID is returned when the kid is absent from the key set even after a refresh.
	ErrUnknownKeyID = fmt.Errorf("%w: unknown key id", ErrInvalidToken)
	// ErrMalformedKey is returned when the matching key cannot be used for verification.
	ErrMalformedKey = fmt.Errorf("%w: malformed signing key", ErrInvalidToken)
	// ErrVerification covers signature and claim check failures.
	ErrVerification = fmt.Errorf("%w: verification failed", ErrInvalidToken)

	// ErrKeySetUnavailable is returned when the signing keys cannot be fetched.
	// It does not wrap ErrInvalidToken: the token was never judged.
	ErrKeySetUnavailable = errors.New("signing key set unavailable")
)

const signingAlgorithm = "RS256"

// Config describes where keys come from and which claims are required.
type Config struct {
	// JWKSURL is the provider's key set endpoint.
	JWKSURL string
	// Issuer must equal the iss claim. Empty skips the issuer check.
	Issuer string
	// ClientID must be present in the aud claim.
	ClientID string
	// RefreshInterval controls background key set refreshes. Default: 1h
	RefreshInterval time.Duration
	// RefreshRateLimit is the minimum time between refreshes. Default: 1m
	RefreshRateLimit time.Duration
	// RefreshTimeout bounds a single key set fetch. Default: 10s
	RefreshTimeout time.Duration
	// Leeway is the clock skew tolerated on exp and nbf. Default: 30s
	Leeway time.Duration
	// HTTPClient is used for key set fetches. Default: http.DefaultClient
	HTTPClient *http.Client
}

// Claims are the verified identity assertions extracted from a token.
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
}

// tokenClaims is the wire shape of a provider ID token.
type tokenClaims struct {
	Email    string `json:"email,omitempty"`
	TokenUse string `json:"token_use,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies ID tokens against a cached provider key set. The key
// set is fetched on first use and refreshed in the background; a token
// signed with an unknown kid forces one refresh before it is rejected.
type Validator struct {
	cfg    Config
	log    *zap.SugaredLogger
	parser *jwt.Parser
	now    func() time.Time

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

// New returns a Validator. No network traffic happens until the first
// Validate call.
func New(cfg Config, log *zap.SugaredLogger) (*Validator, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.RefreshRateLimit <= 0 {
		cfg.RefreshRateLimit = time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Validator{
		cfg: cfg,
		log: log,
		// Claims are checked by hand so leeway and the clock can be controlled.
		parser: jwt.NewParser(jwt.WithValidMethods([]string{signingAlgorithm}), jwt.WithoutClaimsValidation()),
		now:    time.Now,
	}, nil
}

// CognitoJWKSURL returns the key set URL of a Cognito user pool.
func CognitoJWKSURL(region, userPoolID string) string {
	return CognitoIssuer(region, userPoolID) + "/.well-known/jwks.json"
}

// CognitoIssuer returns the iss value of tokens minted by a Cognito user pool.
func CognitoIssuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// Validate verifies signature, audience, issuer and expiry of raw and
// returns its claims. Every failure wraps ErrInvalidToken except key set
// fetch failures, which wrap ErrKeySetUnavailable.
//
// The first call fetches the key set while holding the validator lock.
// That fetch is bounded by Config.RefreshTimeout and does not observe ctx,
// so concurrent callers wait for it; ctx is only checked before the wait.
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	if err := checkHeader(raw); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
	}

	jwks, err := v.keySet()
	if err != nil {
		return nil, err
	}

	claims := &tokenClaims{}
	_, err = v.parser.ParseWithClaims(raw, claims, jwks.Keyfunc)
	if err != nil && errors.Is(err, keyfunc.ErrKIDNotFound) {
		v.log.Debugw("Token signed with unknown key id, refreshing key set")
		if rErr := jwks.Refresh(ctx, keyfunc.RefreshOptions{}); rErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, rErr)
		}
		claims = &tokenClaims{}
		_, err = v.parser.ParseWithClaims(raw, claims, jwks.Keyfunc)
	}
	if err != nil {
		return nil, classify(err)
	}

	if err := v.checkClaims(claims); err != nil {
		return nil, err
	}

	out := &Claims{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Issuer:   claims.Issuer,
		Audience: []string(claims.Audience),
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Close stops the background key set refresh.
func (v *Validator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwks != nil {
		v.jwks.EndBackground()
		v.jwks = nil
	}
}

// keySet returns the cached key set, fetching it on first use.
func (v *Validator) keySet() (*keyfunc.JWKS, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwks != nil {
		return v.jwks, nil
	}

	opts := keyfunc.Options{
		Client:           v.cfg.HTTPClient,
		RefreshInterval:  v.cfg.RefreshInterval,
		RefreshRateLimit: v.cfg.RefreshRateLimit,
		RefreshTimeout:   v.cfg.RefreshTimeout,
		RefreshErrorHandler: func(err error) {
			v.log.Warnw("Failed to refresh JWKS", "url", v.cfg.JWKSURL, "error", err)
		},
	}
	jwks, err := keyfunc.Get(v.cfg.JWKSURL, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	v.log.Debugw("Loaded JWKS", "url", v.cfg.JWKSURL)
	v.jwks = jwks
	return jwks, nil
}

func (v *Validator) checkClaims(c *tokenClaims) error {
	now := v.now()
	if c.Subject == "" {
		return fmt.Errorf("%w: missing sub", ErrVerification)
	}
	if c.ExpiresAt == nil {
		return fmt.Errorf("%w: missing exp", ErrVerification)
	}
	if !now.Before(c.ExpiresAt.Add(v.cfg.Leeway)) {
		return fmt.Errorf("%w: token expired", ErrVerification)
	}
	if c.NotBefore != nil && now.Add(v.cfg.Leeway).Before(c.NotBefore.Time) {
		return fmt.Errorf("%w: token not yet valid", ErrVerification)
	}
	if !c.VerifyAudience(v.cfg.ClientID, true) {
		return fmt.Errorf("%w: audience mismatch", ErrVerification)
	}
	if v.cfg.Issuer != "" && !c.VerifyIssuer(v.cfg.Issuer, true) {
		return fmt.Errorf("%w: issuer mismatch", ErrVerification)
	}
	if c.TokenUse != "" && c.TokenUse != "id" {
		return fmt.Errorf("%w: token_use %q is not an id token", ErrVerification, c.TokenUse)
	}
	return nil
}

// checkHeader rejects tokens without a usable kid before any key lookup.
func checkHeader(raw string) error {
	if strings.Count(raw, ".") != 2 {
		return fmt.Errorf("%w: not a compact JWS", ErrVerification)
	}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return ErrMissingKeyID
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, keyfunc.ErrKIDNotFound):
		return ErrUnknownKeyID
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// The keyfunc failed to hand back a usable key for a known kid.
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	default:
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
}
