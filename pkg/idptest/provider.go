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

// Package idptest runs an in-process OAuth2/OIDC identity provider for
// tests: it serves a JWKS, an OpenID discovery document and a token
// endpoint that honours pre-registered codes and refresh tokens.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Identity is the user a code or refresh token resolves to.
type Identity struct {
	Subject string
	Email   string
}

type grant struct {
	identity Identity
	// rotate makes a refresh grant answer with a new refresh token.
	rotate bool
}

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
}

// Provider is a fake identity provider backed by httptest.Server.
type Provider struct {
	t        testing.TB
	server   *httptest.Server
	ClientID string
	// RedirectURI must match the redirect_uri of authorization_code grants.
	RedirectURI string

	mu        sync.Mutex
	keys      []signingKey
	published []signingKey
	codes     map[string]grant
	refreshes map[string]grant
	tokenFail int
	rotations int

	jwksHits  atomic.Int32
	tokenHits atomic.Int32
}

// New starts a provider and registers its shutdown with t.Cleanup.
func New(t testing.TB, clientID, redirectURI string) *Provider {
	t.Helper()
	p := &Provider{
		t:           t,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		codes:       map[string]grant{},
		refreshes:   map[string]grant{},
	}
	key := p.newKey()
	p.keys = []signingKey{key}
	p.published = []signingKey{key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", p.serveJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", p.serveDiscovery)
	mux.HandleFunc("/oauth2/token", p.serveToken)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// URL is the provider base URL, also used as the token issuer.
func (p *Provider) URL() string { return p.server.URL }

// Issuer is the iss claim of minted tokens.
func (p *Provider) Issuer() string { return p.server.URL }

// JWKSURL is the key set endpoint.
func (p *Provider) JWKSURL() string { return p.server.URL + "/.well-known/jwks.json" }

// JWKSHits counts key set fetches.
func (p *Provider) JWKSHits() int { return int(p.jwksHits.Load()) }

// TokenHits counts token endpoint calls.
func (p *Provider) TokenHits() int { return int(p.tokenHits.Load()) }

// Close shuts the server down early, e.g. to simulate an outage.
func (p *Provider) Close() { p.server.Close() }

// AddCode registers a single-use authorization code.
func (p *Provider) AddCode(code string, id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = grant{identity: id}
}

// AddRefreshToken registers a refresh token. When rotate is set the token
// endpoint returns a fresh refresh token alongside the ID token.
func (p *Provider) AddRefreshToken(token string, id Identity, rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes[token] = grant{identity: id, rotate: rotate}
}

// FailTokenWith makes the token endpoint answer every request with status.
// Zero restores normal behaviour.
func (p *Provider) FailTokenWith(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenFail = status
}

// RotateKey makes a new key the signing key. When publish is false the
// key set keeps serving the old keys until PublishKeys is called.
func (p *Provider) RotateKey(publish bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.newKey()
	p.keys = append([]signingKey{key}, p.keys...)
	if publish {
		p.published = append([]signingKey(nil), p.keys...)
	}
}

// PublishKeys exposes every generated key in the key set.
func (p *Provider) PublishKeys() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append([]signingKey(nil), p.keys...)
}

// TokenOptions tweak minted ID tokens.
type TokenOptions struct {
	Audience  string
	Issuer    string
	ExpiresIn time.Duration
	TokenUse  string
	NoKeyID   bool
	KeyID     string
}

// IDToken signs an ID token for id with the current signing key.
func (p *Provider) IDToken(id Identity, opts TokenOptions) string {
	p.t.Helper()
	p.mu.Lock()
	key := p.keys[0]
	p.mu.Unlock()

	if opts.Audience == "" {
		opts.Audience = p.ClientID
	}
	if opts.Issuer == "" {
		opts.Issuer = p.Issuer()
	}
	if opts.ExpiresIn == 0 {
		opts.ExpiresIn = time.Hour
	}
	if opts.TokenUse == "" {
		opts.TokenUse = "id"
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       id.Subject,
		"aud":       opts.Audience,
		"iss":       opts.Issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(opts.ExpiresIn).Unix(),
		"token_use": opts.TokenUse,
	}
	if id.Email != "" {
		claims["email"] = id.Email
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	switch {
	case opts.NoKeyID:
	case opts.KeyID != "":
		tok.Header["kid"] = opts.KeyID
	default:
		tok.Header["kid"] = key.kid
	}
	signed, err := tok.SignedString(key.priv)
	if err != nil {
		p.t.Fatalf("sign id token: %v", err)
	}
	return signed
}

func (p *Provider) newKey() signingKey {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		p.t.Fatalf("generate rsa key: %v", err)
	}
	p.rotations++
	return signingKey{kid: fmt.Sprintf("kid-%d", p.rotations), priv: priv}
}

func (p *Provider) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	p.jwksHits.Add(1)
	p.mu.Lock()
	keys := make([]interface{}, 0, len(p.published))
	for _, k := range p.published {
		keys = append(keys, map[string]interface{}{
			"kty": "RSA",
			"kid": k.kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(k.priv.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.priv.E)).Bytes()),
		})
	}
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

func (p *Provider) serveDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.URL() + "/oauth2/authorize",
		"token_endpoint":                        p.URL() + "/oauth2/token",
		"jwks_uri":                              p.JWKSURL(),
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *Provider) serveToken(w http.ResponseWriter, r *http.Request) {
	p.tokenHits.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	p.mu.Lock()
	failWith := p.tokenFail
	p.mu.Unlock()
	if failWith != 0 {
		writeJSON(w, failWith, map[string]string{"error": "server_error"})
		return
	}
	if r.PostForm.Get("client_id") != p.ClientID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client"})
		return
	}

	var (
		g          grant
		ok         bool
		newRefresh string
	)
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("redirect_uri") != p.RedirectURI {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		p.mu.Lock()
		g, ok = p.codes[r.PostForm.Get("code")]
		delete(p.codes, r.PostForm.Get("code"))
		if ok {
			newRefresh = "refresh-" + g.identity.Subject
			p.refreshes[newRefresh] = grant{identity: g.identity}
		}
		p.mu.Unlock()
	case "refresh_token":
		p.mu.Lock()
		g, ok = p.refreshes[r.PostForm.Get("refresh_token")]
		if ok && g.rotate {
			newRefresh = fmt.Sprintf("rotated-%s-%d", g.identity.Subject, time.Now().UnixNano())
			p.refreshes[newRefresh] = grant{identity: g.identity}
		}
		p.mu.Unlock()
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	resp := map[string]interface{}{
		"access_token": "access-" + g.identity.Subject,
		"id_token":     p.IDToken(g.identity, TokenOptions{}),
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if newRefresh != "" {
		resp["refresh_token"] = newRefresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
