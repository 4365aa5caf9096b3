package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/cli-auth-broker/pkg/audit"
	"github.com/telekom/cli-auth-broker/pkg/config"
	"github.com/telekom/cli-auth-broker/pkg/idptest"
)

func testConfig(t *testing.T, idp *idptest.Provider) config.Config {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.Defaults()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.IdentityProvider.ClientID = "client-1"
	cfg.IdentityProvider.RedirectURI = "https://broker.example.com/auth/cli/callback"
	cfg.IdentityProvider.Issuer = idp.Issuer()
	cfg.IdentityProvider.Discovery = true
	cfg.STS.RoleARN = "arn:aws:iam::123456789012:role/cli"
	cfg.STS.Region = "eu-central-1"
	cfg.Audit.Enabled = true
	cfg.Admin.Token = "admin-secret"
	return cfg
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, &out))
	assert.Contains(t, out.String(), "cli-auth-broker ")
}

func TestRunHelp(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"--help"}, &out)
	require.ErrorIs(t, err, pflag.ErrHelp)
	assert.Contains(t, out.String(), "--redis-url")
}

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("COGNITO_CLIENT_ID", "")
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cliAuth:\n  issuancePolicy: sometimes\n"), 0o600))

	err := run(context.Background(), []string{"--config", path, "--no-banner"}, &bytes.Buffer{})
	require.Error(t, err)
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "issuancePolicy")
}

func TestBuildServesRoutes(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	idp := idptest.New(t, "client-1", "https://broker.example.com/auth/cli/callback")
	cfg := testConfig(t, idp)
	log := zaptest.NewLogger(t)

	app, err := build(context.Background(), cfg, log, false)
	require.NoError(t, err)
	t.Cleanup(func() { app.close(log.Sugar()) })
	assert.True(t, app.adminEnabled)
	assert.Len(t, app.limiters, 2)

	handler := app.server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/cli/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var started struct {
		AuthURL   string `json:"auth_url"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Contains(t, started.AuthURL, idp.URL())
	assert.Equal(t, 300, started.ExpiresIn)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/cli/status?state=unknown", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"EXPIRED"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/sessions/someone", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildWithoutAdminOrRateLimit(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	idp := idptest.New(t, "client-1", "https://broker.example.com/auth/cli/callback")
	cfg := testConfig(t, idp)
	cfg.Admin.Token = ""
	cfg.RateLimit.Enabled = false
	cfg.Audit.Enabled = false
	log := zaptest.NewLogger(t)

	app, err := build(context.Background(), cfg, log, false)
	require.NoError(t, err)
	t.Cleanup(func() { app.close(log.Sugar()) })
	assert.False(t, app.adminEnabled)
	assert.Empty(t, app.limiters)
	assert.Nil(t, app.auditor)

	rec := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/sessions/someone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildFailsOnDiscovery(t *testing.T) {
	idp := idptest.New(t, "client-1", "https://broker.example.com/auth/cli/callback")
	cfg := testConfig(t, idp)
	cfg.IdentityProvider.Issuer = "http://127.0.0.1:1/nowhere"

	_, err := build(context.Background(), cfg, zaptest.NewLogger(t), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discover")
}

func TestResolveEndpointsCognito(t *testing.T) {
	idp := config.IdentityProvider{
		Domain:     "https://auth.example.com/",
		Region:     "eu-west-1",
		UserPoolID: "eu-west-1_abc",
	}
	endpoints, err := resolveEndpoints(context.Background(), idp, http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/oauth2/authorize", endpoints.AuthURL)
	assert.Equal(t, "https://auth.example.com/oauth2/token", endpoints.TokenURL)
	assert.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc", endpoints.Issuer)
	assert.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc/.well-known/jwks.json", endpoints.JWKSURL)

	idp.JWKSURL = "https://keys.example.com/jwks"
	idp.Issuer = "https://issuer.example.com"
	endpoints, err = resolveEndpoints(context.Background(), idp, http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, "https://keys.example.com/jwks", endpoints.JWKSURL)
	assert.Equal(t, "https://issuer.example.com", endpoints.Issuer)
}

func TestResolveEndpointsDiscovery(t *testing.T) {
	provider := idptest.New(t, "client-1", "https://broker.example.com/cb")
	endpoints, err := resolveEndpoints(context.Background(), config.IdentityProvider{
		Issuer:    provider.Issuer(),
		Discovery: true,
	}, http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, provider.JWKSURL(), endpoints.JWKSURL)
	assert.NotEmpty(t, endpoints.TokenURL)
}

func TestBuildAuditSink(t *testing.T) {
	log := zaptest.NewLogger(t)

	sink, err := buildAuditSink(config.Audit{Enabled: true}, log)
	require.NoError(t, err)
	assert.IsType(t, &audit.LogSink{}, sink)

	sink, err = buildAuditSink(config.Audit{Enabled: true, Kafka: &config.Kafka{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "cli-auth-audit",
		SASL:    &config.KafkaSASL{Mechanism: "PLAIN", Username: "u", Password: "p"},
	}}, log)
	require.NoError(t, err)
	assert.IsType(t, &audit.MultiSink{}, sink)
	require.NoError(t, sink.Close())

	_, err = buildAuditSink(config.Audit{Enabled: true, Kafka: &config.Kafka{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "cli-auth-audit",
		TLS:     &config.KafkaTLS{Enabled: true, CAFile: filepath.Join(t.TempDir(), "missing.pem")},
	}}, log)
	require.Error(t, err)
}
