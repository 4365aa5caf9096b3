package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/cli-auth-broker/pkg/config"
)

const validYAML = `
server:
  listenAddress: ":9090"
  shutdownTimeout: 5s
redis:
  url: redis://cache:6379/2
  poolSize: 20
identityProvider:
  domain: https://auth.example.com
  clientID: abc123
  redirectURI: https://broker.example.com/auth/cli/callback
  region: eu-central-1
  userPoolID: eu-central-1_AbCdEf
sts:
  roleARN: arn:aws:iam::123456789012:role/cli-users
  duration: 3600
cliAuth:
  issuancePolicy: repeatable
audit:
  kafka:
    brokers: ["kafka-1:9092"]
    topic: cli-auth-audit
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		noFile        bool
		expectError   bool
		check         func(t *testing.T, c config.Config)
	}{
		{
			name:          "valid config overrides defaults",
			configContent: validYAML,
			check: func(t *testing.T, c config.Config) {
				assert.Equal(t, ":9090", c.Server.ListenAddress)
				assert.Equal(t, 5*time.Second, c.Server.ShutdownTimeout.Duration)
				assert.Equal(t, 30*time.Second, c.Server.WriteTimeout.Duration, "default kept")
				assert.Equal(t, "redis://cache:6379/2", c.Redis.URL)
				assert.Equal(t, 20, c.Redis.PoolSize)
				assert.Equal(t, time.Hour, c.STS.Duration.Duration, "integers are seconds")
				assert.Equal(t, "repeatable", c.CLIAuth.IssuancePolicy)
				assert.Equal(t, 300*time.Second, c.CLIAuth.StateTTL.Duration)
				require.NotNil(t, c.Audit.Kafka)
				assert.Equal(t, []string{"kafka-1:9092"}, c.Audit.Kafka.Brokers)
				assert.Equal(t, "eu-central-1", c.STSRegion())
				assert.NoError(t, c.Validate())
			},
		},
		{
			name:   "no file uses defaults",
			noFile: true,
			check: func(t *testing.T, c config.Config) {
				assert.Equal(t, "127.0.0.1:8080", c.Server.ListenAddress)
				assert.Equal(t, "redis://127.0.0.1:6379", c.Redis.URL)
				assert.Equal(t, "single-issue", c.CLIAuth.IssuancePolicy)
				assert.Equal(t, 30*24*time.Hour, c.CLIAuth.SessionTTL.Duration)
			},
		},
		{
			name:          "invalid YAML",
			configContent: `invalid: yaml: content [`,
			expectError:   true,
		},
		{
			name:          "invalid duration",
			configContent: "server:\n  readTimeout: soon\n",
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if !tt.noFile {
				path = writeConfig(t, tt.configContent)
			}
			c, err := config.Load(path)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://env-redis:6379")
	t.Setenv("SERVER_ADDR", "0.0.0.0:8443")
	t.Setenv("COGNITO_CLIENT_ID", "from-env")
	t.Setenv("AWS_ROLE_ARN", "arn:aws:iam::111111111111:role/env")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("CLI_AUTH_ISSUANCE_POLICY", "single-issue")

	c, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "redis://env-redis:6379", c.Redis.URL)
	assert.Equal(t, "0.0.0.0:8443", c.Server.ListenAddress)
	assert.Equal(t, "from-env", c.IdentityProvider.ClientID)
	assert.Equal(t, "arn:aws:iam::111111111111:role/env", c.STS.RoleARN)
	assert.Equal(t, "s3cret", c.Admin.Token)
	assert.Equal(t, "single-issue", c.CLIAuth.IssuancePolicy)
}

func TestValidate(t *testing.T) {
	base, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		problem string
	}{
		{"missing client id", func(c *config.Config) { c.IdentityProvider.ClientID = "" }, "clientID is required"},
		{"relative redirect", func(c *config.Config) { c.IdentityProvider.RedirectURI = "/callback" }, "absolute URL"},
		{"missing domain", func(c *config.Config) { c.IdentityProvider.Domain = "" }, "domain is required"},
		{"missing pool", func(c *config.Config) { c.IdentityProvider.UserPoolID = "" }, "userPoolID are required"},
		{"missing role", func(c *config.Config) { c.STS.RoleARN = "" }, "roleARN is required"},
		{"bad role", func(c *config.Config) { c.STS.RoleARN = "role/x" }, "must be an ARN"},
		{"bad redis scheme", func(c *config.Config) { c.Redis.URL = "http://cache" }, "redis.url"},
		{"bad policy", func(c *config.Config) { c.CLIAuth.IssuancePolicy = "twice" }, "issuancePolicy"},
		{"zero ttl", func(c *config.Config) { c.CLIAuth.PointerTTL = config.Duration{} }, "pointerTTL must be positive"},
		{"kafka without topic", func(c *config.Config) { c.Audit.Kafka = &config.Kafka{Brokers: []string{"k:9092"}} }, "audit.kafka.topic"},
		{"rate limit", func(c *config.Config) { c.RateLimit.Burst = 0 }, "rateLimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)

			var vErr *config.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Contains(t, vErr.Error(), tt.problem)
		})
	}

	t.Run("jwks and issuer overrides replace pool settings", func(t *testing.T) {
		c := base
		c.IdentityProvider.Region = ""
		c.IdentityProvider.UserPoolID = ""
		c.IdentityProvider.JWKSURL = "https://idp.example.com/jwks.json"
		c.IdentityProvider.Issuer = "https://idp.example.com"
		c.STS.Region = "us-east-1"
		assert.NoError(t, c.Validate())
	})

	t.Run("empty config reports every required field", func(t *testing.T) {
		err := config.Defaults().Validate()
		var vErr *config.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.GreaterOrEqual(t, len(vErr.Problems), 4)
	})
}
