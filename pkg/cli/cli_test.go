package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/cli-auth-broker/pkg/config"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("BROKER_TEST_ENV", "custom-value")

	if got := getEnvString("BROKER_TEST_ENV", "default"); got != "custom-value" {
		t.Fatalf("expected env override, got %s", got)
	}

	if got := getEnvString("BROKER_UNKNOWN_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("BROKER_BOOL_TRUE", "true")
	if !getEnvBool("BROKER_BOOL_TRUE", false) {
		t.Fatal("expected true when env variable explicitly true")
	}

	t.Setenv("BROKER_BOOL_FALSE", "false")
	if getEnvBool("BROKER_BOOL_FALSE", true) {
		t.Fatal("expected false when env variable explicitly false")
	}

	t.Setenv("BROKER_BOOL_INVALID", "sometimes")
	if !getEnvBool("BROKER_BOOL_INVALID", true) {
		t.Fatal("expected fallback default when env value invalid")
	}
}

func TestGetEnvBool_AllTrueVariants(t *testing.T) {
	trueValues := []string{"true", "TRUE", "True", "1", "yes", "YES", "Yes"}
	for _, val := range trueValues {
		t.Run(val, func(t *testing.T) {
			t.Setenv("TEST_BOOL", val)
			assert.True(t, getEnvBool("TEST_BOOL", false), "expected true for %q", val)
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		cfg, err := Parse([]string{"--debug", "-c", "/etc/broker.yaml", "--redis-url", "redis://r:6379", "--server-addr", ":9000", "--no-banner"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.True(t, cfg.Debug)
		assert.True(t, cfg.NoBanner)
		assert.Equal(t, "/etc/broker.yaml", cfg.ConfigPath)
		assert.Equal(t, "redis://r:6379", cfg.RedisURL)
		assert.Equal(t, ":9000", cfg.ServerAddr)
	})

	t.Run("env fallbacks", func(t *testing.T) {
		t.Setenv("BROKER_CONFIG_PATH", "/from/env.yaml")
		t.Setenv("NO_BANNER", "yes")
		cfg, err := Parse(nil, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "/from/env.yaml", cfg.ConfigPath)
		assert.True(t, cfg.NoBanner)
	})

	t.Run("help", func(t *testing.T) {
		var out bytes.Buffer
		_, err := Parse([]string{"--help"}, &out)
		assert.True(t, errors.Is(err, pflag.ErrHelp))
		assert.Contains(t, out.String(), "--redis-url")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := Parse([]string{"--bogus"}, &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("positional argument", func(t *testing.T) {
		_, err := Parse([]string{"serve"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unexpected argument")
	})
}

func TestApply(t *testing.T) {
	base := config.Defaults()

	(&Config{}).Apply(&base)
	assert.Equal(t, "127.0.0.1:8080", base.Server.ListenAddress)

	(&Config{RedisURL: "redis://other:6379", ServerAddr: ":1"}).Apply(&base)
	assert.Equal(t, "redis://other:6379", base.Redis.URL)
	assert.Equal(t, ":1", base.Server.ListenAddress)
}

func TestPrint(t *testing.T) {
	cfg := &Config{Debug: true, ConfigPath: "x"}
	assert.NotPanics(t, func() { cfg.Print(zaptest.NewLogger(t).Sugar()) })
}
