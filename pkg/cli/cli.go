package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/config"
)

type Config struct {
	// Application flags
	Debug    bool
	NoBanner bool
	Version  bool

	// Configuration flags
	ConfigPath string

	// Overrides applied on top of the configuration file
	RedisURL   string
	ServerAddr string
}

// Parse parses args (without the program name). Flags default to their
// environment variables. pflag.ErrHelp is returned for -h/--help after the
// usage was written to output.
func Parse(args []string, output io.Writer) (*Config, error) {
	config := &Config{}

	flagSet := pflag.NewFlagSet("cli-auth-broker", pflag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.BoolVar(&config.Debug, "debug", getEnvBool("DEBUG", false), "Enable debug level logging")
	flagSet.BoolVar(&config.NoBanner, "no-banner", getEnvBool("NO_BANNER", false), "Do not print the startup banner")
	flagSet.BoolVar(&config.Version, "version", false, "Print version information and exit")

	flagSet.StringVarP(&config.ConfigPath, "config", "c", getEnvString("BROKER_CONFIG_PATH", ""),
		"Path to the broker configuration file. Without it, configuration comes from defaults and environment variables")
	flagSet.StringVar(&config.RedisURL, "redis-url", getEnvString("REDIS_URL", ""),
		"Redis connection URL (redis://host:port/db), overrides redis.url")
	flagSet.StringVar(&config.ServerAddr, "server-addr", getEnvString("SERVER_ADDR", ""),
		"HTTP listen address (host:port), overrides server.listenAddress")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return config, nil
}

// Apply writes the flag overrides into cfg.
func (c *Config) Apply(cfg *config.Config) {
	if c.RedisURL != "" {
		cfg.Redis.URL = c.RedisURL
	}
	if c.ServerAddr != "" {
		cfg.Server.ListenAddress = c.ServerAddr
	}
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"no_banner", c.NoBanner,
		"config_path", c.ConfigPath,
		"redis_url_override", c.RedisURL != "",
		"server_addr", c.ServerAddr,
	)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
