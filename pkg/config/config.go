package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration written as a Go duration string ("10s", "1h").
type Duration struct {
	time.Duration
}

// UnmarshalYAML accepts duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
	// TrustedProxies are IPs/CIDRs whose X-Forwarded-For headers are honoured.
	TrustedProxies  []string `yaml:"trustedProxies"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// Redis locates the state store. Redis 6.2 or later is recommended; older
// servers work through a slower MULTI/EXEC path for one-shot reads.
type Redis struct {
	URL         string   `yaml:"url"`
	PoolSize    int      `yaml:"poolSize"`
	DialTimeout Duration `yaml:"dialTimeout"`
	// OperationTimeout bounds reads and writes.
	OperationTimeout Duration `yaml:"operationTimeout"`
}

// IdentityProvider describes the Cognito app client used for CLI logins.
type IdentityProvider struct {
	// Domain is the hosted UI base URL, e.g. https://auth.example.com.
	Domain       string `yaml:"domain"`
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURI  string `yaml:"redirectURI"`
	Region       string `yaml:"region"`
	UserPoolID   string `yaml:"userPoolID"`
	// JWKSURL and Issuer override the values derived from Region and UserPoolID.
	JWKSURL string `yaml:"jwksURL"`
	Issuer  string `yaml:"issuer"`
	// SkipIssuerCheck must be set explicitly to accept tokens from any issuer.
	SkipIssuerCheck bool `yaml:"skipIssuerCheck"`
	// Discovery resolves endpoints from the issuer's OIDC discovery document.
	Discovery           bool     `yaml:"discovery"`
	Timeout             Duration `yaml:"timeout"`
	JWKSRefreshInterval Duration `yaml:"jwksRefreshInterval"`
}

type STS struct {
	RoleARN    string `yaml:"roleARN"`
	ExternalID string `yaml:"externalID"`
	// Region of the STS endpoint. Defaults to the identity provider region.
	Region string `yaml:"region"`
	// Duration of issued credentials. Zero leaves the role default.
	Duration Duration `yaml:"duration"`
	Timeout  Duration `yaml:"timeout"`
}

type CLIAuth struct {
	// IssuancePolicy is "single-issue" or "repeatable".
	IssuancePolicy string   `yaml:"issuancePolicy"`
	StateTTL       Duration `yaml:"stateTTL"`
	PointerTTL     Duration `yaml:"pointerTTL"`
	SessionTTL     Duration `yaml:"sessionTTL"`
}

type RateLimit struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

type Admin struct {
	// Token guards the admin endpoints. Empty disables them.
	Token string `yaml:"token"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Kafka struct {
	Brokers          []string   `yaml:"brokers"`
	Topic            string     `yaml:"topic"`
	CompressionCodec string     `yaml:"compression"`
	TLS              *KafkaTLS  `yaml:"tls"`
	SASL             *KafkaSASL `yaml:"sasl"`
}

type Audit struct {
	Enabled     bool `yaml:"enabled"`
	QueueSize   int  `yaml:"queueSize"`
	WorkerCount int  `yaml:"workerCount"`
	// Kafka is optional; events always go to the log sink.
	Kafka *Kafka `yaml:"kafka"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Config is the complete broker configuration. It is built once at startup
// and passed by value.
type Config struct {
	Server           Server           `yaml:"server"`
	Redis            Redis            `yaml:"redis"`
	IdentityProvider IdentityProvider `yaml:"identityProvider"`
	STS              STS              `yaml:"sts"`
	CLIAuth          CLIAuth          `yaml:"cliAuth"`
	RateLimit        RateLimit        `yaml:"rateLimit"`
	Admin            Admin            `yaml:"admin"`
	Audit            Audit            `yaml:"audit"`
	Telemetry        Telemetry        `yaml:"telemetry"`
}

// Defaults returns the configuration used for every unset field.
func Defaults() Config {
	return Config{
		Server: Server{
			ListenAddress:   "127.0.0.1:8080",
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{30 * time.Second},
			ShutdownTimeout: Duration{15 * time.Second},
		},
		Redis: Redis{
			URL:              "redis://127.0.0.1:6379",
			PoolSize:         10,
			DialTimeout:      Duration{5 * time.Second},
			OperationTimeout: Duration{3 * time.Second},
		},
		IdentityProvider: IdentityProvider{
			Timeout:             Duration{10 * time.Second},
			JWKSRefreshInterval: Duration{time.Hour},
		},
		STS: STS{
			Timeout: Duration{10 * time.Second},
		},
		CLIAuth: CLIAuth{
			IssuancePolicy: "single-issue",
			StateTTL:       Duration{300 * time.Second},
			PointerTTL:     Duration{600 * time.Second},
			SessionTTL:     Duration{30 * 24 * time.Hour},
		},
		RateLimit: RateLimit{
			Enabled: true,
			Rate:    5,
			Burst:   20,
		},
		Audit: Audit{
			Enabled:     true,
			QueueSize:   10000,
			WorkerCount: 2,
		},
		Telemetry: Telemetry{
			Exporter:     "otlp",
			SamplingRate: 1.0,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path skips the file. The result is not
// validated; call Validate.
func Load(path string) (Config, error) {
	config := Defaults()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("trying to open broker config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	}

	applyEnv(&config)
	return config, nil
}

// envOverrides maps environment variables onto config fields.
var envOverrides = map[string]func(*Config, string){
	"REDIS_URL":                func(c *Config, v string) { c.Redis.URL = v },
	"SERVER_ADDR":              func(c *Config, v string) { c.Server.ListenAddress = v },
	"COGNITO_DOMAIN":           func(c *Config, v string) { c.IdentityProvider.Domain = v },
	"COGNITO_CLIENT_ID":        func(c *Config, v string) { c.IdentityProvider.ClientID = v },
	"COGNITO_CLIENT_SECRET":    func(c *Config, v string) { c.IdentityProvider.ClientSecret = v },
	"COGNITO_REDIRECT_URI":     func(c *Config, v string) { c.IdentityProvider.RedirectURI = v },
	"COGNITO_REGION":           func(c *Config, v string) { c.IdentityProvider.Region = v },
	"COGNITO_USER_POOL_ID":     func(c *Config, v string) { c.IdentityProvider.UserPoolID = v },
	"AWS_ROLE_ARN":             func(c *Config, v string) { c.STS.RoleARN = v },
	"AWS_EXTERNAL_ID":          func(c *Config, v string) { c.STS.ExternalID = v },
	"ADMIN_TOKEN":              func(c *Config, v string) { c.Admin.Token = v },
	"CLI_AUTH_ISSUANCE_POLICY": func(c *Config, v string) { c.CLIAuth.IssuancePolicy = v },
}

func applyEnv(c *Config) {
	for key, set := range envOverrides {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			set(c, val)
		}
	}
}

// STSRegion returns the region used for STS calls.
func (c Config) STSRegion() string {
	if c.STS.Region != "" {
		return c.STS.Region
	}
	return c.IdentityProvider.Region
}
