package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid broker configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks that every required value is present and consistent.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.ListenAddress == "" {
		add("server.listenAddress is required")
	}
	if c.Redis.URL == "" {
		add("redis.url is required")
	} else if u, err := url.Parse(c.Redis.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		add("redis.url must be a redis:// or rediss:// URL")
	}

	idp := c.IdentityProvider
	if idp.ClientID == "" {
		add("identityProvider.clientID is required")
	}
	if idp.RedirectURI == "" {
		add("identityProvider.redirectURI is required")
	} else if u, err := url.Parse(idp.RedirectURI); err != nil || u.Scheme == "" || u.Host == "" {
		add("identityProvider.redirectURI must be an absolute URL")
	}
	if idp.Discovery {
		if idp.Issuer == "" && (idp.Region == "" || idp.UserPoolID == "") {
			add("identityProvider.discovery requires issuer or region and userPoolID")
		}
	} else if idp.Domain == "" {
		add("identityProvider.domain is required")
	}
	if idp.JWKSURL == "" && (idp.Region == "" || idp.UserPoolID == "") {
		add("identityProvider.region and identityProvider.userPoolID are required unless jwksURL is set")
	}
	if idp.Issuer == "" && !idp.SkipIssuerCheck && (idp.Region == "" || idp.UserPoolID == "") {
		add("identityProvider.issuer is required unless region and userPoolID are set or skipIssuerCheck is true")
	}

	if c.STS.RoleARN == "" {
		add("sts.roleARN is required")
	} else if !strings.HasPrefix(c.STS.RoleARN, "arn:") {
		add("sts.roleARN must be an ARN")
	}
	if c.STSRegion() == "" {
		add("sts.region or identityProvider.region is required")
	}

	switch c.CLIAuth.IssuancePolicy {
	case "single-issue", "repeatable":
	default:
		add("cliAuth.issuancePolicy must be single-issue or repeatable, got %q", c.CLIAuth.IssuancePolicy)
	}
	for name, d := range map[string]Duration{
		"cliAuth.stateTTL":   c.CLIAuth.StateTTL,
		"cliAuth.pointerTTL": c.CLIAuth.PointerTTL,
		"cliAuth.sessionTTL": c.CLIAuth.SessionTTL,
	} {
		if d.Duration <= 0 {
			add("%s must be positive", name)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		add("rateLimit.rate and rateLimit.burst must be positive when enabled")
	}

	if k := c.Audit.Kafka; c.Audit.Enabled && k != nil {
		if len(k.Brokers) == 0 {
			add("audit.kafka.brokers is required")
		}
		if k.Topic == "" {
			add("audit.kafka.topic is required")
		}
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "otlp", "stdout", "none", "":
		default:
			add("telemetry.exporter must be otlp, stdout or none")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
