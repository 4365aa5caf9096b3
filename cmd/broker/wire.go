package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/api"
	"github.com/telekom/cli-auth-broker/pkg/audit"
	"github.com/telekom/cli-auth-broker/pkg/cliauth"
	"github.com/telekom/cli-auth-broker/pkg/config"
	"github.com/telekom/cli-auth-broker/pkg/credentials"
	"github.com/telekom/cli-auth-broker/pkg/idtoken"
	"github.com/telekom/cli-auth-broker/pkg/ratelimit"
	"github.com/telekom/cli-auth-broker/pkg/statestore"
	"github.com/telekom/cli-auth-broker/pkg/telemetry"
	"github.com/telekom/cli-auth-broker/pkg/tokenexchange"
	"github.com/telekom/cli-auth-broker/pkg/version"
)

var technologies = []string{"gin", "redis", "cognito", "aws sts", "kafka", "opentelemetry", "prometheus"}

type application struct {
	server       *api.Server
	store        statestore.Store
	validator    *idtoken.Validator
	auditor      *audit.Manager
	limiters     []*ratelimit.Limiter
	adminEnabled bool
}

func (a *application) close(log *zap.SugaredLogger) {
	for _, l := range a.limiters {
		l.Stop()
	}
	if a.auditor != nil {
		if err := a.auditor.Close(); err != nil {
			log.Warnw("Audit manager close failed", "error", err)
		}
	}
	if a.validator != nil {
		a.validator.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warnw("State store close failed", "error", err)
		}
	}
}

// build wires every component from cfg. On error everything already opened
// is closed again.
func build(ctx context.Context, cfg config.Config, zl *zap.Logger, debug bool) (_ *application, err error) {
	log := zl.Sugar()
	app := &application{}
	defer func() {
		if err != nil {
			app.close(log)
		}
	}()

	store, err := statestore.NewRedisStore(cfg.Redis.URL, statestore.RedisOptions{
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout.Duration,
		ReadTimeout:  cfg.Redis.OperationTimeout.Duration,
		WriteTimeout: cfg.Redis.OperationTimeout.Duration,
	}, log.Named("statestore"))
	if err != nil {
		return nil, err
	}
	app.store = store

	svc, err := buildService(ctx, cfg, app, zl)
	if err != nil {
		return nil, err
	}

	app.server, err = api.NewServer(zl, cfg, debug)
	if err != nil {
		return nil, err
	}

	systemController, err := api.NewSystemController(log, app.store, api.PageInfo{
		Name:         telemetry.DefaultServiceName,
		Description:  "Browser login for command line tools",
		Version:      version.Version,
		BuildDate:    version.BuildDate,
		Endpoints:    api.Endpoints(cfg.Admin.Token != ""),
		Technologies: technologies,
		StartedAt:    time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if app.auditor != nil {
		systemController.WithAuditStats(app.auditor)
	}

	var loginLimit, pollLimit gin.HandlerFunc
	var middlewares []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		loginCfg := ratelimit.DefaultLoginConfig()
		loginCfg.Rate, loginCfg.Burst = cfg.RateLimit.Rate, cfg.RateLimit.Burst
		login := ratelimit.New(loginCfg, ratelimit.ByClientIP)
		poll := ratelimit.New(ratelimit.DefaultPollConfig(), ratelimit.ByQuery("state"))
		app.limiters = append(app.limiters, login, poll)
		loginLimit, pollLimit = login.Middleware(), poll.Middleware()
		middlewares = append(middlewares, loginLimit)
	}

	controllers := []api.APIController{
		systemController,
		api.NewCLIAuthController(log, svc, pollLimit, middlewares...),
	}
	if admin := api.NewAdminController(log, svc, cfg.Admin.Token); admin != nil {
		app.adminEnabled = true
		controllers = append(controllers, admin)
	}
	if err := app.server.RegisterAll(controllers); err != nil {
		return nil, fmt.Errorf("failed to register controllers: %w", err)
	}
	return app, nil
}

func buildService(ctx context.Context, cfg config.Config, app *application, zl *zap.Logger) (*cliauth.Service, error) {
	log := zl.Sugar()
	idp := cfg.IdentityProvider
	httpClient := &http.Client{Timeout: idp.Timeout.Duration}

	endpoints, err := resolveEndpoints(ctx, idp, httpClient)
	if err != nil {
		return nil, err
	}

	exchanger, err := tokenexchange.New(tokenexchange.Config{
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
		RedirectURI:  idp.RedirectURI,
		AuthURL:      endpoints.AuthURL,
		TokenURL:     endpoints.TokenURL,
		Timeout:      idp.Timeout.Duration,
		HTTPClient:   httpClient,
	}, log.Named("tokenexchange"))
	if err != nil {
		return nil, err
	}

	issuer := endpoints.Issuer
	if idp.SkipIssuerCheck {
		issuer = ""
	}
	validator, err := idtoken.New(idtoken.Config{
		JWKSURL:         endpoints.JWKSURL,
		Issuer:          issuer,
		ClientID:        idp.ClientID,
		RefreshInterval: idp.JWKSRefreshInterval.Duration,
		RefreshTimeout:  idp.Timeout.Duration,
		HTTPClient:      httpClient,
	}, log.Named("idtoken"))
	if err != nil {
		return nil, err
	}
	app.validator = validator

	stsClient, err := credentials.NewSTSClient(ctx, cfg.STSRegion(), nil)
	if err != nil {
		return nil, err
	}
	credIssuer, err := credentials.NewIssuer(stsClient, credentials.Config{
		RoleARN:    cfg.STS.RoleARN,
		ExternalID: cfg.STS.ExternalID,
		Duration:   cfg.STS.Duration.Duration,
		Timeout:    cfg.STS.Timeout.Duration,
	}, log.Named("credentials"))
	if err != nil {
		return nil, err
	}

	deps := cliauth.Dependencies{
		Store:     app.store,
		Exchanger: exchanger,
		Validator: app.validator,
		Issuer:    credIssuer,
		Log:       log.Named("cliauth"),
	}
	if cfg.Audit.Enabled {
		sink, err := buildAuditSink(cfg.Audit, zl)
		if err != nil {
			return nil, err
		}
		mcfg := audit.DefaultManagerConfig()
		if cfg.Audit.QueueSize > 0 {
			mcfg.QueueSize = cfg.Audit.QueueSize
		}
		if cfg.Audit.WorkerCount > 0 {
			mcfg.WorkerCount = cfg.Audit.WorkerCount
		}
		app.auditor = audit.NewManager(sink, mcfg, zl.Named("audit"))
		deps.Auditor = app.auditor
	}

	return cliauth.NewService(deps, cliauth.Options{
		StateTTL:   cfg.CLIAuth.StateTTL.Duration,
		PointerTTL: cfg.CLIAuth.PointerTTL.Duration,
		SessionTTL: cfg.CLIAuth.SessionTTL.Duration,
		Policy:     cliauth.IssuancePolicy(cfg.CLIAuth.IssuancePolicy),
	})
}

// resolveEndpoints takes the provider URLs from discovery when enabled and
// from the Cognito conventions otherwise. Explicit JWKSURL and Issuer
// values always win.
func resolveEndpoints(ctx context.Context, idp config.IdentityProvider, httpClient *http.Client) (*tokenexchange.Endpoints, error) {
	issuer := idp.Issuer
	if issuer == "" && idp.Region != "" && idp.UserPoolID != "" {
		issuer = idtoken.CognitoIssuer(idp.Region, idp.UserPoolID)
	}

	var endpoints *tokenexchange.Endpoints
	if idp.Discovery {
		discovered, err := tokenexchange.Discover(ctx, issuer, httpClient)
		if err != nil {
			return nil, err
		}
		endpoints = discovered
	} else {
		authURL, tokenURL := tokenexchange.CognitoEndpoints(idp.Domain)
		endpoints = &tokenexchange.Endpoints{Issuer: issuer, AuthURL: authURL, TokenURL: tokenURL}
		if idp.Region != "" && idp.UserPoolID != "" {
			endpoints.JWKSURL = idtoken.CognitoJWKSURL(idp.Region, idp.UserPoolID)
		}
	}
	if idp.JWKSURL != "" {
		endpoints.JWKSURL = idp.JWKSURL
	}
	return endpoints, nil
}

// buildAuditSink always logs events and adds Kafka when configured.
func buildAuditSink(cfg config.Audit, zl *zap.Logger) (audit.Sink, error) {
	logSink := audit.NewLogSink(zl.Named("audit"))
	if cfg.Kafka == nil {
		return logSink, nil
	}
	kcfg := audit.KafkaSinkConfig{
		Name:             "kafka",
		Brokers:          cfg.Kafka.Brokers,
		Topic:            cfg.Kafka.Topic,
		CompressionCodec: cfg.Kafka.CompressionCodec,
	}
	if t := cfg.Kafka.TLS; t != nil {
		tlsCfg := &audit.KafkaTLSConfig{Enabled: t.Enabled, InsecureSkipVerify: t.InsecureSkipVerify}
		var err error
		if tlsCfg.CACert, err = readOptional(t.CAFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientCert, err = readOptional(t.CertFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientKey, err = readOptional(t.KeyFile); err != nil {
			return nil, err
		}
		kcfg.TLS = tlsCfg
	}
	if s := cfg.Kafka.SASL; s != nil {
		kcfg.SASL = &audit.KafkaSASLConfig{Mechanism: s.Mechanism, Username: s.Username, Password: s.Password}
	}
	kafkaSink, err := audit.NewKafkaSink(kcfg, zl.Named("audit.kafka"))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka audit sink: %w", err)
	}
	return audit.NewMultiSink([]audit.Sink{logSink, kafkaSink}, zl.Named("audit")), nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
