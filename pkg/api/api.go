package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/config"
	"github.com/telekom/cli-auth-broker/pkg/system"
	"github.com/telekom/cli-auth-broker/pkg/telemetry"
)

// sensitiveQueryPaths are left out of the access log.
var sensitiveQueryPaths = []string{"/auth/cli/callback", "/auth/cli/status"}

// maxBodyBytes bounds request bodies. Every JSON body the broker accepts is tiny.
const maxBodyBytes = 64 << 10

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin    *gin.Engine
	http   *http.Server
	config config.Config
	log    *zap.SugaredLogger
}

func NewServer(log *zap.Logger, cfg config.Config, debug bool) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}
	engine.Use(
		ginzap.GinzapWithConfig(log, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			// the access log records raw query strings, which carry login
			// state and authorization codes on these routes
			SkipPaths: append([]string{"/healthz", "/readyz", "/metrics"}, sensitiveQueryPaths...),
			Context: func(c *gin.Context) []zap.Field {
				return []zap.Field{zap.String("requestId", system.GetRequestID(c))}
			},
		}),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
		telemetry.Middleware(),
		limitBody(maxBodyBytes),
	)

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: []string{"http://localhost:5173", "http://127.0.0.1:8080"},
				AllowMethods: []string{"GET", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type", system.RequestIDHeader},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "NOT_FOUND"})
	})

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    log.Sugar(),
	}
	s.http = &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
	}
	return s, nil
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("/")
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Listen() error {
	s.log.Infow("HTTP server listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
