package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CLI login handshake metrics
	CLIAuthStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cliauth_start_total",
		Help: "Total number of CLI login flows started",
	})
	CLIAuthCallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_callback_total",
		Help: "Total number of provider callbacks handled, by result",
	}, []string{"result"})
	CLIAuthStatusPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_status_polls_total",
		Help: "Total number of status polls, by returned status",
	}, []string{"status"})
	CLIAuthRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_renew_total",
		Help: "Total number of credential renewals, by result",
	}, []string{"result"})
	CLIAuthOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cliauth_operation_duration_seconds",
		Help:    "Latency of CLI auth operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Upstream calls
	TokenExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_token_exchange_total",
		Help: "Token endpoint calls, by grant type and result",
	}, []string{"grant", "result"})
	TokenValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_token_validation_failures_total",
		Help: "ID token validation failures, by reason",
	}, []string{"reason"})
	CredentialsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_credentials_issued_total",
		Help: "Role credentials issued, by operation (status or renew)",
	}, []string{"operation"})
	CredentialIssueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_credential_issue_failures_total",
		Help: "AssumeRole failures, by operation",
	}, []string{"operation"})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_store_errors_total",
		Help: "State store backend failures, by operation",
	}, []string{"op"})

	// Rate limiting
	RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_ratelimit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"limiter"})

	// Audit pipeline
	AuditEventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cliauth_audit_events_processed_total",
		Help: "Audit events written to sinks",
	})
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cliauth_audit_events_dropped_total",
		Help: "Audit events dropped because the queue was full",
	})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cliauth_audit_sink_errors_total",
		Help: "Audit sink write failures, by sink and error type",
	}, []string{"sink", "error_type"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cliauth_audit_sink_latency_seconds",
		Help:    "Audit sink write latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditSinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cliauth_audit_sink_connected",
		Help: "1 when the audit sink last wrote successfully",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(CLIAuthStarted)
	prometheus.MustRegister(CLIAuthCallbacks)
	prometheus.MustRegister(CLIAuthStatusPolls)
	prometheus.MustRegister(CLIAuthRenewals)
	prometheus.MustRegister(CLIAuthOperationDuration)
	prometheus.MustRegister(TokenExchanges)
	prometheus.MustRegister(TokenValidationFailures)
	prometheus.MustRegister(CredentialsIssued)
	prometheus.MustRegister(CredentialIssueFailures)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(RateLimitRejections)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditSinkConnected)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
