package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCLIAuthMetricsExistAndIncrement(t *testing.T) {
	before := testutil.ToFloat64(CLIAuthStarted)
	CLIAuthStarted.Inc()
	if v := testutil.ToFloat64(CLIAuthStarted); v != before+1 {
		t.Fatalf("expected CLIAuthStarted to grow by 1, got %v -> %v", before, v)
	}

	CLIAuthStatusPolls.WithLabelValues("TEST").Add(2)
	if v := testutil.ToFloat64(CLIAuthStatusPolls.WithLabelValues("TEST")); v < 2 {
		t.Fatalf("expected CLIAuthStatusPolls >= 2, got %v", v)
	}

	TokenExchanges.WithLabelValues("refresh_token", "rejected").Inc()
	if v := testutil.ToFloat64(TokenExchanges.WithLabelValues("refresh_token", "rejected")); v < 1 {
		t.Fatalf("expected TokenExchanges >= 1, got %v", v)
	}
}

func TestAuditSinkErrorsLabelCardinality(t *testing.T) {
	AuditSinkErrors.Reset()
	defer AuditSinkErrors.Reset()
	labels := []string{"kafka", "network"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("AuditSinkErrors panicked with labels %v: %v", labels, r)
		}
	}()

	AuditSinkErrors.WithLabelValues(labels...).Inc()
	if v := testutil.ToFloat64(AuditSinkErrors.WithLabelValues(labels...)); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestMetricsHandlerExposesCLIAuthSeries(t *testing.T) {
	CredentialsIssued.WithLabelValues("status").Inc()

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cliauth_credentials_issued_total") {
		t.Fatalf("metrics output does not contain cliauth_credentials_issued_total")
	}
}
