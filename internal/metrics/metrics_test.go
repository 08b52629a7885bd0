package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestLedgerObserveApply(t *testing.T) {
	reg := NewRegistry()
	m := NewLedger(reg)

	m.ObserveApply("deposit", "ok", 3*time.Millisecond)
	m.ObserveApply("deposit", "ok", time.Millisecond)
	m.ObserveApply("withdrawal", "insufficient_funds", time.Millisecond)

	body := render(t, reg)
	require.Contains(t, body, `ledger_transactions_total{outcome="ok",type="deposit"} 2`)
	require.Contains(t, body, `ledger_transactions_total{outcome="insufficient_funds",type="withdrawal"} 1`)
	require.Contains(t, body, `ledger_apply_duration_seconds_count{type="deposit"} 2`)
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var l *Ledger
	var h *HTTP
	l.ObserveApply("deposit", "ok", time.Second)
	h.Observe("GET", "/", "200", time.Second)
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	NewHTTP(reg).Observe("POST", "/api/v1/transactions", "201", 10*time.Millisecond)

	body := render(t, reg)
	require.Contains(t, body, `http_requests_total{method="POST",route="/api/v1/transactions",status="201"} 1`)
	require.Contains(t, body, "go_goroutines")
}
