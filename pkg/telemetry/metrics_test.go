package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	m := New()
	m.MempoolSize.Set(42)
	m.ViolationsTotal.WithLabelValues("missed_ping").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "qnet_mempool_size 42") {
		t.Fatalf("expected mempool size gauge in output, got:\n%s", body)
	}
	if !strings.Contains(body, `qnet_lifecycle_violations_total{type="missed_ping"} 1`) {
		t.Fatalf("expected violations counter in output, got:\n%s", body)
	}
}

func TestTwoInstancesRegisterIndependently(t *testing.T) {
	a := New()
	b := New()

	a.MempoolSize.Set(1)
	b.MempoolSize.Set(7)

	reqA := httptest.NewRequest("GET", "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, reqA)

	reqB := httptest.NewRequest("GET", "/metrics", nil)
	recB := httptest.NewRecorder()
	b.Handler().ServeHTTP(recB, reqB)

	if !strings.Contains(recA.Body.String(), "qnet_mempool_size 1") {
		t.Fatalf("expected instance a to report its own gauge value")
	}
	if !strings.Contains(recB.Body.String(), "qnet_mempool_size 7") {
		t.Fatalf("expected instance b to report its own gauge value")
	}
}
