package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := newTestServer(t, &fakeRunner{response: "ok"}, &fakeIngestor{chunks: 3})
	s.metrics = newServerMetrics(reg)
	return s, reg
}

// counterValue returns the value of the named counter with the given label
// pair, or -1 when absent.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatOutcomeCounted(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	w := httptest.NewRecorder()
	s.handleChat(w, postJSON("/api/chat", `{"user_message":"hi","user_id":"alice"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d", w.Code)
	}

	got := counterValue(t, reg, "queryagent_chat_requests_total", "outcome", "ok")
	if got != 1 {
		t.Errorf("queryagent_chat_requests_total{outcome=\"ok\"}: want 1, got %v", got)
	}
}

func Test_Metrics_IngestChunksCounted(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	w := httptest.NewRecorder()
	s.handleIngest(w, postJSON("/api/ingest", `{"document_text":"doc","user_id":"bob"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d", w.Code)
	}

	if got := counterValue(t, reg, "queryagent_ingest_chunks_total", "", ""); got != 3 {
		t.Errorf("queryagent_ingest_chunks_total: want 3, got %v", got)
	}
	if got := counterValue(t, reg, "queryagent_ingest_requests_total", "outcome", "ok"); got != 1 {
		t.Errorf("queryagent_ingest_requests_total{outcome=\"ok\"}: want 1, got %v", got)
	}
}

func Test_Metrics_HTTPMiddlewareCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := newServerMetrics(reg)
	h := m.middleware(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := counterValue(t, reg, "queryagent_http_requests_total", "code", "200")
	if got != 1 {
		t.Errorf("queryagent_http_requests_total{code=\"200\"}: want 1, got %v", got)
	}
}
