package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mediasync/internal/metrics"
)

func TestNewBackend_RejectsEmpty(t *testing.T) {
	if _, err := NewBackend("", "http://localhost:9091"); err == nil {
		t.Fatalf("empty job accepted")
	}
	if _, err := NewBackend("mediasync", " "); err == nil {
		t.Fatalf("empty url accepted")
	}
}

func TestCountersAndHistograms(t *testing.T) {
	b, err := NewBackend("mediasync", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.SyncTotal, 1, metrics.Labels{"target": "movie/listing", "state": "recorded"})
	b.IncCounter(metrics.SyncTotal, 2, metrics.Labels{"target": "movie/listing", "state": "recorded"})
	b.IncCounter(metrics.RowsTotal, 0, metrics.Labels{"op": "inserted"})
	b.IncCounter("unknown_total", 1, nil)
	b.ObserveHistogram(metrics.SyncDurationSeconds, 0.2, metrics.Labels{"target": "movie/listing", "state": "recorded"})
	b.ObserveHistogram(metrics.HTTPDownloadBytes, -1, metrics.Labels{"status": "200"})

	got := testutil.ToFloat64(b.counters[metrics.SyncTotal].vec.WithLabelValues("movie/listing", "recorded"))
	if got != 3 {
		t.Fatalf("sync_total=%v, want 3", got)
	}
	if n := testutil.CollectAndCount(b.counters[metrics.RowsTotal].vec); n != 0 {
		t.Fatalf("rows_total series=%d, want 0", n)
	}
	if n := testutil.CollectAndCount(b.hists[metrics.SyncDurationSeconds].vec); n != 1 {
		t.Fatalf("sync duration series=%d, want 1", n)
	}
	if n := testutil.CollectAndCount(b.hists[metrics.HTTPDownloadBytes].vec); n != 0 {
		t.Fatalf("download bytes series=%d, want 0", n)
	}
}

func TestFlush_PushesToGateway(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("mediasync", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	metrics.SetBackend(b)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	metrics.RecordRows("inserted", 20)
	if err := metrics.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method=%s, want PUT", method)
	}
	if path != "/metrics/job/mediasync" {
		t.Fatalf("path=%s", path)
	}
	if body == "" {
		t.Fatalf("empty push body")
	}
}

func TestFlush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("mediasync", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.ChangesTotal, 1, metrics.Labels{"table": "movie"})
	err = b.Flush()
	if err == nil || !strings.Contains(err.Error(), "prompush: push") {
		t.Fatalf("Flush err=%v, want wrapped push error", err)
	}
}
