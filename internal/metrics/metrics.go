// Package metrics is a small facade over a pluggable metrics backend.
//
// Callers record through the package-level helpers (RecordSync, RecordRows,
// RecordChange, RecordHTTP). A process installs a concrete backend once at
// startup with SetBackend; until then every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names. Backends switch on these; names follow Prometheus conventions
// and are translated by backends that use a different scheme.
const (
	SyncTotal           = "mediasync_sync_total"
	SyncDurationSeconds = "mediasync_sync_duration_seconds"
	RowsTotal           = "mediasync_rows_total"
	ChangesTotal        = "mediasync_changes_total"

	HTTPRequestsTotal           = "mediasync_http_requests_total"
	HTTPErrorsTotal             = "mediasync_http_errors_total"
	HTTPRequestDurationSeconds  = "mediasync_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "mediasync_http_response_duration_seconds"
	HTTPDownloadBytes           = "mediasync_http_download_bytes"
)

// Labels are the dimensions attached to one observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks the current backend to push buffered observations.
func Flush() error { return current().Flush() }

// RecordSync counts one finished sync of target ending in state and observes its duration.
func RecordSync(target, state string, d time.Duration) {
	l := Labels{"target": target, "state": state}
	b := current()
	b.IncCounter(SyncTotal, 1, l)
	b.ObserveHistogram(SyncDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows touched by a store operation (deleted, inserted, updated).
func RecordRows(op string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"op": op})
}

// RecordChange counts one published change notification for table.
func RecordChange(table string) {
	current().IncCounter(ChangesTotal, 1, Labels{"table": table})
}

// RecordHTTP records one remote request attempt.
//
// status 0 means no response was received. Durations and size are skipped
// when negative.
func RecordHTTP(job string, status int, err error, reqDur, respDur time.Duration, bytes int64) {
	st := "error"
	if status > 0 {
		st = strconv.Itoa(status)
	}
	l := Labels{"job": job, "status": st}
	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status == 0 || status >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if reqDur >= 0 {
		b.ObserveHistogram(HTTPRequestDurationSeconds, reqDur.Seconds(), l)
	}
	if respDur >= 0 {
		b.ObserveHistogram(HTTPResponseDurationSeconds, respDur.Seconds(), l)
	}
	if bytes >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
