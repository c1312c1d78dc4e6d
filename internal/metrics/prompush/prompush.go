// Package prompush implements a metrics.Backend that pushes to a Prometheus Pushgateway.
//
// Observations go into a private registry; Flush pushes the whole registry
// under the configured job, replacing the previous push for that job.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"mediasync/internal/metrics"
)

// Backend implements metrics.Backend.
type Backend struct {
	reg      *prometheus.Registry
	pusher   *push.Pusher
	counters map[string]counter
	hists    map[string]histogram
}

type counter struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogram struct {
	vec    *prometheus.HistogramVec
	labels []string
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend registers the mediasync collectors and targets gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("prompush: empty job name")
	}
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}

	b := &Backend{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]counter),
		hists:    make(map[string]histogram),
	}

	syncLabels := []string{"target", "state"}
	httpLabels := []string{"status"}

	b.addCounter(metrics.SyncTotal, "Finished syncs by target and final state.", syncLabels)
	b.addCounter(metrics.RowsTotal, "Rows touched in the local store by operation.", []string{"op"})
	b.addCounter(metrics.ChangesTotal, "Change notifications published by table.", []string{"table"})
	b.addCounter(metrics.HTTPRequestsTotal, "Remote API requests by status.", httpLabels)
	b.addCounter(metrics.HTTPErrorsTotal, "Failed remote API requests by status.", httpLabels)

	b.addHistogram(metrics.SyncDurationSeconds, "Sync duration in seconds.", prometheus.DefBuckets, syncLabels)
	b.addHistogram(metrics.HTTPRequestDurationSeconds, "Time to response headers in seconds.", prometheus.DefBuckets, httpLabels)
	b.addHistogram(metrics.HTTPResponseDurationSeconds, "Time to read the response body in seconds.", prometheus.DefBuckets, httpLabels)
	b.addHistogram(metrics.HTTPDownloadBytes, "Response body size in bytes.", prometheus.ExponentialBuckets(256, 4, 8), httpLabels)

	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

func (b *Backend) addCounter(name, help string, labels []string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	b.reg.MustRegister(vec)
	b.counters[name] = counter{vec: vec, labels: labels}
}

func (b *Backend) addHistogram(name, help string, buckets []float64, labels []string) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	b.reg.MustRegister(vec)
	b.hists[name] = histogram{vec: vec, labels: labels}
}

func values(names []string, l metrics.Labels) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = l[n]
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown names and non-positive deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	c, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	c.vec.WithLabelValues(values(c.labels, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names and negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	h, ok := b.hists[name]
	if !ok || value < 0 {
		return
	}
	h.vec.WithLabelValues(values(h.labels, labels)...).Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
