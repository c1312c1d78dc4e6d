// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Observations are buffered in memory and submitted on a ticker (default once
// per minute) and once more on Close, so a long sync-all run produces a time
// series rather than a single spike at exit.
//
// Concurrency model:
//   - sync goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits out of lock
//   - the flush loop calls Flush periodically; Close stops the loop
//
// Histograms are reported as nearest-rank percentile gauges (p50, p90, p95,
// p99, max, samples) per tag set.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"mediasync/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Series names submitted to Datadog.
const (
	seriesSyncTotal    = "mediasync.sync.total"
	seriesSyncDuration = "mediasync.sync.duration_seconds"
	seriesRowsTotal    = "mediasync.rows.total"
	seriesChangesTotal = "mediasync.changes.total"
	seriesHTTPRequests = "mediasync.http.requests.total"
	seriesHTTPErrors   = "mediasync.http.errors.total"
	seriesHTTPReqDur   = "mediasync.http.request_duration_seconds"
	seriesHTTPRespDur  = "mediasync.http.response_duration_seconds"
	seriesHTTPBytes    = "mediasync.http.download_bytes"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "mediasync".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"service:mediasync"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the subset of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// buffers holds one collection window.
type buffers struct {
	syncCounts   map[string]float64 // target\x00state
	syncDur      map[string][]float64
	rowCounts    map[string]float64 // op
	changeCounts map[string]float64 // table

	httpReqCounts map[string]float64 // status
	httpErrCounts map[string]float64
	httpReqDur    map[string][]float64
	httpRespDur   map[string][]float64
	httpBytes     map[string][]float64
}

func newBuffers() buffers {
	return buffers{
		syncCounts:    make(map[string]float64),
		syncDur:       make(map[string][]float64),
		rowCounts:     make(map[string]float64),
		changeCounts:  make(map[string]float64),
		httpReqCounts: make(map[string]float64),
		httpErrCounts: make(map[string]float64),
		httpReqDur:    make(map[string][]float64),
		httpRespDur:   make(map[string][]float64),
		httpBytes:     make(map[string][]float64),
	}
}

func (s buffers) isEmpty() bool {
	return len(s.syncCounts) == 0 &&
		len(s.syncDur) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.changeCounts) == 0 &&
		len(s.httpReqCounts) == 0 &&
		len(s.httpErrCounts) == 0 &&
		len(s.httpReqDur) == 0 &&
		len(s.httpRespDur) == 0 &&
		len(s.httpBytes) == 0
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffers
}

var _ metrics.Backend = (*Backend)(nil)

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend and starts its flush loop.
//
// Credentials and site come from the standard DD_API_KEY / DD_SITE
// environment variables read by the Datadog client. Network errors surface
// from Flush, not from construction.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = "mediasync"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newBuffers(),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. It is safe to call more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	return b.Flush()
}

func statusOf(labels metrics.Labels) string {
	if s := labels["status"]; s != "" {
		return s
	}
	return "unknown"
}

// IncCounter implements metrics.Backend. Unknown names and non-positive deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.SyncTotal:
		b.buf.syncCounts[pairKey(labels["target"], labels["state"])] += delta
	case metrics.RowsTotal:
		if op := labels["op"]; op != "" {
			b.buf.rowCounts[op] += delta
		}
	case metrics.ChangesTotal:
		if table := labels["table"]; table != "" {
			b.buf.changeCounts[table] += delta
		}
	case metrics.HTTPRequestsTotal:
		b.buf.httpReqCounts[statusOf(labels)] += delta
	case metrics.HTTPErrorsTotal:
		b.buf.httpErrCounts[statusOf(labels)] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var m map[string][]float64
	k := statusOf(labels)
	switch name {
	case metrics.SyncDurationSeconds:
		m, k = b.buf.syncDur, pairKey(labels["target"], labels["state"])
	case metrics.HTTPRequestDurationSeconds:
		m = b.buf.httpReqDur
	case metrics.HTTPResponseDurationSeconds:
		m = b.buf.httpRespDur
	case metrics.HTTPDownloadBytes:
		m = b.buf.httpBytes
	default:
		return
	}
	m[k] = append(m[k], value)
}

func (b *Backend) snapshotAndReset() buffers {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf
	b.buf = newBuffers()
	return s
}

// Flush submits buffered metrics and resets local buffers. Buffers are reset
// even when submission fails; delivery is at most once.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

func (b *Backend) buildSeries(s buffers, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.syncCounts)+len(s.rowCounts)+64)

	for k, v := range s.syncCounts {
		series = append(series, countSeries(seriesSyncTotal, v, b.syncTags(k), nowUnix))
	}
	for k, samples := range s.syncDur {
		addPercentiles(&series, seriesSyncDuration, b.syncTags(k), samples, nowUnix)
	}
	for op, v := range s.rowCounts {
		series = append(series, countSeries(seriesRowsTotal, v, withTags(b.baseTags, "op:"+op), nowUnix))
	}
	for table, v := range s.changeCounts {
		series = append(series, countSeries(seriesChangesTotal, v, withTags(b.baseTags, "table:"+table), nowUnix))
	}

	for status, v := range s.httpReqCounts {
		series = append(series, countSeries(seriesHTTPRequests, v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for status, v := range s.httpErrCounts {
		series = append(series, countSeries(seriesHTTPErrors, v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for status, samples := range s.httpReqDur {
		addPercentiles(&series, seriesHTTPReqDur, withTags(b.baseTags, "status:"+status), samples, nowUnix)
	}
	for status, samples := range s.httpRespDur {
		addPercentiles(&series, seriesHTTPRespDur, withTags(b.baseTags, "status:"+status), samples, nowUnix)
	}
	for status, samples := range s.httpBytes {
		addPercentiles(&series, seriesHTTPBytes, withTags(b.baseTags, "status:"+status), samples, nowUnix)
	}
	return series
}

func (b *Backend) syncTags(k string) []string {
	target, state := splitPairKey(k)
	return withTags(b.baseTags, "target:"+target, "state:"+state)
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// It sorts a copy; samples is not modified.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, tags []string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

func splitPairKey(k string) (string, string) {
	a, b, ok := strings.Cut(k, "\x00")
	if !ok {
		return k, "unknown"
	}
	return a, b
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,service:mediasync".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
