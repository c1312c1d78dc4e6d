// Package fetch performs authenticated GET requests against the remote
// catalog and decodes the JSON body.
//
// Fetch never retries. A failed request surfaces as one of three typed errors
// (NetworkError, HTTPError, DecodeError) and the caller decides what to do.
// The API key is added here, so endpoints, logs and error messages never
// carry it.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"mediasync/internal/logging"
	"mediasync/internal/metrics"
)

const (
	// DefaultKeyParam is the query parameter carrying the API key.
	DefaultKeyParam = "api_key"

	maxBodyBytes  = 32 << 20
	errBodyPrefix = 512
)

// BreakerConfig enables a circuit breaker in front of the transport.
// Only network failures and 5xx responses count towards tripping it.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	// OpenFor is how long the breaker stays open before probing again.
	OpenFor time.Duration
}

// Options configures a Client.
type Options struct {
	APIKey   string
	KeyParam string

	Timeout         time.Duration
	MaxConnsPerHost int

	// RatePerSecond paces requests with a token bucket. Zero disables pacing.
	RatePerSecond float64
	Burst         int

	Breaker BreakerConfig

	// Job labels HTTP metrics.
	Job string

	// HTTPClient overrides the transport built from Timeout/MaxConnsPerHost.
	HTTPClient *http.Client
}

// Client fetches and decodes remote JSON.
type Client struct {
	http     *http.Client
	apiKey   string
	keyParam string
	job      string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
}

func newHTTPClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			MaxConnsPerHost:     maxConnsPerHost,
		},
	}
}

// New builds a Client.
func New(opts Options) *Client {
	c := &Client{
		http:     opts.HTTPClient,
		apiKey:   opts.APIKey,
		keyParam: opts.KeyParam,
		job:      opts.Job,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.http = newHTTPClient(timeout, opts.MaxConnsPerHost)
	}
	if c.keyParam == "" {
		c.keyParam = DefaultKeyParam
	}
	if c.job == "" {
		c.job = "mediasync"
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	if opts.Breaker.Enabled {
		c.breaker = newBreaker(opts.Breaker)
	}
	return c
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[[]byte] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "remote-catalog",
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var he *HTTPError
			if errors.As(err, &he) {
				return he.Status < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// Fetch GETs endpoint (plus the API key) and decodes the body.
//
// Numbers decode as json.Number so integer ids survive unchanged.
func (c *Client) Fetch(ctx context.Context, endpoint string) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{URL: endpoint, Err: err}
		}
	}

	var (
		body []byte
		err  error
	)
	if c.breaker != nil {
		body, err = c.breaker.Execute(func() ([]byte, error) { return c.get(ctx, endpoint) })
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &NetworkError{URL: endpoint, Err: err}
		}
	} else {
		body, err = c.get(ctx, endpoint)
	}
	if err != nil {
		return nil, err
	}
	return decode(endpoint, body)
}

func (c *Client) withKey(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set(c.keyParam, c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	start := time.Now()
	reqDur, respDur := time.Duration(-1), time.Duration(-1)
	status, size := 0, int64(-1)
	var err error
	defer func() {
		metrics.RecordHTTP(c.job, status, err, reqDur, respDur, size)
		logging.Ctx(ctx).Debug().
			Str("stage", "fetch").
			Str("endpoint", endpoint).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int64("size_bytes", size).
			AnErr("error", err).
			Msg("remote request")
	}()

	target, err := c.withKey(endpoint)
	if err != nil {
		err = &NetworkError{URL: endpoint, Err: err}
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		err = &NetworkError{URL: endpoint, Err: err}
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		err = &NetworkError{URL: endpoint, Err: redact(err)}
		return nil, err
	}
	defer resp.Body.Close()
	reqDur = time.Since(start)
	status = resp.StatusCode

	body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	respDur = time.Since(start)
	size = int64(len(body))
	if rerr != nil {
		err = &NetworkError{URL: endpoint, Err: redact(rerr)}
		return nil, err
	}
	if status < 200 || status > 299 {
		err = &HTTPError{URL: endpoint, Status: status, Body: truncate(body, errBodyPrefix)}
		return nil, err
	}
	return body, nil
}

// redact drops the *url.Error wrapper, whose message repeats the URL including the key.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

func decode(endpoint string, body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &DecodeError{URL: endpoint, Err: errors.New("empty body")}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{URL: endpoint, Err: err}
	}
	return v, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
