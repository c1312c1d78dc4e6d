package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestFetch_AddsKeyAndPreservesNumbers(t *testing.T) {
	t.Parallel()

	var gotKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("api_key")
		gotQuery = r.URL.Query().Get("query")
		_, _ = w.Write([]byte(`{"results":[{"id":9007199254740993,"vote_average":7.5}]}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "secret"})
	v, err := c.Fetch(context.Background(), srv.URL+"/search/movie?query=star+wars")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotKey != "secret" || gotQuery != "star wars" {
		t.Fatalf("api_key=%q query=%q", gotKey, gotQuery)
	}

	root, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("root=%T, want object", v)
	}
	el := root["results"].([]any)[0].(map[string]any)
	if n, ok := el["id"].(json.Number); !ok || n.String() != "9007199254740993" {
		t.Fatalf("id=%#v, want json.Number 9007199254740993", el["id"])
	}
}

func TestFetch_TypedErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "http_error_truncates_body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
			},
			check: func(t *testing.T, err error) {
				var he *HTTPError
				if !errors.As(err, &he) || he.Status != 401 {
					t.Fatalf("err=%v, want HTTPError 401", err)
				}
				if len(he.Body) != errBodyPrefix+3 {
					t.Fatalf("body len=%d, want %d", len(he.Body), errBodyPrefix+3)
				}
			},
		},
		{
			name: "decode_error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"results": [`))
			},
			check: func(t *testing.T, err error) {
				var de *DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("err=%v, want DecodeError", err)
				}
			},
		},
		{
			name: "empty_body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			check: func(t *testing.T, err error) {
				var de *DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("err=%v, want DecodeError", err)
				}
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := New(Options{}).Fetch(context.Background(), srv.URL+"/movie/popular")
			tc.check(t, err)
		})
	}
}

func TestFetch_NetworkErrorDoesNotLeakKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL + "/movie/popular"
	srv.Close()

	_, err := New(Options{APIKey: "topsecret", Timeout: time.Second}).Fetch(context.Background(), endpoint)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err=%v, want NetworkError", err)
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

func TestFetch_CanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{RatePerSecond: 1}).Fetch(ctx, srv.URL)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err=%v, want NetworkError", err)
	}
}

func TestFetch_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Options{Breaker: BreakerConfig{Enabled: true, FailureThreshold: 2, OpenFor: time.Hour}})
	for i := 0; i < 2; i++ {
		var he *HTTPError
		if _, err := c.Fetch(context.Background(), srv.URL); !errors.As(err, &he) {
			t.Fatalf("call %d err=%v, want HTTPError", i, err)
		}
	}
	_, err := c.Fetch(context.Background(), srv.URL)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err=%v, want NetworkError from open breaker", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits=%d, want 2", hits.Load())
	}
}

func TestFetch_ClientErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Options{Breaker: BreakerConfig{Enabled: true, FailureThreshold: 1, OpenFor: time.Hour}})
	for i := 0; i < 3; i++ {
		var he *HTTPError
		if _, err := c.Fetch(context.Background(), srv.URL); !errors.As(err, &he) || he.Status != 404 {
			t.Fatalf("call %d err=%v, want HTTPError 404", i, err)
		}
	}
}
