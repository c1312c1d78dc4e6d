package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"mediasync/internal/config"
	"mediasync/internal/schema"
	"mediasync/internal/storage"
	"mediasync/internal/throttle"
)

// apiServer serves listing payloads for any /3/{media}/{source} path and
// counts the requests it receives.
type apiServer struct {
	*httptest.Server
	hits   atomic.Int64
	status int
	body   string
	keys   chan string
}

func newAPIServer(t *testing.T, status int, body string) *apiServer {
	t.Helper()
	s := &apiServer{status: status, body: body, keys: make(chan string, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		select {
		case s.keys <- r.URL.Query().Get("api_key"):
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		fmt.Fprint(w, s.body)
	}))
	t.Cleanup(s.Close)
	return s
}

// testDeps wires a temp sqlite store, an in-memory throttle store shared
// across runs and the real fetch client pointed at srv.
func testDeps(t *testing.T, srv *apiServer, apiKey string) (deps, *bytes.Buffer) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "media.db")
	ts := throttle.NewMemoryStore()
	stdout := &bytes.Buffer{}

	return deps{
		Stdout: stdout,
		Stderr: &bytes.Buffer{},
		LoadConfig: func(string) (*config.Config, error) {
			cfg := config.Default()
			cfg.API.BaseURL = srv.URL + "/3"
			cfg.API.APIKey = apiKey
			cfg.Storage.DSN = dsn
			cfg.Throttle = config.ThrottleConfig{Kind: "memory"}
			cfg.Logging.Level = "disabled"
			return cfg, nil
		},
		OpenStore: storage.Open,
		OpenThrottle: func(context.Context, config.ThrottleConfig) (throttle.Store, error) {
			return nopCloseStore{ts}, nil
		},
		NewFetcher:     newFetcher,
		BackendFactory: newBackend,
	}, stdout
}

// nopCloseStore keeps the shared memory store usable after a run closes its gate.
type nopCloseStore struct{ throttle.Store }

func (nopCloseStore) Close() error { return nil }

const twoMovies = `{"page":1,"results":[
	{"id":1,"title":"A","original_title":"A","overview":"o","popularity":1,"vote_average":7,"vote_count":3},
	{"id":2,"title":"B","original_title":"B","overview":"o","popularity":2,"vote_average":6,"vote_count":4}
]}`

func mustRun(t *testing.T, d deps, want int, args ...string) {
	t.Helper()
	if code := run(context.Background(), args, d); code != want {
		t.Fatalf("run(%v)=%d, want %d (stderr: %s)", args, code, want, d.Stderr.(*bytes.Buffer).String())
	}
}

func TestRun_Usage(t *testing.T) {
	if code := run(context.Background(), nil, deps{}); code != 2 {
		t.Fatalf("no args: code=%d, want 2", code)
	}
	if code := run(context.Background(), []string{"bogus"}, deps{}); code != 2 {
		t.Fatalf("unknown command: code=%d, want 2", code)
	}
	if code := run(context.Background(), []string{"sync", "-media", "movie"}, deps{}); code != 2 {
		t.Fatalf("missing -kind: code=%d, want 2", code)
	}
}

func TestRun_InitSyncQuery(t *testing.T) {
	srv := newAPIServer(t, http.StatusOK, twoMovies)
	d, stdout := testDeps(t, srv, "secret")

	mustRun(t, d, 0, "init")
	mustRun(t, d, 0, "sync", "-media", "movie", "-kind", "listing", "-source", "popular")

	if got := <-srv.keys; got != "secret" {
		t.Fatalf("api_key=%q, want secret", got)
	}
	out := stdout.String()
	if !strings.Contains(out, `"inserted":2`) || !strings.Contains(out, `"key":"movie_popular_updated"`) {
		t.Fatalf("sync output=%s", out)
	}

	stdout.Reset()
	mustRun(t, d, 0, "query", "-table", schema.MovieTable, "-where", "source=popular")
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("query lines=%d, want 2: %s", len(lines), stdout.String())
	}
	if !strings.Contains(stdout.String(), `"title":"A"`) || !strings.Contains(stdout.String(), `"title":"B"`) {
		t.Fatalf("query output=%s", stdout.String())
	}

	// Second run inside the interval is throttled and does not fetch.
	stdout.Reset()
	mustRun(t, d, 0, "sync", "-media", "movie", "-kind", "listing", "-source", "popular")
	if srv.hits.Load() != 1 {
		t.Fatalf("hits=%d, want 1", srv.hits.Load())
	}
	if !strings.Contains(stdout.String(), `"state":"throttled"`) {
		t.Fatalf("second sync output=%s", stdout.String())
	}
}

func TestRun_SyncCreatesTablesOnFirstRun(t *testing.T) {
	srv := newAPIServer(t, http.StatusOK, twoMovies)
	d, stdout := testDeps(t, srv, "k")

	mustRun(t, d, 0, "sync", "-media", "movie", "-kind", "listing", "-source", "popular")
	if !strings.Contains(stdout.String(), `"inserted":2`) {
		t.Fatalf("sync output=%s", stdout.String())
	}
	stdout.Reset()
	mustRun(t, d, 0, "query", "-table", schema.TVTable)
	if stdout.Len() != 0 {
		t.Fatalf("tv rows=%s, want none", stdout.String())
	}
}

func TestRun_SyncExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		key    string
		args   []string
		want   int
		hits   int64
	}{
		{name: "unknown_target", status: 200, key: "k", args: []string{"-media", "tv", "-kind", "review", "-source", "1"}, want: 2},
		{name: "server_error", status: 500, key: "k", args: []string{"-media", "movie", "-kind", "listing", "-source", "popular"}, want: 1, hits: 1},
		{name: "favorites_never_fetch", status: 200, key: "k", args: []string{"-media", "movie", "-kind", "listing", "-source", "favorite", "-force"}, want: 0},
		{name: "bad_detail_id", status: 200, key: "k", args: []string{"-media", "movie", "-kind", "detail", "-source", "x"}, want: 1},
		{name: "missing_api_key", status: 200, args: []string{"-media", "movie", "-kind", "listing", "-source", "popular"}, want: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newAPIServer(t, tc.status, twoMovies)
			d, _ := testDeps(t, srv, tc.key)
			mustRun(t, d, 0, "init")
			mustRun(t, d, tc.want, append([]string{"sync"}, tc.args...)...)
			if got := srv.hits.Load(); got != tc.hits {
				t.Fatalf("hits=%d, want %d", got, tc.hits)
			}
		})
	}
}

func TestRun_SyncAll(t *testing.T) {
	srv := newAPIServer(t, http.StatusOK, twoMovies)
	d, stdout := testDeps(t, srv, "k")

	mustRun(t, d, 0, "init")
	mustRun(t, d, 0, "sync-all", "-media", "movie")
	if got := srv.hits.Load(); got != 4 {
		t.Fatalf("hits=%d, want one per movie listing (4)", got)
	}
	if n := strings.Count(stdout.String(), "\n"); n != 4 {
		t.Fatalf("result lines=%d, want 4", n)
	}
	mustRun(t, d, 2, "sync-all", "-media", "book")
}

func TestBuildWhere(t *testing.T) {
	t.Parallel()

	pred, args, err := buildWhere(schema.Trailer(), []string{"type=movie", "media_id=7"})
	if err != nil {
		t.Fatalf("buildWhere: %v", err)
	}
	if strings.Join(pred.Columns, ",") != "media_id,type" {
		t.Fatalf("columns=%v, want sorted media_id,type", pred.Columns)
	}
	if args[0] != int64(7) || args[1] != "movie" {
		t.Fatalf("args=%#v, want [7 movie]", args)
	}

	for _, bad := range [][]string{{"nope"}, {"unknown=1"}, {"media_id=abc"}} {
		if _, _, err := buildWhere(schema.Trailer(), bad); err == nil {
			t.Fatalf("buildWhere(%v): want error", bad)
		}
	}
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	b, err := newBackend(context.Background(), config.MetricsConfig{Backend: "none"})
	if err != nil || b != nil {
		t.Fatalf("none: b=%v err=%v, want nil,nil", b, err)
	}
	if _, err := newBackend(context.Background(), config.MetricsConfig{Backend: "statsd"}); err == nil {
		t.Fatalf("statsd: want error")
	}
	b, err = newBackend(context.Background(), config.MetricsConfig{Backend: "pushgateway", Job: "mediasync", PushgatewayURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("pushgateway: %v", err)
	}
	if _, ok := b.(pushCloser); !ok {
		t.Fatalf("pushgateway backend=%T, want pushCloser", b)
	}
}

func TestOpenThrottle(t *testing.T) {
	t.Parallel()

	s, err := openThrottle(context.Background(), config.ThrottleConfig{Kind: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = s.Close()

	s, err = openThrottle(context.Background(), config.ThrottleConfig{Kind: "badger", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("badger: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("badger close: %v", err)
	}

	if _, err := openThrottle(context.Background(), config.ThrottleConfig{Kind: "etcd"}); err == nil {
		t.Fatalf("etcd: want error")
	}
}
