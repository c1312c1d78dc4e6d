package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/goccy/go-json"

	"mediasync/internal/catalog"
	"mediasync/internal/config"
	"mediasync/internal/logging"
	"mediasync/internal/metrics"
	"mediasync/internal/notify"
	"mediasync/internal/schema"
	"mediasync/internal/storage"
	"mediasync/internal/syncer"
	"mediasync/internal/throttle"

	// register every store backend; config picks one.
	_ "mediasync/internal/storage/all"
)

const usage = `usage: mediasync <command> [flags]

commands:
  init       create the cache tables (every command also does this)
  sync       sync one target (-media, -kind, -source, -force)
  sync-all   sync every remote listing of a media kind (-media, -force)
  query      print cached rows as JSON lines (-table, -where col=value)

every command accepts -config <path> and -v.`

// deps are the external seams of the command. main wires the real ones;
// tests replace them.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	LoadConfig     func(path string) (*config.Config, error)
	OpenStore      func(ctx context.Context, cfg storage.Config) (storage.Gateway, error)
	OpenThrottle   func(ctx context.Context, cfg config.ThrottleConfig) (throttle.Store, error)
	NewFetcher     func(cfg config.APIConfig, job string) syncer.Fetcher
	BackendFactory func(ctx context.Context, cfg config.MetricsConfig) (backendCloser, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		LoadConfig:     func(path string) (*config.Config, error) { return config.Load(path) },
		OpenStore:      storage.Open,
		OpenThrottle:   openThrottle,
		NewFetcher:     newFetcher,
		BackendFactory: newBackend,
	})
	stop()
	os.Exit(code)
}

// run executes one command and returns the exit code.
//
// Exit codes:
//   - 0: success (throttled and skipped syncs included).
//   - 1: at least one sync failed.
//   - 2: usage, configuration or initialization error, or an unknown sync target.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if len(args) == 0 || args[0] == "-h" || args[0] == "-help" || args[0] == "help" {
		fmt.Fprintln(d.Stderr, usage)
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return runInit(ctx, rest, d)
	case "sync":
		return runSync(ctx, rest, d)
	case "sync-all":
		return runSyncAll(ctx, rest, d)
	case "query":
		return runQuery(ctx, rest, d)
	default:
		fmt.Fprintf(d.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		return 2
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	ConfigPath string
	Verbose    bool
}

func newFlagSet(name string, c *commonFlags) (*flag.FlagSet, *strings.Builder) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}
	fs.StringVar(&c.ConfigPath, "config", "", "YAML config path (default $"+config.ConfigPathEnvVar+" or ./mediasync.yaml)")
	fs.BoolVar(&c.Verbose, "v", false, "debug logging")
	return fs, &usageBuf
}

func parse(fs *flag.FlagSet, usageBuf *strings.Builder, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errors.New(usageBuf.String())
		}
		return fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return nil
}

// env is the runtime built from the configuration.
type env struct {
	cfg      *config.Config
	store    storage.Gateway
	notifier *notify.Notifier
	closers  []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// setup loads the configuration, configures logging and metrics and opens
// the row store, creating missing tables. The store is wrapped so that every committed mutation is
// logged through the change notifier.
func setup(ctx context.Context, c commonFlags, d deps) (*env, error) {
	cfg, err := d.LoadConfig(c.ConfigPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if c.Verbose {
		level = "debug"
	}
	logging.Init(logging.Config{
		Level:     level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    d.Stderr,
	})

	e := &env{cfg: cfg}

	if d.BackendFactory != nil {
		b, err := d.BackendFactory(ctx, cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("metrics backend %s: %w", cfg.Metrics.Backend, err)
		}
		if b != nil {
			metrics.SetBackend(b)
			e.closers = append(e.closers, func() {
				if err := b.Close(); err != nil {
					logging.Warn().Err(err).Msg("metrics: close")
				}
				metrics.SetBackend(nil)
			})
		}
	}

	gw, err := d.OpenStore(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Kind, err)
	}
	e.closers = append(e.closers, gw.Close)
	if err := gw.EnsureTables(ctx, schema.TableSpecs()); err != nil {
		e.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	e.notifier = notify.New(notify.Options{})
	changes, err := e.notifier.Subscribe(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ch := range changes {
			logging.Info().
				Str("table", ch.Table).
				Str("op", ch.Op).
				Int64("rows", ch.Rows).
				Time("at", ch.At).
				Msg("store changed")
		}
	}()
	e.closers = append(e.closers, func() {
		_ = e.notifier.Close()
		<-done
	})

	e.store = storage.Observe(gw, e.notifier, func(ch storage.Change, err error) {
		logging.Warn().Err(err).Str("table", ch.Table).Str("op", ch.Op).Msg("change notification failed")
	})
	return e, nil
}

// newSyncer adds the throttle store and fetch client to e.
func newSyncer(ctx context.Context, e *env, d deps) (*syncer.Syncer, error) {
	if strings.TrimSpace(e.cfg.API.APIKey) == "" {
		return nil, errors.New("api.api_key is not set (MEDIASYNC_API__API_KEY)")
	}
	cat, err := catalog.Default(e.cfg.API.BaseURL)
	if err != nil {
		return nil, err
	}
	ts, err := d.OpenThrottle(ctx, e.cfg.Throttle)
	if err != nil {
		return nil, fmt.Errorf("open %s throttle store: %w", e.cfg.Throttle.Kind, err)
	}
	gate := throttle.NewGate(ts)
	e.closers = append(e.closers, func() {
		if err := gate.Close(); err != nil {
			logging.Warn().Err(err).Msg("throttle: close")
		}
	})
	fetcher := d.NewFetcher(e.cfg.API, e.cfg.Metrics.Job)
	return syncer.New(cat, gate, fetcher, e.store, syncer.Options{Interval: e.cfg.Sync.Interval}), nil
}

func runInit(ctx context.Context, args []string, d deps) int {
	var c commonFlags
	fs, buf := newFlagSet("init", &c)
	if err := parse(fs, buf, args); err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	e, err := setup(ctx, c, d)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	defer e.Close()

	logging.Info().Str("kind", e.cfg.Storage.Kind).Int("tables", len(schema.All())).Msg("init: tables ready")
	return 0
}

func runSync(ctx context.Context, args []string, d deps) int {
	var (
		c   commonFlags
		req syncer.Request
	)
	fs, buf := newFlagSet("sync", &c)
	fs.Func("media", "movie or tv", func(s string) error { req.Media = catalog.Media(s); return nil })
	fs.Func("kind", "listing, detail, review, trailer or search", func(s string) error { req.Kind = catalog.Kind(s); return nil })
	fs.StringVar(&req.Source, "source", "", "listing name, media id or search query")
	fs.BoolVar(&req.Force, "force", false, "ignore the throttle interval")
	if err := parse(fs, buf, args); err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	if req.Media == "" || req.Kind == "" {
		fmt.Fprintln(d.Stderr, "sync: -media and -kind are required")
		return 2
	}

	e, err := setup(ctx, c, d)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	defer e.Close()
	s, err := newSyncer(ctx, e, d)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}

	res := s.Sync(ctx, req)
	writeResult(d.Stdout, req, res)
	return exitCode(res)
}

func runSyncAll(ctx context.Context, args []string, d deps) int {
	var (
		c     commonFlags
		media string
		force bool
	)
	fs, buf := newFlagSet("sync-all", &c)
	fs.StringVar(&media, "media", "", "movie or tv (empty: both)")
	fs.BoolVar(&force, "force", false, "ignore the throttle interval")
	if err := parse(fs, buf, args); err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	kinds := []catalog.Media{catalog.Movie, catalog.TV}
	switch catalog.Media(media) {
	case "":
	case catalog.Movie, catalog.TV:
		kinds = []catalog.Media{catalog.Media(media)}
	default:
		fmt.Fprintf(d.Stderr, "sync-all: unknown -media %q\n", media)
		return 2
	}

	e, err := setup(ctx, c, d)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	defer e.Close()
	s, err := newSyncer(ctx, e, d)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}

	code := 0
	for _, m := range kinds {
		for _, res := range s.SyncAll(ctx, m, force) {
			writeResult(d.Stdout, syncer.Request{Media: m, Kind: catalog.Listing}, res)
			if rc := exitCode(res); rc > code {
				code = rc
			}
		}
	}
	return code
}

func exitCode(res syncer.Result) int {
	switch {
	case res.OK():
		return 0
	case errors.Is(res.Err, catalog.ErrUnknownTarget):
		return 2
	default:
		return 1
	}
}

type resultLine struct {
	Media    string `json:"media"`
	Kind     string `json:"kind"`
	Key      string `json:"key,omitempty"`
	State    string `json:"state"`
	FailedIn string `json:"failed_in,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Rows     int    `json:"rows"`
	Deleted  int64  `json:"deleted"`
	Inserted int64  `json:"inserted"`
	Updated  int64  `json:"updated"`
	Error    string `json:"error,omitempty"`
	Millis   int64  `json:"duration_ms"`
}

func writeResult(w io.Writer, req syncer.Request, res syncer.Result) {
	line := resultLine{
		Media:    string(req.Media),
		Kind:     string(req.Kind),
		Key:      res.Key,
		State:    res.State.String(),
		Skipped:  res.Skipped,
		Rows:     res.Rows,
		Deleted:  res.Deleted,
		Inserted: res.Inserted,
		Updated:  res.Updated,
		Millis:   res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		line.FailedIn = res.FailedIn.String()
		line.Error = res.Err.Error()
	}
	_ = json.NewEncoder(w).Encode(line)
}

// whereFlag collects repeated -where col=value pairs.
type whereFlag []string

func (w *whereFlag) String() string     { return strings.Join(*w, ",") }
func (w *whereFlag) Set(s string) error { *w = append(*w, s); return nil }

func runQuery(ctx context.Context, args []string, d deps) int {
	var (
		c     commonFlags
		table string
		where whereFlag
	)
	fs, buf := newFlagSet("query", &c)
	fs.StringVar(&table, "table", "", "movie, tv, review or trailer")
	fs.Var(&where, "where", "column=value equality filter (repeatable)")
	if err := parse(fs, buf, args); err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	fam, ok := schema.ByName(table)
	if !ok {
		fmt.Fprintf(d.Stderr, "query: unknown -table %q\n", table)
		return 2
	}
	pred, qargs, err := buildWhere(fam, where)
	if err != nil {
		fmt.Fprintf(d.Stderr, "query: %v\n", err)
		return 2
	}

	e, err := setup(ctx, c, d)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
		return 2
	}
	defer e.Close()

	rows, err := e.store.Query(ctx, fam.Name(), fam.ColumnNames(), pred, qargs)
	if err != nil {
		logging.Error().Err(err).Str("table", fam.Name()).Msg("query failed")
		return 1
	}
	enc := json.NewEncoder(d.Stdout)
	for _, vals := range rows.Values {
		obj := make(map[string]any, len(rows.Columns))
		for i, col := range rows.Columns {
			obj[col] = vals[i]
		}
		if err := enc.Encode(obj); err != nil {
			fmt.Fprintf(d.Stderr, "query: write: %v\n", err)
			return 1
		}
	}
	return 0
}

// buildWhere parses col=value pairs into a predicate, converting each value
// to the column's type.
func buildWhere(fam schema.Family, pairs []string) (storage.Predicate, []any, error) {
	sorted := append([]string(nil), pairs...)
	sort.Strings(sorted)
	cols := make([]string, 0, len(sorted))
	args := make([]any, 0, len(sorted))
	for _, p := range sorted {
		name, raw, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return storage.Predicate{}, nil, fmt.Errorf("bad -where %q, want column=value", p)
		}
		col, ok := fam.Column(name)
		if !ok {
			return storage.Predicate{}, nil, fmt.Errorf("table %s has no column %s", fam.Name(), name)
		}
		var v any = raw
		switch col.Type {
		case schema.Int:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return storage.Predicate{}, nil, fmt.Errorf("%s wants an integer, got %q", name, raw)
			}
			v = n
		case schema.Real:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return storage.Predicate{}, nil, fmt.Errorf("%s wants a number, got %q", name, raw)
			}
			v = f
		}
		cols = append(cols, name)
		args = append(args, v)
	}
	return storage.Where(cols...), args, nil
}
