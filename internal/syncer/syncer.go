// Package syncer runs one remote-to-local synchronization: resolve the
// target, check the throttle, fetch, map and reconcile the rows, then record
// the success.
//
// Any failure is logged with the throttle key and abandons the sync before
// the store or the throttle record change, so the cache degrades to stale
// data and the next trigger retries. Nothing is retried here.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediasync/internal/catalog"
	"mediasync/internal/logging"
	"mediasync/internal/mapper"
	"mediasync/internal/metrics"
	"mediasync/internal/storage"
	"mediasync/internal/throttle"
)

// DefaultInterval is how long a successful sync stays fresh.
const DefaultInterval = 24 * time.Hour

// Fetcher returns the decoded JSON body of endpoint. *fetch.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) (any, error)
}

// Request names one sync. Source is a listing name, a media id or a search query
// depending on Kind.
type Request struct {
	Media  catalog.Media
	Kind   catalog.Kind
	Source string
	Force  bool
}

func (r Request) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Media, r.Kind, r.Source)
}

// Options configures a Syncer.
type Options struct {
	// Interval is the throttle interval. Default DefaultInterval.
	Interval time.Duration
	// Now overrides the clock used for throttle records (tests).
	Now func() time.Time
}

// Syncer wires the catalog, throttle gate, fetcher and store together.
// It is safe for concurrent use.
type Syncer struct {
	catalog  *catalog.Catalog
	gate     *throttle.Gate
	fetcher  Fetcher
	store    storage.Gateway
	interval time.Duration
	now      func() time.Time

	wg sync.WaitGroup
}

// New returns a Syncer. The caller owns every dependency and closes them.
func New(cat *catalog.Catalog, gate *throttle.Gate, fetcher Fetcher, store storage.Gateway, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		catalog:  cat,
		gate:     gate,
		fetcher:  fetcher,
		store:    store,
		interval: opts.Interval,
		now:      opts.Now,
	}
}

// Go runs Sync in a new goroutine and calls done (if non-nil) once with the result.
func (s *Syncer) Go(ctx context.Context, req Request, done func(Result)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.Sync(ctx, req)
		if done != nil {
			done(res)
		}
	}()
}

// Wait blocks until every sync started with Go has called its callback.
func (s *Syncer) Wait() { s.wg.Wait() }

// SyncAll syncs every remote listing source of media, one after another.
func (s *Syncer) SyncAll(ctx context.Context, media catalog.Media, force bool) []Result {
	sources := s.catalog.Sources(media)
	out := make([]Result, 0, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		out = append(out, s.Sync(ctx, Request{Media: media, Kind: catalog.Listing, Source: src, Force: force}))
	}
	return out
}

// Sync runs the pipeline for req and returns its terminal result.
func (s *Syncer) Sync(ctx context.Context, req Request) Result {
	ctx = logging.WithNewCorrelationID(ctx)
	start := time.Now()

	log := logging.Ctx(ctx).With().
		Str("media", string(req.Media)).
		Str("kind", string(req.Kind)).
		Str("source", req.Source).
		Bool("force", req.Force).
		Logger()

	res := s.run(ctx, req, &log)
	res.Duration = time.Since(start)

	metrics.RecordSync(string(req.Media)+"/"+string(req.Kind), res.State.String(), res.Duration)

	ev := log.Info()
	switch {
	case res.State == Error && errors.Is(res.Err, catalog.ErrUnknownTarget):
		ev = log.Error()
	case res.State == Error:
		ev = log.Warn()
	case res.Skipped, res.State == Throttled:
		ev = log.Debug()
	}
	if res.State == Error {
		ev = ev.Str("failed_in", res.FailedIn.String())
	}
	ev.Str("key", res.Key).
		Str("state", res.State.String()).
		Err(res.Err).
		Int("rows", res.Rows).
		Int64("deleted", res.Deleted).
		Int64("inserted", res.Inserted).
		Int64("updated", res.Updated).
		Dur("duration", res.Duration).
		Msg("sync finished")
	return res
}

func (s *Syncer) run(ctx context.Context, req Request, log *zerolog.Logger) Result {
	fail := func(res Result, in State, err error) Result {
		res.State, res.FailedIn, res.Err = Error, in, err
		log.Debug().Str("key", res.Key).Str("failed_in", in.String()).Err(err).Msg("sync aborted")
		return res
	}

	var res Result

	step(log, Resolving)
	r, err := s.catalog.Resolve(req.Media, req.Kind, req.Source)
	if errors.Is(err, catalog.ErrSkipped) {
		res.Skipped = true
		return res
	}
	if err != nil {
		return fail(res, Resolving, err)
	}
	res.Key = r.ThrottleKey

	due, err := s.gate.ShouldSync(ctx, r.ThrottleKey, s.interval, req.Force)
	if err != nil {
		log.Warn().Str("key", r.ThrottleKey).Err(err).Msg("throttle store unreadable, syncing anyway")
	}
	if !due {
		res.State = Throttled
		return res
	}

	step(log, Fetching)
	root, err := s.fetcher.Fetch(ctx, r.Endpoint)
	if err != nil {
		return fail(res, Fetching, err)
	}

	step(log, Parsing)
	fam := r.Target.Family
	mode := mapper.Lenient
	local := r.Local
	if r.Target.Reconcile == catalog.UpdateByID {
		mode, local = mapper.Strict, nil
	}
	rows, err := mapper.Map(root, fam, local, mode)
	if err != nil {
		return fail(res, Parsing, err)
	}
	res.Rows = len(rows)
	if len(rows) == 0 {
		// Nothing to store; the throttle is not advanced either.
		return res
	}
	cols := mapper.Columns(fam, mode)
	if mode == mapper.Strict {
		if err := checkTargeted(cols, rows, r.Predicate, r.Args); err != nil {
			return fail(res, Parsing, err)
		}
	}

	step(log, Reconciling)
	switch r.Target.Reconcile {
	case catalog.ReplacePartition:
		del, ins, err := s.store.ReplacePartition(ctx, fam.Name(), r.Predicate, r.Args, cols, rows)
		if err != nil {
			return fail(res, Reconciling, err)
		}
		res.Deleted, res.Inserted = del, ins
	case catalog.UpdateByID:
		n, err := s.store.Update(ctx, fam.Name(), cols, rows[0], r.Predicate, r.Args)
		if err != nil {
			return fail(res, Reconciling, err)
		}
		res.Updated = n
	default:
		return fail(res, Reconciling, fmt.Errorf("syncer: unsupported reconcile policy %s", r.Target.Reconcile))
	}
	metrics.RecordRows("deleted", res.Deleted)
	metrics.RecordRows("inserted", res.Inserted)
	metrics.RecordRows("updated", res.Updated)

	step(log, Recording)
	if err := s.gate.RecordSuccess(ctx, r.ThrottleKey, s.now()); err != nil {
		return fail(res, Recording, err)
	}
	return res
}

// ErrOffTarget reports an update payload that does not describe the
// requested row.
var ErrOffTarget = errors.New("syncer: payload does not match the requested row")

// checkTargeted requires exactly one row whose predicate columns hold args.
// The update is then a single statement, so it commits on its own.
func checkTargeted(cols []string, rows []mapper.Row, pred storage.Predicate, args []any) error {
	if len(rows) != 1 {
		return fmt.Errorf("%w: %d rows, want 1", ErrOffTarget, len(rows))
	}
	if len(pred.Columns) == 0 || len(pred.Columns) != len(args) {
		return fmt.Errorf("%w: update needs a bound id predicate", ErrOffTarget)
	}
	for i, c := range pred.Columns {
		idx := -1
		for j, name := range cols {
			if name == c {
				idx = j
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: no %s column", ErrOffTarget, c)
		}
		if got := rows[0][idx]; got != args[i] {
			return fmt.Errorf("%w: %s=%v, want %v", ErrOffTarget, c, got, args[i])
		}
	}
	return nil
}

func step(log *zerolog.Logger, st State) {
	log.Trace().Str("state", st.String()).Msg("sync step")
}
