package catalog

import (
	"errors"
	"reflect"
	"testing"

	"mediasync/internal/schema"
)

const testBase = "https://api.example.test/3"

func mustDefault(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default(testBase)
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return c
}

func TestResolve_DefaultTargets(t *testing.T) {
	t.Parallel()
	c := mustDefault(t)

	tests := []struct {
		name        string
		media       Media
		kind        Kind
		source      string
		endpoint    string
		local       []any
		predicate   []string
		args        []any
		throttleKey string
		family      string
		reconcile   Reconcile
	}{
		{
			name: "movie_popular", media: Movie, kind: Listing, source: SourcePopular,
			endpoint:    testBase + "/movie/popular",
			local:       []any{"popular"},
			predicate:   []string{"source"},
			args:        []any{"popular"},
			throttleKey: "movie_popular_updated",
			family:      schema.MovieTable,
			reconcile:   ReplacePartition,
		},
		{
			name: "tv_airing_today", media: TV, kind: Listing, source: SourceAiringToday,
			endpoint:    testBase + "/tv/airing_today",
			local:       []any{"airing_today"},
			predicate:   []string{"source"},
			args:        []any{"airing_today"},
			throttleKey: "tv_airing_today_updated",
			family:      schema.TVTable,
			reconcile:   ReplacePartition,
		},
		{
			name: "movie_detail", media: Movie, kind: Detail, source: "550",
			endpoint:    testBase + "/movie/550",
			local:       []any{},
			predicate:   []string{"media_id"},
			args:        []any{int64(550)},
			throttleKey: "movie_550_updated",
			family:      schema.MovieTable,
			reconcile:   UpdateByID,
		},
		{
			name: "movie_reviews", media: Movie, kind: Review, source: "550",
			endpoint:    testBase + "/movie/550/reviews",
			local:       []any{int64(550)},
			predicate:   []string{"media_id"},
			args:        []any{int64(550)},
			throttleKey: "review_550_updated",
			family:      schema.ReviewTable,
			reconcile:   ReplacePartition,
		},
		{
			name: "tv_trailers", media: TV, kind: Trailer, source: "1399",
			endpoint:    testBase + "/tv/1399/videos",
			local:       []any{int64(1399), "tv"},
			predicate:   []string{"media_id", "type"},
			args:        []any{int64(1399), "tv"},
			throttleKey: "tv_trailer_1399_updated",
			family:      schema.TrailerTable,
			reconcile:   ReplacePartition,
		},
		{
			name: "movie_search", media: Movie, kind: Search, source: "star wars",
			endpoint:    testBase + "/search/movie?query=star+wars",
			local:       []any{"search"},
			predicate:   []string{"source"},
			args:        []any{"search"},
			throttleKey: "movie_star wars_updated",
			family:      schema.MovieTable,
			reconcile:   ReplacePartition,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := c.Resolve(tc.media, tc.kind, tc.source)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if r.Endpoint != tc.endpoint {
				t.Fatalf("Endpoint=%q, want %q", r.Endpoint, tc.endpoint)
			}
			if !reflect.DeepEqual(r.Local, tc.local) {
				t.Fatalf("Local=%#v, want %#v", r.Local, tc.local)
			}
			if !reflect.DeepEqual(r.Predicate.Columns, tc.predicate) {
				t.Fatalf("Predicate=%v, want %v", r.Predicate.Columns, tc.predicate)
			}
			if !reflect.DeepEqual(r.Args, tc.args) {
				t.Fatalf("Args=%#v, want %#v", r.Args, tc.args)
			}
			if r.ThrottleKey != tc.throttleKey {
				t.Fatalf("ThrottleKey=%q, want %q", r.ThrottleKey, tc.throttleKey)
			}
			if r.Target.Family.Name() != tc.family {
				t.Fatalf("Family=%q, want %q", r.Target.Family.Name(), tc.family)
			}
			if r.Target.Reconcile != tc.reconcile {
				t.Fatalf("Reconcile=%v, want %v", r.Target.Reconcile, tc.reconcile)
			}
		})
	}
}

func TestResolve_SkippedAndUnknown(t *testing.T) {
	t.Parallel()
	c := mustDefault(t)

	tests := []struct {
		name   string
		media  Media
		kind   Kind
		source string
		want   error
	}{
		{name: "movie_favorite", media: Movie, kind: Listing, source: SourceFavorite, want: ErrSkipped},
		{name: "tv_favorite", media: TV, kind: Listing, source: SourceFavorite, want: ErrSkipped},
		{name: "search_via_listing", media: Movie, kind: Listing, source: SourceSearch, want: ErrSkipped},
		{name: "unknown_listing", media: Movie, kind: Listing, source: "trending", want: ErrUnknownTarget},
		{name: "tv_reviews", media: TV, kind: Review, source: "1", want: ErrUnknownTarget},
		{name: "tv_upcoming", media: TV, kind: Listing, source: SourceUpcoming, want: ErrUnknownTarget},
		{name: "unknown_media", media: Media("book"), kind: Listing, source: SourcePopular, want: ErrUnknownTarget},
		{name: "detail_non_numeric", media: Movie, kind: Detail, source: "abc", want: ErrBadSource},
		{name: "search_empty", media: TV, kind: Search, source: " ", want: ErrBadSource},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := c.Resolve(tc.media, tc.kind, tc.source)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
}

// Search and detail reuse their media's listing tag, so their throttle keys
// collide with a listing or with each other when the sources are equal.
func TestResolve_SharedThrottleKeys(t *testing.T) {
	t.Parallel()
	c := mustDefault(t)

	key := func(kind Kind, source string) string {
		t.Helper()
		r, err := c.Resolve(Movie, kind, source)
		if err != nil {
			t.Fatalf("Resolve(%s, %q): %v", kind, source, err)
		}
		return r.ThrottleKey
	}
	if a, b := key(Search, SourcePopular), key(Listing, SourcePopular); a != b || a != "movie_popular_updated" {
		t.Fatalf("search key=%q listing key=%q, want both movie_popular_updated", a, b)
	}
	if a, b := key(Search, "550"), key(Detail, "550"); a != b || a != "movie_550_updated" {
		t.Fatalf("search key=%q detail key=%q, want both movie_550_updated", a, b)
	}
}

func TestResolve_SkippedKeepsTarget(t *testing.T) {
	t.Parallel()
	c := mustDefault(t)

	r, err := c.Resolve(Movie, Listing, SourceFavorite)
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("err=%v, want ErrSkipped", err)
	}
	if !r.Target.LocalOnly || r.Endpoint != "" {
		t.Fatalf("Resolved=%+v, want local-only target without endpoint", r)
	}
}

func TestSources(t *testing.T) {
	t.Parallel()
	c := mustDefault(t)

	if got, want := c.Sources(Movie), []string{"now_playing", "popular", "top_rated", "upcoming"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Sources(movie)=%v, want %v", got, want)
	}
	if got, want := c.Sources(TV), []string{"airing_today", "on_the_air", "popular", "top_rated"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Sources(tv)=%v, want %v", got, want)
	}
}

func TestTargets_ReturnsCopy(t *testing.T) {
	t.Parallel()
	c := mustDefault(t)

	ts := c.Targets()
	ts[0].Source = "mutated"
	if c.Targets()[0].Source == "mutated" {
		t.Fatalf("Targets aliases the catalog")
	}
}

func TestNew_RejectsInvalidTables(t *testing.T) {
	t.Parallel()

	popular := listing(Movie, schema.Movie(), TagMovie, SourcePopular)

	noThrottle := popular
	noThrottle.ThrottleTag = ""

	badPartition := popular
	badPartition.Partition = []string{"nope"}

	arity := popular
	arity.Local = nil

	badMedia := popular
	badMedia.Media = "book"

	noFamily := popular
	noFamily.Family = schema.Family{}

	listingWithoutSource := popular
	listingWithoutSource.Source = ""

	detailWithLocals := Target{
		Media: Movie, Kind: Detail, Path: "movie/{id}", Family: schema.Movie(),
		Reconcile: UpdateByID, Local: []Binding{BindTag},
		Partition: []string{"media_id"}, PartitionArgs: []Binding{BindID}, ThrottleTag: TagMovie,
	}

	tests := []struct {
		name    string
		base    string
		targets []Target
	}{
		{name: "duplicate", base: testBase, targets: []Target{popular, popular}},
		{name: "no_throttle_tag", base: testBase, targets: []Target{noThrottle}},
		{name: "partition_column_not_in_family", base: testBase, targets: []Target{badPartition}},
		{name: "local_arity", base: testBase, targets: []Target{arity}},
		{name: "bad_media", base: testBase, targets: []Target{badMedia}},
		{name: "no_family", base: testBase, targets: []Target{noFamily}},
		{name: "listing_without_source", base: testBase, targets: []Target{listingWithoutSource}},
		{name: "detail_with_locals", base: testBase, targets: []Target{detailWithLocals}},
		{name: "bad_base", base: "not a url", targets: []Target{popular}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.base, tc.targets...); err == nil {
				t.Fatalf("expected New to fail")
			}
		})
	}
}
