package catalog

import "mediasync/internal/schema"

// Listing sources.
const (
	SourceFavorite    = "favorite"
	SourceNowPlaying  = "now_playing"
	SourcePopular     = "popular"
	SourceTopRated    = "top_rated"
	SourceUpcoming    = "upcoming"
	SourceAiringToday = "airing_today"
	SourceOnTheAir    = "on_the_air"
	SourceSearch      = "search"
)

// Throttle tags.
const (
	TagMovie        = "movie"
	TagTV           = "tv"
	TagReview       = "review"
	TagMovieTrailer = "movie_trailer"
	TagTVTrailer    = "tv_trailer"
)

func listing(media Media, family schema.Family, tag, source string) Target {
	return Target{
		Media:         media,
		Kind:          Listing,
		Source:        source,
		Path:          string(media) + "/" + source,
		Family:        family,
		Reconcile:     ReplacePartition,
		Local:         []Binding{BindTag},
		Partition:     []string{schema.ColSource},
		PartitionArgs: []Binding{BindTag},
		ThrottleTag:   tag,
	}
}

func mediaTargets(media Media, family schema.Family, tag, trailerTag string, sources []string) []Target {
	out := []Target{
		{Media: media, Kind: Listing, Source: SourceFavorite, LocalOnly: true},
		{Media: media, Kind: Listing, Source: SourceSearch, FedBy: Search},
	}
	for _, s := range sources {
		out = append(out, listing(media, family, tag, s))
	}
	return append(out,
		Target{
			Media:         media,
			Kind:          Search,
			Tag:           SourceSearch,
			Path:          "search/" + string(media),
			Query:         "query",
			Family:        family,
			Reconcile:     ReplacePartition,
			Local:         []Binding{BindTag},
			Partition:     []string{schema.ColSource},
			PartitionArgs: []Binding{BindTag},
			ThrottleTag:   tag,
		},
		Target{
			Media:         media,
			Kind:          Detail,
			Path:          string(media) + "/{id}",
			Family:        family,
			Reconcile:     UpdateByID,
			Partition:     []string{schema.ColMediaID},
			PartitionArgs: []Binding{BindID},
			ThrottleTag:   tag,
		},
		Target{
			Media:         media,
			Kind:          Trailer,
			Path:          string(media) + "/{id}/videos",
			Family:        schema.Trailer(),
			Reconcile:     ReplacePartition,
			Local:         []Binding{BindID, BindMedia},
			Partition:     []string{schema.ColMediaID, schema.ColType},
			PartitionArgs: []Binding{BindID, BindMedia},
			ThrottleTag:   trailerTag,
		},
	)
}

// DefaultTargets returns the targets of the remote movie database API.
func DefaultTargets() []Target {
	targets := mediaTargets(Movie, schema.Movie(), TagMovie, TagMovieTrailer,
		[]string{SourceNowPlaying, SourcePopular, SourceTopRated, SourceUpcoming})
	targets = append(targets, Target{
		Media:         Movie,
		Kind:          Review,
		Path:          "movie/{id}/reviews",
		Family:        schema.Review(),
		Reconcile:     ReplacePartition,
		Local:         []Binding{BindID},
		Partition:     []string{schema.ColMediaID},
		PartitionArgs: []Binding{BindID},
		ThrottleTag:   TagReview,
	})
	return append(targets, mediaTargets(TV, schema.TV(), TagTV, TagTVTrailer,
		[]string{SourceAiringToday, SourceOnTheAir, SourcePopular, SourceTopRated})...)
}

// Default builds the catalog of DefaultTargets rooted at base.
func Default(base string) (*Catalog, error) {
	return New(base, DefaultTargets()...)
}
