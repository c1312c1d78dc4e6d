package schema

import "mediasync/internal/storage"

// Table names.
const (
	MovieTable   = "movie"
	TVTable      = "tv"
	ReviewTable  = "review"
	TrailerTable = "trailer"
)

// Column names shared by more than one family or referenced by the catalog.
const (
	ColSource  = "source"
	ColMediaID = "media_id"
	ColType    = "type"
)

var (
	movie = mustFamily(MovieTable,
		[]Column{
			{LocalName: ColSource, Type: Text},
		},
		[]Column{
			{RemoteKey: "backdrop_path", LocalName: "backdrop_path", Type: Text},
			{RemoteKey: "homepage", LocalName: "homepage", Type: Text},
			{RemoteKey: "imdb_id", LocalName: "imdb_id", Type: Text},
			{RemoteKey: "id", LocalName: ColMediaID, Type: Int, Required: true},
			{RemoteKey: "original_language", LocalName: "original_language", Type: Text},
			{RemoteKey: "original_title", LocalName: "original_title", Type: Text, Required: true, Clean: CleanNormalize},
			{RemoteKey: "overview", LocalName: "overview", Type: Text, Required: true, Clean: CleanNormalize},
			{RemoteKey: "popularity", LocalName: "popularity", Type: Real, Required: true},
			{RemoteKey: "release_date", LocalName: "release_date", Type: Text},
			{RemoteKey: "poster_path", LocalName: "poster_path", Type: Text},
			{RemoteKey: "runtime", LocalName: "runtime", Type: Int},
			{RemoteKey: "title", LocalName: "title", Type: Text, Required: true, Clean: CleanNormalize},
			{RemoteKey: "vote_average", LocalName: "rating", Type: Real, Required: true},
			{RemoteKey: "status", LocalName: "status", Type: Text},
			{RemoteKey: "tagline", LocalName: "tagline", Type: Text, Clean: CleanNormalize},
			{RemoteKey: "vote_count", LocalName: "votes", Type: Int, Required: true},
		},
	)

	tv = mustFamily(TVTable,
		[]Column{
			{LocalName: ColSource, Type: Text},
		},
		[]Column{
			{RemoteKey: "backdrop_path", LocalName: "backdrop_path", Type: Text},
			{RemoteKey: "first_air_date", LocalName: "first_air_date", Type: Text},
			{RemoteKey: "homepage", LocalName: "homepage", Type: Text},
			{RemoteKey: "last_air_date", LocalName: "last_air_date", Type: Text},
			{RemoteKey: "id", LocalName: ColMediaID, Type: Int, Required: true},
			{RemoteKey: "number_of_episodes", LocalName: "number_of_episodes", Type: Int},
			{RemoteKey: "number_of_seasons", LocalName: "number_of_seasons", Type: Int},
			{RemoteKey: "original_language", LocalName: "original_language", Type: Text},
			{RemoteKey: "original_name", LocalName: "original_title", Type: Text, Required: true, Clean: CleanNormalize},
			{RemoteKey: "overview", LocalName: "overview", Type: Text, Required: true, Clean: CleanNormalize},
			{RemoteKey: "popularity", LocalName: "popularity", Type: Real, Required: true},
			{RemoteKey: "poster_path", LocalName: "poster_path", Type: Text},
			{RemoteKey: "name", LocalName: "title", Type: Text, Required: true, Clean: CleanNormalize},
			{RemoteKey: "vote_average", LocalName: "rating", Type: Real, Required: true},
			{RemoteKey: "status", LocalName: "status", Type: Text},
			{RemoteKey: "vote_count", LocalName: "votes", Type: Int, Required: true},
		},
	)

	review = mustFamily(ReviewTable,
		[]Column{
			{LocalName: ColMediaID, Type: Int},
		},
		[]Column{
			{RemoteKey: "author", LocalName: "author", Type: Text, Required: true},
			{RemoteKey: "content", LocalName: "review", Type: Text, Required: true, Clean: CleanHTML},
		},
	)

	trailer = mustFamily(TrailerTable,
		[]Column{
			{LocalName: ColMediaID, Type: Int},
			{LocalName: ColType, Type: Text},
		},
		[]Column{
			{RemoteKey: "key", LocalName: "key", Type: Text, Required: true},
			{RemoteKey: "name", LocalName: "name", Type: Text, Required: true},
			{RemoteKey: "site", LocalName: "site", Type: Text, Required: true},
		},
	)
)

// Movie is the movie family.
func Movie() Family { return movie }

// TV is the tv show family.
func TV() Family { return tv }

// Review is the review family.
func Review() Family { return review }

// Trailer is the trailer family.
func Trailer() Family { return trailer }

// All returns every family in creation order.
func All() []Family { return []Family{movie, tv, review, trailer} }

// ByName finds a family by table name.
func ByName(name string) (Family, bool) {
	for _, f := range All() {
		if f.name == name {
			return f, true
		}
	}
	return Family{}, false
}

// TableSpecs returns the DDL descriptions for every family.
func TableSpecs() []storage.TableSpec {
	fams := All()
	out := make([]storage.TableSpec, len(fams))
	for i, f := range fams {
		out[i] = f.TableSpec()
	}
	return out
}
