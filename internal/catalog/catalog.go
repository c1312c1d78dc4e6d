// Package catalog maps (media, kind, source) triples to sync targets.
//
// The catalog is a data table validated once at construction. Resolving a
// triple either yields a bound Resolved value (endpoint, local column values,
// partition predicate, throttle key) or one of two sentinel errors:
//
//   - ErrUnknownTarget: the triple is not in the table. This is a programmer
//     error and is never retried.
//   - ErrSkipped: the target exists but is not fetched remotely (local-only
//     partitions such as favorites, or a partition fed by another kind).
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"mediasync/internal/schema"
	"mediasync/internal/storage"
)

var (
	// ErrUnknownTarget is returned for a (media, kind, source) triple that is not in the catalog.
	ErrUnknownTarget = errors.New("catalog: unknown sync target")
	// ErrSkipped is returned for a target that is never fetched from the remote service.
	ErrSkipped = errors.New("catalog: target skipped")
	// ErrBadSource is returned when a parameterised target receives an unusable source
	// (a non-numeric media id or an empty search query).
	ErrBadSource = errors.New("catalog: bad source")
)

// Media is the kind of media a target syncs.
type Media string

const (
	Movie Media = "movie"
	TV    Media = "tv"
)

// Kind is the sync kind.
type Kind string

const (
	Listing Kind = "listing"
	Detail  Kind = "detail"
	Review  Kind = "review"
	Trailer Kind = "trailer"
	Search  Kind = "search"
)

// Reconcile is the policy used to write mapped rows.
type Reconcile int

const (
	// ReplacePartition deletes the partition and bulk-inserts the new rows in one transaction.
	ReplacePartition Reconcile = iota
	// UpdateByID updates the rows matching each mapped row's id and never inserts.
	UpdateByID
)

func (r Reconcile) String() string {
	switch r {
	case ReplacePartition:
		return "replace_partition"
	case UpdateByID:
		return "update_by_id"
	default:
		return fmt.Sprintf("Reconcile(%d)", int(r))
	}
}

// Binding says where a local column value or a partition argument comes from.
type Binding int

const (
	// BindTag is the target's fixed partition tag.
	BindTag Binding = iota
	// BindID is the caller's source parsed as an int64 media id.
	BindID
	// BindMedia is the target's media kind.
	BindMedia
)

// Target is one row of the catalog.
//
// Source is empty for parameterised targets (detail, review, trailer, search);
// the caller's source is bound at Resolve time. Path is relative to the API
// base and may contain "{id}", replaced by the escaped caller source.
type Target struct {
	Media     Media         `validate:"oneof=movie tv"`
	Kind      Kind          `validate:"oneof=listing detail review trailer search"`
	Source    string        `validate:"excludesall=/?#"`
	Tag       string        `validate:"excludesall=/?#"`
	Path      string        `validate:"excludesall=?#"`
	Query     string        `validate:"omitempty,alphanum"`
	Family    schema.Family `validate:"-"`
	Reconcile Reconcile     `validate:"min=0,max=1"`

	Local         []Binding `validate:"dive,min=0,max=2"`
	Partition     []string  `validate:"dive,required"`
	PartitionArgs []Binding `validate:"dive,min=0,max=2"`

	// LocalOnly marks a partition that is only written by explicit user
	// action (favorites). It is never fetched.
	LocalOnly bool
	// FedBy names the kind that populates this listing partition instead
	// (the "search" listing is fed by the Search kind).
	FedBy Kind `validate:"omitempty,oneof=search"`

	ThrottleTag string
}

// Parameterised reports whether the caller's source is bound into the target.
func (t Target) Parameterised() bool { return t.Source == "" }

// Remote reports whether the target is ever fetched.
func (t Target) Remote() bool { return !t.LocalOnly && t.FedBy == "" }

// Resolved is a target bound to a caller source.
type Resolved struct {
	Target Target
	// Source is the caller's source (listing name, media id or search query).
	Source string
	// Endpoint is the request URL without credentials.
	Endpoint string
	// Local holds one value per local-only column of the family.
	Local []any
	// Predicate and Args select the partition (ReplacePartition) or the row id (UpdateByID).
	Predicate storage.Predicate
	Args      []any
	// ThrottleKey is "{tag}_{source}_updated".
	ThrottleKey string
}

type key struct {
	media  Media
	kind   Kind
	source string
}

// Catalog is an immutable, validated set of targets.
type Catalog struct {
	base    *url.URL
	targets []Target
	byKey   map[key]int
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// New builds and validates a catalog rooted at base (e.g. "https://api.themoviedb.org/3").
func New(base string, targets ...Target) (*Catalog, error) {
	if err := getValidator().Var(base, "required,url"); err != nil {
		return nil, fmt.Errorf("catalog: base url %q: %w", base, err)
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("catalog: base url %q: %w", base, err)
	}

	c := &Catalog{
		base:    u,
		targets: make([]Target, 0, len(targets)),
		byKey:   make(map[key]int, len(targets)),
	}
	for _, t := range targets {
		if t.Kind == Listing && t.Tag == "" {
			t.Tag = t.Source
		}
		c.targets = append(c.targets, t)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	for i, t := range c.targets {
		c.byKey[key{t.Media, t.Kind, t.Source}] = i
	}
	return c, nil
}

// Validate checks every target. New calls it; it is exported so callers that
// assemble targets by hand can check them before use.
func (c *Catalog) Validate() error {
	seen := make(map[key]bool, len(c.targets))
	for _, t := range c.targets {
		k := key{t.Media, t.Kind, t.Source}
		name := fmt.Sprintf("%s/%s/%s", t.Media, t.Kind, t.Source)
		if seen[k] {
			return fmt.Errorf("catalog: %s declared twice", name)
		}
		seen[k] = true

		if err := getValidator().Struct(t); err != nil {
			return fmt.Errorf("catalog: %s: %w", name, err)
		}
		if err := checkTarget(t); err != nil {
			return fmt.Errorf("catalog: %s: %w", name, err)
		}
	}
	return nil
}

func checkTarget(t Target) error {
	if (t.Kind == Listing) == t.Parameterised() {
		return fmt.Errorf("listing targets need a fixed source, other kinds must not have one")
	}
	if t.LocalOnly && t.FedBy != "" {
		return fmt.Errorf("local-only target cannot be fed by %s", t.FedBy)
	}
	if !t.Remote() {
		return nil
	}
	if t.Family.IsZero() {
		return fmt.Errorf("missing family")
	}
	if _, ok := schema.ByName(t.Family.Name()); !ok {
		return fmt.Errorf("unknown family %s", t.Family.Name())
	}
	if strings.TrimSpace(t.Path) == "" {
		return fmt.Errorf("missing endpoint path")
	}
	if t.ThrottleTag == "" {
		return fmt.Errorf("missing throttle tag")
	}
	if len(t.Partition) == 0 || len(t.Partition) != len(t.PartitionArgs) {
		return fmt.Errorf("partition has %d columns and %d args", len(t.Partition), len(t.PartitionArgs))
	}
	for _, col := range t.Partition {
		if _, ok := t.Family.Column(col); !ok {
			return fmt.Errorf("partition column %s not in family %s", col, t.Family.Name())
		}
	}
	switch t.Reconcile {
	case ReplacePartition:
		if len(t.Local) != len(t.Family.LocalNames()) {
			return fmt.Errorf("%d local values for %d local columns", len(t.Local), len(t.Family.LocalNames()))
		}
	case UpdateByID:
		if len(t.Local) != 0 {
			return fmt.Errorf("update targets write remote columns only")
		}
	}
	if binds(t, BindTag) && t.Tag == "" {
		return fmt.Errorf("binds a partition tag but has none")
	}
	if binds(t, BindID) && !t.Parameterised() {
		return fmt.Errorf("binds a media id but has a fixed source")
	}
	return nil
}

// Resolve binds source into the target for (media, kind).
//
// Fixed targets are matched exactly; otherwise the parameterised template for
// (media, kind) is used. Skipped targets return their Resolved value together
// with ErrSkipped.
func (c *Catalog) Resolve(media Media, kind Kind, source string) (Resolved, error) {
	i, ok := c.byKey[key{media, kind, source}]
	if !ok {
		i, ok = c.byKey[key{media, kind, ""}]
	}
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %s/%s/%s", ErrUnknownTarget, media, kind, source)
	}
	t := c.targets[i]
	r := Resolved{Target: t, Source: source}
	if !t.Remote() {
		return r, fmt.Errorf("%w: %s/%s/%s", ErrSkipped, media, kind, source)
	}

	var id int64
	if t.Parameterised() {
		if strings.TrimSpace(source) == "" {
			return Resolved{}, fmt.Errorf("%w: %s/%s: empty source", ErrBadSource, media, kind)
		}
		if binds(t, BindID) {
			n, err := strconv.ParseInt(source, 10, 64)
			if err != nil || n <= 0 {
				return Resolved{}, fmt.Errorf("%w: %s/%s: %q is not a media id", ErrBadSource, media, kind, source)
			}
			id = n
		}
	}

	bind := func(bs []Binding) []any {
		out := make([]any, len(bs))
		for j, b := range bs {
			switch b {
			case BindTag:
				out[j] = t.Tag
			case BindID:
				out[j] = id
			case BindMedia:
				out[j] = string(t.Media)
			}
		}
		return out
	}

	r.Endpoint = c.endpoint(t, source)
	r.Local = bind(t.Local)
	r.Predicate = storage.Where(t.Partition...)
	r.Args = bind(t.PartitionArgs)
	r.ThrottleKey = ThrottleKey(t.ThrottleTag, source)
	return r, nil
}

func binds(t Target, b Binding) bool {
	for _, x := range t.Local {
		if x == b {
			return true
		}
	}
	for _, x := range t.PartitionArgs {
		if x == b {
			return true
		}
	}
	return false
}

func (c *Catalog) endpoint(t Target, source string) string {
	u := *c.base
	p := strings.ReplaceAll(t.Path, "{id}", url.PathEscape(source))
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(p, "/")
	if t.Query != "" {
		q := u.Query()
		q.Set(t.Query, source)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// ThrottleKey formats the key under which the last successful sync is recorded.
func ThrottleKey(tag, source string) string {
	return fmt.Sprintf("%s_%s_updated", tag, source)
}

// Targets returns a copy of every target in declaration order.
func (c *Catalog) Targets() []Target {
	return append([]Target(nil), c.targets...)
}

// Sources returns the remotely synced listing sources of media in declaration order.
func (c *Catalog) Sources(media Media) []string {
	var out []string
	for _, t := range c.targets {
		if t.Media == media && t.Kind == Listing && t.Remote() {
			out = append(out, t.Source)
		}
	}
	return out
}
