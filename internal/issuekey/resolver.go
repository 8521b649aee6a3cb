// Package issuekey maps human issue keys such as "ITST-1" to the numeric
// issue ids the remote worklog store expects, and back.
package issuekey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/Tiliavir/tempo-booker/internal/model"
)

// ErrNotFound is returned by lookups when the issue does not exist.
var ErrNotFound = errors.New("issue not found")

// Issue is a resolved issue.
type Issue struct {
	ID      int64  `mapstructure:"id" yaml:"id"`
	Key     string `mapstructure:"key" yaml:"key"`
	Summary string `mapstructure:"summary" yaml:"summary"`
}

// LookupFunc resolves a key against the issue tracker. It returns ErrNotFound
// (possibly wrapped) when the key does not exist.
type LookupFunc func(ctx context.Context, key string) (Issue, error)

// ReverseLookupFunc resolves a numeric issue id against the issue tracker.
type ReverseLookupFunc func(ctx context.Context, id int64) (Issue, error)

// ResolutionError reports an issue key that could not be resolved.
type ResolutionError struct {
	Key string
	Err error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("cannot resolve issue %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("unknown issue %q", e.Key)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type cached struct {
	issue Issue
	found bool
}

// Resolver resolves keys through a static table, then an optional lookup,
// caching every answer (misses included) for its own lifetime. Create one
// Resolver per run.
type Resolver struct {
	static  map[string]Issue
	lookup  LookupFunc
	reverse ReverseLookupFunc
	log     *slog.Logger

	mu      sync.Mutex
	byKey   map[string]cached
	byID    map[int64]cached
	lookups int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup sets the fallback lookup for keys missing from the static table.
func WithLookup(f LookupFunc) Option {
	return func(r *Resolver) { r.lookup = f }
}

// WithReverseLookup sets the fallback lookup for ids.
func WithReverseLookup(f ReverseLookupFunc) Option {
	return func(r *Resolver) { r.reverse = f }
}

// WithLogger sets the logger used for lookup failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// NewResolver builds a Resolver over the given static table.
func NewResolver(static []Issue, opts ...Option) *Resolver {
	r := &Resolver{
		static: make(map[string]Issue, len(static)),
		byKey:  make(map[string]cached),
		byID:   make(map[int64]cached),
		log:    slog.New(slog.DiscardHandler),
	}
	for _, is := range static {
		is.Key = normalizeKey(is.Key)
		r.static[is.Key] = is
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Resolve returns the issue for key or a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, key string) (Issue, error) {
	key = normalizeKey(key)
	if key == "" {
		return Issue{}, &ResolutionError{Key: key, Err: ErrNotFound}
	}
	if is, ok := r.static[key]; ok {
		return is, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byKey[key]; ok {
		if !c.found {
			return Issue{}, &ResolutionError{Key: key, Err: ErrNotFound}
		}
		return c.issue, nil
	}
	if r.lookup == nil {
		r.byKey[key] = cached{}
		return Issue{}, &ResolutionError{Key: key, Err: ErrNotFound}
	}

	r.lookups++
	is, err := r.lookup(ctx, key)
	if err != nil {
		// Failed lookups are cached as misses so a key is asked for once per run.
		r.byKey[key] = cached{}
		if !errors.Is(err, ErrNotFound) {
			r.log.Warn("issue lookup failed", "issue", key, "err", err)
		}
		return Issue{}, &ResolutionError{Key: key, Err: err}
	}
	if is.Key == "" {
		is.Key = key
	}
	r.byKey[key] = cached{issue: is, found: true}
	r.byID[is.ID] = cached{issue: is, found: true}
	return is, nil
}

// KeyForID returns the issue key for a numeric id, or model.UnknownKey.
func (r *Resolver) KeyForID(ctx context.Context, id int64) string {
	if id == 0 {
		return model.UnknownKey
	}
	for _, is := range r.static {
		if is.ID == id {
			return is.Key
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byID[id]; ok {
		if !c.found {
			return model.UnknownKey
		}
		return c.issue.Key
	}
	if r.reverse == nil {
		r.byID[id] = cached{}
		return model.UnknownKey
	}

	r.lookups++
	is, err := r.reverse(ctx, id)
	if err != nil || is.Key == "" {
		r.byID[id] = cached{}
		if err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Warn("issue id lookup failed", "issue_id", id, "err", err)
		}
		return model.UnknownKey
	}
	is.Key = normalizeKey(is.Key)
	is.ID = id
	r.byID[id] = cached{issue: is, found: true}
	r.byKey[is.Key] = cached{issue: is, found: true}
	return is.Key
}

// Lookups reports how many times the fallback lookups were invoked.
func (r *Resolver) Lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

// RecoverKey determines the issue key of a remote record: by issue id first,
// falling back to a key mentioned in the description.
func (r *Resolver) RecoverKey(ctx context.Context, rec model.RemoteRecord) string {
	if key := r.KeyForID(ctx, rec.IssueID); key != model.UnknownKey {
		return key
	}
	return KeyFromDescription(rec.Description)
}

var keyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]+-[0-9]+\b`)

// KeyFromDescription returns the first issue key mentioned in text, or
// model.UnknownKey. Best effort only.
func KeyFromDescription(text string) string {
	if m := keyPattern.FindString(text); m != "" {
		return m
	}
	return model.UnknownKey
}
