// Package extract finds downloadable resources in fetched thread pages.
package extract

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/Sriram-PR/thread-watcher/pkg/markup"
	"github.com/Sriram-PR/thread-watcher/pkg/models"
)

// ErrNoExtractor is returned when no registered extractor accepts a page.
var ErrNoExtractor = errors.New("no extractor for page")

// Resource is one file linked from a page.
type Resource struct {
	URL       *url.URL
	Key       string // Normalized URL; identifies the resource in the store
	Kind      models.ResourceKind
	Name      string // Suggested file name, not yet unique
	Parent    string // For thumbnails, the key of the full image
	MD5       []byte // Expected digest when the page advertises one
	SourceTag int    // Index of the tag the resource was found on
}

// Result is what an extractor found on one page.
type Result struct {
	Title     string
	Resources []Resource
	Spans     []markup.ReplaceSpan // Attribute values to point at local copies
	NextPage  *url.URL             // Continuation of the thread, if any
}

// Extractor turns page markup into resources. Implementations must be safe
// for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, text string, pageURL *url.URL) (*Result, error)
}

// Predicate reports whether an extractor handles pageURL.
type Predicate func(pageURL *url.URL) bool

// Factory builds an extractor.
type Factory func() Extractor

type entry struct {
	name    string
	match   Predicate
	factory Factory
}

// Registry is an ordered table of extractors. The first entry whose
// predicate accepts a page wins.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry holding only the generic extractor,
// which accepts every page.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(GenericName, func(*url.URL) bool { return true }, func() Extractor { return NewGeneric() })
	return r
}

// Register appends an extractor. Re-registering a name replaces the entry in place.
func (r *Registry) Register(name string, match Predicate, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].name == name {
			r.entries[i] = entry{name: name, match: match, factory: factory}
			return
		}
	}
	r.entries = append(r.entries, entry{name: name, match: match, factory: factory})
}

// Select returns the first extractor accepting pageURL and its name.
func (r *Registry) Select(pageURL *url.URL) (Extractor, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.match(pageURL) {
			return e.factory(), e.name, nil
		}
	}
	return nil, "", ErrNoExtractor
}

// Lookup returns the extractor registered under name.
func (r *Registry) Lookup(name string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.name == name {
			return e.factory(), true
		}
	}
	return nil, false
}

// Names lists the registered extractors in selection order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Resolve picks the extractor for a watch: the named one when name is set,
// otherwise the first matching entry.
func (r *Registry) Resolve(name string, pageURL *url.URL) (Extractor, string, error) {
	if name != "" {
		if ex, ok := r.Lookup(name); ok {
			return ex, name, nil
		}
		return nil, "", ErrNoExtractor
	}
	return r.Select(pageURL)
}
