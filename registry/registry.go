package registry

import (
	"regexp"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
)

var (
	// ErrCollision marks an insert whose name is already taken. The
	// earlier registration stays, deterministically.
	ErrCollision = errors.New("descriptor name already registered")
	// ErrFrozen marks an insert after Freeze.
	ErrFrozen = errors.New("registry is frozen")
)

// Descriptor identifies one pluggable scraper: a unique name, a url
// predicate and a factory for a stateless handler. Either Pattern or
// Suitable must be set; Suitable wins when both are. Embeds, when
// present, lets the fallback page scan find this site's iframes.
type Descriptor struct {
	Name     string
	Version  string
	Pattern  *regexp.Regexp
	Suitable func(url string) bool
	Factory  func() extractor.Extractor
	Embeds   func(webpage string) []string
}

// Match reports whether the descriptor claims the url. Patterns must
// match at the start, a url buried in a query string is not a claim.
func (d *Descriptor) Match(url string) bool {
	if d.Suitable != nil {
		return d.Suitable(url)
	}
	if d.Pattern != nil {
		loc := d.Pattern.FindStringIndex(url)
		return loc != nil && loc[0] == 0
	}
	return false
}

// Validate rejects descriptors that could never dispatch.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("descriptor has no name")
	}
	if d.Pattern == nil && d.Suitable == nil {
		return errors.Errorf("descriptor %q has no url predicate", d.Name)
	}
	if d.Factory == nil {
		return errors.Errorf("descriptor %q has no factory", d.Name)
	}
	return nil
}

// Registry is the ordered name to descriptor mapping the url dispatch
// walks. Insertion order is dispatch precedence. Built once, frozen,
// then read-only: Dispatch is safe for concurrent use after Freeze.
type Registry struct {
	order      []Descriptor
	index      map[string]int
	overridden []string
	frozen     bool
}

func New() *Registry {
	return &Registry{
		index: make(map[string]int, 16),
	}
}

// Add inserts a plugin descriptor. A name collision keeps the first
// registration and returns ErrCollision for the caller to log.
func (r *Registry) Add(d Descriptor) error {
	if r.frozen {
		return ErrFrozen
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if _, ok := r.index[d.Name]; ok {
		return errors.Wrapf(ErrCollision, "%q", d.Name)
	}
	r.index[d.Name] = len(r.order)
	r.order = append(r.order, d)
	return nil
}

// AddBuiltin inserts a host builtin behind every plugin already
// registered. A plugin holding the same name shadows the builtin; the
// shadowing is recorded and queryable via Overridden.
func (r *Registry) AddBuiltin(d Descriptor) error {
	if r.frozen {
		return ErrFrozen
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if _, ok := r.index[d.Name]; ok {
		r.overridden = append(r.overridden, d.Name)
		return nil
	}
	r.index[d.Name] = len(r.order)
	r.order = append(r.order, d)
	return nil
}

// Freeze ends construction. Later Adds fail with ErrFrozen.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Dispatch returns the first descriptor whose predicate matches, in
// registration order. A miss is not an error.
func (r *Registry) Dispatch(url string) (Descriptor, bool) {
	for i := range r.order {
		if r.order[i].Match(url) {
			return r.order[i], true
		}
	}
	return Descriptor{}, false
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.order[i], true
}

// All returns the descriptors in dispatch order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Names lists registered names in dispatch order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for i := range r.order {
		names = append(names, r.order[i].Name)
	}
	return names
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Overridden lists builtin names shadowed by a plugin.
func (r *Registry) Overridden() []string {
	return r.overridden
}
