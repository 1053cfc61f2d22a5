// Package postprocessor holds the steps that run on a finished
// download: each is registered under a name and applied in the order
// the caller lists them.
package postprocessor

import (
	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	log "github.com/sirupsen/logrus"
	"os"
)

// ErrCollision marks a step name registered twice; the earlier
// registration stays.
var ErrCollision = errors.New("postprocessor name already registered")

// PostProcessor transforms a downloaded item. It returns the files its
// work made redundant, which the chain runner deletes, and the info it
// hands to the next step.
type PostProcessor interface {
	Run(info *extractor.Info) ([]string, *extractor.Info, error)
}

// Descriptor names one step and builds a fresh handler per run.
type Descriptor struct {
	Name    string
	Factory func() PostProcessor
}

func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("postprocessor has no name")
	}
	if d.Factory == nil {
		return errors.Errorf("postprocessor %q has no factory", d.Name)
	}
	return nil
}

// Registry is the name to step mapping, ordered by insertion like the
// extractor registry.
type Registry struct {
	order []Descriptor
	index map[string]int
}

func New() *Registry {
	return &Registry{index: make(map[string]int, 4)}
}

func (r *Registry) Add(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, ok := r.index[d.Name]; ok {
		return errors.Wrap(ErrCollision, d.Name)
	}
	r.index[d.Name] = len(r.order)
	r.order = append(r.order, d)
	return nil
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.order[i], true
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, d := range r.order {
		names[i] = d.Name
	}
	return names
}

// Builtin returns a registry preloaded with the steps shipped here.
func Builtin() *Registry {
	r := New()
	_ = r.Add(Descriptor{Name: "metadata", Factory: func() PostProcessor { return &MetadataDump{} }})
	_ = r.Add(Descriptor{Name: "remux", Factory: func() PostProcessor { return &Remux{} }})
	return r
}

// RunChain applies the named steps in order. A step error stops the
// chain, files a step declares redundant are removed before the next
// one runs.
func RunChain(reg *Registry, names []string, info *extractor.Info) (*extractor.Info, error) {
	for _, name := range names {
		d, ok := reg.Get(name)
		if !ok {
			return info, errors.Errorf("unknown postprocessor %q", name)
		}
		logger := log.WithField("postprocessor", name)
		filesToDelete, updated, err := d.Factory().Run(info)
		if err != nil {
			return info, errors.Wrapf(err, "postprocessor %s", name)
		}
		info = updated
		for _, path := range filesToDelete {
			logger.Debugf("removing %s", path)
			if err := os.Remove(path); err != nil {
				logger.Warnf("cannot remove %s: %v", path, err)
			}
		}
	}
	return info, nil
}
