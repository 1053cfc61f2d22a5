// Package plugins discovers the compiled-in site packages and
// registers their descriptors ahead of the host builtins, so a plugin
// can take over a url class.
package plugins

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor/auf1"
	"github.com/plugdl/plugdl/extractor/bittube"
	"github.com/plugdl/plugdl/extractor/brighteon"
	"github.com/plugdl/plugdl/extractor/dtube"
	"github.com/plugdl/plugdl/extractor/generic"
	"github.com/plugdl/plugdl/extractor/peertube"
	"github.com/plugdl/plugdl/extractor/servustv"
	"github.com/plugdl/plugdl/extractor/youmaker"
	"github.com/plugdl/plugdl/registry"
	log "github.com/sirupsen/logrus"
)

// Entry names one plugin package and the function yielding its
// descriptors. The table is the compiled-in counterpart of scanning a
// plugin directory for modules.
type Entry struct {
	Package     string
	Descriptors func() []registry.Descriptor
}

// DiscoveryError records a package whose registration failed. It never
// stops the remaining packages.
type DiscoveryError struct {
	Package string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Package, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// packages in module scan order.
var packages = []Entry{
	{"auf1", auf1.Descriptors},
	{"bittube", bittube.Descriptors},
	{"brighteon", brighteon.Descriptors},
	{"dtube", dtube.Descriptors},
	{"peertube", peertube.Descriptors},
	{"servustv", servustv.Descriptors},
	{"youmaker", youmaker.Descriptors},
}

// Discover collects the descriptors of every plugin package. A package
// that panics or yields a malformed descriptor becomes a
// DiscoveryError and the scan moves on.
func Discover() ([]registry.Descriptor, []*DiscoveryError) {
	return discover(packages)
}

func discover(entries []Entry) ([]registry.Descriptor, []*DiscoveryError) {
	var descriptors []registry.Descriptor
	var failures []*DiscoveryError
	for _, entry := range entries {
		logger := log.WithField("plugin", entry.Package)
		descs, err := safeDescriptors(entry)
		if err != nil {
			failures = append(failures, &DiscoveryError{Package: entry.Package, Err: err})
			logger.Warnf("plugin skipped: %v", err)
			continue
		}
		for _, d := range descs {
			if err := d.Validate(); err != nil {
				failures = append(failures, &DiscoveryError{Package: entry.Package, Err: err})
				logger.Warnf("descriptor skipped: %v", err)
				continue
			}
			descriptors = append(descriptors, d)
		}
	}
	return descriptors, failures
}

// safeDescriptors shields the scan from a descriptor source that
// panics, plugin init runs arbitrary code.
func safeDescriptors(entry Entry) (descs []registry.Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("descriptor source panicked: %v", r)
		}
	}()
	if entry.Descriptors == nil {
		return nil, errors.New("no descriptor source")
	}
	return entry.Descriptors(), nil
}

// Register inserts descriptors in order. On a name collision the first
// registration stays and the loser is logged, deterministically.
func Register(descriptors []registry.Descriptor, target *registry.Registry) *registry.Registry {
	for _, d := range descriptors {
		err := target.Add(d)
		if err == nil {
			continue
		}
		if errors.Is(err, registry.ErrCollision) {
			log.WithField("plugin", d.Name).Warn("name collision, keeping the first registration")
			continue
		}
		log.WithField("plugin", d.Name).Warnf("not registered: %v", err)
	}
	return target
}

// Builtins are the host's own descriptors, inserted behind the
// plugins. The fallback needs the finished registry for its embed
// scan, resolve hands it over at dispatch time.
func Builtins(resolve func() *registry.Registry) []registry.Descriptor {
	return []registry.Descriptor{generic.Descriptor(resolve)}
}

func build(entries []Entry) (*registry.Registry, []*DiscoveryError) {
	reg := registry.New()
	descriptors, failures := discover(entries)
	Register(descriptors, reg)
	for _, d := range Builtins(func() *registry.Registry { return reg }) {
		if err := reg.AddBuiltin(d); err != nil {
			log.WithField("builtin", d.Name).Warnf("not registered: %v", err)
		}
	}
	reg.Freeze()
	for _, name := range reg.Overridden() {
		log.WithField("builtin", name).Warn("builtin overridden by a plugin")
	}
	return reg, failures
}

var (
	initOnce     sync.Once
	initRegistry *registry.Registry
	initFailures []*DiscoveryError
)

// Initialize builds the process-wide registry once: plugins first,
// builtins behind them, then frozen. Host programs call it before
// constructing their pipeline; later calls return the same registry.
func Initialize() (*registry.Registry, []*DiscoveryError) {
	initOnce.Do(func() {
		initRegistry, initFailures = build(packages)
	})
	return initRegistry, initFailures
}

// Summary renders the one-line-per-plugin report behind the verbose
// flag.
func Summary(reg *registry.Registry, failures []*DiscoveryError) []string {
	lines := make([]string, 0, reg.Len()+len(failures))
	for _, d := range reg.All() {
		line := d.Name
		if d.Version != "" {
			line += " " + d.Version
		}
		lines = append(lines, line)
	}
	for _, name := range reg.Overridden() {
		lines = append(lines, fmt.Sprintf("builtin %s overridden by a plugin", name))
	}
	for _, f := range failures {
		lines = append(lines, fmt.Sprintf("failed %s: %v", f.Package, f.Err))
	}
	return lines
}
