// Package registry implements the name registry: a typed name→entity
// table shared by sinks, sources, sink-inputs, source-outputs, modules,
// clients, sample-cache entries, and autoload bindings, with collision
// handling and a default-entity pointer per kind.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"unicode"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
	"github.com/tphakala/audiocore/internal/logging"
)

// Kind is one of the named entity classes the subscription bus and this
// registry share.
type Kind int

const (
	KindSink Kind = iota
	KindSource
	KindSinkInput
	KindSourceOutput
	KindModule
	KindClient
	KindSampleCache
	KindAutoload
)

func (k Kind) String() string {
	switch k {
	case KindSink:
		return "sink"
	case KindSource:
		return "source"
	case KindSinkInput:
		return "sink-input"
	case KindSourceOutput:
		return "source-output"
	case KindModule:
		return "module"
	case KindClient:
		return "client"
	case KindSampleCache:
		return "sample-cache"
	case KindAutoload:
		return "autoload"
	default:
		return "unknown"
	}
}

// MaxNameLength bounds a registered name to [1, 127] bytes.
const MaxNameLength = 127

// ModuleLoader is the module collaborator: the registry never loads a
// module itself, it only invokes this on an autoload miss.
type ModuleLoader interface {
	Load(name string, args string) (any, error)
}

type autoloadBinding struct {
	args string
}

// NameRegistry is the main-thread-owned table of named entities; its
// mutations belong to the main thread.
type NameRegistry struct {
	mu sync.RWMutex

	entities map[Kind]map[string]any
	defaults map[Kind]string
	autoload map[Kind]map[string]autoloadBinding

	loader ModuleLoader
	logger *slog.Logger
}

// New builds an empty registry. loader may be nil if autoload is never used.
func New(loader ModuleLoader) *NameRegistry {
	logger := logging.ForService("audiocore-registry")
	if logger == nil {
		logger = slog.Default()
	}
	return &NameRegistry{
		entities: make(map[Kind]map[string]any),
		defaults: make(map[Kind]string),
		autoload: make(map[Kind]map[string]autoloadBinding),
		loader:   loader,
		logger:   logger,
	}
}

// ValidateName enforces the name rule: printable ASCII, length in
// [1, 127], not starting with a digit, no whitespace or control chars.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength {
		return errors.Newf("name length %d out of range [1, %d]", len(name), MaxNameLength).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Context("operation", "name_validate").
			Build()
	}
	if name[0] >= '0' && name[0] <= '9' {
		return errors.Newf("name %q must not start with a digit", name).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Context("operation", "name_validate").
			Build()
	}
	for _, r := range name {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return errors.Newf("name %q contains a non-printable-ASCII or whitespace character", name).
				Component(audiocoreerr.Component).
				Category(errors.CategoryValidation).
				Context("operation", "name_validate").
				Build()
		}
	}
	return nil
}

// Register adds entity under name/kind. On a collision, it either fails
// (failOnCollision) or auto-renames by appending ".N" for the smallest free
// N. It returns the name the entity was actually stored under.
func (r *NameRegistry) Register(name string, kind Kind, entity any, failOnCollision bool) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.entities[kind]
	if table == nil {
		table = make(map[string]any)
		r.entities[kind] = table
	}

	final := name
	if _, collide := table[final]; collide {
		if failOnCollision {
			return "", errors.Newf("name %q already registered for kind %s", name, kind).
				Component(audiocoreerr.Component).
				Category(errors.CategoryConflict).
				Context("operation", "name_register").
				Build()
		}
		final = r.nextFreeNameLocked(table, name)
	}

	table[final] = entity
	if _, ok := r.defaults[kind]; !ok {
		// First-come default.
		r.defaults[kind] = final
	}
	r.logger.Debug("name registered", "kind", kind, "name", final)
	return final, nil
}

func (r *NameRegistry) nextFreeNameLocked(table map[string]any, base string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d", base, n)
		if _, collide := table[candidate]; !collide {
			return candidate
		}
	}
}

// Unregister removes name from kind's table, clearing the default pointer
// if it pointed at name.
func (r *NameRegistry) Unregister(name string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if table := r.entities[kind]; table != nil {
		delete(table, name)
	}
	if r.defaults[kind] == name {
		delete(r.defaults, kind)
	}
}

// Get resolves name within kind. An empty name resolves to the current
// default for kind. If unknown and autoload is requested and a binding
// exists for (name, kind), the module loader is invoked once and the
// lookup retried.
func (r *NameRegistry) Get(name string, kind Kind, autoload bool) (any, error) {
	lookup := name
	if lookup == "" {
		r.mu.RLock()
		lookup = r.defaults[kind]
		r.mu.RUnlock()
		if lookup == "" {
			return nil, errors.Newf("no default set for kind %s", kind).
				Component(audiocoreerr.Component).
				Category(errors.CategoryNotFound).
				Context("operation", "name_get").
				Build()
		}
	}

	if e, ok := r.lookupLocked(lookup, kind); ok {
		return e, nil
	}

	if autoload {
		if e, err := r.tryAutoload(lookup, kind); err != nil {
			return nil, err
		} else if e != nil {
			return e, nil
		}
	}

	return nil, errors.Newf("name %q not found for kind %s", lookup, kind).
		Component(audiocoreerr.Component).
		Category(errors.CategoryNotFound).
		Context("operation", "name_get").
		Build()
}

func (r *NameRegistry) lookupLocked(name string, kind Kind) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.entities[kind]
	if table == nil {
		return nil, false
	}
	e, ok := table[name]
	return e, ok
}

// tryAutoload invokes the module loader once for a (name, kind) binding and
// retries the lookup; it returns (nil, nil) if no binding exists.
func (r *NameRegistry) tryAutoload(name string, kind Kind) (any, error) {
	r.mu.RLock()
	binding, ok := r.autoload[kind][name]
	loader := r.loader
	r.mu.RUnlock()
	if !ok || loader == nil {
		return nil, nil
	}

	if _, err := loader.Load(name, binding.args); err != nil {
		return nil, errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryResource).
			Context("operation", "name_autoload").
			Context("name", name).
			Build()
	}

	if e, ok := r.lookupLocked(name, kind); ok {
		return e, nil
	}
	return nil, errors.Newf("module load for %q did not register an entity of kind %s", name, kind).
		Component(audiocoreerr.Component).
		Category(errors.CategoryResource).
		Context("operation", "name_autoload").
		Build()
}

// SetDefault picks which entity Get("", kind, ...) resolves to.
func (r *NameRegistry) SetDefault(name string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.entities[kind]
	if table == nil {
		return errors.Newf("no entities registered for kind %s", kind).
			Component(audiocoreerr.Component).
			Category(errors.CategoryNotFound).
			Context("operation", "name_set_default").
			Build()
	}
	if _, ok := table[name]; !ok {
		return errors.Newf("name %q not found for kind %s", name, kind).
			Component(audiocoreerr.Component).
			Category(errors.CategoryNotFound).
			Context("operation", "name_set_default").
			Build()
	}
	r.defaults[kind] = name
	return nil
}

// Default returns the current default name for kind, if any.
func (r *NameRegistry) Default(kind Kind) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.defaults[kind]
	return name, ok
}

// AddAutoload binds (name, kind) to a module load, invoked by Get on a miss.
func (r *NameRegistry) AddAutoload(name string, kind Kind, args string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.autoload[kind]
	if table == nil {
		table = make(map[string]autoloadBinding)
		r.autoload[kind] = table
	}
	table[name] = autoloadBinding{args: args}
	return nil
}

// RemoveAutoload removes a previously added binding; it is a no-op if
// absent.
func (r *NameRegistry) RemoveAutoload(name string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if table := r.autoload[kind]; table != nil {
		delete(table, name)
	}
}

// Names returns every registered name for kind, for list-* CLI surfaces.
func (r *NameRegistry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.entities[kind]
	names := make([]string, 0, len(table))
	for n := range table {
		names = append(names, n)
	}
	return names
}
