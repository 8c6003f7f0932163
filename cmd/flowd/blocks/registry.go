package blocks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownBlockType is returned when a block type has no registration.
var ErrUnknownBlockType = errors.New("unknown block type")

// Registry maps block type strings to definitions and handlers. Reads are
// lock-free in the common case; registration happens at startup.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]*Definition
	handlers map[string]Handler
}

// NewRegistry creates a registry pre-loaded with the built-in control-flow
// and network block definitions.
func NewRegistry() *Registry {
	r := &Registry{
		defs:     make(map[string]*Definition),
		handlers: make(map[string]Handler),
	}
	for _, def := range controlDefinitions() {
		r.RegisterDefinition(def)
	}
	for _, def := range networkDefinitions() {
		r.RegisterDefinition(def)
	}
	return r
}

// RegisterDefinition declares a block type. Re-registration replaces the
// previous definition.
func (r *Registry) RegisterDefinition(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
}

// RegisterHandler binds a handler to a declared block type.
func (r *Registry) RegisterHandler(blockType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defs[blockType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlockType, blockType)
	}
	r.handlers[blockType] = h
	return nil
}

// Definition returns the declaration for a block type.
func (r *Registry) Definition(blockType string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[blockType]
	return def, ok
}

// Handler returns the handler bound to a block type.
func (r *Registry) Handler(blockType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[blockType]
	return h, ok
}

// Types returns all declared block types sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Definitions returns all declarations sorted by type. Used by the catalog
// endpoint the canvas reads to render its palette.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
