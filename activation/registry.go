// Package activation creates objects on a dedicated apartment and hands
// callers proxies to them.
package activation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/najoast/apartment/core"
)

var (
	ErrClassNotRegistered = errors.New("class not registered")
	ErrClassExists        = errors.New("class already registered")
	ErrFactoryClosed      = errors.New("factory closed")
)

// Constructor builds a new capability. It runs on the factory apartment,
// so affine objects it creates are owned by that apartment.
type Constructor func(ctx context.Context) (core.Capability, error)

// Class describes a creatable object class.
type Class struct {
	Name  string
	Class core.Classification
	New   Constructor
}

// Registry maps class names to constructors.
type Registry struct {
	classes map[string]Class
	mutex   sync.RWMutex
}

// NewRegistry creates an empty class registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]Class)}
}

// Register adds a class. The classification is fixed at registration and
// applies to every instance created from it.
func (r *Registry) Register(name string, class core.Classification, ctor Constructor) error {
	if name == "" {
		return fmt.Errorf("class name cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("class %s: constructor cannot be nil", name)
	}
	if class != core.ClassAffine && class != core.ClassAgile {
		return fmt.Errorf("class %s: %w", name, core.ErrUnclassified)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.classes[name]; exists {
		return fmt.Errorf("%w: %s", ErrClassExists, name)
	}
	r.classes[name] = Class{Name: name, Class: class, New: ctor}
	return nil
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) (Class, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	c, ok := r.classes[name]
	if !ok {
		return Class{}, fmt.Errorf("%w: %s", ErrClassNotRegistered, name)
	}
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Names returns the registered class names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
