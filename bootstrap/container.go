package bootstrap

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultContainer is a name-keyed instance registry. Factories run once,
// on first Resolve, and their result is cached.
type DefaultContainer struct {
	factories map[string]InstanceFactory
	instances map[string]any
	mutex     sync.Mutex
}

// NewContainer creates an empty container
func NewContainer() *DefaultContainer {
	return &DefaultContainer{
		factories: make(map[string]InstanceFactory),
		instances: make(map[string]any),
	}
}

// Register adds a factory that builds the instance for name on first
// Resolve.
func (c *DefaultContainer) Register(name string, factory InstanceFactory) error {
	if factory == nil {
		return fmt.Errorf("register %q: nil factory", name)
	}
	return c.add(name, func() { c.factories[name] = factory })
}

// RegisterInstance adds a ready instance under name.
func (c *DefaultContainer) RegisterInstance(name string, instance any) error {
	if instance == nil {
		return fmt.Errorf("register %q: nil instance", name)
	}
	return c.add(name, func() { c.instances[name] = instance })
}

func (c *DefaultContainer) add(name string, store func()) error {
	if name == "" {
		return errors.New("register: empty instance name")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.exists(name) {
		return fmt.Errorf("register %q: name taken", name)
	}
	store()
	return nil
}

// Resolve returns the instance registered under name, running its
// factory on first use. Factories may resolve other names.
func (c *DefaultContainer) Resolve(name string) (any, error) {
	c.mutex.Lock()
	if instance, ok := c.instances[name]; ok {
		c.mutex.Unlock()
		return instance, nil
	}
	factory, ok := c.factories[name]
	c.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("resolve %q: not registered", name)
	}

	instance, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", name, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if existing, ok := c.instances[name]; ok {
		return existing, nil
	}
	c.instances[name] = instance
	delete(c.factories, name)
	return instance, nil
}

// Has reports whether name has a factory or an instance.
func (c *DefaultContainer) Has(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.exists(name)
}

// Names lists every registered name, sorted.
func (c *DefaultContainer) Names() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	names := make([]string, 0, len(c.factories)+len(c.instances))
	for name := range c.factories {
		names = append(names, name)
	}
	for name := range c.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *DefaultContainer) exists(name string) bool {
	_, hasFactory := c.factories[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// ResolveAs resolves name and asserts the result to T.
func ResolveAs[T any](c Container, name string) (T, error) {
	var zero T
	instance, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("resolve %q: unexpected type %T", name, instance)
	}
	return typed, nil
}
