// Package sink delivers decoded protocol records to external consumers.
// Concrete sinks live in subpackages and register themselves by name; the
// pipeline builds them from configuration through the factory registry.
package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Sink receives decoded records. Emit is called from the single decode
// goroutine; sinks that talk to slow backends buffer internally.
type Sink interface {
	Name() string
	Start(ctx context.Context) error
	Emit(rec *Record) error
	Flush() error
	Stop() error
}

// Factory builds a sink from its raw option map. Implementations decode
// the map themselves and reject unknown or malformed options.
type Factory func(options map[string]interface{}) (Sink, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a sink factory under name. Duplicate names panic; they are
// always a programming error in the registration index.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("argus: sink %q registered twice", name))
	}
	factories[name] = f
}

// New builds the named sink with the given options.
func New(name string, options map[string]interface{}) (Sink, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("argus: unknown sink %q (have %v)", name, Names())
	}
	return f(options)
}

// Names lists the registered sink names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
