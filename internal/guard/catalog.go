package guard

import (
	"fmt"
	"sort"
	"sync"
)

type catalogKey struct {
	resource  ResourceType
	operation Operation
}

// Catalog holds one pipeline per resource operation. Bindings are made at
// startup; after Freeze the catalog is read-only.
type Catalog struct {
	mu        sync.RWMutex
	pipelines map[catalogKey]*Pipeline
	frozen    bool
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{pipelines: make(map[catalogKey]*Pipeline)}
}

// Bind registers p under its resource and operation.
func (c *Catalog) Bind(p *Pipeline) error {
	key := catalogKey{resource: p.Resource(), operation: p.Operation()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("guard: catalog frozen, cannot bind %s:%s", key.resource, key.operation)
	}
	if _, exists := c.pipelines[key]; exists {
		return fmt.Errorf("guard: pipeline %s:%s already bound", key.resource, key.operation)
	}
	c.pipelines[key] = p
	return nil
}

// Freeze rejects further bindings.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Lookup returns the pipeline for rt and op.
func (c *Catalog) Lookup(rt ResourceType, op Operation) (*Pipeline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pipelines[catalogKey{resource: rt, operation: op}]
	return p, ok
}

// MustLookup is Lookup for wiring code; a missing binding is a programming
// error.
func (c *Catalog) MustLookup(rt ResourceType, op Operation) *Pipeline {
	p, ok := c.Lookup(rt, op)
	if !ok {
		panic(fmt.Sprintf("guard: no pipeline bound for %s:%s", rt, op))
	}
	return p
}

// Describe lists every binding as "resource:operation" → guard names.
func (c *Catalog) Describe() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.pipelines))
	for key, p := range c.pipelines {
		out[string(key.resource)+":"+string(key.operation)] = p.Names()
	}
	return out
}

// Keys returns the bound keys in sorted order.
func (c *Catalog) Keys() []string {
	desc := c.Describe()
	keys := make([]string, 0, len(desc))
	for k := range desc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
