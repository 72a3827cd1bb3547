// Package cache holds loaded plugin shared libraries for the process
// lifetime. Go's plugin package has no "close" — once a
// *plugin.Plugin is opened its code stays mapped — so this cache never
// evicts autonomously; Clear/Remove only drop the cache's own reference,
// they do not unmap anything.
package cache

import (
	"fmt"
	"plugin"
	"sync"
)

// HandleRequestFunc is the resolved symbol type for the request-scoped
// entry point.
type HandleRequestFunc func(requestID int64)

// Handle is a cached library plus its resolved request-entry symbol.
type Handle struct {
	Lib           *plugin.Plugin
	HandleRequest HandleRequestFunc
}

// Cache is a concurrent path -> *Handle map.
type Cache struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// New creates an empty library cache.
func New() *Cache {
	return &Cache{handles: make(map[string]*Handle)}
}

// LoadOrOpen returns the cached handle for path, opening and resolving the
// symbol on first use. Concurrent first-callers may both open the library;
// the loser's *plugin.Plugin is discarded (Go plugins are idempotent to
// re-open — the runtime itself dedupes by path) and a duplicate load is
// harmless, just briefly wasteful.
func (c *Cache) LoadOrOpen(path, symbolName string) (*Handle, error) {
	c.mu.RLock()
	h, ok := c.handles[path]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	lib, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load plugin library %q: %w", path, err)
	}
	sym, err := lib.Lookup(symbolName)
	if err != nil {
		return nil, fmt.Errorf("resolve symbol %q in %q: %w", symbolName, path, err)
	}
	fn, ok := sym.(func(int64))
	if !ok {
		return nil, fmt.Errorf("symbol %q in %q has unexpected type %T", symbolName, path, sym)
	}

	newHandle := &Handle{Lib: lib, HandleRequest: fn}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.handles[path]; ok {
		return existing, nil
	}
	c.handles[path] = newHandle
	return newHandle, nil
}

// Clear drops every cached reference. It does not unmap any library.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles = make(map[string]*Handle)
}

// Remove drops the cached reference for path, if any.
func (c *Cache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, path)
}

// Count returns the number of cached handles.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// Paths returns the file paths currently cached, for operational tooling.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.handles))
	for p := range c.handles {
		paths = append(paths, p)
	}
	return paths
}
