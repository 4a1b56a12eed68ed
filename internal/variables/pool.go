// Package variables holds the run-scoped variable pool written by extractors
// and the token refresher and read during template resolution.
package variables

import (
	"sync"

	"qguard/pkg/logging"
)

// Pool is a key/value store shared by all rows of one run.
// It is safe for concurrent use.
type Pool struct {
	values  map[string]interface{}
	written map[string]struct{}
	mu      sync.RWMutex
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		values:  make(map[string]interface{}),
		written: make(map[string]struct{}),
	}
}

// Set stores value under name, replacing any previous value.
func (p *Pool) Set(name string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[name] = value
	p.written[name] = struct{}{}
	logging.Debug("VariablePool", "Stored variable '%s'", name)
}

// Get retrieves a value by name.
func (p *Pool) Get(name string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[name]
	return v, ok
}

// Len returns the number of stored variables.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// Snapshot returns a copy of the current contents.
func (p *Pool) Snapshot() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]interface{}, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Fork returns a new pool seeded with a snapshot of p. Writes to the fork are
// invisible to p until Merge is called.
func (p *Pool) Fork() *Pool {
	return &Pool{
		values:  p.Snapshot(),
		written: make(map[string]struct{}),
	}
}

// Merge copies the values Set on other into p. Values other only inherited
// from a Fork are not copied, so a stale seed never overwrites a newer value.
func (p *Pool) Merge(other *Pool) {
	if other == nil || other == p {
		return
	}

	other.mu.RLock()
	incoming := make(map[string]interface{}, len(other.written))
	for k := range other.written {
		incoming[k] = other.values[k]
	}
	other.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range incoming {
		p.values[k] = v
		p.written[k] = struct{}{}
	}
}
