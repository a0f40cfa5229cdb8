package saga

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// entry is one saga held in memory. mu serialises every handler, the sweep
// and compensation for that saga. mu is never acquired under the registry lock.
type entry struct {
	mu        sync.Mutex
	state     State
	processed map[string]struct{}
	evict     clockwork.Timer
}

func newEntry(st State) *entry {
	return &entry{state: st, processed: make(map[string]struct{})}
}

// seen marks key as processed and reports whether it already was.
func (e *entry) seen(key string) bool {
	if _, ok := e.processed[key]; ok {
		return true
	}
	e.processed[key] = struct{}{}
	return false
}

// registry maps saga ids to entries.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// insert adds e under id unless the id is taken.
func (r *registry) insert(id string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return false
	}
	r.entries[id] = e
	return true
}

func (r *registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// remove deletes id only while it still maps to e.
func (r *registry) remove(id string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok && cur == e {
		delete(r.entries, id)
		return true
	}
	return false
}

// snapshot returns the current entries so callers can iterate without the
// registry lock while handlers insert and evict concurrently.
func (r *registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func sortByStart(states []State) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].StartedAt.Equal(states[j].StartedAt) {
			return states[i].SagaID < states[j].SagaID
		}
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
}
