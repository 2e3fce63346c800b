package registry

import (
	"sort"
	"sync"
)

// Table is a server table resolved to its id.
type Table struct {
	ID   int32
	Name string
}

// Tables caches table name to id resolutions for one client session.
// Entries are never removed.
type Tables struct {
	mu     sync.RWMutex
	byName map[string]*Table
	byID   map[int32]*Table
}

// NewTables returns an empty table cache.
func NewTables() *Tables {
	return &Tables{
		byName: make(map[string]*Table),
		byID:   make(map[int32]*Table),
	}
}

// Lookup returns the cached table for name.
func (t *Tables) Lookup(name string) (*Table, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	table, ok := t.byName[name]
	return table, ok
}

// ByID returns the cached table with id.
func (t *Tables) ByID(id int32) (*Table, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	table, ok := t.byID[id]
	return table, ok
}

// Put records name -> id. It returns the stored entry and whether the cache
// changed. A name that moves to a new id is updated in place.
func (t *Tables) Put(name string, id int32) (*Table, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byName[name]; ok {
		if existing.ID == id {
			return existing, false
		}
		if t.byID[existing.ID] == existing {
			delete(t.byID, existing.ID)
		}
		existing.ID = id
		t.byID[id] = existing
		return existing, true
	}

	table := &Table{ID: id, Name: name}
	t.byName[name] = table
	t.byID[id] = table
	return table, true
}

// Alias makes name resolve to the same entry as table. Used when the server
// canonicalizes the requested name.
func (t *Tables) Alias(name string, table *Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byName[name]; !ok {
		t.byName[name] = table
	}
}

// All returns a snapshot of the cached tables ordered by id.
func (t *Tables) All() []Table {
	t.mu.RLock()
	out := make([]Table, 0, len(t.byID))
	for _, table := range t.byID {
		out = append(out, *table)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of distinct tables.
func (t *Tables) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
