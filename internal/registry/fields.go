// Package registry holds the client-local table and field caches.
package registry

import "sync"

// Field is an addressable value slot known to the client.
type Field struct {
	ID  int
	Tag string

	mu    sync.RWMutex
	value any
}

// Set stores v in the field.
func (f *Field) Set(v any) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

// Value returns the stored value, nil if never set.
func (f *Field) Value() any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

// Fields allocates field ids and maps tags to fields.
//
// Ids are the smallest non-negative integers not in use, so an id freed by
// Remove is handed out again. Each tag maps to exactly one field and every
// tagged id is present in the id index.
type Fields struct {
	mu      sync.Mutex
	byID    map[int]*Field
	tagToID map[string]int
}

// NewFields returns an empty field registry.
func NewFields() *Fields {
	return &Fields{
		byID:    make(map[int]*Field),
		tagToID: make(map[string]int),
	}
}

// Get returns the field with id.
func (r *Fields) Get(id int) (*Field, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byID[id]
	return f, ok
}

// Lookup returns the field tagged tag without creating one.
func (r *Fields) Lookup(tag string) (*Field, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.tagToID[tag]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// GetOrCreate returns the field tagged tag, creating it on first use. The
// first caller for a new tag creates the field; concurrent callers get it.
func (r *Fields) GetOrCreate(tag string) (f *Field, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.tagToID[tag]; ok {
		return r.byID[id], false
	}
	f = r.createLocked(tag)
	r.tagToID[tag] = f.ID
	return f, true
}

// Create allocates an untagged field.
func (r *Fields) Create() *Field {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked("")
}

// Remove deletes the field with id and its tag. The id becomes available
// to the allocator again.
func (r *Fields) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if f.Tag != "" {
		delete(r.tagToID, f.Tag)
	}
	return true
}

// Len returns the number of fields.
func (r *Fields) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Fields) createLocked(tag string) *Field {
	f := &Field{ID: r.nextIDLocked(), Tag: tag}
	r.byID[f.ID] = f
	return f
}

// nextIDLocked scans upward from zero for the first unused id.
func (r *Fields) nextIDLocked() int {
	id := 0
	for {
		if _, used := r.byID[id]; !used {
			return id
		}
		id++
	}
}
