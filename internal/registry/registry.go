package registry

import (
	"sync"
	"time"
)

// ChangeKind names what happened to the registry.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeCleared ChangeKind = "cleared"
)

// Change is published to subscribers after every successful mutation.
// Entry is zero for ChangeCleared.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Entry      Entry      `json:"entry"`
	Generation uint64     `json:"generation"`
}

// Mutator receives the latest stored entry and returns its replacement.
// Returning false leaves the registry untouched.
type Mutator func(current Entry) (Entry, bool)

// Registry is the ordered set of tracked files.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	entries    map[string]Entry
	generation uint64
	now        func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		entries:    make(map[string]Entry),
		generation: 1,
		now:        time.Now,
		subs:       make(map[int]chan Change),
	}
}

// Generation returns the current clear-all epoch.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Admit inserts every candidate whose key is not already present and returns
// the inserted entries in input order. Only Key and DisplayName are read from
// candidates; new entries start pending. The membership check and the insert
// happen under one lock, so concurrent admissions of the same key insert it
// exactly once.
func (r *Registry) Admit(candidates []Entry) []Entry {
	if len(candidates) == 0 {
		return nil
	}
	r.mu.Lock()
	now := r.now()
	added := make([]Entry, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Key == "" {
			continue
		}
		if _, exists := r.entries[candidate.Key]; exists {
			continue
		}
		entry := Entry{
			Key:         candidate.Key,
			DisplayName: candidate.DisplayName,
			Status:      StatusPending,
			Generation:  r.generation,
			AddedAt:     now,
			UpdatedAt:   now,
		}
		r.entries[entry.Key] = entry
		r.order = append(r.order, entry.Key)
		added = append(added, entry)
		r.publish(Change{Kind: ChangeAdded, Entry: entry, Generation: entry.Generation})
	}
	r.mu.Unlock()
	return added
}

// Upsert applies mutate to the latest stored entry for key. Absent keys are
// never created. Identity fields are restored after mutation, Size follows
// Metadata, and Message is cleared for every status except error.
func (r *Registry) Upsert(key string, mutate Mutator) (Entry, bool) {
	r.mu.Lock()
	current, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return Entry{}, false
	}
	next, keep := mutate(current)
	if !keep {
		r.mu.Unlock()
		return current, false
	}
	next.Key = current.Key
	next.DisplayName = current.DisplayName
	next.Generation = current.Generation
	next.AddedAt = current.AddedAt
	next.UpdatedAt = r.now()
	if next.Metadata != nil {
		next.Size = next.Metadata.SizeBytes
	}
	if next.Status != StatusError {
		next.Message = ""
	}
	r.entries[key] = next
	r.publish(Change{Kind: ChangeUpdated, Entry: next, Generation: next.Generation})
	r.mu.Unlock()
	return next, true
}

// Guard wraps m so it only applies to the entry admitted in generation gen.
func Guard(gen uint64, m Mutator) Mutator {
	return func(current Entry) (Entry, bool) {
		if current.Generation != gen {
			return current, false
		}
		return m(current)
	}
}

// ClearAll removes every entry and starts a new generation. It returns the
// number of entries removed.
func (r *Registry) ClearAll() int {
	r.mu.Lock()
	removed := len(r.order)
	r.order = nil
	r.entries = make(map[string]Entry)
	r.generation++
	r.publish(Change{Kind: ChangeCleared, Generation: r.generation})
	r.mu.Unlock()
	return removed
}

// Get returns the entry stored under key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	return entry, ok
}

// Snapshot returns every entry in admission order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key])
	}
	return out
}

// Keys returns the tracked keys in admission order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Filter returns entries with the given status in admission order.
func (r *Registry) Filter(status Status) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, key := range r.order {
		if entry := r.entries[key]; entry.Status == status {
			out = append(out, entry)
		}
	}
	return out
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Counts returns the number of entries per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int, len(allStatuses))
	for _, entry := range r.entries {
		counts[entry.Status]++
	}
	return counts
}

// Subscribe returns a channel receiving every change until cancel is called.
// Delivery never blocks the registry: when the buffer is full the change is
// dropped for that subscriber, which should re-sync from Snapshot.
func (r *Registry) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish runs with r.mu held so subscribers observe changes in commit order.
func (r *Registry) publish(change Change) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
