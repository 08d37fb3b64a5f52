package memstore

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/varkeep/internal/ir"
)

// Entry is the in-memory state of one variable instance.
//
// For literal variables Value is the absolute value. For formula variables
// Value is the increment over the resolved base. HasValue is false when
// nothing was written yet and the display value is the base alone.
type Entry struct {
	Value    string
	HasValue bool

	// StrictBase is the frozen initial value of a strict-initial-mode
	// variable. Valid only when StrictComputed is set.
	StrictBase     string
	StrictComputed bool

	Dirty   bool
	Deleted bool

	FirstModified time.Time
	Updated       time.Time
	Version       int64
}

// Record is an Entry together with its address. Dirty snapshots and
// persisted loads are expressed as records.
type Record struct {
	Scope    ir.Scope
	Identity string
	Key      string
	Entry
}

// partition holds the entries of one identity, or the global entries.
type partition struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	evicted bool
}

func newPartition() *partition {
	return &partition{entries: make(map[string]*Entry)}
}

// Store is the authoritative in-memory variable store.
//
// Each identity has its own partition and lock; the identity index has a
// separate lock. Reads never touch I/O.
type Store struct {
	global *partition

	mu         sync.RWMutex
	identities map[string]*partition

	clock VersionClock
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the version clock.
func WithClock(c VersionClock) Option {
	return func(s *Store) { s.clock = c }
}

// WithNow sets the wall clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		global:     newPartition(),
		identities: make(map[string]*partition),
		clock:      NewClock(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the partition for reads, or nil.
func (s *Store) lookup(scope ir.Scope, identity string) *partition {
	if scope == ir.ScopeGlobal {
		return s.global
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identities[identity]
}

// lockForWrite returns the partition for (scope, identity) locked for
// writing, creating it if needed. The caller must unlock it.
func (s *Store) lockForWrite(scope ir.Scope, identity string) *partition {
	if scope == ir.ScopeGlobal {
		s.global.mu.Lock()
		return s.global
	}
	for {
		s.mu.Lock()
		p, ok := s.identities[identity]
		if !ok {
			p = newPartition()
			s.identities[identity] = p
		}
		s.mu.Unlock()

		p.mu.Lock()
		if !p.evicted {
			return p
		}
		// Evicted between index lookup and lock; retry with a fresh one.
		p.mu.Unlock()
	}
}

// touch stamps e as modified.
func (s *Store) touch(e *Entry) {
	now := s.now()
	if e.FirstModified.IsZero() {
		e.FirstModified = now
	}
	e.Updated = now
	e.Dirty = true
	e.Version = s.clock.Next()
}

// Get returns a copy of the live entry. Tombstones are not returned.
func (s *Store) Get(scope ir.Scope, identity, key string) (Entry, bool) {
	p := s.lookup(scope, identity)
	if p == nil {
		return Entry{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[key]
	if !ok || e.Deleted {
		return Entry{}, false
	}
	return *e, true
}

// Set stores value and marks the entry dirty. A tombstone is revived
// without its previous strict base.
func (s *Store) Set(scope ir.Scope, identity, key, value string) Entry {
	p := s.lockForWrite(scope, identity)
	defer p.mu.Unlock()

	e := p.entry(key)
	e.Value = value
	e.HasValue = true
	s.touch(e)
	return *e
}

// SetStrictBase stores the frozen strict base and marks the entry dirty.
func (s *Store) SetStrictBase(scope ir.Scope, identity, key, base string) Entry {
	p := s.lockForWrite(scope, identity)
	defer p.mu.Unlock()

	e := p.entry(key)
	e.StrictBase = base
	e.StrictComputed = true
	s.touch(e)
	return *e
}

// Remove turns the entry into a dirty tombstone so the durable row is
// deleted on the next flush. A tombstone is written even when nothing was
// in memory. Reports whether a live entry existed.
func (s *Store) Remove(scope ir.Scope, identity, key string) bool {
	p := s.lockForWrite(scope, identity)
	defer p.mu.Unlock()

	e, existed := p.entries[key]
	live := existed && !e.Deleted
	if !existed {
		e = &Entry{}
		p.entries[key] = e
	}
	*e = Entry{Deleted: true, FirstModified: e.FirstModified}
	s.touch(e)
	return live
}

// entry returns the entry for key, creating or reviving it. Caller holds
// the write lock.
func (p *partition) entry(key string) *Entry {
	e, ok := p.entries[key]
	if !ok {
		e = &Entry{}
		p.entries[key] = e
		return e
	}
	if e.Deleted {
		*e = Entry{FirstModified: e.FirstModified}
	}
	return e
}

// LoadFromPersisted inserts a clean entry read from the backing store.
// A dirty in-memory entry always wins. Reports whether rec was applied.
func (s *Store) LoadFromPersisted(rec Record) bool {
	p := s.lockForWrite(rec.Scope, rec.Identity)
	defer p.mu.Unlock()

	if cur, ok := p.entries[rec.Key]; ok && cur.Dirty {
		return false
	}
	e := rec.Entry
	e.Dirty = false
	e.Deleted = false
	e.Version = s.clock.Next()
	p.entries[rec.Key] = &e
	return true
}

// ClearDirtyFlag marks the entry clean without persisting it. Used for
// variables that are not persistable. A tombstone is dropped.
func (s *Store) ClearDirtyFlag(scope ir.Scope, identity, key string) {
	p := s.lookup(scope, identity)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return
	}
	if e.Deleted {
		delete(p.entries, key)
		return
	}
	e.Dirty = false
}

// DirtySnapshot returns copies of every dirty entry, globals first, then
// identities in sorted order.
func (s *Store) DirtySnapshot() []Record {
	out := s.global.dirty(ir.ScopeGlobal, "")

	s.mu.RLock()
	ids := make([]string, 0, len(s.identities))
	parts := make(map[string]*partition, len(s.identities))
	for id, p := range s.identities {
		ids = append(ids, id)
		parts[id] = p
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		out = append(out, parts[id].dirty(ir.ScopePlayer, id)...)
	}
	return out
}

// DirtyFor returns copies of the dirty entries of one identity.
func (s *Store) DirtyFor(identity string) []Record {
	p := s.lookup(ir.ScopePlayer, identity)
	if p == nil {
		return []Record{}
	}
	return p.dirty(ir.ScopePlayer, identity)
}

func (p *partition) dirty(scope ir.Scope, identity string) []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := []Record{}
	for key, e := range p.entries {
		if e.Dirty {
			out = append(out, Record{Scope: scope, Identity: identity, Key: key, Entry: *e})
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// MarkClean clears the dirty flag of the entry rec was taken from, but
// only if the entry has not changed since. A clean tombstone is dropped.
// Reports whether the entry was cleaned.
func (s *Store) MarkClean(rec Record) bool {
	p := s.lookup(rec.Scope, rec.Identity)
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[rec.Key]
	if !ok || e.Version != rec.Version {
		return false
	}
	if e.Deleted {
		delete(p.entries, rec.Key)
		return true
	}
	e.Dirty = false
	return true
}

// PurgeKey removes key from every partition, dirty or not. Returns the
// number of entries removed.
func (s *Store) PurgeKey(key string) int {
	n := s.global.purge(key)

	s.mu.RLock()
	parts := make([]*partition, 0, len(s.identities))
	for _, p := range s.identities {
		parts = append(parts, p)
	}
	s.mu.RUnlock()

	for _, p := range parts {
		n += p.purge(key)
	}
	return n
}

func (p *partition) purge(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; !ok {
		return 0
	}
	delete(p.entries, key)
	return 1
}

// EvictIdentity drops the partition of identity if it holds no dirty
// entries. Reports whether the partition is gone.
func (s *Store) EvictIdentity(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.identities[identity]
	if !ok {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.Dirty {
			return false
		}
	}
	p.evicted = true
	delete(s.identities, identity)
	return true
}

// Identities returns the identities currently held in memory, sorted.
func (s *Store) Identities() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.identities))
	for id := range s.identities {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Stats summarises the store contents.
type Stats struct {
	Entries    int
	Dirty      int
	Identities int
}

// Stats counts live entries and dirty entries (tombstones included).
func (s *Store) Stats() Stats {
	var st Stats
	count := func(p *partition) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		for _, e := range p.entries {
			if !e.Deleted {
				st.Entries++
			}
			if e.Dirty {
				st.Dirty++
			}
		}
	}

	count(s.global)
	s.mu.RLock()
	parts := make([]*partition, 0, len(s.identities))
	for _, p := range s.identities {
		parts = append(parts, p)
	}
	st.Identities = len(s.identities)
	s.mu.RUnlock()
	for _, p := range parts {
		count(p)
	}
	return st
}
