package session

import (
	"github.com/samber/lo"

	"github.com/quillon/domselect/address"
)

// Entry is one selected element: its stable identifier, the live node it
// was resolved to, and the Structural Path the identifier was derived
// from. The node reference is held for liveness tracking only; the element
// itself belongs to the document.
type Entry struct {
	ID   string
	Node address.NodeID
	Path string
	Tag  string
}

// Store maps stable identifiers to selection entries, preserving insertion
// order for outbound lists. It is mutated only from the agent loop; badge
// and marker side effects belong to the caller, which keeps the store a
// plain data structure.
type Store struct {
	entries map[string]Entry
	order   []string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Add inserts an entry. Callers guard against duplicate ids; a duplicate
// Add overwrites in place without disturbing order.
func (s *Store) Add(e Entry) {
	if _, ok := s.entries[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.entries[e.ID] = e
}

// Remove deletes an entry by id, returning it. A miss is a no-op.
func (s *Store) Remove(id string) (Entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(s.entries, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return e, true
}

// Clear empties the store and returns the removed entries so the caller
// can tear down their visuals.
func (s *Store) Clear() []Entry {
	out := s.Entries()
	s.entries = make(map[string]Entry)
	s.order = nil
	return out
}

// Has reports whether id is selected.
func (s *Store) Has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns all entries in insertion order.
func (s *Store) Entries() []Entry {
	return lo.Map(s.order, func(id string, _ int) Entry { return s.entries[id] })
}

// IDs returns all identifiers in insertion order.
func (s *Store) IDs() []string {
	return append([]string(nil), s.order...)
}

// Match performs the full-document scan behind a selection rebuild:
// every element's current path is hashed and compared against the
// requested identifier set. The result is the subset that still resolves,
// in document order — a strict subset of requested when targets no longer
// exist. Matching mutates nothing; the caller decides what to do with the
// result.
func Match(requested []string, tree *address.Tree) []Entry {
	want := make(map[string]bool, len(requested))
	for _, id := range requested {
		want[id] = true
	}

	var out []Entry
	tree.Scan(func(node address.NodeID, path string) {
		id := address.IdentifierFor(path)
		if !want[id] {
			return
		}
		tag := ""
		if segs, err := address.Parse(path); err == nil {
			tag = segs[len(segs)-1].Tag
		}
		out = append(out, Entry{ID: id, Node: node, Path: path, Tag: tag})
		delete(want, id)
	})
	return out
}
