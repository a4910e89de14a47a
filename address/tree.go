package address

import (
	"sync"
)

// NodeID identifies one element node in a tracked document. For live pages
// it carries the CDP node id; for parsed snapshots it is synthetic.
type NodeID int64

// Tree is a side-table of the element structure of one document: tag,
// parent and ordered children per node. It exists so Structural Paths can
// be recomputed on demand from the current shape — paths are never cached
// across mutations.
//
// The document node itself is held as the root and carries no tag; only
// element nodes appear in paths.
type Tree struct {
	mu       sync.RWMutex
	root     NodeID
	hasRoot  bool
	tags     map[NodeID]string
	parent   map[NodeID]NodeID
	children map[NodeID][]NodeID
}

// NewTree creates an empty Tree.
func NewTree() *Tree {
	t := &Tree{}
	t.reset()
	return t
}

func (t *Tree) reset() {
	t.tags = make(map[NodeID]string)
	t.parent = make(map[NodeID]NodeID)
	t.children = make(map[NodeID][]NodeID)
	t.hasRoot = false
	t.root = 0
}

// Reset drops all tracked nodes. Used when the document is replaced
// wholesale (navigation, document.write).
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

// SetRoot registers the document node. It has no tag and no path.
func (t *Tree) SetRoot(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = id
	t.hasRoot = true
	if _, ok := t.children[id]; !ok {
		t.children[id] = nil
	}
}

// Insert registers an element under parent, ordered after prev. prev == 0
// means first child. Unknown prev appends, matching how late-arriving
// notifications behave.
func (t *Tree) Insert(parent, prev, id NodeID, tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tags[id] = lower(tag)
	t.parent[id] = parent

	kids := t.children[parent]
	if prev == 0 {
		t.children[parent] = append([]NodeID{id}, kids...)
		return
	}
	for i, k := range kids {
		if k == prev {
			out := make([]NodeID, 0, len(kids)+1)
			out = append(out, kids[:i+1]...)
			out = append(out, id)
			out = append(out, kids[i+1:]...)
			t.children[parent] = out
			return
		}
	}
	t.children[parent] = append(kids, id)
}

// Remove unregisters a node and its whole subtree.
func (t *Tree) Remove(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *Tree) removeLocked(id NodeID) {
	for _, k := range t.children[id] {
		t.removeLocked(k)
	}
	if p, ok := t.parent[id]; ok {
		kids := t.children[p]
		for i, k := range kids {
			if k == id {
				t.children[p] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	delete(t.tags, id)
	delete(t.parent, id)
	delete(t.children, id)
}

// Contains reports whether id is a tracked element.
func (t *Tree) Contains(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tags[id]
	return ok
}

// Len returns the number of tracked element nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tags)
}

// PathOf recomputes the Structural Path of an element from the current
// shape. It returns "" for the root, unknown ids, and nodes whose ancestor
// chain no longer reaches the document root (detached subtrees).
func (t *Tree) PathOf(id NodeID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.tags[id]; !ok {
		return ""
	}

	var segs []Segment
	cur := id
	for {
		tag, isElem := t.tags[cur]
		if !isElem {
			break
		}
		p, ok := t.parent[cur]
		if !ok {
			return "" // detached
		}
		idx := 1
		for _, sib := range t.children[p] {
			if sib == cur {
				break
			}
			if t.tags[sib] == tag {
				idx++
			}
		}
		segs = append([]Segment{{Tag: tag, Index: idx}}, segs...)
		cur = p
	}
	if !t.hasRoot || cur != t.root {
		return ""
	}
	return Join(segs)
}

// Resolve walks a Structural Path down from the document root and returns
// the matching element. Paths into since-removed subtrees resolve to
// (0, false) rather than failing.
func (t *Tree) Resolve(path string) (NodeID, bool) {
	segs, err := Parse(path)
	if err != nil {
		return 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.hasRoot {
		return 0, false
	}
	cur := t.root
	for _, seg := range segs {
		next := NodeID(0)
		n := 0
		for _, k := range t.children[cur] {
			if t.tags[k] != seg.Tag {
				continue
			}
			n++
			if n == seg.Index {
				next = k
				break
			}
		}
		if next == 0 {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// Scan enumerates every tracked element with its current Structural Path,
// in document order. This is the full-document pass behind selection
// rebuilds.
func (t *Tree) Scan(fn func(id NodeID, path string)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.hasRoot {
		return
	}
	t.scanLocked(t.root, "", fn)
}

func (t *Tree) scanLocked(parent NodeID, parentPath string, fn func(NodeID, string)) {
	counts := make(map[string]int)
	for _, k := range t.children[parent] {
		tag, ok := t.tags[k]
		if !ok {
			continue
		}
		counts[tag]++
		path := parentPath + "/" + Segment{Tag: tag, Index: counts[tag]}.String()
		fn(k, path)
		t.scanLocked(k, path, fn)
	}
}

func lower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			return lowerSlow(s)
		}
	}
	return s
}

func lowerSlow(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
