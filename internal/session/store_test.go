package session

import (
	"reflect"
	"testing"

	"github.com/quillon/domselect/address"
)

func fixtureTree() *address.Tree {
	t := address.NewTree()
	t.SetRoot(1)
	t.Insert(1, 0, 2, "html")
	t.Insert(2, 0, 3, "body")
	t.Insert(3, 0, 4, "div")
	t.Insert(3, 4, 5, "div")
	t.Insert(5, 0, 6, "p")
	return t
}

func TestStore_AddRemove(t *testing.T) {
	s := NewStore()
	s.Add(Entry{ID: "aaa", Node: 4, Path: "/html[1]/body[1]/div[1]", Tag: "div"})
	s.Add(Entry{ID: "bbb", Node: 5, Path: "/html[1]/body[1]/div[2]", Tag: "div"})

	if !s.Has("aaa") || !s.Has("bbb") {
		t.Fatal("entries missing after Add")
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	e, ok := s.Remove("aaa")
	if !ok {
		t.Fatal("Remove(aaa) missed")
	}
	if e.Path != "/html[1]/body[1]/div[1]" {
		t.Errorf("removed entry path = %q", e.Path)
	}
	if s.Has("aaa") {
		t.Error("aaa still present after Remove")
	}

	if _, ok := s.Remove("aaa"); ok {
		t.Error("second Remove(aaa) should be a no-op miss")
	}
}

func TestStore_OrderPreserved(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Add(Entry{ID: id})
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("IDs = %v, want insertion order", got)
	}

	s.Remove("a")
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("IDs after remove = %v", got)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Add(Entry{ID: "x"})
	s.Add(Entry{ID: "y"})

	removed := s.Clear()
	if len(removed) != 2 {
		t.Fatalf("Clear returned %d entries, want 2", len(removed))
	}
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d", s.Len())
	}
	if got := s.Entries(); len(got) != 0 {
		t.Errorf("Entries after Clear = %v", got)
	}
}

func TestMatch_SubsetAndOrder(t *testing.T) {
	tree := fixtureTree()

	div2 := address.IdentifierFor("/html[1]/body[1]/div[2]")
	p1 := address.IdentifierFor("/html[1]/body[1]/div[2]/p[1]")

	got := Match([]string{p1, div2, "zzzzzz"}, tree)

	if len(got) != 2 {
		t.Fatalf("Match returned %d entries, want 2: %+v", len(got), got)
	}
	// Document order, not request order.
	if got[0].ID != div2 || got[1].ID != p1 {
		t.Errorf("entries out of document order: %+v", got)
	}
	if got[0].Tag != "div" || got[1].Tag != "p" {
		t.Errorf("tags = %q, %q", got[0].Tag, got[1].Tag)
	}
	if got[0].Node != 5 || got[1].Node != 6 {
		t.Errorf("nodes = %d, %d", got[0].Node, got[1].Node)
	}
}

func TestMatch_Idempotent(t *testing.T) {
	tree := fixtureTree()
	ids := []string{
		address.IdentifierFor("/html[1]/body[1]/div[1]"),
		address.IdentifierFor("/html[1]/body[1]/div[2]"),
	}

	first := Match(ids, tree)
	second := Match(ids, tree)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Match not idempotent: %+v vs %+v", first, second)
	}
}

func TestMatch_NothingMatches(t *testing.T) {
	tree := fixtureTree()
	if got := Match([]string{"a1b2c3"}, tree); len(got) != 0 {
		t.Errorf("Match = %+v, want empty", got)
	}
}

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	if m.Current() != StateInitializing {
		t.Fatalf("initial state = %q", m.Current())
	}

	if changed := m.Set(StateReady); !changed {
		t.Error("Initializing→Ready should report a change")
	}
	if changed := m.Set(StateReady); changed {
		t.Error("Ready→Ready should not report a change")
	}

	m.Set(StateElementSelection)
	if !m.InSelection() {
		t.Error("InSelection false in element-selection state")
	}
	m.Set(StateReady)
	if m.InSelection() {
		t.Error("InSelection true after leaving selection state")
	}
}
