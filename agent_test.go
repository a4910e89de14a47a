package domselect

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quillon/domselect/address"
	"github.com/quillon/domselect/internal/extract"
	"github.com/quillon/domselect/internal/listener"
	"github.com/quillon/domselect/internal/overlay"
	"github.com/quillon/domselect/internal/session"
	"github.com/quillon/domselect/internal/store"
	"github.com/quillon/domselect/protocol"
)

// fakeRenderer records badge operations.
type fakeRenderer struct {
	created  map[string]string // id -> path
	disposed []string
	cleared  int
	passes   int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{created: make(map[string]string)}
}

func (f *fakeRenderer) Create(_ context.Context, id, path, _ string) error {
	f.created[id] = path
	return nil
}

func (f *fakeRenderer) Dispose(_ context.Context, id string) error {
	delete(f.created, id)
	f.disposed = append(f.disposed, id)
	return nil
}

func (f *fakeRenderer) Clear(context.Context) error {
	f.created = make(map[string]string)
	f.cleared++
	return nil
}

func (f *fakeRenderer) Reposition(context.Context) ([]string, error) {
	f.passes++
	return nil, nil
}

func (f *fakeRenderer) Count() int { return len(f.created) }

// fakeInteractions records mode flips.
type fakeInteractions struct {
	events    chan listener.Event
	modes     []bool
	forwarded int
}

func newFakeInteractions() *fakeInteractions {
	return &fakeInteractions{events: make(chan listener.Event, 16)}
}

func (f *fakeInteractions) Events() <-chan listener.Event { return f.events }

func (f *fakeInteractions) SetMode(_ context.Context, on bool) error {
	f.modes = append(f.modes, on)
	return nil
}

func (f *fakeInteractions) AttachViewportForwarders(context.Context) error {
	f.forwarded++
	return nil
}

func (f *fakeInteractions) Stop() {}

// fakeOutbound records sent envelopes.
type fakeOutbound struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (f *fakeOutbound) Send(_ context.Context, env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeOutbound) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, e := range f.sent {
		out[i] = e.Type
	}
	return out
}

func (f *fakeOutbound) last() protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return protocol.Envelope{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeOutbound) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// testAgent builds an Agent over a fixture tree, skipping the browser:
// document -> html -> body -> [div, div, p].
func testAgent(t *testing.T) (*Agent, *fakeRenderer, *fakeInteractions, *fakeOutbound) {
	t.Helper()

	tree := address.NewTree()
	tree.SetRoot(1)
	tree.Insert(1, 0, 2, "html")
	tree.Insert(2, 0, 3, "body")
	tree.Insert(3, 0, 4, "div")
	tree.Insert(3, 4, 5, "div")
	tree.Insert(3, 5, 6, "p")

	fr := newFakeRenderer()
	fi := newFakeInteractions()
	fo := &fakeOutbound{}

	a := &Agent{
		logger:    slog.Default(),
		tree:      tree,
		state:     session.NewMachine(),
		selection: session.NewStore(),
		sched:     overlay.NewScheduler(time.Millisecond),
		extractor: extract.New(),
		renderer:  fr,
		listen:    fi,
		out:       fo,
		ops:       make(chan func(context.Context), 16),
		sessionID: "test-session",
		pageURL:   "https://example.com",
		started:   time.Now(),
	}
	a.state.Set(session.StateReady)
	return a, fr, fi, fo
}

// drainFrames runs frame passes until the scheduler is idle.
func drainFrames(ctx context.Context, a *Agent) {
	for a.sched.Pending() {
		a.runFrame(ctx)
	}
}

const (
	divOnePath = "/html[1]/body[1]/div[1]"
	divTwoPath = "/html[1]/body[1]/div[2]"
	paraPath   = "/html[1]/body[1]/p[1]"
)

func statusOf(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	var p protocol.StatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal status payload: %v", err)
	}
	return p.Status
}

func TestDispatch_EnterSelection(t *testing.T) {
	a, _, fi, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.EnterElementSelection{})

	if got := a.state.Current(); got != session.StateElementSelection {
		t.Errorf("state = %q, want %q", got, session.StateElementSelection)
	}
	if len(fi.modes) != 1 || !fi.modes[0] {
		t.Errorf("SetMode calls = %v, want [true]", fi.modes)
	}
	env := fo.last()
	if env.Type != protocol.TypeStatus {
		t.Fatalf("last outbound = %q, want status", env.Type)
	}
	if got := statusOf(t, env); got != "element-selection" {
		t.Errorf("status = %q, want %q", got, "element-selection")
	}
}

func TestClick_TogglesSelection(t *testing.T) {
	a, fr, _, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.EnterElementSelection{})
	fo.reset()

	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divOnePath, Tag: "div"})

	id := address.IdentifierFor(divOnePath)
	if !a.selection.Has(id) {
		t.Fatalf("selection missing %s after click", id)
	}
	// Badge and notification land on the next frame pass.
	if len(fr.created) != 0 {
		t.Errorf("badge created synchronously; want deferred")
	}
	drainFrames(ctx, a)
	if fr.created[id] != divOnePath {
		t.Errorf("badge path = %q, want %q", fr.created[id], divOnePath)
	}

	env := fo.last()
	if env.Type != protocol.TypeSelectionChanged {
		t.Fatalf("last outbound = %q, want element-selection", env.Type)
	}
	var p protocol.SelectionChangedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ElementID != id || p.ElementXPath != divOnePath {
		t.Errorf("changed = (%q, %q), want (%q, %q)", p.ElementID, p.ElementXPath, id, divOnePath)
	}
	if len(p.SelectedElements) != 1 || p.SelectedElements[0].TagName != "div" {
		t.Errorf("selectedElements = %+v", p.SelectedElements)
	}

	// Second click on the same element removes it.
	fo.reset()
	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divOnePath, Tag: "div"})

	if a.selection.Has(id) {
		t.Error("selection still contains id after toggle-off click")
	}
	if len(fr.disposed) != 1 || fr.disposed[0] != id {
		t.Errorf("disposed = %v, want [%s]", fr.disposed, id)
	}
	env = fo.last()
	if env.Type != protocol.TypeSelectionChanged {
		t.Fatalf("last outbound = %q, want element-selection", env.Type)
	}
	json.Unmarshal(env.Payload, &p)
	if len(p.SelectedElements) != 0 {
		t.Errorf("selectedElements after removal = %+v, want empty", p.SelectedElements)
	}
	if p.ElementID != id {
		t.Errorf("removed elementId = %q, want %q", p.ElementID, id)
	}
}

func TestClick_IgnoredOutsideSelectionMode(t *testing.T) {
	a, _, _, fo := testAgent(t)
	ctx := context.Background()

	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divOnePath, Tag: "div"})

	if a.selection.Len() != 0 {
		t.Error("click outside selection mode mutated the store")
	}
	if len(fo.types()) != 0 {
		t.Errorf("outbound = %v, want none", fo.types())
	}
}

func TestDispatch_Ready(t *testing.T) {
	a, fr, fi, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.EnterElementSelection{})
	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divOnePath, Tag: "div"})
	drainFrames(ctx, a)
	fo.reset()

	a.dispatch(ctx, protocol.Ready{})

	if got := a.state.Current(); got != session.StateReady {
		t.Errorf("state = %q, want %q", got, session.StateReady)
	}
	if a.selection.Len() != 0 {
		t.Error("selection not cleared by ready")
	}
	if fr.Count() != 0 {
		t.Error("badges not cleared by ready")
	}
	if fi.modes[len(fi.modes)-1] {
		t.Error("selection mode still active after ready")
	}
	if got := statusOf(t, fo.last()); got != "ready" {
		t.Errorf("status = %q, want %q", got, "ready")
	}
}

func TestDispatch_ClearSelection(t *testing.T) {
	a, fr, _, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.EnterElementSelection{})
	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divOnePath, Tag: "div"})
	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: paraPath, Tag: "p"})
	drainFrames(ctx, a)
	fo.reset()

	a.dispatch(ctx, protocol.ClearSelection{})

	if a.selection.Len() != 0 {
		t.Error("selection not cleared")
	}
	if fr.Count() != 0 {
		t.Error("badges not cleared")
	}
	// Bulk operation: one status, no per-entry notifications.
	if got := fo.types(); len(got) != 1 || got[0] != protocol.TypeStatus {
		t.Errorf("outbound = %v, want [status]", got)
	}
	if got := a.state.Current(); got != session.StateElementSelection {
		t.Errorf("state changed to %q by clear-selection", got)
	}
}

func TestDispatch_RemoveSelection(t *testing.T) {
	a, fr, _, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.EnterElementSelection{})
	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divTwoPath, Tag: "div"})
	drainFrames(ctx, a)
	fo.reset()

	id := address.IdentifierFor(divTwoPath)
	a.dispatch(ctx, protocol.RemoveSelection{Element: id})

	if a.selection.Has(id) {
		t.Error("entry still present after remove-selection")
	}
	if len(fr.disposed) != 1 || fr.disposed[0] != id {
		t.Errorf("disposed = %v, want [%s]", fr.disposed, id)
	}
	types := fo.types()
	if len(types) != 2 || types[0] != protocol.TypeStatus || types[1] != protocol.TypeSelectionChanged {
		t.Errorf("outbound = %v, want [status element-selection]", types)
	}
}

func TestDispatch_RemoveSelection_Miss(t *testing.T) {
	a, fr, _, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.RemoveSelection{Element: "nope01"})

	if len(fr.disposed) != 0 {
		t.Errorf("disposed = %v, want none", fr.disposed)
	}
	// Status is still emitted; no selection-changed for a miss.
	if got := fo.types(); len(got) != 1 || got[0] != protocol.TypeStatus {
		t.Errorf("outbound = %v, want [status]", got)
	}
}

func TestDispatch_Rebuild(t *testing.T) {
	a, fr, _, fo := testAgent(t)
	ctx := context.Background()

	divTwo := address.IdentifierFor(divTwoPath)
	para := address.IdentifierFor(paraPath)

	a.dispatch(ctx, protocol.RebuildSelection{IDs: []string{divTwo, para, "zzzzzz"}})

	if a.selection.Len() != 2 {
		t.Fatalf("selection len = %d, want 2", a.selection.Len())
	}
	if got := a.state.Current(); got != session.StateElementSelection {
		t.Errorf("state = %q, want %q", got, session.StateElementSelection)
	}

	env := fo.last()
	if env.Type != protocol.TypeSelectionRebuilt {
		t.Fatalf("last outbound = %q, want selection-rebuilt", env.Type)
	}
	var p protocol.SelectionRebuiltPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(p.SelectedElementIDs) != 2 {
		t.Errorf("matched ids = %v, want 2", p.SelectedElementIDs)
	}
	// Document order: div[2] precedes p[1].
	if p.SelectedElementIDs[0] != divTwo || p.SelectedElementIDs[1] != para {
		t.Errorf("matched order = %v, want [%s %s]", p.SelectedElementIDs, divTwo, para)
	}

	drainFrames(ctx, a)
	if fr.Count() != 2 {
		t.Errorf("badges = %d, want 2", fr.Count())
	}

	// Each re-added entry goes through the regular add path, so the frame
	// pass emits one selection-changed notification per entry on top of
	// the rebuilt report.
	types := fo.types()
	var changed int
	for _, typ := range types {
		if typ == protocol.TypeSelectionChanged {
			changed++
		}
	}
	if changed != 2 {
		t.Errorf("element-selection notifications = %d (outbound %v), want 2", changed, types)
	}
}

func TestDispatch_Rebuild_NoMatches(t *testing.T) {
	a, _, _, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.RebuildSelection{IDs: []string{"aaaaaa", "bbbbbb"}})

	if a.selection.Len() != 0 {
		t.Errorf("selection len = %d, want 0", a.selection.Len())
	}
	if got := a.state.Current(); got != session.StateReady {
		t.Errorf("state = %q, want unchanged %q", got, session.StateReady)
	}

	env := fo.last()
	if env.Type != protocol.TypeSelectionRebuilt {
		t.Fatalf("last outbound = %q, want selection-rebuilt", env.Type)
	}
	var p protocol.SelectionRebuiltPayload
	json.Unmarshal(env.Payload, &p)
	if len(p.SelectedElements) != 0 || len(p.SelectedElementIDs) != 0 {
		t.Errorf("payload = %+v, want empty lists", p)
	}
}

func TestDispatch_Rebuild_Idempotent(t *testing.T) {
	a, _, _, _ := testAgent(t)
	ctx := context.Background()

	ids := []string{address.IdentifierFor(divOnePath), address.IdentifierFor(paraPath)}

	a.dispatch(ctx, protocol.RebuildSelection{IDs: ids})
	first := a.selection.IDs()
	a.dispatch(ctx, protocol.RebuildSelection{IDs: ids})
	second := a.selection.IDs()

	if len(first) != len(second) {
		t.Fatalf("rebuild not idempotent: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("rebuild order differs at %d: %v vs %v", i, first, second)
		}
	}
}

func TestScroll_CoalescesIntoOnePass(t *testing.T) {
	a, fr, _, _ := testAgent(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		a.handleEvent(ctx, listener.Event{Kind: listener.KindScroll})
	}
	if !a.sched.Pending() {
		t.Fatal("no frame pending after scroll burst")
	}
	drainFrames(ctx, a)
	if fr.passes != 1 {
		t.Errorf("reposition passes = %d, want 1", fr.passes)
	}
}

func TestBadgeClose_RemovesSelection(t *testing.T) {
	a, _, _, fo := testAgent(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.EnterElementSelection{})
	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divOnePath, Tag: "div"})
	drainFrames(ctx, a)
	fo.reset()

	id := address.IdentifierFor(divOnePath)
	a.handleEvent(ctx, listener.Event{Kind: listener.KindBadgeClose, ID: id})

	if a.selection.Has(id) {
		t.Error("selection still contains id after badge close")
	}
	if env := fo.last(); env.Type != protocol.TypeSelectionChanged {
		t.Errorf("last outbound = %q, want element-selection", env.Type)
	}
}

func TestSelectionPersistence(t *testing.T) {
	a, _, _, _ := testAgent(t)
	a.persist = store.OpenMemory(t)
	ctx := context.Background()

	a.dispatch(ctx, protocol.EnterElementSelection{})
	a.handleEvent(ctx, listener.Event{Kind: listener.KindClick, Path: divTwoPath, Tag: "div"})

	ids, err := a.savedIDs(ctx)
	if err != nil {
		t.Fatalf("savedIDs: %v", err)
	}
	want := address.IdentifierFor(divTwoPath)
	if len(ids) != 1 || ids[0] != want {
		t.Errorf("saved ids = %v, want [%s]", ids, want)
	}

	// Removing the entry empties the saved set.
	a.dispatch(ctx, protocol.RemoveSelection{Element: want})
	ids, _ = a.savedIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("saved ids after remove = %v, want empty", ids)
	}
}

func TestSnapshot(t *testing.T) {
	a, _, _, _ := testAgent(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.loop(ctx)

	if err := a.Do(ctx, func(c context.Context) {
		a.dispatch(c, protocol.EnterElementSelection{})
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	snap, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.State != "element-selection" {
		t.Errorf("snapshot state = %q, want element-selection", snap.State)
	}
	if snap.SessionID != "test-session" {
		t.Errorf("snapshot session = %q", snap.SessionID)
	}
	if len(snap.Selected) != 0 {
		t.Errorf("snapshot selected = %+v, want empty", snap.Selected)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	a, _, _, _ := testAgent(t)

	// No loop running: a cancelled context must surface as an error, not
	// silently complete.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Do(ctx, func(context.Context) {
		t.Error("op ran despite cancelled context and no loop")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do = %v, want context.Canceled", err)
	}
}
