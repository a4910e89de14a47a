package domselect

import (
	"context"

	"github.com/samber/lo"

	"github.com/quillon/domselect/internal/browser"
	"github.com/quillon/domselect/internal/session"
	"github.com/quillon/domselect/internal/store"
	"github.com/quillon/domselect/protocol"
)

// SelectedElement is one entry in an outbound selection list.
type SelectedElement = protocol.SelectedElement

// dispatch applies one inbound command. The channel has already pinned the
// origin and acked the raw message before the command reaches here.
func (a *Agent) dispatch(ctx context.Context, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.Ready:
		a.clearAll(ctx)
		a.setSelecting(ctx, false)
		a.state.Set(session.StateReady)
		a.out.Send(ctx, protocol.Status(string(session.StateReady)))

	case protocol.EnterElementSelection:
		a.clearAll(ctx)
		a.setSelecting(ctx, true)
		a.state.Set(session.StateElementSelection)
		a.out.Send(ctx, protocol.Status(string(session.StateElementSelection)))

	case protocol.ClearSelection:
		a.clearAll(ctx)
		a.out.Send(ctx, protocol.Status(string(a.state.Current())))

	case protocol.RemoveSelection:
		a.out.Send(ctx, protocol.Status(string(a.state.Current())))
		a.removeSelection(ctx, c.Element)

	case protocol.RebuildSelection:
		a.rebuild(ctx, c.IDs)

	case protocol.Unknown:
		a.logger.Debug("domselect: ignoring unknown command", "type", c.Type)
	}
}

// addSelection inserts an entry and defers marker, badge and notification
// to the next frame pass, so a just-inserted element has settled geometry
// before its bounding box is read.
func (a *Agent) addSelection(ctx context.Context, id, path, tag string) {
	node, _ := a.tree.Resolve(path)
	a.selection.Add(session.Entry{ID: id, Node: node, Path: path, Tag: tag})

	a.sched.Enqueue(func() {
		if err := a.renderer.Create(ctx, id, path, tag); err != nil {
			a.logger.Warn("domselect: create badge", "id", id, "error", err)
		}
		a.emitSelectionChanged(ctx, id, path)
	})
	a.save(ctx)
}

// removeSelection removes one entry: marker and badge go synchronously,
// then a selection-changed notification carries the removed id and path.
// A miss is a no-op.
func (a *Agent) removeSelection(ctx context.Context, id string) {
	e, ok := a.selection.Remove(id)
	if !ok {
		return
	}
	if err := a.renderer.Dispose(ctx, id); err != nil {
		a.logger.Warn("domselect: dispose badge", "id", id, "error", err)
	}
	a.emitSelectionChanged(ctx, e.ID, e.Path)
	a.save(ctx)
}

// clearAll empties the store and tears down every badge. Bulk operation:
// no per-entry notifications.
func (a *Agent) clearAll(ctx context.Context) {
	removed := a.selection.Clear()
	if err := a.renderer.Clear(ctx); err != nil {
		a.logger.Warn("domselect: clear badges", "error", err)
	}
	if len(removed) > 0 {
		a.save(ctx)
	}
}

// rebuild reconstructs a selection from stable identifiers alone: clear,
// full-document scan, then the regular add path for every identifier that
// still resolves, so each re-added entry gets its badge and its own
// selection-changed notification on the frame pass. A non-empty result
// moves the session into element selection; the rebuilt report is a
// separate message, sent regardless of count.
func (a *Agent) rebuild(ctx context.Context, ids []string) {
	a.clearAll(ctx)

	matched := session.Match(ids, a.tree)
	for _, e := range matched {
		a.addSelection(ctx, e.ID, e.Path, e.Tag)
	}

	if len(matched) > 0 {
		a.state.Set(session.StateElementSelection)
		a.setSelecting(ctx, true)
		a.out.Send(ctx, protocol.Status(string(session.StateElementSelection)))
	}
	a.out.Send(ctx, protocol.SelectionRebuilt(a.selectedElements()))

	a.logger.Info("domselect: selection rebuilt",
		"requested", len(ids), "matched", len(matched))
}

// onDocumentUpdated re-resolves the session after the page replaced its
// document (navigation, document.write): rebuild the tree, then re-anchor
// the selection by identifier. Entries whose position no longer exists are
// dropped silently.
func (a *Agent) onDocumentUpdated(ctx context.Context) {
	if a.tab == nil {
		return
	}
	if err := browser.BuildTree(ctx, a.tab, a.tree); err != nil {
		a.logger.Warn("domselect: rebuild tree after document update", "error", err)
		return
	}

	ids := a.selection.IDs()
	if len(ids) == 0 {
		return
	}
	a.selection.Clear()
	if err := a.renderer.Clear(ctx); err != nil {
		a.logger.Warn("domselect: clear badges after document update", "error", err)
	}

	for _, e := range session.Match(ids, a.tree) {
		a.selection.Add(e)
		e := e
		a.sched.Enqueue(func() {
			if err := a.renderer.Create(ctx, e.ID, e.Path, e.Tag); err != nil {
				a.logger.Warn("domselect: re-anchor badge", "id", e.ID, "error", err)
			}
		})
	}
	a.save(ctx)
	a.logger.Info("domselect: selection re-anchored after document update",
		"before", len(ids), "after", a.selection.Len())
}

// emitSelectionChanged sends the full selection plus the entry that
// changed.
func (a *Agent) emitSelectionChanged(ctx context.Context, changedID, changedPath string) {
	a.out.Send(ctx, protocol.SelectionChanged(a.selectedElements(), changedID, changedPath))
}

func (a *Agent) selectedElements() []SelectedElement {
	return lo.Map(a.selection.Entries(), func(e session.Entry, _ int) SelectedElement {
		return SelectedElement{ID: e.ID, TagName: e.Tag, XPath: e.Path}
	})
}

// setSelecting flips the in-page interception mode and cursor styling.
func (a *Agent) setSelecting(ctx context.Context, on bool) {
	if a.listen == nil {
		return
	}
	if err := a.listen.SetMode(ctx, on); err != nil {
		a.logger.Warn("domselect: set selection mode", "on", on, "error", err)
	}
}

// save persists the current selection for this page URL. Persistence is
// best-effort; failures never disturb the session.
func (a *Agent) save(ctx context.Context) {
	if a.persist == nil {
		return
	}
	saved := lo.Map(a.selection.Entries(), func(e session.Entry, _ int) store.Saved {
		return store.Saved{ID: e.ID, XPath: e.Path, Tag: e.Tag}
	})
	if err := a.persist.Save(ctx, a.pageURL, saved); err != nil {
		a.logger.Warn("domselect: persist selection", "error", err)
	}
}

// savedIDs loads the last persisted identifiers for this page URL.
func (a *Agent) savedIDs(ctx context.Context) ([]string, error) {
	if a.persist == nil {
		return nil, nil
	}
	return a.persist.LoadIDs(ctx, a.pageURL)
}
