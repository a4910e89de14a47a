// Package overlay renders and tracks the per-element visual affordances:
// a highlight outline on the selected element and a small floating badge
// pinned to it. Badges live at the document's top level and are tracked in
// a non-owning side-table — disposing a badge never touches the selection
// itself.
package overlay

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
)

//go:embed overlay.js
var overlayJS string

// Renderer creates, repositions and disposes badges via the overlay
// runtime injected into the page. The id→path association mirrors the
// page-side badge table; it does not own the target elements.
type Renderer struct {
	page   Evaluator
	icons  *Icons
	logger *slog.Logger

	badges    map[string]string // id -> structural path
	installed bool

	// OnFirstBadge fires once, when the first badge is created. The agent
	// uses it to lazily attach the scroll/resize forwarders.
	OnFirstBadge func()
	firedFirst   bool
}

// NewRenderer creates a Renderer for one page.
func NewRenderer(page Evaluator, icons *Icons, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		page:   page,
		icons:  icons,
		logger: logger,
		badges: make(map[string]string),
	}
}

func (r *Renderer) ensureInstalled(ctx context.Context) error {
	if r.installed {
		return nil
	}
	if _, err := r.page.Eval(ctx, overlayJS); err != nil {
		return fmt.Errorf("overlay: install runtime: %w", err)
	}
	r.installed = true
	return nil
}

// Create builds the badge for one selected element: marker class on the
// target, icon attempt, tag and identifier labels, close affordance. Icon
// failure degrades to a text placeholder without failing the badge.
func (r *Renderer) Create(ctx context.Context, id, path, tag string) error {
	if err := r.ensureInstalled(ctx); err != nil {
		return err
	}

	useIcon := r.icons.Ensure(ctx) == nil

	category := CategoryForTag(tag)
	res, err := r.page.Eval(ctx,
		`(id, xpath, tag, category, icon, useIcon) => window.__domselect_overlay.create(id, xpath, tag, category, icon, useIcon)`,
		id, path, tag, category, IconForCategory(category), useIcon)
	if err != nil {
		return fmt.Errorf("overlay: create badge %s: %w", id, err)
	}
	var created bool
	if err := json.Unmarshal(res, &created); err != nil || !created {
		return fmt.Errorf("overlay: badge target %s not found", path)
	}

	r.badges[id] = path
	if useIcon {
		r.icons.RenderAll(ctx)
	}

	if !r.firedFirst && r.OnFirstBadge != nil {
		r.firedFirst = true
		r.OnFirstBadge()
	}
	return nil
}

// Dispose removes one badge and its marker classes. Unknown ids are a
// no-op.
func (r *Renderer) Dispose(ctx context.Context, id string) error {
	if _, ok := r.badges[id]; !ok {
		return nil
	}
	if _, err := r.page.Eval(ctx, `(id) => window.__domselect_overlay.dispose(id)`, id); err != nil {
		return fmt.Errorf("overlay: dispose badge %s: %w", id, err)
	}
	delete(r.badges, id)
	return nil
}

// Clear tears down every badge and marker.
func (r *Renderer) Clear(ctx context.Context) error {
	r.badges = make(map[string]string)
	if !r.installed {
		return nil
	}
	if _, err := r.page.Eval(ctx, `() => window.__domselect_overlay.clearAll()`); err != nil {
		return fmt.Errorf("overlay: clear badges: %w", err)
	}
	return nil
}

// Reposition runs one re-layout pass: every live badge is moved to its
// target's current bounding box, and badges whose target left the document
// are disposed. Returns the orphaned ids. Orphan disposal is cosmetic only
// — the selection store is not consulted and not changed.
func (r *Renderer) Reposition(ctx context.Context) ([]string, error) {
	if !r.installed || len(r.badges) == 0 {
		return nil, nil
	}
	res, err := r.page.Eval(ctx, `() => window.__domselect_overlay.reposition()`)
	if err != nil {
		return nil, fmt.Errorf("overlay: reposition: %w", err)
	}
	var orphans []string
	if err := json.Unmarshal(res, &orphans); err != nil {
		return nil, fmt.Errorf("overlay: reposition result: %w", err)
	}
	for _, id := range orphans {
		delete(r.badges, id)
		r.logger.Debug("overlay: orphan badge disposed", "id", id)
	}
	return orphans, nil
}

// Count returns the number of tracked badges.
func (r *Renderer) Count() int {
	return len(r.badges)
}
