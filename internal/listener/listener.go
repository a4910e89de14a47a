// Package listener wires the in-page interaction handlers: capture-phase
// click and hover interception, badge close clicks, and the lazily
// attached scroll/resize forwarders. Events flow from the page to Go over
// a single Runtime binding.
package listener

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

//go:embed listener.js
var listenerJS string

// BindingName is the page-side callback the injected runtimes report
// through.
const BindingName = "__domselect_binding"

// Kind discriminates forwarded page events.
type Kind string

const (
	KindClick      Kind = "click"
	KindScroll     Kind = "scroll"
	KindResize     Kind = "resize"
	KindBadgeClose Kind = "badge-close"
)

// Event is one interaction forwarded from the page.
type Event struct {
	Kind Kind   `json:"kind"`
	Path string `json:"path,omitempty"`
	Tag  string `json:"tag,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Listener owns the binding and the injected interaction runtime for one
// page. Handlers are wired once at attach; the mode flag decides whether
// they act.
type Listener struct {
	page   *rod.Page
	logger *slog.Logger
	events chan Event
	cancel context.CancelFunc
}

// Attach registers the binding, starts the event pump, and injects the
// interaction runtime.
func Attach(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := (proto.RuntimeAddBinding{Name: BindingName}.Call(page)); err != nil {
		logger.Warn("listener: add binding failed (may already exist)", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		page:   page,
		logger: logger,
		events: make(chan Event, 1024),
		cancel: cancel,
	}
	go l.pump(ctx)

	if _, err := page.Context(ctx).Eval(listenerJS); err != nil {
		cancel()
		return nil, fmt.Errorf("listener: inject runtime: %w", err)
	}
	return l, nil
}

// Events is the stream of forwarded page interactions.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// SetMode flips the in-page interception flag and the selection-mode
// cursor styling.
func (l *Listener) SetMode(ctx context.Context, selecting bool) error {
	_, err := l.page.Context(ctx).Eval(
		`(on) => window.__domselect_listen.setMode(on)`, selecting)
	if err != nil {
		return fmt.Errorf("listener: set mode: %w", err)
	}
	return nil
}

// AttachViewportForwarders attaches the passive scroll/resize forwarders.
// Idempotent; the page-side runtime guards against double attachment.
func (l *Listener) AttachViewportForwarders(ctx context.Context) error {
	_, err := l.page.Context(ctx).Eval(
		`() => window.__domselect_listen.attachViewport()`)
	if err != nil {
		return fmt.Errorf("listener: attach viewport forwarders: %w", err)
	}
	return nil
}

// Stop tears down the event pump. The page-side handlers stay wired; with
// the binding gone their sends become no-ops.
func (l *Listener) Stop() {
	l.cancel()
}

func decodeEvents(payload string) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal([]byte(payload), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// pump receives binding calls and fans the decoded events into the
// channel. Full channel drops with a warning rather than blocking the CDP
// event goroutine.
func (l *Listener) pump(ctx context.Context) {
	l.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}

		events, err := decodeEvents(e.Payload)
		if err != nil {
			l.logger.Warn("listener: parse binding payload", "error", err)
			return
		}
		for _, ev := range events {
			select {
			case l.events <- ev:
			default:
				l.logger.Warn("listener: event channel full, dropping", "kind", ev.Kind)
			}
		}
	})()
}
