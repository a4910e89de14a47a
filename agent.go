// Package domselect provides an element-selection agent for live pages.
// It attaches to a page over CDP as a disposable component, injects the
// interaction and overlay instrumentation, and speaks the selection
// protocol with a host application over a WebSocket control channel.
//
// Selected elements are addressed by structural position, not by mutated
// attributes: a slash-separated path of tag[index] segments, hashed into a
// short stable identifier. Identifiers are reproducible across reloads, so
// a host can reconstruct a prior selection from identifiers alone.
package domselect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/quillon/domselect/address"
	"github.com/quillon/domselect/internal/browser"
	"github.com/quillon/domselect/internal/channel"
	"github.com/quillon/domselect/internal/config"
	"github.com/quillon/domselect/internal/extract"
	"github.com/quillon/domselect/internal/listener"
	"github.com/quillon/domselect/internal/overlay"
	"github.com/quillon/domselect/internal/session"
	"github.com/quillon/domselect/internal/store"
	"github.com/quillon/domselect/protocol"
)

// badgeRenderer is the overlay surface the agent drives.
type badgeRenderer interface {
	Create(ctx context.Context, id, path, tag string) error
	Dispose(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Reposition(ctx context.Context) ([]string, error)
	Count() int
}

// interactions is the injected page-event surface.
type interactions interface {
	Events() <-chan listener.Event
	SetMode(ctx context.Context, selecting bool) error
	AttachViewportForwarders(ctx context.Context) error
	Stop()
}

// outbound is the host-facing message surface.
type outbound interface {
	Send(ctx context.Context, env protocol.Envelope)
}

// Agent is the top-level orchestrator: one browser tab, one selection
// session, one host channel. Create one per embedded page.
//
// All session state (tree, store, state machine, scheduler) is owned by a
// single event-loop goroutine; other goroutines reach it through Do.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	mgr *browser.Manager
	tab *browser.Tab

	tree      *address.Tree
	state     *session.Machine
	selection *session.Store
	sched     *overlay.Scheduler

	renderer badgeRenderer
	listen   interactions
	out      outbound

	ch        *channel.Channel
	httpSrv   *http.Server
	extractor *extract.Extractor
	persist   *store.Store

	ops chan func(context.Context)

	sessionID string
	pageURL   string
	started   time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New creates an Agent from configuration. Start attaches it to the page.
func New(cfg *config.Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:       cfg,
		logger:    logger,
		tree:      address.NewTree(),
		state:     session.NewMachine(),
		selection: session.NewStore(),
		sched:     overlay.NewScheduler(cfg.Overlay.FrameInterval),
		extractor: extract.New(),
		ops:       make(chan func(context.Context), 64),
		sessionID: uuid.Must(uuid.NewV7()).String(),
		pageURL:   cfg.Page.URL,
	}
}

// Start launches the browser, attaches instrumentation to the page, opens
// the control channel, and begins the event loop. The returned error covers
// startup only; runtime failures are logged and recovered locally.
func (a *Agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.started = time.Now()

	a.mgr = browser.NewManager(browser.Config{
		RemoteURL: a.cfg.Browser.Remote,
		Headful:   a.cfg.Browser.Stealth == "headful",
		Logger:    a.logger,
	})
	if _, err := a.mgr.Start(ctx); err != nil {
		return fmt.Errorf("domselect: start browser: %w", err)
	}

	pageID := a.cfg.Page.ID
	if pageID == "" {
		pageID = a.sessionID
	}
	tab, err := browser.OpenTab(ctx, a.mgr, a.cfg.Page.URL, pageID)
	if err != nil {
		a.mgr.Close()
		return fmt.Errorf("domselect: open tab: %w", err)
	}
	a.tab = tab
	a.pageURL = tab.PageURL

	if err := browser.BuildTree(ctx, tab, a.tree); err != nil {
		a.Stop()
		return fmt.Errorf("domselect: build tree: %w", err)
	}
	if err := browser.TrackTree(ctx, tab, a.tree, a.logger, func() {
		a.enqueue(func(c context.Context) { a.onDocumentUpdated(c) })
	}); err != nil {
		a.Stop()
		return fmt.Errorf("domselect: track tree: %w", err)
	}

	lst, err := listener.Attach(ctx, tab.Page, a.logger)
	if err != nil {
		a.Stop()
		return fmt.Errorf("domselect: attach listener: %w", err)
	}
	a.listen = lst

	icons := overlay.NewIcons(tab, a.cfg.Overlay.IconScriptURL, a.cfg.Overlay.IconTimeout, a.logger)
	rend := overlay.NewRenderer(tab, icons, a.logger)
	rend.OnFirstBadge = func() {
		if err := a.listen.AttachViewportForwarders(ctx); err != nil {
			a.logger.Warn("domselect: attach viewport forwarders", "error", err)
		}
	}
	a.renderer = rend

	if a.cfg.Store.Path != "" {
		st, err := store.Open(a.cfg.Store.Path)
		if err != nil {
			a.Stop()
			return fmt.Errorf("domselect: open store: %w", err)
		}
		a.persist = st
	}

	a.ch = channel.New(channel.Config{
		AllowedOrigins: a.cfg.Channel.AllowedOrigins,
		Logger:         a.logger,
	})
	a.out = a.ch

	// Startup announcement: every connection accepted before an origin is
	// pinned is greeted with the ready status, the one deliberately
	// permissive pre-pinning path. Set before the listener opens.
	a.state.Set(session.StateReady)
	a.ch.Announce(protocol.Status(string(session.StateReady)))

	a.httpSrv = &http.Server{Addr: a.cfg.Server.Addr, Handler: a.routes()}
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("domselect: http server", "error", err)
		}
	}()

	go a.loop(ctx)

	a.logger.Info("domselect: agent started",
		"session", a.sessionID, "url", a.pageURL, "addr", a.cfg.Server.Addr)
	return nil
}

// Stop shuts the agent down. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.httpSrv.Shutdown(sctx)
			cancel()
		}
		if a.listen != nil {
			a.listen.Stop()
		}
		if a.tab != nil {
			a.tab.Close()
		}
		if a.mgr != nil {
			a.mgr.Close()
		}
		if a.persist != nil {
			a.persist.Close()
		}
		a.logger.Info("domselect: agent stopped", "session", a.sessionID)
	})
}

// routes builds the control-plane router: the protocol WebSocket plus two
// introspection endpoints.
func (a *Agent) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", a.ch.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		snap, err := a.Snapshot(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})
	return r
}

// Snapshot is the introspection view served on /status and the list tool.
type Snapshot struct {
	SessionID    string            `json:"session_id"`
	PageURL      string            `json:"page_url"`
	State        string            `json:"state"`
	PinnedOrigin string            `json:"pinned_origin,omitempty"`
	Selected     []SelectedElement `json:"selected"`
	Badges       int               `json:"badges"`
	UptimeMS     int64             `json:"uptime_ms"`
}

// Snapshot captures the session state from the event loop.
func (a *Agent) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := a.Do(ctx, func(context.Context) {
		snap = Snapshot{
			SessionID: a.sessionID,
			PageURL:   a.pageURL,
			State:     string(a.state.Current()),
			Selected:  a.selectedElements(),
			Badges:    a.renderer.Count(),
			UptimeMS:  time.Since(a.started).Milliseconds(),
		}
		if a.ch != nil {
			snap.PinnedOrigin = a.ch.PinnedOrigin()
		}
	})
	return snap, err
}

// Do runs fn on the event loop and waits for it to finish. It is the only
// way code outside the loop may touch session state.
func (a *Agent) Do(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	select {
	case a.ops <- func(c context.Context) {
		fn(c)
		close(done)
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue submits fn to the loop without waiting. Used from CDP event
// goroutines that must not block.
func (a *Agent) enqueue(fn func(context.Context)) {
	select {
	case a.ops <- fn:
	default:
		a.logger.Warn("domselect: op queue full, dropping")
	}
}

// loop is the single event-loop goroutine. Host messages, page events, the
// frame scheduler and injected ops are all serialized here, so session
// state needs no locking beyond its own internal guards.
func (a *Agent) loop(ctx context.Context) {
	var inbound <-chan channel.Inbound
	if a.ch != nil {
		inbound = a.ch.Inbound()
	}
	var events <-chan listener.Event
	if a.listen != nil {
		events = a.listen.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case in := <-inbound:
			cmd, err := protocol.DecodeCommand(in.Raw)
			if err != nil {
				a.logger.Warn("domselect: bad inbound message", "origin", in.Origin, "error", err)
				continue
			}
			a.dispatch(ctx, cmd)
		case ev := <-events:
			a.handleEvent(ctx, ev)
		case <-a.sched.C():
			a.runFrame(ctx)
		case op := <-a.ops:
			op(ctx)
		}
	}
}

// runFrame drains the scheduler: deferred badge creation and notification
// assembly run first, then one re-layout pass if requested. Everything in
// a frame executes synchronously, with no event handling interleaved.
func (a *Agent) runFrame(ctx context.Context) {
	if !a.sched.Drain() {
		return
	}
	if _, err := a.renderer.Reposition(ctx); err != nil {
		a.logger.Warn("domselect: reposition pass", "error", err)
	}
}

func (a *Agent) handleEvent(ctx context.Context, ev listener.Event) {
	switch ev.Kind {
	case listener.KindClick:
		// The page-side mode flag already gates clicks; the state check is
		// the second gate for events racing a mode change.
		if !a.state.InSelection() {
			return
		}
		id := address.IdentifierFor(ev.Path)
		if id == "" {
			return
		}
		if a.selection.Has(id) {
			a.removeSelection(ctx, id)
		} else {
			a.addSelection(ctx, id, ev.Path, ev.Tag)
		}
	case listener.KindBadgeClose:
		a.removeSelection(ctx, ev.ID)
	case listener.KindScroll, listener.KindResize:
		a.sched.RequestRelayout()
	}
}
