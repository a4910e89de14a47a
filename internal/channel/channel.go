// Package channel carries the selection protocol between the agent and
// its host application over WebSocket. The sending origin is validated
// against a fixed allow-list at the handshake; the first message from an
// allow-listed origin pins that origin for the rest of the session, and
// every outbound message after pinning targets only pinned-origin
// connections.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/quillon/domselect/protocol"
)

// Inbound is one raw message received from an accepted connection.
type Inbound struct {
	Origin string
	Raw    []byte
}

// Config configures the Channel.
type Config struct {
	// AllowedOrigins is the fixed origin allow-list. Messages from any
	// other origin are rejected and logged, with no acknowledgment.
	AllowedOrigins []string
	// WriteTimeout bounds one outbound write. Default: 5s.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Channel accepts host connections and routes the message flow. There is
// no negative-acknowledgment path: rejected input is dropped silently
// beyond a log line.
type Channel struct {
	allowed      map[string]bool
	writeTimeout time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	pinned   string
	peers    map[*peer]struct{}
	announce *protocol.Envelope

	inbound chan Inbound
}

// peer is one accepted connection. The write function is injected so the
// routing logic is exercisable without sockets.
type peer struct {
	origin string
	write  func(ctx context.Context, data []byte) error
}

// New creates a Channel.
func New(cfg Config) *Channel {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Channel{
		allowed:      allowed,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
		peers:        make(map[*peer]struct{}),
		inbound:      make(chan Inbound, 256),
	}
}

// Inbound is the stream of accepted raw messages, already acknowledged.
func (c *Channel) Inbound() <-chan Inbound {
	return c.inbound
}

// PinnedOrigin returns the pinned origin, or "" before pinning.
func (c *Channel) PinnedOrigin() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

// Announce sets the startup announcement. It is delivered to every
// connection accepted while no origin is pinned yet — the one
// deliberately permissive pre-pinning path, so a host that connects
// after the agent is up still observes the ready transition.
func (c *Channel) Announce(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announce = &env
}

// Handler upgrades HTTP requests into protocol connections.
func (c *Channel) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !c.allowed[origin] {
			c.logger.Warn("channel: origin rejected", "origin", origin)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		// Origin already validated against the allow-list above.
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			c.logger.Error("channel: accept failed", "origin", origin, "error", err)
			return
		}
		conn.SetReadLimit(1 << 20)

		p := &peer{
			origin: origin,
			write: func(ctx context.Context, data []byte) error {
				return conn.Write(ctx, websocket.MessageText, data)
			},
		}
		ctx := r.Context()
		c.addPeer(ctx, p)
		defer c.removePeer(p)

		c.logger.Info("channel: connection accepted", "origin", origin)

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				c.logger.Debug("channel: read ended", "origin", origin, "error", err)
				break
			}
			c.receive(ctx, p, data)
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// addPeer registers a connection and greets it with the announcement if
// no origin is pinned yet.
func (c *Channel) addPeer(ctx context.Context, p *peer) {
	c.mu.Lock()
	c.peers[p] = struct{}{}
	ann := c.announce
	pinned := c.pinned
	c.mu.Unlock()

	if ann != nil && pinned == "" {
		c.deliver(ctx, []*peer{p}, *ann)
	}
}

func (c *Channel) removePeer(p *peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, p)
}

// receive handles one raw message from an accepted peer: pin the origin
// if nothing is pinned yet, acknowledge unconditionally — before any
// dispatch, unrecognised types included — then hand the message to the
// agent loop.
func (c *Channel) receive(ctx context.Context, p *peer, raw []byte) {
	c.mu.Lock()
	if c.pinned == "" {
		c.pinned = p.origin
		c.logger.Info("channel: origin pinned", "origin", p.origin)
	}
	c.mu.Unlock()

	c.send(ctx, protocol.Ack(raw))

	select {
	case c.inbound <- Inbound{Origin: p.origin, Raw: raw}:
	case <-ctx.Done():
	}
}

// Send delivers an envelope to pinned-origin connections. With no origin
// pinned yet the message is dropped silently.
func (c *Channel) Send(ctx context.Context, env protocol.Envelope) {
	c.send(ctx, env)
}

func (c *Channel) send(ctx context.Context, env protocol.Envelope) {
	c.mu.Lock()
	pinned := c.pinned
	targets := c.peersForLocked(pinned)
	c.mu.Unlock()

	if pinned == "" {
		c.logger.Debug("channel: no origin pinned, dropping outbound", "type", env.Type)
		return
	}
	c.deliver(ctx, targets, env)
}

func (c *Channel) peersForLocked(origin string) []*peer {
	var out []*peer
	for p := range c.peers {
		if p.origin == origin {
			out = append(out, p)
		}
	}
	return out
}

func (c *Channel) deliver(ctx context.Context, targets []*peer, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("channel: marshal outbound", "type", env.Type, "error", err)
		return
	}
	for _, p := range targets {
		wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
		if err := p.write(wctx, data); err != nil {
			c.logger.Warn("channel: write failed", "origin", p.origin, "type", env.Type, "error", err)
		}
		cancel()
	}
}
