// Package server is the websocket gateway: it upgrades connections,
// runs the binary wire protocol, and fans room and matchmaking
// payloads out to every live connection of an account.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"battlecourt/internal/arena"
	"battlecourt/internal/config"
	"battlecourt/internal/matchmaking"
	"battlecourt/internal/storage"
	"battlecourt/internal/token"
	"battlecourt/internal/wire"
)

// Identity verifies a presented credential and resolves the account
// behind it. The gateway treats the credential as opaque.
type Identity interface {
	Verify(credential string) (uuid.UUID, error)
}

// RatingStore is the slice of persistence the gateway reads at room
// admission. *storage.Store satisfies it.
type RatingStore interface {
	GetRating(accountID uuid.UUID) (storage.RatingRecord, error)
}

// Hooks are the connection-lifecycle callbacks. OnFirstConnection
// fires exactly once per account transitioning from zero to one live
// connections, OnLastDisconnect once per one-to-zero.
type Hooks struct {
	OnFirstConnection func(accountID uuid.UUID)
	OnLastDisconnect  func(accountID uuid.UUID)
}

// Gateway owns every websocket connection of this process. Connections
// start in the temporary registry and move to the per-account registry
// once their handshake verifies; a sweep loop closes temporary
// connections that never complete the handshake.
type Gateway struct {
	cfg        config.ServerConfig
	logger     *log.Logger
	identity   Identity
	issuer     *token.Issuer
	registry   *arena.Registry
	matchmaker *matchmaking.Matchmaker
	store      RatingStore
	hooks      Hooks

	upgrader websocket.Upgrader

	mu        sync.RWMutex
	temporary map[*client]struct{}
	clients   map[uuid.UUID]map[*client]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

// NewGateway builds a gateway around its collaborators.
func NewGateway(cfg config.ServerConfig, logger *log.Logger, identity Identity, issuer *token.Issuer, registry *arena.Registry, matchmaker *matchmaking.Matchmaker, store RatingStore, hooks Hooks) *Gateway {
	return &Gateway{
		cfg:        cfg,
		logger:     logger,
		identity:   identity,
		issuer:     issuer,
		registry:   registry,
		matchmaker: matchmaker,
		store:      store,
		hooks:      hooks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		temporary: make(map[*client]struct{}),
		clients:   make(map[uuid.UUID]map[*client]struct{}),
		done:      make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and starts the connection pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(g, conn)
	g.trackTemporary(c)

	go c.writePump()
	go c.readPump()
}

// StartSweep runs the temporary-connection sweep until Stop.
func (g *Gateway) StartSweep() {
	go func() {
		ticker := time.NewTicker(g.cfg.SweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.sweepTemporary(time.Now())
			case <-g.done:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and closes every connection.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.done) })

	g.mu.RLock()
	all := make([]*client, 0, len(g.temporary))
	for c := range g.temporary {
		all = append(all, c)
	}
	for _, set := range g.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

// sweepTemporary closes temporary connections older than the handshake
// timeout.
func (g *Gateway) sweepTemporary(now time.Time) {
	g.mu.RLock()
	var stale []*client
	for c := range g.temporary {
		if now.Sub(c.connectedAt) > g.cfg.HandshakeTimeout {
			stale = append(stale, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range stale {
		g.logger.Debug("sweeping stale handshake", "age", now.Sub(c.connectedAt))
		c.close()
	}
}

func (g *Gateway) trackTemporary(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.temporary[c] = struct{}{}
}

// track promotes a connection out of the temporary registry after its
// handshake verified. The first connection of an account fires the
// OnFirstConnection hook.
func (g *Gateway) track(c *client, account uuid.UUID) {
	c.authenticate(account)

	g.mu.Lock()
	delete(g.temporary, c)
	set, ok := g.clients[account]
	if !ok {
		set = make(map[*client]struct{})
		g.clients[account] = set
	}
	first := len(set) == 0
	set[c] = struct{}{}
	g.mu.Unlock()

	if first && g.hooks.OnFirstConnection != nil {
		g.hooks.OnFirstConnection(account)
	}
}

// untrack forgets a dead connection. The last connection of an account
// fires the OnLastDisconnect hook.
func (g *Gateway) untrack(c *client) {
	c.close()
	account, authenticated := c.identity()

	g.mu.Lock()
	if !authenticated {
		delete(g.temporary, c)
		g.mu.Unlock()
		return
	}
	set := g.clients[account]
	delete(set, c)
	last := len(set) == 0
	if last {
		delete(g.clients, account)
	}
	g.mu.Unlock()

	if last && g.hooks.OnLastDisconnect != nil {
		g.hooks.OnLastDisconnect(account)
	}
}

// connections snapshots the live connections of an account.
func (g *Gateway) connections(accountID uuid.UUID) []*client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := g.clients[accountID]
	out := make([]*client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Unicast delivers payload to every live connection of the account.
func (g *Gateway) Unicast(accountID uuid.UUID, payload []byte) {
	g.UnicastExcept(accountID, payload, nil)
}

// UnicastExcept delivers to every connection of the account except
// one, used to avoid echoing a message back to its sender.
func (g *Gateway) UnicastExcept(accountID uuid.UUID, payload []byte, except *client) {
	for _, c := range g.connections(accountID) {
		if c != except {
			c.enqueue(payload)
		}
	}
}

// Broadcast delivers payload to every connected account.
func (g *Gateway) Broadcast(payload []byte) {
	g.mu.RLock()
	all := make([]*client, 0, len(g.clients))
	for _, set := range g.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range all {
		c.enqueue(payload)
	}
}

// DeliverMatchmaking delivers to the account's connections still
// subscribed to the matchmaking stream; unsubscribed accounts are
// silently dropped.
func (g *Gateway) DeliverMatchmaking(accountID uuid.UUID, payload []byte) {
	for _, c := range g.connections(accountID) {
		if c.subscribedMatchmaking() {
			c.enqueue(payload)
		}
	}
}

// EvictFromRoom clears the room affinity of the account's connections
// and unbinds the account from the room.
func (g *Gateway) EvictFromRoom(accountID, roomID uuid.UUID) {
	for _, c := range g.connections(accountID) {
		c.clearRoom(roomID)
	}
	g.registry.UnbindAccount(accountID, roomID)
}

// dispatch routes one inbound message. It returns false on a protocol
// violation, which terminates the connection without a reply.
func (g *Gateway) dispatch(c *client, data []byte) bool {
	r := wire.NewReader(data)
	op, err := r.Opcode()
	if err != nil {
		return false
	}

	if _, authenticated := c.identity(); !authenticated {
		if op != wire.OpHandshake {
			return false
		}
		return g.handleHandshake(c, r)
	}

	switch op {
	case wire.OpHandshake:
		// A second handshake on a live connection is a violation.
		return false
	case wire.OpFrame:
		return g.handleFrame(c, r)
	case wire.OpUpdateMember:
		return g.handleUpdateMember(c, r)
	default:
		return false
	}
}

func (g *Gateway) handleFrame(c *client, r *wire.Reader) bool {
	frame, err := r.Frame()
	if err != nil {
		return false
	}
	roomID := c.room()
	if roomID == uuid.Nil {
		return false
	}
	room, ok := g.registry.Get(roomID)
	if !ok {
		// The room ended while the frame was in flight.
		c.clearRoom(roomID)
		return true
	}
	account, _ := c.identity()
	return room.ProcessFrame(account, frame) == nil
}

func (g *Gateway) handleUpdateMember(c *client, r *wire.Reader) bool {
	character, err := r.U8()
	if err != nil {
		return false
	}
	specification, err := r.U8()
	if err != nil {
		return false
	}
	ready, err := r.Bool()
	if err != nil {
		return false
	}

	roomID := c.room()
	if roomID == uuid.Nil {
		return false
	}
	room, ok := g.registry.Get(roomID)
	if !ok {
		c.clearRoom(roomID)
		return true
	}
	account, _ := c.identity()
	return room.UpdateMember(account, character, specification, ready) == nil
}
