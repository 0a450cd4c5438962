package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBuffer bounds the per-connection outbound queue; a client
	// that cannot drain it is dropped rather than backpressuring the
	// room tick.
	sendBuffer = 256
)

// client is one websocket connection. It starts temporary (identity
// unknown) and is promoted on a verified handshake.
type client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}

	mu            sync.Mutex
	closed        bool
	account       uuid.UUID
	authenticated bool
	matchmaking   bool
	roomID        uuid.UUID

	connectedAt time.Time
	closeOnce   sync.Once
}

func newClient(g *Gateway, conn *websocket.Conn) *client {
	return &client{
		gateway:     g,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
}

func (c *client) identity() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account, c.authenticated
}

func (c *client) authenticate(account uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = account
	c.authenticated = true
}

func (c *client) subscribeMatchmaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchmaking = true
}

func (c *client) subscribedMatchmaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchmaking
}

func (c *client) setRoom(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

func (c *client) room() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// clearRoom drops the connection's room affinity if it matches.
func (c *client) clearRoom(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == roomID {
		c.roomID = uuid.Nil
	}
}

// enqueue queues a payload for delivery. A full buffer closes the
// connection; the client is too slow to keep up with the room. The
// send channel is never closed: the registries can still hand out this
// client to concurrent senders after close, so enqueue on a closed
// client must be a silent no-op rather than a panic.
func (c *client) enqueue(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.close()
	}
}

// close terminates the connection once, signalling the write pump via
// the done channel. The read pump's exit runs the untrack bookkeeping.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// readPump consumes inbound messages until the connection dies, then
// untracks the client.
func (c *client) readPump() {
	defer func() {
		c.gateway.untrack(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			// The protocol is binary-only.
			c.close()
			return
		}
		if !c.gateway.dispatch(c, data) {
			c.close()
			return
		}
	}
}

// writePump flushes the send queue and keeps the connection alive with
// pings. The done channel sends the close frame and exits.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
