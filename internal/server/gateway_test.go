package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlecourt/internal/arena"
	"battlecourt/internal/config"
	"battlecourt/internal/matchmaking"
	"battlecourt/internal/physics"
	"battlecourt/internal/storage"
	"battlecourt/internal/token"
	"battlecourt/internal/wire"
)

type gatewayFixture struct {
	gateway    *Gateway
	server     *httptest.Server
	store      *storage.Store
	registry   *arena.Registry
	matchmaker *matchmaking.Matchmaker

	firstConnections atomic.Int32
	lastDisconnects  atomic.Int32
}

func newGatewayFixture(t *testing.T, cfg config.ServerConfig) *gatewayFixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := log.New(io.Discard)
	serverID := uuid.New()
	issuer, err := token.NewIssuer(token.Config{Secret: "test-secret", TTL: 30 * time.Second}, serverID)
	require.NoError(t, err)

	registry := arena.NewRegistry(config.Default().Room, logger, nil, store)
	t.Cleanup(registry.Stop)

	f := &gatewayFixture{store: store, registry: registry}
	f.matchmaker = matchmaking.New(config.Default().Matchmaking, serverID, logger, store, registry, issuer, nil)

	f.gateway = NewGateway(cfg, logger, PassthroughIdentity{}, issuer, registry, f.matchmaker, store, Hooks{
		OnFirstConnection: func(uuid.UUID) { f.firstConnections.Add(1) },
		OnLastDisconnect:  func(uuid.UUID) { f.lastDisconnects.Add(1) },
	})
	t.Cleanup(f.gateway.Stop)
	registry.SetMessenger(f.gateway)

	f.server = httptest.NewServer(f.gateway)
	t.Cleanup(f.server.Close)
	return f
}

func defaultServerConfig() config.ServerConfig {
	cfg := config.Default().Server
	return cfg
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *gatewayFixture) addRatedAccount(t *testing.T, sr float64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.store.PutRating(storage.RatingRecord{
		AccountID: id, SkillRating: sr, Deviation: 100,
	}))
	return id
}

func sendHandshake(t *testing.T, conn *websocket.Conn, account uuid.UUID, sub wire.HandshakeType, extra func(*wire.Writer)) {
	t.Helper()
	w := wire.NewWriter()
	w.Opcode(wire.OpHandshake)
	w.String(account.String())
	w.U8(uint8(sub))
	if extra != nil {
		extra(w)
	}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, w.Bytes()))
}

// readOp reads the next binary message and returns its opcode with a
// reader positioned after it.
func readOp(t *testing.T, conn *websocket.Conn) (wire.Opcode, *wire.Reader) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	r := wire.NewReader(data)
	op, err := r.Opcode()
	require.NoError(t, err)
	return op, r
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection survived a protocol violation")
}

func TestQueueHandshake(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	account := f.addRatedAccount(t, 1500)

	conn := f.dial(t)
	sendHandshake(t, conn, account, wire.HandshakeQueue, nil)
	op, r := readOp(t, conn)
	require.Equal(t, wire.OpEnqueued, op)

	field, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(physics.Square), field)

	// Queueing again from a second connection is a duplicate.
	conn2 := f.dial(t)
	sendHandshake(t, conn2, account, wire.HandshakeQueue, nil)
	op, r = readOp(t, conn2)
	require.Equal(t, wire.OpMatchmakeFailed, op)
	reason, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(wire.MatchmakeDuplicate), reason)
}

func TestQueueHandshakeWithoutRating(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())

	conn := f.dial(t)
	sendHandshake(t, conn, uuid.New(), wire.HandshakeQueue, nil)
	op, r := readOp(t, conn)
	require.Equal(t, wire.OpMatchmakeFailed, op)
	reason, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(wire.MatchmakeUnknown), reason)
}

func writeCreateParams(w *wire.Writer) {
	w.U8(uint8(physics.Square))
	w.U8(0)
	w.U8(2)
	w.Bool(false)
}

// readRoomSnapshot decodes the OpGameRoom payload far enough to pull
// out the room id and join code.
func readRoomSnapshot(t *testing.T, r *wire.Reader) (uuid.UUID, string) {
	t.Helper()
	roomID, err := r.UUID()
	require.NoError(t, err)
	hasCode, err := r.Bool()
	require.NoError(t, err)
	code := ""
	if hasCode {
		code, err = r.String()
		require.NoError(t, err)
	}
	return roomID, code
}

func TestCreateAndEnterByCode(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	creator := f.addRatedAccount(t, 1500)
	joiner := f.addRatedAccount(t, 1400)

	conn := f.dial(t)
	sendHandshake(t, conn, creator, wire.HandshakeCreate, writeCreateParams)

	op, _ := readOp(t, conn)
	require.Equal(t, wire.OpInvitation, op)
	op, r := readOp(t, conn)
	require.Equal(t, wire.OpGameRoom, op)
	roomID, code := readRoomSnapshot(t, r)
	require.NotEmpty(t, code)

	// The second player joins by code and gets the snapshot; the
	// creator sees the enter-member delta.
	conn2 := f.dial(t)
	sendHandshake(t, conn2, joiner, wire.HandshakeEnter, func(w *wire.Writer) {
		w.String(code)
	})
	op, r = readOp(t, conn2)
	require.Equal(t, wire.OpGameRoom, op)
	gotRoom, _ := readRoomSnapshot(t, r)
	assert.Equal(t, roomID, gotRoom)

	op, r = readOp(t, conn)
	require.Equal(t, wire.OpEnterMember, op)
	member, err := r.UUID()
	require.NoError(t, err)
	assert.Equal(t, joiner, member)

	room, ok := f.registry.Get(roomID)
	require.True(t, ok)
	assert.Equal(t, 2, room.MemberCount())
}

func TestEnterUnknownCode(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	account := f.addRatedAccount(t, 1500)

	conn := f.dial(t)
	sendHandshake(t, conn, account, wire.HandshakeEnter, func(w *wire.Writer) {
		w.String("AAAAAA")
	})
	op, r := readOp(t, conn)
	require.Equal(t, wire.OpGameFailed, op)
	result, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(wire.EnterNotFound), result)
}

func TestEnterMalformedToken(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	account := f.addRatedAccount(t, 1500)

	conn := f.dial(t)
	sendHandshake(t, conn, account, wire.HandshakeEnter, func(w *wire.Writer) {
		w.String("not-a-real-invitation-token")
	})
	op, r := readOp(t, conn)
	require.Equal(t, wire.OpGameFailed, op)
	result, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(wire.EnterUnknown), result)
}

func TestResumeReportsNotImplemented(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	account := f.addRatedAccount(t, 1500)

	conn := f.dial(t)
	sendHandshake(t, conn, account, wire.HandshakeResume, nil)
	op, r := readOp(t, conn)
	require.Equal(t, wire.OpGameFailed, op)
	result, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(wire.EnterUnknown), result)
}

func TestProtocolViolationClosesConnection(t *testing.T) {
	tests := []struct {
		name string
		send func(*testing.T, *websocket.Conn)
	}{
		{"text message", func(t *testing.T, conn *websocket.Conn) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
		}},
		{"frame before handshake", func(t *testing.T, conn *websocket.Conn) {
			w := wire.NewWriter()
			w.Opcode(wire.OpFrame)
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, w.Bytes()))
		}},
		{"truncated handshake", func(t *testing.T, conn *websocket.Conn) {
			w := wire.NewWriter()
			w.Opcode(wire.OpHandshake)
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, w.Bytes()))
		}},
		{"bad credential", func(t *testing.T, conn *websocket.Conn) {
			w := wire.NewWriter()
			w.Opcode(wire.OpHandshake)
			w.String("not-a-uuid")
			w.U8(uint8(wire.HandshakeQueue))
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, w.Bytes()))
		}},
		{"illegal create params", func(t *testing.T, conn *websocket.Conn) {
			w := wire.NewWriter()
			w.Opcode(wire.OpHandshake)
			w.String(uuid.New().String())
			w.U8(uint8(wire.HandshakeCreate))
			w.U8(9) // no such battlefield
			w.U8(0)
			w.U8(2)
			w.Bool(false)
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, w.Bytes()))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t, defaultServerConfig())
			conn := f.dial(t)
			tt.send(t, conn)
			expectClosed(t, conn)
		})
	}
}

func TestUpdateMemberRoundTrip(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	creator := f.addRatedAccount(t, 1500)

	conn := f.dial(t)
	sendHandshake(t, conn, creator, wire.HandshakeCreate, writeCreateParams)
	op, _ := readOp(t, conn)
	require.Equal(t, wire.OpInvitation, op)
	op, _ = readOp(t, conn)
	require.Equal(t, wire.OpGameRoom, op)

	w := wire.NewWriter()
	w.Opcode(wire.OpUpdateMember)
	w.U8(3)
	w.U8(1)
	w.Bool(true)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, w.Bytes()))

	op, r := readOp(t, conn)
	require.Equal(t, wire.OpUpdateMember, op)
	member, err := r.UUID()
	require.NoError(t, err)
	assert.Equal(t, creator, member)
	character, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), character)
}

func TestFrameSubmission(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	creator := f.addRatedAccount(t, 1500)

	conn := f.dial(t)
	sendHandshake(t, conn, creator, wire.HandshakeCreate, writeCreateParams)
	op, _ := readOp(t, conn)
	require.Equal(t, wire.OpInvitation, op)
	op, r := readOp(t, conn)
	require.Equal(t, wire.OpGameRoom, op)
	roomID, _ := readRoomSnapshot(t, r)

	w := wire.NewWriter()
	w.Opcode(wire.OpFrame)
	w.Frame(physics.Frame{
		ID:      1,
		Paddle1: physics.PhysicsAttribute{Position: physics.Vector2{X: 200, Y: 1700}},
		Paddle2: physics.PhysicsAttribute{Position: physics.Vector2{X: 800, Y: 200}},
		Ball:    physics.PhysicsAttribute{Position: physics.FieldCenter},
	})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, w.Bytes()))

	room, ok := f.registry.Get(roomID)
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		return room.LastFrameID() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionHooksFireOncePerAccount(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	account := f.addRatedAccount(t, 1500)

	conn := f.dial(t)
	sendHandshake(t, conn, account, wire.HandshakeQueue, nil)
	readOp(t, conn)

	conn2 := f.dial(t)
	sendHandshake(t, conn2, account, wire.HandshakeQueue, nil)
	readOp(t, conn2)

	assert.Equal(t, int32(1), f.firstConnections.Load())

	conn.Close()
	conn2.Close()
	assert.Eventually(t, func() bool {
		return f.lastDisconnects.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTemporarySweepClosesStaleHandshakes(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	cfg.SweepPeriod = 20 * time.Millisecond
	f := newGatewayFixture(t, cfg)
	f.gateway.StartSweep()

	conn := f.dial(t)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "stale temporary connection survived the sweep")
}

func TestGatewayIsUsableAsHandler(t *testing.T) {
	f := newGatewayFixture(t, defaultServerConfig())
	var _ http.Handler = f.gateway
	var _ arena.Messenger = f.gateway
	var _ matchmaking.Gateway = f.gateway
}
