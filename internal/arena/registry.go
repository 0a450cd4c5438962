package arena

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"battlecourt/internal/config"
	"battlecourt/internal/storage"
)

// ErrRoomNotFound is returned by lookups for unknown rooms or codes.
var ErrRoomNotFound = errors.New("arena: room not found")

// Registry owns every active room in this process. Rooms are created
// here, found here, and remove themselves on disposal. The in-memory
// map is the source of truth for active rooms; the persisted records
// exist for visibility and restart accounting.
type Registry struct {
	cfg       config.RoomConfig
	logger    *log.Logger
	messenger Messenger
	store     RegistryStore
	clock     func() time.Time

	mu          sync.RWMutex
	rooms       map[uuid.UUID]*Room
	byCode      map[string]uuid.UUID
	accountRoom map[uuid.UUID]uuid.UUID

	done     chan struct{}
	stopOnce sync.Once
}

// RegistryStore is the persistence surface the registry and its rooms
// need. *storage.Store satisfies it.
type RegistryStore interface {
	Store
	InsertRoom(r storage.RoomRecord) error
}

// NewRegistry builds an empty room registry.
func NewRegistry(cfg config.RoomConfig, logger *log.Logger, messenger Messenger, store RegistryStore) *Registry {
	return &Registry{
		cfg:         cfg,
		logger:      logger,
		messenger:   messenger,
		store:       store,
		clock:       time.Now,
		rooms:       make(map[uuid.UUID]*Room),
		byCode:      make(map[string]uuid.UUID),
		accountRoom: make(map[uuid.UUID]uuid.UUID),
		done:        make(chan struct{}),
	}
}

// SetClock overrides the registry's clock; rooms created afterwards
// inherit it. Intended for tests.
func (g *Registry) SetClock(clock func() time.Time) {
	g.clock = clock
}

// SetMessenger installs the fan-out once the gateway exists; the two
// depend on each other at wiring time. Must be called before any room
// is created.
func (g *Registry) SetMessenger(m Messenger) {
	g.messenger = m
}

// Create persists and starts a new room. Direct (non-ladder) rooms get
// a join code; ladder rooms are joined by invitation only.
func (g *Registry) Create(params Params) (*Room, error) {
	id := uuid.New()
	code := ""
	if !params.Ladder {
		code = g.generateUniqueCode()
	}

	now := g.clock()
	err := g.store.InsertRoom(storage.RoomRecord{
		ID:          id,
		Code:        code,
		BattleField: uint8(params.BattleField),
		GameMode:    params.GameMode,
		MemberLimit: params.Limit,
		Fair:        params.Fair,
		Ladder:      params.Ladder,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	room := NewRoom(id, code, params, Deps{
		Config:    g.cfg,
		Logger:    g.logger,
		Messenger: g.messenger,
		Store:     g.store,
		Clock:     g.clock,
		OnDispose: g.onRoomDisposed,
	})

	g.mu.Lock()
	g.rooms[id] = room
	if code != "" {
		g.byCode[code] = id
	}
	g.mu.Unlock()

	room.Start()
	g.logger.Info("room created", "room", id, "ladder", params.Ladder, "field", params.BattleField)
	return room, nil
}

// CreateInTx persists the room record through an open matchmaking
// transaction and registers the room only after Commit, via the
// returned function.
func (g *Registry) CreateInTx(tx *storage.MatchTx, params Params) (*Room, func(), error) {
	id := uuid.New()
	now := g.clock()
	err := tx.InsertRoom(storage.RoomRecord{
		ID:          id,
		BattleField: uint8(params.BattleField),
		GameMode:    params.GameMode,
		MemberLimit: params.Limit,
		Fair:        params.Fair,
		Ladder:      params.Ladder,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, nil, err
	}

	room := NewRoom(id, "", params, Deps{
		Config:    g.cfg,
		Logger:    g.logger,
		Messenger: g.messenger,
		Store:     g.store,
		Clock:     g.clock,
		OnDispose: g.onRoomDisposed,
	})

	register := func() {
		g.mu.Lock()
		g.rooms[id] = room
		g.mu.Unlock()
		room.Start()
		g.logger.Info("room created", "room", id, "ladder", params.Ladder, "field", params.BattleField)
	}
	return room, register, nil
}

// Get looks up a room by id.
func (g *Registry) Get(id uuid.UUID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[id]
	return room, ok
}

// FindByCode looks up a direct room by its join code.
func (g *Registry) FindByCode(code string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room, ok := g.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// AccountRoom returns the room an account is currently a member of.
func (g *Registry) AccountRoom(accountID uuid.UUID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	roomID, ok := g.accountRoom[accountID]
	if !ok {
		return nil, false
	}
	room, ok := g.rooms[roomID]
	return room, ok
}

// BindAccount records which room an account belongs to. The gateway
// calls this around AddMember/RemoveMember.
func (g *Registry) BindAccount(accountID, roomID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accountRoom[accountID] = roomID
}

// UnbindAccount clears an account's room binding if it still points at
// roomID.
func (g *Registry) UnbindAccount(accountID, roomID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accountRoom[accountID] == roomID {
		delete(g.accountRoom, accountID)
	}
}

// Count returns the number of active rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// onRoomDisposed drops every reference to a torn-down room.
func (g *Registry) onRoomDisposed(roomID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	if !ok {
		return
	}
	delete(g.rooms, roomID)
	if room.Code != "" {
		delete(g.byCode, room.Code)
	}
	for account, id := range g.accountRoom {
		if id == roomID {
			delete(g.accountRoom, account)
		}
	}
	g.logger.Info("room removed", "room", roomID, "active", len(g.rooms))
}

// PruneUnused disposes rooms that never gained a member within the
// configured grace period.
func (g *Registry) PruneUnused(now time.Time) {
	g.mu.RLock()
	var stale []*Room
	for _, room := range g.rooms {
		if !room.Used() && now.Sub(room.CreatedAt()) > g.cfg.PruneAfter {
			stale = append(stale, room)
		}
	}
	g.mu.RUnlock()

	for _, room := range stale {
		g.logger.Info("pruning unused room", "room", room.ID)
		room.Dispose()
	}
}

// StartPruneLoop sweeps for unused rooms until Stop is called.
func (g *Registry) StartPruneLoop(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.PruneUnused(g.clock())
			case <-g.done:
				return
			}
		}
	}()
}

// Stop halts the prune loop and disposes every active room.
func (g *Registry) Stop() {
	g.stopOnce.Do(func() { close(g.done) })

	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	for _, room := range rooms {
		room.Dispose()
	}
}

// generateUniqueCode produces a short join code that is not in use.
func (g *Registry) generateUniqueCode() string {
	for {
		code := generateCode()
		g.mu.RLock()
		_, taken := g.byCode[code]
		g.mu.RUnlock()
		if !taken {
			return code
		}
	}
}

// JoinCodeLength is the length of a direct room's join code.
const JoinCodeLength = 6

// generateCode returns a short base32 join code.
func generateCode() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base32.StdEncoding.EncodeToString(b)[:JoinCodeLength]
}
