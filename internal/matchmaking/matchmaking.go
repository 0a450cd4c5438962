// Package matchmaking forms ladder matches from the persistent queue
// and issues the signed invitations that admit players into rooms.
package matchmaking

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"battlecourt/internal/arena"
	"battlecourt/internal/config"
	"battlecourt/internal/physics"
	"battlecourt/internal/storage"
	"battlecourt/internal/token"
	"battlecourt/internal/wire"
)

// Enqueue failures, mapped onto MATCHMAKE_FAILED reason bytes by the
// gateway.
var (
	ErrDuplicate    = errors.New("matchmaking: account already queued or in a game")
	ErrUnknown      = errors.New("matchmaking: account has no rating record")
	ErrNoActiveRoom = errors.New("matchmaking: account has no active room")
)

// Gateway delivers matchmaking payloads to accounts still subscribed
// to the matchmaking stream. Delivery to an unsubscribed account is
// silently dropped; the queue entry is already gone and the player
// re-queues on reconnect.
type Gateway interface {
	DeliverMatchmaking(accountID uuid.UUID, payload []byte)
}

// Matchmaker scans the queue on a fixed interval and groups entries by
// overlapping rating coverage. All queue mutations of one scan run in
// a single transaction so concurrent enqueues and dequeues cannot
// observe a half-formed match.
type Matchmaker struct {
	cfg      config.MatchmakingConfig
	serverID uuid.UUID
	logger   *log.Logger
	store    *storage.Store
	registry *arena.Registry
	issuer   *token.Issuer
	gateway  Gateway
	clock    func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New builds a matchmaker. The gateway may be nil in tools that only
// need the direct-invite paths.
func New(cfg config.MatchmakingConfig, serverID uuid.UUID, logger *log.Logger, store *storage.Store, registry *arena.Registry, issuer *token.Issuer, gateway Gateway) *Matchmaker {
	return &Matchmaker{
		cfg:      cfg,
		serverID: serverID,
		logger:   logger,
		store:    store,
		registry: registry,
		issuer:   issuer,
		gateway:  gateway,
		clock:    time.Now,
		done:     make(chan struct{}),
	}
}

// SetClock overrides the matchmaker clock for deterministic tests.
func (m *Matchmaker) SetClock(clock func() time.Time) {
	m.clock = clock
}

// SetGateway installs the delivery surface once the gateway exists;
// the two depend on each other at wiring time.
func (m *Matchmaker) SetGateway(g Gateway) {
	m.gateway = g
}

// LadderLimit returns the configured ladder room capacity.
func (m *Matchmaker) LadderLimit() int {
	return m.cfg.LadderLimit
}

// Start launches the periodic scan loop.
func (m *Matchmaker) Start() {
	go func() {
		ticker := time.NewTicker(m.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Scan(m.clock())
			case <-m.done:
				return
			}
		}
	}()
}

// Stop halts the scan loop.
func (m *Matchmaker) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Enqueue puts an account into the ladder queue at its persisted
// skill rating.
func (m *Matchmaker) Enqueue(accountID uuid.UUID) error {
	if _, active := m.registry.AccountRoom(accountID); active {
		return ErrDuplicate
	}

	rec, err := m.store.GetRating(accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknown
	}
	if err != nil {
		return err
	}

	err = m.store.Enqueue(storage.QueueEntry{
		AccountID:   accountID,
		ServerID:    m.serverID,
		SkillRating: rec.SkillRating,
		EnqueuedAt:  m.clock(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return ErrDuplicate
	}
	return err
}

// Dequeue removes an account from the queue. Best-effort; a missing
// entry is not an error.
func (m *Matchmaker) Dequeue(accountID uuid.UUID) error {
	return m.store.Dequeue(accountID)
}

// Scan runs one matchmaking pass: load the queue, form groups, and for
// every group delete its entries, create a ladder room and sign one
// invitation per member, all inside one transaction. Invitations are
// delivered only after commit.
func (m *Matchmaker) Scan(now time.Time) {
	type delivery struct {
		accountID uuid.UUID
		payload   []byte
	}
	var (
		deliveries []delivery
		registers  []func()
	)

	err := m.store.MatchmakingTx(func(tx *storage.MatchTx) error {
		entries, err := tx.LoadQueue()
		if err != nil {
			return err
		}

		for _, group := range formGroups(entries, m.cfg.LadderLimit, now) {
			ids := make([]uuid.UUID, len(group))
			for i, e := range group {
				ids[i] = e.AccountID
			}
			if err := tx.DeleteMatched(ids); err != nil {
				return err
			}

			room, register, err := m.registry.CreateInTx(tx, arena.Params{
				BattleField: physics.Square,
				Limit:       m.cfg.LadderLimit,
				Ladder:      true,
			})
			if err != nil {
				return err
			}
			registers = append(registers, register)

			for _, e := range group {
				signed, err := m.issuer.Sign(e.AccountID, room.ID, false, now)
				if err != nil {
					return err
				}
				deliveries = append(deliveries, delivery{e.AccountID, invitationPayload(signed)})
			}
			m.logger.Info("match formed", "room", room.ID, "members", len(group))
		}
		return nil
	})
	if err != nil {
		m.logger.Error("matchmaking scan failed", "error", err)
		return
	}

	for _, register := range registers {
		register()
	}
	if m.gateway != nil {
		for _, d := range deliveries {
			m.gateway.DeliverMatchmaking(d.accountID, d.payload)
		}
	}
}

// InviteWithNewRoom creates a direct room and signs an invitation for
// its creator.
func (m *Matchmaker) InviteWithNewRoom(accountID uuid.UUID, params arena.Params) (string, *arena.Room, error) {
	room, err := m.registry.Create(params)
	if err != nil {
		return "", nil, err
	}
	signed, err := m.issuer.Sign(accountID, room.ID, false, m.clock())
	if err != nil {
		return "", nil, err
	}
	return signed, room, nil
}

// InviteFromCode signs an invitation for an existing direct room found
// by its join code.
func (m *Matchmaker) InviteFromCode(accountID uuid.UUID, code string) (string, *arena.Room, error) {
	room, err := m.registry.FindByCode(code)
	if err != nil {
		return "", nil, err
	}
	signed, err := m.issuer.Sign(accountID, room.ID, false, m.clock())
	if err != nil {
		return "", nil, err
	}
	return signed, room, nil
}

// InviteForResume re-issues an invitation for the room the account is
// already a member of, for reconnects.
func (m *Matchmaker) InviteForResume(accountID uuid.UUID) (string, *arena.Room, error) {
	room, active := m.registry.AccountRoom(accountID)
	if !active {
		return "", nil, ErrNoActiveRoom
	}
	signed, err := m.issuer.Sign(accountID, room.ID, false, m.clock())
	if err != nil {
		return "", nil, err
	}
	return signed, room, nil
}

func invitationPayload(signed string) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpInvitation)
	w.String(signed)
	return w.Bytes()
}
