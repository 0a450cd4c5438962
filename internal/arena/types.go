// Package arena implements the game room engine: the per-room
// lifecycle state machine, member roster, authoritative frame
// reconciliation and result settlement. Rooms are created by the
// registry, tick on their own timer and dispose themselves when the
// match concludes or the roster empties.
package arena

import (
	"time"

	"github.com/google/uuid"

	"battlecourt/internal/physics"
	"battlecourt/internal/storage"
)

// Params is the immutable shape of a room, fixed at creation.
type Params struct {
	BattleField physics.BattleField
	GameMode    uint8
	Limit       int
	Fair        bool
	Ladder      bool
}

// Member is one player inside a room. Created on entry, destroyed when
// the player leaves or the room disposes.
type Member struct {
	AccountID     uuid.UUID
	SkillRating   float64
	Deviation     float64
	Character     uint8
	Specification uint8
	Team          uint8
	Ready         bool
}

// EarnedScore is one scoring event. AccountID is the account whose
// frame submission triggered the goal check, which is not necessarily
// the last player to touch the ball; the attribution is preserved
// as-is from the original protocol.
type EarnedScore struct {
	AccountID uuid.UUID
	Team      uint8
	At        time.Time
}

// FrameEntry is one slot of the authoritative frame buffer. Fixed
// entries have been broadcast and will never be mutated again; the
// contiguous fixed prefix is garbage-collected after every sync.
type FrameEntry struct {
	Fixed bool
	Frame physics.Frame
}

// SetRecord archives one completed set.
type SetRecord struct {
	Progress  Progress
	EarnScore []EarnedScore
}

// Statistics aggregates per-room telemetry across sets.
type Statistics struct {
	SetProgress []SetRecord

	// DistanceSum and VelocitySamples accumulate merged paddle speeds
	// per team for average-velocity statistics.
	DistanceSum     [2]float64
	VelocitySamples [2]int
}

// Messenger delivers encoded payloads to accounts and manages the
// connection-side room affinity. Implemented by the websocket gateway;
// injected at construction so the engine stays transport-neutral.
type Messenger interface {
	// Unicast delivers payload to every live connection of the account.
	Unicast(accountID uuid.UUID, payload []byte)

	// EvictFromRoom clears the room affinity of the account's
	// connections for the given room.
	EvictFromRoom(accountID, roomID uuid.UUID)
}

// Store is the persistence surface the engine needs at settlement and
// disposal time. *storage.Store satisfies it.
type Store interface {
	DeleteRoom(id uuid.UUID) error
	GetRating(accountID uuid.UUID) (storage.RatingRecord, error)
	PutRating(r storage.RatingRecord) error
	HistoryDates(accountID uuid.UUID) ([]time.Time, error)
	InsertHistory(entries []storage.HistoryEntry) error
	RecordAchievement(accountID uuid.UUID, achievementID int, at time.Time) error
}

// AchievementFirstWin is recorded for every member of the winning team
// of a ladder match. Recording is idempotent downstream.
const AchievementFirstWin = 1
