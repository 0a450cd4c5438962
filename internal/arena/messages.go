package arena

import (
	"time"

	"github.com/google/uuid"

	"battlecourt/internal/physics"
	"battlecourt/internal/wire"
)

// Payload builders for the room's server-to-client broadcasts. Each
// returns a complete message starting with its opcode.

const (
	enterMemberOp  = wire.OpEnterMember
	updateMemberOp = wire.OpUpdateMember
)

func writeMember(w *wire.Writer, m Member) {
	w.UUID(m.AccountID)
	w.U8(m.Character)
	w.U8(m.Specification)
	w.U8(m.Team)
	w.Bool(m.Ready)
}

func writeParams(w *wire.Writer, p Params) {
	w.U8(uint8(p.BattleField))
	w.U8(p.GameMode)
	w.U8(uint8(p.Limit))
	w.Bool(p.Fair)
	w.Bool(p.Ladder)
}

// snapshotPayload encodes the full room state sent to a joining
// member. Must be called with mu held.
func (r *Room) snapshotPayload() []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpGameRoom)
	w.UUID(r.ID)
	w.Optional(r.Code != "", func(w *wire.Writer) { w.String(r.Code) })
	writeParams(w, r.Params)
	w.ArrayLen(len(r.roster))
	for _, id := range r.roster {
		writeMember(w, *r.members[id])
	}
	return w.Bytes()
}

func memberPayload(op wire.Opcode, m Member) []byte {
	w := wire.NewWriter()
	w.Opcode(op)
	writeMember(w, m)
	return w.Bytes()
}

func leaveMemberPayload(accountID uuid.UUID) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpLeaveMember)
	w.UUID(accountID)
	return w.Bytes()
}

func writeProgress(w *wire.Writer, p Progress) {
	w.U8(uint8(p.CurrentSet))
	w.U8(uint8(p.MaxSet))
	w.U8(uint8(p.Score[0]))
	w.U8(uint8(p.Score[1]))
	w.Date(p.InitialStartTime)
	w.U32(uint32(p.TotalTimespan / time.Millisecond))
	w.Bool(p.Suspended)
	w.Date(p.ResumedTime)
	w.U32(uint32(p.ConsumedTimespanSum / time.Millisecond))
	w.Optional(p.ResumeScheduleTime != nil, func(w *wire.Writer) {
		w.Date(*p.ResumeScheduleTime)
	})
}

func progressPayload(p Progress) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpProgress)
	w.Bool(true)
	writeProgress(w, p)
	return w.Bytes()
}

// progressClearedPayload tells clients the countdown was aborted and
// the room is back to waiting.
func progressClearedPayload() []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpProgress)
	w.Bool(false)
	return w.Bytes()
}

func earnScorePayload(e EarnedScore, p Progress) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpEarnScore)
	w.UUID(e.AccountID)
	w.U8(e.Team)
	w.Date(e.At)
	writeProgress(w, p)
	return w.Bytes()
}

// resyncPayload encodes the authoritative correction after a frame
// merge. Full resyncs carry the whole frame; partial resyncs omit the
// ball, which is within tolerance and would only waste bandwidth.
func resyncPayload(allSync bool, frame *physics.Frame) []byte {
	w := wire.NewWriter()
	if allSync {
		w.Opcode(wire.OpResyncAll)
		w.Optional(frame != nil, func(w *wire.Writer) { w.Frame(*frame) })
	} else {
		w.Opcode(wire.OpResyncPart)
		w.Optional(frame != nil, func(w *wire.Writer) { w.FrameWithoutBall(*frame) })
	}
	return w.Bytes()
}

func resultPayload(roomID uuid.UUID, wins [2]int, stats Statistics) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpGameResult)
	w.UUID(roomID)
	w.U8(uint8(wins[0]))
	w.U8(uint8(wins[1]))
	w.ArrayLen(len(stats.SetProgress))
	for _, rec := range stats.SetProgress {
		w.U8(uint8(rec.Progress.Score[0]))
		w.U8(uint8(rec.Progress.Score[1]))
	}
	return w.Bytes()
}
