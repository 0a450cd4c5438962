package server

import (
	"battlecourt/internal/arena"
	"battlecourt/internal/wire"
)

// Gateway-originated payload builders. Room broadcasts are built by
// the arena package; these cover the matchmaking handshake replies.

func enqueuedPayload(p arena.Params) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpEnqueued)
	w.U8(uint8(p.BattleField))
	w.U8(p.GameMode)
	w.U8(uint8(p.Limit))
	w.Bool(p.Fair)
	w.Bool(p.Ladder)
	return w.Bytes()
}

func invitationPayload(signed string) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpInvitation)
	w.String(signed)
	return w.Bytes()
}

func matchmakeFailedPayload(reason wire.MatchmakeReason) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpMatchmakeFailed)
	w.U8(uint8(reason))
	return w.Bytes()
}

func gameFailedPayload(result wire.EnterResult) []byte {
	w := wire.NewWriter()
	w.Opcode(wire.OpGameFailed)
	w.U8(uint8(result))
	return w.Bytes()
}
