package arena

import (
	"math"

	"github.com/google/uuid"

	"battlecourt/internal/physics"
)

// Two-tier divergence tolerance. The hard tier decides whether a
// client's self-reported collision outcome is trusted at all;
// collisions are rare, attacker-relevant events, so trust is narrow.
// The easy tier only decides whether the resync payload must carry the
// ball, which keeps most resyncs small while still catching drift.
const (
	hardPositionTolerance = 15.0
	hardVelocityTolerance = 1.0
	easyPositionTolerance = 30.0
)

// ballDiffCheckHard reports whether two ball states agree within the
// strict tier: position within 15 units and velocity within 1 unit on
// both axes.
func ballDiffCheckHard(server, client physics.PhysicsAttribute) bool {
	return math.Abs(server.Position.X-client.Position.X) <= hardPositionTolerance &&
		math.Abs(server.Position.Y-client.Position.Y) <= hardPositionTolerance &&
		math.Abs(server.Velocity.X-client.Velocity.X) <= hardVelocityTolerance &&
		math.Abs(server.Velocity.Y-client.Velocity.Y) <= hardVelocityTolerance
}

// ballDiffCheckEasy reports whether two ball states agree within the
// loose, position-only tier: 30 units on both axes.
func ballDiffCheckEasy(server, client physics.PhysicsAttribute) bool {
	return math.Abs(server.Position.X-client.Position.X) <= easyPositionTolerance &&
		math.Abs(server.Position.Y-client.Position.Y) <= easyPositionTolerance
}

// ProcessFrame ingests one client-submitted frame. A frame id beyond
// the buffer tail extends the authoritative buffer optimistically (no
// other client has reported it yet); anything else reconciles against
// the existing server frame.
func (r *Room) ProcessFrame(accountID uuid.UUID, clientFrame physics.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return nil
	}
	if _, ok := r.members[accountID]; !ok {
		return ErrNotMember
	}

	if len(r.frames) == 0 || idBefore(r.frames[len(r.frames)-1].Frame.ID, clientFrame.ID) {
		r.frames = append(r.frames, FrameEntry{Frame: clientFrame})
		r.lastFrameID = clientFrame.ID
		return nil
	}

	r.syncFrame(accountID, clientFrame)
	return nil
}

// syncFrame reconciles a client frame against the buffered server
// frame with the same id, runs the physics step on the merged result
// and broadcasts the resync. Must be called with mu held.
func (r *Room) syncFrame(accountID uuid.UUID, clientFrame physics.Frame) {
	member := r.members[accountID]
	now := r.deps.Clock()

	// Everything before the matching id has been reported by all
	// parties; it is final and eligible for collection.
	match := -1
	for i := range r.frames {
		if r.frames[i].Frame.ID == clientFrame.ID {
			match = i
			break
		}
		if !idBefore(r.frames[i].Frame.ID, clientFrame.ID) {
			break
		}
		r.frames[i].Fixed = true
	}

	var merged *physics.Frame
	if match >= 0 && !r.frames[match].Fixed {
		server := &r.frames[match].Frame

		// Only the submitter's own paddle merges; a client can never
		// move the opponent's paddle.
		ownPaddle, ownHit := &server.Paddle1, clientFrame.Paddle1Hit
		clientPaddle := clientFrame.Paddle1
		if member.Team == 1 {
			ownPaddle, ownHit = &server.Paddle2, clientFrame.Paddle2Hit
			clientPaddle = clientFrame.Paddle2
		}
		*ownPaddle = clientPaddle

		// The ball merges only when the client claims its own paddle
		// hit it AND the server state genuinely disagrees; merging an
		// agreeing ball would just thrash the simulation.
		if ownHit && !ballDiffCheckHard(server.Ball, clientFrame.Ball) {
			server.Ball = clientFrame.Ball
		}

		if scored := physics.Step(server, r.Params.BattleField); scored != physics.NoScore {
			r.addScore(accountID, scored, now)
		}

		r.stats.DistanceSum[member.Team] += ownPaddle.Velocity.Length()
		r.stats.VelocitySamples[member.Team]++

		r.lastFrameID = server.ID
		merged = server
	}

	allSync := merged == nil ||
		merged.Paddle1Hit || merged.Paddle2Hit ||
		!ballDiffCheckEasy(merged.Ball, clientFrame.Ball)

	r.multicast(resyncPayload(allSync, merged))

	r.collectFixed()
}

// collectFixed drops the contiguous run of fixed entries from the
// front of the buffer.
func (r *Room) collectFixed() {
	n := 0
	for n < len(r.frames) && r.frames[n].Fixed {
		n++
	}
	if n > 0 {
		r.frames = append(r.frames[:0], r.frames[n:]...)
	}
}

// idBefore orders frame ids under uint16 wraparound: a is before b
// when the forward distance from a to b is shorter than half the id
// space.
func idBefore(a, b uint16) bool {
	return a != b && b-a < 0x8000
}

// LastFrameID returns the most recently reconciled frame id.
func (r *Room) LastFrameID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFrameID
}

// FrameBuffer returns a copy of the authoritative buffer, oldest
// first.
func (r *Room) FrameBuffer() []FrameEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FrameEntry, len(r.frames))
	copy(out, r.frames)
	return out
}
