package server

import (
	"errors"

	"battlecourt/internal/arena"
	"battlecourt/internal/matchmaking"
	"battlecourt/internal/physics"
	"battlecourt/internal/rating"
	"battlecourt/internal/storage"
	"battlecourt/internal/token"
	"battlecourt/internal/wire"
)

// handleHandshake verifies the connection's credential and runs the
// requested sub-type. Decode and verification failures return false,
// closing the connection without a reply.
func (g *Gateway) handleHandshake(c *client, r *wire.Reader) bool {
	credential, err := r.String()
	if err != nil {
		return false
	}
	sub, err := r.U8()
	if err != nil {
		return false
	}

	account, err := g.identity.Verify(credential)
	if err != nil {
		g.logger.Debug("handshake rejected", "error", err)
		return false
	}
	g.track(c, account)

	switch wire.HandshakeType(sub) {
	case wire.HandshakeQueue:
		c.subscribeMatchmaking()
		g.handleQueue(c)
		return true

	case wire.HandshakeCreate:
		params, ok := readParams(r)
		if !ok {
			return false
		}
		g.handleCreate(c, params)
		return true

	case wire.HandshakeEnter:
		entry, err := r.String()
		if err != nil {
			return false
		}
		g.handleEnter(c, entry)
		return true

	case wire.HandshakeResume:
		// Mid-game resume is a known gap: the invitation machinery
		// exists but frame catch-up does not.
		g.logger.Warn("resume requested but not implemented", "account", account)
		c.enqueue(gameFailedPayload(wire.EnterUnknown))
		return true

	default:
		return false
	}
}

func (g *Gateway) handleQueue(c *client) {
	account, _ := c.identity()
	err := g.matchmaker.Enqueue(account)
	switch {
	case errors.Is(err, matchmaking.ErrDuplicate):
		c.enqueue(matchmakeFailedPayload(wire.MatchmakeDuplicate))
	case err != nil:
		if !errors.Is(err, matchmaking.ErrUnknown) {
			g.logger.Error("enqueue failed", "account", account, "error", err)
		}
		c.enqueue(matchmakeFailedPayload(wire.MatchmakeUnknown))
	default:
		c.enqueue(enqueuedPayload(g.ladderParams()))
	}
}

func (g *Gateway) handleCreate(c *client, params arena.Params) {
	account, _ := c.identity()
	signed, _, err := g.matchmaker.InviteWithNewRoom(account, params)
	if err != nil {
		g.logger.Error("room creation failed", "account", account, "error", err)
		c.enqueue(gameFailedPayload(wire.EnterUnknown))
		return
	}
	c.enqueue(invitationPayload(signed))
	g.admit(c, signed)
}

// handleEnter admits by a short join code or by a previously issued
// invitation token; the two are distinguished by length.
func (g *Gateway) handleEnter(c *client, entry string) {
	if len(entry) != arena.JoinCodeLength {
		g.admit(c, entry)
		return
	}

	account, _ := c.identity()
	signed, _, err := g.matchmaker.InviteFromCode(account, entry)
	if errors.Is(err, arena.ErrRoomNotFound) {
		c.enqueue(gameFailedPayload(wire.EnterNotFound))
		return
	}
	if err != nil {
		g.logger.Error("code entry failed", "account", account, "error", err)
		c.enqueue(gameFailedPayload(wire.EnterUnknown))
		return
	}
	g.admit(c, signed)
}

// admit verifies a signed invitation and joins the presenting account
// into its room. Failures are typed bytes; no room state changes on a
// failed admission.
func (g *Gateway) admit(c *client, signed string) {
	account, _ := c.identity()

	inv, err := g.issuer.Verify(signed, account)
	if err != nil {
		c.enqueue(gameFailedPayload(enterResultFor(err)))
		return
	}
	if inv.Observer {
		// Observer mode is a known gap.
		g.logger.Warn("observer entry not implemented", "account", account)
		c.enqueue(gameFailedPayload(wire.EnterUnknown))
		return
	}

	if current, active := g.registry.AccountRoom(account); active && current.ID != inv.GameID {
		c.enqueue(gameFailedPayload(wire.EnterGameMismatch))
		return
	}

	room, ok := g.registry.Get(inv.GameID)
	if !ok {
		c.enqueue(gameFailedPayload(wire.EnterNotFound))
		return
	}

	sr, rd := rating.InitialSkillRating, rating.MaxDeviation
	if rec, err := g.store.GetRating(account); err == nil {
		sr, rd = rec.SkillRating, rec.Deviation
	} else if !errors.Is(err, storage.ErrNotFound) {
		g.logger.Error("cannot load rating at admission", "account", account, "error", err)
	}

	switch err := room.AddMember(account, sr, rd); {
	case errors.Is(err, arena.ErrExceedLimit):
		c.enqueue(gameFailedPayload(wire.EnterExceedLimit))
		return
	case errors.Is(err, arena.ErrAlreadyStarted):
		c.enqueue(gameFailedPayload(wire.EnterAlreadyStarted))
		return
	case err != nil:
		g.logger.Error("admission failed", "account", account, "room", room.ID, "error", err)
		c.enqueue(gameFailedPayload(wire.EnterUnknown))
		return
	}

	g.registry.BindAccount(account, room.ID)
	c.setRoom(room.ID)
}

// enterResultFor maps token verification errors onto result bytes.
func enterResultFor(err error) wire.EnterResult {
	switch {
	case errors.Is(err, token.ErrExpired):
		return wire.EnterExpiredInvitation
	case errors.Is(err, token.ErrAccountMismatch):
		return wire.EnterAccountMismatch
	case errors.Is(err, token.ErrServerMismatch):
		return wire.EnterServerMismatch
	default:
		return wire.EnterUnknown
	}
}

// ladderParams is the shape of the room a queued account will be
// matched into, echoed back on a successful enqueue.
func (g *Gateway) ladderParams() arena.Params {
	return arena.Params{
		BattleField: physics.Square,
		Limit:       g.matchmakerLimit(),
		Ladder:      true,
	}
}

func (g *Gateway) matchmakerLimit() int {
	return g.matchmaker.LadderLimit()
}

// readParams decodes the room params block of a CREATE handshake and
// range-checks every field.
func readParams(r *wire.Reader) (arena.Params, bool) {
	field, err := r.U8()
	if err != nil || physics.BattleField(field) > physics.Round {
		return arena.Params{}, false
	}
	mode, err := r.U8()
	if err != nil {
		return arena.Params{}, false
	}
	limit, err := r.U8()
	if err != nil || limit < 2 || limit > 8 {
		return arena.Params{}, false
	}
	fair, err := r.Bool()
	if err != nil {
		return arena.Params{}, false
	}

	return arena.Params{
		BattleField: physics.BattleField(field),
		GameMode:    mode,
		Limit:       int(limit),
		Fair:        fair,
	}, true
}
