package wire

// Opcode identifies a message type. Every message on the wire begins
// with its opcode as a 2-byte integer.
type Opcode uint16

// Client-to-server opcodes.
const (
	OpHandshake Opcode = 0x0001
	OpFrame     Opcode = 0x0002
)

// Server-to-client opcodes.
const (
	OpEnqueued        Opcode = 0x0101
	OpInvitation      Opcode = 0x0102
	OpMatchmakeFailed Opcode = 0x0103
	OpGameRoom        Opcode = 0x0104
	OpGameFailed      Opcode = 0x0105
	OpEnterMember     Opcode = 0x0106
	OpUpdateMember    Opcode = 0x0107
	OpLeaveMember     Opcode = 0x0108
	OpResyncAll       Opcode = 0x0109
	OpResyncPart      Opcode = 0x010A
	OpProgress        Opcode = 0x010B
	OpEarnScore       Opcode = 0x010C
	OpGameResult      Opcode = 0x010D
)

// HandshakeType is the sub-type byte following OpHandshake.
type HandshakeType uint8

const (
	// HandshakeQueue enters the ladder matchmaking queue.
	HandshakeQueue HandshakeType = iota
	// HandshakeCreate creates a direct room; room params follow.
	HandshakeCreate
	// HandshakeEnter joins a direct room; the entry code string follows.
	HandshakeEnter
	// HandshakeResume re-requests an invitation for an active room.
	HandshakeResume
)

// MatchmakeReason is the reason byte of OpMatchmakeFailed.
type MatchmakeReason uint8

const (
	MatchmakeUnknown MatchmakeReason = iota
	MatchmakeDuplicate
)

// EnterResult is the result byte of OpGameFailed.
type EnterResult uint8

const (
	EnterUnknown EnterResult = iota
	EnterExceedLimit
	EnterAlreadyStarted
	EnterExpiredInvitation
	EnterAccountMismatch
	EnterServerMismatch
	EnterGameMismatch
	EnterNotFound
)
