package physics

// PhysicsAttribute is the kinematic state of one body within a frame.
// It is owned by its Frame and mutated in place by the physics step;
// attributes are never shared across frames.
type PhysicsAttribute struct {
	Position Vector2
	Velocity Vector2
}

// Frame is one snapshot of paddle and ball state, identified by a
// monotonic id that wraps at the uint16 boundary. The hit flags are
// recomputed by every physics step and never merged from client input.
type Frame struct {
	ID         uint16
	Paddle1    PhysicsAttribute
	Paddle1Hit bool
	Paddle2    PhysicsAttribute
	Paddle2Hit bool
	Ball       PhysicsAttribute
}

// Clone returns a deep copy of the frame. All fields are values, so a
// plain copy suffices; the method exists to make ownership transfers
// explicit at call sites.
func (f Frame) Clone() Frame {
	return f
}
