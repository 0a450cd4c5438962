package wire

import "battlecourt/internal/physics"

// Frame payload layout: the 2-byte frame id, paddle 1 kinematics and
// hit byte, paddle 2 kinematics and hit byte, then the ball kinematics.
// Each kinematics block is four float32s (position x/y, velocity x/y).
// The "without ball" variant omits the last block; readers fabricate a
// zeroed ball, used when the ball state is not trusted or not needed.

func (w *Writer) attribute(a physics.PhysicsAttribute) {
	w.F32(float32(a.Position.X))
	w.F32(float32(a.Position.Y))
	w.F32(float32(a.Velocity.X))
	w.F32(float32(a.Velocity.Y))
}

func (r *Reader) attribute() (physics.PhysicsAttribute, error) {
	var a physics.PhysicsAttribute
	var err error
	var v float32
	if v, err = r.F32(); err != nil {
		return a, err
	}
	a.Position.X = float64(v)
	if v, err = r.F32(); err != nil {
		return a, err
	}
	a.Position.Y = float64(v)
	if v, err = r.F32(); err != nil {
		return a, err
	}
	a.Velocity.X = float64(v)
	if v, err = r.F32(); err != nil {
		return a, err
	}
	a.Velocity.Y = float64(v)
	return a, nil
}

// Frame writes a full frame payload including the ball block.
func (w *Writer) Frame(f physics.Frame) {
	w.U16(f.ID)
	w.attribute(f.Paddle1)
	w.Bool(f.Paddle1Hit)
	w.attribute(f.Paddle2)
	w.Bool(f.Paddle2Hit)
	w.attribute(f.Ball)
}

// FrameWithoutBall writes a frame payload with the ball block omitted.
func (w *Writer) FrameWithoutBall(f physics.Frame) {
	w.U16(f.ID)
	w.attribute(f.Paddle1)
	w.Bool(f.Paddle1Hit)
	w.attribute(f.Paddle2)
	w.Bool(f.Paddle2Hit)
}

func (r *Reader) framePaddles() (physics.Frame, error) {
	var f physics.Frame
	var err error
	if f.ID, err = r.U16(); err != nil {
		return f, err
	}
	if f.Paddle1, err = r.attribute(); err != nil {
		return f, err
	}
	if f.Paddle1Hit, err = r.Bool(); err != nil {
		return f, err
	}
	if f.Paddle2, err = r.attribute(); err != nil {
		return f, err
	}
	if f.Paddle2Hit, err = r.Bool(); err != nil {
		return f, err
	}
	return f, nil
}

// Frame reads a full frame payload.
func (r *Reader) Frame() (physics.Frame, error) {
	f, err := r.framePaddles()
	if err != nil {
		return f, err
	}
	f.Ball, err = r.attribute()
	return f, err
}

// FrameWithoutBall reads the ball-less frame variant. The ball comes
// back zeroed.
func (r *Reader) FrameWithoutBall() (physics.Frame, error) {
	return r.framePaddles()
}
