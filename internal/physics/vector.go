// Package physics implements the 2D kinematics used by the battle court:
// vector math, paddle/ball collision response and per-topology goal
// detection. It contains pure logic with no external dependencies so the
// simulation stays deterministic and testable.
package physics

import "math"

// Vector2 is a plain 2D value. It has no identity; copy freely.
type Vector2 struct {
	X float64
	Y float64
}

// Add returns v + w.
func (v Vector2) Add(w Vector2) Vector2 {
	return Vector2{X: v.X + w.X, Y: v.Y + w.Y}
}

// Sub returns v - w.
func (v Vector2) Sub(w Vector2) Vector2 {
	return Vector2{X: v.X - w.X, Y: v.Y - w.Y}
}

// Scale returns v scaled by s.
func (v Vector2) Scale(s float64) Vector2 {
	return Vector2{X: v.X * s, Y: v.Y * s}
}

// Dot returns the dot product of v and w.
func (v Vector2) Dot(w Vector2) float64 {
	return v.X*w.X + v.Y*w.Y
}

// Length returns the magnitude of v.
func (v Vector2) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

// Angle returns the angle of v in radians.
func (v Vector2) Angle() float64 {
	return math.Atan2(v.Y, v.X)
}

// Rotate returns v rotated by theta radians.
func (v Vector2) Rotate(theta float64) Vector2 {
	sin, cos := math.Sincos(theta)
	return Vector2{
		X: v.X*cos - v.Y*sin,
		Y: v.X*sin + v.Y*cos,
	}
}

// Distance returns the euclidean distance between a and b.
func Distance(a, b Vector2) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Normalize returns the unit vector pointing from a to b.
// Returns the zero vector when a and b coincide.
func Normalize(a, b Vector2) Vector2 {
	d := b.Sub(a)
	l := d.Length()
	if l == 0 {
		return Vector2{}
	}
	return d.Scale(1 / l)
}

// Unit negates v and normalizes the result. It is always applied to a
// ball-to-paddle normal, so the negation yields the paddle-to-ball
// repulsion direction.
func Unit(v Vector2) Vector2 {
	n := v.Scale(-1)
	l := n.Length()
	if l == 0 {
		return Vector2{}
	}
	return n.Scale(1 / l)
}
