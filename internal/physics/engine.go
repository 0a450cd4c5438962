package physics

import "math"

// Field and body dimensions. The court is 1000 wide and 1920 tall for
// both topologies.
const (
	FieldWidth  = 1000.0
	FieldHeight = 1920.0

	BallRadius   = 36.0
	PaddleRadius = 80.0
	GoalRadius   = PaddleRadius + 8

	// ReflectGain is the speed multiplier applied on every bounce. The
	// sign reversal is part of the angle-doubling reflection formula.
	ReflectGain = -1.1

	// MomentumTransfer is the fraction of paddle velocity imparted to
	// the ball on contact.
	MomentumTransfer = 1.0 / 8.0

	// ResetSpeed is the per-axis ball speed after a goal on the square
	// court.
	ResetSpeed = 15.0
)

// BattleField selects the court topology.
type BattleField uint8

const (
	// Square is the rectangular court: goals are the top and bottom
	// edges.
	Square BattleField = iota
	// Round is the elliptic court: goals are the two focal circles.
	Round
)

// String returns a human-readable name for the battlefield.
func (b BattleField) String() string {
	switch b {
	case Square:
		return "square"
	case Round:
		return "round"
	default:
		return "unknown"
	}
}

// FieldCenter is the middle of the court, where the ball respawns after
// a square-court goal.
var FieldCenter = Vector2{X: FieldWidth / 2, Y: FieldHeight / 2}

// FocusPos1 and FocusPos2 are the goal points of the round court,
// placed at the foci of the ellipse inscribed in the field rectangle.
var (
	focalOffset = math.Sqrt(FieldHeight/2*FieldHeight/2 - FieldWidth/2*FieldWidth/2)

	FocusPos1 = Vector2{X: FieldWidth / 2, Y: FieldHeight/2 - focalOffset}
	FocusPos2 = Vector2{X: FieldWidth / 2, Y: FieldHeight/2 + focalOffset}
)

// NoScore is returned by Step when no goal was detected.
const NoScore = -1

// Reflect mirrors velocity v about the surface normal n when the ball
// is moving toward the surface (n·v >= 0), applying the bounce speed
// gain. A ball already moving away keeps its velocity unchanged.
func Reflect(v, n Vector2) Vector2 {
	if n.Dot(v) < 0 {
		return v
	}
	theta := 2*n.Angle() - 2*v.Angle()
	return v.Rotate(theta).Scale(ReflectGain)
}

// Collides reports whether the ball and paddle bodies overlap.
func Collides(ball, paddle PhysicsAttribute) bool {
	return Distance(ball.Position, paddle.Position) <= BallRadius+PaddleRadius
}

// collide resolves one ball/paddle contact in place and reports whether
// a contact happened. The ball is pushed back onto the collision circle
// before reflecting so a deep overlap cannot re-trigger next step.
func collide(ball, paddle *PhysicsAttribute) bool {
	if !Collides(*ball, *paddle) {
		return false
	}
	normal := Normalize(ball.Position, paddle.Position)
	away := Unit(normal)
	ball.Position = paddle.Position.Add(away.Scale(BallRadius + PaddleRadius))
	ball.Velocity = Reflect(ball.Velocity, normal)
	ball.Velocity = ball.Velocity.Add(paddle.Velocity.Scale(MomentumTransfer))
	return true
}

// Step runs one physics pass over the frame in place: hit flags are
// recomputed from scratch, both paddle contacts are resolved, then the
// goal check for the given topology runs. It returns the team that
// scored, or NoScore.
//
// Step does not integrate positions; clients simulate movement and the
// server validates the submitted state. Ball speed is not clamped here.
func Step(f *Frame, field BattleField) int {
	f.Paddle1Hit = collide(&f.Ball, &f.Paddle1)
	f.Paddle2Hit = collide(&f.Ball, &f.Paddle2)

	switch field {
	case Round:
		return checkGoalRound(f)
	default:
		return checkGoalSquare(f)
	}
}

// checkGoalSquare scores when the ball crosses the top or bottom edge.
// Top edge scores for team 1, bottom edge for team 0; the respawn
// velocity signs are fixed per losing side.
func checkGoalSquare(f *Frame) int {
	if f.Ball.Position.Y < BallRadius {
		f.Ball.Position = FieldCenter
		f.Ball.Velocity = Vector2{X: ResetSpeed, Y: ResetSpeed}
		return 1
	}
	if f.Ball.Position.Y > FieldHeight-BallRadius {
		f.Ball.Position = FieldCenter
		f.Ball.Velocity = Vector2{X: -ResetSpeed, Y: -ResetSpeed}
		return 0
	}
	return NoScore
}

// checkGoalRound scores when the ball reaches either focal circle. The
// top focus maps to team 1 and the bottom focus to team 0, matching the
// square-court edge assignment.
func checkGoalRound(f *Frame) int {
	if Distance(f.Ball.Position, FocusPos1) <= GoalRadius+BallRadius {
		return 1
	}
	if Distance(f.Ball.Position, FocusPos2) <= GoalRadius+BallRadius {
		return 0
	}
	return NoScore
}
