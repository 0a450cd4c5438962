// Package rating implements the Glicko-style skill rating model used at
// matchmaking time and at game end.
package rating

import (
	"math"
	"time"
)

const (
	// InitialSkillRating is the rating assigned to an account before
	// its first rated game.
	InitialSkillRating = 1500.0

	// MaxDeviation is the rating deviation of a player with no rated
	// history, and the cap deviation decays back to while idle.
	MaxDeviation = 350.0

	// TypicalDeviation is the deviation of a regularly active player.
	TypicalDeviation = 50.0

	// ReturnPeriod is how many idle days it takes a typical player's
	// deviation to climb back to the maximum.
	ReturnPeriod = 100.0
)

var (
	c = math.Sqrt((MaxDeviation*MaxDeviation - TypicalDeviation*TypicalDeviation) / ReturnPeriod)
	q = math.Ln10 / 400
)

// Outcome values for Apply. The function accepts any real; these are
// the conventional ones.
const (
	Loss = 0.0
	Draw = 0.5
	Win  = 1.0
)

// Rating is a player's skill estimate together with its uncertainty.
// It is mutated only at match conclusion.
type Rating struct {
	SkillRating float64
	Deviation   float64
}

// DeviationAfterIdle grows a stored deviation with elapsed time since
// the player's most recent rated game, capped at MaxDeviation. A player
// with no history gets the maximum.
func DeviationAfterIdle(initial float64, history []time.Time, now time.Time) float64 {
	if len(history) == 0 {
		return MaxDeviation
	}
	latest := history[0]
	for _, d := range history[1:] {
		if d.After(latest) {
			latest = d
		}
	}
	days := now.Sub(latest).Hours() / 24
	rd := math.Sqrt(initial*initial + c*c*days)
	return math.Min(rd, MaxDeviation)
}

// g dampens an opponent's influence by their rating uncertainty.
func g(rd float64) float64 {
	x := q * rd / math.Pi
	return 1 / math.Sqrt(1+3*x*x)
}

// WinProb is the expected score of a player rated sr against an
// opponent rated oppSR with deviation oppRD.
func WinProb(sr, oppSR, oppRD float64) float64 {
	return 1 / (1 + math.Pow(10, -g(oppRD)*(sr-oppSR)/400))
}

// Apply runs the Glicko update for one rating period against the given
// opponents with a single shared outcome, returning the new rating.
func Apply(r Rating, opponents []Rating, outcome float64) Rating {
	if len(opponents) == 0 {
		return r
	}

	var sum, dInv float64
	for _, opp := range opponents {
		e := WinProb(r.SkillRating, opp.SkillRating, opp.Deviation)
		gi := g(opp.Deviation)
		sum += gi * (outcome - e)
		dInv += gi * gi * e * (1 - e)
	}
	d2 := 1 / (q * q * dInv)

	rd2 := r.Deviation * r.Deviation
	newRD := math.Sqrt(1 / (1/rd2 + 1/d2))
	newSR := r.SkillRating + q*newRD*newRD*sum

	return Rating{SkillRating: newSR, Deviation: newRD}
}
