package rating

import (
	"testing"
	"time"
)

func TestDeviationAfterIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("no history means maximum", func(t *testing.T) {
		if rd := DeviationAfterIdle(50, nil, now); rd != MaxDeviation {
			t.Errorf("DeviationAfterIdle() = %v, expected %v", rd, MaxDeviation)
		}
	})

	t.Run("grows with idle time", func(t *testing.T) {
		recent := DeviationAfterIdle(50, []time.Time{now.AddDate(0, 0, -1)}, now)
		stale := DeviationAfterIdle(50, []time.Time{now.AddDate(0, 0, -30)}, now)
		if recent <= 50 {
			t.Errorf("deviation after one idle day = %v, expected > 50", recent)
		}
		if stale <= recent {
			t.Errorf("deviation not monotonic: 30d=%v <= 1d=%v", stale, recent)
		}
	})

	t.Run("uses the most recent date", func(t *testing.T) {
		dates := []time.Time{
			now.AddDate(0, 0, -300),
			now.AddDate(0, 0, -2),
			now.AddDate(0, 0, -90),
		}
		got := DeviationAfterIdle(50, dates, now)
		want := DeviationAfterIdle(50, []time.Time{now.AddDate(0, 0, -2)}, now)
		if got != want {
			t.Errorf("DeviationAfterIdle() = %v, expected %v (latest date only)", got, want)
		}
	})

	t.Run("capped at maximum", func(t *testing.T) {
		got := DeviationAfterIdle(340, []time.Time{now.AddDate(-5, 0, 0)}, now)
		if got != MaxDeviation {
			t.Errorf("DeviationAfterIdle() = %v, expected cap %v", got, MaxDeviation)
		}
	})
}

func TestWinProb(t *testing.T) {
	// Equal ratings give even odds regardless of deviation.
	if p := WinProb(1500, 1500, 50); p != 0.5 {
		t.Errorf("WinProb(equal) = %v, expected 0.5", p)
	}

	// Higher rating is favored; complements sum to one.
	p := WinProb(1700, 1500, 50)
	pInv := WinProb(1500, 1700, 50)
	if p <= 0.5 {
		t.Errorf("WinProb(favored) = %v, expected > 0.5", p)
	}
	if diff := p + pInv - 1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("WinProb complements = %v + %v, expected sum 1", p, pInv)
	}

	// A noisier opponent pulls the estimate toward a coin flip.
	noisy := WinProb(1700, 1500, MaxDeviation)
	if noisy >= p {
		t.Errorf("WinProb(noisy opp) = %v, expected < %v", noisy, p)
	}
}

func TestApplyConvergence(t *testing.T) {
	underdog := Rating{SkillRating: 1400, Deviation: 80}
	favorite := Rating{SkillRating: 1600, Deviation: 60}

	won := Apply(underdog, []Rating{favorite}, Win)
	if won.SkillRating <= underdog.SkillRating {
		t.Errorf("winning against a stronger opponent lowered sr: %v -> %v",
			underdog.SkillRating, won.SkillRating)
	}

	lost := Apply(underdog, []Rating{favorite}, Loss)
	if lost.SkillRating >= underdog.SkillRating {
		t.Errorf("losing raised sr: %v -> %v", underdog.SkillRating, lost.SkillRating)
	}

	// An upset moves the rating further than the expected result.
	expectedGain := won.SkillRating - underdog.SkillRating
	expectedLoss := underdog.SkillRating - lost.SkillRating
	if expectedGain <= expectedLoss {
		t.Errorf("upset gain %v not larger than expected loss %v", expectedGain, expectedLoss)
	}
}

func TestApplyShrinksDeviation(t *testing.T) {
	r := Rating{SkillRating: 1500, Deviation: 200}
	opp := Rating{SkillRating: 1500, Deviation: 60}

	updated := Apply(r, []Rating{opp}, Win)
	if updated.Deviation >= r.Deviation {
		t.Errorf("deviation did not shrink after a rated game: %v -> %v",
			r.Deviation, updated.Deviation)
	}

	// No opponents, no change.
	if got := Apply(r, nil, Win); got != r {
		t.Errorf("Apply() with no opponents = %+v, expected unchanged", got)
	}
}
