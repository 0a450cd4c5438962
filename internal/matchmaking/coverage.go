package matchmaking

import (
	"time"

	"battlecourt/internal/storage"
)

// Coverage half-widths by elapsed wait time. A fresh entry matches
// only close ratings; the window widens the longer the player waits.
const (
	narrowCoverage = 250.0
	mediumCoverage = 400.0
	wideCoverage   = 1000.0

	narrowWaitLimit = 5 * time.Second
	mediumWaitLimit = 10 * time.Second
)

// coverage returns the rating half-width for an entry that has waited
// the given duration.
func coverage(wait time.Duration) float64 {
	switch {
	case wait < narrowWaitLimit:
		return narrowCoverage
	case wait < mediumWaitLimit:
		return mediumCoverage
	default:
		return wideCoverage
	}
}

// ratingRange is the interval of opponents an entry accepts.
type ratingRange struct {
	lower, upper float64
}

func entryRange(e storage.QueueEntry, now time.Time) ratingRange {
	w := coverage(now.Sub(e.EnqueuedAt))
	return ratingRange{lower: e.SkillRating - w, upper: e.SkillRating + w}
}

// isMatchable reports whether every range in the group shares at least
// one common rating point.
func isMatchable(ranges []ratingRange) bool {
	if len(ranges) == 0 {
		return false
	}
	minUpper := ranges[0].upper
	maxLower := ranges[0].lower
	for _, r := range ranges[1:] {
		if r.upper < minUpper {
			minUpper = r.upper
		}
		if r.lower > maxLower {
			maxLower = r.lower
		}
	}
	if maxLower > minUpper {
		return false
	}
	for _, r := range ranges {
		if r.lower > minUpper || r.upper < maxLower {
			return false
		}
	}
	return true
}

// formGroups greedily partitions the rating-sorted queue into
// consecutive groups of the given size. When a candidate group is not
// matchable its earliest-queued member sits this pass out and the
// window slides to the next candidate.
func formGroups(entries []storage.QueueEntry, size int, now time.Time) [][]storage.QueueEntry {
	if size < 2 {
		return nil
	}
	var groups [][]storage.QueueEntry
	pending := append([]storage.QueueEntry(nil), entries...)

	for len(pending) >= size {
		candidate := pending[:size]
		ranges := make([]ratingRange, size)
		for i, e := range candidate {
			ranges[i] = entryRange(e, now)
		}
		if isMatchable(ranges) {
			group := append([]storage.QueueEntry(nil), candidate...)
			groups = append(groups, group)
			pending = pending[size:]
			continue
		}

		earliest := 0
		for i, e := range candidate {
			if e.EnqueuedAt.Before(candidate[earliest].EnqueuedAt) {
				earliest = i
			}
		}
		pending = append(pending[:earliest], pending[earliest+1:]...)
	}
	return groups
}
