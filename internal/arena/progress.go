package arena

import "time"

// Progress is the live state of an active match. It exists only
// between initial start and final end; a nil progress means the room
// is still waiting.
type Progress struct {
	CurrentSet int
	MaxSet     int
	Score      [2]int

	InitialStartTime time.Time
	TotalTimespan    time.Duration

	// Suspended is true during the pre-start countdown and between
	// sets. ResumeScheduleTime is set only while suspended and cleared
	// on resume.
	Suspended          bool
	ResumedTime        time.Time
	ResumeScheduleTime *time.Time

	// ConsumedTimespanSum is the play time already spent in the
	// current set before the most recent suspension. It accumulates
	// only across suspend/resume cycles and resets each set.
	ConsumedTimespanSum time.Duration
}

// resume flips the progress into play, clearing the schedule.
func (p *Progress) resume(now time.Time) {
	p.Suspended = false
	p.ResumedTime = now
	p.ResumeScheduleTime = nil
}

// suspend pauses play, banking the time consumed since the last
// resume.
func (p *Progress) suspend(now time.Time) {
	if !p.Suspended {
		p.ConsumedTimespanSum += now.Sub(p.ResumedTime)
	}
	p.Suspended = true
}

// expired reports whether the set's play budget has run out.
func (p *Progress) expired(now time.Time) bool {
	if p.Suspended {
		return false
	}
	return p.ResumedTime.Add(p.TotalTimespan - p.ConsumedTimespanSum).Before(now)
}

// resumeDue reports whether a suspended progress has reached its
// scheduled resume time.
func (p *Progress) resumeDue(now time.Time) bool {
	return p.Suspended && p.ResumeScheduleTime != nil && !now.Before(*p.ResumeScheduleTime)
}
