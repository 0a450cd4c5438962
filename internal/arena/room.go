package arena

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"battlecourt/internal/config"
	"battlecourt/internal/rating"
	"battlecourt/internal/storage"
)

// Join failures. Checked before any state change, so a failed join
// leaves the room untouched.
var (
	ErrExceedLimit    = errors.New("arena: room is full")
	ErrAlreadyStarted = errors.New("arena: match already started")
	ErrNotMember      = errors.New("arena: account is not a room member")
)

// Deps are the collaborators a room needs. Clock defaults to time.Now
// and exists so tests can drive ticks deterministically.
type Deps struct {
	Config    config.RoomConfig
	Logger    *log.Logger
	Messenger Messenger
	Store     Store
	Clock     func() time.Time

	// OnDispose is called exactly once after the room tears down,
	// letting the registry drop its reference.
	OnDispose func(roomID uuid.UUID)
}

// Room is a single match instance: fixed roster, its own tick timer,
// physics state and progress. All state is guarded by mu; the tick and
// every frame merge run under it, so no partial state is ever visible.
type Room struct {
	ID     uuid.UUID
	Code   string
	Params Params

	deps Deps

	mu        sync.Mutex
	members   map[uuid.UUID]*Member
	roster    []uuid.UUID // join order, for stable snapshots
	progress  *Progress
	earnScore []EarnedScore
	stats     Statistics

	frames      []FrameEntry
	lastFrameID uint16

	used     bool
	disposed bool
	done     chan struct{}

	createdAt time.Time
}

// NewRoom builds a room without starting its tick loop; the registry
// calls Start after persisting the room record.
func NewRoom(id uuid.UUID, code string, params Params, deps Deps) *Room {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Room{
		ID:        id,
		Code:      code,
		Params:    params,
		deps:      deps,
		members:   make(map[uuid.UUID]*Member),
		done:      make(chan struct{}),
		createdAt: deps.Clock(),
	}
}

// Start launches the self-rescheduling tick loop. The next tick is
// armed only after the previous one returns, so a room never has two
// ticks in flight.
func (r *Room) Start() {
	go func() {
		timer := time.NewTimer(r.deps.Config.TickInterval)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				r.Tick(r.deps.Clock())
				timer.Reset(r.deps.Config.TickInterval)
			case <-r.done:
				return
			}
		}
	}()
}

// Used reports whether the room ever had a member. Unused rooms are
// pruned by the registry.
func (r *Room) Used() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// CreatedAt returns the room creation time.
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Disposed reports whether the room has been torn down.
func (r *Room) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// MemberCount returns the current roster size.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Member returns a copy of the member record for the account.
func (r *Room) Member(accountID uuid.UUID) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[accountID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Progress returns a copy of the live progress, or false before start
// and after final end.
func (r *Room) Progress() (Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress == nil {
		return Progress{}, false
	}
	return *r.progress, true
}

// AddMember admits an account into the room, assigning it to the
// smaller team (tie goes to team 0). The joiner receives the full room
// snapshot; everyone else an enter-member delta.
func (r *Room) AddMember(accountID uuid.UUID, skillRating, deviation float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return ErrAlreadyStarted
	}
	if r.progress != nil {
		return ErrAlreadyStarted
	}
	if len(r.members) >= r.Params.Limit {
		return ErrExceedLimit
	}
	if _, ok := r.members[accountID]; ok {
		return nil // already in; idempotent
	}

	m := &Member{
		AccountID:   accountID,
		SkillRating: skillRating,
		Deviation:   deviation,
		Team:        r.smallerTeam(),
	}
	r.members[accountID] = m
	r.roster = append(r.roster, accountID)
	r.used = true

	r.deps.Messenger.Unicast(accountID, r.snapshotPayload())
	r.multicastExcept(accountID, memberPayload(enterMemberOp, *m))
	return nil
}

// RemoveMember drops an account from the roster and evicts its
// connections. Removal alone never ends the match; the next tick's
// roster checks decide that.
func (r *Room) RemoveMember(accountID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[accountID]; !ok {
		return
	}
	delete(r.members, accountID)
	for i, id := range r.roster {
		if id == accountID {
			r.roster = append(r.roster[:i], r.roster[i+1:]...)
			break
		}
	}
	r.deps.Messenger.EvictFromRoom(accountID, r.ID)
	r.multicast(leaveMemberPayload(accountID))
}

// UpdateMember applies a member's ready/character/specification change
// and broadcasts the delta.
func (r *Room) UpdateMember(accountID uuid.UUID, character, specification uint8, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[accountID]
	if !ok {
		return ErrNotMember
	}
	m.Character = character
	m.Specification = specification
	m.Ready = ready
	r.multicast(memberPayload(updateMemberOp, *m))
	return nil
}

// smallerTeam picks the team with fewer members, team 0 on a tie.
func (r *Room) smallerTeam() uint8 {
	var count [2]int
	for _, m := range r.members {
		count[m.Team]++
	}
	if count[1] < count[0] {
		return 1
	}
	return 0
}

// allReady holds when every member is ready and the teams are equal in
// size.
func (r *Room) allReady() bool {
	if len(r.members) == 0 {
		return false
	}
	var count [2]int
	for _, m := range r.members {
		if !m.Ready {
			return false
		}
		count[m.Team]++
	}
	return count[0] == count[1]
}

// teamsAlive counts teams that still have members.
func (r *Room) teamsAlive() int {
	var count [2]int
	for _, m := range r.members {
		count[m.Team]++
	}
	alive := 0
	for _, n := range count {
		if n > 0 {
			alive++
		}
	}
	return alive
}

// Tick advances the state machine once. Exposed for deterministic
// tests; production ticks come from the Start loop. Panics are caught
// here so a defective tick cannot stop the loop.
func (r *Room) Tick(now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.deps.Logger.Error("room tick panicked", "room", r.ID, "panic", rec)
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return
	}

	if r.progress == nil {
		r.tickWaiting(now)
		return
	}
	r.tickActive(now)
}

// tickWaiting handles the pre-match states. Ladder rooms start the
// countdown when full; direct rooms when the whole roster is ready
// with balanced teams.
func (r *Room) tickWaiting(now time.Time) {
	if r.used && len(r.members) == 0 {
		r.finalEnd(now)
		return
	}
	if r.Params.Ladder {
		if len(r.members) >= r.Params.Limit {
			r.initialStart(now)
		}
		return
	}
	if r.allReady() {
		r.initialStart(now)
	}
}

// tickActive drives an in-progress match: roster checks first, then
// resume scheduling, then set expiry by time or score.
func (r *Room) tickActive(now time.Time) {
	if len(r.members) <= 1 || r.teamsAlive() <= 1 {
		r.finalEnd(now)
		return
	}

	p := r.progress
	if p.Suspended {
		// A direct room's countdown aborts if readiness breaks before
		// play ever started. nextSet also zeroes ResumedTime, so the
		// abort must not fire during a mid-match set break.
		preMatch := p.CurrentSet == 0 && len(r.stats.SetProgress) == 0
		if !r.Params.Ladder && preMatch && p.ResumedTime.IsZero() && !r.allReady() {
			r.progress = nil
			r.multicast(progressClearedPayload())
			return
		}
		if p.resumeDue(now) {
			r.start(now)
		}
		return
	}

	if p.expired(now) || p.Score[0] >= r.deps.Config.MaxScore || p.Score[1] >= r.deps.Config.MaxScore {
		r.nextSet(now)
	}
}

// initialStart creates the progress in its suspended countdown state.
// Play begins when the schedule elapses.
func (r *Room) initialStart(now time.Time) {
	resumeAt := now.Add(r.deps.Config.RestTime)
	r.progress = &Progress{
		CurrentSet:         0,
		MaxSet:             r.deps.Config.MaxSet,
		InitialStartTime:   now,
		TotalTimespan:      r.deps.Config.SetTimespan,
		Suspended:          true,
		ResumeScheduleTime: &resumeAt,
	}
	r.multicast(progressPayload(*r.progress))
}

// start flips a suspended progress into play.
func (r *Room) start(now time.Time) {
	r.progress.resume(now)
	r.multicast(progressPayload(*r.progress))
}

// nextSet archives the finished set and either schedules the next one
// or ends the match when the set budget is spent.
func (r *Room) nextSet(now time.Time) {
	p := r.progress
	r.stats.SetProgress = append(r.stats.SetProgress, SetRecord{
		Progress:  *p,
		EarnScore: r.earnScore,
	})
	r.earnScore = nil
	p.Score = [2]int{}

	p.CurrentSet++
	if p.CurrentSet >= p.MaxSet {
		r.finalEnd(now)
		return
	}

	resumeAt := now.Add(r.deps.Config.RestTime)
	p.Suspended = true
	p.ResumedTime = time.Time{}
	p.ResumeScheduleTime = &resumeAt
	p.ConsumedTimespanSum = 0

	// Frame ids restart each set; drop the old buffer wholesale.
	r.frames = nil
	r.lastFrameID = 0

	r.multicast(progressPayload(*p))
}

// setWins tallies archived sets per team. finalEnd archives the live
// set before calling it, so only stats.SetProgress is consulted.
func (r *Room) setWins() [2]int {
	var wins [2]int
	for _, rec := range r.stats.SetProgress {
		if rec.Progress.Score[0] > rec.Progress.Score[1] {
			wins[0]++
		} else if rec.Progress.Score[1] > rec.Progress.Score[0] {
			wins[1]++
		}
	}
	return wins
}

// finalEnd settles and disposes the room: archive the live set,
// update ratings and history for ladder matches, broadcast the result
// and tear down. Persistence failures are logged anomalies, never
// crashes; in-memory state is the source of truth.
func (r *Room) finalEnd(now time.Time) {
	p := r.progress
	if p != nil && (len(r.earnScore) > 0 || p.Score != [2]int{}) {
		r.stats.SetProgress = append(r.stats.SetProgress, SetRecord{Progress: *p, EarnScore: r.earnScore})
		r.earnScore = nil
	}

	wins := r.setWins()
	r.multicast(resultPayload(r.ID, wins, r.stats))

	if r.Params.Ladder && len(r.members) > 0 {
		r.settleRatings(now, wins)
	}
	r.writeHistory(now, wins)

	r.progress = nil
	r.dispose()
}

// settleRatings applies the Glicko update for every member against the
// opposing team's ratings.
func (r *Room) settleRatings(now time.Time, wins [2]int) {
	winner := NoWinner
	if wins[0] > wins[1] {
		winner = 0
	} else if wins[1] > wins[0] {
		winner = 1
	}

	for _, m := range r.members {
		var opponents []rating.Rating
		for _, o := range r.members {
			if o.Team != m.Team {
				opponents = append(opponents, rating.Rating{SkillRating: o.SkillRating, Deviation: o.Deviation})
			}
		}
		outcome := rating.Draw
		if winner == int(m.Team) {
			outcome = rating.Win
		} else if winner != NoWinner {
			outcome = rating.Loss
		}

		dates, err := r.deps.Store.HistoryDates(m.AccountID)
		if err != nil {
			r.deps.Logger.Error("cannot load rating history", "room", r.ID, "account", m.AccountID, "error", err)
		}
		rd := rating.DeviationAfterIdle(m.Deviation, dates, now)
		updated := rating.Apply(rating.Rating{SkillRating: m.SkillRating, Deviation: rd}, opponents, outcome)

		err = r.deps.Store.PutRating(storage.RatingRecord{
			AccountID:    m.AccountID,
			SkillRating:  updated.SkillRating,
			Deviation:    updated.Deviation,
			LastPlayedAt: now,
		})
		if err != nil {
			r.deps.Logger.Error("cannot persist rating", "room", r.ID, "account", m.AccountID, "error", err)
		}

		if outcome == rating.Win {
			// Fire and forget; recording is idempotent downstream.
			accountID := m.AccountID
			go func() {
				if err := r.deps.Store.RecordAchievement(accountID, AchievementFirstWin, now); err != nil {
					r.deps.Logger.Error("cannot record achievement", "account", accountID, "error", err)
				}
			}()
		}
	}
}

// NoWinner marks a drawn match.
const NoWinner = -1

func (r *Room) writeHistory(now time.Time, wins [2]int) {
	if len(r.members) == 0 {
		return
	}
	entries := make([]storage.HistoryEntry, 0, len(r.members))
	for _, m := range r.members {
		entries = append(entries, storage.HistoryEntry{
			RoomID:     r.ID,
			AccountID:  m.AccountID,
			Team:       m.Team,
			FinalScore: [2]int{wins[0], wins[1]},
			Ladder:     r.Params.Ladder,
			FinishedAt: now,
		})
	}
	if err := r.deps.Store.InsertHistory(entries); err != nil {
		r.deps.Logger.Error("cannot write game history", "room", r.ID, "error", err)
	}
}

// dispose tears the room down exactly once: stop the tick loop, evict
// every connection, clear the roster and delete the persisted record.
// Must be called with mu held.
func (r *Room) dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	close(r.done)

	for id := range r.members {
		r.deps.Messenger.EvictFromRoom(id, r.ID)
	}
	r.members = make(map[uuid.UUID]*Member)
	r.roster = nil
	r.frames = nil

	roomID := r.ID
	store := r.deps.Store
	logger := r.deps.Logger
	go func() {
		// The record may already be gone if another path deleted it;
		// that is a logged anomaly, not a failure.
		if err := store.DeleteRoom(roomID); err != nil {
			logger.Error("cannot delete room record", "room", roomID, "error", err)
		}
	}()

	if r.deps.OnDispose != nil {
		go r.deps.OnDispose(roomID)
	}
}

// Dispose force-disposes a room outside the normal match flow, e.g.
// when pruning unused rooms. Idempotent.
func (r *Room) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispose()
}

// addScore credits a goal. Must be called with mu held.
func (r *Room) addScore(submitter uuid.UUID, team int, now time.Time) {
	if r.progress == nil || team < 0 || team > 1 {
		return
	}
	entry := EarnedScore{AccountID: submitter, Team: uint8(team), At: now}
	r.earnScore = append(r.earnScore, entry)
	r.progress.Score[team]++
	r.multicast(earnScorePayload(entry, *r.progress))
}

// multicast delivers payload to every room member.
func (r *Room) multicast(payload []byte) {
	for _, id := range r.roster {
		r.deps.Messenger.Unicast(id, payload)
	}
}

func (r *Room) multicastExcept(except uuid.UUID, payload []byte) {
	for _, id := range r.roster {
		if id != except {
			r.deps.Messenger.Unicast(id, payload)
		}
	}
}
