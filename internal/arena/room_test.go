package arena

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlecourt/internal/config"
	"battlecourt/internal/physics"
	"battlecourt/internal/storage"
	"battlecourt/internal/wire"
)

// fakeMessenger records every delivery and eviction.
type fakeMessenger struct {
	mu        sync.Mutex
	sent      map[uuid.UUID][][]byte
	evictions []uuid.UUID
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: make(map[uuid.UUID][][]byte)}
}

func (f *fakeMessenger) Unicast(accountID uuid.UUID, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[accountID] = append(f.sent[accountID], payload)
}

func (f *fakeMessenger) EvictFromRoom(accountID, _ uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictions = append(f.evictions, accountID)
}

func (f *fakeMessenger) payloadsFor(accountID uuid.UUID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[accountID]...)
}

func (f *fakeMessenger) opcodesFor(t *testing.T, accountID uuid.UUID) []wire.Opcode {
	t.Helper()
	var ops []wire.Opcode
	for _, p := range f.payloadsFor(accountID) {
		op, err := wire.NewReader(p).Opcode()
		require.NoError(t, err)
		ops = append(ops, op)
	}
	return ops
}

// fakeStore satisfies RegistryStore in memory.
type fakeStore struct {
	mu           sync.Mutex
	ratings      map[uuid.UUID]storage.RatingRecord
	history      []storage.HistoryEntry
	achievements map[uuid.UUID][]int
	deletedRooms []uuid.UUID
	rooms        []storage.RoomRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ratings:      make(map[uuid.UUID]storage.RatingRecord),
		achievements: make(map[uuid.UUID][]int),
	}
}

func (f *fakeStore) DeleteRoom(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRooms = append(f.deletedRooms, id)
	return nil
}

func (f *fakeStore) GetRating(accountID uuid.UUID) (storage.RatingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[accountID]
	if !ok {
		return storage.RatingRecord{}, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) PutRating(r storage.RatingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[r.AccountID] = r
	return nil
}

func (f *fakeStore) HistoryDates(uuid.UUID) ([]time.Time, error) {
	return nil, nil
}

func (f *fakeStore) InsertHistory(entries []storage.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entries...)
	return nil
}

func (f *fakeStore) RecordAchievement(accountID uuid.UUID, achievementID int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.achievements[accountID] = append(f.achievements[accountID], achievementID)
	return nil
}

func (f *fakeStore) InsertRoom(r storage.RoomRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, r)
	return nil
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testRoomConfig() config.RoomConfig {
	return config.RoomConfig{
		TickInterval: 500 * time.Millisecond,
		RestTime:     4 * time.Second,
		SetTimespan:  3 * time.Minute,
		MaxSet:       3,
		MaxScore:     7,
		PruneAfter:   time.Minute,
	}
}

type roomFixture struct {
	room      *Room
	messenger *fakeMessenger
	store     *fakeStore
	clock     *testClock
	disposed  chan uuid.UUID
}

func newRoomFixture(t *testing.T, params Params) *roomFixture {
	t.Helper()
	f := &roomFixture{
		messenger: newFakeMessenger(),
		store:     newFakeStore(),
		clock:     newTestClock(),
		disposed:  make(chan uuid.UUID, 1),
	}
	f.room = NewRoom(uuid.New(), "", params, Deps{
		Config:    testRoomConfig(),
		Logger:    log.New(io.Discard),
		Messenger: f.messenger,
		Store:     f.store,
		Clock:     f.clock.Now,
		OnDispose: func(id uuid.UUID) { f.disposed <- id },
	})
	return f
}

// startMatch walks a ladder fixture from waiting into play.
func (f *roomFixture) startMatch(t *testing.T, members ...uuid.UUID) {
	t.Helper()
	for _, id := range members {
		require.NoError(t, f.room.AddMember(id, 1500, 100))
	}
	f.room.Tick(f.clock.Now())
	_, started := f.room.Progress()
	require.True(t, started, "countdown did not begin")

	f.clock.Advance(testRoomConfig().RestTime)
	f.room.Tick(f.clock.Now())
	p, _ := f.room.Progress()
	require.False(t, p.Suspended, "match did not leave countdown")
}

func ladderParams(limit int) Params {
	return Params{BattleField: physics.Square, Limit: limit, Ladder: true}
}

func TestTeamBalanceInvariant(t *testing.T) {
	f := newRoomFixture(t, Params{BattleField: physics.Square, Limit: 8})

	var members []uuid.UUID
	for i := 0; i < 7; i++ {
		id := uuid.New()
		members = append(members, id)
		require.NoError(t, f.room.AddMember(id, 1500, 100))

		var count [2]int
		for _, m := range members {
			got, ok := f.room.Member(m)
			require.True(t, ok)
			count[got.Team]++
		}
		diff := count[0] - count[1]
		assert.LessOrEqual(t, diff*diff, 1, "teams out of balance after %d joins: %v", i+1, count)
	}

	// First member lands on team 0 (tie breaks low).
	first, _ := f.room.Member(members[0])
	assert.Equal(t, uint8(0), first.Team)
}

func TestAddMemberFailuresLeaveRoomUntouched(t *testing.T) {
	f := newRoomFixture(t, ladderParams(2))
	a, b := uuid.New(), uuid.New()

	require.NoError(t, f.room.AddMember(a, 1500, 100))
	require.NoError(t, f.room.AddMember(b, 1500, 100))

	err := f.room.AddMember(uuid.New(), 1500, 100)
	assert.ErrorIs(t, err, ErrExceedLimit)
	assert.Equal(t, 2, f.room.MemberCount())

	// Once the countdown begins, joining fails with AlreadyStarted.
	f.room.Tick(f.clock.Now())
	err = f.room.AddMember(uuid.New(), 1500, 100)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestLadderCountdownAndStart(t *testing.T) {
	f := newRoomFixture(t, ladderParams(2))
	a, b := uuid.New(), uuid.New()

	require.NoError(t, f.room.AddMember(a, 1500, 100))
	f.room.Tick(f.clock.Now())
	_, started := f.room.Progress()
	assert.False(t, started, "room started before reaching capacity")

	require.NoError(t, f.room.AddMember(b, 1500, 100))
	f.room.Tick(f.clock.Now())
	p, started := f.room.Progress()
	require.True(t, started)
	assert.True(t, p.Suspended)
	require.NotNil(t, p.ResumeScheduleTime)

	// Not due yet.
	f.clock.Advance(time.Second)
	f.room.Tick(f.clock.Now())
	p, _ = f.room.Progress()
	assert.True(t, p.Suspended)

	f.clock.Advance(3 * time.Second)
	f.room.Tick(f.clock.Now())
	p, _ = f.room.Progress()
	assert.False(t, p.Suspended)
	assert.Nil(t, p.ResumeScheduleTime)
	assert.Equal(t, f.clock.Now(), p.ResumedTime)
}

func TestDirectRoomWaitsForReadiness(t *testing.T) {
	f := newRoomFixture(t, Params{BattleField: physics.Square, Limit: 2})
	a, b := uuid.New(), uuid.New()
	require.NoError(t, f.room.AddMember(a, 1500, 100))
	require.NoError(t, f.room.AddMember(b, 1500, 100))

	f.room.Tick(f.clock.Now())
	_, started := f.room.Progress()
	assert.False(t, started, "room started without readiness")

	require.NoError(t, f.room.UpdateMember(a, 1, 0, true))
	f.room.Tick(f.clock.Now())
	_, started = f.room.Progress()
	assert.False(t, started, "room started with one unready member")

	require.NoError(t, f.room.UpdateMember(b, 2, 1, true))
	f.room.Tick(f.clock.Now())
	_, started = f.room.Progress()
	assert.True(t, started)

	// Readiness breaking during the countdown aborts it.
	require.NoError(t, f.room.UpdateMember(b, 2, 1, false))
	f.clock.Advance(time.Second)
	f.room.Tick(f.clock.Now())
	_, started = f.room.Progress()
	assert.False(t, started, "countdown survived a member unreadying")
}

func TestSetBreakSurvivesUnreadyMember(t *testing.T) {
	f := newRoomFixture(t, Params{BattleField: physics.Square, Limit: 2})
	a, b := uuid.New(), uuid.New()
	require.NoError(t, f.room.AddMember(a, 1500, 100))
	require.NoError(t, f.room.AddMember(b, 1500, 100))
	require.NoError(t, f.room.UpdateMember(a, 1, 0, true))
	require.NoError(t, f.room.UpdateMember(b, 2, 1, true))

	f.room.Tick(f.clock.Now())
	f.clock.Advance(testRoomConfig().RestTime)
	f.room.Tick(f.clock.Now())
	p, _ := f.room.Progress()
	require.False(t, p.Suspended, "match did not leave countdown")

	// Team 0 takes the first set by score.
	for i := 0; i < testRoomConfig().MaxScore; i++ {
		f.room.mu.Lock()
		f.room.addScore(a, 0, f.clock.Now())
		f.room.mu.Unlock()
	}
	f.room.Tick(f.clock.Now())
	p, ok := f.room.Progress()
	require.True(t, ok)
	require.Equal(t, 1, p.CurrentSet)
	require.True(t, p.Suspended)

	// Only the pre-match countdown depends on readiness; a member
	// toggling unready during the set break must not abort the match.
	require.NoError(t, f.room.UpdateMember(b, 2, 1, false))
	f.room.Tick(f.clock.Now())
	p, ok = f.room.Progress()
	require.True(t, ok, "set break aborted by an unready member")
	assert.Equal(t, 1, p.CurrentSet)

	// The break still ends on schedule.
	f.clock.Advance(testRoomConfig().RestTime)
	f.room.Tick(f.clock.Now())
	p, _ = f.room.Progress()
	assert.False(t, p.Suspended, "second set did not resume")
}

func TestSetCompletionByScore(t *testing.T) {
	f := newRoomFixture(t, ladderParams(2))
	a, b := uuid.New(), uuid.New()
	f.startMatch(t, a, b)

	for i := 0; i < 7; i++ {
		f.room.mu.Lock()
		f.room.addScore(a, 0, f.clock.Now())
		f.room.mu.Unlock()
	}
	p, _ := f.room.Progress()
	require.Equal(t, [2]int{7, 0}, p.Score)

	f.room.Tick(f.clock.Now())
	p, ok := f.room.Progress()
	require.True(t, ok)
	assert.Equal(t, 1, p.CurrentSet, "set did not advance at max score")
	assert.Equal(t, [2]int{0, 0}, p.Score, "score not reset for the new set")
	assert.True(t, p.Suspended, "set break not suspended")
	require.NotNil(t, p.ResumeScheduleTime)
}

func TestSetCompletionByTimeout(t *testing.T) {
	f := newRoomFixture(t, ladderParams(2))
	a, b := uuid.New(), uuid.New()
	f.startMatch(t, a, b)

	f.clock.Advance(testRoomConfig().SetTimespan + time.Second)
	f.room.Tick(f.clock.Now())
	p, ok := f.room.Progress()
	require.True(t, ok)
	assert.Equal(t, 1, p.CurrentSet, "set did not expire by time")
}

func TestMatchEndsAfterMaxSets(t *testing.T) {
	f := newRoomFixture(t, ladderParams(2))
	a, b := uuid.New(), uuid.New()
	f.startMatch(t, a, b)

	cfg := testRoomConfig()
	for set := 0; set < cfg.MaxSet; set++ {
		// Team 0 takes every set by score.
		for i := 0; i < cfg.MaxScore; i++ {
			f.room.mu.Lock()
			f.room.addScore(a, 0, f.clock.Now())
			f.room.mu.Unlock()
		}
		f.room.Tick(f.clock.Now())
		if set < cfg.MaxSet-1 {
			// Resume the next set.
			f.clock.Advance(cfg.RestTime)
			f.room.Tick(f.clock.Now())
		}
	}

	_, started := f.room.Progress()
	assert.False(t, started, "progress survived final end")
	assert.True(t, f.room.Disposed())
	assert.Equal(t, 0, f.room.MemberCount())

	select {
	case id := <-f.disposed:
		assert.Equal(t, f.room.ID, id)
	case <-time.After(time.Second):
		t.Fatal("OnDispose never fired")
	}

	// Ladder settlement: winner gained rating, loser lost it.
	winner, err := f.store.GetRating(a)
	require.NoError(t, err)
	loser, err := f.store.GetRating(b)
	require.NoError(t, err)
	assert.Greater(t, winner.SkillRating, 1500.0)
	assert.Less(t, loser.SkillRating, 1500.0)

	// History carries one line per member.
	f.store.mu.Lock()
	assert.Len(t, f.store.history, 2)
	f.store.mu.Unlock()

	// The win achievement fires asynchronously.
	assert.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return len(f.store.achievements[a]) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMatchEndsWhenRosterCollapses(t *testing.T) {
	f := newRoomFixture(t, ladderParams(2))
	a, b := uuid.New(), uuid.New()
	f.startMatch(t, a, b)

	f.room.RemoveMember(b)
	_, started := f.room.Progress()
	assert.True(t, started, "removal alone must not end the match")

	f.room.Tick(f.clock.Now())
	assert.True(t, f.room.Disposed(), "match survived a one-member roster")
}

func TestEmptyRoomDisposesOnTick(t *testing.T) {
	f := newRoomFixture(t, Params{BattleField: physics.Square, Limit: 2})
	a := uuid.New()
	require.NoError(t, f.room.AddMember(a, 1500, 100))
	f.room.RemoveMember(a)

	f.room.Tick(f.clock.Now())
	assert.True(t, f.room.Disposed())

	// Disposal deletes the persisted record.
	assert.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return len(f.store.deletedRooms) == 1
	}, time.Second, 10*time.Millisecond)

	// Ticking a disposed room is a no-op.
	f.room.Tick(f.clock.Now())
}

func TestJoinBroadcasts(t *testing.T) {
	f := newRoomFixture(t, Params{BattleField: physics.Square, Limit: 4})
	a, b := uuid.New(), uuid.New()

	require.NoError(t, f.room.AddMember(a, 1500, 100))
	require.Equal(t, []wire.Opcode{wire.OpGameRoom}, f.messenger.opcodesFor(t, a))

	require.NoError(t, f.room.AddMember(b, 1500, 100))
	// The joiner gets the snapshot, the incumbent the delta.
	assert.Equal(t, []wire.Opcode{wire.OpGameRoom, wire.OpEnterMember}, f.messenger.opcodesFor(t, a))
	assert.Equal(t, []wire.Opcode{wire.OpGameRoom}, f.messenger.opcodesFor(t, b))

	f.room.RemoveMember(b)
	ops := f.messenger.opcodesFor(t, a)
	assert.Equal(t, wire.OpLeaveMember, ops[len(ops)-1])
	assert.Equal(t, []uuid.UUID{b}, f.messenger.evictions)
}

func TestSuspendAccounting(t *testing.T) {
	now := newTestClock().Now()
	p := &Progress{TotalTimespan: time.Minute}
	p.resume(now)

	p.suspend(now.Add(20 * time.Second))
	assert.Equal(t, 20*time.Second, p.ConsumedTimespanSum)

	// Suspending a suspended progress banks nothing more.
	p.suspend(now.Add(40 * time.Second))
	assert.Equal(t, 20*time.Second, p.ConsumedTimespanSum)

	p.resume(now.Add(30 * time.Second))
	// 40 seconds of budget remain; expiry lands 40s after resume.
	assert.False(t, p.expired(now.Add(69*time.Second)))
	assert.True(t, p.expired(now.Add(71*time.Second)))
}
