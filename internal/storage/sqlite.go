// Package storage provides SQLite-based persistence for the game
// coordination layer: the matchmaking queue, rating records, room
// records, match history and achievements.
// Uses the pure-Go modernc.org/sqlite driver to avoid CGO dependencies.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrDuplicate is returned when an insert collides with an existing
// row, e.g. an account enqueueing twice.
var ErrDuplicate = errors.New("storage: duplicate record")

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("storage: record not found")

// Store manages the SQLite database connection.
type Store struct {
	db *sql.DB
}

// QueueEntry is one account waiting in the matchmaking queue.
type QueueEntry struct {
	AccountID   uuid.UUID
	ServerID    uuid.UUID
	SkillRating float64
	EnqueuedAt  time.Time
}

// RatingRecord is an account's persisted skill rating.
type RatingRecord struct {
	AccountID    uuid.UUID
	SkillRating  float64
	Deviation    float64
	LastPlayedAt time.Time
}

// RoomRecord is the persisted form of an active room.
type RoomRecord struct {
	ID          uuid.UUID
	Code        string
	BattleField uint8
	GameMode    uint8
	MemberLimit int
	Fair        bool
	Ladder      bool
	CreatedAt   time.Time
}

// HistoryEntry is one account's result line for a finished match.
type HistoryEntry struct {
	RoomID     uuid.UUID
	AccountID  uuid.UUID
	Team       uint8
	FinalScore [2]int
	Ladder     bool
	FinishedAt time.Time
}

// Open creates or opens a SQLite database at the given path.
// It creates the parent directories if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	// Expand ~ to home directory
	if dbPath != "" && dbPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("storage: cannot expand home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: cannot create directory %s: %w", dir, err)
	}

	// Matchmaking runs read-check-write transactions; starting every
	// transaction immediate takes the write lock up front instead of
	// risking a busy error at lock-upgrade time.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("storage: cannot open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: cannot connect to database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migration failed: %w", err)
	}

	return store, nil
}

// migrate creates the database schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS game_queue (
			account_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			skill_rating REAL NOT NULL,
			enqueued_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_game_queue_rating ON game_queue(skill_rating);

		CREATE TABLE IF NOT EXISTS ratings (
			account_id TEXT PRIMARY KEY,
			skill_rating REAL NOT NULL,
			rating_deviation REAL NOT NULL,
			last_played_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL DEFAULT '',
			battlefield INTEGER NOT NULL,
			game_mode INTEGER NOT NULL,
			member_limit INTEGER NOT NULL,
			fair INTEGER NOT NULL DEFAULT 0,
			ladder INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rooms_code ON rooms(code);

		CREATE TABLE IF NOT EXISTS game_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			team INTEGER NOT NULL,
			final_score_0 INTEGER NOT NULL,
			final_score_1 INTEGER NOT NULL,
			ladder INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_game_history_account ON game_history(account_id);

		CREATE TABLE IF NOT EXISTS achievements (
			account_id TEXT NOT NULL,
			achievement_id INTEGER NOT NULL,
			earned_at INTEGER NOT NULL,
			PRIMARY KEY (account_id, achievement_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Enqueue adds an account to the matchmaking queue. Returns
// ErrDuplicate if the account is already queued.
func (s *Store) Enqueue(e QueueEntry) error {
	_, err := s.db.Exec(
		"INSERT INTO game_queue (account_id, server_id, skill_rating, enqueued_at) VALUES (?, ?, ?, ?)",
		e.AccountID.String(), e.ServerID.String(), e.SkillRating, e.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("storage: cannot enqueue: %w", err)
	}
	return nil
}

// Dequeue removes an account from the queue. Missing entries are not
// an error; dequeue is best-effort.
func (s *Store) Dequeue(accountID uuid.UUID) error {
	_, err := s.db.Exec("DELETE FROM game_queue WHERE account_id = ?", accountID.String())
	if err != nil {
		return fmt.Errorf("storage: cannot dequeue: %w", err)
	}
	return nil
}

// IsQueued reports whether the account has a queue entry.
func (s *Store) IsQueued(accountID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM game_queue WHERE account_id = ?", accountID.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: cannot check queue: %w", err)
	}
	return n > 0, nil
}

// MatchTx exposes the queue operations available inside one
// matchmaking transaction.
type MatchTx struct {
	tx *sql.Tx
}

// MatchmakingTx runs fn inside a single transaction so that reading
// the queue, deleting matched accounts and creating their rooms is
// atomic against concurrent enqueues and dequeues.
func (s *Store) MatchmakingTx(fn func(*MatchTx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: cannot begin matchmaking tx: %w", err)
	}
	if err := fn(&MatchTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: cannot commit matchmaking tx: %w", err)
	}
	return nil
}

// LoadQueue returns every queue entry ordered by skill rating
// ascending.
func (m *MatchTx) LoadQueue() ([]QueueEntry, error) {
	rows, err := m.tx.Query(
		"SELECT account_id, server_id, skill_rating, enqueued_at FROM game_queue ORDER BY skill_rating ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot load queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var account, server string
		var at int64
		if err := rows.Scan(&account, &server, &e.SkillRating, &at); err != nil {
			return nil, fmt.Errorf("storage: cannot scan queue row: %w", err)
		}
		if e.AccountID, err = uuid.Parse(account); err != nil {
			return nil, fmt.Errorf("storage: bad account id in queue: %w", err)
		}
		if e.ServerID, err = uuid.Parse(server); err != nil {
			return nil, fmt.Errorf("storage: bad server id in queue: %w", err)
		}
		e.EnqueuedAt = time.UnixMilli(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteMatched removes the matched accounts from the queue. The
// deleted count is not enforced; a concurrent dequeue is not an error.
func (m *MatchTx) DeleteMatched(accountIDs []uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accountIDs)), ",")
	args := make([]any, len(accountIDs))
	for i, id := range accountIDs {
		args[i] = id.String()
	}
	_, err := m.tx.Exec("DELETE FROM game_queue WHERE account_id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("storage: cannot delete matched accounts: %w", err)
	}
	return nil
}

// InsertRoom persists a room record inside the transaction.
func (m *MatchTx) InsertRoom(r RoomRecord) error {
	return insertRoom(m.tx, r)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertRoom(db execer, r RoomRecord) error {
	_, err := db.Exec(
		`INSERT INTO rooms (id, code, battlefield, game_mode, member_limit, fair, ladder, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Code, r.BattleField, r.GameMode, r.MemberLimit, r.Fair, r.Ladder,
		r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("storage: cannot insert room: %w", err)
	}
	return nil
}

// InsertRoom persists a room record.
func (s *Store) InsertRoom(r RoomRecord) error {
	return insertRoom(s.db, r)
}

// DeleteRoom removes a room record. Deleting an already-deleted room
// is a no-op; active rooms live in memory and persistence divergence
// is handled by the caller as a logged anomaly.
func (s *Store) DeleteRoom(id uuid.UUID) error {
	_, err := s.db.Exec("DELETE FROM rooms WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("storage: cannot delete room: %w", err)
	}
	return nil
}

// GetRating looks up an account's rating record. Returns ErrNotFound
// for accounts that never played a rated game.
func (s *Store) GetRating(accountID uuid.UUID) (RatingRecord, error) {
	var r RatingRecord
	var at int64
	err := s.db.QueryRow(
		"SELECT skill_rating, rating_deviation, last_played_at FROM ratings WHERE account_id = ?",
		accountID.String(),
	).Scan(&r.SkillRating, &r.Deviation, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("storage: cannot get rating: %w", err)
	}
	r.AccountID = accountID
	r.LastPlayedAt = time.UnixMilli(at)
	return r, nil
}

// PutRating inserts or replaces an account's rating record.
func (s *Store) PutRating(r RatingRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO ratings (account_id, skill_rating, rating_deviation, last_played_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   skill_rating = excluded.skill_rating,
		   rating_deviation = excluded.rating_deviation,
		   last_played_at = excluded.last_played_at`,
		r.AccountID.String(), r.SkillRating, r.Deviation, r.LastPlayedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage: cannot put rating: %w", err)
	}
	return nil
}

// InsertHistory records the per-account result lines of a finished
// match.
func (s *Store) InsertHistory(entries []HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: cannot begin history tx: %w", err)
	}
	for _, e := range entries {
		_, err := tx.Exec(
			`INSERT INTO game_history (room_id, account_id, team, final_score_0, final_score_1, ladder, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.RoomID.String(), e.AccountID.String(), e.Team,
			e.FinalScore[0], e.FinalScore[1], e.Ladder, e.FinishedAt.UnixMilli(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: cannot insert history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: cannot commit history: %w", err)
	}
	return nil
}

// HistoryDates returns the finish dates of an account's rated games,
// most recent first.
func (s *Store) HistoryDates(accountID uuid.UUID) ([]time.Time, error) {
	rows, err := s.db.Query(
		"SELECT finished_at FROM game_history WHERE account_id = ? AND ladder = 1 ORDER BY finished_at DESC",
		accountID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query history dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var at int64
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("storage: cannot scan history date: %w", err)
		}
		dates = append(dates, time.UnixMilli(at))
	}
	return dates, rows.Err()
}

// RecordAchievement marks an achievement as earned. Recording the same
// account/achievement pair twice is a no-op, so callers may fire and
// forget.
func (s *Store) RecordAchievement(accountID uuid.UUID, achievementID int, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO achievements (account_id, achievement_id, earned_at) VALUES (?, ?, ?)",
		accountID.String(), achievementID, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage: cannot record achievement: %w", err)
	}
	return nil
}

// isUniqueViolation matches the sqlite unique-constraint error without
// depending on driver-internal error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
