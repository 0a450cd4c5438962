// Package config provides YAML-based configuration for the battlecourt
// server: identity, transport, persistence, matchmaking and room pacing.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"battlecourt/internal/token"
)

// Config is the root server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Token       token.Config      `yaml:"token"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Room        RoomConfig        `yaml:"room"`
}

// ServerConfig identifies this server instance and its listen surface.
type ServerConfig struct {
	// ID is the unique id of this server, embedded in invitation
	// tokens so invitations cannot cross servers.
	ID string `yaml:"id"`

	// Listen is the host:port the websocket gateway binds to.
	Listen string `yaml:"listen"`

	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`

	// HandshakeTimeout is how long an unauthenticated connection may
	// live before the sweep closes it.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SweepPeriod is how often the temporary-connection sweep runs.
	SweepPeriod time.Duration `yaml:"sweep_period"`
}

// MatchmakingConfig controls the ladder queue scan.
type MatchmakingConfig struct {
	// ScanInterval is the period of the queue scan.
	ScanInterval time.Duration `yaml:"scan_interval"`

	// LadderLimit is the member capacity of matchmaking-formed rooms.
	LadderLimit int `yaml:"ladder_limit"`
}

// RoomConfig controls per-room pacing and match shape.
type RoomConfig struct {
	// TickInterval is the room state machine tick period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// RestTime is the countdown before a match starts and the break
	// between sets.
	RestTime time.Duration `yaml:"rest_time"`

	// SetTimespan is the play time budget of one set.
	SetTimespan time.Duration `yaml:"set_timespan"`

	// MaxSet is how many sets a match runs.
	MaxSet int `yaml:"max_set"`

	// MaxScore ends a set early when one team reaches it.
	MaxScore int `yaml:"max_score"`

	// PruneAfter removes rooms that never gained a member.
	PruneAfter time.Duration `yaml:"prune_after"`
}

// ServerID parses the configured server id.
func (c *Config) ServerID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Server.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("config: invalid server id %q: %w", c.Server.ID, err)
	}
	return id, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if _, err := c.ServerID(); err != nil {
		return err
	}
	if c.Server.Listen == "" {
		return errors.New("config: empty listen address")
	}
	if c.Token.Secret == "" {
		return errors.New("config: empty token secret")
	}
	if c.Matchmaking.ScanInterval <= 0 {
		return errors.New("config: matchmaking scan interval must be positive")
	}
	if c.Matchmaking.LadderLimit < 2 {
		return errors.New("config: ladder limit must be at least 2")
	}
	if c.Room.TickInterval <= 0 {
		return errors.New("config: room tick interval must be positive")
	}
	if c.Room.MaxSet < 1 || c.Room.MaxScore < 1 {
		return errors.New("config: max set and max score must be at least 1")
	}
	return nil
}
