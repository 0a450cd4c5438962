package config

import (
	"time"

	"github.com/google/uuid"

	"battlecourt/internal/token"
)

// Default returns a runnable configuration. The server id and token
// secret are generated fresh, so a config file is required for any
// deployment where invitations must survive a restart.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ID:               uuid.NewString(),
			Listen:           ":9573",
			DBPath:           "~/.battlecourt/battlecourt.db",
			HandshakeTimeout: 7 * time.Second,
			SweepPeriod:      2 * time.Second,
		},
		Token: token.Config{
			Secret:    uuid.NewString(),
			Algorithm: "HS256",
			Issuer:    "battlecourt",
			Audience:  "battlecourt-client",
			TTL:       30 * time.Second,
		},
		Matchmaking: MatchmakingConfig{
			ScanInterval: 4 * time.Second,
			LadderLimit:  2,
		},
		Room: RoomConfig{
			TickInterval: 500 * time.Millisecond,
			RestTime:     4000 * time.Millisecond,
			SetTimespan:  3 * time.Minute,
			MaxSet:       3,
			MaxScore:     7,
			PruneAfter:   2 * time.Minute,
		},
	}
}
