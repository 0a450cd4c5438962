// battlecourt is a real-time multiplayer game coordination server:
// rating-based matchmaking, room lifecycle management and
// server-authoritative frame reconciliation over websockets.
//
// Usage:
//
//	battlecourt serve              - Start the game server
//
// Global flags:
//
//	--config <path>  - Path to the YAML config file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagConfigPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "battlecourt",
	Short: "Battlecourt - real-time multiplayer game coordination server",
	Long: `Battlecourt coordinates real-time multiplayer matches: it queues
players by skill rating, forms matches, runs the authoritative room
state machine and physics, and fans game state out over websockets.

Available commands:
  serve    - Start the game server

Examples:
  battlecourt serve
  battlecourt serve --config ./battlecourt.yaml
  battlecourt serve --listen :9573`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to YAML config file (defaults apply if omitted)")

	rootCmd.AddCommand(serveCmd)
}
