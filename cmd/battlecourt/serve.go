package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"battlecourt/internal/config"
	"battlecourt/internal/server"
)

var (
	flagListen string
	flagDBPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the game server",
	Long: `Start the websocket game server.

The server loads its configuration from the --config file, layered
over built-in defaults; --listen and --db override the file.

Examples:
  battlecourt serve
  battlecourt serve --config ./battlecourt.yaml
  battlecourt serve --listen :9573 --db ./battlecourt.db`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (host:port), overrides config")
	serveCmd.Flags().StringVar(&flagDBPath, "db", "", "Path to SQLite database, overrides config")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if flagListen != "" {
		cfg.Server.Listen = flagListen
	}
	if flagDBPath != "" {
		cfg.Server.DBPath = flagDBPath
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting battlecourt server on %s\n", cfg.Server.Listen)
	fmt.Println("Press Ctrl+C to stop")

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
