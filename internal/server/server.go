package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"battlecourt/internal/arena"
	"battlecourt/internal/config"
	"battlecourt/internal/matchmaking"
	"battlecourt/internal/storage"
	"battlecourt/internal/token"
)

// Server assembles the gateway with its collaborators behind a single
// listen-and-serve surface.
type Server struct {
	cfg        config.Config
	logger     *log.Logger
	store      *storage.Store
	registry   *arena.Registry
	matchmaker *matchmaking.Matchmaker
	gateway    *Gateway
	http       *http.Server
}

// NewServer wires a complete game server from config.
func NewServer(cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "battlecourt",
	})

	serverID, err := cfg.ServerID()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Server.DBPath)
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(cfg.Token, serverID)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := arena.NewRegistry(cfg.Room, logger, nil, store)
	matchmaker := matchmaking.New(cfg.Matchmaking, serverID, logger, store, registry, issuer, nil)

	gateway := NewGateway(cfg.Server, logger, PassthroughIdentity{}, issuer, registry, matchmaker, store, Hooks{
		// A queue entry without a live connection cannot receive its
		// invitation; drop it when the account fully disconnects.
		OnLastDisconnect: func(account uuid.UUID) {
			if err := matchmaker.Dequeue(account); err != nil {
				logger.Error("cannot dequeue on disconnect", "account", account, "error", err)
			}
		},
	})
	registry.SetMessenger(gateway)
	matchmaker.SetGateway(gateway)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		registry:   registry,
		matchmaker: matchmaker,
		gateway:    gateway,
		http:       &http.Server{Addr: cfg.Server.Listen, Handler: mux},
	}, nil
}

// ListenAndServe starts the background loops and the HTTP listener,
// then blocks until an interrupt triggers graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting game server", "address", s.cfg.Server.Listen)

	s.gateway.StartSweep()
	s.registry.StartPruneLoop(s.cfg.Server.SweepPeriod)
	s.matchmaker.Start()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	<-done
	s.logger.Info("shutting down...")
	return s.Shutdown()
}

// Shutdown stops the loops, disposes every room and closes the
// listener and store.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.matchmaker.Stop()
	s.registry.Stop()
	s.gateway.Stop()

	err := s.http.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}
