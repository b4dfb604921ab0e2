package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentmesh/meshbridge/internal/api"
	"github.com/agentmesh/meshbridge/internal/bridge"
	"github.com/agentmesh/meshbridge/internal/bus"
	"github.com/agentmesh/meshbridge/internal/config"
	"github.com/agentmesh/meshbridge/internal/dashboard"
	"github.com/agentmesh/meshbridge/internal/export"
	"github.com/agentmesh/meshbridge/internal/overrides"
	"github.com/agentmesh/meshbridge/internal/state"
	"github.com/agentmesh/meshbridge/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	// Display-name overrides survive restarts.
	overridesPath, err := cfg.Overrides.ResolvePath()
	if err != nil {
		logger.Fatal().Err(err).Msg("resolve overrides path")
	}
	if err := os.MkdirAll(filepath.Dir(overridesPath), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create overrides dir")
	}
	store, err := overrides.Open(overridesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open overrides store")
	}
	defer store.Close()

	aliases, err := store.All()
	if err != nil {
		logger.Warn().Err(err).Msg("load overrides, starting without aliases")
	}

	b := bus.New()
	projector := state.NewProjector(cfg.Dashboard.History, aliases)
	hub := dashboard.NewHub(cfg.Dashboard.MaxClients, logger)

	connector := upstream.New(upstream.Config{
		URL:          cfg.Upstream.URL,
		Name:         cfg.Upstream.Name,
		Pubkey:       cfg.Upstream.Pubkey,
		AutoJoin:     cfg.Upstream.AutoJoin,
		ReconnectMin: cfg.Upstream.ReconnectMin,
		ReconnectMax: cfg.Upstream.ReconnectMax,
		PingInterval: cfg.Upstream.PingInterval,
	}, b, logger)

	var exporter bridge.Exporter
	if cfg.Export.Enabled {
		exp := export.New(cfg.Export.Brokers, cfg.Export.Topic, logger)
		defer exp.Close()
		exporter = exp
		logger.Info().Strs("brokers", cfg.Export.Brokers).Str("topic", cfg.Export.Topic).Msg("delta export enabled")
	}

	br := bridge.New(bridge.Config{
		HeartbeatInterval: cfg.Dashboard.HeartbeatInterval,
		PongTimeout:       cfg.Dashboard.PongTimeout,
	}, b, hub, projector, connector, store, exporter, logger)

	wsHandler := dashboard.NewHandler(hub, b, logger)
	health := api.NewHealthHandler(version, connector, hub)
	router := api.NewRouter(logger, wsHandler, health)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go connector.Run(ctx)
	go br.Run(ctx)

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("upstream", cfg.Upstream.URL).
		Str("env", cfg.Env).
		Msg("meshbridge started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			// Cannot bind the listener: the one fatal startup error.
			logger.Fatal().Err(err).Msg("http server failed")
		}
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	}

	cancel()
	connector.Close() // one clean upstream disconnect, best-effort

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()
}
