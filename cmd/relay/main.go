package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finverse/feedrelay/internal/codec"
	"github.com/finverse/feedrelay/internal/config"
	"github.com/finverse/feedrelay/internal/instruments"
	"github.com/finverse/feedrelay/internal/provider"
	"github.com/finverse/feedrelay/internal/quotecache"
	"github.com/finverse/feedrelay/internal/registry"
	"github.com/finverse/feedrelay/internal/router"
	"github.com/finverse/feedrelay/internal/session"
	"github.com/finverse/feedrelay/internal/upstream"
	"github.com/finverse/feedrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging at the configured level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Optional instrument store
	var store *instruments.Store
	if cfg.Database.Postgres.Host != "" {
		logger.Info("connecting to instrument store",
			"host", cfg.Database.Postgres.Host,
			"database", cfg.Database.Postgres.Name,
		)
		store, err = instruments.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to instrument store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
	} else {
		logger.Info("instrument store disabled")
	}

	// Optional latest-quote cache
	var cache *quotecache.Cache
	if cfg.Cache.Redis.Addr != "" {
		cache, err = quotecache.New(ctx,
			cfg.Cache.Redis.Addr,
			cfg.Cache.Redis.Password,
			cfg.Cache.Redis.DB,
			cfg.Cache.Redis.TTL,
			logger.With("component", "quotecache"),
		)
		if err != nil {
			logger.Error("failed to connect to quote cache", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		go cache.Run(ctx)
		logger.Info("quote cache connected", "addr", cfg.Cache.Redis.Addr)
	} else {
		logger.Info("quote cache disabled")
	}

	// Provider REST client
	providerClient := provider.NewClient(
		cfg.Provider.RestURL,
		provider.WithLogger(logger.With("component", "provider")),
		provider.WithTimeout(cfg.Provider.Timeout),
		provider.WithRetries(cfg.Provider.MaxRetries, time.Second),
		provider.WithAppCredentials(cfg.Provider.ClientID, cfg.Provider.ClientSecret, cfg.Provider.RedirectURI),
	)

	// Config validation already constrained the mode spelling.
	mode, _ := codec.ParseMode(cfg.Upstream.Mode)

	// Core relay pipeline: registry -> upstream link -> router
	reg := registry.New()
	rt := router.New(reg, cfg.Clients.OutboxSize, logger.With("component", "router"))

	link := upstream.NewLink(
		upstream.Config{
			Mode:               mode,
			ReconnectBaseDelay: cfg.Upstream.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Upstream.ReconnectMaxDelay,
			CredentialPoll:     cfg.Upstream.CredentialPoll,
			IdleGrace:          cfg.Upstream.IdleGrace,
			AuthorizeTimeout:   cfg.Provider.Timeout,
			PingTimeout:        cfg.Upstream.PingTimeout,
			WriteTimeout:       cfg.Upstream.WriteTimeout,
			BufferSize:         cfg.Upstream.BufferSize,
		},
		providerClient.AuthorizeFeed,
		reg, rt, cache,
		logger.With("component", "upstream"),
	)
	reg.SetUpstream(link)

	if err := link.Start(ctx); err != nil {
		logger.Error("failed to start upstream link", "error", err)
		os.Exit(1)
	}

	// Downstream websocket endpoint. Sessions run on their own context so
	// the signal handler cannot tear them down before the router has
	// broadcast the terminal shutdown notice.
	var snaps session.SnapshotSource
	if cache != nil {
		snaps = cache
	}
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()
	feedHandler := session.NewHandler(sessionCtx,
		session.Config{
			WriteTimeout: cfg.Clients.WriteTimeout,
			PingInterval: cfg.Clients.PingInterval,
			PongTimeout:  cfg.Clients.PongTimeout,
		},
		reg, rt, link, snaps,
		logger.With("component", "session"),
	)

	api := newAPIHandler(providerClient, store, cache, link, reg, rt, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws/feed", feedHandler)
	api.register(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("relay running",
		"instance_id", cfg.Instance.ID,
		"feed_url", fmt.Sprintf("ws://localhost:%d/ws/feed", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Notify clients first so every session drains its shutdown notice,
	// then stop the upstream side and the listener.
	rt.Shutdown()
	sessionCancel()
	if err := link.Stop(shutdownCtx); err != nil {
		logger.Warn("upstream link stop", "error", err)
	}
	server.Shutdown(shutdownCtx)

	logger.Info("relay stopped")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
