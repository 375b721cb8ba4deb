package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solstream/service/config"
	"github.com/brojonat/solstream/service/metrics"
	natspkg "github.com/brojonat/solstream/service/nats"
	"github.com/brojonat/solstream/service/server"
	"github.com/brojonat/solstream/service/solana"
	"github.com/brojonat/solstream/service/stream"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present; real deployments set the environment directly
	godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"watch_address", cfg.WatchAddress,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	m := metrics.NewMetrics(nil)

	// Initialize Solana RPC client for the seed balance fetch
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	solanaClient := solana.NewClient(solanaRPC, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// Initialize NATS publisher; session events fan out through JetStream
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		logger.Error("failed to initialize NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Initialize the streaming session
	sink := natspkg.NewBalanceSink(cfg.WatchAddress, publisher, logger)
	session := stream.NewSession(
		stream.Config{
			Endpoint:             cfg.SolanaWSURL,
			KeepaliveInterval:    cfg.KeepaliveInterval,
			HandshakeTimeout:     cfg.HandshakeTimeout,
			BackoffBaseDelay:     cfg.BackoffBaseDelay,
			BackoffMaxDelay:      cfg.BackoffMaxDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		},
		stream.NewWebSocketTransport(),
		solanaClient,
		sink,
		nil, // system clock
		m,
		logger,
	)

	seed, err := session.Start(ctx, cfg.WatchAddress)
	if err != nil {
		logger.Error("failed to start streaming session", "error", err)
		os.Exit(1)
	}
	defer session.Stop()
	logger.Info("streaming session started",
		"address", cfg.WatchAddress,
		"seed_lamports", seed.Lamports,
		"seed_sol", seed.SOL().String(),
	)

	// Initialize SSE fan-out
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to initialize SSE publisher", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, session, ssePublisher, m, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop the session first so the unsubscribe goes out while NATS
		// and the transport are still up
		session.Stop()

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
