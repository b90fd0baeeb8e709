package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"

	"relay-lab/contract"
	"relay-lab/infrastructure/grpc"
	"relay-lab/internal"
	"relay-lab/moderation"
	"relay-lab/repositories"
	"relay-lab/runtime"
	"relay-lab/runtime/workers"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the relay lifecycle, and centralizes error reporting.
// Returning instead of exiting lets every defer (database close, listeners) run first.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.Load()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharacterReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Optional history storage (BadgerDB)
	var repository contract.IMessageRepository
	if config.BadgerFilepath != "" {
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return exitRuntime, fmt.Errorf("database opening failed: %w", err)
		}
		defer func() {
			logger.Info("Closing BadgerDB...")
			_ = db.Close()
		}()
		repository = repositories.NewMessageRepository(db, logger)
	}

	// 3. Optional moderation
	var censor contract.Censor
	if config.ModerationEnabled {
		data, err := moderation.LoadEmbedded()
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to load censored words: %w", err)
		}
		moderator, err := moderation.NewModerator(data.Words, charReplacement, logger)
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to build moderator: %w", err)
		}
		logger.Info("Moderation enabled", "words", len(data.Words), "languages", data.Languages)
		censor = moderator
	}

	// 4. Supervision & Orchestration
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(logger, sup, runtime.OrchestratorSettings{
		Session: runtime.SessionSettings{
			ChannelCapacity:  config.ChannelCapacity,
			MaxLineLength:    config.MaxLineLength,
			HandshakeTimeout: config.HandshakeTimeout,
			HistorySize:      config.HistorySize,
		},
		EchoToSender:         config.EchoToSender,
		UpstreamAddr:         config.UpstreamAddr,
		DialTimeout:          config.DialTimeout,
		TunnelHalfClose:      config.TunnelHalfClose,
		MetricInterval:       config.MetricInterval,
		LowCapacityThreshold: config.LowCapacityThreshold,
	}, repository, censor)

	// 5. Listeners: a bind failure is fatal
	var services []string
	if config.BroadcastEnabled() {
		if err := orchestrator.ListenBroadcast(config.BroadcastAddr); err != nil {
			return exitRuntime, err
		}
		services = append(services, grpc.BroadcastService)
	}
	if config.TunnelEnabled() {
		if err := orchestrator.ListenTunnel(config.TunnelAddr); err != nil {
			return exitRuntime, err
		}
		services = append(services, grpc.TunnelService)
	}
	if config.HealthAddr != "" {
		listener, err := net.Listen("tcp", config.HealthAddr)
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.HealthAddr, err)
		}
		sup.Add(grpc.NewHealthServer(logger, listener, services...))
	}

	// 6. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting relay", "mode", config.Mode)
	if err := orchestrator.Start(ctx); err != nil {
		return exitRuntime, fmt.Errorf("orchestrator error: %w", err)
	}
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}
