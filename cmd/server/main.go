package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magefree/anonrelay-server-go/internal/config"
	"github.com/magefree/anonrelay-server-go/internal/endpoint"
	"github.com/magefree/anonrelay-server-go/internal/endpoint/telegram"
	"github.com/magefree/anonrelay-server-go/internal/endpoint/ws"
	"github.com/magefree/anonrelay-server-go/internal/registry"
	"github.com/magefree/anonrelay-server-go/internal/relay"
	"github.com/magefree/anonrelay-server-go/internal/router"
	"github.com/magefree/anonrelay-server-go/internal/server"
	"github.com/magefree/anonrelay-server-go/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if cfg.Transport.Kind == "websocket" && cfg.Admin.PasswordHash == "" {
		logger.Warn("admin password hash not configured; admin websocket sessions disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Open registry store
	st, err := store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		DSN:    cfg.Store.DSN,
	}, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open registry store", zap.Error(err))
	}
	defer st.Close()

	reg, err := registry.New(ctx, st, logger.Named("registry"))
	if err != nil {
		logger.Fatal("failed to load registry", zap.Error(err))
	}

	ep, err := newEndpoint(cfg, logger.Named("endpoint"))
	if err != nil {
		logger.Fatal("failed to initialize endpoint", zap.Error(err))
	}

	engine := relay.NewEngine(reg, ep, nil, relay.Options{
		DelayUnit:       cfg.Relay.DelayUnit,
		MaxDelay:        cfg.Relay.MaxDelay,
		DeliveryTimeout: cfg.Relay.DeliveryTimeout,
	}, logger.Named("relay"))
	logger.Info("relay engine initialized",
		zap.Duration("delay_unit", cfg.Relay.DelayUnit),
		zap.Int("max_delay", cfg.Relay.MaxDelay),
	)

	rt := router.New(reg, engine, registry.Identity(cfg.Admin.Identity), logger.Named("router"))

	// Start gRPC health server
	var health *server.Server
	if cfg.Server.GRPC.Address != "" {
		health = server.New(server.Config{
			Address:              cfg.Server.GRPC.Address,
			MaxConcurrentStreams: cfg.Server.GRPC.MaxConcurrentStreams,
		}, logger.Named("grpc"))
		go func() {
			if serveErr := health.ListenAndServe(); serveErr != nil {
				logger.Error("gRPC server error", zap.Error(serveErr))
			}
		}()
	}

	// Start endpoint
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ep.Serve(ctx, rt.Handle)
	}()
	if health != nil {
		health.SetServing(true)
	}

	logger.Info("relay server initialized",
		zap.String("version", version),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("store", cfg.Store.Driver),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
	)

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case serveErr = <-serveDone:
		serveDone = nil
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	if health != nil {
		health.SetServing(false)
	}
	cancel()

	if serveDone != nil {
		select {
		case serveErr = <-serveDone:
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Warn("endpoint did not stop in time", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		}
	}

	engine.Close()
	if health != nil {
		health.Stop()
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		if registry.IsFatal(serveErr) {
			st.Close()
			logger.Fatal("registry could not be persisted", zap.Error(serveErr))
		}
		logger.Error("endpoint stopped with error", zap.Error(serveErr))
		os.Exit(1)
	}

	logger.Info("relay server stopped")
}

func newEndpoint(cfg *config.Config, logger *zap.Logger) (endpoint.Endpoint, error) {
	switch cfg.Transport.Kind {
	case "telegram":
		bot, err := telegram.New(telegram.Config{
			Token:       cfg.Transport.Telegram.Token,
			PollTimeout: cfg.Transport.Telegram.PollTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return bot, nil
	case "websocket":
		return ws.NewGateway(ws.Config{
			Address:           cfg.Transport.WebSocket.Address,
			Path:              cfg.Transport.WebSocket.Path,
			AdminIdentity:     registry.Identity(cfg.Admin.Identity),
			AdminPasswordHash: cfg.Admin.PasswordHash,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
