package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/events"
	"github.com/Tyrowin/gochat/internal/events/natsbus"
	"github.com/Tyrowin/gochat/internal/gatekeeper"
	"github.com/Tyrowin/gochat/internal/presence"
	"github.com/Tyrowin/gochat/internal/room"
	"github.com/Tyrowin/gochat/internal/server"
	"github.com/Tyrowin/gochat/internal/store/memstore"
	"github.com/Tyrowin/gochat/internal/store/redisstore"
	"github.com/Tyrowin/gochat/internal/store/sqlstore"
)

func main() {
	cfg := server.NewConfigFromEnv().Sanitize()
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting GoChat server...",
		"port", cfg.Port,
		"store", cfg.Store.Driver,
		"auto_join_lounge", cfg.AutoJoinLounge)

	if cfg.JWT.Secret == "" {
		logger.Error("JWT_SECRET must be set")
		os.Exit(1)
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("Failed to open message store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}

	hub := server.NewHub(logger)
	sinks := []events.Sink{hub}

	var publisher *natsbus.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = natsbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", "url", cfg.NATS.URL, "error", err)
			_ = store.Close()
			os.Exit(1)
		}
		sinks = append(sinks, publisher)
		logger.Info("Mirroring events to NATS", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}
	sink := events.Multi(sinks...)

	verifier := auth.NewJWTVerifier(auth.JWTConfig{
		SecretKey: cfg.JWT.Secret,
		Issuer:    cfg.JWT.Issuer,
	})
	registry := presence.NewRegistry(logger)
	router := room.NewRouter(store, registry, sink, logger)
	gk := gatekeeper.New(gatekeeper.Config{
		AutoJoinLounge:   cfg.AutoJoinLounge,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, verifier, registry, router, sink, logger)

	server.StartHub(hub, logger)

	mux := server.SetupRoutes(server.NewHandler(cfg, hub, gk, router, logger))
	httpServer := server.CreateServer(cfg.Port, mux)

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// Stop accepting connections, drain sessions, then release
			// backends in dependency order.
			"gochat": func(ctx context.Context) error {
				var errs []error
				if err := server.ShutdownServer(ctx, httpServer, logger); err != nil {
					errs = append(errs, err)
				}
				if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
					errs = append(errs, fmt.Errorf("hub: %w", err))
				}
				if publisher != nil {
					if err := publisher.Close(); err != nil {
						errs = append(errs, fmt.Errorf("nats: %w", err))
					}
				}
				if err := store.Close(); err != nil {
					errs = append(errs, fmt.Errorf("store: %w", err))
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("Server exited", "code", exitCode)
	os.Exit(exitCode)
}

func openStore(ctx context.Context, cfg server.StoreConfig) (chat.MessageStore, error) {
	switch cfg.Driver {
	case server.StoreSQLite:
		return sqlstore.Open(cfg.SQLitePath)
	case server.StoreRedis:
		return redisstore.Open(ctx, redisstore.Config{
			Addr:   cfg.RedisAddr,
			Prefix: cfg.RedisPrefix,
		})
	default:
		return memstore.New(), nil
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
