// Command relay is the development backend for the conversation client: REST
// history and media pages, bearer auth, presence, and websocket signaling.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"zchat_go/internal/config"
	"zchat_go/internal/httpserver"
	"zchat_go/internal/presence"
	"zchat_go/internal/security"
	"zchat_go/internal/store/postgres"
	"zchat_go/internal/store/sqlite"
	"zchat_go/internal/ws"
	"zchat_go/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l := logger.New(cfg.Env).With("app", cfg.AppName)
	slog.SetDefault(l)

	// Initialize database
	db, repos, err := openStore(cfg)
	if err != nil {
		l.Error("failed to open database", "driver", cfg.DBDriver, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	online, closePresence, err := openPresence(cfg)
	if err != nil {
		l.Error("failed to initialize presence", "err", err)
		os.Exit(1)
	}
	defer closePresence()

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	hub := ws.NewHub()

	// Build HTTP router
	router := httpserver.NewRouter(cfg, repos, hub, online, tokenSvc, l)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		l.Info("starting relay", "addr", cfg.HTTPAddr(), "driver", cfg.DBDriver, "debug", cfg.Debug)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	l.Info("shutting down relay")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error("graceful shutdown failed", "err", err)
	}
}

func openStore(cfg *config.RelayConfig) (*sql.DB, httpserver.Repositories, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, httpserver.Repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, httpserver.Repositories{}, fmt.Errorf("migrate: %w", err)
		}
		return db, httpserver.Repositories{
			Users:         postgres.NewUserRepo(db),
			Conversations: postgres.NewConversationRepo(db),
			Participants:  postgres.NewParticipantRepo(db),
			Messages:      postgres.NewMessageRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, httpserver.Repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, httpserver.Repositories{}, fmt.Errorf("migrate: %w", err)
		}
		return db, httpserver.Repositories{
			Users:         sqlite.NewUserRepo(db),
			Conversations: sqlite.NewConversationRepo(db),
			Participants:  sqlite.NewParticipantRepo(db),
			Messages:      sqlite.NewMessageRepo(db),
		}, nil
	}
}

// openPresence uses Redis when REDIS_URL is set so several relays share one
// roster, and process memory otherwise.
func openPresence(cfg *config.RelayConfig) (presence.Store, func(), error) {
	if cfg.RedisURL == "" {
		return presence.NewMemoryStore(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return presence.NewRedisStore(rdb), func() { rdb.Close() }, nil
}
