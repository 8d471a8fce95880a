package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kodescrux/collab/config"
	"github.com/kodescrux/collab/internal/cache"
	"github.com/kodescrux/collab/internal/postgres"
	"github.com/kodescrux/collab/internal/service"
	httpx "github.com/kodescrux/collab/internal/transport/http"
	"github.com/kodescrux/collab/internal/transport/ws"
	"github.com/kodescrux/collab/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting collabd",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- postgres ---
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	// --- redis (optional, listing cache only) ---
	var roomsCache *cache.RoomsCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Warn("redis unavailable, listing cache disabled", "addr", cfg.Redis.Addr, "err", err)
		} else {
			roomsCache = cache.New(rdb, 0)
		}
	}

	// --- repos ---
	roomRepo := postgres.NewRoomRepository(db.Pool)
	chatRepo := postgres.NewChatRepository(db.Pool)

	// --- WS Hub ---
	hub := ws.NewHub()

	// --- services ---
	roomSvc := service.NewRoomService(roomRepo, chatRepo, hub, roomsCache)
	chatSvc := service.NewChatService(chatRepo)

	// --- WS Server ---
	wsServer := ws.NewServer(hub, roomSvc, chatSvc)

	// --- HTTP ---
	handler := httpx.NewHandler(roomSvc, chatSvc)
	router := httpx.NewRouter(handler, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	slog.Info("stopped")
}
