package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/api"
	"github.com/campusmarket/chat-app/internal/auth"
	"github.com/campusmarket/chat-app/internal/config"
	"github.com/campusmarket/chat-app/internal/hub"
	"github.com/campusmarket/chat-app/internal/messaging"
	"github.com/campusmarket/chat-app/internal/presence"
	"github.com/campusmarket/chat-app/internal/ratelimit"
	"github.com/campusmarket/chat-app/internal/store"
	"github.com/campusmarket/chat-app/internal/ws"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Int("worker_pool", cfg.WorkerPoolSize).
		Int("max_connections", cfg.MaxConnections).
		Str("nats_url", cfg.NATSURL).
		Str("redis_addr", cfg.RedisAddr).
		Str("server_name", cfg.ServerName).
		Msg("chat server starting")

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()
	st := store.New(db)

	pres, err := presence.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer pres.Close()

	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = cfg.NATSURL
	nc, err := messaging.NewClient(natsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connection failed")
	}
	defer nc.Close()

	limiter := ratelimit.NewLimiter(pres.Client())
	authSvc := auth.NewService(cfg.JWTSecret)

	router := ws.NewRouter(log)
	wsSrv, err := ws.NewServer(ws.Config{
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, authSvc, router, log)
	if err != nil {
		log.Fatal().Err(err).Msg("websocket server init failed")
	}

	h := hub.New(st, pres, nc, limiter, log)
	h.Attach(wsSrv, router)
	if err := h.StartOrderListener(); err != nil {
		log.Fatal().Err(err).Msg("order listener failed")
	}
	wsSrv.Start()

	apiSrv := api.NewServer(st, h, authSvc, wsSrv, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("api shutdown error")
		}
		if err := wsSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("websocket shutdown error")
		}
	}()

	if err := apiSrv.Start(cfg.ListenAddr); err != nil {
		log.Info().Err(err).Msg("server stopped")
	}
}
