package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/uaroundserver/chatcore/internal/auth"
	"github.com/uaroundserver/chatcore/internal/config"
	"github.com/uaroundserver/chatcore/internal/logging"
	"github.com/uaroundserver/chatcore/internal/store"
	"github.com/uaroundserver/chatcore/server"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// The default room exists before the first connection arrives.
	if _, err := st.GetOrCreateRoom(cfg.RoomKey, cfg.RoomTitle); err != nil {
		slog.Error("failed to create default room", "key", cfg.RoomKey, "err", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := server.NewHub()
	go hub.Run()

	srv := server.NewServer(hub, st, verifier, cfg)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Routes(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down")
		httpServer.Shutdown(context.Background())
	}()

	slog.Info("chatcore server listening", "addr", cfg.Addr, "room", cfg.RoomKey)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
