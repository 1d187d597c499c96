package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/api-gateway/proxy"
	"github.com/jonabai/dcasino/internal/shared/config"
	"github.com/jonabai/dcasino/internal/shared/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// wager (ex.: /api/wager/* -> wager-service), wallet (/api/wallet/* -> wallet-service)
	h, err := proxy.NewHandler(log,
		proxy.Route{Prefix: "/api/wager", Target: cfg.WagerURL},
		proxy.Route{Prefix: "/api/wallet", Target: cfg.WalletURL},
	)
	if err != nil {
		log.Fatal("gateway routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("api-gateway listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("gateway failed", zap.Error(err))
	}
}
