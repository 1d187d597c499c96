package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/shared/config"
	"github.com/jonabai/dcasino/internal/shared/db"
	"github.com/jonabai/dcasino/internal/shared/logger"
	"github.com/jonabai/dcasino/internal/shared/metrics"
	whttp "github.com/jonabai/dcasino/internal/wallet-service/http"
	wrepo "github.com/jonabai/dcasino/internal/wallet-service/repo"
)

func main() {
	cfg := config.MustLoad()

	// Inicializa logger estruturado
	log, err := logger.New("wallet-service", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "wallet-service"), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Conexão com Postgres para operações de carteira
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	applied, err := db.Migrate(ctx, pg)
	if err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}
	log.Info("migrations applied", zap.Strings("files", applied))

	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wallet_transfers_total", Help: "operações de carteira por resultado"}, []string{"op", "result"})
	prometheus.MustRegister(transfers)

	// Instancia repositório e servidor HTTP da wallet
	repo := wrepo.NewPostgres(pg)
	api := whttp.NewServer(log, repo)
	api.OnTransfer = func(op, result string) { transfers.WithLabelValues(op, result).Inc() }

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort, // ex: 8082
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Servidor de métricas e health check
	metrics.StartMetricsServer(log, cfg.MetricsPort, metrics.Checks(map[string]metrics.HealthFunc{
		"postgres": pg.PingContext,
	}))

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(sctx)
	}()

	// Inicia servidor principal da API de wallet
	log.Info("api listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
