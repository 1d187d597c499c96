package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/bet-history/consumer"
	"github.com/jonabai/dcasino/internal/bet-history/repository"
	"github.com/jonabai/dcasino/internal/shared/config"
	"github.com/jonabai/dcasino/internal/shared/db"
	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/internal/shared/logger"
	"github.com/jonabai/dcasino/internal/shared/metrics"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// Métricas do worker
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "history_messages_consumed_total", Help: "mensagens lidas"})
	persisted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "history_messages_persisted_total", Help: "mensagens gravadas"}, []string{"kind"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{Name: "history_messages_duplicate_total", Help: "reentregas ignoradas"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "history_errors_total", Help: "falhas por etapa"}, []string{"stage"})
	prometheus.MustRegister(consumed, persisted, duplicates, errorsTotal)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	t := cfg.Topics
	reader := kafka.NewGroupReader(cfg.KafkaBrokers, "bet-history-worker",
		t.BetPlaced, t.BetUpdated, t.BetResolved, t.BetCancelled, t.LedgerMovements)
	defer reader.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, t.HistoryDLQ)
	defer dlq.Close()

	proc := &consumer.Processor{
		Log:            log,
		Reader:         reader,
		Store:          repository.NewPostgresRepo(pg),
		DLQ:            dlq,
		MovementsTopic: t.LedgerMovements,
		OnConsumed:     consumed.Inc,
		OnPersisted:    func(kind string) { persisted.WithLabelValues(kind).Inc() },
		OnDuplicate:    duplicates.Inc,
		OnError:        func(stage string) { errorsTotal.WithLabelValues(stage).Inc() },
	}

	metrics.StartMetricsServer(log, cfg.MetricsPort, metrics.Checks(map[string]metrics.HealthFunc{
		"postgres": pg.PingContext,
	}))

	log.Info("bet history worker running")
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("history consumer stopped", zap.Error(err))
	}
	log.Info("bet history worker stopped")
}
