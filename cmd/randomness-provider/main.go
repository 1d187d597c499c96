package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/randomness-provider/provider"
	"github.com/jonabai/dcasino/internal/shared/config"
	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/internal/shared/logger"
	"github.com/jonabai/dcasino/internal/shared/metrics"
)

var (
	requestsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "randomness_requests_consumed_total",
		Help: "Pedidos de aleatoriedade lidos",
	})
	fulfillmentsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "randomness_fulfillments_sent_total",
		Help: "Entregas assinadas publicadas",
	})
	requestsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "randomness_requests_dropped_total",
		Help: "Pedidos descartados de propósito",
	})
	providerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randomness_provider_errors_total",
		Help: "Falhas por etapa",
	}, []string{"stage"})
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	prometheus.MustRegister(requestsConsumed, fulfillmentsSent, requestsDropped, providerErrors)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.KafkaEnsureTopics {
		if err := kafka.EnsureTopics(cfg.KafkaBrokers, 3, cfg.Topics.RandomnessRequests, cfg.Topics.RandomnessFulfillments); err != nil {
			log.Warn("kafka topic bootstrap failed", zap.Error(err))
		}
	}

	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.Topics.RandomnessRequests, "randomness-provider")
	defer reader.Close()
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.Topics.RandomnessFulfillments)
	defer writer.Close()

	sim := provider.NewSimulator(log, reader, writer, cfg.Provider.Identity, []byte(cfg.Provider.Secret))
	sim.Delay = cfg.Provider.DeliveryDelay
	sim.DropPercent = cfg.Provider.DropPercent
	sim.OnRequest = requestsConsumed.Inc
	sim.OnDelivered = fulfillmentsSent.Inc
	sim.OnDropped = requestsDropped.Inc
	sim.OnError = func(stage string) { providerErrors.WithLabelValues(stage).Inc() }

	metrics.StartMetricsServer(log, cfg.MetricsPort, nil)

	log.Info("randomness provider running",
		zap.String("identity", cfg.Provider.Identity),
		zap.Duration("delay", cfg.Provider.DeliveryDelay),
		zap.Int("drop_percent", cfg.Provider.DropPercent),
	)
	if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("randomness provider stopped", zap.Error(err))
	}
	log.Info("randomness provider stopped")
}
