package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/betting"
	"github.com/jonabai/dcasino/internal/ledger"
	"github.com/jonabai/dcasino/internal/scheduler"
	"github.com/jonabai/dcasino/internal/shared/cache"
	"github.com/jonabai/dcasino/internal/shared/config"
	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/internal/shared/logger"
	"github.com/jonabai/dcasino/internal/shared/metrics"
	"github.com/jonabai/dcasino/internal/wager-service/casino"
	"github.com/jonabai/dcasino/internal/wager-service/custody"
	whttp "github.com/jonabai/dcasino/internal/wager-service/http"
	wmetrics "github.com/jonabai/dcasino/internal/wager-service/metrics"
	"github.com/jonabai/dcasino/internal/wager-service/producer"
	"github.com/jonabai/dcasino/internal/wager-service/rng"
	"github.com/jonabai/dcasino/internal/wager-service/views"
	"github.com/jonabai/dcasino/internal/wager-service/ws"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connected")

	if cfg.KafkaEnsureTopics {
		if err := kafka.EnsureTopics(cfg.KafkaBrokers, 3, cfg.Topics.All()...); err != nil {
			log.Warn("kafka topic bootstrap failed", zap.Error(err))
		}
	}

	// um writer por tópico de saída
	t := cfg.Topics
	placed := kafka.NewWriter(cfg.KafkaBrokers, t.BetPlaced)
	updated := kafka.NewWriter(cfg.KafkaBrokers, t.BetUpdated)
	resolved := kafka.NewWriter(cfg.KafkaBrokers, t.BetResolved)
	cancelled := kafka.NewWriter(cfg.KafkaBrokers, t.BetCancelled)
	movements := kafka.NewWriter(cfg.KafkaBrokers, t.LedgerMovements)
	requests := kafka.NewWriter(cfg.KafkaBrokers, t.RandomnessRequests)
	dlq := kafka.NewWriter(cfg.KafkaBrokers, t.FulfillmentsDLQ)
	for _, w := range []*kafka.Writer{placed, updated, resolved, cancelled, movements, requests, dlq} {
		defer w.Close()
	}

	m := wmetrics.New(prometheus.DefaultRegisterer)

	pub := producer.NewKafkaPublisher(log.Named("producer"), producer.Writers{
		BetPlaced:       placed,
		BetUpdated:      updated,
		BetResolved:     resolved,
		BetCancelled:    cancelled,
		LedgerMovements: movements,
	})
	pub.OnPublished = m.Published
	pub.OnError = func(kind string) { m.Error("kafka_" + kind) }

	vw := views.New(rdb, cfg.RedisPubSubChannel, cfg.ViewCacheTTL, log.Named("views"))
	vw.OnError = func(stage string) { m.Error("views_" + stage) }

	wallet := custody.New(cfg.WalletURL)
	wallet.Log = log.Named("custody")

	c, err := casino.New(casino.Config{
		Limits: ledger.Limits{
			MaxPayoutRatio: cfg.Ledger.MaxPayoutRatio,
			MinBet:         cfg.Ledger.MinBet,
			MaxBet:         cfg.Ledger.MaxBet,
			FeePercentage:  cfg.Ledger.FeePercentage,
		},
		TreasuryID:       cfg.Ledger.TreasuryID,
		Custody:          wallet,
		Provider:         rng.NewKafkaProvider(requests),
		ProviderIdentity: cfg.Provider.Identity,
		Scheduler: scheduler.Config{
			Interval:           cfg.Scheduler.Interval,
			MinResolutionDelay: cfg.Scheduler.MinResolutionDelay,
			MaxPendingTime:     cfg.Scheduler.MaxPendingTime,
			MaxScanPerGame:     cfg.Scheduler.MaxScanPerGame,
			MaxScanPerCall:     cfg.Scheduler.MaxScanPerCall,
			BatchSize:          cfg.Scheduler.BatchSize,
		},
		Publisher:     betting.Publishers{pub, vw, m},
		Observer:      pub.Movement,
		RoundObserver: vw.Round,
		SpinObserver:  vw.Spin,
		Log:           log,
	})
	if err != nil {
		log.Fatal("casino init failed", zap.Error(err))
	}

	// o ledger vive em memória: cada subida abre a banca com uma ref nova
	if err := c.Bootstrap(ctx, wallet, cfg.Ledger.HouseBankroll, "bankroll:"+uuid.NewString()); err != nil {
		log.Fatal("house bankroll bootstrap failed", zap.Error(err))
	}
	wmetrics.RegisterLedger(prometheus.DefaultRegisterer, c.Ledger.Snapshot)
	wmetrics.RegisterScheduler(prometheus.DefaultRegisterer, c.Scheduler.Stats)

	// entregas do provedor de aleatoriedade
	reader := kafka.NewReader(cfg.KafkaBrokers, t.RandomnessFulfillments, "wager-service")
	defer reader.Close()
	cons := &rng.Consumer{
		Log:         log.Named("fulfillments"),
		Reader:      reader,
		Broker:      c.Broker,
		Provider:    cfg.Provider.Identity,
		Secret:      []byte(cfg.Provider.Secret),
		DLQ:         dlq,
		OnFulfilled: func(bet.Record) { m.Fulfillment(rng.Fulfilled) },
		OnDiscarded: m.Fulfillment,
		OnError:     func(stage string) { m.Error("fulfillment_" + stage) },
	}
	go func() {
		if err := cons.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("fulfillment consumer stopped", zap.Error(err))
		}
	}()
	go c.Start(ctx)

	hub := ws.NewHub(func(*http.Request) bool { return true }, log.Named("ws"))
	ws.StartRedisSubscriber(ctx, rdb, cfg.RedisPubSubChannel, hub, log)

	metrics.StartMetricsServer(log, cfg.MetricsPort, metrics.Checks(map[string]metrics.HealthFunc{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))

	api := whttp.NewServer(log, c, vw, hub.HandleWS)
	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(sctx)
	}()

	log.Info("wager-service listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api failed", zap.Error(err))
	}
	log.Info("wager-service stopped")
}
