package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/ledger"
)

// Metrics reúne os contadores do wager-service.
// Também é um betting.Publisher: conta cada transição de aposta.
type Metrics struct {
	BetsPlaced    *prometheus.CounterVec
	BetsResolved  *prometheus.CounterVec
	BetsCancelled *prometheus.CounterVec
	BetsUpdated   *prometheus.CounterVec
	Wagered       *prometheus.CounterVec
	PaidOut       *prometheus.CounterVec
	Fees          *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	Fulfillments    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BetsPlaced:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_bets_placed_total", Help: "apostas aceitas"}, []string{"game"}),
		BetsResolved:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_bets_resolved_total", Help: "apostas resolvidas por resultado"}, []string{"game", "status"}),
		BetsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_bets_cancelled_total", Help: "apostas canceladas"}, []string{"game"}),
		BetsUpdated:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_bets_updated_total", Help: "jogadas sobre apostas abertas"}, []string{"game"}),
		Wagered:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_wagered_total", Help: "stake aceita, em unidades mínimas"}, []string{"game"}),
		PaidOut:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_paid_out_total", Help: "pagamentos brutos"}, []string{"game"}),
		Fees:          prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_fees_total", Help: "taxas cobradas"}, []string{"game"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_events_published_total", Help: "eventos publicados no kafka"}, []string{"kind"}),
		Errors:          prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_errors_total", Help: "erros por estágio"}, []string{"stage"}),
		Fulfillments:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "casino_fulfillments_total", Help: "entregas de aleatoriedade por resultado"}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.BetsPlaced, m.BetsResolved, m.BetsCancelled, m.BetsUpdated,
		m.Wagered, m.PaidOut, m.Fees,
		m.EventsPublished, m.Errors, m.Fulfillments,
	)
	return m
}

func (m *Metrics) BetPlaced(_ context.Context, rec bet.Record) {
	m.BetsPlaced.WithLabelValues(rec.Game).Inc()
	m.Wagered.WithLabelValues(rec.Game).Add(float64(rec.Amount + rec.SideAmount))
}

func (m *Metrics) BetUpdated(_ context.Context, rec bet.Record) {
	m.BetsUpdated.WithLabelValues(rec.Game).Inc()
}

func (m *Metrics) BetResolved(_ context.Context, rec bet.Record) {
	m.BetsResolved.WithLabelValues(rec.Game, string(rec.Status)).Inc()
	m.PaidOut.WithLabelValues(rec.Game).Add(float64(rec.ActualPayout))
	m.Fees.WithLabelValues(rec.Game).Add(float64(rec.FeeCharged))
}

func (m *Metrics) BetCancelled(_ context.Context, rec bet.Record) {
	m.BetsCancelled.WithLabelValues(rec.Game).Inc()
}

// Error conta uma falha num estágio (kafka, cache, custody...)
func (m *Metrics) Error(stage string) { m.Errors.WithLabelValues(stage).Inc() }

func (m *Metrics) Published(kind string) { m.EventsPublished.WithLabelValues(kind).Inc() }

func (m *Metrics) Fulfillment(outcome string) { m.Fulfillments.WithLabelValues(outcome).Inc() }

// RegisterLedger expõe o snapshot do ledger como gauges lidos a cada scrape
func RegisterLedger(reg prometheus.Registerer, snapshot func() ledger.Snapshot) {
	gauge := func(name, help string, fn func(ledger.Snapshot) int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(fn(snapshot()))
		})
	}
	reg.MustRegister(
		gauge("casino_ledger_total_balance", "saldo total da casa", func(s ledger.Snapshot) int64 { return s.TotalBalance }),
		gauge("casino_ledger_reserved", "valor reservado para apostas abertas", func(s ledger.Snapshot) int64 { return s.ReservedAmount }),
		gauge("casino_ledger_collected_fees", "taxas acumuladas não sacadas", func(s ledger.Snapshot) int64 { return s.CollectedFees }),
		gauge("casino_ledger_available", "saldo livre para novas reservas", func(s ledger.Snapshot) int64 { return s.AvailableAmount }),
	)
}

// RegisterScheduler expõe os contadores acumulados do scheduler
func RegisterScheduler(reg prometheus.Registerer, stats func() (triggered, failed, runs uint64)) {
	counter := func(name, help string, pick func(t, f, r uint64) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(stats()))
		})
	}
	reg.MustRegister(
		counter("casino_scheduler_triggered_total", "re-disparos aceitos", func(t, _, _ uint64) uint64 { return t }),
		counter("casino_scheduler_failed_total", "re-disparos com erro", func(_, f, _ uint64) uint64 { return f }),
		counter("casino_scheduler_runs_total", "varreduras executadas", func(_, _, r uint64) uint64 { return r }),
	)
}
