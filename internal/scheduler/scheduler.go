package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

// Identity é o chamador usado nos re-disparos
const Identity = "scheduler"

var errUnknownGame = fmt.Errorf("%w: game not scheduled", errs.ErrNotFound)

// Target é um jogo cujas apostas pendentes podem ser re-disparadas.
type Target interface {
	Name() string
	// PendingBets aplica keep antes de limit.
	PendingBets(limit int, keep func(bet.Record) bool) []bet.Record
	RequestResolution(ctx context.Context, caller string, id uint64) error
}

// Registry diz quais jogos entram na varredura
type Registry interface {
	IsRegistered(game string) bool
	IsActive(game string) bool
}

type Config struct {
	Interval time.Duration
	// janela de elegibilidade: [createdAt+MinResolutionDelay, createdAt+MaxPendingTime]
	// MaxPendingTime = 0 desliga o limite superior
	MinResolutionDelay time.Duration
	MaxPendingTime     time.Duration
	MaxScanPerGame     int
	MaxScanPerCall     int
	BatchSize          int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxScanPerGame <= 0 {
		c.MaxScanPerGame = 50
	}
	if c.MaxScanPerCall <= 0 {
		c.MaxScanPerCall = 200
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// Batch é o conjunto de apostas de um jogo a re-disparar
type Batch struct {
	Game string
	IDs  []uint64
}

type Result struct {
	Triggered int
	Failed    int
}

// Scheduler varre periodicamente as apostas pendentes dos jogos ativos e
// pede de novo a aleatoriedade das que passaram do atraso mínimo.
type Scheduler struct {
	cfg      Config
	identity string
	registry Registry
	targets  []Target
	log      *zap.Logger
	now      func() time.Time

	triggered atomic.Uint64
	failed    atomic.Uint64
	runs      atomic.Uint64
}

func New(cfg Config, identity string, registry Registry, log *zap.Logger, targets ...Target) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		identity: identity,
		registry: registry,
		targets:  targets,
		log:      log,
		now:      time.Now,
	}
}

// Eligible aplica a janela de elegibilidade a uma aposta. Entram as que
// aguardam aleatoriedade e as que já têm valores mas não fecharam no ledger.
func (s *Scheduler) Eligible(rec bet.Record, now time.Time) bool {
	if rec.Status != bet.StatusPending || !(rec.AwaitingRandomness || rec.SettlementPending) {
		return false
	}
	if now.Before(rec.CreatedAt.Add(s.cfg.MinResolutionDelay)) {
		return false
	}
	if s.cfg.MaxPendingTime > 0 && now.After(rec.CreatedAt.Add(s.cfg.MaxPendingTime)) {
		return false
	}
	return true
}

// CheckEligible devolve o primeiro jogo com apostas elegíveis e até BatchSize ids.
// Os limites por jogo e por chamada contam só apostas elegíveis, então rodadas
// paradas na vez do jogador não escondem as mais novas.
func (s *Scheduler) CheckEligible(now time.Time) (Batch, bool) {
	budget := s.cfg.MaxScanPerCall
	for _, t := range s.targets {
		if budget <= 0 {
			break
		}
		name := t.Name()
		if s.registry != nil && (!s.registry.IsRegistered(name) || !s.registry.IsActive(name)) {
			continue
		}
		limit := min(s.cfg.MaxScanPerGame, budget)
		eligible := t.PendingBets(limit, func(rec bet.Record) bool { return s.Eligible(rec, now) })
		budget -= len(eligible)

		var ids []uint64
		for _, rec := range eligible {
			ids = append(ids, rec.ID)
			if len(ids) == s.cfg.BatchSize {
				break
			}
		}
		if len(ids) > 0 {
			return Batch{Game: name, IDs: ids}, true
		}
	}
	return Batch{}, false
}

// Perform re-dispara cada aposta do lote de forma independente.
func (s *Scheduler) Perform(ctx context.Context, b Batch) Result {
	var res Result
	var target Target
	for _, t := range s.targets {
		if t.Name() == b.Game {
			target = t
			break
		}
	}
	for _, id := range b.IDs {
		var err error
		if target == nil {
			err = errUnknownGame
		} else {
			err = target.RequestResolution(ctx, s.identity, id)
		}
		if err != nil {
			res.Failed++
			s.failed.Add(1)
			s.log.Warn("resolution trigger failed",
				zap.String("game", b.Game),
				zap.Uint64("bet_id", id),
				zap.Error(err),
			)
			continue
		}
		res.Triggered++
		s.triggered.Add(1)
	}
	return res
}

// Tick roda uma varredura completa: checagem e disparo
func (s *Scheduler) Tick(ctx context.Context) (Result, bool) {
	s.runs.Add(1)
	b, ok := s.CheckEligible(s.now())
	if !ok {
		return Result{}, false
	}
	res := s.Perform(ctx, b)
	s.log.Info("resolution batch performed",
		zap.String("game", b.Game),
		zap.Int("triggered", res.Triggered),
		zap.Int("failed", res.Failed),
	)
	return res, true
}

// Start roda Tick a cada Interval até o contexto ser cancelado.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.Info("resolution scheduler started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("resolution scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stats devolve os contadores acumulados
func (s *Scheduler) Stats() (triggered, failed, runs uint64) {
	return s.triggered.Load(), s.failed.Load(), s.runs.Load()
}
