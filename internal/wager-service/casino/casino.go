package casino

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/betting"
	"github.com/jonabai/dcasino/internal/games/blackjack"
	"github.com/jonabai/dcasino/internal/games/roulette"
	"github.com/jonabai/dcasino/internal/ledger"
	"github.com/jonabai/dcasino/internal/randomness"
	"github.com/jonabai/dcasino/internal/registry"
	"github.com/jonabai/dcasino/internal/scheduler"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

// BrokerIdentity é a identidade do broker perante os jogos
const BrokerIdentity = "randomness-broker"

var ErrUnknownGame = fmt.Errorf("%w: unknown game", errs.ErrNotFound)

type Config struct {
	Limits     ledger.Limits
	TreasuryID string
	Custody    ledger.Custody

	Provider         randomness.Provider
	ProviderIdentity string

	Scheduler scheduler.Config

	// Publisher recebe as transições de aposta dos dois jogos
	Publisher     betting.Publisher
	Observer      ledger.Observer
	RoundObserver func(blackjack.View)
	SpinObserver  func(roulette.Spin)

	Log *zap.Logger
	Now func() time.Time
}

// Casino monta o núcleo: ledger, broker, catálogo, jogos e scheduler,
// com as capacidades concedidas a cada identidade.
type Casino struct {
	TreasuryID string

	Authz     *auth.Static
	Ledger    *ledger.Ledger
	Broker    *randomness.Broker
	Registry  *registry.Memory
	Roulette  *roulette.Table
	Blackjack *blackjack.Table
	Scheduler *scheduler.Scheduler

	log *zap.Logger
}

func New(cfg Config) (*Casino, error) {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.TreasuryID == "" {
		return nil, fmt.Errorf("casino: treasury id is required")
	}

	authz := auth.NewStatic().
		Grant(cfg.TreasuryID, auth.CapTreasuryAdmin).
		Grant(roulette.GameName, auth.CapGameOperator, auth.CapRequester).
		Grant(blackjack.GameName, auth.CapGameOperator, auth.CapRequester).
		Grant(BrokerIdentity, auth.CapResolver).
		Grant(scheduler.Identity, auth.CapRequester)

	l, err := ledger.New(ledger.Config{
		Limits:   cfg.Limits,
		Custody:  cfg.Custody,
		Authz:    authz,
		Observer: cfg.Observer,
		Log:      cfg.Log.Named("ledger"),
		Now:      cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	b, err := randomness.NewBroker(randomness.Config{
		Provider:         cfg.Provider,
		ProviderIdentity: cfg.ProviderIdentity,
		Identity:         BrokerIdentity,
		Authz:            authz,
		Log:              cfg.Log.Named("broker"),
		Now:              cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	reg := registry.NewMemory()
	reg.Register(roulette.GameName)
	reg.Register(blackjack.GameName)

	base := betting.Config{
		Ledger:     l,
		Randomness: b,
		Registry:   reg,
		Authz:      authz,
		Publisher:  cfg.Publisher,
		Log:        cfg.Log,
		Now:        cfg.Now,
	}

	var spinOpts []roulette.Option
	if cfg.SpinObserver != nil {
		spinOpts = append(spinOpts, roulette.WithSpinObserver(cfg.SpinObserver))
	}
	if cfg.Now != nil {
		spinOpts = append(spinOpts, roulette.WithClock(cfg.Now))
	}
	rt, err := roulette.NewTable(base, spinOpts...)
	if err != nil {
		return nil, fmt.Errorf("roulette: %w", err)
	}

	var roundOpts []blackjack.Option
	if cfg.RoundObserver != nil {
		roundOpts = append(roundOpts, blackjack.WithRoundObserver(cfg.RoundObserver))
	}
	bj, err := blackjack.NewTable(base, roundOpts...)
	if err != nil {
		return nil, fmt.Errorf("blackjack: %w", err)
	}

	b.Register(roulette.GameName, rt)
	b.Register(blackjack.GameName, bj)

	sched := scheduler.New(cfg.Scheduler, scheduler.Identity, reg, cfg.Log.Named("scheduler"), rt, bj)

	return &Casino{
		TreasuryID: cfg.TreasuryID,
		Authz:      authz,
		Ledger:     l,
		Broker:     b,
		Registry:   reg,
		Roulette:   rt,
		Blackjack:  bj,
		Scheduler:  sched,
		log:        cfg.Log,
	}, nil
}

// Engine devolve o ciclo de vida de um jogo pelo nome
func (c *Casino) Engine(game string) (*betting.Engine, error) {
	switch game {
	case roulette.GameName:
		return c.Roulette.Engine, nil
	case blackjack.GameName:
		return c.Blackjack.Engine, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownGame, game)
}

func (c *Casino) Games() []string {
	return []string{roulette.GameName, blackjack.GameName}
}

// Funder credita a conta da tesouraria na carteira externa
type Funder interface {
	Fund(ctx context.Context, userID string, amount int64, externalRef string) (int64, error)
}

// Bootstrap abre a banca da casa: a tesouraria recebe amount na carteira
// e deposita no ledger. ref identifica esta subida do serviço.
func (c *Casino) Bootstrap(ctx context.Context, f Funder, amount int64, ref string) error {
	if amount <= 0 {
		return nil
	}
	if f != nil {
		if _, err := f.Fund(ctx, c.TreasuryID, amount, ref); err != nil {
			return fmt.Errorf("fund treasury: %w", err)
		}
	}
	if err := c.Ledger.Deposit(ctx, c.TreasuryID, amount); err != nil {
		return fmt.Errorf("bankroll deposit: %w", err)
	}
	c.log.Info("house bankroll deposited",
		zap.String("treasury", c.TreasuryID),
		zap.Int64("amount", amount),
	)
	return nil
}

// Start roda o scheduler até o contexto ser cancelado
func (c *Casino) Start(ctx context.Context) {
	c.Scheduler.Start(ctx)
}
