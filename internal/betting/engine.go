package betting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/ledger"
	"github.com/jonabai/dcasino/internal/randomness"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

var (
	ErrBetNotFound            = fmt.Errorf("%w: bet not found", errs.ErrNotFound)
	ErrAlreadyResolved        = fmt.Errorf("%w: bet is no longer pending", errs.ErrAlreadyResolved)
	ErrStakeOutOfRange        = fmt.Errorf("%w: stake out of range", errs.ErrValidation)
	ErrGameInactive           = fmt.Errorf("%w: game is not active", errs.ErrValidation)
	ErrAwaitingRandomness     = fmt.Errorf("%w: bet is waiting for randomness", errs.ErrValidation)
	ErrNotAwaitingRandomness  = fmt.Errorf("%w: bet is not waiting for randomness", errs.ErrValidation)
	ErrNotEnoughValues        = fmt.Errorf("%w: not enough random values", errs.ErrValidation)
	ErrPayoutExceedsPotential = fmt.Errorf("%w: payout exceeds potential payout", errs.ErrValidation)
	ErrNotBetOwner            = fmt.Errorf("%w: caller does not own the bet", errs.ErrUnauthorized)
	ErrOutcomeDetermined      = fmt.Errorf("%w: random values already delivered", errs.ErrValidation)
)

// Ledger é o subconjunto do ledger usado pelo ciclo de vida das apostas
type Ledger interface {
	Limits() ledger.Limits
	Stake(ctx context.Context, caller, player string, stake, reserve int64, ref string) error
	Settle(ctx context.Context, caller string, s ledger.Settlement) (int64, error)
}

// Randomness é o lado requisitante do broker
type Randomness interface {
	Request(ctx context.Context, caller, game string, betID uint64, n uint32) (string, error)
	Reissue(ctx context.Context, caller, requestID string) error
}

// Registry é o catálogo externo de jogos
type Registry interface {
	IsRegistered(game string) bool
	IsActive(game string) bool
	RecordWager(game string, amount int64)
}

type Config struct {
	Game Game
	// Identity é a identidade do jogo perante o ledger e o broker.
	Identity   string
	Ledger     Ledger
	Randomness Randomness
	Registry   Registry
	Authz      auth.Authorizer
	Publisher  Publisher
	Log        *zap.Logger
	Now        func() time.Time
}

type entry struct {
	mu       sync.Mutex
	rec      bet.Record
	terminal atomic.Bool
	// values entregues pelo broker. Depois deles o resultado não muda.
	values []uint64
	// outcome já decidido cujo fechamento no ledger falhou
	outcome *Outcome
}

// Engine implementa o ciclo de vida genérico de apostas para um jogo.
// Cada aposta tem seu próprio lock; mu protege apenas o índice.
type Engine struct {
	game     Game
	identity string
	ledger   Ledger
	rnd      Randomness
	registry Registry
	authz    auth.Authorizer
	pub      Publisher
	log      *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	nextID  uint64
	bets    map[uint64]*entry
	pending []uint64
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Game == nil || cfg.Ledger == nil || cfg.Randomness == nil {
		return nil, fmt.Errorf("betting: game, ledger and randomness are required")
	}
	if cfg.Identity == "" {
		cfg.Identity = cfg.Game.Name()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		game:     cfg.Game,
		identity: cfg.Identity,
		ledger:   cfg.Ledger,
		rnd:      cfg.Randomness,
		registry: cfg.Registry,
		authz:    cfg.Authz,
		pub:      cfg.Publisher,
		log:      cfg.Log.With(zap.String("game", cfg.Game.Name())),
		now:      cfg.Now,
		bets:     make(map[uint64]*entry),
	}, nil
}

func (e *Engine) Name() string { return e.game.Name() }

func (e *Engine) Identity() string { return e.identity }

func (e *Engine) lookup(id uint64) (*entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.bets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, bet.Ref(e.game.Name(), id))
	}
	return en, nil
}

// PlaceBet valida, traz a aposta para a custódia, reserva o pagamento
// potencial, cria o registro Pending e pede aleatoriedade ao broker.
func (e *Engine) PlaceBet(ctx context.Context, player string, stake int64, payload json.RawMessage) (bet.Record, error) {
	name := e.game.Name()
	if e.registry != nil && (!e.registry.IsRegistered(name) || !e.registry.IsActive(name)) {
		return bet.Record{}, ErrGameInactive
	}
	if player == "" {
		return bet.Record{}, fmt.Errorf("%w: player is required", errs.ErrValidation)
	}
	limits := e.ledger.Limits()
	if stake < limits.MinBet || stake > limits.MaxBet {
		return bet.Record{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrStakeOutOfRange, stake, limits.MinBet, limits.MaxBet)
	}
	potential, err := e.game.PotentialPayout(stake, payload)
	if err != nil {
		return bet.Record{}, err
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	ref := bet.Ref(name, id)
	if err := e.ledger.Stake(ctx, e.identity, player, stake, potential, ref); err != nil {
		return bet.Record{}, err
	}

	en := &entry{rec: bet.Record{
		ID:                 id,
		Game:               name,
		Player:             player,
		Amount:             stake,
		PotentialPayout:    potential,
		Status:             bet.StatusPending,
		Payload:            payload,
		AwaitingRandomness: true,
		CreatedAt:          e.now(),
	}}
	placed := en.rec

	e.mu.Lock()
	e.bets[id] = en
	e.pending = append(e.pending, id)
	e.mu.Unlock()

	if e.registry != nil {
		e.registry.RecordWager(name, stake)
	}

	e.log.Info("bet placed",
		zap.Uint64("bet_id", id),
		zap.String("player", player),
		zap.Int64("amount", stake),
		zap.Int64("potential_payout", potential),
	)
	// o evento sai antes do pedido: um provider síncrono resolve a aposta
	// dentro do Request
	e.pub.BetPlaced(ctx, placed)

	// a entrega pode chegar antes do Request retornar, então o lock da
	// aposta não fica preso durante a chamada
	reqID, err := e.rnd.Request(ctx, e.identity, name, id, e.game.ValuesNeeded())
	if err != nil {
		e.log.Warn("randomness request failed, left for scheduler",
			zap.Uint64("bet_id", id), zap.Error(err))
		return placed, nil
	}
	en.mu.Lock()
	en.rec.RequestID = reqID
	placed = en.rec
	en.mu.Unlock()
	return placed, nil
}

// CancelBet devolve a aposta ao jogador (sem taxa) e libera a reserva.
func (e *Engine) CancelBet(ctx context.Context, caller string, id uint64) (bet.Record, error) {
	en, err := e.lookup(id)
	if err != nil {
		return bet.Record{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	rec := &en.rec

	if caller != rec.Player {
		return bet.Record{}, ErrNotBetOwner
	}
	if rec.Status.Terminal() {
		return bet.Record{}, ErrAlreadyResolved
	}
	if g, ok := e.game.(CancelGuard); ok {
		if err := g.CanCancel(rec); err != nil {
			return bet.Record{}, err
		}
	}
	if en.values != nil || rec.SettlementPending {
		return bet.Record{}, ErrOutcomeDetermined
	}

	refund := rec.Amount + rec.SideAmount
	if _, err := e.ledger.Settle(ctx, e.identity, ledger.Settlement{
		Player:   rec.Player,
		Reserved: rec.PotentialPayout,
		Payout:   refund,
		Ref:      rec.Ref(),
	}); err != nil {
		return bet.Record{}, err
	}

	now := e.now()
	rec.ActualPayout = refund
	rec.Status = bet.StatusCancelled
	rec.AwaitingRandomness = false
	rec.ResolvedAt = &now
	en.terminal.Store(true)

	e.log.Info("bet cancelled", zap.Uint64("bet_id", id), zap.Int64("refund", refund))
	e.pub.BetCancelled(ctx, *rec)
	return *rec, nil
}

// ResolveBet entrega os valores aleatórios ao jogo. Chamado pelo broker.
func (e *Engine) ResolveBet(ctx context.Context, caller string, id uint64, values []uint64) (bet.Record, error) {
	if err := auth.Require(e.authz, caller, auth.CapResolver); err != nil {
		return bet.Record{}, err
	}
	en, err := e.lookup(id)
	if err != nil {
		return bet.Record{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	rec := &en.rec

	if rec.Status.Terminal() {
		return bet.Record{}, ErrAlreadyResolved
	}
	if !rec.AwaitingRandomness {
		return bet.Record{}, ErrNotAwaitingRandomness
	}
	if uint32(len(values)) < e.game.ValuesNeeded() {
		return bet.Record{}, fmt.Errorf("%w: got %d, need %d", ErrNotEnoughValues, len(values), e.game.ValuesNeeded())
	}

	en.values = append([]uint64(nil), values...)
	rec.AwaitingRandomness = false
	return e.resolveStored(ctx, en)
}

// resolveStored aplica os valores guardados na aposta. Uma falha deixa a
// aposta com SettlementPending e a próxima tentativa parte dos mesmos valores.
// Chamado com o lock da aposta.
func (e *Engine) resolveStored(ctx context.Context, en *entry) (bet.Record, error) {
	rec := &en.rec
	if en.outcome == nil {
		out, err := e.game.Resolve(ctx, rec, en.values)
		if err != nil {
			e.stall(en, nil, err)
			return bet.Record{}, err
		}
		if out.Deferred {
			rec.SettlementPending = false
			e.committed(*rec)
			e.pub.BetUpdated(ctx, *rec)
			return *rec, nil
		}
		en.outcome = &out
	}
	if err := e.settle(ctx, en, *en.outcome); err != nil {
		return bet.Record{}, err
	}
	return *rec, nil
}

// stall guarda o resultado decidido para o fechamento ser refeito sem nova
// aleatoriedade.
func (e *Engine) stall(en *entry, out *Outcome, err error) {
	en.outcome = out
	en.rec.SettlementPending = true
	e.log.Warn("settlement failed, left for retry",
		zap.Uint64("bet_id", en.rec.ID), zap.Error(err))
}

func (e *Engine) committed(rec bet.Record) {
	if c, ok := e.game.(Committer); ok {
		c.Committed(rec)
	}
}

// settle fecha a aposta no ledger e aplica a transição terminal.
// Chamado com o lock da aposta.
func (e *Engine) settle(ctx context.Context, en *entry, out Outcome) error {
	rec := &en.rec
	if out.Payout < 0 || out.Payout > rec.PotentialPayout {
		err := fmt.Errorf("%w: payout %d, potential %d", ErrPayoutExceedsPotential, out.Payout, rec.PotentialPayout)
		e.stall(en, &out, err)
		return err
	}
	var fee int64
	if !out.WaiveFee {
		fee = e.ledger.Limits().Fee(rec.Amount)
	}
	charged, err := e.ledger.Settle(ctx, e.identity, ledger.Settlement{
		Player:   rec.Player,
		Reserved: rec.PotentialPayout,
		Payout:   out.Payout,
		Fee:      fee,
		Ref:      rec.Ref(),
	})
	if err != nil {
		e.stall(en, &out, err)
		return err
	}

	now := e.now()
	en.outcome = nil
	rec.SettlementPending = false
	rec.ActualPayout = out.Payout
	rec.FeeCharged = charged
	rec.ResolvedAt = &now
	rec.Status = bet.StatusLost
	if out.Won() {
		rec.Status = bet.StatusWon
	}
	en.terminal.Store(true)

	e.log.Info("bet resolved",
		zap.Uint64("bet_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int64("payout", out.Payout),
		zap.Int64("fee", charged),
	)
	e.committed(*rec)
	e.pub.BetResolved(ctx, *rec)
	return nil
}

// RequestResolution destrava uma aposta parada. Com os valores já entregues,
// refaz o fechamento a partir deles; senão pede de novo a aleatoriedade,
// reaproveitando o request já registrado no broker.
func (e *Engine) RequestResolution(ctx context.Context, caller string, id uint64) error {
	if err := auth.Require(e.authz, caller, auth.CapRequester); err != nil {
		return err
	}
	en, err := e.lookup(id)
	if err != nil {
		return err
	}
	en.mu.Lock()
	if en.rec.Status.Terminal() {
		en.mu.Unlock()
		return ErrAlreadyResolved
	}
	if en.rec.SettlementPending {
		defer en.mu.Unlock()
		e.log.Info("retrying settlement from delivered values", zap.Uint64("bet_id", id))
		_, err := e.resolveStored(ctx, en)
		return err
	}
	if !en.rec.AwaitingRandomness {
		en.mu.Unlock()
		return ErrNotAwaitingRandomness
	}
	reqID := en.rec.RequestID
	en.mu.Unlock()

	if reqID != "" {
		err := e.rnd.Reissue(ctx, e.identity, reqID)
		if !errors.Is(err, randomness.ErrRequestNotFound) {
			return err
		}
		// o broker descartou o pedido (provider recusou), pede um novo
		e.log.Warn("randomness request lost, requesting again",
			zap.Uint64("bet_id", id), zap.String("request_id", reqID))
	}
	reqID, err = e.rnd.Request(ctx, e.identity, e.game.Name(), id, e.game.ValuesNeeded())
	if err != nil {
		return err
	}
	en.mu.Lock()
	en.rec.RequestID = reqID
	en.mu.Unlock()
	return nil
}

// Txn dá a um jogo de várias etapas acesso à aposta sob o seu lock.
type Txn struct {
	ctx     context.Context
	e       *Engine
	en      *entry
	outcome *Outcome
}

func (t *Txn) Record() *bet.Record { return &t.en.rec }

// Raise acrescenta stake e reserva à aposta numa única operação do ledger.
// side marca stakes laterais (seguro), que não entram na base da taxa.
func (t *Txn) Raise(stake, potential int64, side bool) error {
	rec := &t.en.rec
	if err := t.e.ledger.Stake(t.ctx, t.e.identity, rec.Player, stake, potential, rec.Ref()); err != nil {
		return err
	}
	if side {
		rec.SideAmount += stake
	} else {
		rec.Amount += stake
	}
	rec.PotentialPayout += potential
	return nil
}

// Settle agenda o fechamento da aposta para o fim da transação.
func (t *Txn) Settle(out Outcome) {
	t.outcome = &out
}

// Update roda fn sob o lock da aposta do jogador. Se fn chamar Settle,
// a aposta é fechada antes do lock ser liberado. Com um fechamento pendente,
// fn não roda: Update só tenta fechar de novo com o resultado guardado.
func (e *Engine) Update(ctx context.Context, caller string, id uint64, fn func(*Txn) error) (bet.Record, error) {
	en, err := e.lookup(id)
	if err != nil {
		return bet.Record{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	if caller != en.rec.Player {
		return bet.Record{}, ErrNotBetOwner
	}
	if en.rec.Status.Terminal() {
		return bet.Record{}, ErrAlreadyResolved
	}
	if en.rec.AwaitingRandomness {
		return bet.Record{}, ErrAwaitingRandomness
	}
	if en.rec.SettlementPending {
		return e.resolveStored(ctx, en)
	}

	txn := &Txn{ctx: ctx, e: e, en: en}
	if err := fn(txn); err != nil {
		return bet.Record{}, err
	}
	if txn.outcome != nil {
		if err := e.settle(ctx, en, *txn.outcome); err != nil {
			return bet.Record{}, err
		}
		return en.rec, nil
	}
	e.committed(en.rec)
	e.pub.BetUpdated(ctx, en.rec)
	return en.rec, nil
}

func (e *Engine) Get(id uint64) (bet.Record, error) {
	en, err := e.lookup(id)
	if err != nil {
		return bet.Record{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.rec, nil
}

// PendingBets devolve até limit apostas pendentes aceitas por keep, das mais
// antigas para as mais novas. O limite conta só as aceitas; limit <= 0
// devolve todas e keep nil aceita qualquer uma.
func (e *Engine) PendingBets(limit int, keep func(bet.Record) bool) []bet.Record {
	e.mu.Lock()
	live := e.pending[:0]
	for _, id := range e.pending {
		if !e.bets[id].terminal.Load() {
			live = append(live, id)
		}
	}
	e.pending = live
	entries := make([]*entry, 0, len(live))
	for _, id := range live {
		entries = append(entries, e.bets[id])
	}
	e.mu.Unlock()

	var out []bet.Record
	for _, en := range entries {
		if limit > 0 && len(out) == limit {
			break
		}
		en.mu.Lock()
		rec := en.rec
		en.mu.Unlock()
		if rec.Status.Terminal() || (keep != nil && !keep(rec)) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
