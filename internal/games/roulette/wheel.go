package roulette

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/betting"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

const GameName = "roulette"

// Spin é a visão somente-leitura de uma rodada resolvida.
type Spin struct {
	BetID   uint64    `json:"bet_id"`
	Player  string    `json:"player"`
	Drawn   int       `json:"drawn"`
	Red     bool      `json:"red"`
	Bets    []SubBet  `json:"bets"`
	Winners []int     `json:"winners"`
	Payout  int64     `json:"payout"`
	At      time.Time `json:"at"`
}

// Wheel implementa betting.Game para a roleta europeia.
// A aposta inteira é resolvida com um valor; o giro só fica visível depois
// que o fechamento no ledger confirma.
type Wheel struct {
	onSpin func(Spin)
	now    func() time.Time

	mu      sync.RWMutex
	spins   map[uint64]Spin
	drawing map[uint64]Spin
}

type Option func(*Wheel)

// WithSpinObserver recebe cada rodada resolvida (cache de visões, websocket)
func WithSpinObserver(fn func(Spin)) Option {
	return func(w *Wheel) { w.onSpin = fn }
}

func WithClock(now func() time.Time) Option {
	return func(w *Wheel) { w.now = now }
}

func NewWheel(opts ...Option) *Wheel {
	w := &Wheel{now: time.Now, spins: make(map[uint64]Spin), drawing: make(map[uint64]Spin)}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Wheel) Name() string { return GameName }

func (w *Wheel) ValuesNeeded() uint32 { return 1 }

func decode(payload json.RawMessage) (Wager, error) {
	var wg Wager
	if len(payload) == 0 {
		return wg, fmt.Errorf("%w: empty payload", ErrInvalidWager)
	}
	if err := json.Unmarshal(payload, &wg); err != nil {
		return wg, fmt.Errorf("%w: decode wager: %v", errs.ErrValidation, err)
	}
	return wg, nil
}

func (w *Wheel) PotentialPayout(stake int64, payload json.RawMessage) (int64, error) {
	wg, err := decode(payload)
	if err != nil {
		return 0, err
	}
	return wg.Validate(stake)
}

func (w *Wheel) Resolve(_ context.Context, rec *bet.Record, values []uint64) (betting.Outcome, error) {
	wg, err := decode(rec.Payload)
	if err != nil {
		return betting.Outcome{}, err
	}
	drawn := Drawn(values[0])
	payout, winners := Settle(wg.Bets, drawn)

	spin := Spin{
		BetID:   rec.ID,
		Player:  rec.Player,
		Drawn:   drawn,
		Red:     IsRed(drawn),
		Bets:    wg.Bets,
		Winners: winners,
		Payout:  payout,
		At:      w.now(),
	}
	w.mu.Lock()
	w.drawing[rec.ID] = spin
	w.mu.Unlock()
	return betting.Outcome{Payout: payout}, nil
}

// Committed publica o giro quando a aposta fecha no ledger
func (w *Wheel) Committed(rec bet.Record) {
	if !rec.Status.Terminal() {
		return
	}
	w.mu.Lock()
	spin, ok := w.drawing[rec.ID]
	if ok {
		delete(w.drawing, rec.ID)
		w.spins[rec.ID] = spin
	}
	w.mu.Unlock()
	if ok && w.onSpin != nil {
		w.onSpin(spin)
	}
}

// Spin devolve a rodada resolvida de uma aposta
func (w *Wheel) Spin(betID uint64) (Spin, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.spins[betID]
	return s, ok
}

// Table junta a roleta ao ciclo de vida genérico.
type Table struct {
	*betting.Engine
	Wheel *Wheel
}

func NewTable(cfg betting.Config, opts ...Option) (*Table, error) {
	w := NewWheel(opts...)
	cfg.Game = w
	e, err := betting.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Table{Engine: e, Wheel: w}, nil
}

// Place aposta uma rodada com várias sub-apostas
func (t *Table) Place(ctx context.Context, player string, bets []SubBet) (bet.Record, error) {
	payload, err := json.Marshal(Wager{Bets: bets})
	if err != nil {
		return bet.Record{}, fmt.Errorf("%w: encode wager: %v", errs.ErrValidation, err)
	}
	var stake int64
	for _, b := range bets {
		stake += b.Amount
	}
	return t.PlaceBet(ctx, player, stake, payload)
}
