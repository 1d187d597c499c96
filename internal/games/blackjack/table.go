package blackjack

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/betting"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

const GameName = "blackjack"

// DefaultValues é quantos valores são pedidos por rodada: 4 para a
// distribuição inicial e uma folga para compras; o resto vem do Stream.
const DefaultValues = 8

// Action é uma jogada do jogador
type Action string

const (
	ActionHit       Action = "hit"
	ActionStand     Action = "stand"
	ActionDouble    Action = "double"
	ActionSplit     Action = "split"
	ActionInsurance Action = "insurance"
)

var ErrUnknownAction = fmt.Errorf("%w: unknown action", errs.ErrValidation)

// HandView é a projeção de uma mão
type HandView struct {
	Cards     []Card  `json:"cards"`
	Value     int     `json:"value"`
	Soft      bool    `json:"soft"`
	Bet       int64   `json:"bet"`
	Doubled   bool    `json:"doubled"`
	FromSplit bool    `json:"from_split"`
	Stood     bool    `json:"stood"`
	Busted    bool    `json:"busted"`
	Outcome   Outcome `json:"outcome,omitempty"`
	Payout    int64   `json:"payout"`
}

// View é a projeção somente-leitura de uma rodada. A carta fechada do
// dealer só aparece depois da vez do jogador.
type View struct {
	BetID           uint64     `json:"bet_id"`
	Player          string     `json:"player"`
	State           State      `json:"state"`
	Hands           []HandView `json:"hands"`
	Active          int        `json:"active_hand"`
	Dealer          []Card     `json:"dealer"`
	DealerValue     int        `json:"dealer_value"`
	InsuranceTaken  bool       `json:"insurance_taken"`
	InsuranceBet    int64      `json:"insurance_bet,omitempty"`
	InsurancePayout int64      `json:"insurance_payout,omitempty"`
	Payout          int64      `json:"payout"`
}

func (r *Round) View() View {
	v := View{
		BetID:           r.BetID,
		Player:          r.Player,
		State:           r.State,
		Active:          r.Active,
		InsuranceTaken:  r.InsuranceTaken,
		InsuranceBet:    r.InsuranceBet,
		InsurancePayout: r.InsurancePayout,
	}
	for _, h := range r.Hands {
		val, soft := Value(h.Cards)
		v.Hands = append(v.Hands, HandView{
			Cards:     append([]Card(nil), h.Cards...),
			Value:     val,
			Soft:      soft,
			Bet:       h.Bet,
			Doubled:   h.Doubled,
			FromSplit: h.FromSplit,
			Stood:     h.Stood,
			Busted:    h.Busted,
			Outcome:   h.Outcome,
			Payout:    h.Payout,
		})
	}
	dealer := r.Dealer
	if r.State == StatePlayerTurn && len(dealer) > 1 {
		dealer = dealer[:1]
	}
	v.Dealer = append([]Card(nil), dealer...)
	v.DealerValue, _ = Value(dealer)
	if r.State == StateResolved {
		v.Payout = r.Payout()
	}
	return v
}

// Table é o jogo de blackjack: implementa betting.Game e expõe as jogadas.
// As rodadas só são alteradas com o lock da aposta, dentro do Engine.
type Table struct {
	*betting.Engine

	values  uint32
	onRound func(View)

	mu     sync.RWMutex
	rounds map[uint64]*Round
	views  map[uint64]View
}

type Option func(*Table)

// WithRoundObserver recebe a visão da rodada a cada mudança
func WithRoundObserver(fn func(View)) Option {
	return func(t *Table) { t.onRound = fn }
}

// WithValuesPerRound muda quantos valores aleatórios são pedidos por rodada
func WithValuesPerRound(n uint32) Option {
	return func(t *Table) {
		if n >= 4 {
			t.values = n
		}
	}
}

func NewTable(cfg betting.Config, opts ...Option) (*Table, error) {
	t := &Table{
		values: DefaultValues,
		rounds: make(map[uint64]*Round),
		views:  make(map[uint64]View),
	}
	for _, o := range opts {
		o(t)
	}
	cfg.Game = t
	e, err := betting.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	t.Engine = e
	return t, nil
}

func (t *Table) Name() string { return GameName }

func (t *Table) ValuesNeeded() uint32 { return t.values }

// PotentialPayout não aceita parâmetros extras: a rodada é só a stake.
func (t *Table) PotentialPayout(stake int64, payload json.RawMessage) (int64, error) {
	if len(payload) > 0 && string(payload) != "null" && string(payload) != "{}" {
		return 0, fmt.Errorf("%w: blackjack takes no payload", errs.ErrValidation)
	}
	return InitialReserve(stake), nil
}

func (t *Table) CanCancel(rec *bet.Record) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.rounds[rec.ID]; ok {
		return ErrRoundInProgress
	}
	return nil
}

// Resolve distribui as cartas iniciais. Sem blackjack natural, a aposta
// continua Pending aguardando as jogadas.
func (t *Table) Resolve(_ context.Context, rec *bet.Record, values []uint64) (betting.Outcome, error) {
	r := NewRound(rec.ID, rec.Player, rec.Amount, append([]uint64(nil), values...))
	if err := r.Deal(); err != nil {
		return betting.Outcome{}, err
	}
	t.mu.Lock()
	t.rounds[rec.ID] = r
	t.mu.Unlock()
	return t.outcome(r), nil
}

// Committed publica a visão da rodada depois que o Engine confirma a mudança
func (t *Table) Committed(rec bet.Record) {
	t.mu.RLock()
	r, ok := t.rounds[rec.ID]
	t.mu.RUnlock()
	if ok {
		t.publish(r)
	}
}

func (t *Table) outcome(r *Round) betting.Outcome {
	if r.State != StateResolved {
		return betting.Outcome{Deferred: true}
	}
	return betting.Outcome{Payout: r.Payout(), WaiveFee: r.AllPush()}
}

func (t *Table) publish(r *Round) {
	v := r.View()
	t.mu.Lock()
	t.views[r.BetID] = v
	t.mu.Unlock()
	if t.onRound != nil {
		t.onRound(v)
	}
}

// Round devolve a visão atual da rodada
func (t *Table) Round(betID uint64) (View, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.views[betID]
	return v, ok
}

// Play aplica uma jogada do jogador e fecha a aposta quando a rodada termina.
// Se um fechamento anterior falhou, o Engine refaz o fechamento em vez da jogada.
func (t *Table) Play(ctx context.Context, player string, betID uint64, action Action) (bet.Record, error) {
	return t.Engine.Update(ctx, player, betID, func(tx *betting.Txn) error {
		t.mu.RLock()
		r, ok := t.rounds[betID]
		t.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: round not dealt", ErrInvalidAction)
		}
		var err error
		switch action {
		case ActionHit:
			err = r.Hit()
		case ActionStand:
			err = r.Stand()
		case ActionDouble:
			err = r.DoubleDown(tx.Raise)
		case ActionSplit:
			err = r.Split(tx.Raise)
		case ActionInsurance:
			err = r.Insurance(tx.Raise)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, action)
		}
		if err != nil {
			return err
		}
		if r.State == StateResolved {
			tx.Settle(t.outcome(r))
		}
		return nil
	})
}

func (t *Table) Hit(ctx context.Context, player string, betID uint64) (bet.Record, error) {
	return t.Play(ctx, player, betID, ActionHit)
}

func (t *Table) Stand(ctx context.Context, player string, betID uint64) (bet.Record, error) {
	return t.Play(ctx, player, betID, ActionStand)
}

func (t *Table) DoubleDown(ctx context.Context, player string, betID uint64) (bet.Record, error) {
	return t.Play(ctx, player, betID, ActionDouble)
}

func (t *Table) Split(ctx context.Context, player string, betID uint64) (bet.Record, error) {
	return t.Play(ctx, player, betID, ActionSplit)
}

func (t *Table) Insurance(ctx context.Context, player string, betID uint64) (bet.Record, error) {
	return t.Play(ctx, player, betID, ActionInsurance)
}
