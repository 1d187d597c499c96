package blackjack

import (
	"fmt"

	"github.com/jonabai/dcasino/internal/shared/errs"
)

type State string

const (
	StateDealing    State = "DEALING"
	StatePlayerTurn State = "PLAYER_TURN"
	StateDealerTurn State = "DEALER_TURN"
	StateResolved   State = "RESOLVED"
)

type Outcome string

const (
	OutcomeNone            Outcome = ""
	OutcomeWin             Outcome = "WIN"
	OutcomeLoss            Outcome = "LOSS"
	OutcomePush            Outcome = "PUSH"
	OutcomePlayerBlackjack Outcome = "PLAYER_BLACKJACK"
	OutcomeDealerBlackjack Outcome = "DEALER_BLACKJACK"
	OutcomePlayerBust      Outcome = "PLAYER_BUST"
	OutcomeDealerBust      Outcome = "DEALER_BUST"
)

// MaxHands limita os splits a 3 (4 mãos no total).
const MaxHands = 4

var (
	ErrInvalidAction    = fmt.Errorf("%w: action not allowed", errs.ErrValidation)
	ErrRoundInProgress  = fmt.Errorf("%w: cards already dealt", errs.ErrValidation)
	ErrInsuranceTooLow  = fmt.Errorf("%w: stake too small for insurance", errs.ErrValidation)
	ErrEmptyRandomBatch = fmt.Errorf("%w: no random values to deal from", errs.ErrValidation)
)

// Raiser acrescenta stake e reserva à aposta antes da ação ter efeito.
type Raiser func(stake, potential int64, side bool) error

type Hand struct {
	Cards     []Card  `json:"cards"`
	Bet       int64   `json:"bet"`
	Doubled   bool    `json:"doubled"`
	FromSplit bool    `json:"from_split"`
	Stood     bool    `json:"stood"`
	Busted    bool    `json:"busted"`
	Acted     bool    `json:"-"`
	Outcome   Outcome `json:"outcome,omitempty"`
	Payout    int64   `json:"payout"`
}

// Stake efetivo da mão (dobrado após double down)
func (h *Hand) Stake() int64 {
	if h.Doubled {
		return h.Bet * 2
	}
	return h.Bet
}

func (h *Hand) done() bool { return h.Stood || h.Busted }

// Round é o sub-estado mutável de uma aposta de blackjack.
type Round struct {
	BetID           uint64
	Player          string
	Stake           int64
	Deck            Deck
	Stream          Stream
	Hands           []*Hand
	Dealer          []Card
	Active          int
	State           State
	InsuranceTaken  bool
	InsuranceBet    int64
	InsurancePayout int64
}

// InitialReserve é o pior caso da mão inicial: blackjack natural pagando 3:2.
func InitialReserve(stake int64) int64 { return stake + stake*3/2 }

func NewRound(betID uint64, player string, stake int64, values []uint64) *Round {
	return &Round{
		BetID:  betID,
		Player: player,
		Stake:  stake,
		Stream: Stream{Values: values},
		Hands:  []*Hand{{Bet: stake}},
		State:  StateDealing,
	}
}

func (r *Round) draw() (Card, error) {
	return r.Deck.Draw(r.Stream.Next())
}

// Deal distribui jogador, dealer, jogador, dealer e resolve na hora se
// alguém tiver blackjack natural.
func (r *Round) Deal() error {
	if r.State != StateDealing {
		return ErrInvalidAction
	}
	if len(r.Stream.Values) == 0 {
		return ErrEmptyRandomBatch
	}
	h := r.Hands[0]
	for i := 0; i < 4; i++ {
		c, err := r.draw()
		if err != nil {
			return err
		}
		if i%2 == 0 {
			h.Cards = append(h.Cards, c)
		} else {
			r.Dealer = append(r.Dealer, c)
		}
	}

	player, dealer := IsNatural(h.Cards), IsNatural(r.Dealer)
	switch {
	case player && dealer:
		h.Stood = true
		h.Outcome, h.Payout = OutcomePush, h.Bet
		r.State = StateResolved
	case player:
		h.Stood = true
		h.Outcome, h.Payout = OutcomePlayerBlackjack, InitialReserve(h.Bet)
		r.State = StateResolved
	case dealer:
		h.Stood = true
		h.Outcome = OutcomeDealerBlackjack
		r.State = StateResolved
	default:
		r.State = StatePlayerTurn
	}
	return nil
}

func (r *Round) active() (*Hand, error) {
	if r.State != StatePlayerTurn || r.Active >= len(r.Hands) {
		return nil, fmt.Errorf("%w: round is %s", ErrInvalidAction, r.State)
	}
	h := r.Hands[r.Active]
	if h.done() {
		return nil, fmt.Errorf("%w: hand %d is finished", ErrInvalidAction, r.Active)
	}
	return h, nil
}

func (r *Round) Hit() error {
	h, err := r.active()
	if err != nil {
		return err
	}
	c, err := r.draw()
	if err != nil {
		return err
	}
	h.Cards = append(h.Cards, c)
	h.Acted = true
	if v, _ := Value(h.Cards); v > 21 {
		h.Busted = true
	}
	return r.advance()
}

func (r *Round) Stand() error {
	h, err := r.active()
	if err != nil {
		return err
	}
	h.Stood = true
	h.Acted = true
	return r.advance()
}

// DoubleDown dobra a aposta da mão, compra exatamente uma carta e encerra a mão.
func (r *Round) DoubleDown(raise Raiser) error {
	h, err := r.active()
	if err != nil {
		return err
	}
	if h.Acted || len(h.Cards) != 2 {
		return fmt.Errorf("%w: double down only as first action on two cards", ErrInvalidAction)
	}
	if err := raise(h.Bet, 2*h.Bet, false); err != nil {
		return err
	}
	h.Doubled = true
	h.Acted = true
	c, err := r.draw()
	if err != nil {
		return err
	}
	h.Cards = append(h.Cards, c)
	if v, _ := Value(h.Cards); v > 21 {
		h.Busted = true
	} else {
		h.Stood = true
	}
	return r.advance()
}

// CanSplit: par do mesmo rank ou duas cartas de valor dez
func CanSplit(cards []Card) bool {
	if len(cards) != 2 {
		return false
	}
	a, b := cards[0], cards[1]
	return a.Rank() == b.Rank() || (a.TenValued() && b.TenValued())
}

// Split separa a segunda carta numa nova mão logo após a ativa e
// dá uma carta nova para cada uma, primeiro para a mão original.
func (r *Round) Split(raise Raiser) error {
	h, err := r.active()
	if err != nil {
		return err
	}
	if h.Acted || !CanSplit(h.Cards) {
		return fmt.Errorf("%w: hand cannot be split", ErrInvalidAction)
	}
	if len(r.Hands) >= MaxHands {
		return fmt.Errorf("%w: at most %d hands", ErrInvalidAction, MaxHands)
	}
	if err := raise(h.Bet, 2*h.Bet, false); err != nil {
		return err
	}

	nh := &Hand{Cards: []Card{h.Cards[1]}, Bet: h.Bet, FromSplit: true}
	h.Cards = h.Cards[:1]
	h.FromSplit = true

	hands := make([]*Hand, 0, len(r.Hands)+1)
	hands = append(hands, r.Hands[:r.Active+1]...)
	hands = append(hands, nh)
	hands = append(hands, r.Hands[r.Active+1:]...)
	r.Hands = hands

	for _, hh := range []*Hand{h, nh} {
		c, err := r.draw()
		if err != nil {
			return err
		}
		hh.Cards = append(hh.Cards, c)
	}
	return nil
}

// Insurance aposta metade da stake original contra o blackjack do dealer (paga 2:1).
func (r *Round) Insurance(raise Raiser) error {
	if _, err := r.active(); err != nil {
		return err
	}
	if r.InsuranceTaken || !r.Dealer[0].IsAce() {
		return fmt.Errorf("%w: insurance needs a dealer ace and is taken once", ErrInvalidAction)
	}
	side := r.Stake / 2
	if side <= 0 {
		return ErrInsuranceTooLow
	}
	if err := raise(side, 3*side, true); err != nil {
		return err
	}
	r.InsuranceTaken = true
	r.InsuranceBet = side
	return nil
}

// advance ativa a próxima mão em aberto ou passa a vez ao dealer
func (r *Round) advance() error {
	for i, h := range r.Hands {
		if !h.done() {
			r.Active = i
			return nil
		}
	}
	r.Active = len(r.Hands)
	return r.playDealer()
}

// playDealer revela a carta fechada e compra enquanto tiver menos de 17
// ou 17 soft. Se todas as mãos estouraram, não compra.
func (r *Round) playDealer() error {
	r.State = StateDealerTurn
	allBusted := true
	for _, h := range r.Hands {
		allBusted = allBusted && h.Busted
	}
	if !allBusted {
		for {
			v, soft := Value(r.Dealer)
			if v > 17 || (v == 17 && !soft) {
				break
			}
			c, err := r.draw()
			if err != nil {
				return err
			}
			r.Dealer = append(r.Dealer, c)
		}
	}
	r.settle()
	return nil
}

func (r *Round) settle() {
	dv, _ := Value(r.Dealer)
	dealerNatural := IsNatural(r.Dealer)
	for _, h := range r.Hands {
		if h.Outcome != OutcomeNone {
			continue
		}
		stake := h.Stake()
		pv, _ := Value(h.Cards)
		playerNatural := IsNatural(h.Cards) && !h.FromSplit
		switch {
		case h.Busted:
			h.Outcome, h.Payout = OutcomePlayerBust, 0
		case playerNatural && dealerNatural:
			h.Outcome, h.Payout = OutcomePush, stake
		case playerNatural:
			h.Outcome, h.Payout = OutcomePlayerBlackjack, InitialReserve(stake)
		case dealerNatural:
			h.Outcome, h.Payout = OutcomeDealerBlackjack, 0
		case dv > 21:
			h.Outcome, h.Payout = OutcomeDealerBust, 2*stake
		case pv > dv:
			h.Outcome, h.Payout = OutcomeWin, 2*stake
		case pv == dv:
			h.Outcome, h.Payout = OutcomePush, stake
		default:
			h.Outcome, h.Payout = OutcomeLoss, 0
		}
	}
	if r.InsuranceTaken && dealerNatural {
		r.InsurancePayout = 3 * r.InsuranceBet
	}
	r.State = StateResolved
}

// Payout é o retorno bruto ao jogador: mãos mais seguro
func (r *Round) Payout() int64 {
	total := r.InsurancePayout
	for _, h := range r.Hands {
		total += h.Payout
	}
	return total
}

// AllPush indica que nenhuma mão teve resultado além de empate
func (r *Round) AllPush() bool {
	for _, h := range r.Hands {
		if h.Outcome != OutcomePush {
			return false
		}
	}
	return true
}
