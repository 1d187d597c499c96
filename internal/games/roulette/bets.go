package roulette

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jonabai/dcasino/internal/shared/errs"
)

// Pockets é o número de casas da roda (0 a 36).
const Pockets = 37

const (
	MaxSubBets = 20
	maxNumber  = 36
)

var (
	ErrInvalidBetShape = fmt.Errorf("%w: invalid bet shape", errs.ErrValidation)
	ErrInvalidBetType  = fmt.Errorf("%w: unknown bet type", errs.ErrValidation)
	ErrInvalidWager    = fmt.Errorf("%w: invalid wager", errs.ErrValidation)
)

type BetType uint8

const (
	Straight BetType = iota
	Split
	Street
	Corner
	Line
	Column
	Dozen
	Red
	Black
	Odd
	Even
	Low
	High
)

var betTypeNames = [...]string{
	Straight: "straight",
	Split:    "split",
	Street:   "street",
	Corner:   "corner",
	Line:     "line",
	Column:   "column",
	Dozen:    "dozen",
	Red:      "red",
	Black:    "black",
	Odd:      "odd",
	Even:     "even",
	Low:      "low",
	High:     "high",
}

func (t BetType) String() string {
	if int(t) < len(betTypeNames) {
		return betTypeNames[t]
	}
	return fmt.Sprintf("bettype(%d)", uint8(t))
}

func (t BetType) MarshalText() ([]byte, error) {
	if int(t) >= len(betTypeNames) {
		return nil, ErrInvalidBetType
	}
	return []byte(betTypeNames[t]), nil
}

func (t *BetType) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range betTypeNames {
		if n == name {
			*t = BetType(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidBetType, b)
}

// Multiplier é o pagamento líquido por unidade apostada
func (t BetType) Multiplier() int64 {
	switch t {
	case Straight:
		return 35
	case Split:
		return 17
	case Street:
		return 11
	case Corner:
		return 8
	case Line:
		return 5
	case Column, Dozen:
		return 2
	default:
		return 1
	}
}

var redNumbers = [Pockets]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true,
	14: true, 16: true, 18: true, 19: true, 21: true, 23: true,
	25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// IsRed indica se a casa é vermelha. O zero não tem cor.
func IsRed(n int) bool { return n >= 0 && n < Pockets && redNumbers[n] }

// evenMoney devolve o predicado de pertinência das apostas 1:1
func evenMoney(t BetType) func(n int) bool {
	switch t {
	case Red:
		return IsRed
	case Black:
		return func(n int) bool { return n >= 1 && n <= maxNumber && !IsRed(n) }
	case Odd:
		return func(n int) bool { return n%2 == 1 }
	case Even:
		return func(n int) bool { return n != 0 && n%2 == 0 }
	case Low:
		return func(n int) bool { return n >= 1 && n <= 18 }
	case High:
		return func(n int) bool { return n >= 19 && n <= maxNumber }
	}
	return nil
}

func shapeErr(t BetType, numbers []int) error {
	return fmt.Errorf("%w: %s %v", ErrInvalidBetShape, t, numbers)
}

// Validate confere a geometria da aposta no pano. A ordem dos números não importa.
func Validate(t BetType, numbers []int) error {
	if int(t) >= len(betTypeNames) {
		return ErrInvalidBetType
	}
	ns := slices.Clone(numbers)
	slices.Sort(ns)
	if len(ns) == 0 || len(slices.Compact(slices.Clone(ns))) != len(ns) {
		return shapeErr(t, numbers)
	}
	if ns[0] < 0 || ns[len(ns)-1] > maxNumber {
		return shapeErr(t, numbers)
	}
	// só o pleno aceita o zero
	if t != Straight && ns[0] == 0 {
		return shapeErr(t, numbers)
	}

	a := ns[0]
	ok := false
	switch t {
	case Straight:
		ok = len(ns) == 1
	case Split:
		ok = len(ns) == 2 && ((ns[1] == a+1 && a%3 != 0) || ns[1] == a+3)
	case Street:
		ok = len(ns) == 3 && a%3 == 1 && consecutive(ns, 1)
	case Corner:
		ok = len(ns) == 4 && a%3 != 0 && a+4 <= maxNumber &&
			ns[1] == a+1 && ns[2] == a+3 && ns[3] == a+4
	case Line:
		ok = len(ns) == 6 && a%3 == 1 && a+5 <= maxNumber && consecutive(ns, 1)
	case Column:
		ok = len(ns) == 12 && a <= 3 && consecutive(ns, 3)
	case Dozen:
		ok = len(ns) == 12 && (a == 1 || a == 13 || a == 25) && consecutive(ns, 1)
	default:
		in := evenMoney(t)
		ok = len(ns) == 18
		for _, n := range ns {
			ok = ok && in(n)
		}
	}
	if !ok {
		return shapeErr(t, numbers)
	}
	return nil
}

func consecutive(ns []int, step int) bool {
	for i := 1; i < len(ns); i++ {
		if ns[i] != ns[i-1]+step {
			return false
		}
	}
	return true
}

// SubBet é uma das apostas agrupadas numa rodada
type SubBet struct {
	Type    BetType `json:"type"`
	Numbers []int   `json:"numbers"`
	Amount  int64   `json:"amount"`
}

func (b SubBet) Covers(n int) bool { return slices.Contains(b.Numbers, n) }

// Payout é stake + stake×multiplicador
func (b SubBet) Payout() int64 { return b.Amount * (b.Type.Multiplier() + 1) }

// Wager é o payload de uma aposta de roleta
type Wager struct {
	Bets []SubBet `json:"bets"`
}

// Validate confere a rodada inteira e devolve o pagamento potencial.
// A soma das sub-apostas tem que ser exatamente a stake.
func (w Wager) Validate(stake int64) (int64, error) {
	if len(w.Bets) == 0 || len(w.Bets) > MaxSubBets {
		return 0, fmt.Errorf("%w: %d sub-bets, want 1..%d", ErrInvalidWager, len(w.Bets), MaxSubBets)
	}
	var sum, potential int64
	for i, b := range w.Bets {
		if b.Amount <= 0 {
			return 0, fmt.Errorf("%w: sub-bet %d amount %d", ErrInvalidWager, i, b.Amount)
		}
		if err := Validate(b.Type, b.Numbers); err != nil {
			return 0, err
		}
		sum += b.Amount
		potential += b.Payout()
	}
	if sum != stake {
		return 0, fmt.Errorf("%w: sub-bets total %d, stake %d", ErrInvalidWager, sum, stake)
	}
	return potential, nil
}

// Drawn converte o valor aleatório na casa sorteada
func Drawn(value uint64) int { return int(value % Pockets) }

// Settle paga cada sub-aposta que cobre a casa sorteada.
// Devolve o pagamento total e os índices vencedores.
func Settle(bets []SubBet, drawn int) (int64, []int) {
	var total int64
	var winners []int
	for i, b := range bets {
		if b.Covers(drawn) {
			total += b.Payout()
			winners = append(winners, i)
		}
	}
	return total, winners
}
