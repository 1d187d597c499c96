package blackjack

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/jonabai/dcasino/internal/shared/errs"
)

const DeckSize = 52

var ErrDeckExhausted = fmt.Errorf("%w: no cards left in the deck", errs.ErrValidation)

// Card é um id de 0 a 51: rank = id % 13 (0 = Ás), naipe = id / 13.
type Card uint8

var rankNames = [13]string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
var suitNames = [4]string{"S", "H", "D", "C"}

// NewCard monta uma carta a partir de rank (0 = Ás ... 12 = Rei) e naipe
func NewCard(rank, suit int) Card { return Card(suit*13 + rank) }

func (c Card) Rank() int { return int(c) % 13 }
func (c Card) Suit() int { return int(c) / 13 }

func (c Card) IsAce() bool { return c.Rank() == 0 }

// TenValued cobre 10, J, Q e K
func (c Card) TenValued() bool { return c.Rank() >= 9 }

// Points conta o Ás como 11; a redução para 1 fica em Value.
func (c Card) Points() int {
	switch r := c.Rank(); {
	case r == 0:
		return 11
	case r >= 9:
		return 10
	default:
		return r + 1
	}
}

func (c Card) String() string {
	if int(c) >= DeckSize {
		return "card(" + strconv.Itoa(int(c)) + ")"
	}
	return rankNames[c.Rank()] + suitNames[c.Suit()]
}

func (c Card) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Value soma a mão rebaixando Ases de 11 para 1 enquanto passar de 21.
// soft indica que ainda sobra um Ás valendo 11.
func Value(cards []Card) (total int, soft bool) {
	aces := 0
	for _, c := range cards {
		total += c.Points()
		if c.IsAce() {
			aces++
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total, aces > 0
}

// IsNatural é 21 com exatamente duas cartas
func IsNatural(cards []Card) bool {
	if len(cards) != 2 {
		return false
	}
	v, _ := Value(cards)
	return v == 21
}

// Deck rastreia as cartas já distribuídas num bitmap de 52 bits.
type Deck struct {
	Used  uint64 `json:"used"`
	Dealt int    `json:"dealt"`
}

func (d *Deck) IsUsed(c Card) bool { return d.Used&(1<<uint(c)) != 0 }

// Draw tenta a carta v % 52 e, se já saiu, varre linearmente a partir dela.
func (d *Deck) Draw(v uint64) (Card, error) {
	if d.Dealt >= DeckSize {
		return 0, ErrDeckExhausted
	}
	start := v % DeckSize
	for i := uint64(0); i < DeckSize; i++ {
		c := Card((start + i) % DeckSize)
		if !d.IsUsed(c) {
			d.Used |= 1 << uint(c)
			d.Dealt++
			return c, nil
		}
	}
	return 0, ErrDeckExhausted
}

// Stream entrega os valores do provider em ordem e, quando acabam,
// estende a sequência com SHA-256(último valor, índice).
type Stream struct {
	Values []uint64 `json:"-"`
	Cursor int      `json:"cursor"`
}

func (s *Stream) Next() uint64 {
	i := s.Cursor
	s.Cursor++
	if i < len(s.Values) {
		return s.Values[i]
	}
	var buf [16]byte
	if n := len(s.Values); n > 0 {
		binary.BigEndian.PutUint64(buf[:8], s.Values[n-1])
	}
	binary.BigEndian.PutUint64(buf[8:], uint64(i))
	sum := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint64(sum[:8])
}
