package blackjack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ranks: 0 = Ás, 9 = 10, 10 = J, 11 = Q, 12 = K
func cards(ranks ...int) []Card {
	out := make([]Card, len(ranks))
	for i, r := range ranks {
		out[i] = NewCard(r, i%4)
	}
	return out
}

func TestCardBasics(t *testing.T) {
	assert.Equal(t, "AS", NewCard(0, 0).String())
	assert.Equal(t, "10H", NewCard(9, 1).String())
	assert.Equal(t, "KC", NewCard(12, 3).String())
	assert.Equal(t, 11, NewCard(0, 2).Points())
	assert.Equal(t, 10, NewCard(11, 2).Points())
	assert.Equal(t, 7, NewCard(6, 2).Points())
	assert.True(t, NewCard(10, 0).TenValued())
	assert.False(t, NewCard(8, 0).TenValued())
}

func TestValue(t *testing.T) {
	cases := []struct {
		name  string
		hand  []Card
		total int
		soft  bool
	}{
		{"soft 17", cards(0, 5), 17, true},
		{"hard 17", cards(9, 6), 17, false},
		{"two aces", cards(0, 0), 12, true},
		{"aces and nine", cards(0, 0, 8), 21, true},
		{"demoted ace", cards(0, 5, 9), 17, false},
		{"bust", cards(12, 11, 1), 22, false},
		{"blackjack", cards(0, 12), 21, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			total, soft := Value(tc.hand)
			assert.Equal(t, tc.total, total)
			assert.Equal(t, tc.soft, soft)
		})
	}

	assert.True(t, IsNatural(cards(0, 12)))
	assert.True(t, IsNatural(cards(9, 0)))
	assert.False(t, IsNatural(cards(12, 11, 0)))
	assert.False(t, IsNatural(cards(9, 9)))
}

func TestCanSplit(t *testing.T) {
	assert.True(t, CanSplit(cards(7, 7)))
	assert.True(t, CanSplit(cards(9, 12)))
	assert.True(t, CanSplit(cards(0, 0)))
	assert.False(t, CanSplit(cards(0, 12)))
	assert.False(t, CanSplit(cards(7, 7, 7)))
}

func TestDeckDrawProbesPastUsedCards(t *testing.T) {
	var d Deck
	c, err := d.Draw(5)
	require.NoError(t, err)
	assert.Equal(t, Card(5), c)

	c, err = d.Draw(5 + DeckSize)
	require.NoError(t, err)
	assert.Equal(t, Card(6), c)

	// 51 usado faz a varredura voltar ao começo
	_, err = d.Draw(51)
	require.NoError(t, err)
	c, err = d.Draw(51)
	require.NoError(t, err)
	assert.Equal(t, Card(0), c)
}

func TestDeckExhaustion(t *testing.T) {
	var d Deck
	seen := map[Card]bool{}
	for i := 0; i < DeckSize; i++ {
		c, err := d.Draw(7)
		require.NoError(t, err)
		assert.False(t, seen[c])
		seen[c] = true
	}
	_, err := d.Draw(0)
	assert.ErrorIs(t, err, ErrDeckExhausted)
}

func TestStreamExtendsDeterministically(t *testing.T) {
	a := Stream{Values: []uint64{10, 20}}
	b := Stream{Values: []uint64{10, 20}}

	assert.Equal(t, uint64(10), a.Next())
	assert.Equal(t, uint64(20), a.Next())
	x, y := a.Next(), a.Next()
	assert.NotEqual(t, x, y)

	b.Next()
	b.Next()
	assert.Equal(t, x, b.Next())
	assert.Equal(t, 4, a.Cursor)
}
