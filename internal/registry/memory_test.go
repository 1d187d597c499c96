package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLifecycle(t *testing.T) {
	m := NewMemory()
	assert.False(t, m.IsRegistered("roulette"))
	assert.False(t, m.IsActive("roulette"))

	m.Register("roulette")
	assert.True(t, m.IsRegistered("roulette"))
	assert.True(t, m.IsActive("roulette"))

	m.RecordWager("roulette", 50)
	m.RecordWager("roulette", 25)
	m.RecordWager("unknown", 10)
	assert.Equal(t, int64(75), m.Wagered("roulette"))
	assert.Zero(t, m.Wagered("unknown"))

	m.SetActive("roulette", false)
	assert.True(t, m.IsRegistered("roulette"))
	assert.False(t, m.IsActive("roulette"))

	m.Register("roulette")
	st, ok := m.Stats("roulette")
	assert.True(t, ok)
	assert.Equal(t, Stats{Game: "roulette", Active: true, Wagered: 75, Bets: 2}, st)
	assert.ElementsMatch(t, []string{"roulette"}, m.Games())
}
