package registry

import "sync"

type game struct {
	active  bool
	wagered int64
	count   int64
}

// Memory é um catálogo de jogos em memória (registro, ativação e volume apostado).
type Memory struct {
	mu    sync.RWMutex
	games map[string]*game
}

func NewMemory() *Memory {
	return &Memory{games: make(map[string]*game)}
}

// Register adiciona o jogo já ativo. Registrar de novo não zera o volume.
func (m *Memory) Register(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[name]; ok {
		g.active = true
		return
	}
	m.games[name] = &game{active: true}
}

func (m *Memory) SetActive(name string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[name]; ok {
		g.active = active
	}
}

func (m *Memory) IsRegistered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.games[name]
	return ok
}

func (m *Memory) IsActive(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[name]
	return ok && g.active
}

func (m *Memory) RecordWager(name string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[name]; ok {
		g.wagered += amount
		g.count++
	}
}

// Wagered devolve o volume total apostado no jogo
func (m *Memory) Wagered(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.games[name]; ok {
		return g.wagered
	}
	return 0
}

// Games lista os jogos registrados
func (m *Memory) Games() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.games))
	for name := range m.games {
		out = append(out, name)
	}
	return out
}

// Stats é a visão de um jogo no catálogo
type Stats struct {
	Game    string `json:"game"`
	Active  bool   `json:"active"`
	Wagered int64  `json:"wagered"`
	Bets    int64  `json:"bets"`
}

func (m *Memory) Stats(name string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[name]
	if !ok {
		return Stats{}, false
	}
	return Stats{Game: name, Active: g.active, Wagered: g.wagered, Bets: g.count}, true
}
