package ws

import "encoding/json"

// ClientMsg é a mensagem recebida do cliente WebSocket
// Topic: ref da aposta ("roulette:7"), obrigatório em subscribe/unsubscribe
type ClientMsg struct {
	Type  string `json:"type"` // subscribe | unsubscribe | ping
	Topic string `json:"topic"`
}

// Kinds de Update
const (
	KindBet   = "bet"
	KindRound = "blackjack_round"
	KindSpin  = "roulette_spin"
)

// Update é o que trafega no canal Redis e chega aos clientes inscritos no Topic
type Update struct {
	Topic   string          `json:"topic"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}
