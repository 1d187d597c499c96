package events

import (
	"encoding/json"
	"time"
)

// Tipos de evento de aposta
const (
	BetPlacedType    = "PLACED"
	BetUpdatedType   = "UPDATED"
	BetResolvedType  = "RESOLVED"
	BetCancelledType = "CANCELLED"
)

// Bet é a projeção da aposta carregada nos eventos.
// Ref ("jogo:id") é a chave das mensagens e o external_ref da custódia.
type Bet struct {
	BetID              uint64          `json:"bet_id"`
	Ref                string          `json:"ref"`
	Game               string          `json:"game"`
	Player             string          `json:"player"`
	Amount             int64           `json:"amount"`
	SideAmount         int64           `json:"side_amount"`
	PotentialPayout    int64           `json:"potential_payout"`
	ActualPayout       int64           `json:"actual_payout"`
	FeeCharged         int64           `json:"fee_charged"`
	Status             string          `json:"status"` // "PENDING" | "WON" | "LOST" | "CANCELLED"
	Payload            json.RawMessage `json:"payload,omitempty"`
	RequestID          string          `json:"request_id,omitempty"`
	AwaitingRandomness bool            `json:"awaiting_randomness"`
	CreatedAt          time.Time       `json:"created_at"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
}

// BetEvent é publicado nos tópicos bet_placed, bet_updated, bet_resolved e bet_cancelled.
type BetEvent struct {
	Type     string `json:"type"`
	Bet      Bet    `json:"bet"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}
