package bet

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status do ciclo de vida de uma aposta
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusWon       Status = "WON"
	StatusLost      Status = "LOST"
	StatusCancelled Status = "CANCELLED"
	// StatusExpired faz parte do modelo de elegibilidade mas nenhuma transição leva a ele.
	StatusExpired Status = "EXPIRED"
)

// Terminal indica que a aposta não pode mais mudar de estado
func (s Status) Terminal() bool { return s != StatusPending }

// Record é a aposta canônica compartilhada por todos os jogos.
// SettlementPending marca uma aposta com valores já entregues cujo fechamento
// falhou e será refeito com os mesmos valores.
type Record struct {
	ID                 uint64          `json:"id"`
	Game               string          `json:"game"`
	Player             string          `json:"player"`
	Amount             int64           `json:"amount"`
	SideAmount         int64           `json:"side_amount,omitempty"`
	PotentialPayout    int64           `json:"potential_payout"`
	ActualPayout       int64           `json:"actual_payout"`
	FeeCharged         int64           `json:"fee_charged"`
	Status             Status          `json:"status"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	RequestID          string          `json:"request_id,omitempty"`
	AwaitingRandomness bool            `json:"awaiting_randomness"`
	SettlementPending  bool            `json:"settlement_pending,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
}

// Ref identifica a aposta nas transferências da custódia e nos eventos
func (r *Record) Ref() string { return Ref(r.Game, r.ID) }

func Ref(game string, id uint64) string {
	return game + ":" + strconv.FormatUint(id, 10)
}
