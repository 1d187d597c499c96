package dto

import (
	"time"

	"github.com/jonabai/dcasino/internal/games/roulette"
	"github.com/jonabai/dcasino/internal/ledger"
)

// PlaceRouletteRequest é uma rodada de roleta com uma ou mais sub-apostas
type PlaceRouletteRequest struct {
	Bets []roulette.SubBet `json:"bets"`
}

type PlaceBlackjackRequest struct {
	StakeCents int64 `json:"stakeCents"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

// AmountRequest serve depósito e saque da tesouraria; To vazio = tesouraria
type AmountRequest struct {
	AmountCents int64  `json:"amountCents"`
	To          string `json:"to,omitempty"`
}

type WithdrawFeesRequest struct {
	To string `json:"to,omitempty"`
}

type LimitsRequest = ledger.Limits

type ErrorResponse struct {
	Error string `json:"error"`
}

type FeesResponse struct {
	Withdrawn int64 `json:"withdrawn"`
}

// RequestView é a projeção de um pedido de aleatoriedade em aberto
type RequestView struct {
	ID        string    `json:"request_id"`
	Game      string    `json:"game"`
	BetID     uint64    `json:"bet_id"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}
