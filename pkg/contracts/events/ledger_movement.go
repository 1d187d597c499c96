package events

import "time"

// Evento publicado no tópico "ledger_movements" a cada lançamento efetivado
type LedgerMovement struct {
	Kind           string    `json:"kind"` // DEPOSIT, WITHDRAW, STAKE, RESERVE, RELEASE, PAYOUT, FEE, FEE_WITHDRAWAL
	Account        string    `json:"account,omitempty"`
	Amount         int64     `json:"amount"`
	Ref            string    `json:"ref"`
	TotalBalance   int64     `json:"total_balance"`
	ReservedAmount int64     `json:"reserved_amount"`
	CollectedFees  int64     `json:"collected_fees"`
	At             time.Time `json:"at"`
}
