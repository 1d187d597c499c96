package ledger

import "time"

// MovementKind classifica um lançamento efetivado no ledger
type MovementKind string

const (
	MoveDeposit       MovementKind = "DEPOSIT"
	MoveWithdraw      MovementKind = "WITHDRAW"
	MoveStake         MovementKind = "STAKE"
	MoveReserve       MovementKind = "RESERVE"
	MoveRelease       MovementKind = "RELEASE"
	MovePayout        MovementKind = "PAYOUT"
	MoveFee           MovementKind = "FEE"
	MoveFeeWithdrawal MovementKind = "FEE_WITHDRAWAL"
)

// Movement é um lançamento já commitado, com os agregados resultantes.
type Movement struct {
	Kind           MovementKind
	Account        string
	Amount         int64
	Ref            string
	TotalBalance   int64
	ReservedAmount int64
	CollectedFees  int64
	At             time.Time
}

// Observer recebe os lançamentos depois que o lock do ledger é liberado.
type Observer func(Movement)
