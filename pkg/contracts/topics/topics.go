package topics

const (
	// Bets
	BetPlaced    = "bet_placed"
	BetUpdated   = "bet_updated"
	BetResolved  = "bet_resolved"
	BetCancelled = "bet_cancelled"

	// Ledger
	LedgerMovements = "ledger_movements"

	// Randomness
	RandomnessRequests     = "randomness_requests"
	RandomnessFulfillments = "randomness_fulfillments"

	// DLQs
	RandomnessFulfillmentsDLQ = "randomness_fulfillments_dlq"
	BetHistoryDLQ             = "bet_history_dlq"
)
