package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonabai/dcasino/pkg/contracts/events"
)

// PostgresRepo persiste o histórico de apostas e de movimentos do ledger.
// Cada mensagem é gravada com a chave tópico:partição:offset, então uma
// reentrega do Kafka não duplica linhas.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db}
}

// SaveBetEvent atualiza a projeção da aposta e registra a transação.
// Uma aposta já resolvida não volta para PENDING se um evento antigo chegar depois.
func (r *PostgresRepo) SaveBetEvent(ctx context.Context, eventKey string, ev events.BetEvent) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const insTx = `
		INSERT INTO bet_transactions (event_key, bet_ref, event_type, status, amount, payout)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (event_key) DO NOTHING
	`
	b := ev.Bet
	res, err := tx.ExecContext(ctx, insTx, eventKey, b.Ref, ev.Type, b.Status, b.Amount+b.SideAmount, b.ActualPayout)
	if err != nil {
		return false, fmt.Errorf("insert bet transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	const upsert = `
		INSERT INTO bets
		  (ref, bet_id, game, player, amount, side_amount, potential_payout, actual_payout,
		   fee_charged, status, payload, request_id, created_at, resolved_at, updated_at)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
		ON CONFLICT (ref) DO UPDATE SET
		  amount           = EXCLUDED.amount,
		  side_amount      = EXCLUDED.side_amount,
		  potential_payout = EXCLUDED.potential_payout,
		  actual_payout    = EXCLUDED.actual_payout,
		  fee_charged      = EXCLUDED.fee_charged,
		  status           = EXCLUDED.status,
		  request_id       = EXCLUDED.request_id,
		  resolved_at      = EXCLUDED.resolved_at,
		  updated_at       = NOW()
		WHERE bets.status = 'PENDING'
	`
	var payload any
	if len(b.Payload) > 0 {
		payload = []byte(b.Payload)
	}
	var resolvedAt any
	if b.ResolvedAt != nil {
		resolvedAt = *b.ResolvedAt
	}
	if _, err := tx.ExecContext(ctx, upsert,
		b.Ref, int64(b.BetID), b.Game, b.Player, b.Amount, b.SideAmount, b.PotentialPayout, b.ActualPayout,
		b.FeeCharged, b.Status, payload, nullable(b.RequestID), b.CreatedAt, resolvedAt,
	); err != nil {
		return false, fmt.Errorf("upsert bet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// SaveMovement grava um lançamento do ledger
func (r *PostgresRepo) SaveMovement(ctx context.Context, eventKey string, m events.LedgerMovement) (bool, error) {
	const q = `
		INSERT INTO ledger_movements
		  (event_key, kind, account, amount, ref, total_balance, reserved_amount, collected_fees, at)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (event_key) DO NOTHING
	`
	res, err := r.DB.ExecContext(ctx, q,
		eventKey, m.Kind, nullable(m.Account), m.Amount, m.Ref,
		m.TotalBalance, m.ReservedAmount, m.CollectedFees, m.At,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger movement: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
