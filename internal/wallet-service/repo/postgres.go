package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonabai/dcasino/internal/shared/errs"
)

// Postgres implementa operações de carteira em banco
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", errs.ErrCoverage)
	ErrNotFound          = fmt.Errorf("%w: wallet not found", errs.ErrNotFound)
)

const (
	OpDeposit = "DEPOSIT"
	OpDebit   = "DEBIT"
	OpCredit  = "CREDIT"
)

// Transfer é o resultado de uma movimentação
type Transfer struct {
	WalletID string
	Balance  int64
	Replayed bool
}

// GetOrCreateWallet retorna o walletId e saldo de um usuário, criando a carteira se não existir
func (p *Postgres) GetOrCreateWallet(ctx context.Context, userID string) (walletID string, balance int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, err
	}
	defer tx.Rollback()

	id, bal, err := lockOrCreate(ctx, tx, userID)
	if err != nil {
		return "", 0, err
	}
	if err = tx.Commit(); err != nil {
		return "", 0, err
	}
	return id, bal, nil
}

// lockOrCreate trava a linha da carteira (FOR UPDATE), criando-a zerada se preciso
func lockOrCreate(ctx context.Context, tx *sql.Tx, userID string) (string, int64, error) {
	var id string
	var bal int64
	err := tx.QueryRowContext(ctx,
		`SELECT id, balance_cents FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&id, &bal)
	if errors.Is(err, sql.ErrNoRows) {
		id = uuid.New().String()
		// ON CONFLICT cobre a corrida de duas criações simultâneas
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO wallets(id, user_id, balance_cents, version) VALUES($1,$2,0,1)
			 ON CONFLICT (user_id) DO NOTHING`, id, userID); err != nil {
			return "", 0, err
		}
		err = tx.QueryRowContext(ctx,
			`SELECT id, balance_cents FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&id, &bal)
	}
	if err != nil {
		return "", 0, err
	}
	return id, bal, nil
}

func lockExisting(ctx context.Context, tx *sql.Tx, userID string) (string, int64, error) {
	var id string
	var bal int64
	err := tx.QueryRowContext(ctx,
		`SELECT id, balance_cents FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&id, &bal)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNotFound
	}
	return id, bal, err
}

// applied diz se a chave externa já foi lançada nesta carteira
func applied(ctx context.Context, tx *sql.Tx, walletID, externalRef string) (bool, error) {
	if externalRef == "" {
		return false, nil
	}
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM wallet_ledger WHERE wallet_id=$1 AND external_ref=$2`, walletID, externalRef).Scan(&n)
	return n > 0, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// move aplica delta ao saldo e registra o lançamento, tudo na transação tx
func move(ctx context.Context, tx *sql.Tx, walletID, op string, delta, amount int64, externalRef, description string) (int64, error) {
	var bal int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE wallets SET balance_cents = balance_cents + $1, version = version + 1 WHERE id=$2 RETURNING balance_cents`,
		delta, walletID).Scan(&bal); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_ledger(wallet_id, operation_type, amount_cents, external_ref, description) VALUES($1,$2,$3,$4,$5)`,
		walletID, op, amount, nullable(externalRef), description); err != nil {
		return 0, err
	}
	return bal, nil
}

// Deposit incrementa o saldo da carteira (recarga do jogador)
// Garante lock pessimista na linha da carteira
func (p *Postgres) Deposit(ctx context.Context, userID string, amount int64, externalRef string) (walletID string, newBalance int64, err error) {
	t, err := p.transfer(ctx, userID, OpDeposit, amount, externalRef, "deposit:"+externalRef, true)
	return t.WalletID, t.Balance, err
}

// Debit puxa fundos da carteira para a custódia do cassino.
// Idempotente por (wallet_id, external_ref).
func (p *Postgres) Debit(ctx context.Context, userID string, amount int64, externalRef, description string) (Transfer, error) {
	return p.transfer(ctx, userID, OpDebit, amount, externalRef, description, false)
}

// Credit envia fundos da custódia para a carteira, criando-a se preciso.
// Idempotente por (wallet_id, external_ref).
func (p *Postgres) Credit(ctx context.Context, userID string, amount int64, externalRef, description string) (Transfer, error) {
	return p.transfer(ctx, userID, OpCredit, amount, externalRef, description, true)
}

func (p *Postgres) transfer(ctx context.Context, userID, op string, amount int64, externalRef, description string, create bool) (Transfer, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Transfer{}, err
	}
	defer tx.Rollback()

	var walletID string
	var balance int64
	if create {
		walletID, balance, err = lockOrCreate(ctx, tx, userID)
	} else {
		walletID, balance, err = lockExisting(ctx, tx, userID)
	}
	if err != nil {
		return Transfer{}, err
	}

	// Idempotência: a mesma chave não é aplicada duas vezes
	done, err := applied(ctx, tx, walletID, externalRef)
	if err != nil {
		return Transfer{}, err
	}
	if done {
		return Transfer{WalletID: walletID, Balance: balance, Replayed: true}, nil
	}

	delta := amount
	if op == OpDebit {
		if balance < amount {
			return Transfer{}, ErrInsufficientFunds
		}
		delta = -amount
	}
	if balance, err = move(ctx, tx, walletID, op, delta, amount, externalRef, description); err != nil {
		return Transfer{}, err
	}
	if err = tx.Commit(); err != nil {
		return Transfer{}, err
	}
	return Transfer{WalletID: walletID, Balance: balance}, nil
}
