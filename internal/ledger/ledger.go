package ledger

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

// BasisPoints é o denominador de razões e taxas (10000 = 100%).
const BasisPoints = 10000

const (
	MaxPayoutRatioCap = 5000 // 50%
	MaxFeeCap         = 1000 // 10%
)

var (
	ErrInvalidAmount            = fmt.Errorf("%w: invalid amount", errs.ErrValidation)
	ErrInvalidLimits            = fmt.Errorf("%w: invalid limits", errs.ErrValidation)
	ErrPayoutExceedsReservation = fmt.Errorf("%w: payout exceeds reservation", errs.ErrValidation)
	ErrInsufficientCoverage     = fmt.Errorf("%w: insufficient coverage", errs.ErrCoverage)
	ErrInsufficientBalance      = fmt.Errorf("%w: insufficient available balance", errs.ErrCoverage)
	ErrExceedsReserved          = fmt.Errorf("%w: amount exceeds reserved", errs.ErrCoverage)
	ErrReentrant                = fmt.Errorf("%w: ledger re-entered during transfer", errs.ErrUnauthorized)
	ErrTransfer                 = fmt.Errorf("%w: custody transfer failed", errs.ErrExternalDelivery)
)

// Limits agrupa a configuração administrável do ledger.
// MaxPayoutRatio e FeePercentage são expressos em basis points.
type Limits struct {
	MaxPayoutRatio int64 `json:"max_payout_ratio_bps"`
	MinBet         int64 `json:"min_bet"`
	MaxBet         int64 `json:"max_bet"`
	FeePercentage  int64 `json:"fee_bps"`
}

// Validate aplica os limites superiores fixos (ratio ≤ 50%, taxa ≤ 10%)
func (l Limits) Validate() error {
	switch {
	case l.MaxPayoutRatio <= 0 || l.MaxPayoutRatio > MaxPayoutRatioCap:
		return fmt.Errorf("%w: max payout ratio %d bps", ErrInvalidLimits, l.MaxPayoutRatio)
	case l.FeePercentage < 0 || l.FeePercentage > MaxFeeCap:
		return fmt.Errorf("%w: fee %d bps", ErrInvalidLimits, l.FeePercentage)
	case l.MinBet <= 0 || l.MaxBet < l.MinBet:
		return fmt.Errorf("%w: bet range [%d, %d]", ErrInvalidLimits, l.MinBet, l.MaxBet)
	}
	return nil
}

// Fee calcula a taxa sobre um valor apostado
func (l Limits) Fee(amount int64) int64 {
	return mulDiv(amount, l.FeePercentage, BasisPoints)
}

// Snapshot é a projeção somente-leitura do estado do ledger.
type Snapshot struct {
	TotalBalance    int64  `json:"total_balance"`
	ReservedAmount  int64  `json:"reserved_amount"`
	CollectedFees   int64  `json:"collected_fees"`
	AvailableAmount int64  `json:"available_balance"`
	Limits          Limits `json:"limits"`
}

// Custody executa as transferências externas de fundos.
// Pull traz fundos de uma conta para a custódia, Push envia para fora.
type Custody interface {
	Pull(ctx context.Context, from string, amount int64, ref string) error
	Push(ctx context.Context, to string, amount int64, ref string) error
}

// Config reúne as dependências do Ledger
type Config struct {
	Limits   Limits
	Custody  Custody // nil = somente escrituração, sem transferência externa
	Authz    auth.Authorizer
	Observer Observer
	Log      *zap.Logger
	Now      func() time.Time
}

// Ledger é o núcleo contábil da custódia.
// Todo ponto de entrada mutável roda sob mu, inclusive a transferência externa,
// que só acontece depois da escrituração e é revertida se falhar.
type Ledger struct {
	mu sync.Mutex

	total    int64
	reserved int64
	fees     int64
	limits   Limits

	custody  Custody
	authz    auth.Authorizer
	observer Observer
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		limits:   cfg.Limits,
		custody:  cfg.Custody,
		authz:    cfg.Authz,
		observer: cfg.Observer,
		log:      cfg.Log,
		now:      cfg.Now,
	}, nil
}

// transferKey marca o contexto entregue à Custody durante uma transferência.
type transferKey struct{}

func inTransfer(ctx context.Context) bool {
	v, _ := ctx.Value(transferKey{}).(bool)
	return v
}

// enter valida reentrância e capability antes de travar o ledger.
func (l *Ledger) enter(ctx context.Context, caller string, c auth.Capability) error {
	if inTransfer(ctx) {
		return ErrReentrant
	}
	return auth.Require(l.authz, caller, c)
}

type state struct{ total, reserved, fees int64 }

func (l *Ledger) save() state { return state{l.total, l.reserved, l.fees} }

func (l *Ledger) restore(s state) { l.total, l.reserved, l.fees = s.total, s.reserved, s.fees }

func (l *Ledger) available() int64 { return l.total - l.reserved }

// covers aplica a regra amount ≤ available × maxPayoutRatio
func (l *Ledger) covers(amount, available int64) bool {
	if available <= 0 {
		return amount == 0
	}
	return amount <= mulDiv(available, l.limits.MaxPayoutRatio, BasisPoints)
}

func (l *Ledger) pull(ctx context.Context, from string, amount int64, ref string) error {
	if amount == 0 || l.custody == nil {
		return nil
	}
	if err := l.custody.Pull(context.WithValue(ctx, transferKey{}, true), from, amount, ref); err != nil {
		return fmt.Errorf("%w: pull %d from %s: %v", ErrTransfer, amount, from, err)
	}
	return nil
}

func (l *Ledger) push(ctx context.Context, to string, amount int64, ref string) error {
	if amount == 0 || l.custody == nil {
		return nil
	}
	if err := l.custody.Push(context.WithValue(ctx, transferKey{}, true), to, amount, ref); err != nil {
		return fmt.Errorf("%w: push %d to %s: %v", ErrTransfer, amount, to, err)
	}
	return nil
}

// commit libera o lock e notifica o observer com os movimentos já efetivados.
func (l *Ledger) commit(moves ...Movement) {
	snap := l.save()
	at := l.now()
	l.mu.Unlock()
	if l.observer == nil {
		return
	}
	for _, m := range moves {
		m.At = at
		m.TotalBalance, m.ReservedAmount, m.CollectedFees = snap.total, snap.reserved, snap.fees
		l.observer(m)
	}
}

// Deposit credita fundos do chamador na custódia da casa.
func (l *Ledger) Deposit(ctx context.Context, caller string, amount int64) error {
	if err := l.enter(ctx, caller, auth.CapTreasuryAdmin); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	prev := l.save()
	l.total += amount
	if err := l.pull(ctx, caller, amount, "deposit"); err != nil {
		l.restore(prev)
		l.mu.Unlock()
		return err
	}
	l.commit(Movement{Kind: MoveDeposit, Account: caller, Amount: amount, Ref: "deposit"})
	return nil
}

// Withdraw retira fundos livres (não reservados) para uma conta externa.
func (l *Ledger) Withdraw(ctx context.Context, caller, to string, amount int64) error {
	if err := l.enter(ctx, caller, auth.CapTreasuryAdmin); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if avail := l.available(); amount > avail {
		l.mu.Unlock()
		return fmt.Errorf("%w: withdraw %d, available %d", ErrInsufficientBalance, amount, avail)
	}
	prev := l.save()
	l.total -= amount
	if err := l.push(ctx, to, amount, "withdraw"); err != nil {
		l.restore(prev)
		l.mu.Unlock()
		return err
	}
	l.commit(Movement{Kind: MoveWithdraw, Account: to, Amount: amount, Ref: "withdraw"})
	return nil
}

// Reserve promete até amount para uma aposta pendente.
func (l *Ledger) Reserve(ctx context.Context, caller string, amount int64, ref string) error {
	if err := l.enter(ctx, caller, auth.CapGameOperator); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if !l.covers(amount, l.available()) {
		avail := l.available()
		l.mu.Unlock()
		return fmt.Errorf("%w: reserve %d, available %d", ErrInsufficientCoverage, amount, avail)
	}
	l.reserved += amount
	l.commit(Movement{Kind: MoveReserve, Amount: amount, Ref: ref})
	return nil
}

// Release devolve ao saldo disponível uma reserva não utilizada.
func (l *Ledger) Release(ctx context.Context, caller string, amount int64, ref string) error {
	if err := l.enter(ctx, caller, auth.CapGameOperator); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if amount > l.reserved {
		reserved := l.reserved
		l.mu.Unlock()
		return fmt.Errorf("%w: release %d, reserved %d", ErrExceedsReserved, amount, reserved)
	}
	l.reserved -= amount
	l.commit(Movement{Kind: MoveRelease, Amount: amount, Ref: ref})
	return nil
}

// Payout paga um jogador. Consome min(reserved, amount) da reserva global.
func (l *Ledger) Payout(ctx context.Context, caller, player string, amount int64, ref string) error {
	if err := l.enter(ctx, caller, auth.CapGameOperator); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if amount > l.total {
		total := l.total
		l.mu.Unlock()
		return fmt.Errorf("%w: payout %d, total %d", ErrInsufficientBalance, amount, total)
	}
	prev := l.save()
	l.reserved -= min(l.reserved, amount)
	l.total -= amount
	if err := l.push(ctx, player, amount, ref); err != nil {
		l.restore(prev)
		l.mu.Unlock()
		return err
	}
	l.commit(Movement{Kind: MovePayout, Account: player, Amount: amount, Ref: ref})
	return nil
}

// CollectFee move uma taxa do saldo disponível para collectedFees.
func (l *Ledger) CollectFee(ctx context.Context, caller string, amount int64, ref string) error {
	if err := l.enter(ctx, caller, auth.CapGameOperator); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if amount > l.available() {
		avail := l.available()
		l.mu.Unlock()
		return fmt.Errorf("%w: fee %d, available %d", ErrInsufficientBalance, amount, avail)
	}
	l.total -= amount
	l.fees += amount
	l.commit(Movement{Kind: MoveFee, Amount: amount, Ref: ref})
	return nil
}

// WithdrawFees envia todas as taxas acumuladas para to e devolve o valor enviado.
func (l *Ledger) WithdrawFees(ctx context.Context, caller, to string) (int64, error) {
	if err := l.enter(ctx, caller, auth.CapTreasuryAdmin); err != nil {
		return 0, err
	}
	l.mu.Lock()
	amount := l.fees
	if amount == 0 {
		l.mu.Unlock()
		return 0, nil
	}
	prev := l.save()
	l.fees = 0
	if err := l.push(ctx, to, amount, "fees"); err != nil {
		l.restore(prev)
		l.mu.Unlock()
		return 0, err
	}
	l.commit(Movement{Kind: MoveFeeWithdrawal, Account: to, Amount: amount, Ref: "fees"})
	return amount, nil
}

// Stake traz a aposta do jogador para a custódia e reserva o pagamento potencial.
// A cobertura é verificada sobre o saldo disponível anterior ao depósito.
func (l *Ledger) Stake(ctx context.Context, caller, player string, stake, reserve int64, ref string) error {
	if err := l.enter(ctx, caller, auth.CapGameOperator); err != nil {
		return err
	}
	if stake < 0 || reserve < 0 || stake+reserve == 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if !l.covers(reserve, l.available()) {
		avail := l.available()
		l.mu.Unlock()
		return fmt.Errorf("%w: reserve %d, available %d", ErrInsufficientCoverage, reserve, avail)
	}
	prev := l.save()
	l.total += stake
	l.reserved += reserve
	if err := l.pull(ctx, player, stake, ref); err != nil {
		l.restore(prev)
		l.mu.Unlock()
		return err
	}
	l.commit(
		Movement{Kind: MoveStake, Account: player, Amount: stake, Ref: ref},
		Movement{Kind: MoveReserve, Amount: reserve, Ref: ref},
	)
	return nil
}

// Settlement descreve o fechamento de uma aposta: Reserved é a reserva total
// da aposta, Payout o que vai para o jogador e Fee a taxa pedida.
type Settlement struct {
	Player   string
	Reserved int64
	Payout   int64
	Fee      int64
	Ref      string
}

// Settle paga, libera o restante da reserva e cobra a taxa numa única seção.
// A taxa é limitada ao saldo disponível depois do pagamento. Devolve a taxa cobrada.
func (l *Ledger) Settle(ctx context.Context, caller string, s Settlement) (int64, error) {
	if err := l.enter(ctx, caller, auth.CapGameOperator); err != nil {
		return 0, err
	}
	if s.Reserved < 0 || s.Payout < 0 || s.Fee < 0 {
		return 0, ErrInvalidAmount
	}
	if s.Payout > s.Reserved {
		return 0, fmt.Errorf("%w: payout %d, reserved %d", ErrPayoutExceedsReservation, s.Payout, s.Reserved)
	}
	l.mu.Lock()
	if s.Reserved > l.reserved {
		reserved := l.reserved
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: settle %d, reserved %d", ErrExceedsReserved, s.Reserved, reserved)
	}
	if s.Payout > l.total {
		total := l.total
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: payout %d, total %d", ErrInsufficientBalance, s.Payout, total)
	}
	prev := l.save()
	l.reserved -= s.Reserved
	l.total -= s.Payout
	fee := max(min(s.Fee, l.available()), 0)
	l.total -= fee
	l.fees += fee
	if err := l.push(ctx, s.Player, s.Payout, s.Ref); err != nil {
		l.restore(prev)
		l.mu.Unlock()
		return 0, err
	}

	var moves []Movement
	if released := s.Reserved - s.Payout; released > 0 {
		moves = append(moves, Movement{Kind: MoveRelease, Amount: released, Ref: s.Ref})
	}
	if s.Payout > 0 {
		moves = append(moves, Movement{Kind: MovePayout, Account: s.Player, Amount: s.Payout, Ref: s.Ref})
	}
	if fee > 0 {
		moves = append(moves, Movement{Kind: MoveFee, Amount: fee, Ref: s.Ref})
	}
	l.commit(moves...)
	return fee, nil
}

// SetLimits troca a configuração. Exige treasury-admin.
func (l *Ledger) SetLimits(ctx context.Context, caller string, limits Limits) error {
	if err := l.enter(ctx, caller, auth.CapTreasuryAdmin); err != nil {
		return err
	}
	if err := limits.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.limits = limits
	l.mu.Unlock()
	l.log.Info("ledger limits updated",
		zap.Int64("max_payout_ratio_bps", limits.MaxPayoutRatio),
		zap.Int64("min_bet", limits.MinBet),
		zap.Int64("max_bet", limits.MaxBet),
		zap.Int64("fee_bps", limits.FeePercentage),
	)
	return nil
}

func (l *Ledger) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		TotalBalance:    l.total,
		ReservedAmount:  l.reserved,
		CollectedFees:   l.fees,
		AvailableAmount: l.available(),
		Limits:          l.limits,
	}
}

// mulDiv calcula a*b/c sem overflow intermediário (valores não negativos).
func mulDiv(a, b, c int64) int64 {
	if a <= 0 || b <= 0 || c <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return int64(^uint64(0) >> 1)
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > uint64(^uint64(0)>>1) {
		return int64(^uint64(0) >> 1)
	}
	return int64(q)
}
