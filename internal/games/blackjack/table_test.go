package blackjack

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/betting"
	"github.com/jonabai/dcasino/internal/ledger"
	"github.com/jonabai/dcasino/internal/randomness"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

type nopProvider struct{}

func (nopProvider) RequestRandomness(context.Context, randomness.Request) error { return nil }

type harness struct {
	table  *Table
	broker *randomness.Broker
	ledger *ledger.Ledger
	views  []View
}

// downWallet recusa os próximos failPushes pagamentos
type downWallet struct{ failPushes int }

func (w *downWallet) Pull(context.Context, string, int64, string) error { return nil }

func (w *downWallet) Push(context.Context, string, int64, string) error {
	if w.failPushes > 0 {
		w.failPushes--
		return errors.New("wallet unavailable")
	}
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithCustody(t, nil)
}

func newHarnessWithCustody(t *testing.T, custody ledger.Custody) *harness {
	t.Helper()
	authz := auth.NewStatic().
		Grant("treasury", auth.CapTreasuryAdmin).
		Grant(GameName, auth.CapGameOperator, auth.CapRequester).
		Grant("broker", auth.CapResolver)
	l, err := ledger.New(ledger.Config{
		Limits:  ledger.Limits{MaxPayoutRatio: 5000, MinBet: 1, MaxBet: 1000, FeePercentage: 100},
		Custody: custody,
		Authz:   authz,
	})
	require.NoError(t, err)
	require.NoError(t, l.Deposit(context.Background(), "treasury", 100_000))

	b, err := randomness.NewBroker(randomness.Config{
		Provider: nopProvider{}, ProviderIdentity: "vrf", Identity: "broker", Authz: authz,
	})
	require.NoError(t, err)

	h := &harness{broker: b, ledger: l}
	tbl, err := NewTable(betting.Config{Ledger: l, Randomness: b, Authz: authz},
		WithValuesPerRound(4),
		WithRoundObserver(func(v View) { h.views = append(h.views, v) }))
	require.NoError(t, err)
	b.Register(GameName, tbl)
	h.table = tbl
	return h
}

func (h *harness) deal(t *testing.T, stake int64, values ...uint64) bet.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := h.table.PlaceBet(ctx, "alice", stake, nil)
	require.NoError(t, err)
	assert.Equal(t, InitialReserve(stake), rec.PotentialPayout)
	rec, err = h.broker.Fulfill(ctx, "vrf", rec.RequestID, values)
	require.NoError(t, err)
	return rec
}

func TestNaturalPushReturnsStakeWithoutFee(t *testing.T) {
	h := newHarness(t)
	rec := h.deal(t, 100, v(0, spades), v(0, hearts), v(12, spades), v(9, hearts))

	assert.Equal(t, bet.StatusWon, rec.Status)
	assert.Equal(t, int64(100), rec.ActualPayout)
	assert.Zero(t, rec.FeeCharged)

	snap := h.ledger.Snapshot()
	assert.Equal(t, int64(100_000), snap.TotalBalance)
	assert.Zero(t, snap.ReservedAmount)
}

func TestNaturalBlackjackPaysTwoAndAHalf(t *testing.T) {
	h := newHarness(t)
	rec := h.deal(t, 100, v(0, spades), v(4, hearts), v(12, spades), v(8, hearts))

	assert.Equal(t, bet.StatusWon, rec.Status)
	assert.Equal(t, int64(250), rec.ActualPayout)
	assert.Equal(t, int64(1), rec.FeeCharged)
	view, ok := h.table.Round(rec.ID)
	require.True(t, ok)
	assert.Equal(t, StateResolved, view.State)
}

func TestRoundViewWaitsForSettlement(t *testing.T) {
	h := newHarnessWithCustody(t, &downWallet{failPushes: 1})
	ctx := context.Background()
	rec, err := h.table.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)

	_, err = h.broker.Fulfill(ctx, "vrf", rec.RequestID, []uint64{v(0, spades), v(4, hearts), v(12, spades), v(8, hearts)})
	require.Error(t, err)
	_, ok := h.table.Round(rec.ID)
	assert.False(t, ok)
	assert.Empty(t, h.views)

	require.NoError(t, h.table.RequestResolution(ctx, GameName, rec.ID))
	got, err := h.table.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusWon, got.Status)
	assert.Equal(t, int64(250), got.ActualPayout)

	view, ok := h.table.Round(rec.ID)
	require.True(t, ok)
	assert.Equal(t, StateResolved, view.State)
	assert.Len(t, h.views, 1)
}

func TestPlayedRoundSettlesThroughLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// split dá 3 para a primeira mão e 10 para a segunda; dealer fica em 17
	rec := h.deal(t, 100, v(7, spades), v(9, hearts), v(7, hearts), v(6, hearts), v(2, spades), v(9, spades))
	assert.Equal(t, bet.StatusPending, rec.Status)
	assert.False(t, rec.AwaitingRandomness)

	_, err := h.table.CancelBet(ctx, "alice", rec.ID)
	assert.ErrorIs(t, err, ErrRoundInProgress)

	_, err = h.table.Hit(ctx, "bob", rec.ID)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	rec, err = h.table.Split(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), rec.Amount)
	assert.Equal(t, int64(250+200), rec.PotentialPayout)
	assert.Equal(t, int64(450), h.ledger.Snapshot().ReservedAmount)

	for rec.Status == bet.StatusPending {
		rec, err = h.table.Stand(ctx, "alice", rec.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, bet.StatusWon, rec.Status)
	assert.Equal(t, int64(200), rec.ActualPayout)
	assert.LessOrEqual(t, rec.ActualPayout, rec.PotentialPayout)

	snap := h.ledger.Snapshot()
	assert.Zero(t, snap.ReservedAmount)
	assert.Equal(t, rec.FeeCharged, snap.CollectedFees)
	assert.Equal(t, int64(2), rec.FeeCharged)

	_, err = h.table.Stand(ctx, "alice", rec.ID)
	assert.ErrorIs(t, err, betting.ErrAlreadyResolved)

	last := h.views[len(h.views)-1]
	assert.Equal(t, StateResolved, last.State)
	assert.Len(t, last.Hands, 2)
}

func TestInsuranceIsSideStake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.deal(t, 100, v(9, spades), v(0, hearts), v(8, spades), v(4, hearts), v(1, diamonds))

	rec, err := h.table.Insurance(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.Amount)
	assert.Equal(t, int64(50), rec.SideAmount)

	rec, err = h.table.Stand(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusWon, rec.Status)
	assert.Equal(t, int64(200), rec.ActualPayout)
	// taxa só sobre a stake principal
	assert.Equal(t, int64(1), rec.FeeCharged)
	assert.Zero(t, h.ledger.Snapshot().ReservedAmount)
}

func TestCancelBeforeDeal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, err := h.table.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)

	_, err = h.table.Hit(ctx, "alice", rec.ID)
	assert.ErrorIs(t, err, betting.ErrAwaitingRandomness)

	rec, err = h.table.CancelBet(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusCancelled, rec.Status)
	assert.Zero(t, h.ledger.Snapshot().ReservedAmount)
}

func TestPayloadIsRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.table.PlaceBet(context.Background(), "alice", 100, json.RawMessage(`{"side":"x"}`))
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.table.Play(context.Background(), "alice", 1, Action("surrender"))
	assert.ErrorIs(t, err, betting.ErrBetNotFound)
}
