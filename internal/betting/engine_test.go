package betting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/ledger"
	"github.com/jonabai/dcasino/internal/randomness"
	"github.com/jonabai/dcasino/internal/registry"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

const (
	treasury = "treasury"
	provider = "provider"
	brokerID = "broker"
	gameID   = "coin"
)

// coinGame paga 2x quando o valor sorteado é par.
type coinGame struct {
	overpay bool
}

func (coinGame) Name() string         { return gameID }
func (coinGame) ValuesNeeded() uint32 { return 1 }

func (coinGame) PotentialPayout(stake int64, payload json.RawMessage) (int64, error) {
	if string(payload) == `"bad"` {
		return 0, errs.ErrValidation
	}
	return stake * 2, nil
}

func (g coinGame) Resolve(_ context.Context, rec *bet.Record, values []uint64) (Outcome, error) {
	if g.overpay {
		return Outcome{Payout: rec.PotentialPayout + 1}, nil
	}
	if values[0]%2 == 0 {
		return Outcome{Payout: rec.Amount * 2}, nil
	}
	return Outcome{}, nil
}

type fakeProvider struct {
	mu   sync.Mutex
	reqs []randomness.Request
	fail bool
}

func (p *fakeProvider) RequestRandomness(_ context.Context, req randomness.Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("provider offline")
	}
	p.reqs = append(p.reqs, req)
	return nil
}

func (p *fakeProvider) last() randomness.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

type recordingPublisher struct {
	NopPublisher
	mu       sync.Mutex
	resolved []bet.Record
	order    []string
}

func (p *recordingPublisher) BetPlaced(_ context.Context, rec bet.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = append(p.order, "placed:"+string(rec.Status))
}

func (p *recordingPublisher) BetResolved(_ context.Context, rec bet.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = append(p.resolved, rec)
	p.order = append(p.order, "resolved:"+string(rec.Status))
}

// flakyCustody recusa os próximos failPushes envios para fora
type flakyCustody struct {
	mu         sync.Mutex
	failPushes int
	pushed     []int64
}

func (c *flakyCustody) Pull(context.Context, string, int64, string) error { return nil }

func (c *flakyCustody) Push(_ context.Context, _ string, amount int64, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPushes > 0 {
		c.failPushes--
		return errors.New("wallet unavailable")
	}
	c.pushed = append(c.pushed, amount)
	return nil
}

type fixture struct {
	ledger   *ledger.Ledger
	broker   *randomness.Broker
	provider *fakeProvider
	registry *registry.Memory
	engine   *Engine
	pub      *recordingPublisher
}

func newFixture(t *testing.T, game Game) *fixture {
	t.Helper()
	return newFixtureWithCustody(t, game, nil)
}

func newFixtureWithCustody(t *testing.T, game Game, custody ledger.Custody) *fixture {
	t.Helper()
	authz := auth.NewStatic().
		Grant(treasury, auth.CapTreasuryAdmin).
		Grant(gameID, auth.CapGameOperator, auth.CapRequester).
		Grant(brokerID, auth.CapResolver).
		Grant("scheduler", auth.CapRequester)

	l, err := ledger.New(ledger.Config{
		Limits:  ledger.Limits{MaxPayoutRatio: 5000, MinBet: 10, MaxBet: 1000, FeePercentage: 100},
		Custody: custody,
		Authz:   authz,
	})
	require.NoError(t, err)
	require.NoError(t, l.Deposit(context.Background(), treasury, 100_000))

	p := &fakeProvider{}
	b, err := randomness.NewBroker(randomness.Config{Provider: p, ProviderIdentity: provider, Identity: brokerID, Authz: authz})
	require.NoError(t, err)

	reg := registry.NewMemory()
	reg.Register(gameID)

	pub := &recordingPublisher{}
	e, err := NewEngine(Config{Game: game, Ledger: l, Randomness: b, Registry: reg, Authz: authz, Publisher: pub})
	require.NoError(t, err)
	b.Register(gameID, e)

	return &fixture{ledger: l, broker: b, provider: p, registry: reg, engine: e, pub: pub}
}

func TestPlaceBetReservesAndRequests(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()

	rec, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.ID)
	assert.Equal(t, bet.StatusPending, rec.Status)
	assert.Equal(t, int64(200), rec.PotentialPayout)
	assert.True(t, rec.AwaitingRandomness)
	assert.NotEmpty(t, rec.RequestID)

	snap := f.ledger.Snapshot()
	assert.Equal(t, int64(100_100), snap.TotalBalance)
	assert.Equal(t, int64(200), snap.ReservedAmount)

	req := f.provider.last()
	assert.Equal(t, rec.RequestID, req.ID)
	assert.Equal(t, gameID, req.Game)
	assert.Equal(t, rec.ID, req.BetID)

	assert.Equal(t, int64(100), f.registry.Wagered(gameID))
	assert.Len(t, f.engine.PendingBets(0, nil), 1)
}

func TestPlaceBetValidation(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()

	_, err := f.engine.PlaceBet(ctx, "alice", 5, nil)
	assert.ErrorIs(t, err, ErrStakeOutOfRange)
	_, err = f.engine.PlaceBet(ctx, "alice", 1001, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.engine.PlaceBet(ctx, "alice", 100, json.RawMessage(`"bad"`))
	assert.ErrorIs(t, err, errs.ErrValidation)

	f.registry.SetActive(gameID, false)
	_, err = f.engine.PlaceBet(ctx, "alice", 100, nil)
	assert.ErrorIs(t, err, ErrGameInactive)

	assert.Equal(t, int64(0), f.ledger.Snapshot().ReservedAmount)
}

func TestPlaceBetWithoutCoverage(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()
	// disponível 3_000, cobertura 1_500
	require.NoError(t, f.ledger.Withdraw(ctx, treasury, treasury, 97_000))

	_, err := f.engine.PlaceBet(ctx, "alice", 1000, nil)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCoverage)
	assert.Empty(t, f.engine.PendingBets(0, nil))
}

func TestCancelRoundTrip(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()
	before := f.ledger.Snapshot().AvailableAmount

	rec, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)

	_, err = f.engine.CancelBet(ctx, "bob", rec.ID)
	assert.ErrorIs(t, err, ErrNotBetOwner)

	cancelled, err := f.engine.CancelBet(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusCancelled, cancelled.Status)
	assert.Equal(t, int64(100), cancelled.ActualPayout)
	assert.Zero(t, cancelled.FeeCharged)
	assert.NotNil(t, cancelled.ResolvedAt)

	snap := f.ledger.Snapshot()
	assert.Equal(t, before, snap.AvailableAmount)
	assert.Equal(t, int64(0), snap.ReservedAmount)
	assert.Equal(t, int64(0), snap.CollectedFees)

	_, err = f.engine.CancelBet(ctx, "alice", rec.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Empty(t, f.engine.PendingBets(0, nil))

	// entrega tardia não ressuscita a aposta
	_, err = f.broker.Fulfill(ctx, provider, rec.RequestID, []uint64{2})
	assert.ErrorIs(t, err, errs.ErrAlreadyResolved)
}

func TestResolveThroughBroker(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()

	won, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)
	lost, err := f.engine.PlaceBet(ctx, "bob", 100, nil)
	require.NoError(t, err)

	rec, err := f.broker.Fulfill(ctx, provider, won.RequestID, []uint64{4})
	require.NoError(t, err)
	assert.Equal(t, bet.StatusWon, rec.Status)
	assert.Equal(t, int64(200), rec.ActualPayout)
	assert.Equal(t, int64(1), rec.FeeCharged)
	assert.LessOrEqual(t, rec.ActualPayout, rec.PotentialPayout)

	rec, err = f.broker.Fulfill(ctx, provider, lost.RequestID, []uint64{3})
	require.NoError(t, err)
	assert.Equal(t, bet.StatusLost, rec.Status)
	assert.Zero(t, rec.ActualPayout)

	snap := f.ledger.Snapshot()
	assert.Equal(t, int64(0), snap.ReservedAmount)
	assert.Equal(t, int64(2), snap.CollectedFees)
	assert.Equal(t, int64(100_000+200-200-2), snap.TotalBalance)

	_, err = f.broker.Fulfill(ctx, provider, won.RequestID, []uint64{4})
	assert.ErrorIs(t, err, randomness.ErrAlreadyFulfilled)
	assert.Len(t, f.pub.resolved, 2)
}

func TestResolveRequiresResolverCapability(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()
	rec, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)

	_, err = f.engine.ResolveBet(ctx, "alice", rec.ID, []uint64{2})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.engine.ResolveBet(ctx, brokerID, 99, []uint64{2})
	assert.ErrorIs(t, err, ErrBetNotFound)

	_, err = f.engine.ResolveBet(ctx, brokerID, rec.ID, nil)
	assert.ErrorIs(t, err, ErrNotEnoughValues)
}

func TestPayoutAboveReservationIsRejected(t *testing.T) {
	f := newFixture(t, coinGame{overpay: true})
	ctx := context.Background()
	rec, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)

	_, err = f.engine.ResolveBet(ctx, brokerID, rec.ID, []uint64{2})
	assert.ErrorIs(t, err, ErrPayoutExceedsPotential)

	got, err := f.engine.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusPending, got.Status)
	assert.False(t, got.AwaitingRandomness)
	assert.True(t, got.SettlementPending)
	assert.Equal(t, int64(200), f.ledger.Snapshot().ReservedAmount)

	// o resultado ficou decidido: nem nova entrega nem cancelamento
	_, err = f.engine.ResolveBet(ctx, brokerID, rec.ID, []uint64{3})
	assert.ErrorIs(t, err, ErrNotAwaitingRandomness)
	_, err = f.engine.CancelBet(ctx, "alice", rec.ID)
	assert.ErrorIs(t, err, ErrOutcomeDetermined)
}

func TestFailedPayoutResettlesFromDeliveredValues(t *testing.T) {
	custody := &flakyCustody{failPushes: 1}
	f := newFixtureWithCustody(t, coinGame{}, custody)
	ctx := context.Background()

	rec, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)

	_, err = f.broker.Fulfill(ctx, provider, rec.RequestID, []uint64{4})
	require.Error(t, err)
	got, err := f.engine.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusPending, got.Status)
	assert.True(t, got.SettlementPending)
	assert.Empty(t, f.pub.resolved)

	// o request continua atendido: outra entrega não muda o resultado
	_, err = f.broker.Fulfill(ctx, provider, rec.RequestID, []uint64{3})
	assert.ErrorIs(t, err, randomness.ErrAlreadyFulfilled)
	assert.Empty(t, f.broker.Outstanding())

	require.NoError(t, f.engine.RequestResolution(ctx, "scheduler", rec.ID))
	got, err = f.engine.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusWon, got.Status)
	assert.Equal(t, int64(200), got.ActualPayout)
	assert.False(t, got.SettlementPending)
	assert.Equal(t, []int64{200}, custody.pushed)
	assert.Len(t, f.provider.reqs, 1)
	assert.ErrorIs(t, f.engine.RequestResolution(ctx, "scheduler", rec.ID), ErrAlreadyResolved)
}

// syncProvider entrega os valores antes de RequestRandomness retornar
type syncProvider struct {
	broker *randomness.Broker
	value  uint64
}

func (p *syncProvider) RequestRandomness(ctx context.Context, req randomness.Request) error {
	_, err := p.broker.Fulfill(ctx, provider, req.ID, []uint64{p.value})
	return err
}

func TestPlacedEventPrecedesSynchronousResolution(t *testing.T) {
	authz := auth.NewStatic().
		Grant(treasury, auth.CapTreasuryAdmin).
		Grant(gameID, auth.CapGameOperator, auth.CapRequester).
		Grant(brokerID, auth.CapResolver)
	l, err := ledger.New(ledger.Config{
		Limits: ledger.Limits{MaxPayoutRatio: 5000, MinBet: 10, MaxBet: 1000},
		Authz:  authz,
	})
	require.NoError(t, err)
	require.NoError(t, l.Deposit(context.Background(), treasury, 10_000))

	p := &syncProvider{value: 4}
	b, err := randomness.NewBroker(randomness.Config{Provider: p, ProviderIdentity: provider, Identity: brokerID, Authz: authz})
	require.NoError(t, err)
	p.broker = b

	pub := &recordingPublisher{}
	e, err := NewEngine(Config{Game: coinGame{}, Ledger: l, Randomness: b, Authz: authz, Publisher: pub})
	require.NoError(t, err)
	b.Register(gameID, e)

	rec, err := e.PlaceBet(context.Background(), "alice", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusWon, rec.Status)
	assert.NotEmpty(t, rec.RequestID)
	assert.Equal(t, []string{"placed:PENDING", "resolved:WON"}, pub.order)
}

func TestFailedRequestIsRetriedByResolution(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()

	f.provider.fail = true
	rec, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)
	assert.Empty(t, rec.RequestID)
	assert.True(t, rec.AwaitingRandomness)

	assert.Error(t, f.engine.RequestResolution(ctx, "scheduler", rec.ID))

	f.provider.fail = false
	require.NoError(t, f.engine.RequestResolution(ctx, "scheduler", rec.ID))
	got, err := f.engine.Get(rec.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.RequestID)

	// segunda chamada reaproveita o mesmo request
	require.NoError(t, f.engine.RequestResolution(ctx, "scheduler", rec.ID))
	assert.Equal(t, got.RequestID, f.provider.last().ID)
	req, err := f.broker.Get(got.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 2, req.Attempts)

	assert.ErrorIs(t, f.engine.RequestResolution(ctx, "alice", rec.ID), errs.ErrUnauthorized)
}

func TestUpdateRaisesAndSettles(t *testing.T) {
	f := newFixture(t, deferredGame{})
	ctx := context.Background()

	rec, err := f.engine.PlaceBet(ctx, "alice", 100, nil)
	require.NoError(t, err)

	_, err = f.engine.Update(ctx, "alice", rec.ID, func(*Txn) error { return nil })
	assert.ErrorIs(t, err, ErrAwaitingRandomness)

	rec, err = f.engine.ResolveBet(ctx, brokerID, rec.ID, []uint64{1})
	require.NoError(t, err)
	assert.Equal(t, bet.StatusPending, rec.Status)
	assert.False(t, rec.AwaitingRandomness)

	_, err = f.engine.Update(ctx, "bob", rec.ID, func(*Txn) error { return nil })
	assert.ErrorIs(t, err, ErrNotBetOwner)

	rec, err = f.engine.Update(ctx, "alice", rec.ID, func(t *Txn) error {
		return t.Raise(100, 200, false)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), rec.Amount)
	assert.Equal(t, int64(400), rec.PotentialPayout)
	assert.Equal(t, int64(400), f.ledger.Snapshot().ReservedAmount)

	rec, err = f.engine.Update(ctx, "alice", rec.ID, func(t *Txn) error {
		t.Settle(Outcome{Payout: 400})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, bet.StatusWon, rec.Status)
	assert.Equal(t, int64(2), rec.FeeCharged)
	assert.Equal(t, int64(0), f.ledger.Snapshot().ReservedAmount)
}

func TestPendingBetsOrderAndLimit(t *testing.T) {
	f := newFixture(t, coinGame{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.engine.PlaceBet(ctx, "alice", 10, nil)
		require.NoError(t, err)
	}
	_, err := f.engine.CancelBet(ctx, "alice", 2)
	require.NoError(t, err)

	got := f.engine.PendingBets(3, nil)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 3, 4}, []uint64{got[0].ID, got[1].ID, got[2].ID})
	assert.Len(t, f.engine.PendingBets(0, nil), 4)
}

func TestPendingBetsFiltersBeforeLimit(t *testing.T) {
	f := newFixture(t, deferredGame{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		rec, err := f.engine.PlaceBet(ctx, "alice", 10, nil)
		require.NoError(t, err)
		_, err = f.engine.ResolveBet(ctx, brokerID, rec.ID, []uint64{1})
		require.NoError(t, err)
	}
	waiting, err := f.engine.PlaceBet(ctx, "alice", 10, nil)
	require.NoError(t, err)

	awaiting := func(rec bet.Record) bool { return rec.AwaitingRandomness }
	got := f.engine.PendingBets(2, awaiting)
	require.Len(t, got, 1)
	assert.Equal(t, waiting.ID, got[0].ID)
	assert.Len(t, f.engine.PendingBets(2, nil), 2)
}

// deferredGame deixa a aposta aberta depois da primeira entrega.
type deferredGame struct{}

func (deferredGame) Name() string         { return gameID }
func (deferredGame) ValuesNeeded() uint32 { return 1 }

func (deferredGame) PotentialPayout(stake int64, _ json.RawMessage) (int64, error) {
	return stake * 2, nil
}

func (deferredGame) Resolve(context.Context, *bet.Record, []uint64) (Outcome, error) {
	return Outcome{Deferred: true}, nil
}
