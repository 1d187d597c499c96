package randomness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

type stubProvider struct {
	mu   sync.Mutex
	got  []Request
	fail bool
}

func (s *stubProvider) RequestRandomness(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("unavailable")
	}
	s.got = append(s.got, req)
	return nil
}

type stubResolver struct {
	mu     sync.Mutex
	calls  int
	values []uint64
	caller string
	err    error
}

func (s *stubResolver) ResolveBet(_ context.Context, caller string, id uint64, values []uint64) (bet.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.values = values
	s.caller = caller
	if s.err != nil {
		return bet.Record{}, s.err
	}
	return bet.Record{ID: id, Status: bet.StatusWon}, nil
}

func newTestBroker(t *testing.T, p Provider) (*Broker, *stubResolver) {
	t.Helper()
	seq := 0
	authz := auth.NewStatic().Grant("roulette", auth.CapRequester)
	b, err := NewBroker(Config{
		Provider:         p,
		ProviderIdentity: "vrf",
		Identity:         "broker",
		Authz:            authz,
		NewID: func() string {
			seq++
			return fmt.Sprintf("req-%d", seq)
		},
	})
	require.NoError(t, err)
	r := &stubResolver{}
	b.Register("roulette", r)
	return b, r
}

func TestRequestIsIdempotentPerBet(t *testing.T) {
	p := &stubProvider{}
	b, _ := newTestBroker(t, p)
	ctx := context.Background()

	id1, err := b.Request(ctx, "roulette", "roulette", 7, 1)
	require.NoError(t, err)
	id2, err := b.Request(ctx, "roulette", "roulette", 7, 1)
	require.NoError(t, err)
	id3, err := b.Request(ctx, "roulette", "roulette", 8, 1)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Len(t, p.got, 2)
	assert.Len(t, b.Outstanding(), 2)
}

func TestRequestValidation(t *testing.T) {
	b, _ := newTestBroker(t, &stubProvider{})
	ctx := context.Background()

	_, err := b.Request(ctx, "stranger", "roulette", 1, 1)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = b.Request(ctx, "roulette", "poker", 1, 1)
	assert.ErrorIs(t, err, ErrUnknownGame)
	_, err = b.Request(ctx, "roulette", "roulette", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidValueAmount)
}

func TestProviderFailureDropsRequest(t *testing.T) {
	p := &stubProvider{fail: true}
	b, _ := newTestBroker(t, p)
	ctx := context.Background()

	_, err := b.Request(ctx, "roulette", "roulette", 1, 1)
	assert.ErrorIs(t, err, ErrProviderRejected)
	assert.Empty(t, b.Outstanding())

	p.fail = false
	id, err := b.Request(ctx, "roulette", "roulette", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "req-2", id)
}

func TestFulfillExactlyOnce(t *testing.T) {
	b, r := newTestBroker(t, &stubProvider{})
	ctx := context.Background()

	id, err := b.Request(ctx, "roulette", "roulette", 3, 1)
	require.NoError(t, err)

	_, err = b.Fulfill(ctx, "mallory", id, []uint64{17})
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.ErrorIs(t, err, errs.ErrExternalDelivery)

	_, err = b.Fulfill(ctx, "vrf", "missing", []uint64{17})
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = b.Fulfill(ctx, "vrf", id, nil)
	assert.ErrorIs(t, err, ErrNoValues)

	rec, err := b.Fulfill(ctx, "vrf", id, []uint64{17})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.ID)
	assert.Equal(t, []uint64{17}, r.values)
	assert.Equal(t, "broker", r.caller)

	_, err = b.Fulfill(ctx, "vrf", id, []uint64{18})
	assert.ErrorIs(t, err, ErrAlreadyFulfilled)
	assert.Equal(t, 1, r.calls)

	req, err := b.Get(id)
	require.NoError(t, err)
	assert.True(t, req.Fulfilled)
	assert.NotNil(t, req.FulfilledAt)

	// o par continua apontando para o mesmo request
	again, err := b.Request(ctx, "roulette", "roulette", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestConcurrentDuplicateDelivery(t *testing.T) {
	b, r := newTestBroker(t, &stubProvider{})
	ctx := context.Background()
	id, err := b.Request(ctx, "roulette", "roulette", 1, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Fulfill(ctx, "vrf", id, []uint64{1}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, r.calls)
}

func TestReissue(t *testing.T) {
	p := &stubProvider{}
	b, _ := newTestBroker(t, p)
	ctx := context.Background()
	id, err := b.Request(ctx, "roulette", "roulette", 1, 2)
	require.NoError(t, err)

	require.NoError(t, b.Reissue(ctx, "roulette", id))
	require.Len(t, p.got, 2)
	assert.Equal(t, id, p.got[1].ID)
	assert.Equal(t, 2, p.got[1].Attempts)

	assert.ErrorIs(t, b.Reissue(ctx, "roulette", "nope"), ErrRequestNotFound)
	assert.ErrorIs(t, b.Reissue(ctx, "stranger", id), errs.ErrUnauthorized)

	_, err = b.Fulfill(ctx, "vrf", id, []uint64{1, 2})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Reissue(ctx, "roulette", id), ErrAlreadyFulfilled)
}

func TestFailedResolutionKeepsRequestFulfilled(t *testing.T) {
	p := &stubProvider{}
	b, r := newTestBroker(t, p)
	ctx := context.Background()
	id, err := b.Request(ctx, "roulette", "roulette", 5, 1)
	require.NoError(t, err)

	r.err = errors.New("settlement failed")
	_, err = b.Fulfill(ctx, "vrf", id, []uint64{9})
	require.Error(t, err)
	req, err := b.Get(id)
	require.NoError(t, err)
	assert.True(t, req.Fulfilled)
	assert.Empty(t, b.Outstanding())

	// uma segunda entrega não pode trocar os valores
	r.err = nil
	_, err = b.Fulfill(ctx, "vrf", id, []uint64{0})
	assert.ErrorIs(t, err, ErrAlreadyFulfilled)
	assert.ErrorIs(t, b.Reissue(ctx, "roulette", id), ErrAlreadyFulfilled)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, []uint64{9}, r.values)
}

func TestShortDeliveryIsRejected(t *testing.T) {
	b, r := newTestBroker(t, &stubProvider{})
	ctx := context.Background()
	id, err := b.Request(ctx, "roulette", "roulette", 8, 3)
	require.NoError(t, err)

	_, err = b.Fulfill(ctx, "vrf", id, []uint64{1, 2})
	assert.ErrorIs(t, err, ErrTooFewValues)
	assert.Zero(t, r.calls)
	assert.Len(t, b.Outstanding(), 1)

	_, err = b.Fulfill(ctx, "vrf", id, []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
}

func TestResolvedBetKeepsRequestClosed(t *testing.T) {
	b, r := newTestBroker(t, &stubProvider{})
	ctx := context.Background()
	id, err := b.Request(ctx, "roulette", "roulette", 6, 1)
	require.NoError(t, err)

	r.err = fmt.Errorf("%w: cancelled", errs.ErrAlreadyResolved)
	_, err = b.Fulfill(ctx, "vrf", id, []uint64{9})
	assert.ErrorIs(t, err, errs.ErrAlreadyResolved)
	assert.Empty(t, b.Outstanding())
	assert.ErrorIs(t, b.Reissue(ctx, "roulette", id), ErrAlreadyFulfilled)
}
