package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/pkg/contracts/events"
)

var secret = []byte("s3cret")

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (m *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *memWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

type chanReader struct{ ch chan kafka.Message }

func (r chanReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func request(t *testing.T, id string, n uint32) []byte {
	t.Helper()
	b, err := json.Marshal(events.RandomnessRequested{RequestID: id, Game: "roulette", BetID: 3, NumValues: n, Attempt: 1})
	require.NoError(t, err)
	return b
}

func newSim(w *memWriter) *Simulator {
	s := NewSimulator(zap.NewNop(), nil, w, "vrf", secret)
	s.Values = func(n int) ([]uint64, error) {
		out := make([]uint64, n)
		for i := range out {
			out[i] = uint64(i + 1)
		}
		return out, nil
	}
	return s
}

func TestHandleDeliversSignedValues(t *testing.T) {
	w := &memWriter{}
	s := newSim(w)

	ok, err := s.Handle(context.Background(), request(t, "req-1", 3))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "roulette:3", string(w.msgs[0].Key))

	var f events.RandomnessFulfilled
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &f))
	assert.Equal(t, "req-1", f.RequestID)
	assert.Equal(t, "vrf", f.Provider)
	assert.Equal(t, []uint64{1, 2, 3}, f.Values)
	assert.NoError(t, f.Verify(secret))
	assert.ErrorIs(t, f.Verify([]byte("other")), events.ErrBadSignature)
}

func TestHandleDropsAndRejects(t *testing.T) {
	w := &memWriter{}
	s := newSim(w)
	s.DropPercent = 30
	dropped := 0
	s.OnDropped = func() { dropped++ }

	s.Roll = func() int { return 29 }
	ok, err := s.Handle(context.Background(), request(t, "req-1", 1))
	require.NoError(t, err)
	assert.False(t, ok)

	s.Roll = func() int { return 30 }
	ok, err = s.Handle(context.Background(), request(t, "req-2", 1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, dropped)

	_, err = s.Handle(context.Background(), []byte("{"))
	assert.Error(t, err)
	_, err = s.Handle(context.Background(), request(t, "req-3", 0))
	assert.Error(t, err)
	_, err = s.Handle(context.Background(), request(t, "req-4", MaxValues+1))
	assert.Error(t, err)

	s.Values = func(int) ([]uint64, error) { return nil, errors.New("entropy") }
	_, err = s.Handle(context.Background(), request(t, "req-5", 1))
	assert.Error(t, err)
	assert.Equal(t, 1, w.count())
}

func TestHandleStopsWaitingOnCancel(t *testing.T) {
	w := &memWriter{}
	s := newSim(w)
	s.Delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Handle(ctx, request(t, "req-1", 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, w.count())
}

func TestRunDeliversConcurrently(t *testing.T) {
	ch := make(chan kafka.Message, 2)
	ch <- kafka.Message{Value: request(t, "req-1", 1)}
	ch <- kafka.Message{Value: request(t, "req-2", 1)}
	w := &memWriter{}
	s := newSim(w)
	s.Reader = chanReader{ch: ch}
	s.Delay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCryptoValues(t *testing.T) {
	vs, err := CryptoValues(16)
	require.NoError(t, err)
	assert.Len(t, vs, 16)
}
