package provider

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/pkg/contracts/events"
)

// MaxValues limita o tamanho de um lote pedido
const MaxValues = 1024

// CryptoValues gera n valores uniformes de 64 bits a partir de crypto/rand
func CryptoValues(n int) ([]uint64, error) {
	buf := make([]byte, 8*n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(buf[8*i:])
	}
	return out, nil
}

// Simulator faz o papel do provedor externo: lê randomness_requests e,
// depois de um atraso, publica a entrega assinada em randomness_fulfillments.
// Uma fração configurável dos pedidos é descartada para exercitar o scheduler.
type Simulator struct {
	Log         *zap.Logger
	Reader      kafka.MessageReader
	Writer      kafka.MessageWriter
	Identity    string
	Secret      []byte
	Delay       time.Duration
	DropPercent int

	Values func(n int) ([]uint64, error)
	Roll   func() int // 0..99
	Now    func() time.Time

	OnRequest   func()
	OnDelivered func()
	OnDropped   func()
	OnError     func(stage string)

	wg sync.WaitGroup
}

func NewSimulator(log *zap.Logger, r kafka.MessageReader, w kafka.MessageWriter, identity string, secret []byte) *Simulator {
	return &Simulator{
		Log:      log,
		Reader:   r,
		Writer:   w,
		Identity: identity,
		Secret:   secret,
		Values:   CryptoValues,
		Roll:     func() int { return mrand.Intn(100) },
		Now:      time.Now,
	}
}

// Fulfill gera e assina a entrega de um pedido
func (s *Simulator) Fulfill(req events.RandomnessRequested) (events.RandomnessFulfilled, error) {
	if req.RequestID == "" || req.NumValues == 0 || req.NumValues > MaxValues {
		return events.RandomnessFulfilled{}, fmt.Errorf("invalid request %q for %d values", req.RequestID, req.NumValues)
	}
	values, err := s.Values(int(req.NumValues))
	if err != nil {
		return events.RandomnessFulfilled{}, err
	}
	f := events.RandomnessFulfilled{
		RequestID: req.RequestID,
		Provider:  s.Identity,
		Values:    values,
		TsUnixMs:  s.Now().UnixMilli(),
	}
	f.Sign(s.Secret)
	return f, nil
}

// Handle processa um pedido: descarta, ou espera o atraso e publica a entrega.
// Devolve false quando o pedido foi descartado.
func (s *Simulator) Handle(ctx context.Context, value []byte) (bool, error) {
	var req events.RandomnessRequested
	if err := json.Unmarshal(value, &req); err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}
	if s.DropPercent > 0 && s.Roll() < s.DropPercent {
		s.Log.Info("randomness request dropped",
			zap.String("request_id", req.RequestID), zap.Int("attempt", req.Attempt))
		if s.OnDropped != nil {
			s.OnDropped()
		}
		return false, nil
	}
	f, err := s.Fulfill(req)
	if err != nil {
		return false, err
	}

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}

	b, err := json.Marshal(f)
	if err != nil {
		return false, err
	}
	key := req.Game + ":" + strconv.FormatUint(req.BetID, 10)
	if err := kafka.WriteJSON(ctx, s.Writer, key, b); err != nil {
		return false, fmt.Errorf("publish fulfillment: %w", err)
	}
	s.Log.Debug("randomness delivered",
		zap.String("request_id", req.RequestID),
		zap.String("game", req.Game),
		zap.Uint64("bet_id", req.BetID),
		zap.Int("values", len(f.Values)),
	)
	if s.OnDelivered != nil {
		s.OnDelivered()
	}
	return true, nil
}

// Run consome os pedidos; cada um é atendido na sua goroutine para que o atraso
// de um não segure os demais. Ao cancelar, espera as entregas em curso.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.wg.Wait()
	for {
		_, _, value, err := kafka.ReadNext(ctx, s.Reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Log.Warn("kafka read failed", zap.Error(err))
			s.onError("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if s.OnRequest != nil {
			s.OnRequest()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.Handle(ctx, value); err != nil && ctx.Err() == nil {
				s.Log.Warn("randomness request failed", zap.Error(err))
				s.onError("handle")
			}
		}()
	}
}

func (s *Simulator) onError(stage string) {
	if s.OnError != nil {
		s.OnError(stage)
	}
}
