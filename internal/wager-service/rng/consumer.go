package rng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/betting"
	"github.com/jonabai/dcasino/internal/randomness"
	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/pkg/contracts/events"
)

// Fulfiller é a entrada de entregas do broker
type Fulfiller interface {
	Fulfill(ctx context.Context, caller, requestID string, values []uint64) (bet.Record, error)
}

var ErrWrongProvider = errors.New("fulfillment from unexpected provider")

// Consumer lê randomness_fulfillments, confere a assinatura e entrega ao broker.
// Entregas duplicadas ou tardias são descartadas sem erro.
type Consumer struct {
	Log      *zap.Logger
	Reader   kafka.MessageReader
	Broker   Fulfiller
	Provider string
	Secret   []byte
	DLQ      kafka.MessageWriter

	OnConsumed  func()
	OnFulfilled func(rec bet.Record)
	OnDiscarded func(reason string)
	OnError     func(stage string)
}

// Outcome de Handle
const (
	Fulfilled = "fulfilled"
	Discarded = "discarded"
)

// Handle processa uma mensagem. Devolve erro apenas para mensagens que vão à DLQ.
func (c *Consumer) Handle(ctx context.Context, value []byte) (string, error) {
	var f events.RandomnessFulfilled
	if err := json.Unmarshal(value, &f); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if f.Provider != c.Provider {
		return "", fmt.Errorf("%w: %q", ErrWrongProvider, f.Provider)
	}
	if err := f.Verify(c.Secret); err != nil {
		return "", err
	}

	rec, err := c.Broker.Fulfill(ctx, c.Provider, f.RequestID, f.Values)
	switch {
	case err == nil:
		if c.OnFulfilled != nil {
			c.OnFulfilled(rec)
		}
		return Fulfilled, nil
	case errors.Is(err, randomness.ErrAlreadyFulfilled),
		errors.Is(err, randomness.ErrRequestNotFound),
		errors.Is(err, betting.ErrAlreadyResolved):
		c.Log.Info("fulfillment discarded",
			zap.String("request_id", f.RequestID), zap.Error(err))
		if c.OnDiscarded != nil {
			c.OnDiscarded(reason(err))
		}
		return Discarded, nil
	default:
		return "", fmt.Errorf("fulfill %s: %w", f.RequestID, err)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, randomness.ErrAlreadyFulfilled):
		return "duplicate"
	case errors.Is(err, randomness.ErrRequestNotFound):
		return "unknown_request"
	default:
		return "already_resolved"
	}
}

// Run inicia o loop principal de consumo das entregas
func (c *Consumer) Run(ctx context.Context) error {
	for {
		_, key, value, err := kafka.ReadNext(ctx, c.Reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			c.Log.Warn("kafka read failed", zap.Error(err))
			c.onError("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if c.OnConsumed != nil {
			c.OnConsumed()
		}

		if _, err := c.Handle(ctx, value); err != nil {
			c.Log.Warn("fulfillment rejected", zap.ByteString("key", key), zap.Error(err))
			c.onError("handle")
			if c.DLQ != nil {
				if derr := kafka.WriteJSON(ctx, c.DLQ, string(key), value); derr != nil {
					c.Log.Error("dlq write failed", zap.Error(derr))
					c.onError("dlq")
				}
			}
		}
	}
}

func (c *Consumer) onError(stage string) {
	if c.OnError != nil {
		c.OnError(stage)
	}
}
