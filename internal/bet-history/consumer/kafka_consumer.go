package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/pkg/contracts/events"
)

// Store é o repositório de histórico
type Store interface {
	SaveBetEvent(ctx context.Context, eventKey string, ev events.BetEvent) (bool, error)
	SaveMovement(ctx context.Context, eventKey string, m events.LedgerMovement) (bool, error)
}

// Processor consome os tópicos de apostas e de movimentos do ledger e grava
// tudo no Postgres. Mensagens que não puderam ser gravadas vão para a DLQ.
type Processor struct {
	Log            *zap.Logger
	Reader         kafka.MessageReader
	Store          Store
	DLQ            kafka.MessageWriter
	MovementsTopic string

	OnConsumed  func()
	OnPersisted func(kind string)
	OnDuplicate func()
	OnError     func(stage string)
}

// EventKey identifica uma mensagem de forma única
func EventKey(m kafka.Message) string {
	return fmt.Sprintf("%s:%d:%d", m.Topic, m.Partition, m.Offset)
}

// Handle grava uma mensagem. Devolve o estágio que falhou junto com o erro.
func (p *Processor) Handle(ctx context.Context, m kafka.Message) (string, error) {
	key := EventKey(m)
	var (
		kind    string
		written bool
		err     error
	)
	if m.Topic == p.MovementsTopic {
		var mv events.LedgerMovement
		if err := json.Unmarshal(m.Value, &mv); err != nil {
			return "decode", err
		}
		kind = "movement"
		written, err = p.Store.SaveMovement(ctx, key, mv)
	} else {
		var ev events.BetEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return "decode", err
		}
		if ev.Bet.Ref == "" {
			return "decode", fmt.Errorf("bet event without ref on %s", key)
		}
		kind = "bet"
		written, err = p.Store.SaveBetEvent(ctx, key, ev)
	}
	if err != nil {
		return "db", err
	}
	if !written {
		if p.OnDuplicate != nil {
			p.OnDuplicate()
		}
		return "", nil
	}
	if p.OnPersisted != nil {
		p.OnPersisted(kind)
	}
	return "", nil
}

// Run inicia o loop de consumo
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.onError("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		stage, err := p.Handle(ctx, m)
		if err == nil {
			continue
		}
		p.Log.Warn("history message rejected",
			zap.String("stage", stage),
			zap.String("event_key", EventKey(m)),
			zap.Error(err),
		)
		p.onError(stage)
		p.deadLetter(ctx, m, stage, err)
	}
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, stage string, cause error) {
	if p.DLQ == nil {
		return
	}
	msg := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(EventKey(m))},
			{Key: "stage", Value: []byte(stage)},
			{Key: "error", Value: []byte(cause.Error())},
		},
		Time: time.Now(),
	}
	if err := p.DLQ.WriteMessages(ctx, msg); err != nil {
		p.Log.Error("dlq write failed", zap.Error(err))
		p.onError("dlq")
	}
}

func (p *Processor) onError(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
