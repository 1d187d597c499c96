package producer

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/ledger"
	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/pkg/contracts/events"
)

// Writers agrupa um writer por tópico
type Writers struct {
	BetPlaced       kafka.MessageWriter
	BetUpdated      kafka.MessageWriter
	BetResolved     kafka.MessageWriter
	BetCancelled    kafka.MessageWriter
	LedgerMovements kafka.MessageWriter
}

// KafkaPublisher publica o ciclo de vida das apostas e os lançamentos do ledger.
// Falhas de publicação não desfazem a operação: são logadas e contadas.
type KafkaPublisher struct {
	Log     *zap.Logger
	Writers Writers
	Timeout time.Duration
	Now     func() time.Time

	OnPublished func(kind string)
	OnError     func(kind string)
}

func NewKafkaPublisher(log *zap.Logger, w Writers) *KafkaPublisher {
	return &KafkaPublisher{Log: log, Writers: w, Timeout: 2 * time.Second, Now: time.Now}
}

// FromRecord converte a aposta para o contrato de evento
func FromRecord(rec bet.Record) events.Bet {
	return events.Bet{
		BetID:              rec.ID,
		Ref:                rec.Ref(),
		Game:               rec.Game,
		Player:             rec.Player,
		Amount:             rec.Amount,
		SideAmount:         rec.SideAmount,
		PotentialPayout:    rec.PotentialPayout,
		ActualPayout:       rec.ActualPayout,
		FeeCharged:         rec.FeeCharged,
		Status:             string(rec.Status),
		Payload:            rec.Payload,
		RequestID:          rec.RequestID,
		AwaitingRandomness: rec.AwaitingRandomness,
		CreatedAt:          rec.CreatedAt,
		ResolvedAt:         rec.ResolvedAt,
	}
}

func (p *KafkaPublisher) BetPlaced(ctx context.Context, rec bet.Record) {
	p.publishBet(ctx, p.Writers.BetPlaced, events.BetPlacedType, rec)
}

func (p *KafkaPublisher) BetUpdated(ctx context.Context, rec bet.Record) {
	p.publishBet(ctx, p.Writers.BetUpdated, events.BetUpdatedType, rec)
}

func (p *KafkaPublisher) BetResolved(ctx context.Context, rec bet.Record) {
	p.publishBet(ctx, p.Writers.BetResolved, events.BetResolvedType, rec)
}

func (p *KafkaPublisher) BetCancelled(ctx context.Context, rec bet.Record) {
	p.publishBet(ctx, p.Writers.BetCancelled, events.BetCancelledType, rec)
}

func (p *KafkaPublisher) publishBet(ctx context.Context, w kafka.MessageWriter, kind string, rec bet.Record) {
	ev := events.BetEvent{Type: kind, Bet: FromRecord(rec), TsUnixMs: p.Now().UnixMilli()}
	p.publish(ctx, w, kind, rec.Ref(), ev)
}

// Movement é o ledger.Observer: chamado depois que o lock do ledger é liberado
func (p *KafkaPublisher) Movement(m ledger.Movement) {
	ev := events.LedgerMovement{
		Kind:           string(m.Kind),
		Account:        m.Account,
		Amount:         m.Amount,
		Ref:            m.Ref,
		TotalBalance:   m.TotalBalance,
		ReservedAmount: m.ReservedAmount,
		CollectedFees:  m.CollectedFees,
		At:             m.At,
	}
	p.publish(context.Background(), p.Writers.LedgerMovements, "movement", m.Ref, ev)
}

func (p *KafkaPublisher) publish(ctx context.Context, w kafka.MessageWriter, kind, key string, v any) {
	if w == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		p.fail(kind, key, err)
		return
	}
	// o contexto da requisição pode ser cancelado antes da escrita terminar
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Timeout)
	defer cancel()
	if err := kafka.WriteJSON(wctx, w, key, b); err != nil {
		p.fail(kind, key, err)
		return
	}
	if p.OnPublished != nil {
		p.OnPublished(kind)
	}
}

func (p *KafkaPublisher) fail(kind, key string, err error) {
	p.Log.Warn("event publish failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	if p.OnError != nil {
		p.OnError(kind)
	}
}
