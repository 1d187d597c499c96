package rng

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jonabai/dcasino/internal/randomness"
	"github.com/jonabai/dcasino/internal/shared/kafka"
	"github.com/jonabai/dcasino/pkg/contracts/events"
)

// KafkaProvider encaminha os pedidos do broker para o provedor externo
// pelo tópico randomness_requests.
type KafkaProvider struct {
	Writer kafka.MessageWriter
	Now    func() time.Time
}

func NewKafkaProvider(w kafka.MessageWriter) *KafkaProvider {
	return &KafkaProvider{Writer: w, Now: time.Now}
}

func (p *KafkaProvider) RequestRandomness(ctx context.Context, req randomness.Request) error {
	b, err := json.Marshal(events.RandomnessRequested{
		RequestID: req.ID,
		Game:      req.Game,
		BetID:     req.BetID,
		NumValues: req.NumValues,
		Attempt:   req.Attempts,
		TsUnixMs:  p.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return kafka.WriteJSON(ctx, p.Writer, req.Game+":"+strconv.FormatUint(req.BetID, 10), b)
}
