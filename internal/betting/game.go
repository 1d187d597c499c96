package betting

import (
	"context"
	"encoding/json"

	"github.com/jonabai/dcasino/internal/bet"
)

// Game é a parte específica de cada jogo. O ciclo de vida (custódia, status,
// aleatoriedade, eventos) fica no Engine, que chama o jogo nos pontos abaixo.
type Game interface {
	Name() string
	// ValuesNeeded é quantos valores aleatórios o jogo pede por aposta.
	ValuesNeeded() uint32
	// PotentialPayout valida o payload e devolve o pagamento máximo a reservar.
	PotentialPayout(stake int64, payload json.RawMessage) (int64, error)
	// Resolve consome os valores entregues pelo provider. rec só pode ser
	// alterado pelo jogo enquanto o lock da aposta está com o Engine.
	Resolve(ctx context.Context, rec *bet.Record, values []uint64) (Outcome, error)
}

// CancelGuard é opcional: jogos que não aceitam cancelamento em certos estados.
type CancelGuard interface {
	CanCancel(rec *bet.Record) error
}

// Committer é opcional: o Engine avisa o jogo depois de cada mudança
// confirmada da aposta (distribuição adiada, jogada, fechamento no ledger).
// Visões públicas devem sair daqui, nunca de Resolve.
type Committer interface {
	Committed(rec bet.Record)
}

// Outcome é o resultado de uma resolução.
// Deferred mantém a aposta Pending (ex.: blackjack aguardando ações do jogador).
type Outcome struct {
	Deferred bool
	Payout   int64
	WaiveFee bool
}

// Won indica o status final: qualquer pagamento conta como vitória
func (o Outcome) Won() bool { return o.Payout > 0 }
