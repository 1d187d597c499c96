package betting

import (
	"context"

	"github.com/jonabai/dcasino/internal/bet"
)

// Publisher recebe as transições já efetivadas de cada aposta.
type Publisher interface {
	BetPlaced(ctx context.Context, rec bet.Record)
	BetUpdated(ctx context.Context, rec bet.Record)
	BetResolved(ctx context.Context, rec bet.Record)
	BetCancelled(ctx context.Context, rec bet.Record)
}

type NopPublisher struct{}

func (NopPublisher) BetPlaced(context.Context, bet.Record)    {}
func (NopPublisher) BetUpdated(context.Context, bet.Record)   {}
func (NopPublisher) BetResolved(context.Context, bet.Record)  {}
func (NopPublisher) BetCancelled(context.Context, bet.Record) {}

// Publishers distribui cada transição para todos os publishers da lista
type Publishers []Publisher

func (ps Publishers) BetPlaced(ctx context.Context, rec bet.Record) {
	for _, p := range ps {
		p.BetPlaced(ctx, rec)
	}
}

func (ps Publishers) BetUpdated(ctx context.Context, rec bet.Record) {
	for _, p := range ps {
		p.BetUpdated(ctx, rec)
	}
}

func (ps Publishers) BetResolved(ctx context.Context, rec bet.Record) {
	for _, p := range ps {
		p.BetResolved(ctx, rec)
	}
}

func (ps Publishers) BetCancelled(ctx context.Context, rec bet.Record) {
	for _, p := range ps {
		p.BetCancelled(ctx, rec)
	}
}
