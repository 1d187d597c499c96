package randomness

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/shared/errs"
)

var (
	ErrRequestNotFound    = fmt.Errorf("%w: randomness request not found", errs.ErrExternalDelivery)
	ErrAlreadyFulfilled   = fmt.Errorf("%w: randomness request already fulfilled", errs.ErrExternalDelivery)
	ErrUnknownProvider    = fmt.Errorf("%w: caller is not the randomness provider", errs.ErrExternalDelivery)
	ErrNoValues           = fmt.Errorf("%w: fulfillment without values", errs.ErrExternalDelivery)
	ErrTooFewValues       = fmt.Errorf("%w: fulfillment with fewer values than requested", errs.ErrExternalDelivery)
	ErrUnknownGame        = fmt.Errorf("%w: game has no resolver", errs.ErrValidation)
	ErrProviderRejected   = fmt.Errorf("%w: provider did not accept the request", errs.ErrExternalDelivery)
	ErrInvalidValueAmount = fmt.Errorf("%w: invalid number of values", errs.ErrValidation)
)

// Request é um pedido de aleatoriedade em nome de uma aposta.
type Request struct {
	ID          string     `json:"request_id"`
	Game        string     `json:"game"`
	BetID       uint64     `json:"bet_id"`
	NumValues   uint32     `json:"num_values"`
	Fulfilled   bool       `json:"fulfilled"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

// Provider é a fonte externa de aleatoriedade. A entrega volta por Broker.Fulfill.
type Provider interface {
	RequestRandomness(ctx context.Context, req Request) error
}

// Resolver é o ponto de entrada de resolução do jogo dono da aposta.
type Resolver interface {
	ResolveBet(ctx context.Context, caller string, id uint64, values []uint64) (bet.Record, error)
}

type Config struct {
	Provider Provider
	// ProviderIdentity é a única identidade aceita em Fulfill.
	ProviderIdentity string
	// Identity é a identidade do broker ao chamar ResolveBet.
	Identity string
	Authz    auth.Authorizer
	Log      *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

type pair struct {
	game  string
	betID uint64
}

// Broker encaminha pedidos dos jogos ao provider e roteia cada entrega,
// uma única vez, de volta para o par (jogo, aposta) que pediu.
type Broker struct {
	provider         Provider
	providerIdentity string
	identity         string
	authz            auth.Authorizer
	log              *zap.Logger
	now              func() time.Time
	newID            func() string

	mu        sync.Mutex
	requests  map[string]*Request
	byPair    map[pair]string
	resolvers map[string]Resolver
}

func NewBroker(cfg Config) (*Broker, error) {
	if cfg.Provider == nil || cfg.ProviderIdentity == "" {
		return nil, fmt.Errorf("randomness: provider and provider identity are required")
	}
	if cfg.Identity == "" {
		cfg.Identity = "randomness-broker"
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Broker{
		provider:         cfg.Provider,
		providerIdentity: cfg.ProviderIdentity,
		identity:         cfg.Identity,
		authz:            cfg.Authz,
		log:              cfg.Log,
		now:              cfg.Now,
		newID:            cfg.NewID,
		requests:         make(map[string]*Request),
		byPair:           make(map[pair]string),
		resolvers:        make(map[string]Resolver),
	}, nil
}

func (b *Broker) Identity() string { return b.identity }

// Register associa um jogo ao seu ponto de resolução
func (b *Broker) Register(game string, r Resolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolvers[game] = r
}

// Request devolve o id existente para (game, betID) ou cria e encaminha um novo.
func (b *Broker) Request(ctx context.Context, caller, game string, betID uint64, n uint32) (string, error) {
	if err := auth.Require(b.authz, caller, auth.CapRequester); err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrInvalidValueAmount
	}
	key := pair{game, betID}

	b.mu.Lock()
	if _, ok := b.resolvers[game]; !ok {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownGame, game)
	}
	if id, ok := b.byPair[key]; ok {
		b.mu.Unlock()
		return id, nil
	}
	req := &Request{
		ID:        b.newID(),
		Game:      game,
		BetID:     betID,
		NumValues: n,
		Attempts:  1,
		CreatedAt: b.now(),
	}
	b.requests[req.ID] = req
	b.byPair[key] = req.ID
	fwd := *req
	b.mu.Unlock()

	if err := b.provider.RequestRandomness(ctx, fwd); err != nil {
		b.mu.Lock()
		if cur, ok := b.requests[fwd.ID]; ok && !cur.Fulfilled {
			delete(b.requests, fwd.ID)
			delete(b.byPair, key)
		}
		b.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	b.log.Debug("randomness requested",
		zap.String("request_id", fwd.ID),
		zap.String("game", game),
		zap.Uint64("bet_id", betID),
		zap.Uint32("num_values", n),
	)
	return fwd.ID, nil
}

// Reissue encaminha de novo um pedido ainda não atendido, mantendo o id.
func (b *Broker) Reissue(ctx context.Context, caller, requestID string) error {
	if err := auth.Require(b.authz, caller, auth.CapRequester); err != nil {
		return err
	}
	b.mu.Lock()
	req, ok := b.requests[requestID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if req.Fulfilled {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyFulfilled, requestID)
	}
	req.Attempts++
	fwd := *req
	b.mu.Unlock()

	if err := b.provider.RequestRandomness(ctx, fwd); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}
	b.log.Info("randomness request reissued",
		zap.String("request_id", requestID),
		zap.Int("attempts", fwd.Attempts),
	)
	return nil
}

// Fulfill aceita a entrega do provider uma única vez por request id e repassa
// os valores para o jogo dono da aposta. O pedido é marcado como atendido
// antes do repasse e nunca é reaberto: se o fechamento falhar, o jogo guarda
// os valores entregues e o scheduler refaz o fechamento a partir deles.
func (b *Broker) Fulfill(ctx context.Context, caller, requestID string, values []uint64) (bet.Record, error) {
	if caller != b.providerIdentity {
		return bet.Record{}, fmt.Errorf("%w: %s", ErrUnknownProvider, caller)
	}
	if len(values) == 0 {
		return bet.Record{}, ErrNoValues
	}

	b.mu.Lock()
	req, ok := b.requests[requestID]
	if !ok {
		b.mu.Unlock()
		return bet.Record{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if req.Fulfilled {
		b.mu.Unlock()
		return bet.Record{}, fmt.Errorf("%w: %s", ErrAlreadyFulfilled, requestID)
	}
	if uint32(len(values)) < req.NumValues {
		b.mu.Unlock()
		return bet.Record{}, fmt.Errorf("%w: got %d, requested %d", ErrTooFewValues, len(values), req.NumValues)
	}
	now := b.now()
	req.Fulfilled = true
	req.FulfilledAt = &now
	game, betID := req.Game, req.BetID
	resolver := b.resolvers[game]
	b.mu.Unlock()

	rec, err := resolver.ResolveBet(ctx, b.identity, betID, values)
	if err != nil {
		b.log.Error("resolve after fulfillment failed",
			zap.String("request_id", requestID),
			zap.String("game", game),
			zap.Uint64("bet_id", betID),
			zap.Error(err),
		)
		return bet.Record{}, err
	}
	return rec, nil
}

// Get devolve uma cópia do pedido
func (b *Broker) Get(requestID string) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[requestID]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	return *req, nil
}

// Outstanding lista os pedidos ainda não atendidos, mais antigos primeiro.
func (b *Broker) Outstanding() []Request {
	b.mu.Lock()
	out := make([]Request, 0, len(b.requests))
	for _, r := range b.requests {
		if !r.Fulfilled {
			out = append(out, *r)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
