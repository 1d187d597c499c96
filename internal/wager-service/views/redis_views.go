package views

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/games/blackjack"
	"github.com/jonabai/dcasino/internal/games/roulette"
	"github.com/jonabai/dcasino/internal/wager-service/ws"
)

// Backend é o subconjunto do *redis.Client usado pelas projeções
type Backend interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

func keyBet(ref string) string    { return "casino:bet:" + ref }
func keyRound(id uint64) string   { return "casino:blackjack:round:" + strconv.FormatUint(id, 10) }
func keySpin(id uint64) string    { return "casino:roulette:spin:" + strconv.FormatUint(id, 10) }
func roundTopic(id uint64) string { return bet.Ref(blackjack.GameName, id) }

// Views grava as projeções somente-leitura no Redis e as difunde pelo canal
// de pub/sub consumido pelo hub WebSocket.
type Views struct {
	Backend Backend
	Channel string
	TTL     time.Duration
	Log     *zap.Logger
	Timeout time.Duration

	OnError func(stage string)
}

func New(b Backend, channel string, ttl time.Duration, log *zap.Logger) *Views {
	if log == nil {
		log = zap.NewNop()
	}
	return &Views{Backend: b, Channel: channel, TTL: ttl, Log: log, Timeout: 500 * time.Millisecond}
}

func (v *Views) store(ctx context.Context, key, topic, kind string, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		v.Log.Warn("view encode failed", zap.String("key", key), zap.Error(err))
		v.onError("encode")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.Timeout)
	defer cancel()

	if err := v.Backend.Set(ctx, key, b, v.TTL).Err(); err != nil {
		v.Log.Warn("view cache set failed", zap.String("key", key), zap.Error(err))
		v.onError("cache")
	}
	msg, _ := json.Marshal(ws.Update{Topic: topic, Kind: kind, Payload: b})
	if err := v.Backend.Publish(ctx, v.Channel, msg).Err(); err != nil {
		v.Log.Warn("ws broadcast publish failed", zap.String("topic", topic), zap.Error(err))
		v.onError("publish")
	}
}

func (v *Views) onError(stage string) {
	if v.OnError != nil {
		v.OnError(stage)
	}
}

func (v *Views) bet(ctx context.Context, rec bet.Record) {
	ref := rec.Ref()
	v.store(ctx, keyBet(ref), ref, ws.KindBet, rec)
}

func (v *Views) BetPlaced(ctx context.Context, rec bet.Record)    { v.bet(ctx, rec) }
func (v *Views) BetUpdated(ctx context.Context, rec bet.Record)   { v.bet(ctx, rec) }
func (v *Views) BetResolved(ctx context.Context, rec bet.Record)  { v.bet(ctx, rec) }
func (v *Views) BetCancelled(ctx context.Context, rec bet.Record) { v.bet(ctx, rec) }

// Round é o observer das rodadas de blackjack
func (v *Views) Round(view blackjack.View) {
	v.store(context.Background(), keyRound(view.BetID), roundTopic(view.BetID), ws.KindRound, view)
}

// Spin é o observer das rodadas de roleta
func (v *Views) Spin(s roulette.Spin) {
	v.store(context.Background(), keySpin(s.BetID), bet.Ref(roulette.GameName, s.BetID), ws.KindSpin, s)
}

func (v *Views) load(ctx context.Context, key string, dst any) (bool, error) {
	b, err := v.Backend.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

// GetBet lê a última projeção gravada de uma aposta
func (v *Views) GetBet(ctx context.Context, game string, id uint64) (bet.Record, bool, error) {
	var rec bet.Record
	ok, err := v.load(ctx, keyBet(bet.Ref(game, id)), &rec)
	return rec, ok, err
}

func (v *Views) GetRound(ctx context.Context, id uint64) (blackjack.View, bool, error) {
	var view blackjack.View
	ok, err := v.load(ctx, keyRound(id), &view)
	return view, ok, err
}

func (v *Views) GetSpin(ctx context.Context, id uint64) (roulette.Spin, bool, error) {
	var s roulette.Spin
	ok, err := v.load(ctx, keySpin(id), &s)
	return s, ok, err
}
