package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/auth"
	"github.com/jonabai/dcasino/internal/bet"
	"github.com/jonabai/dcasino/internal/games/blackjack"
	"github.com/jonabai/dcasino/internal/games/roulette"
	"github.com/jonabai/dcasino/internal/registry"
	"github.com/jonabai/dcasino/internal/shared/errs"
	"github.com/jonabai/dcasino/internal/wager-service/casino"
	"github.com/jonabai/dcasino/internal/wager-service/dto"
)

// CallerHeader identifica o chamador (jogador ou tesouraria), preenchido pelo gateway
const CallerHeader = "X-User-ID"

var errNoCaller = errors.New("missing " + CallerHeader)

// Views são as projeções gravadas no Redis, usadas quando a memória não tem a aposta
type Views interface {
	GetBet(ctx context.Context, game string, id uint64) (bet.Record, bool, error)
	GetRound(ctx context.Context, id uint64) (blackjack.View, bool, error)
	GetSpin(ctx context.Context, id uint64) (roulette.Spin, bool, error)
}

// Server expõe a API REST do wager-service
type Server struct {
	log    *zap.Logger
	casino *casino.Casino
	views  Views
	ws     http.HandlerFunc
}

func NewServer(log *zap.Logger, c *casino.Casino, v Views, ws http.HandlerFunc) *Server {
	return &Server{log: log, casino: c, views: v, ws: ws}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if s.ws != nil {
		r.Get("/ws", s.ws)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/games", s.listGames)
		r.Get("/ledger", s.ledgerSnapshot)

		r.Post("/roulette/bets", s.placeRoulette)
		r.Get("/roulette/spins/{id}", s.getSpin)

		r.Post("/blackjack/bets", s.placeBlackjack)
		r.Post("/blackjack/bets/{id}/{action}", s.playBlackjack) // hit | stand | double | split | insurance
		r.Get("/blackjack/rounds/{id}", s.getRound)

		r.Get("/bets/{game}/{id}", s.getBet)
		r.Delete("/bets/{game}/{id}", s.cancelBet)
		r.Post("/bets/{game}/{id}/resolve", s.requestResolution)

		r.Route("/admin", func(r chi.Router) {
			r.Put("/games/{game}/active", s.setActive)
			r.Post("/ledger/deposit", s.deposit)
			r.Post("/ledger/withdraw", s.withdraw)
			r.Post("/ledger/fees", s.withdrawFees)
			r.Put("/ledger/limits", s.setLimits)
			r.Get("/randomness/outstanding", s.outstanding)
		})
	})
	return r
}

func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(CallerHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, errNoCaller.Error())
		return "", false
	}
	return id, true
}

func betID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func (s *Server) listGames(w http.ResponseWriter, r *http.Request) {
	out := make([]registry.Stats, 0, 2)
	for _, g := range s.casino.Games() {
		if st, ok := s.casino.Registry.Stats(g); ok {
			out = append(out, st)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ledgerSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.casino.Ledger.Snapshot())
}

func (s *Server) placeRoulette(w http.ResponseWriter, r *http.Request) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	var req dto.PlaceRouletteRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.casino.Roulette.Place(r.Context(), player, req.Bets)
	if err != nil {
		s.fail(w, "place roulette bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) placeBlackjack(w http.ResponseWriter, r *http.Request) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	var req dto.PlaceBlackjackRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.casino.Blackjack.PlaceBet(r.Context(), player, req.StakeCents, nil)
	if err != nil {
		s.fail(w, "place blackjack bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) playBlackjack(w http.ResponseWriter, r *http.Request) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := betID(w, r)
	if !ok {
		return
	}
	rec, err := s.casino.Blackjack.Play(r.Context(), player, id, blackjack.Action(chi.URLParam(r, "action")))
	if err != nil {
		s.fail(w, "blackjack action", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// getRound e getSpin preferem a memória; o cache cobre rodadas de antes de um restart
func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	if v, ok := s.casino.Blackjack.Round(id); ok {
		writeJSON(w, http.StatusOK, v)
		return
	}
	if s.views != nil {
		if v, ok, err := s.views.GetRound(r.Context(), id); err == nil && ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeError(w, http.StatusNotFound, "round not found")
}

func (s *Server) getSpin(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	if sp, ok := s.casino.Roulette.Wheel.Spin(id); ok {
		writeJSON(w, http.StatusOK, sp)
		return
	}
	if s.views != nil {
		if sp, ok, err := s.views.GetSpin(r.Context(), id); err == nil && ok {
			writeJSON(w, http.StatusOK, sp)
			return
		}
	}
	writeError(w, http.StatusNotFound, "spin not found")
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	game := chi.URLParam(r, "game")
	e, err := s.casino.Engine(game)
	if err != nil {
		s.fail(w, "get bet", err)
		return
	}
	rec, err := e.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	if s.views != nil {
		if cached, ok, verr := s.views.GetBet(r.Context(), game, id); verr == nil && ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	s.fail(w, "get bet", err)
}

func (s *Server) cancelBet(w http.ResponseWriter, r *http.Request) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := betID(w, r)
	if !ok {
		return
	}
	e, err := s.casino.Engine(chi.URLParam(r, "game"))
	if err != nil {
		s.fail(w, "cancel bet", err)
		return
	}
	rec, err := e.CancelBet(r.Context(), player, id)
	if err != nil {
		s.fail(w, "cancel bet", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// requestResolution re-dispara a aleatoriedade de uma aposta parada (exige requester)
func (s *Server) requestResolution(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := betID(w, r)
	if !ok {
		return
	}
	e, err := s.casino.Engine(chi.URLParam(r, "game"))
	if err != nil {
		s.fail(w, "request resolution", err)
		return
	}
	if err := e.RequestResolution(r.Context(), who, id); err != nil {
		s.fail(w, "request resolution", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) admin(w http.ResponseWriter, r *http.Request) (string, bool) {
	who, ok := caller(w, r)
	if !ok {
		return "", false
	}
	if err := auth.Require(s.casino.Authz, who, auth.CapTreasuryAdmin); err != nil {
		s.fail(w, "admin", err)
		return "", false
	}
	return who, true
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.admin(w, r); !ok {
		return
	}
	game := chi.URLParam(r, "game")
	if !s.casino.Registry.IsRegistered(game) {
		s.fail(w, "set active", casino.ErrUnknownGame)
		return
	}
	var req dto.SetActiveRequest
	if !decode(w, r, &req) {
		return
	}
	s.casino.Registry.SetActive(game, req.Active)
	s.log.Info("game activation changed", zap.String("game", game), zap.Bool("active", req.Active))
	st, _ := s.casino.Registry.Stats(game)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	who, ok := s.admin(w, r)
	if !ok {
		return
	}
	var req dto.AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.casino.Ledger.Deposit(r.Context(), who, req.AmountCents); err != nil {
		s.fail(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, s.casino.Ledger.Snapshot())
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	who, ok := s.admin(w, r)
	if !ok {
		return
	}
	var req dto.AmountRequest
	if !decode(w, r, &req) {
		return
	}
	to := req.To
	if to == "" {
		to = who
	}
	if err := s.casino.Ledger.Withdraw(r.Context(), who, to, req.AmountCents); err != nil {
		s.fail(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, s.casino.Ledger.Snapshot())
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request) {
	who, ok := s.admin(w, r)
	if !ok {
		return
	}
	var req dto.WithdrawFeesRequest
	if !decode(w, r, &req) {
		return
	}
	to := req.To
	if to == "" {
		to = who
	}
	n, err := s.casino.Ledger.WithdrawFees(r.Context(), who, to)
	if err != nil {
		s.fail(w, "withdraw fees", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FeesResponse{Withdrawn: n})
}

func (s *Server) setLimits(w http.ResponseWriter, r *http.Request) {
	who, ok := s.admin(w, r)
	if !ok {
		return
	}
	var req dto.LimitsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.casino.Ledger.SetLimits(r.Context(), who, req); err != nil {
		s.fail(w, "set limits", err)
		return
	}
	writeJSON(w, http.StatusOK, s.casino.Ledger.Limits())
}

func (s *Server) outstanding(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.admin(w, r); !ok {
		return
	}
	reqs := s.casino.Broker.Outstanding()
	out := make([]dto.RequestView, 0, len(reqs))
	for _, q := range reqs {
		out = append(out, dto.RequestView{ID: q.ID, Game: q.Game, BetID: q.BetID, Attempts: q.Attempts, CreatedAt: q.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("wager operation failed", zap.String("op", op), zap.Error(err))
	} else {
		s.log.Debug("wager operation refused", zap.String("op", op), zap.Error(err))
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}
