package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/shared/errs"
	"github.com/jonabai/dcasino/internal/wallet-service/dto"
	"github.com/jonabai/dcasino/internal/wallet-service/repo"
)

// Repo define a interface de operações de carteira usadas pelo handler HTTP
type Repo interface {
	GetOrCreateWallet(ctx context.Context, userID string) (walletID string, balance int64, err error)
	Deposit(ctx context.Context, userID string, amount int64, externalRef string) (walletID string, newBalance int64, err error)
	Debit(ctx context.Context, userID string, amount int64, externalRef, description string) (repo.Transfer, error)
	Credit(ctx context.Context, userID string, amount int64, externalRef, description string) (repo.Transfer, error)
}

// Server expõe endpoints HTTP para operações de carteira (wallet)
type Server struct {
	log  *zap.Logger
	repo Repo

	// OnTransfer recebe (operação, resultado) para métricas
	OnTransfer func(op, result string)
}

// NewServer instancia o servidor HTTP de wallet
func NewServer(log *zap.Logger, repo Repo) *Server { return &Server{log: log, repo: repo} }

// Router retorna o roteador HTTP com as rotas da API de wallet
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/wallet", s.getWallet)        // GET ?userId=...
	r.Post("/wallet/deposit", s.deposit) // recarga do jogador
	r.Post("/wallet/debit", s.debit)     // custódia puxa fundos
	r.Post("/wallet/credit", s.credit)   // custódia envia fundos
	return r
}

func (s *Server) observe(op string, err error) {
	if s.OnTransfer == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.OnTransfer(op, result)
}

// getWallet retorna (ou cria) a carteira e saldo do usuário
func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	walletID, bal, err := s.repo.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		s.fail(w, "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{UserID: userID, WalletID: walletID, BalanceCents: bal})
}

// deposit adiciona saldo à carteira do usuário
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	walletID, bal, err := s.repo.Deposit(r.Context(), req.UserID, req.AmountCents, req.ExternalRef)
	s.observe("deposit", err)
	if err != nil {
		s.fail(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{UserID: req.UserID, WalletID: walletID, BalanceCents: bal})
}

func decodeTransfer(w http.ResponseWriter, r *http.Request) (dto.TransferRequest, bool) {
	var req dto.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return req, false
	}
	if req.UserID == "" || req.AmountCents <= 0 || req.ExternalRef == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return req, false
	}
	return req, true
}

// debit retira saldo da carteira para a custódia
func (s *Server) debit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	t, err := s.repo.Debit(r.Context(), req.UserID, req.AmountCents, req.ExternalRef, req.Description)
	s.observe("debit", err)
	if err != nil {
		s.fail(w, "debit", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransferResponse{
		WalletID: t.WalletID, BalanceCents: t.Balance, ExternalRef: req.ExternalRef, Replayed: t.Replayed,
	})
}

// credit devolve saldo da custódia para a carteira
func (s *Server) credit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	t, err := s.repo.Credit(r.Context(), req.UserID, req.AmountCents, req.ExternalRef, req.Description)
	s.observe("credit", err)
	if err != nil {
		s.fail(w, "credit", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransferResponse{
		WalletID: t.WalletID, BalanceCents: t.Balance, ExternalRef: req.ExternalRef, Replayed: t.Replayed,
	})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("wallet operation failed", zap.String("op", op), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}
