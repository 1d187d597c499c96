package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonabai/dcasino/internal/wallet-service/dto"
	"github.com/jonabai/dcasino/internal/wallet-service/repo"
)

// memRepo imita as regras do repositório Postgres
type memRepo struct {
	mu      sync.Mutex
	balance map[string]int64
	seen    map[string]bool
}

func newMemRepo() *memRepo {
	return &memRepo{balance: map[string]int64{}, seen: map[string]bool{}}
}

func (m *memRepo) GetOrCreateWallet(_ context.Context, userID string) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return "w-" + userID, m.balance[userID], nil
}

func (m *memRepo) Deposit(_ context.Context, userID string, amount int64, _ string) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance[userID] += amount
	return "w-" + userID, m.balance[userID], nil
}

func (m *memRepo) apply(userID string, delta int64, ref string) (repo.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + ref
	if m.seen[key] {
		return repo.Transfer{WalletID: "w-" + userID, Balance: m.balance[userID], Replayed: true}, nil
	}
	if _, ok := m.balance[userID]; !ok && delta < 0 {
		return repo.Transfer{}, repo.ErrNotFound
	}
	if m.balance[userID]+delta < 0 {
		return repo.Transfer{}, repo.ErrInsufficientFunds
	}
	m.seen[key] = true
	m.balance[userID] += delta
	return repo.Transfer{WalletID: "w-" + userID, Balance: m.balance[userID]}, nil
}

func (m *memRepo) Debit(_ context.Context, userID string, amount int64, ref, _ string) (repo.Transfer, error) {
	return m.apply(userID, -amount, ref)
}

func (m *memRepo) Credit(_ context.Context, userID string, amount int64, ref, _ string) (repo.Transfer, error) {
	return m.apply(userID, amount, ref)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestDebitCreditRoundTrip(t *testing.T) {
	var ops []string
	srv := NewServer(zap.NewNop(), newMemRepo())
	srv.OnTransfer = func(op, result string) { ops = append(ops, op+":"+result) }
	h := srv.Router()

	rec := do(t, h, http.MethodPost, "/wallet/deposit", `{"userId":"alice","amount_cents":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/wallet/debit", `{"userId":"alice","amount_cents":300,"external_ref":"k1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out dto.TransferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, int64(700), out.BalanceCents)
	assert.False(t, out.Replayed)

	// mesma chave não debita de novo
	rec = do(t, h, http.MethodPost, "/wallet/debit", `{"userId":"alice","amount_cents":300,"external_ref":"k1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, int64(700), out.BalanceCents)
	assert.True(t, out.Replayed)

	rec = do(t, h, http.MethodPost, "/wallet/credit", `{"userId":"alice","amount_cents":600,"external_ref":"k2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/wallet?userId=alice", "")
	var wr dto.WalletResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wr))
	assert.Equal(t, int64(1300), wr.BalanceCents)

	assert.Equal(t, []string{"deposit:ok", "debit:ok", "debit:ok", "credit:ok"}, ops)
}

func TestDebitErrors(t *testing.T) {
	h := NewServer(zap.NewNop(), newMemRepo()).Router()

	rec := do(t, h, http.MethodPost, "/wallet/debit", `{"userId":"ghost","amount_cents":1,"external_ref":"k"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, h, http.MethodPost, "/wallet/deposit", `{"userId":"bob","amount_cents":10}`)
	rec = do(t, h, http.MethodPost, "/wallet/debit", `{"userId":"bob","amount_cents":11,"external_ref":"k"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient funds")

	rec = do(t, h, http.MethodPost, "/wallet/debit", `{"userId":"bob","amount_cents":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/wallet/credit", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/wallet", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
