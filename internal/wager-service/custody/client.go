package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	walletdto "github.com/jonabai/dcasino/internal/wallet-service/dto"
)

// Client implementa ledger.Custody sobre o wallet-service.
// Pull vira um débito na carteira de origem e Push um crédito na de destino.
//
// A chave de idempotência sai da referência da aposta, da operação e de quantas
// transferências iguais já foram confirmadas. Uma transferência que falhou e é
// refeita depois (o mesmo pagamento tentado de novo pelo scheduler) usa a mesma
// chave, e o wallet devolve a transferência já gravada em vez de duplicar.
// O prefixo gerado por NewKey separa as chaves de cada processo.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Retries int
	NewKey  func() string
	Log     *zap.Logger

	mu    sync.Mutex
	epoch string
	done  map[string]int
}

func New(base string) *Client {
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 2 * time.Second},
		Retries: 2,
		NewKey:  uuid.NewString,
		Log:     zap.NewNop(),
	}
}

// StatusError é uma resposta não-2xx do wallet-service
type StatusError struct {
	Op     string
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wallet %s http %d: %s", e.Op, e.Status, e.Msg)
}

func (c *Client) Pull(ctx context.Context, from string, amount int64, ref string) error {
	_, err := c.transfer(ctx, "/wallet/debit", "debit", from, amount, ref)
	return err
}

func (c *Client) Push(ctx context.Context, to string, amount int64, ref string) error {
	_, err := c.transfer(ctx, "/wallet/credit", "credit", to, amount, ref)
	return err
}

// Fund recarrega uma carteira (bootstrap da banca em ambiente local)
func (c *Client) Fund(ctx context.Context, userID string, amount int64, externalRef string) (int64, error) {
	body, _ := json.Marshal(walletdto.DepositRequest{UserID: userID, AmountCents: amount, ExternalRef: externalRef})
	var out walletdto.WalletResponse
	if err := c.post(ctx, "/wallet/deposit", "deposit", body, &out); err != nil {
		return 0, err
	}
	return out.BalanceCents, nil
}

// TransferKey devolve a chave que a próxima transferência op de ref vai usar
func (c *Client) TransferKey(op, ref string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == "" {
		c.epoch = c.NewKey()
		c.done = make(map[string]int)
	}
	return fmt.Sprintf("%s:%s:%s:%d", c.epoch, op, ref, c.done[op+":"+ref]+1)
}

func (c *Client) confirmed(op, ref string) {
	c.mu.Lock()
	c.done[op+":"+ref]++
	c.mu.Unlock()
}

func (c *Client) transfer(ctx context.Context, path, op, user string, amount int64, ref string) (walletdto.TransferResponse, error) {
	key := c.TransferKey(op, ref)
	body, _ := json.Marshal(walletdto.TransferRequest{
		UserID:      user,
		AmountCents: amount,
		ExternalRef: key,
		Description: ref,
	})
	var out walletdto.TransferResponse
	var err error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if err = c.post(ctx, path, op, body, &out); err == nil {
			c.confirmed(op, ref)
			if out.Replayed {
				c.log().Info("wallet transfer already recorded",
					zap.String("op", op), zap.String("ref", ref), zap.String("external_ref", key))
			}
			return out, nil
		}
		// resposta do wallet é definitiva; só falha de transporte é repetida
		var se *StatusError
		if errors.As(err, &se) {
			return walletdto.TransferResponse{}, err
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	// sem resposta: o wallet pode ter gravado a transferência
	c.log().Error("wallet transfer outcome unknown",
		zap.String("op", op),
		zap.String("ref", ref),
		zap.String("user", user),
		zap.Int64("amount", amount),
		zap.String("external_ref", key),
		zap.Error(err),
	)
	return walletdto.TransferResponse{}, err
}

func (c *Client) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *Client) post(ctx context.Context, path, op string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		var e walletdto.ErrorResponse
		_ = json.NewDecoder(res.Body).Decode(&e)
		return &StatusError{Op: op, Status: res.StatusCode, Msg: e.Error}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
