package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
)

var ErrBadSignature = errors.New("fulfillment signature mismatch")

// Evento publicado no tópico "randomness_requests" pelo broker
type RandomnessRequested struct {
	RequestID string `json:"request_id"`
	Game      string `json:"game"`
	BetID     uint64 `json:"bet_id"`
	NumValues uint32 `json:"num_values"`
	Attempt   int    `json:"attempt"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}

// Evento publicado no tópico "randomness_fulfillments" pelo provedor
type RandomnessFulfilled struct {
	RequestID string   `json:"request_id"`
	Provider  string   `json:"provider"`
	Values    []uint64 `json:"values"`
	Signature string   `json:"signature"` // hex(HMAC-SHA256)
	TsUnixMs  int64    `json:"ts_unix_ms"`
}

func (f RandomnessFulfilled) digest(secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(f.RequestID + ":" + f.Provider + ":"))
	var buf [8]byte
	for _, v := range f.Values {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

// Sign preenche Signature com o HMAC de request_id, provider e valores
func (f *RandomnessFulfilled) Sign(secret []byte) {
	f.Signature = hex.EncodeToString(f.digest(secret))
}

// Verify confere a assinatura com o segredo compartilhado
func (f RandomnessFulfilled) Verify(secret []byte) error {
	got, err := hex.DecodeString(f.Signature)
	if err != nil || !hmac.Equal(got, f.digest(secret)) {
		return ErrBadSignature
	}
	return nil
}
