package dto

type DepositRequest struct {
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amount_cents"`
	ExternalRef string `json:"external_ref,omitempty"` // opcional p/ idempotência simples
}

// TransferRequest move fundos entre a carteira e a custódia do cassino.
// ExternalRef é a chave de idempotência da transferência.
type TransferRequest struct {
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amount_cents"`
	ExternalRef string `json:"external_ref"`
	Description string `json:"description,omitempty"` // ex: ref da aposta
}
