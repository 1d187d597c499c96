package dto

type WalletResponse struct {
	UserID       string `json:"userId"`
	WalletID     string `json:"walletId"`
	BalanceCents int64  `json:"balance_cents"`
}

type TransferResponse struct {
	WalletID     string `json:"walletId"`
	BalanceCents int64  `json:"balance_cents"`
	ExternalRef  string `json:"external_ref"`
	Replayed     bool   `json:"replayed"` // true quando a chave já tinha sido aplicada
}

type ErrorResponse struct {
	Error string `json:"error"`
}
