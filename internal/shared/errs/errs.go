package errs

import (
	"errors"
	"net/http"
)

// Categorias de erro compartilhadas entre os pacotes.
// Os sentinels de cada pacote embrulham uma dessas categorias com %w,
// então errors.Is funciona tanto no erro específico quanto na categoria.
var (
	ErrValidation       = errors.New("validation error")
	ErrCoverage         = errors.New("coverage error")
	ErrUnauthorized     = errors.New("authorization error")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyResolved  = errors.New("already resolved")
	ErrExternalDelivery = errors.New("external delivery error")
)

// HTTPStatus traduz a categoria do erro para um status HTTP
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrCoverage):
		return http.StatusConflict
	case errors.Is(err, ErrExternalDelivery):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
