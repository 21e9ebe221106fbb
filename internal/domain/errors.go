package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBook indica que el CLOB no tiene book para el token.
	ErrNoBook = errors.New("no orderbook")
	// ErrBalanceUnavailable indica que no se pudo leer el balance on-chain.
	ErrBalanceUnavailable = errors.New("balance unavailable")
)

// RejectReason clasifica por qué una orden no llegó al book.
type RejectReason string

const (
	RejectInsufficientBalance      RejectReason = "insufficient_balance"
	RejectInsufficientTokenBalance RejectReason = "insufficient_token_balance"
	RejectPostOnlyCross            RejectReason = "post_only_cross"
	RejectAPIError                 RejectReason = "api_error"
	RejectException                RejectReason = "exception"
)

// OrderRejection is returned by the gateway when no order was placed.
type OrderRejection struct {
	Reason    RejectReason
	TokenID   string
	Side      Side
	Price     float64
	Size      float64
	Required  float64 // balance requerido en el pre-flight
	Available float64
	Attempts  int
	Detail    string
}

func (r *OrderRejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("order rejected (%s): %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("order rejected (%s)", r.Reason)
}

// IsCrossReject devuelve true si err es un rechazo post-only por cruzar el book.
func IsCrossReject(err error) bool {
	var rej *OrderRejection
	return errors.As(err, &rej) && rej.Reason == RejectPostOnlyCross
}

// RejectionReason extrae el código de rechazo; api_error/exception si no es tipado.
func RejectionReason(err error) RejectReason {
	if err == nil {
		return ""
	}
	var rej *OrderRejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return RejectException
}
