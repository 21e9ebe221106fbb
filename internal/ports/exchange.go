package ports

import (
	"context"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// BookSource devuelve el resumen top-of-book de un token.
type BookSource interface {
	BookSummary(ctx context.Context, tokenID string) (domain.BookSummary, error)
}

// Exchange places, cancels, and monitors real orders on the Polymarket CLOB.
type Exchange interface {
	BookSource

	// PlaceOrder signs and submits a limit order. It returns the CLOB order ID
	// and the price actually posted (post-only orders may be repriced), or a
	// *domain.OrderRejection when nothing reached the book.
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// CancelOrder cancels a specific order by its CLOB order ID.
	CancelOrder(ctx context.Context, orderID string) error

	// CancelAll cancels all open orders for this wallet.
	CancelAll(ctx context.Context) error

	// OrderStatus returns the normalized execution metadata of an order.
	OrderStatus(ctx context.Context, orderID string) (domain.OrderExecution, error)

	// OpenOrders returns all currently open/partial orders from the CLOB.
	OpenOrders(ctx context.Context) ([]domain.OpenOrder, error)

	// Balance returns the available USDC.e balance. Wraps
	// domain.ErrBalanceUnavailable when the chain cannot be read.
	Balance(ctx context.Context) (float64, error)
}

// Collateral executes on-chain CTF split and merge transactions.
type Collateral interface {
	// Split converts amount USDC.e into amount YES + amount NO tokens.
	Split(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.CollateralResult, error)

	// Merge converts amount YES+NO sets back into USDC.e.
	Merge(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.CollateralResult, error)
}
