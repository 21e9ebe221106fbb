package polymarket

// trading.go — ejecución real de órdenes sobre el CLOB de Polymarket.
//
// TradingClient implementa ports.Exchange usando AuthClient (L1/L2). Todas las
// órdenes son límites GTC; con PostOnly el CLOB las rechaza si cruzan el book
// y se reintenta alejándose del touch hasta maxRepriceSteps ticks.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

const (
	orderPath      = "/order"
	cancelAllPath  = "/cancel-all"
	dataOrderPath  = "/data/order/"
	dataOrdersPath = "/data/orders"

	maxRepriceSteps = 5
	maxOrderPages   = 50
)

// Balances lee los saldos on-chain que usa el pre-flight.
type Balances interface {
	USDCBalance(ctx context.Context) (float64, error)
	TokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// orderError es un rechazo devuelto por el CLOB con 2xx y success=false.
type orderError struct {
	Msg string
}

func (e *orderError) Error() string { return "clob error: " + e.Msg }

// TradingClient implements ports.Exchange.
type TradingClient struct {
	auth     *AuthClient
	books    ports.BookSource
	balances Balances
}

// NewTradingClient crea un TradingClient. books resuelve BookSummary (stream o
// REST) y balances alimenta el pre-flight; si balances es nil no hay pre-flight.
func NewTradingClient(auth *AuthClient, books ports.BookSource, balances Balances) *TradingClient {
	if books == nil {
		books = auth.Client
	}
	return &TradingClient{auth: auth, books: books, balances: balances}
}

// BookSummary delega en la fuente de books configurada.
func (tc *TradingClient) BookSummary(ctx context.Context, tokenID string) (domain.BookSummary, error) {
	return tc.books.BookSummary(ctx, tokenID)
}

// Balance devuelve el USDC.e disponible en la wallet.
func (tc *TradingClient) Balance(ctx context.Context) (float64, error) {
	if tc.balances == nil {
		return 0, fmt.Errorf("trading.Balance: %w", domain.ErrBalanceUnavailable)
	}
	bal, err := tc.balances.USDCBalance(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrBalanceUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("trading.Balance: %w: %w", domain.ErrBalanceUnavailable, err)
	}
	return bal, nil
}

// PlaceOrder firma y envía una orden límite. Devuelve el order id del CLOB y el
// precio realmente publicado, o un *domain.OrderRejection si nada llegó al book.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, tc.reject(req, domain.RejectException, req.Price, 1, err.Error())
	}
	if rej := tc.preflight(ctx, req); rej != nil {
		slog.Warn("order pre-flight failed",
			"reason", rej.Reason, "side", req.Side, "token", domain.ShortID(req.TokenID),
			"required", rej.Required, "available", rej.Available)
		return domain.PlacedOrder{}, rej
	}

	id, err := tc.submit(ctx, req)
	if err == nil {
		slog.Debug("order placed", "side", req.Side, "price", req.Price, "size", req.Size,
			"token", domain.ShortID(req.TokenID), "post_only", req.PostOnly)
		return domain.PlacedOrder{OrderID: id, Price: req.Price}, nil
	}
	if !req.PostOnly || !isCrossError(err) {
		return domain.PlacedOrder{}, tc.reject(req, classify(err), req.Price, 1, err.Error())
	}

	attempts := 1
	for _, price := range repricePrices(req.Price, req.Side, maxRepriceSteps) {
		attempts++
		retry := req
		retry.Price = price

		id, err := tc.submit(ctx, retry)
		if err == nil {
			slog.Info("order placed after post-only reprice",
				"side", req.Side, "base_price", req.Price, "price", price,
				"attempts", attempts, "token", domain.ShortID(req.TokenID))
			return domain.PlacedOrder{OrderID: id, Price: price}, nil
		}
		if isCrossError(err) {
			continue
		}
		return domain.PlacedOrder{}, tc.reject(req, classify(err), price, attempts, err.Error())
	}

	return domain.PlacedOrder{}, tc.reject(req, domain.RejectPostOnlyCross, req.Price, attempts,
		fmt.Sprintf("exhausted retries max_steps=%d", maxRepriceSteps))
}

// preflight verifica saldo antes de enviar. Si el saldo no se puede leer la
// orden sigue adelante y decide el CLOB.
func (tc *TradingClient) preflight(ctx context.Context, req domain.PlaceOrderRequest) *domain.OrderRejection {
	if tc.balances == nil {
		return nil
	}
	switch req.Side {
	case domain.SideBuy:
		required := math.Round(req.Price*req.Size*100) / 100
		bal, err := tc.balances.USDCBalance(ctx)
		if err != nil {
			slog.Debug("pre-flight balance unavailable", "err", err)
			return nil
		}
		if bal < required {
			rej := tc.reject(req, domain.RejectInsufficientBalance, req.Price, 0,
				fmt.Sprintf("required=%.2f, onchain=%.2f", required, bal))
			rej.Required, rej.Available = required, bal
			return rej
		}
	case domain.SideSell:
		bal, err := tc.balances.TokenBalance(ctx, req.TokenID)
		if err != nil {
			slog.Debug("pre-flight token balance unavailable", "err", err)
			return nil
		}
		if bal < req.Size {
			rej := tc.reject(req, domain.RejectInsufficientTokenBalance, req.Price, 0,
				fmt.Sprintf("token_balance=%.2f, required=%.2f", bal, req.Size))
			rej.Required, rej.Available = req.Size, bal
			return rej
		}
	}
	return nil
}

// submit firma y postea una orden. Errores del CLOB: *statusError o *orderError.
func (tc *TradingClient) submit(ctx context.Context, req domain.PlaceOrderRequest) (string, error) {
	signed, err := tc.auth.buildSignedOrder(req)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: "GTC",
		PostOnly:  req.PostOnly,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, orderPath, body, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.ErrorMsg != "" || resp.OrderID == "" {
		return "", &orderError{Msg: resp.ErrorMsg}
	}
	return resp.OrderID, nil
}

func (tc *TradingClient) reject(req domain.PlaceOrderRequest, reason domain.RejectReason, price float64, attempts int, detail string) *domain.OrderRejection {
	return &domain.OrderRejection{
		Reason:   reason,
		TokenID:  req.TokenID,
		Side:     req.Side,
		Price:    math.Round(price*10000) / 10000,
		Size:     req.Size,
		Attempts: attempts,
		Detail:   detail,
	}
}

// isCrossError detecta el rechazo post-only del CLOB ("order crosses book").
func isCrossError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "post-only") && strings.Contains(msg, "crosses book")
}

// classify separa rechazos de la API de fallos locales o de transporte.
func classify(err error) domain.RejectReason {
	var se *statusError
	var oe *orderError
	if errors.As(err, &se) || errors.As(err, &oe) {
		return domain.RejectAPIError
	}
	return domain.RejectException
}

// repricePrices devuelve los precios de reintento post-only: BUY baja y SELL
// sube un tick por paso, dentro de [0.01, 0.99].
func repricePrices(price float64, side domain.Side, steps int) []float64 {
	base := math.Round(price*100) / 100
	dir := 1.0
	if side == domain.SideBuy {
		dir = -1
	}
	out := make([]float64, 0, steps)
	for k := 1; k <= steps; k++ {
		p := math.Round((base+dir*domain.TickSize*float64(k))*100) / 100
		if p < domain.MinPrice || p > domain.MaxPrice || p == base {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ─── Order management ────────────────────────────────────────────────────────

// CancelOrder cancela una orden por su id del CLOB.
func (tc *TradingClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("trading.CancelOrder: creds: %w", err)
	}
	body := map[string]string{"orderID": orderID}
	if err := tc.auth.doL2(ctx, http.MethodDelete, orderPath, body, nil); err != nil {
		return fmt.Errorf("trading.CancelOrder %s: %w", domain.ShortID(orderID), err)
	}
	return nil
}

// CancelAll cancela todas las órdenes abiertas de la wallet.
func (tc *TradingClient) CancelAll(ctx context.Context) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("trading.CancelAll: creds: %w", err)
	}
	if err := tc.auth.doL2(ctx, http.MethodDelete, cancelAllPath, nil, nil); err != nil {
		return fmt.Errorf("trading.CancelAll: %w", err)
	}
	return nil
}

// OrderStatus devuelve la metadata de ejecución normalizada de una orden.
func (tc *TradingClient) OrderStatus(ctx context.Context, orderID string) (domain.OrderExecution, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderExecution{}, fmt.Errorf("trading.OrderStatus: creds: %w", err)
	}
	var o clobOrder
	if err := tc.auth.doL2(ctx, http.MethodGet, dataOrderPath+url.PathEscape(orderID), nil, &o); err != nil {
		return domain.OrderExecution{}, fmt.Errorf("trading.OrderStatus %s: %w", domain.ShortID(orderID), err)
	}
	if o.ID == "" {
		o.ID = orderID
	}
	return mapExecution(o), nil
}

// OpenOrders devuelve las órdenes abiertas o parciales, paginando por next_cursor.
func (tc *TradingClient) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("trading.OpenOrders: creds: %w", err)
	}

	var orders []domain.OpenOrder
	cursor := ""
	for page := 0; page < maxOrderPages; page++ {
		path := dataOrdersPath
		if cursor != "" {
			path += "?next_cursor=" + url.QueryEscape(cursor)
		}
		var resp clobOrdersResponse
		if err := tc.auth.doL2(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("trading.OpenOrders: page %d: %w", page, err)
		}
		for _, o := range resp.Data {
			orders = append(orders, mapOpenOrder(o))
		}
		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			break
		}
		cursor = resp.NextCursor
	}
	return orders, nil
}
