package polymarket_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymm/internal/adapters/polymarket"
	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

var _ ports.Exchange = (*polymarket.TradingClient)(nil)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeBalances struct {
	usdc, token float64
	err         error
}

func (f fakeBalances) USDCBalance(context.Context) (float64, error) { return f.usdc, f.err }
func (f fakeBalances) TokenBalance(context.Context, string) (float64, error) {
	return f.token, f.err
}

type postedOrder struct {
	Order struct {
		MakerAmount string `json:"makerAmount"`
		TakerAmount string `json:"takerAmount"`
		Side        string `json:"side"`
		TokenID     string `json:"tokenId"`
	} `json:"order"`
	Owner     string `json:"owner"`
	OrderType string `json:"orderType"`
	PostOnly  bool   `json:"postOnly"`
}

// fakeCLOB simula los endpoints autenticados. orderReplies se consume en orden;
// el último se repite.
type fakeCLOB struct {
	mu           sync.Mutex
	orders       []postedOrder
	orderReplies []func(w http.ResponseWriter)
	cancelled    []string
	cancelAll    int
	paths        []string
}

func (f *fakeCLOB) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.paths = append(f.paths, r.Method+" "+r.URL.Path)

		if r.URL.Path != "/auth/derive-api-key" {
			assert.Equal(t, "key-1", r.Header.Get("POLY_API_KEY"))
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		}

		switch {
		case r.URL.Path == "/auth/derive-api-key":
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			w.Write([]byte(`{"apiKey":"key-1","secret":"c2VjcmV0","passphrase":"pp"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/order":
			var o postedOrder
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&o))
			f.orders = append(f.orders, o)
			i := len(f.orders) - 1
			if i >= len(f.orderReplies) {
				i = len(f.orderReplies) - 1
			}
			f.orderReplies[i](w)
		case r.Method == http.MethodDelete && r.URL.Path == "/order":
			body, _ := io.ReadAll(r.Body)
			var b struct {
				OrderID string `json:"orderID"`
			}
			assert.NoError(t, json.Unmarshal(body, &b))
			f.cancelled = append(f.cancelled, b.OrderID)
			w.Write([]byte(`{"canceled":["` + b.OrderID + `"]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/cancel-all":
			f.cancelAll++
			w.Write([]byte(`{}`))
		case r.URL.Path == "/data/order/ord-9":
			w.Write([]byte(`{"id":"ord-9","status":"MATCHED","original_size":"10","size_matched":"10",
				"price":"0.45","avg_price":"0.44","fees_paid":"0.01"}`))
		case r.URL.Path == "/data/orders":
			if r.URL.Query().Get("next_cursor") == "" {
				w.Write([]byte(`{"next_cursor":"MTA=","data":[{"id":"o1","asset_id":"tok","side":"BUY","price":"0.40","original_size":"10","size_matched":"0","status":"LIVE"}]}`))
				return
			}
			w.Write([]byte(`{"next_cursor":"LTE=","data":[{"id":"o2","asset_id":"tok","side":"SELL","price":"0.60","original_size":"10","size_matched":"4","status":"LIVE"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func accepted(id string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Write([]byte(`{"success":true,"orderID":"` + id + `","status":"live"}`))
	}
}

func crossReject(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(`{"error":"invalid post-only order: order crosses book"}`))
}

func newTrading(t *testing.T, f *fakeCLOB, bal polymarket.Balances) *polymarket.TradingClient {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	auth, err := polymarket.NewAuthClient(srv.URL, srv.URL, testPrivateKey)
	require.NoError(t, err)
	auth.SetRetryWait(0)
	return polymarket.NewTradingClient(auth, nil, bal)
}

func buy(price, size float64) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{TokenID: "12345", Price: price, Size: size, Side: domain.SideBuy, PostOnly: true}
}

func TestPlaceOrder_Success(t *testing.T) {
	f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){accepted("ord-1")}}
	tc := newTrading(t, f, fakeBalances{usdc: 100})

	placed, err := tc.PlaceOrder(context.Background(), buy(0.45, 10))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", placed.OrderID)
	assert.InDelta(t, 0.45, placed.Price, 1e-9)

	require.Len(t, f.orders, 1)
	o := f.orders[0]
	assert.Equal(t, "BUY", o.Order.Side)
	assert.Equal(t, "4500000", o.Order.MakerAmount)
	assert.Equal(t, "10000000", o.Order.TakerAmount)
	assert.Equal(t, "key-1", o.Owner)
	assert.Equal(t, "GTC", o.OrderType)
	assert.True(t, o.PostOnly)
}

func TestPlaceOrder_SellAmounts(t *testing.T) {
	f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){accepted("ord-2")}}
	tc := newTrading(t, f, fakeBalances{token: 50})

	req := domain.PlaceOrderRequest{TokenID: "12345", Price: 0.55, Size: 10, Side: domain.SideSell}
	_, err := tc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, f.orders, 1)
	assert.Equal(t, "SELL", f.orders[0].Order.Side)
	assert.Equal(t, "10000000", f.orders[0].Order.MakerAmount)
	assert.Equal(t, "5500000", f.orders[0].Order.TakerAmount)
	assert.False(t, f.orders[0].PostOnly)
}

func TestPlaceOrder_PostOnlyReprice(t *testing.T) {
	f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){crossReject, crossReject, accepted("ord-3")}}
	tc := newTrading(t, f, nil)

	placed, err := tc.PlaceOrder(context.Background(), buy(0.45, 10))
	require.NoError(t, err)
	assert.Equal(t, "ord-3", placed.OrderID)
	assert.InDelta(t, 0.43, placed.Price, 1e-9, "devuelve el precio publicado, no el pedido")

	require.Len(t, f.orders, 3)
	assert.Equal(t, "4400000", f.orders[1].Order.MakerAmount, "primer reintento a 0.44")
	assert.Equal(t, "4300000", f.orders[2].Order.MakerAmount, "segundo reintento a 0.43")
}

func TestPlaceOrder_PostOnlyExhausted(t *testing.T) {
	f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){crossReject}}
	tc := newTrading(t, f, nil)

	_, err := tc.PlaceOrder(context.Background(), buy(0.45, 10))
	require.Error(t, err)
	assert.True(t, domain.IsCrossReject(err))

	var rej *domain.OrderRejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, 6, rej.Attempts)
	assert.InDelta(t, 0.45, rej.Price, 1e-9)
	assert.Len(t, f.orders, 6)
}

func TestPlaceOrder_APIErrors(t *testing.T) {
	t.Run("status 400", func(t *testing.T) {
		f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid tick size"}`))
		}}}
		tc := newTrading(t, f, nil)

		_, err := tc.PlaceOrder(context.Background(), buy(0.45, 10))
		assert.Equal(t, domain.RejectAPIError, domain.RejectionReason(err))
		assert.Len(t, f.orders, 1, "sin reprice si no es cross")
	})

	t.Run("success false", func(t *testing.T) {
		f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){func(w http.ResponseWriter) {
			w.Write([]byte(`{"success":false,"errorMsg":"not enough balance / allowance"}`))
		}}}
		tc := newTrading(t, f, nil)

		_, err := tc.PlaceOrder(context.Background(), buy(0.45, 10))
		assert.Equal(t, domain.RejectAPIError, domain.RejectionReason(err))
		assert.Contains(t, err.Error(), "not enough balance")
	})

	t.Run("cross then other error", func(t *testing.T) {
		f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){crossReject, func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"market closed"}`))
		}}}
		tc := newTrading(t, f, nil)

		_, err := tc.PlaceOrder(context.Background(), buy(0.45, 10))
		var rej *domain.OrderRejection
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, domain.RejectAPIError, rej.Reason)
		assert.Equal(t, 2, rej.Attempts)
		assert.InDelta(t, 0.44, rej.Price, 1e-9)
	})
}

func TestPlaceOrder_Preflight(t *testing.T) {
	t.Run("insufficient usdc", func(t *testing.T) {
		f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){accepted("x")}}
		tc := newTrading(t, f, fakeBalances{usdc: 2})

		_, err := tc.PlaceOrder(context.Background(), buy(0.5, 10))
		var rej *domain.OrderRejection
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, domain.RejectInsufficientBalance, rej.Reason)
		assert.InDelta(t, 5, rej.Required, 1e-9)
		assert.InDelta(t, 2, rej.Available, 1e-9)
		assert.Empty(t, f.orders)
	})

	t.Run("insufficient tokens", func(t *testing.T) {
		f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){accepted("x")}}
		tc := newTrading(t, f, fakeBalances{token: 3})

		req := domain.PlaceOrderRequest{TokenID: "12345", Price: 0.6, Size: 5, Side: domain.SideSell}
		_, err := tc.PlaceOrder(context.Background(), req)
		assert.Equal(t, domain.RejectInsufficientTokenBalance, domain.RejectionReason(err))
		assert.Empty(t, f.orders)
	})

	t.Run("balance unavailable proceeds", func(t *testing.T) {
		f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){accepted("ord-4")}}
		tc := newTrading(t, f, fakeBalances{err: domain.ErrBalanceUnavailable})

		placed, err := tc.PlaceOrder(context.Background(), buy(0.5, 10))
		require.NoError(t, err)
		assert.Equal(t, "ord-4", placed.OrderID)
	})
}

func TestTradingClient_OrderManagement(t *testing.T) {
	f := &fakeCLOB{orderReplies: []func(http.ResponseWriter){accepted("x")}}
	tc := newTrading(t, f, fakeBalances{usdc: 42.5})
	ctx := context.Background()

	exec, err := tc.OrderStatus(ctx, "ord-9")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, exec.State)
	assert.True(t, exec.Filled)
	assert.InDelta(t, 0.44, exec.FillPrice(0.45), 1e-9)
	assert.InDelta(t, 4.4, exec.Notional, 1e-9)
	assert.InDelta(t, 0.01, exec.FeesPaid, 1e-9)

	open, err := tc.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "o1", open[0].OrderID)
	assert.Equal(t, domain.SideSell, open[1].Side)
	assert.InDelta(t, 4, open[1].SizeMatched, 1e-9)

	require.NoError(t, tc.CancelOrder(ctx, "o1"))
	require.NoError(t, tc.CancelAll(ctx))
	assert.Equal(t, []string{"o1"}, f.cancelled)
	assert.Equal(t, 1, f.cancelAll)

	bal, err := tc.Balance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 42.5, bal, 1e-9)

	_, err = tc.OrderStatus(ctx, "missing")
	assert.Error(t, err)
}

func TestTradingClient_BalanceUnavailable(t *testing.T) {
	tc := newTrading(t, &fakeCLOB{}, nil)
	_, err := tc.Balance(context.Background())
	assert.ErrorIs(t, err, domain.ErrBalanceUnavailable)

	tc = newTrading(t, &fakeCLOB{}, fakeBalances{err: errors.New("rpc down")})
	_, err = tc.Balance(context.Background())
	assert.ErrorIs(t, err, domain.ErrBalanceUnavailable)
}
