package polymarket_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polymm/internal/adapters/polymarket"
	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

var (
	_ ports.MarketProvider = (*polymarket.Client)(nil)
	_ ports.BookProvider   = (*polymarket.Client)(nil)
	_ ports.BookSource     = (*polymarket.Client)(nil)
)

func newTestClient(clobSrv, gammaSrv *httptest.Server) *polymarket.Client {
	clobURL := ""
	gammaURL := ""
	if clobSrv != nil {
		clobURL = clobSrv.URL
	}
	if gammaSrv != nil {
		gammaURL = gammaSrv.URL
	}
	c := polymarket.NewClient(clobURL, gammaURL)
	c.SetRetryWait(time.Millisecond)
	return c
}

const samplingPage1 = `{
	"limit": 1, "count": 1, "next_cursor": "MQ==",
	"data": [{
		"condition_id": "0xaaa", "question_id": "0xq1", "active": true,
		"tokens": [
			{"token_id": "a_yes", "outcome": "Yes", "price": 0.6},
			{"token_id": "a_no",  "outcome": "No",  "price": 0.4}
		]
	}]
}`

const samplingPage2 = `{
	"limit": 1, "count": 1, "next_cursor": "LTE=",
	"data": [{
		"condition_id": "0xbbb", "question_id": "0xq2", "active": true, "neg_risk": true,
		"tokens": [
			{"token_id": "b_yes", "outcome": "Yes", "price": 0.3},
			{"token_id": "b_no",  "outcome": "No",  "price": 0.7}
		]
	}]
}`

func TestFetchSamplingMarkets_PaginatesAndEnriches(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sampling-markets", r.URL.Path)
		if r.URL.Query().Get("next_cursor") == "MQ==" {
			w.Write([]byte(samplingPage2))
			return
		}
		w.Write([]byte(samplingPage1))
	}))
	defer clob.Close()

	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xaaa,0xbbb", r.URL.Query().Get("condition_ids"))
		w.Write([]byte(`[{"conditionId": "0xaaa", "question": "Will A?", "slug": "a",
			"endDateIso": "2026-12-01", "volume24hr": "2500.5", "negRisk": false}]`))
	}))
	defer gamma.Close()

	markets, err := newTestClient(clob, gamma).FetchSamplingMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)

	assert.Equal(t, "Will A?", markets[0].Question)
	assert.InDelta(t, 2500.5, markets[0].Volume24h, 1e-9)
	assert.False(t, markets[0].EndDate.IsZero())
	assert.Equal(t, "0xbbb", markets[1].ConditionID)
	assert.True(t, markets[1].NegRisk)
	assert.Empty(t, markets[1].Question, "sin datos en gamma queda sin enriquecer")
}

func TestFetchSamplingMarkets_GammaDownIsNotFatal(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(samplingPage2))
	}))
	defer clob.Close()
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gamma.Close()

	markets, err := newTestClient(clob, gamma).FetchSamplingMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 1)
}

func TestEnrichWithGamma_BatchesAndClosedMarkets(t *testing.T) {
	var requested atomic.Int32
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("condition_ids"), ",")
		requested.Add(int32(len(ids)))
		assert.LessOrEqual(t, len(ids), 20)
		if ids[0] == "0x20" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		out := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			out = append(out, map[string]any{"conditionId": id, "question": "Q " + id, "closed": id == "0x03"})
		}
		assert.NoError(t, json.NewEncoder(w).Encode(out))
	}))
	defer gamma.Close()

	markets := make([]domain.Market, 0, 26)
	for i := range 25 {
		markets = append(markets, domain.Market{ConditionID: fmt.Sprintf("0x%02d", i), Active: true})
	}
	markets = append(markets, domain.Market{ConditionID: "0x01", Active: true})

	got, err := newTestClient(nil, gamma).EnrichWithGamma(context.Background(), markets)
	require.NoError(t, err)
	require.Len(t, got, 26)

	assert.Equal(t, int32(25), requested.Load(), "cada condition_id se pide una vez")
	assert.Equal(t, "Q 0x00", got[0].Question)
	assert.Equal(t, "Q 0x01", got[25].Question)
	assert.True(t, got[3].Closed, "gamma ya lo cerró")
	assert.False(t, got[4].Closed)
	assert.Empty(t, got[21].Question, "el batch caído queda sin enriquecer")
}

func TestEnrichWithGamma_AllBatchesFailed(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gamma.Close()

	_, err := newTestClient(nil, gamma).EnrichWithGamma(context.Background(),
		[]domain.Market{{ConditionID: "0xaaa"}})
	require.Error(t, err)
}

func TestFetchSamplingMarkets_ServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, nil).FetchSamplingMarkets(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load(), "1 intento + 3 retries")
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooEarly)
			return
		}
		w.Write([]byte(`{"asset_id":"tok","bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.44","size":"10"}]}`))
	}))
	defer srv.Close()

	s, err := newTestClient(srv, nil).BookSummary(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 0.42, s.Mid, 1e-9)
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, nil).BookSummary(context.Background(), "tok")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBookSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		switch r.URL.Query().Get("token_id") {
		case "missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"No orderbook exists for the requested token id"}`))
		case "empty":
			w.Write([]byte(`{"asset_id":"empty","bids":[],"asks":[]}`))
		default:
			w.Write([]byte(`{"asset_id":"tok","min_order_size":"10",
				"bids":[{"price":"0.40","size":"100"},{"price":"0.45","size":"20"}],
				"asks":[{"price":"0.55","size":"20"},{"price":"0.60","size":"100"}]}`))
		}
	}))
	defer srv.Close()
	c := newTestClient(srv, nil)
	ctx := context.Background()

	s, err := c.BookSummary(ctx, "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.45, s.BestBid, 1e-9)
	assert.InDelta(t, 0.55, s.BestAsk, 1e-9)
	assert.True(t, s.HasMid)
	assert.InDelta(t, 10, s.MinOrderSize, 1e-9)

	_, err = c.BookSummary(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNoBook)
	_, err = c.BookSummary(ctx, "empty")
	assert.ErrorIs(t, err, domain.ErrNoBook)
}

func TestFetchOrderBooks_BatchSplitting(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		calls.Add(1)

		var body []struct {
			TokenID string `json:"token_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.LessOrEqual(t, len(body), 20)

		resp := make([]map[string]any, 0, len(body))
		for _, b := range body {
			resp = append(resp, map[string]any{
				"asset_id": b.TokenID,
				"bids":     []map[string]string{{"price": "0.40", "size": "10"}},
				"asks":     []map[string]string{{"price": "0.60", "size": "10"}},
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	ids := make([]string, 45)
	for i := range ids {
		ids[i] = fmt.Sprintf("tok%02d", i)
	}

	books, err := newTestClient(srv, nil).FetchOrderBooks(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, books, 45)
	assert.Equal(t, int32(3), calls.Load())
	assert.InDelta(t, 0.5, books["tok07"].Midpoint(), 1e-9)

	empty, err := newTestClient(srv, nil).FetchOrderBooks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
