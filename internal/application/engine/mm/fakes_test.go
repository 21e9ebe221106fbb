package mm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

var (
	_ ports.Exchange   = (*fakeExchange)(nil)
	_ ports.Collateral = (*fakeCollateral)(nil)
	_ ports.Store      = (*fakeStore)(nil)
)

// ─── Exchange ─────────────────────────────────────────────────────────────

type fakeExchange struct {
	mu         sync.Mutex
	books      map[string]domain.BookSummary
	balance    float64
	balanceErr error
	placeErr   error
	cancelErr  error
	autoFill   map[string]bool // tokens cuyas órdenes se llenan al colocarse
	reprice    float64         // desplazamiento post-only que aplica el gateway

	seq       int
	placed    []domain.PlaceOrderRequest
	orderIDs  []string
	status    map[string]domain.OrderExecution
	open      []domain.OpenOrder
	cancelled []string
	cancelAll int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		books:    make(map[string]domain.BookSummary),
		balance:  1000,
		autoFill: make(map[string]bool),
		status:   make(map[string]domain.OrderExecution),
	}
}

func (f *fakeExchange) BookSummary(_ context.Context, tokenID string) (domain.BookSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.books[tokenID]
	if !ok {
		return domain.BookSummary{}, domain.ErrNoBook
	}
	return s, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.PlacedOrder{}, f.placeErr
	}
	f.seq++
	id := fmt.Sprintf("o%d", f.seq)
	f.placed = append(f.placed, req)
	f.orderIDs = append(f.orderIDs, id)
	price := req.Price
	if req.PostOnly && f.reprice > 0 {
		if req.Side == domain.SideBuy {
			price -= f.reprice
		} else {
			price += f.reprice
		}
	}
	exec := domain.OrderExecution{OrderID: id, State: domain.OrderLive, OriginalSize: req.Size, AvgFillPrice: price}
	if f.autoFill[req.TokenID] {
		exec.State, exec.Filled, exec.SizeMatched = domain.OrderFilled, true, req.Size
	}
	f.status[id] = exec
	return domain.PlacedOrder{OrderID: id, Price: price}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	if exec, ok := f.status[id]; ok && exec.State != domain.OrderFilled {
		exec.State = domain.OrderCancelled
		f.status[id] = exec
	}
	return nil
}

func (f *fakeExchange) CancelAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll++
	return nil
}

func (f *fakeExchange) OrderStatus(_ context.Context, id string) (domain.OrderExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.status[id]
	if !ok {
		return domain.OrderExecution{}, errors.New("order not found")
	}
	return exec, nil
}

func (f *fakeExchange) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OpenOrder(nil), f.open...), nil
}

func (f *fakeExchange) Balance(context.Context) (float64, error) {
	return f.balance, f.balanceErr
}

// fill marca una orden como ejecutada (parcial si matched < tamaño original).
func (f *fakeExchange) fill(id string, matched float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec := f.status[id]
	exec.SizeMatched = matched
	if matched >= exec.OriginalSize {
		exec.State, exec.Filled = domain.OrderFilled, true
	} else {
		exec.State = domain.OrderPartial
	}
	f.status[id] = exec
}

// ─── Collateral ───────────────────────────────────────────────────────────

type fakeCollateral struct {
	err    error
	splits []float64
	merges []float64
}

func (f *fakeCollateral) Split(_ context.Context, cond string, amount float64, _ bool) (domain.CollateralResult, error) {
	res := domain.CollateralResult{Op: domain.CollateralSplit, ConditionID: cond, Amount: amount, Success: f.err == nil, TxHash: "0xtx"}
	if f.err != nil {
		return res, f.err
	}
	f.splits = append(f.splits, amount)
	return res, nil
}

func (f *fakeCollateral) Merge(_ context.Context, cond string, amount float64, _ bool) (domain.CollateralResult, error) {
	res := domain.CollateralResult{Op: domain.CollateralMerge, ConditionID: cond, Amount: amount, Success: f.err == nil, TxHash: "0xtx"}
	if f.err != nil {
		return res, f.err
	}
	f.merges = append(f.merges, amount)
	return res, nil
}

// ─── Store ────────────────────────────────────────────────────────────────

type fakeStore struct {
	signals    domain.Signals
	quotes     map[int64]domain.QuoteRecord
	nextID     int64
	statuses   map[int64][]string
	fills      []domain.Fill
	inventory  map[string]domain.InventoryRow
	status     domain.BotStatus
	collateral []domain.CollateralResult
	arbs       []domain.ArbResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		quotes:    make(map[int64]domain.QuoteRecord),
		statuses:  make(map[int64][]string),
		inventory: make(map[string]domain.InventoryRow),
	}
}

func (s *fakeStore) InsertQuote(_ context.Context, q domain.QuoteRecord) (int64, error) {
	s.nextID++
	q.ID = s.nextID
	s.quotes[q.ID] = q
	return q.ID, nil
}

func (s *fakeStore) UpdateQuoteStatus(_ context.Context, id int64, status string) error {
	s.statuses[id] = append(s.statuses[id], status)
	q := s.quotes[id]
	q.Status = status
	s.quotes[id] = q
	return nil
}

func (s *fakeStore) ActiveQuotes(context.Context) ([]domain.QuoteRecord, error) {
	var out []domain.QuoteRecord
	for _, q := range s.quotes {
		if q.Status == domain.QuoteActive {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *fakeStore) QuotesByID(_ context.Context, ids []int64) (map[int64]domain.QuoteRecord, error) {
	out := make(map[int64]domain.QuoteRecord, len(ids))
	for _, id := range ids {
		if q, ok := s.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (s *fakeStore) InsertFill(_ context.Context, f domain.Fill) (int64, error) {
	f.ID = int64(len(s.fills) + 1)
	s.fills = append(s.fills, f)
	return f.ID, nil
}

func (s *fakeStore) UpdateFillMid30(context.Context, int64, float64) error { return nil }

func (s *fakeStore) UpdateFillMid120(context.Context, int64, float64, float64) error { return nil }

func (s *fakeStore) PendingFills(context.Context, time.Time) ([]domain.Fill, error) { return nil, nil }

func (s *fakeStore) FillsBetween(context.Context, time.Time, time.Time) ([]domain.Fill, error) {
	return s.fills, nil
}

func (s *fakeStore) RecentAdverse(context.Context, int) ([]float64, error) { return nil, nil }

func (s *fakeStore) UpsertInventory(_ context.Context, row domain.InventoryRow) error {
	s.inventory[row.TokenID] = row
	return nil
}

func (s *fakeStore) Inventory(context.Context) ([]domain.InventoryRow, error) {
	out := make([]domain.InventoryRow, 0, len(s.inventory))
	for _, r := range s.inventory {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) UpsertDailyMetrics(context.Context, domain.DailyMetrics) error { return nil }

func (s *fakeStore) DailyMetricsSince(context.Context, string) ([]domain.DailyMetrics, error) {
	return nil, nil
}

func (s *fakeStore) SaveBotStatus(_ context.Context, st domain.BotStatus) error {
	s.status = st
	return nil
}

func (s *fakeStore) LoadBotStatus(context.Context) (domain.BotStatus, error) { return s.status, nil }

func (s *fakeStore) Signals(context.Context) (domain.Signals, error) { return s.signals, nil }

func (s *fakeStore) SetSignal(context.Context, string, string) error { return nil }

func (s *fakeStore) SaveCollateral(_ context.Context, r domain.CollateralResult) error {
	s.collateral = append(s.collateral, r)
	return nil
}

func (s *fakeStore) CollateralHistory(context.Context, time.Time) ([]domain.CollateralResult, error) {
	return s.collateral, nil
}

func (s *fakeStore) SaveArbResult(_ context.Context, r domain.ArbResult) error {
	s.arbs = append(s.arbs, r)
	return nil
}

func (s *fakeStore) Close() error { return nil }

// lastStatus devuelve el último estado escrito para un quote.
func (s *fakeStore) lastStatus(id int64) string {
	st := s.statuses[id]
	if len(st) == 0 {
		return ""
	}
	return st[len(st)-1]
}

// ─── Universe / adverse ───────────────────────────────────────────────────

type fakeUniverse struct {
	markets []domain.Market
	err     error
}

func (u *fakeUniverse) Markets(context.Context) ([]domain.Market, error) {
	return u.markets, u.err
}

type fakeAdverse struct{ bps float64 }

func (a *fakeAdverse) RollingAdverse(context.Context) (float64, error) { return a.bps, nil }
