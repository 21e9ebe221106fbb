package storage

// live.go — fills, inventario y ejecuciones on-chain del market maker.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// ─── Fills ───────────────────────────────────────────────────────────────────

const fillColumns = `id, quote_id, market_id, token_id, order_id, side, price, size, fee,
	mid_at_fill, mid_at_30s, mid_at_120s, adverse_bps, filled_at`

// InsertFill registra un fill y devuelve su id.
func (s *SQLiteStorage) InsertFill(ctx context.Context, f domain.Fill) (int64, error) {
	at := f.FilledAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fills
		  (quote_id, market_id, token_id, order_id, side, price, size, fee,
		   mid_at_fill, mid_at_30s, mid_at_120s, adverse_bps, filled_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullID(f.QuoteID), f.MarketID, f.TokenID, f.OrderID, string(f.Side), f.Price, f.Size, f.Fee,
		f.MidAtFill, nullFloat(f.MidAt30s), nullFloat(f.MidAt120s), nullFloat(f.AdverseBps), fmtTime(at),
	)
	if err != nil {
		return 0, fmt.Errorf("storage.InsertFill: %w", err)
	}
	return res.LastInsertId()
}

// PendingFills devuelve los fills de quotes (no ARB) desde since que todavía no
// tienen adverse selection medido.
func (s *SQLiteStorage) PendingFills(ctx context.Context, since time.Time) ([]domain.Fill, error) {
	fills, err := s.queryFills(ctx,
		`WHERE filled_at >= ? AND adverse_bps IS NULL AND side != ? ORDER BY filled_at ASC`,
		fmtTime(since), string(domain.SideArb))
	if err != nil {
		return nil, fmt.Errorf("storage.PendingFills: %w", err)
	}
	return fills, nil
}

// UpdateFillMid30 guarda la muestra del mid a T+30s.
func (s *SQLiteStorage) UpdateFillMid30(ctx context.Context, id int64, mid float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE fills SET mid_at_30s=? WHERE id=?`, mid, id)
	if err != nil {
		return fmt.Errorf("storage.UpdateFillMid30: %w", err)
	}
	return nil
}

// UpdateFillMid120 guarda la muestra a T+120s y el adverse selection resultante.
func (s *SQLiteStorage) UpdateFillMid120(ctx context.Context, id int64, mid, adverseBps float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fills SET mid_at_120s=?, adverse_bps=? WHERE id=?`, mid, adverseBps, id)
	if err != nil {
		return fmt.Errorf("storage.UpdateFillMid120: %w", err)
	}
	return nil
}

// FillsBetween devuelve los fills con filled_at en [from, to], en orden cronológico.
func (s *SQLiteStorage) FillsBetween(ctx context.Context, from, to time.Time) ([]domain.Fill, error) {
	fills, err := s.queryFills(ctx,
		`WHERE filled_at BETWEEN ? AND ? ORDER BY filled_at ASC, id ASC`, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("storage.FillsBetween: %w", err)
	}
	return fills, nil
}

// RecentAdverse devuelve los últimos n adverse selection medidos, el más reciente primero.
func (s *SQLiteStorage) RecentAdverse(ctx context.Context, n int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT adverse_bps FROM fills
		WHERE adverse_bps IS NOT NULL
		ORDER BY filled_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentAdverse: query: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("storage.RecentAdverse: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) queryFills(ctx context.Context, where string, args ...any) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fillColumns+` FROM fills `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var quoteID sql.NullInt64
		var side, at string
		var mid30, mid120, adverse sql.NullFloat64
		if err := rows.Scan(&f.ID, &quoteID, &f.MarketID, &f.TokenID, &f.OrderID, &side,
			&f.Price, &f.Size, &f.Fee, &f.MidAtFill, &mid30, &mid120, &adverse, &at); err != nil {
			return nil, err
		}
		f.QuoteID = quoteID.Int64
		f.Side = domain.Side(side)
		f.MidAt30s = floatPtr(mid30)
		f.MidAt120s = floatPtr(mid120)
		f.AdverseBps = floatPtr(adverse)
		f.FilledAt = parseTime(at)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ─── Inventory ───────────────────────────────────────────────────────────────

// UpsertInventory guarda la posición de una pata, clave (market_id, token_id).
func (s *SQLiteStorage) UpsertInventory(ctx context.Context, r domain.InventoryRow) error {
	at := r.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory
		  (market_id, token_id, outcome, net_position, avg_entry_price, realized_pnl, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(market_id, token_id) DO UPDATE SET
		  outcome=excluded.outcome,
		  net_position=excluded.net_position,
		  avg_entry_price=excluded.avg_entry_price,
		  realized_pnl=excluded.realized_pnl,
		  updated_at=excluded.updated_at`,
		r.MarketID, r.TokenID, string(r.Outcome), r.NetPosition, r.AvgEntryPrice, r.RealizedPnL, fmtTime(at),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertInventory %s: %w", domain.ShortID(r.MarketID), err)
	}
	return nil
}

// Inventory devuelve todas las filas, ordenadas por mercado y outcome.
func (s *SQLiteStorage) Inventory(ctx context.Context) ([]domain.InventoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, token_id, outcome, net_position, avg_entry_price, realized_pnl, updated_at
		FROM inventory ORDER BY market_id ASC, outcome DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage.Inventory: query: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryRow
	for rows.Next() {
		var r domain.InventoryRow
		var outcome, at string
		if err := rows.Scan(&r.MarketID, &r.TokenID, &outcome, &r.NetPosition,
			&r.AvgEntryPrice, &r.RealizedPnL, &at); err != nil {
			return nil, fmt.Errorf("storage.Inventory: scan: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		r.UpdatedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Collateral ──────────────────────────────────────────────────────────────

// SaveCollateral registra el resultado de un split o merge on-chain.
func (s *SQLiteStorage) SaveCollateral(ctx context.Context, r domain.CollateralResult) error {
	at := r.ExecutedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collateral_ops
		  (op, condition_id, amount, tx_hash, gas_used, gas_cost_usd, success, error, executed_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		string(r.Op), r.ConditionID, r.Amount, r.TxHash, int64(r.GasUsed), r.GasCostUSD,
		boolToInt(r.Success), r.Error, fmtTime(at),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveCollateral: %w", err)
	}
	return nil
}

// CollateralHistory devuelve las operaciones desde since, en orden cronológico.
func (s *SQLiteStorage) CollateralHistory(ctx context.Context, since time.Time) ([]domain.CollateralResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op, condition_id, amount, tx_hash, gas_used, gas_cost_usd, success, error, executed_at
		FROM collateral_ops WHERE executed_at >= ? ORDER BY executed_at ASC, id ASC`, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("storage.CollateralHistory: query: %w", err)
	}
	defer rows.Close()

	var results []domain.CollateralResult
	for rows.Next() {
		var r domain.CollateralResult
		var op, at string
		var gasUsed int64
		var successInt int
		var errStr sql.NullString
		if err := rows.Scan(&op, &r.ConditionID, &r.Amount, &r.TxHash, &gasUsed, &r.GasCostUSD,
			&successInt, &errStr, &at); err != nil {
			return nil, fmt.Errorf("storage.CollateralHistory: scan: %w", err)
		}
		r.Op = domain.CollateralOp(op)
		r.GasUsed = uint64(gasUsed)
		r.Success = successInt != 0
		r.Error = errStr.String
		r.ExecutedAt = parseTime(at)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ─── Arbitrage ───────────────────────────────────────────────────────────────

// SaveArbResult persiste un arbitraje ejecutado (cualquier status).
func (s *SQLiteStorage) SaveArbResult(ctx context.Context, r domain.ArbResult) error {
	at := r.ExecutedAt
	if at.IsZero() {
		at = time.Now()
	}
	o := r.Opportunity
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO arb_executions
		  (id, market_id, type, status, yes_price, no_price, yes_filled, no_filled,
		   yes_fill_price, no_fill_price, merged, split, profit_usd, gas_usd, error, executed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, o.MarketID, string(o.Type), string(r.Status), o.YesPrice, o.NoPrice, r.YesFilled, r.NoFilled,
		r.YesFillPrice, r.NoFillPrice, r.Merged, r.Split, r.ProfitUSD, r.GasUSD, r.Err, fmtTime(at),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveArbResult: %w", err)
	}
	return nil
}
