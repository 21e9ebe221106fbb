package storage

// metrics.go — agregados diarios y estado del bot.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// UpsertDailyMetrics guarda el agregado del día; una fila por fecha.
func (s *SQLiteStorage) UpsertDailyMetrics(ctx context.Context, m domain.DailyMetrics) error {
	at := m.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_metrics
		  (date, fills_count, spread_capture_rate, fill_quality_avg_bps, adverse_selection_bps,
		   pnl_gross, pnl_net, max_inventory, inventory_turns, profit_factor, sharpe_7d,
		   portfolio_value, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET
		    fills_count           = excluded.fills_count,
		    spread_capture_rate   = excluded.spread_capture_rate,
		    fill_quality_avg_bps  = excluded.fill_quality_avg_bps,
		    adverse_selection_bps = excluded.adverse_selection_bps,
		    pnl_gross             = excluded.pnl_gross,
		    pnl_net               = excluded.pnl_net,
		    max_inventory         = excluded.max_inventory,
		    inventory_turns       = excluded.inventory_turns,
		    profit_factor         = excluded.profit_factor,
		    sharpe_7d             = excluded.sharpe_7d,
		    portfolio_value       = excluded.portfolio_value,
		    updated_at            = excluded.updated_at`,
		m.Date, m.FillsCount, m.SpreadCaptureRate, m.FillQualityAvgBps, m.AdverseSelectionBps,
		m.PnLGross, m.PnLNet, m.MaxInventory, m.InventoryTurns, m.ProfitFactor, m.Sharpe7d,
		m.PortfolioValue, fmtTime(at),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertDailyMetrics %s: %w", m.Date, err)
	}
	return nil
}

// DailyMetricsSince devuelve los agregados con date >= fromDate (YYYY-MM-DD),
// en orden cronológico.
func (s *SQLiteStorage) DailyMetricsSince(ctx context.Context, fromDate string) ([]domain.DailyMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, fills_count, spread_capture_rate, fill_quality_avg_bps, adverse_selection_bps,
		       pnl_gross, pnl_net, max_inventory, inventory_turns, profit_factor, sharpe_7d,
		       portfolio_value, updated_at
		FROM daily_metrics WHERE date >= ? ORDER BY date ASC`, fromDate)
	if err != nil {
		return nil, fmt.Errorf("storage.DailyMetricsSince: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyMetrics
	for rows.Next() {
		var m domain.DailyMetrics
		var at string
		if err := rows.Scan(&m.Date, &m.FillsCount, &m.SpreadCaptureRate, &m.FillQualityAvgBps,
			&m.AdverseSelectionBps, &m.PnLGross, &m.PnLNet, &m.MaxInventory, &m.InventoryTurns,
			&m.ProfitFactor, &m.Sharpe7d, &m.PortfolioValue, &at); err != nil {
			return nil, fmt.Errorf("storage.DailyMetricsSince: scan: %w", err)
		}
		m.UpdatedAt = parseTime(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveBotStatus sobreescribe la fila única de status.
func (s *SQLiteStorage) SaveBotStatus(ctx context.Context, st domain.BotStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bot_status SET
		  cycle=?, active_markets=?, active_quotes=?, exposure=?, realized_pnl=?,
		  free_capital=?, paused=?, reduce_mode=?, cooling_down=?, last_cycle=?
		WHERE id=1`,
		st.Cycle, st.ActiveMarkets, st.ActiveQuotes, st.Exposure, st.RealizedPnL,
		st.FreeCapital, boolToInt(st.Paused), boolToInt(st.ReduceMode), st.CoolingDown, nullTime(st.LastCycle),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveBotStatus: %w", err)
	}
	return nil
}

// LoadBotStatus lee la fila única de status.
func (s *SQLiteStorage) LoadBotStatus(ctx context.Context) (domain.BotStatus, error) {
	var st domain.BotStatus
	var paused, reduce int
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT cycle, active_markets, active_quotes, exposure, realized_pnl,
		       free_capital, paused, reduce_mode, cooling_down, last_cycle
		FROM bot_status WHERE id=1`).Scan(
		&st.Cycle, &st.ActiveMarkets, &st.ActiveQuotes, &st.Exposure, &st.RealizedPnL,
		&st.FreeCapital, &paused, &reduce, &st.CoolingDown, &last,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("storage.LoadBotStatus: %w", err)
	}
	st.Paused = paused != 0
	st.ReduceMode = reduce != 0
	if last.Valid && last.String != "" {
		st.LastCycle = parseTime(last.String)
	}
	return st, nil
}
