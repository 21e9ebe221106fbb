package storage

// sqlite.go — persistencia del market maker.
//
// Tablas:
//   quotes          — un QuotePair por fila, status active → filled/replaced/cancelled
//   fills           — fills con muestras de adverse selection a 30s y 120s
//   inventory       — espejo durable del ledger, una fila por (market, token)
//   daily_metrics   — agregado diario, upsert por fecha
//   bot_status      — contadores del loop, siempre 1 fila
//   signals         — señales operativas key/value (paused, kill_list, ...)
//   collateral_ops  — splits y merges on-chain
//   arb_executions  — arbitrajes ejecutados
//
// Los timestamps se guardan como TEXT UTC de ancho fijo para que las
// comparaciones lexicográficas de SQLite respeten el orden temporal.

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    pair_id       TEXT NOT NULL,
    market_id     TEXT NOT NULL,
    token_id      TEXT NOT NULL,
    bid_order_id  TEXT NOT NULL DEFAULT '',
    ask_order_id  TEXT NOT NULL DEFAULT '',
    bid_price     REAL NOT NULL DEFAULT 0,
    ask_price     REAL NOT NULL DEFAULT 0,
    bid_size      REAL NOT NULL DEFAULT 0,
    ask_size      REAL NOT NULL DEFAULT 0,
    mid_at_quote  REAL NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'active',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotes_status ON quotes(status);
CREATE INDEX IF NOT EXISTS idx_quotes_market ON quotes(market_id);

CREATE TABLE IF NOT EXISTS fills (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    quote_id     INTEGER,
    market_id    TEXT NOT NULL,
    token_id     TEXT NOT NULL DEFAULT '',
    order_id     TEXT NOT NULL DEFAULT '',
    side         TEXT NOT NULL,
    price        REAL NOT NULL,
    size         REAL NOT NULL,
    fee          REAL NOT NULL DEFAULT 0,
    mid_at_fill  REAL NOT NULL DEFAULT 0,
    mid_at_30s   REAL,
    mid_at_120s  REAL,
    adverse_bps  REAL,
    filled_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_at ON fills(filled_at DESC);

CREATE TABLE IF NOT EXISTS inventory (
    market_id        TEXT NOT NULL,
    token_id         TEXT NOT NULL,
    outcome          TEXT NOT NULL,
    net_position     REAL NOT NULL DEFAULT 0,
    avg_entry_price  REAL NOT NULL DEFAULT 0,
    realized_pnl     REAL NOT NULL DEFAULT 0,
    updated_at       TEXT NOT NULL,
    PRIMARY KEY (market_id, token_id)
);

CREATE TABLE IF NOT EXISTS daily_metrics (
    date                  TEXT PRIMARY KEY,
    fills_count           INTEGER NOT NULL DEFAULT 0,
    spread_capture_rate   REAL NOT NULL DEFAULT 0,
    fill_quality_avg_bps  REAL NOT NULL DEFAULT 0,
    adverse_selection_bps REAL NOT NULL DEFAULT 0,
    pnl_gross             REAL NOT NULL DEFAULT 0,
    pnl_net               REAL NOT NULL DEFAULT 0,
    max_inventory         REAL NOT NULL DEFAULT 0,
    inventory_turns       REAL NOT NULL DEFAULT 0,
    profit_factor         REAL NOT NULL DEFAULT 0,
    sharpe_7d             REAL NOT NULL DEFAULT 0,
    portfolio_value       REAL NOT NULL DEFAULT 0,
    updated_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_status (
    id              INTEGER PRIMARY KEY DEFAULT 1,
    cycle           INTEGER NOT NULL DEFAULT 0,
    active_markets  INTEGER NOT NULL DEFAULT 0,
    active_quotes   INTEGER NOT NULL DEFAULT 0,
    exposure        REAL NOT NULL DEFAULT 0,
    realized_pnl    REAL NOT NULL DEFAULT 0,
    free_capital    REAL NOT NULL DEFAULT 0,
    paused          INTEGER NOT NULL DEFAULT 0,
    reduce_mode     INTEGER NOT NULL DEFAULT 0,
    cooling_down    INTEGER NOT NULL DEFAULT 0,
    last_cycle      TEXT
);

-- Exactamente una fila de status
INSERT OR IGNORE INTO bot_status (id) VALUES (1);

CREATE TABLE IF NOT EXISTS signals (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS collateral_ops (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    op            TEXT NOT NULL,
    condition_id  TEXT NOT NULL,
    amount        REAL NOT NULL,
    tx_hash       TEXT NOT NULL DEFAULT '',
    gas_used      INTEGER NOT NULL DEFAULT 0,
    gas_cost_usd  REAL NOT NULL DEFAULT 0,
    success       INTEGER NOT NULL DEFAULT 0,
    error         TEXT,
    executed_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS arb_executions (
    id              TEXT PRIMARY KEY,
    market_id       TEXT NOT NULL,
    type            TEXT NOT NULL,
    status          TEXT NOT NULL,
    yes_price       REAL NOT NULL DEFAULT 0,
    no_price        REAL NOT NULL DEFAULT 0,
    yes_filled      REAL NOT NULL DEFAULT 0,
    no_filled       REAL NOT NULL DEFAULT 0,
    yes_fill_price  REAL NOT NULL DEFAULT 0,
    no_fill_price   REAL NOT NULL DEFAULT 0,
    merged          REAL NOT NULL DEFAULT 0,
    split           REAL NOT NULL DEFAULT 0,
    profit_usd      REAL NOT NULL DEFAULT 0,
    gas_usd         REAL NOT NULL DEFAULT 0,
    error           TEXT,
    executed_at     TEXT NOT NULL
);
`

// Signal keys, re-exportadas para quien escribe señales desde fuera del engine.
const (
	SignalPaused     = domain.SignalPaused
	SignalReduceMode = domain.SignalReduceMode
	SignalKillSwitch = domain.SignalKillSwitch
	SignalKillList   = domain.SignalKillList
)

const (
	timeLayout        = "2006-01-02T15:04:05.000000Z"
	retentionQuotes   = 14 * 24 * time.Hour // quotes terminales
	retentionFills    = 90 * 24 * time.Hour
	retentionExecuted = 30 * 24 * time.Hour // collateral_ops y arb_executions
)

// SQLiteStorage implementa ports.Store usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// migrations agrega columnas a bases creadas con un schema anterior.
var migrations = []struct{ table, column, def string }{
	{"bot_status", "cooling_down", "INTEGER NOT NULL DEFAULT 0"},
}

func migrate(db *sql.DB) error {
	for _, m := range migrations {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&n)
		if err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ─── Quotes ──────────────────────────────────────────────────────────────────

// InsertQuote persiste un quote nuevo y devuelve su id.
func (s *SQLiteStorage) InsertQuote(ctx context.Context, q domain.QuoteRecord) (int64, error) {
	created := q.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	status := q.Status
	if status == "" {
		status = domain.QuoteActive
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes
		  (pair_id, market_id, token_id, bid_order_id, ask_order_id, bid_price, ask_price,
		   bid_size, ask_size, mid_at_quote, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		q.PairID, q.MarketID, q.TokenID, q.BidOrderID, q.AskOrderID, q.BidPrice, q.AskPrice,
		q.BidSize, q.AskSize, q.MidAtQuote, status, fmtTime(created), fmtTime(created),
	)
	if err != nil {
		return 0, fmt.Errorf("storage.InsertQuote: %w", err)
	}
	return res.LastInsertId()
}

// UpdateQuoteStatus actualiza el status de un quote.
func (s *SQLiteStorage) UpdateQuoteStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET status=?, updated_at=? WHERE id=?`, status, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("storage.UpdateQuoteStatus: %w", err)
	}
	return nil
}

// ActiveQuotes devuelve los quotes con status active, los más viejos primero.
func (s *SQLiteStorage) ActiveQuotes(ctx context.Context) ([]domain.QuoteRecord, error) {
	quotes, err := s.queryQuotes(ctx, `WHERE status=? ORDER BY created_at ASC, id ASC`, domain.QuoteActive)
	if err != nil {
		return nil, fmt.Errorf("storage.ActiveQuotes: %w", err)
	}
	return quotes, nil
}

// QuotesByID devuelve los quotes pedidos indexados por id. Los ids que no
// existen no aparecen en el mapa.
func (s *SQLiteStorage) QuotesByID(ctx context.Context, ids []int64) (map[int64]domain.QuoteRecord, error) {
	out := make(map[int64]domain.QuoteRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	where := `WHERE id IN (` + placeholders(len(ids)) + `)`
	quotes, err := s.queryQuotes(ctx, where, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.QuotesByID: %w", err)
	}
	for _, q := range quotes {
		out[q.ID] = q
	}
	return out, nil
}

func (s *SQLiteStorage) queryQuotes(ctx context.Context, where string, args ...any) ([]domain.QuoteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair_id, market_id, token_id, bid_order_id, ask_order_id, bid_price, ask_price,
		       bid_size, ask_size, mid_at_quote, status, created_at, updated_at
		FROM quotes `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []domain.QuoteRecord
	for rows.Next() {
		var q domain.QuoteRecord
		var created, updated string
		if err := rows.Scan(&q.ID, &q.PairID, &q.MarketID, &q.TokenID, &q.BidOrderID, &q.AskOrderID,
			&q.BidPrice, &q.AskPrice, &q.BidSize, &q.AskSize, &q.MidAtQuote, &q.Status,
			&created, &updated); err != nil {
			return nil, err
		}
		q.CreatedAt = parseTime(created)
		q.UpdatedAt = parseTime(updated)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// ─── Signals ─────────────────────────────────────────────────────────────────

// Signals lee las señales operativas. Las keys ausentes valen false / vacío.
func (s *SQLiteStorage) Signals(ctx context.Context) (domain.Signals, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM signals`)
	if err != nil {
		return domain.Signals{}, fmt.Errorf("storage.Signals: query: %w", err)
	}
	defer rows.Close()

	var sig domain.Signals
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return domain.Signals{}, fmt.Errorf("storage.Signals: scan: %w", err)
		}
		switch key {
		case SignalPaused:
			sig.Paused = parseBool(value)
		case SignalReduceMode:
			sig.ReduceMode = parseBool(value)
		case SignalKillSwitch:
			sig.KillSwitch = parseBool(value)
		case SignalKillList:
			for _, id := range strings.Split(value, ",") {
				if id = strings.TrimSpace(id); id != "" {
					sig.KillList = append(sig.KillList, id)
				}
			}
		}
	}
	return sig, rows.Err()
}

// SetSignal hace upsert de una señal.
func (s *SQLiteStorage) SetSignal(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("storage.SetSignal %s: %w", key, err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := time.Now()
	s.db.ExecContext(ctx, `DELETE FROM quotes WHERE status != ? AND updated_at < ?`,
		domain.QuoteActive, fmtTime(now.Add(-retentionQuotes)))
	s.db.ExecContext(ctx, `DELETE FROM fills WHERE filled_at < ?`, fmtTime(now.Add(-retentionFills)))
	s.db.ExecContext(ctx, `DELETE FROM collateral_ops WHERE executed_at < ?`, fmtTime(now.Add(-retentionExecuted)))
	s.db.ExecContext(ctx, `DELETE FROM arb_executions WHERE executed_at < ?`, fmtTime(now.Add(-retentionExecuted)))
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
