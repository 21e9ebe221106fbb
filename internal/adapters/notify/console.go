package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

// Console implementa ports.Notifier.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, now func() time.Time) *Console {
	return &Console{out: w, now: now}
}

// Report imprime el status del bot, el inventario, los quotes activos y las
// métricas diarias.
func (c *Console) Report(_ context.Context, r ports.StatusReport) error {
	c.printStatus(r.Status)
	c.printInventory(r.Inventory)
	c.printQuotes(r.Quotes)
	c.printDaily(r.Daily)
	c.printCollateral(r.Collateral)
	return nil
}

// printStatus imprime lo esencial en una línea.
func (c *Console) printStatus(s domain.BotStatus) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] cycle %d | mkts:%d quotes:%d | exposure $%.2f | realized $%.4f | free $%.2f",
		c.now().Format("15:04:05"), s.Cycle, s.ActiveMarkets, s.ActiveQuotes,
		s.Exposure, s.RealizedPnL, s.FreeCapital)
	if s.Paused {
		sb.WriteString(" | PAUSED")
	}
	if s.ReduceMode {
		sb.WriteString(" | REDUCE")
	}
	if s.CoolingDown > 0 {
		fmt.Fprintf(&sb, " | cooldown:%d", s.CoolingDown)
	}
	if !s.LastCycle.IsZero() {
		fmt.Fprintf(&sb, " | last cycle %s ago", c.now().Sub(s.LastCycle).Round(time.Second))
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printInventory(rows []domain.InventoryRow) {
	fmt.Fprintf(c.out, "\n=== INVENTORY ===\n")
	var open []domain.InventoryRow
	for _, r := range rows {
		if r.NetPosition != 0 || r.RealizedPnL != 0 {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		fmt.Fprintln(c.out, "  no positions")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Outcome", "Net", "Avg entry", "Realized", "Updated")
	var total float64
	for _, r := range open {
		total += r.RealizedPnL
		table.Append(
			shortLabel(r.MarketID),
			string(r.Outcome),
			fmt.Sprintf("%.2f", r.NetPosition),
			fmt.Sprintf("%.4f", r.AvgEntryPrice),
			fmt.Sprintf("$%.4f", r.RealizedPnL),
			timeLabel(r.UpdatedAt),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  Realized total: $%.4f\n", total)
}

func (c *Console) printQuotes(quotes []domain.QuoteRecord) {
	fmt.Fprintf(c.out, "\n=== ACTIVE QUOTES ===\n")
	if len(quotes) == 0 {
		fmt.Fprintln(c.out, "  no active quotes")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Bid", "Ask", "Spread", "Mid", "Age")
	for _, q := range quotes {
		table.Append(
			shortLabel(q.MarketID),
			legLabel(q.BidOrderID, q.BidPrice, q.BidSize),
			legLabel(q.AskOrderID, q.AskPrice, q.AskSize),
			spreadLabel(q),
			fmt.Sprintf("%.3f", q.MidAtQuote),
			c.now().Sub(q.CreatedAt).Round(time.Second).String(),
		)
	}
	table.Render()
}

func (c *Console) printDaily(days []domain.DailyMetrics) {
	fmt.Fprintf(c.out, "\n=== DAILY METRICS ===\n")
	if len(days) == 0 {
		fmt.Fprintln(c.out, "  no metrics yet")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Fills", "Capture", "Quality", "Adverse", "PnL gross", "PnL net", "PF", "Sharpe 7d", "Portfolio")
	for _, d := range days {
		table.Append(
			d.Date,
			fmt.Sprintf("%d", d.FillsCount),
			fmt.Sprintf("%.1f%%", d.SpreadCaptureRate*100),
			fmt.Sprintf("%.1fbps", d.FillQualityAvgBps),
			fmt.Sprintf("%.1fbps", d.AdverseSelectionBps),
			fmt.Sprintf("$%.4f", d.PnLGross),
			fmt.Sprintf("$%.4f", d.PnLNet),
			fmt.Sprintf("%.2f", d.ProfitFactor),
			fmt.Sprintf("%.2f", d.Sharpe7d),
			fmt.Sprintf("$%.2f", d.PortfolioValue),
		)
	}
	table.Render()
	fmt.Fprintln(c.out, "  Capture = spread capturado / cotizado | Quality y Adverse en bps contra el mid")
}

func (c *Console) printCollateral(ops []domain.CollateralResult) {
	if len(ops) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n=== SPLIT / MERGE ===\n")

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Op", "Market", "Amount", "Gas", "Result")
	var gas float64
	for _, op := range ops {
		gas += op.GasCostUSD
		result := "ok"
		if !op.Success {
			result = "FAILED " + truncate(op.Error, 30)
		}
		table.Append(
			timeLabel(op.ExecutedAt),
			string(op.Op),
			shortLabel(op.ConditionID),
			fmt.Sprintf("%.1f", op.Amount),
			fmt.Sprintf("$%.4f", op.GasCostUSD),
			result,
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  Gas total: $%.4f\n", gas)
}

// --- helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortLabel(id string) string {
	if len(id) > 14 {
		return id[:12] + "..."
	}
	return id
}

func legLabel(orderID string, price, size float64) string {
	if orderID == "" {
		return "-"
	}
	return fmt.Sprintf("%.2f x %.1f", price, size)
}

func spreadLabel(q domain.QuoteRecord) string {
	if q.BidOrderID == "" || q.AskOrderID == "" {
		return "one-sided"
	}
	return fmt.Sprintf("%.1fpts", (q.AskPrice-q.BidPrice)*100)
}

func timeLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("01-02 15:04")
}
