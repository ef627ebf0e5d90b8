// Package notify renders cycle results and daily summaries to external
// channels. Only sending is supported; bot control stays out of scope.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/engine"
	"github.com/web3guy0/solbot/internal/storage"
)

// Notifier receives eventful cycle results and summaries. Implementations
// must be safe for concurrent use; errors are logged and swallowed upstream.
type Notifier interface {
	NotifyStartup(mode string) error
	NotifyCycle(kind string, res *engine.CycleResult) error
	NotifyDailySummary(day time.Time, pnl decimal.Decimal, closed []storage.Position) error
}

// RenderCycle formats one cycle result as a Markdown message.
func RenderCycle(kind string, res *engine.CycleResult) string {
	var b strings.Builder

	emoji := "🔍"
	if kind == "exit" {
		emoji = "📉"
	}
	fmt.Fprintf(&b, "%s *%s cycle*\n%s\n", emoji, kind, res.Summary)

	for _, p := range res.PositionsOpened {
		fmt.Fprintf(&b, "\n🟢 *%s* opened\n💵 Entry: $%s\n📦 Size: $%s\n🛑 Stop: $%s  🎯 Take: $%s\n",
			p.Symbol,
			p.EntryPrice.StringFixed(8),
			p.NotionalUSD.StringFixed(2),
			p.StopPrice.StringFixed(8),
			p.TakePrice.StringFixed(8),
		)
	}

	for _, p := range res.PositionsClosed {
		emoji := "📊"
		switch p.CloseReason {
		case storage.ReasonTakeProfit:
			emoji = "💰"
		case storage.ReasonStopLoss:
			emoji = "🛑"
		case storage.ReasonMaxHoldTime:
			emoji = "⏰"
		}
		fmt.Fprintf(&b, "\n%s *%s* closed (%s)\n💵 Exit: $%s\n📈 PnL: *$%s*\n",
			emoji,
			p.Symbol,
			p.CloseReason,
			p.ExitPrice.StringFixed(8),
			p.RealizedPnLUSD.StringFixed(2),
		)
	}

	if len(res.Errors) > 0 {
		b.WriteString("\n⚠️ Errors:\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "• %s\n", e)
		}
	}
	return b.String()
}

// RenderDailySummary formats the end-of-day PnL report.
func RenderDailySummary(day time.Time, pnl decimal.Decimal, closed []storage.Position) string {
	var b strings.Builder

	emoji := "📊"
	if pnl.IsPositive() {
		emoji = "💰"
	} else if pnl.IsNegative() {
		emoji = "📉"
	}

	wins, losses := 0, 0
	for _, p := range closed {
		if p.RealizedPnLUSD.IsPositive() {
			wins++
		} else {
			losses++
		}
	}

	fmt.Fprintf(&b, `%s *DAILY SUMMARY — %s*
━━━━━━━━━━━━━━━━
💵 Realized PnL: *$%s*
✅ Wins: %d  ❌ Losses: %d
📦 Trades closed: %d`,
		emoji,
		day.UTC().Format("2006-01-02"),
		pnl.StringFixed(2),
		wins, losses,
		len(closed),
	)
	return b.String()
}
