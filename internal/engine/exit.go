package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/storage"
	"github.com/web3guy0/solbot/internal/trader"
)

// RunExitChecks walks the open positions once: ratchets trailing stops,
// evaluates exit predicates in order and closes matches. Per-position
// failures are recorded and never stop the batch; a fatal storage error is
// returned to the scheduler.
func (e *Engine) RunExitChecks(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{StartedAt: e.now().UTC()}
	s := e.cfg.Snapshot()

	e.refreshNativePrice(ctx, s.Chain)
	if _, ok := e.NativePrice(); !ok {
		log.Warn().Msg("⚠️ exit checks running without a native price")
	}

	positions, err := e.store.ListOpenPositions(s.Chain)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	trailed := 0
	for i := range positions {
		pos := positions[i]

		ref, err := e.prices.FetchReference(ctx, pos.Chain, pos.TokenAddress)
		if err != nil {
			res.addError("price %s: %v", pos.TokenAddress, err)
			continue
		}
		current := ref.PriceUSD

		if current.GreaterThan(pos.HighestPrice) {
			newHighest := current
			candidateStop := newHighest.Mul(pctFactor(-s.TrailingStopPct))
			newStop := pos.StopPrice
			if candidateStop.GreaterThan(newStop) {
				newStop = candidateStop
			}
			if _, err := e.store.UpdateTrailingStop(pos.ID, newStop, newHighest); err != nil {
				return nil, fmt.Errorf("update trailing stop: %w", err)
			}
			pos.StopPrice = newStop
			pos.HighestPrice = newHighest
			trailed++
		}

		reason := exitReason(&pos, current, s.MaxHoldHours, e.now())
		if reason == "" {
			continue
		}

		closed, err := e.closePosition(ctx, s.DryRun, &pos, current, reason)
		if err != nil {
			res.addError("close %s: %v", pos.TokenAddress, err)
			continue
		}
		if closed != nil {
			res.PositionsClosed = append(res.PositionsClosed, *closed)
		}
	}

	res.Summary = fmt.Sprintf("exit checks: %d open, %d trailing updates, %d closed, %d errors",
		len(positions), trailed, len(res.PositionsClosed), len(res.Errors))
	res.FinishedAt = e.now().UTC()
	return res, nil
}

// exitReason evaluates the exit predicates in order; empty means hold.
func exitReason(pos *storage.Position, current decimal.Decimal, maxHoldHours float64, now time.Time) string {
	switch {
	case current.LessThanOrEqual(pos.StopPrice):
		return storage.ReasonStopLoss
	case current.GreaterThanOrEqual(pos.TakePrice):
		return storage.ReasonTakeProfit
	case maxHoldHours > 0 && now.Sub(pos.OpenedAt).Hours() >= maxHoldHours:
		return storage.ReasonMaxHoldTime
	default:
		return ""
	}
}

// closePosition sells one position and persists the close. A failed sell is
// recorded and leaves the position open; nil, nil is returned so the batch
// continues without an error entry beyond the execution record.
func (e *Engine) closePosition(ctx context.Context, dryRun bool, pos *storage.Position, current decimal.Decimal, reason string) (*storage.Position, error) {
	sellQty := pos.QuantityToken
	if !dryRun {
		balance, err := e.trader.GetWalletTokenBalance(ctx, pos.TokenAddress)
		if err != nil {
			log.Warn().Err(err).Str("token", pos.TokenAddress).Msg("wallet balance check failed")
		} else if balance != nil && balance.LessThan(sellQty) {
			log.Warn().
				Str("token", pos.TokenAddress).
				Str("recorded", sellQty.String()).
				Str("wallet", balance.String()).
				Msg("⚠️ wallet holds less than recorded, selling wallet amount")
			sellQty = *balance
		}
	}
	if !sellQty.IsPositive() {
		return nil, fmt.Errorf("nothing to sell, wallet empty")
	}

	notional := current.Mul(sellQty)
	result, err := e.trader.ExecuteTrade(ctx, trader.TradeParams{
		Side:        trader.SideSell,
		Token:       pos.TokenAddress,
		NotionalUSD: notional,
		Quantity:    sellQty,
		DryRun:      dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("execute sell: %w", err)
	}
	if !result.Success {
		e.recordAttempt(&pos.ID, pos.TokenAddress, pos.Symbol, pos.Chain, storage.ActionSell, notional, result)
		return nil, fmt.Errorf("sell failed: %s", result.Error)
	}

	exitPrice := result.PriceUSD
	if !exitPrice.IsPositive() {
		exitPrice = current
	}
	pnl := exitPrice.Sub(pos.EntryPrice).Mul(sellQty)

	ok, err := e.store.ClosePosition(pos.ID, exitPrice, reason, pnl)
	if err != nil {
		return nil, fmt.Errorf("persist close: %w", err)
	}
	if !ok {
		log.Warn().Int64("id", pos.ID).Msg("position already closed")
	}

	e.recordAttempt(&pos.ID, pos.TokenAddress, pos.Symbol, pos.Chain, storage.ActionSell, notional, result)

	if reason == storage.ReasonStopLoss && pnl.IsNegative() {
		if _, err := e.store.IncrementNegativeSLCount(pos.TokenAddress, pos.Chain); err != nil {
			return nil, fmt.Errorf("increment negative-SL counter: %w", err)
		}
	}

	now := e.now().UTC()
	pos.Status = storage.StatusClosed
	pos.ClosedAt = &now
	pos.ExitPrice = exitPrice
	pos.RealizedPnLUSD = pnl
	pos.CloseReason = reason

	log.Info().
		Str("token", pos.TokenAddress).
		Str("reason", reason).
		Str("exit", exitPrice.StringFixed(8)).
		Str("pnl", pnl.StringFixed(2)).
		Msg("🔴 Position closed")
	return pos, nil
}
