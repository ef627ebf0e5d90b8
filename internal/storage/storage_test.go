package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openTestPosition(t *testing.T, s *Store, token string) *Position {
	t.Helper()
	pos, err := s.AddPosition(AddPositionParams{
		TokenAddress:  token,
		Symbol:        "$test",
		Chain:         "Solana",
		EntryPrice:    dec("1.00"),
		QuantityToken: dec("100"),
		NotionalUSD:   dec("100"),
		StopPrice:     dec("0.92"),
		TakePrice:     dec("1.15"),
		DryRun:        true,
	})
	require.NoError(t, err)
	return pos
}

func TestAddPositionNormalization(t *testing.T) {
	s := newTestStore(t)
	pos := openTestPosition(t, s, "TokenAddrCASE")

	require.Equal(t, "TEST", pos.Symbol, "leading non-word prefix stripped, uppercased")
	require.Equal(t, "solana", pos.Chain, "chain lowercased")
	require.Equal(t, "TokenAddrCASE", pos.TokenAddress, "address case preserved")
	require.True(t, pos.HighestPrice.Equal(pos.EntryPrice), "highest seeded from entry")
	require.Equal(t, StatusOpen, pos.Status)
	require.Equal(t, time.UTC, pos.OpenedAt.Location())
}

func TestAddPositionRejectsZeroQuantity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddPosition(AddPositionParams{
		TokenAddress:  "tok",
		Symbol:        "TOK",
		Chain:         "solana",
		EntryPrice:    dec("1"),
		QuantityToken: decimal.Zero,
	})
	require.Error(t, err)
}

func TestGetOpenPositionCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	openTestPosition(t, s, "AbCdEf123")

	pos, err := s.GetOpenPosition("abcdef123", "SOLANA")
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, "AbCdEf123", pos.TokenAddress)

	missing, err := s.GetOpenPosition("other", "solana")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestClosePositionIdempotent(t *testing.T) {
	s := newTestStore(t)
	pos := openTestPosition(t, s, "tok1")

	ok, err := s.ClosePosition(pos.ID, dec("1.20"), ReasonTakeProfit, dec("20"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ClosePosition(pos.ID, dec("1.25"), ReasonTakeProfit, dec("25"))
	require.NoError(t, err)
	require.False(t, ok, "second close must report no change")

	closed, err := s.ListClosedPositions(10, "solana")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.True(t, closed[0].ExitPrice.Equal(dec("1.20")), "first close wins")
	require.Equal(t, ReasonTakeProfit, closed[0].CloseReason)
	require.NotNil(t, closed[0].ClosedAt)
}

func TestUpdateTrailingStopRatchet(t *testing.T) {
	s := newTestStore(t)
	pos := openTestPosition(t, s, "tok1")

	ok, err := s.UpdateTrailingStop(pos.ID, dec("0.9975"), dec("1.05"))
	require.NoError(t, err)
	require.True(t, ok)

	// Lowering the stop matches no rows.
	ok, err = s.UpdateTrailingStop(pos.ID, dec("0.95"), dec("1.06"))
	require.NoError(t, err)
	require.False(t, ok)

	open, err := s.ListOpenPositions("solana")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.True(t, open[0].StopPrice.Equal(dec("0.9975")))
	require.True(t, open[0].HighestPrice.Equal(dec("1.05")))
}

func TestUpdateTrailingStopClosedPosition(t *testing.T) {
	s := newTestStore(t)
	pos := openTestPosition(t, s, "tok1")
	_, err := s.ClosePosition(pos.ID, dec("1.20"), ReasonTakeProfit, dec("20"))
	require.NoError(t, err)

	ok, err := s.UpdateTrailingStop(pos.ID, dec("2.00"), dec("2.10"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCountOpenPositions(t *testing.T) {
	s := newTestStore(t)
	openTestPosition(t, s, "tok1")
	openTestPosition(t, s, "tok2")
	pos := openTestPosition(t, s, "tok3")
	_, err := s.ClosePosition(pos.ID, dec("1.1"), ReasonTakeProfit, dec("10"))
	require.NoError(t, err)

	n, err := s.CountOpenPositions("solana")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestGetDailyPnL(t *testing.T) {
	s := newTestStore(t)
	p1 := openTestPosition(t, s, "tok1")
	p2 := openTestPosition(t, s, "tok2")

	_, err := s.ClosePosition(p1.ID, dec("1.20"), ReasonTakeProfit, dec("20"))
	require.NoError(t, err)
	_, err = s.ClosePosition(p2.ID, dec("0.90"), ReasonStopLoss, dec("-10"))
	require.NoError(t, err)

	pnl, err := s.GetDailyPnL(time.Now().UTC())
	require.NoError(t, err)
	require.True(t, pnl.Equal(dec("10")), "got %s", pnl)

	yesterday, err := s.GetDailyPnL(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.True(t, yesterday.IsZero())
}

func TestGetLastEntryTime(t *testing.T) {
	s := newTestStore(t)

	missing, err := s.GetLastEntryTime("tok1", "solana")
	require.NoError(t, err)
	require.Nil(t, missing)

	pos := openTestPosition(t, s, "tok1")
	got, err := s.GetLastEntryTime("TOK1", "solana")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.WithinDuration(t, pos.OpenedAt, *got, time.Second)
}

func TestDeleteClosedData(t *testing.T) {
	s := newTestStore(t)
	open := openTestPosition(t, s, "keep")
	closed := openTestPosition(t, s, "drop")

	_, err := s.RecordExecution(RecordExecutionParams{
		PositionID:   &closed.ID,
		TokenAddress: "drop",
		Symbol:       "DROP",
		Chain:        "solana",
		Action:       ActionBuy,
		Success:      true,
	})
	require.NoError(t, err)

	_, err = s.ClosePosition(closed.ID, dec("1.1"), ReasonTakeProfit, dec("10"))
	require.NoError(t, err)

	n, err := s.DeleteClosedData()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	execs, err := s.ListExecutions(closed.ID)
	require.NoError(t, err)
	require.Empty(t, execs)

	remaining, err := s.ListOpenPositions("")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, open.ID, remaining[0].ID)
}

func TestSkipPhaseLifecycle(t *testing.T) {
	s := newTestStore(t)

	// First negative stop-loss: counter 1, no skip phase.
	n, err := s.IncrementNegativeSLCount("Tok", "solana")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	phases, err := s.GetSkipPhases("tok", "solana")
	require.NoError(t, err)
	require.Equal(t, 0, phases)

	// Second: counter 2 arms one skip phase.
	n, err = s.IncrementNegativeSLCount("Tok", "solana")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	phases, err = s.GetSkipPhases("TOK", "solana")
	require.NoError(t, err)
	require.Equal(t, 1, phases)

	// Cycle decrement drops the phase and resets the counter.
	dropped, err := s.DecrementAllSkipPhases("solana")
	require.NoError(t, err)
	require.Equal(t, 1, dropped)

	row, err := s.GetSkipRow("tok", "solana")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, 0, row.SkipPhases)
	require.Equal(t, 0, row.NegativeSLCount)
}

func TestDecrementLeavesSingleLossCounter(t *testing.T) {
	s := newTestStore(t)

	// One loss only: skip_phases stays 0, so the decrement pass must not
	// touch the counter.
	_, err := s.IncrementNegativeSLCount("tok", "solana")
	require.NoError(t, err)

	dropped, err := s.DecrementAllSkipPhases("solana")
	require.NoError(t, err)
	require.Equal(t, 0, dropped)

	row, err := s.GetSkipRow("tok", "solana")
	require.NoError(t, err)
	require.Equal(t, 1, row.NegativeSLCount)
}

func TestResetSkipPhases(t *testing.T) {
	s := newTestStore(t)
	_, err := s.IncrementNegativeSLCount("tok", "solana")
	require.NoError(t, err)
	_, err = s.IncrementNegativeSLCount("tok", "solana")
	require.NoError(t, err)

	ok, err := s.ResetSkipPhases("TOK", "solana")
	require.NoError(t, err)
	require.True(t, ok)

	row, err := s.GetSkipRow("tok", "solana")
	require.NoError(t, err)
	require.Equal(t, 0, row.SkipPhases)
	require.Equal(t, 0, row.NegativeSLCount)

	ok, err = s.ResetSkipPhases("other", "solana")
	require.NoError(t, err)
	require.False(t, ok)
}
