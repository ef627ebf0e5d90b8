package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AddPositionParams carries the fields needed to open a position.
type AddPositionParams struct {
	TokenAddress       string
	Symbol             string
	Chain              string
	EntryPrice         decimal.Decimal
	QuantityToken      decimal.Decimal
	NotionalUSD        decimal.Decimal
	StopPrice          decimal.Decimal
	TakePrice          decimal.Decimal
	DryRun             bool
	MomentumScore      float64
	DiscoveryReasoning string
}

// AddPosition inserts an open position with highest_price seeded from the
// entry price and returns the materialized row.
func (s *Store) AddPosition(p AddPositionParams) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.QuantityToken.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("add position: quantity must be positive, got %s", p.QuantityToken)
	}

	pos := &Position{
		TokenAddress:       p.TokenAddress,
		Symbol:             NormalizeSymbol(p.Symbol),
		Chain:              NormalizeChain(p.Chain),
		EntryPrice:         p.EntryPrice,
		QuantityToken:      p.QuantityToken,
		NotionalUSD:        p.NotionalUSD,
		StopPrice:          p.StopPrice,
		TakePrice:          p.TakePrice,
		HighestPrice:       p.EntryPrice,
		OpenedAt:           time.Now().UTC(),
		Status:             StatusOpen,
		DryRun:             p.DryRun,
		MomentumScore:      p.MomentumScore,
		DiscoveryReasoning: p.DiscoveryReasoning,
	}

	if err := s.db.Create(pos).Error; err != nil {
		return nil, fmt.Errorf("add position: %w", err)
	}
	return pos, nil
}

// ClosePosition atomically closes an open position. Returns true iff exactly
// one row changed; a second call for the same id returns false.
func (s *Store) ClosePosition(id int64, exitPrice decimal.Decimal, reason string, pnl decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res := s.db.Model(&Position{}).
		Where("id = ? AND status = ?", id, StatusOpen).
		Updates(map[string]interface{}{
			"status":           StatusClosed,
			"closed_at":        now,
			"exit_price":       exitPrice,
			"realized_pnl_usd": pnl,
			"close_reason":     reason,
		})
	if res.Error != nil {
		return false, fmt.Errorf("close position %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpdateTrailingStop raises the stop and highest price of an open position.
// The predicate enforces the ratchet: a write that would lower the stop
// matches no rows.
func (s *Store) UpdateTrailingStop(id int64, newStop, newHighest decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Model(&Position{}).
		Where("id = ? AND status = ? AND stop_price <= ?", id, StatusOpen, newStop).
		Updates(map[string]interface{}{
			"stop_price":    newStop,
			"highest_price": newHighest,
		})
	if res.Error != nil {
		return false, fmt.Errorf("update trailing stop %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListOpenPositions returns open positions, optionally restricted to a chain.
func (s *Store) ListOpenPositions(chain string) ([]Position, error) {
	q := s.db.Where("status = ?", StatusOpen)
	if chain != "" {
		q = q.Where("chain = ?", NormalizeChain(chain))
	}
	var out []Position
	if err := q.Order("opened_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	normalizeTimes(out)
	return out, nil
}

// ListClosedPositions returns the most recently closed positions.
func (s *Store) ListClosedPositions(limit int, chain string) ([]Position, error) {
	q := s.db.Where("status = ?", StatusClosed)
	if chain != "" {
		q = q.Where("chain = ?", NormalizeChain(chain))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Position
	if err := q.Order("closed_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list closed positions: %w", err)
	}
	normalizeTimes(out)
	return out, nil
}

// GetOpenPosition finds the open position for (token, chain), matching the
// address case-insensitively. Returns nil when there is none.
func (s *Store) GetOpenPosition(tokenAddress, chain string) (*Position, error) {
	var pos Position
	err := s.db.
		Where("status = ? AND chain = ? AND LOWER(token_address) = ?",
			StatusOpen, NormalizeChain(chain), strings.ToLower(tokenAddress)).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open position: %w", err)
	}
	pos.OpenedAt = pos.OpenedAt.UTC()
	if pos.ClosedAt != nil {
		t := pos.ClosedAt.UTC()
		pos.ClosedAt = &t
	}
	return &pos, nil
}

// CountOpenPositions counts open positions on a chain.
func (s *Store) CountOpenPositions(chain string) (int, error) {
	var n int64
	err := s.db.Model(&Position{}).
		Where("status = ? AND chain = ?", StatusOpen, NormalizeChain(chain)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count open positions: %w", err)
	}
	return int(n), nil
}

// GetDailyPnL sums realized PnL over positions closed on the given UTC
// calendar day.
func (s *Store) GetDailyPnL(day time.Time) (decimal.Decimal, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var rows []Position
	err := s.db.Select("realized_pnl_usd").
		Where("status = ? AND closed_at >= ? AND closed_at < ?", StatusClosed, start, end).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("daily pnl: %w", err)
	}

	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.RealizedPnLUSD)
	}
	return total, nil
}

// GetLastEntryTime returns the most recent opened_at for (token, chain)
// across open and closed positions, or nil if the token was never entered.
func (s *Store) GetLastEntryTime(tokenAddress, chain string) (*time.Time, error) {
	var pos Position
	err := s.db.
		Where("chain = ? AND LOWER(token_address) = ?",
			NormalizeChain(chain), strings.ToLower(tokenAddress)).
		Order("opened_at DESC").
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last entry time: %w", err)
	}
	t := pos.OpenedAt.UTC()
	return &t, nil
}

// RecordExecutionParams carries the fields of one trader attempt.
type RecordExecutionParams struct {
	PositionID           *int64
	TokenAddress         string
	Symbol               string
	Chain                string
	Action               string
	RequestedNotionalUSD decimal.Decimal
	ExecutedPrice        decimal.Decimal
	QuantityToken        decimal.Decimal
	TxHash               string
	Success              bool
	Error                string
	MetadataJSON         string
}

// RecordExecution appends one execution record.
func (s *Store) RecordExecution(p RecordExecutionParams) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec := &Execution{
		PositionID:           p.PositionID,
		TokenAddress:         p.TokenAddress,
		Symbol:               NormalizeSymbol(p.Symbol),
		Chain:                NormalizeChain(p.Chain),
		Action:               p.Action,
		RequestedNotionalUSD: p.RequestedNotionalUSD,
		ExecutedPrice:        p.ExecutedPrice,
		QuantityToken:        p.QuantityToken,
		TxHash:               p.TxHash,
		Success:              p.Success,
		Error:                p.Error,
		MetadataJSON:         p.MetadataJSON,
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.db.Create(exec).Error; err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns executions for a position, oldest first.
func (s *Store) ListExecutions(positionID int64) ([]Execution, error) {
	var out []Execution
	err := s.db.Where("position_id = ?", positionID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

// DeleteClosedData removes closed positions together with their executions
// and returns the number of positions removed.
func (s *Store) DeleteClosedData() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&Position{}).Where("status = ?", StatusClosed).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("position_id IN ?", ids).Delete(&Execution{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Position{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete closed data: %w", err)
	}
	return int(removed), nil
}

func normalizeTimes(positions []Position) {
	for i := range positions {
		positions[i].OpenedAt = positions[i].OpenedAt.UTC()
		if positions[i].ClosedAt != nil {
			t := positions[i].ClosedAt.UTC()
			positions[i].ClosedAt = &t
		}
	}
}
