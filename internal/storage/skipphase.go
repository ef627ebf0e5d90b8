package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// IncrementNegativeSLCount bumps the negative stop-loss counter for
// (token, chain), creating the row on first use. When the counter reaches 2
// and no skip phase is pending, one skip phase is armed in the same write.
// Returns the new counter value.
func (s *Store) IncrementNegativeSLCount(tokenAddress, chain string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int

	err := s.db.Transaction(func(tx *gorm.DB) error {
		row, err := findSkipRow(tx, tokenAddress, chain)
		if err != nil {
			return err
		}
		if row == nil {
			row = &TokenSkipPhase{
				TokenAddress: tokenAddress,
				Chain:        NormalizeChain(chain),
			}
		}
		row.NegativeSLCount++
		row.LastNegativeSLAt = &now
		row.UpdatedAt = now
		if row.NegativeSLCount >= 2 && row.SkipPhases == 0 {
			row.SkipPhases = 1
		}
		count = row.NegativeSLCount
		return tx.Save(row).Error
	})
	if err != nil {
		return 0, fmt.Errorf("increment negative SL count: %w", err)
	}
	return count, nil
}

// GetSkipPhases returns the pending skip phases for (token, chain), zero when
// no row exists.
func (s *Store) GetSkipPhases(tokenAddress, chain string) (int, error) {
	row, err := findSkipRow(s.db, tokenAddress, chain)
	if err != nil {
		return 0, fmt.Errorf("get skip phases: %w", err)
	}
	if row == nil {
		return 0, nil
	}
	return row.SkipPhases, nil
}

// DecrementAllSkipPhases advances every pending skip phase on the chain by
// one. Rows that transition to zero also have their negative-SL counter
// reset, in the same transaction. Returns the number of rows decremented.
func (s *Store) DecrementAllSkipPhases(chain string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decremented int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Rows about to transition from 1 to 0 reset their counter too.
		var expiring []TokenSkipPhase
		if err := tx.Where("chain = ? AND skip_phases = 1", NormalizeChain(chain)).Find(&expiring).Error; err != nil {
			return err
		}

		res := tx.Model(&TokenSkipPhase{}).
			Where("chain = ? AND skip_phases > 0", NormalizeChain(chain)).
			Updates(map[string]interface{}{
				"skip_phases": gorm.Expr("skip_phases - 1"),
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		decremented = res.RowsAffected

		for _, row := range expiring {
			err := tx.Model(&TokenSkipPhase{}).
				Where("token_address = ? AND chain = ?", row.TokenAddress, row.Chain).
				Update("negative_sl_count", 0).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("decrement skip phases: %w", err)
	}
	return int(decremented), nil
}

// ResetSkipPhases clears the skip state for (token, chain). Returns true iff
// a row was changed.
func (s *Store) ResetSkipPhases(tokenAddress, chain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Model(&TokenSkipPhase{}).
		Where("chain = ? AND LOWER(token_address) = ?",
			NormalizeChain(chain), strings.ToLower(tokenAddress)).
		Updates(map[string]interface{}{
			"skip_phases":       0,
			"negative_sl_count": 0,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reset skip phases: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetSkipRow returns the raw skip-phase row, nil when absent. Used by tests
// and status reporting.
func (s *Store) GetSkipRow(tokenAddress, chain string) (*TokenSkipPhase, error) {
	row, err := findSkipRow(s.db, tokenAddress, chain)
	if err != nil {
		return nil, fmt.Errorf("get skip row: %w", err)
	}
	return row, nil
}

func findSkipRow(tx *gorm.DB, tokenAddress, chain string) (*TokenSkipPhase, error) {
	var row TokenSkipPhase
	err := tx.
		Where("chain = ? AND LOWER(token_address) = ?",
			NormalizeChain(chain), strings.ToLower(tokenAddress)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
