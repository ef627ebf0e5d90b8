package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Position statuses
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Close reasons
const (
	ReasonStopLoss    = "stop_loss"
	ReasonTakeProfit  = "take_profit"
	ReasonMaxHoldTime = "max_hold_time"
)

// Execution actions
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Position is one open or closed trade. Addresses keep their original case;
// lookups are case-insensitive.
type Position struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement"`
	TokenAddress       string          `gorm:"index"`
	Symbol             string
	Chain              string          `gorm:"index:idx_positions_status_chain,priority:2"`
	EntryPrice         decimal.Decimal `gorm:"type:decimal(30,18)"`
	QuantityToken      decimal.Decimal `gorm:"type:decimal(30,18)"`
	NotionalUSD        decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopPrice          decimal.Decimal `gorm:"type:decimal(30,18)"`
	TakePrice          decimal.Decimal `gorm:"type:decimal(30,18)"`
	HighestPrice       decimal.Decimal `gorm:"type:decimal(30,18)"`
	OpenedAt           time.Time
	ClosedAt           *time.Time
	ExitPrice          decimal.Decimal `gorm:"type:decimal(30,18)"`
	RealizedPnLUSD     decimal.Decimal `gorm:"column:realized_pnl_usd;type:decimal(20,8)"`
	Status             string          `gorm:"index:idx_positions_status_chain,priority:1"`
	CloseReason        string
	DryRun             bool
	MomentumScore      float64
	DiscoveryReasoning string
}

// Execution is an append-only record of one trader attempt.
type Execution struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement"`
	PositionID           *int64 `gorm:"index"`
	Position             *Position `gorm:"constraint:OnDelete:SET NULL"`
	TokenAddress         string
	Symbol               string
	Chain                string
	Action               string
	RequestedNotionalUSD decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExecutedPrice        decimal.Decimal `gorm:"type:decimal(30,18)"`
	QuantityToken        decimal.Decimal `gorm:"type:decimal(30,18)"`
	TxHash               string
	Success              bool
	Error                string
	MetadataJSON         string
	CreatedAt            time.Time
}

// TokenSkipPhase tracks the per-token admission-control state machine that
// suppresses re-entry after consecutive losing stop-loss closes.
type TokenSkipPhase struct {
	TokenAddress     string `gorm:"primaryKey"`
	Chain            string `gorm:"primaryKey"`
	SkipPhases       int
	NegativeSLCount  int
	LastNegativeSLAt *time.Time
	UpdatedAt        time.Time
}

// Store serializes access to positions, executions and skip-phase counters.
// Every mutating path holds the write mutex; reads go straight to gorm.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// New opens the database at dbPath and runs migrations. A postgres:// URL
// selects the PostgreSQL driver, anything else is treated as a SQLite file.
func New(dbPath string) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), gormCfg)
	} else {
		dsn := dbPath
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on"
		}
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" && !strings.HasPrefix(dbPath, "file:") {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create data dir: %w", mkErr)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&Position{}, &Execution{}, &TokenSkipPhase{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("💾 Database ready")
	return &Store{db: db}, nil
}

// NewInMemory opens a throwaway SQLite store, used by tests. Each call gets
// its own database.
func NewInMemory() (*Store, error) {
	return New(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()))
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var symbolPrefix = regexp.MustCompile(`^[^0-9A-Za-z_]+`)

// NormalizeChain lowercases a chain identifier.
func NormalizeChain(chain string) string {
	return strings.ToLower(strings.TrimSpace(chain))
}

// NormalizeSymbol strips a leading non-word prefix ("$BONK" → "BONK") and
// uppercases the rest.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbolPrefix.ReplaceAllString(strings.TrimSpace(symbol), ""))
}
