// Package scheduler runs the discovery and exit-check loops on independent
// cadences and fans eventful cycle results out to the notifiers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/config"
	"github.com/web3guy0/solbot/internal/engine"
	"github.com/web3guy0/solbot/internal/notify"
	"github.com/web3guy0/solbot/internal/storage"
)

// CycleRunner is the slice of the engine the scheduler drives.
type CycleRunner interface {
	RunDiscoveryCycle(ctx context.Context) (*engine.CycleResult, error)
	RunExitChecks(ctx context.Context) (*engine.CycleResult, error)
}

// SummarySource supplies the numbers for the end-of-day report. The store
// satisfies it directly.
type SummarySource interface {
	GetDailyPnL(day time.Time) (decimal.Decimal, error)
	ListClosedPositions(limit int, chain string) ([]storage.Position, error)
}

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	Running         bool
	DiscoveryCycles int64
	ExitCycles      int64
	LastDiscoveryAt time.Time
	LastExitAt      time.Time
}

// Scheduler owns the two strategy loops. Start is idempotent; Stop cancels
// both loops and waits for them to finish.
type Scheduler struct {
	cfg       *config.Config
	runner    CycleRunner
	notifiers []notify.Notifier
	summaries SummarySource

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   Stats
}

// New wires the scheduler.
func New(cfg *config.Config, runner CycleRunner, notifiers ...notify.Notifier) *Scheduler {
	return &Scheduler{cfg: cfg, runner: runner, notifiers: notifiers}
}

// SetSummarySource enables the daily PnL report at UTC midnight. Must be
// called before Start.
func (s *Scheduler) SetSummarySource(src SummarySource) {
	s.summaries = src
}

// Start launches both loops. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stats.Running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.discoveryLoop(ctx)
	go s.exitLoop(ctx)
	if s.summaries != nil {
		s.wg.Add(1)
		go s.dailySummaryLoop(ctx)
	}
	log.Info().Msg("⏱️ Scheduler started")
}

// Stop cancels both loops and awaits their termination.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stats.Running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// Stats returns a snapshot of loop counters and timestamps.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RunDiscoveryNow triggers one discovery cycle synchronously.
func (s *Scheduler) RunDiscoveryNow(ctx context.Context) (*engine.CycleResult, error) {
	return s.runDiscovery(ctx)
}

// RunExitChecksNow triggers one exit-check cycle synchronously.
func (s *Scheduler) RunExitChecksNow(ctx context.Context) (*engine.CycleResult, error) {
	return s.runExitChecks(ctx)
}

func (s *Scheduler) discoveryLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if _, err := s.runDiscovery(ctx); err != nil {
			log.Error().Err(err).Msg("💥 discovery cycle failed")
		}

		// Interval is re-read every iteration so live config edits apply.
		interval := time.Duration(s.cfg.Snapshot().DiscoveryIntervalMins) * time.Minute
		if interval <= 0 {
			interval = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Scheduler) exitLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if _, err := s.runExitChecks(ctx); err != nil {
			log.Error().Err(err).Msg("💥 exit checks failed")
		}

		interval := time.Duration(s.cfg.Snapshot().PriceCheckSeconds) * time.Second
		if interval <= 0 {
			interval = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// dailySummaryLoop reports the finished UTC day's realized PnL right after
// midnight.
func (s *Scheduler) dailySummaryLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}
		s.sendDailySummary(next.Add(-time.Hour))
	}
}

func (s *Scheduler) sendDailySummary(day time.Time) {
	pnl, err := s.summaries.GetDailyPnL(day)
	if err != nil {
		log.Error().Err(err).Msg("daily summary: pnl query failed")
		return
	}
	closed, err := s.summaries.ListClosedPositions(100, s.cfg.Snapshot().Chain)
	if err != nil {
		log.Error().Err(err).Msg("daily summary: closed positions query failed")
		return
	}

	dayStart := day.UTC().Truncate(24 * time.Hour)
	var todays []storage.Position
	for _, p := range closed {
		if p.ClosedAt != nil && !p.ClosedAt.Before(dayStart) && p.ClosedAt.Before(dayStart.Add(24*time.Hour)) {
			todays = append(todays, p)
		}
	}

	for _, n := range s.notifiers {
		if err := n.NotifyDailySummary(day, pnl, todays); err != nil {
			log.Error().Err(err).Msg("daily summary notifier failed")
		}
	}
}

func (s *Scheduler) runDiscovery(ctx context.Context) (*engine.CycleResult, error) {
	res, err := s.runner.RunDiscoveryCycle(ctx)
	s.mu.Lock()
	s.stats.DiscoveryCycles++
	s.stats.LastDiscoveryAt = time.Now().UTC()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Info().Str("summary", res.Summary).Msg("discovery cycle done")
	s.notifyEventful("discovery", res)
	return res, nil
}

func (s *Scheduler) runExitChecks(ctx context.Context) (*engine.CycleResult, error) {
	res, err := s.runner.RunExitChecks(ctx)
	s.mu.Lock()
	s.stats.ExitCycles++
	s.stats.LastExitAt = time.Now().UTC()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Debug().Str("summary", res.Summary).Msg("exit checks done")
	s.notifyEventful("exit", res)
	return res, nil
}

// notifyEventful forwards results that opened or closed positions or carry
// errors. Notifier failures are logged, never propagated.
func (s *Scheduler) notifyEventful(kind string, res *engine.CycleResult) {
	if !res.Eventful() {
		return
	}
	for _, n := range s.notifiers {
		if err := n.NotifyCycle(kind, res); err != nil {
			log.Error().Err(err).Str("kind", kind).Msg("notifier failed")
		}
	}
}
