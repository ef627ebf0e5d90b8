package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/solbot/internal/config"
	"github.com/web3guy0/solbot/internal/engine"
	"github.com/web3guy0/solbot/internal/storage"
)

type fakeRunner struct {
	mu            sync.Mutex
	discoveries   int
	exits         int
	discoveryRes  *engine.CycleResult
	exitRes       *engine.CycleResult
	discoveryErr  error
}

func (f *fakeRunner) RunDiscoveryCycle(ctx context.Context) (*engine.CycleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoveries++
	if f.discoveryErr != nil {
		return nil, f.discoveryErr
	}
	return f.discoveryRes, nil
}

func (f *fakeRunner) RunExitChecks(ctx context.Context) (*engine.CycleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits++
	return f.exitRes, nil
}

func (f *fakeRunner) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoveries, f.exits
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingNotifier) NotifyStartup(mode string) error { return nil }

func (r *recordingNotifier) NotifyCycle(kind string, res *engine.CycleResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func (r *recordingNotifier) NotifyDailySummary(day time.Time, pnl decimal.Decimal, closed []storage.Position) error {
	return nil
}

func (r *recordingNotifier) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

type failingNotifier struct{ recordingNotifier }

func (f *failingNotifier) NotifyCycle(kind string, res *engine.CycleResult) error {
	f.recordingNotifier.NotifyCycle(kind, res)
	return errors.New("telegram down")
}

func quietResult() *engine.CycleResult {
	return &engine.CycleResult{Summary: "nothing to do"}
}

func eventfulResult() *engine.CycleResult {
	return &engine.CycleResult{
		Summary:         "opened one",
		PositionsOpened: []storage.Position{{TokenAddress: "MintA"}},
	}
}

func testConfig() *config.Config {
	return config.New(config.Settings{
		Enabled:               true,
		Chain:                 "solana",
		DiscoveryIntervalMins: 60,
		PriceCheckSeconds:     3600,
	})
}

func TestStartIsIdempotentAndStopWaits(t *testing.T) {
	runner := &fakeRunner{discoveryRes: quietResult(), exitRes: quietResult()}
	s := New(testConfig(), runner)

	s.Start()
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop()

	d, e := runner.counts()
	require.Equal(t, 1, d, "one immediate discovery cycle, long interval after")
	require.Equal(t, 1, e)
	require.False(t, s.Stats().Running)
}

func TestRunNowUpdatesStats(t *testing.T) {
	runner := &fakeRunner{discoveryRes: quietResult(), exitRes: quietResult()}
	s := New(testConfig(), runner)

	res, err := s.RunDiscoveryNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, "nothing to do", res.Summary)

	_, err = s.RunExitChecksNow(context.Background())
	require.NoError(t, err)

	stats := s.Stats()
	require.EqualValues(t, 1, stats.DiscoveryCycles)
	require.EqualValues(t, 1, stats.ExitCycles)
	require.False(t, stats.LastDiscoveryAt.IsZero())
	require.False(t, stats.LastExitAt.IsZero())
}

func TestEventfulResultsReachNotifiers(t *testing.T) {
	runner := &fakeRunner{discoveryRes: eventfulResult(), exitRes: quietResult()}
	n := &recordingNotifier{}
	s := New(testConfig(), runner, n)

	_, err := s.RunDiscoveryNow(context.Background())
	require.NoError(t, err)
	_, err = s.RunExitChecksNow(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"discovery"}, n.seen(), "quiet cycles are not forwarded")
}

func TestNotifierErrorsAreSwallowed(t *testing.T) {
	runner := &fakeRunner{discoveryRes: eventfulResult(), exitRes: quietResult()}
	n := &failingNotifier{}
	s := New(testConfig(), runner, n)

	_, err := s.RunDiscoveryNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"discovery"}, n.seen())
}

type fakeSummaries struct {
	pnl    decimal.Decimal
	closed []storage.Position
}

func (f *fakeSummaries) GetDailyPnL(day time.Time) (decimal.Decimal, error) {
	return f.pnl, nil
}

func (f *fakeSummaries) ListClosedPositions(limit int, chain string) ([]storage.Position, error) {
	return f.closed, nil
}

type summaryNotifier struct {
	recordingNotifier
	mu     sync.Mutex
	pnls   []decimal.Decimal
	counts []int
}

func (s *summaryNotifier) NotifyDailySummary(day time.Time, pnl decimal.Decimal, closed []storage.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pnls = append(s.pnls, pnl)
	s.counts = append(s.counts, len(closed))
	return nil
}

func TestDailySummaryFiltersToReportedDay(t *testing.T) {
	today := time.Now().UTC()
	yesterday := today.Add(-36 * time.Hour)
	closed := []storage.Position{
		{TokenAddress: "MintA", ClosedAt: &today},
		{TokenAddress: "MintB", ClosedAt: &yesterday},
	}
	src := &fakeSummaries{pnl: decimal.RequireFromString("12.5"), closed: closed}
	n := &summaryNotifier{}
	s := New(testConfig(), &fakeRunner{}, n)
	s.SetSummarySource(src)

	s.sendDailySummary(today)

	require.Len(t, n.pnls, 1)
	require.True(t, n.pnls[0].Equal(decimal.RequireFromString("12.5")))
	require.Equal(t, []int{1}, n.counts, "only positions closed on the reported day")
}

func TestFatalEngineErrorPropagates(t *testing.T) {
	runner := &fakeRunner{discoveryErr: errors.New("store unreachable"), exitRes: quietResult()}
	s := New(testConfig(), runner)

	_, err := s.RunDiscoveryNow(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "store unreachable")
}
