package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchEngine/internal/domain"
	"researchEngine/internal/execution"
	"researchEngine/internal/margin"
	"researchEngine/internal/metrics"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
	"researchEngine/internal/reconcile"
	"researchEngine/internal/testutil"
)

// fakeSweeper reports fixed results. When block is set, SweepExits signals
// entered and waits for block to close.
type fakeSweeper struct {
	exits    monitor.SweepResult
	trailing monitor.SweepResult
	err      error
	entered  chan struct{}
	block    chan struct{}
	panics   bool
}

func (f *fakeSweeper) SweepExits(ctx context.Context) (monitor.SweepResult, error) {
	if f.block != nil {
		close(f.entered)
		<-f.block
	}
	if f.panics {
		panic("boom")
	}
	return f.exits, f.err
}

func (f *fakeSweeper) SweepTrailing(ctx context.Context) (monitor.SweepResult, error) {
	return f.trailing, nil
}

type fakeReconciler struct{ res reconcile.Result }

func (f *fakeReconciler) Run(ctx context.Context) (reconcile.Result, error) { return f.res, nil }

type fakeMargin struct{ res margin.RefreshResult }

func (f *fakeMargin) Refresh(ctx context.Context) (margin.RefreshResult, error) { return f.res, nil }

type fakeAnalyzer struct {
	mu      sync.Mutex
	signals map[string]*domain.Signal
	errs    map[string]error
	calls   []string
}

func (f *fakeAnalyzer) AnalyzeSymbol(ctx context.Context, symbol string, minConfidence float64, settings *domain.ResearchSettings) (*domain.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, settings.UserID+":"+symbol)
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	sig, ok := f.signals[symbol]
	if !ok {
		return nil, nil
	}
	c := *sig
	c.UserID = settings.UserID
	return &c, nil
}

// fakeExecutor returns status, or the per-symbol entry of bySymbol.
type fakeExecutor struct {
	status   domain.SignalStatus
	bySymbol map[string]domain.SignalStatus
	seen     []string
}

func (f *fakeExecutor) Execute(ctx context.Context, sig *domain.Signal, settings *domain.ResearchSettings) (*execution.Outcome, error) {
	f.seen = append(f.seen, sig.Symbol)
	if st, ok := f.bySymbol[sig.Symbol]; ok {
		return &execution.Outcome{Status: st}, nil
	}
	return &execution.Outcome{Status: f.status}, nil
}

type fakeSettings struct{ list []*domain.ResearchSettings }

func (f *fakeSettings) ListEnabled(ctx context.Context) ([]*domain.ResearchSettings, error) {
	return f.list, nil
}

type fixture struct {
	svc      *Service
	store    *testutil.Store
	notifier *testutil.Notifier
	sweeper  *fakeSweeper
	metrics  *metrics.Metrics
	clock    *testutil.Clock
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.NewStore(),
		notifier: &testutil.Notifier{},
		sweeper:  &fakeSweeper{},
		metrics:  metrics.New(),
		clock:    testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	cfg := Config{
		Monitor:  f.sweeper,
		Store:    f.store,
		Notifier: f.notifier,
		Clock:    f.clock,
		Logger:   &testutil.Logger{},
		Metrics:  f.metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Config{Logger: &testutil.Logger{}})
	assert.Error(t, err)
}

func TestTick_RunsAllTasks(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Reconciler = &fakeReconciler{res: reconcile.Result{Checked: 2, Filled: 1}}
		c.Margin = &fakeMargin{res: margin.RefreshResult{Updated: 1}}
	})
	f.sweeper.exits = monitor.SweepResult{Checked: 3, Closed: 1}
	f.sweeper.trailing = monitor.SweepResult{Checked: 1, Updated: 1}

	rep := f.svc.Tick(context.Background())
	assert.False(t, rep.Skipped)
	assert.Len(t, rep.Tasks, 6)
	assert.True(t, rep.Notable())

	exits, ok := rep.Task(TaskExits)
	require.True(t, ok)
	assert.Equal(t, 3, exits.Checked)
	assert.Equal(t, 1, exits.Changed)

	rec, ok := rep.Task(TaskReconcile)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Changed)

	for _, name := range []string{TaskExits, TaskTrailing, TaskReconcile, TaskNotifications, TaskMargin, TaskExpiry} {
		assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TaskRuns.WithLabelValues(name)), name)
	}
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	f.sweeper.entered = make(chan struct{})
	f.sweeper.block = make(chan struct{})

	done := make(chan TickReport)
	go func() { done <- f.svc.Tick(context.Background()) }()
	<-f.sweeper.entered

	second := f.svc.Tick(context.Background())
	assert.True(t, second.Skipped)
	assert.Empty(t, second.Tasks)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TicksSkipped.WithLabelValues("tick")))

	close(f.sweeper.block)
	first := <-done
	assert.False(t, first.Skipped)

	// The guard is released once the tick ends.
	f.sweeper.block = nil
	third := f.svc.Tick(context.Background())
	assert.False(t, third.Skipped)
}

func TestTick_TaskFailureIsolated(t *testing.T) {
	f := newFixture(t, nil)
	f.sweeper.panics = true
	f.store.Signals["s1"] = &domain.Signal{ID: "s1", Status: domain.SignalPending, ExpiresAt: f.clock.Now().Add(-time.Second)}

	rep := f.svc.Tick(context.Background())
	exits, _ := rep.Task(TaskExits)
	assert.Error(t, exits.Err)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TaskErrors.WithLabelValues(TaskExits, "panic")))

	expiry, _ := rep.Task(TaskExpiry)
	assert.Equal(t, 1, expiry.Changed)
	assert.Equal(t, domain.SignalExpired, f.store.Signals["s1"].Status)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.SignalsExpired))
}

func TestTick_TaskErrorCounted(t *testing.T) {
	f := newFixture(t, nil)
	f.sweeper.err = ports.ErrDBConnection

	rep := f.svc.Tick(context.Background())
	exits, _ := rep.Task(TaskExits)
	assert.ErrorIs(t, exits.Err, ports.ErrDBConnection)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TaskErrors.WithLabelValues(TaskExits, string(ports.ClassTransient))))
}

func TestDrainNotifications(t *testing.T) {
	f := newFixture(t, nil)
	closedAt := f.clock.Now()
	f.store.AddTrade(&domain.Trade{
		ID: "t1", UserID: "u1", Symbol: "SOL_USDT", Status: domain.TradeStatusClosed,
		ClosedAt: &closedAt, ClosePrice: domain.Float(94), CloseReason: domain.CloseReasonStopLoss, RealizedPnL: -6,
	})
	f.store.AddTrade(&domain.Trade{ID: "t2", UserID: "u1", Symbol: "ETH_USDT", Status: domain.TradeStatusFailed, ErrorMessage: "rejected"})
	f.store.AddTrade(&domain.Trade{ID: "t3", UserID: "u1", Symbol: "BTC_USDT", Status: domain.TradeStatusPending})

	rep := f.svc.drainNotifications(context.Background())
	assert.Equal(t, 2, rep.Changed)
	assert.ElementsMatch(t, []ports.EventType{ports.EventPositionClosed, ports.EventExecutionFailed}, f.notifier.Events())
	assert.True(t, f.store.Trade("t1").NotificationSent)
	assert.True(t, f.store.Trade("t2").NotificationSent)
	assert.False(t, f.store.Trade("t3").NotificationSent)

	again := f.svc.drainNotifications(context.Background())
	assert.Zero(t, again.Checked)
}

func TestDrainNotifications_DispatcherDown(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.Err = errors.New("queue full")
	f.store.AddTrade(&domain.Trade{ID: "t1", UserID: "u1", Status: domain.TradeStatusFilled})
	f.store.AddTrade(&domain.Trade{ID: "t2", UserID: "u1", Status: domain.TradeStatusFilled})

	rep := f.svc.drainNotifications(context.Background())
	assert.Equal(t, 1, rep.Errors)
	assert.Zero(t, rep.Changed)
	assert.False(t, f.store.Trade("t1").NotificationSent)
	assert.False(t, f.store.Trade("t2").NotificationSent)
}

func TestScan_RoutesByExecutionMode(t *testing.T) {
	analyzer := &fakeAnalyzer{
		signals: map[string]*domain.Signal{
			"SOL_USDT": {ID: "sig-1", Symbol: "SOL_USDT", Price: 150, Confidence: 0.8},
		},
		errs: map[string]error{"BAD_USDT": ports.ErrNoPrice},
	}
	executor := &fakeExecutor{status: domain.SignalExecuted}
	auto := domain.DefaultSettings("auto-user")
	auto.ExecutionMode = domain.ExecutionAuto
	auto.Watchlist = []string{"SOL_USDT", "BAD_USDT"}
	confirm := domain.DefaultSettings("confirm-user")
	confirm.Watchlist = []string{"solusdt"}

	f := newFixture(t, func(c *Config) {
		c.Analyzer = analyzer
		c.Executor = executor
		c.Settings = &fakeSettings{list: []*domain.ResearchSettings{auto, confirm}}
	})

	rep := f.svc.Scan(context.Background())
	assert.Equal(t, 2, rep.Users)
	assert.Equal(t, 3, rep.Symbols)
	assert.Equal(t, 2, rep.Signals)
	assert.Equal(t, 1, rep.Executed)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, []string{"SOL_USDT"}, executor.seen)

	require.Len(t, f.notifier.Sent, 1)
	assert.Equal(t, ports.EventSignal, f.notifier.Sent[0].EventType)
	assert.Equal(t, "confirm-user", f.notifier.Sent[0].UserID)
	assert.Contains(t, analyzer.calls, "confirm-user:SOL_USDT")
}

func TestScan_TopVolumeDiscovery(t *testing.T) {
	market := testutil.NewExchange()
	market.Tickers = map[string]domain.Ticker{
		"BTC_USDT":  {Symbol: "BTC_USDT", Price: 50000, Volume: 900},
		"ETH_USDT":  {Symbol: "ETH_USDT", Price: 2000, Volume: 500},
		"USDC_USDT": {Symbol: "USDC_USDT", Price: 1, Volume: 800},
		"ETH_BTC":   {Symbol: "ETH_BTC", Price: 0.04, Volume: 700},
		"DOGE_USDT": {Symbol: "DOGE_USDT", Price: 0.1, Volume: 10},
	}
	analyzer := &fakeAnalyzer{}
	s := domain.DefaultSettings("u1")
	s.SymbolDiscovery = domain.DiscoveryTopVolume
	s.DiscoveryLimit = 2

	f := newFixture(t, func(c *Config) {
		c.Analyzer = analyzer
		c.Market = market
		c.Settings = &fakeSettings{list: []*domain.ResearchSettings{s}}
	})

	rep := f.svc.Scan(context.Background())
	assert.Equal(t, 2, rep.Symbols)
	assert.Equal(t, []string{"u1:BTC_USDT", "u1:ETH_USDT"}, analyzer.calls)
}

func TestTopVolume_DedupesUSDQuotes(t *testing.T) {
	got := TopVolume([]domain.Ticker{
		{Symbol: "BTC_USDC", Volume: 10},
		{Symbol: "BTC_USDT", Volume: 20},
		{Symbol: "SOL_USD", Volume: 5},
	}, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "BTC_USDT", got[0].Symbol)
	assert.Equal(t, "SOL_USD", got[1].Symbol)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- f.svc.Run(ctx, 10*time.Millisecond, 0) }()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(f.metrics.TaskRuns.WithLabelValues(TaskExits)) >= 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-errCh)

	assert.ErrorIs(t, f.svc.Run(context.Background(), 0, 0), ports.ErrConfigurationError)
}

func TestScan_AutoDrainsByConfidenceAndStopsAtFirstMiss(t *testing.T) {
	analyzer := &fakeAnalyzer{
		signals: map[string]*domain.Signal{
			"ADA_USDT": {ID: "sig-a", Symbol: "ADA_USDT", Price: 1, Confidence: 0.7},
			"BTC_USDT": {ID: "sig-b", Symbol: "BTC_USDT", Price: 60000, Confidence: 0.9},
			"ETH_USDT": {ID: "sig-e", Symbol: "ETH_USDT", Price: 3000, Confidence: 0.8},
			"SOL_USDT": {ID: "sig-s", Symbol: "SOL_USDT", Price: 150, Confidence: 0.6},
		},
	}
	executor := &fakeExecutor{
		status:   domain.SignalExecuted,
		bySymbol: map[string]domain.SignalStatus{"ADA_USDT": domain.SignalSkipped},
	}
	auto := domain.DefaultSettings("auto-user")
	auto.ExecutionMode = domain.ExecutionAuto
	auto.Watchlist = []string{"ADA_USDT", "BTC_USDT", "ETH_USDT", "SOL_USDT"}

	f := newFixture(t, func(c *Config) {
		c.Analyzer = analyzer
		c.Executor = executor
		c.Settings = &fakeSettings{list: []*domain.ResearchSettings{auto}}
	})

	rep := f.svc.Scan(context.Background())
	assert.Equal(t, 4, rep.Signals)
	assert.Equal(t, []string{"BTC_USDT", "ETH_USDT", "ADA_USDT"}, executor.seen)
	assert.Equal(t, 2, rep.Executed)
	assert.Equal(t, 1, rep.Skips)
	assert.Equal(t, 1, rep.Deferred, "the lowest-confidence signal is never tried")
	assert.Zero(t, rep.Errors)
	assert.Empty(t, f.notifier.Sent)
}
