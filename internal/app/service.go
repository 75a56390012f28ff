// Package app schedules the engine's periodic work: the maintenance tick
// (exit sweeps, reconciliation, notification drain, margin refresh, signal
// expiry) and the signal scan.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"researchEngine/internal/domain"
	"researchEngine/internal/execution"
	"researchEngine/internal/margin"
	"researchEngine/internal/metrics"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
	"researchEngine/internal/reconcile"
)

// Task names, also used as metric labels.
const (
	TaskExits         = "exits"
	TaskTrailing      = "trailing"
	TaskReconcile     = "reconcile"
	TaskNotifications = "notifications"
	TaskMargin        = "margin"
	TaskExpiry        = "signal_expiry"
)

// ExitSweeper evaluates open trades against their exit rules.
type ExitSweeper interface {
	SweepExits(ctx context.Context) (monitor.SweepResult, error)
	SweepTrailing(ctx context.Context) (monitor.SweepResult, error)
}

// OrderReconciler settles pending exchange orders.
type OrderReconciler interface {
	Run(ctx context.Context) (reconcile.Result, error)
}

// MarginRefresher revalues open margin positions.
type MarginRefresher interface {
	Refresh(ctx context.Context) (margin.RefreshResult, error)
}

// SignalExecutor routes an accepted signal.
type SignalExecutor interface {
	Execute(ctx context.Context, sig *domain.Signal, settings *domain.ResearchSettings) (*execution.Outcome, error)
}

// SettingsLister lists users with research enabled.
type SettingsLister interface {
	ListEnabled(ctx context.Context) ([]*domain.ResearchSettings, error)
}

// Store is the persistence the scheduler touches directly.
type Store interface {
	ports.TradeRepository
	ports.SignalRepository
}

// Config holds the dependencies of a Service. Monitor, Store, Notifier and
// Logger are required; the rest disable their task when nil.
type Config struct {
	Monitor    ExitSweeper
	Reconciler OrderReconciler
	Margin     MarginRefresher
	Store      Store
	Notifier   ports.Notifier

	Settings SettingsLister
	Analyzer ports.SignalAnalyzer
	Executor SignalExecutor
	Market   ports.MarketData // Top-volume discovery

	DrainBatch int
	Clock      ports.Clock
	Logger     ports.Logger
	Metrics    *metrics.Metrics
}

// Service runs ticks and scans, each behind its own single-flight guard.
type Service struct {
	monitor    ExitSweeper
	reconciler OrderReconciler
	margin     MarginRefresher
	store      Store
	notifier   ports.Notifier

	settings SettingsLister
	analyzer ports.SignalAnalyzer
	executor SignalExecutor
	market   ports.MarketData

	drainBatch int
	clock      ports.Clock
	logger     ports.Logger
	metrics    *metrics.Metrics

	ticking  atomic.Bool
	scanning atomic.Bool
}

// NewService creates the scheduler.
func NewService(cfg Config) (*Service, error) {
	if cfg.Monitor == nil || cfg.Store == nil || cfg.Notifier == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for scheduler service")
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = 100
	}
	return &Service{
		monitor:    cfg.Monitor,
		reconciler: cfg.Reconciler,
		margin:     cfg.Margin,
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		settings:   cfg.Settings,
		analyzer:   cfg.Analyzer,
		executor:   cfg.Executor,
		market:     cfg.Market,
		drainBatch: cfg.DrainBatch,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

type taskFunc func(ctx context.Context) TaskReport

type namedTask struct {
	name string
	run  taskFunc
}

// Tick runs one maintenance tick. All tasks start together and the tick
// returns when the last one finishes. An overlapping call is skipped.
func (s *Service) Tick(ctx context.Context) TickReport {
	report := TickReport{StartedAt: s.clock.Now()}
	if !s.ticking.CompareAndSwap(false, true) {
		s.metrics.TicksSkipped.WithLabelValues("tick").Inc()
		s.logger.Warn(ctx, "Previous tick still running, skipping", map[string]interface{}{"op": "tick"})
		report.Skipped = true
		return report
	}
	defer s.ticking.Store(false)

	tasks := []namedTask{
		{TaskExits, s.runExits},
		{TaskTrailing, s.runTrailing},
		{TaskNotifications, s.drainNotifications},
		{TaskExpiry, s.expireSignals},
	}
	if s.reconciler != nil {
		tasks = append(tasks, namedTask{TaskReconcile, s.runReconcile})
	}
	if s.margin != nil {
		tasks = append(tasks, namedTask{TaskMargin, s.runMargin})
	}

	report.Tasks = make([]TaskReport, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, name string, run taskFunc) {
			defer wg.Done()
			report.Tasks[i] = s.timed(ctx, name, run)
		}(i, task.name, task.run)
	}
	wg.Wait()

	if report.Notable() {
		s.logger.Info(ctx, "Tick complete", report.fields())
	} else {
		s.logger.Debug(ctx, "Tick complete, nothing to do")
	}
	return report
}

// timed runs one task, recovering panics so a faulty task cannot take the
// tick down.
func (s *Service) timed(ctx context.Context, name string, run taskFunc) (rep TaskReport) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			rep = TaskReport{Errors: 1, Err: fmt.Errorf("task %s panicked: %v", name, r)}
			s.metrics.TaskErrors.WithLabelValues(name, "panic").Inc()
			s.logger.Error(ctx, rep.Err, "Task panicked", map[string]interface{}{"op": name})
		}
		rep.Name = name
		rep.Duration = time.Since(start)
		s.metrics.TaskRuns.WithLabelValues(name).Inc()
		s.metrics.TaskDuration.WithLabelValues(name).Observe(rep.Duration.Seconds())
	}()
	rep = run(ctx)
	if rep.Err != nil {
		s.metrics.TaskErrors.WithLabelValues(name, string(ports.Classify(rep.Err))).Inc()
		s.logger.Error(ctx, rep.Err, "Task failed", map[string]interface{}{"op": name})
	}
	return rep
}

func sweepReport(res monitor.SweepResult, err error) TaskReport {
	return TaskReport{
		Checked: res.Checked,
		Changed: res.Closed + res.Partial + res.Updated,
		Errors:  res.Errors,
		Err:     err,
	}
}

func (s *Service) runExits(ctx context.Context) TaskReport {
	return sweepReport(s.monitor.SweepExits(ctx))
}

func (s *Service) runTrailing(ctx context.Context) TaskReport {
	return sweepReport(s.monitor.SweepTrailing(ctx))
}

func (s *Service) runReconcile(ctx context.Context) TaskReport {
	res, err := s.reconciler.Run(ctx)
	return TaskReport{
		Checked: res.Checked,
		Changed: res.Filled + res.Cancelled + res.Failed,
		Errors:  res.Errors,
		Err:     err,
	}
}

func (s *Service) runMargin(ctx context.Context) TaskReport {
	res, err := s.margin.Refresh(ctx)
	return TaskReport{
		Checked: res.Updated + res.Liquidated + res.NoPrice + res.Errors,
		Changed: res.Liquidated,
		Errors:  res.Errors,
		Err:     err,
	}
}

// Run ticks and scans on their intervals until ctx is cancelled. A zero
// scanInterval disables scanning.
func (s *Service) Run(ctx context.Context, tickInterval, scanInterval time.Duration) error {
	if tickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive: %w", ports.ErrConfigurationError)
	}
	s.logger.Info(ctx, "Scheduler started", map[string]interface{}{
		"tick_interval": tickInterval.String(),
		"scan_interval": scanInterval.String(),
	})

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	var scanC <-chan time.Time
	if scanInterval > 0 && s.analyzer != nil {
		scan := time.NewTicker(scanInterval)
		defer scan.Stop()
		scanC = scan.C
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Scheduler stopping, waiting for running work")
			return nil
		case <-tick.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Tick(ctx)
			}()
		case <-scanC:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Scan(ctx)
			}()
		}
	}
}
