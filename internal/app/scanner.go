package app

import (
	"context"
	"fmt"
	"sort"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
	"researchEngine/internal/risk"
	"researchEngine/internal/symbols"
)

// Scan analyzes every enabled user's symbols once. Signals of auto-mode
// users are executed highest confidence first, stopping at the first one that
// does not execute; the rest stay pending. Other users' signals are announced
// for confirmation. An overlapping call is skipped.
func (s *Service) Scan(ctx context.Context) ScanReport {
	op := "scan"
	report := ScanReport{StartedAt: s.clock.Now()}
	if s.analyzer == nil || s.settings == nil {
		return report
	}
	if !s.scanning.CompareAndSwap(false, true) {
		s.metrics.TicksSkipped.WithLabelValues(op).Inc()
		s.logger.Warn(ctx, "Previous scan still running, skipping", map[string]interface{}{"op": op})
		report.Skipped = true
		return report
	}
	defer s.scanning.Store(false)

	users, err := s.settings.ListEnabled(ctx)
	if err != nil {
		s.metrics.TaskErrors.WithLabelValues(op, string(ports.Classify(err))).Inc()
		s.logger.Error(ctx, err, "Failed to list enabled users", map[string]interface{}{"op": op})
		report.Errors++
		return report
	}

	d := &discovery{market: s.market}
	for _, settings := range users {
		report.Users++
		syms, err := d.symbolsFor(ctx, settings)
		if err != nil {
			s.metrics.TaskErrors.WithLabelValues(op, string(ports.Classify(err))).Inc()
			s.logger.Error(ctx, err, "Symbol discovery failed", map[string]interface{}{"op": op, "user_id": settings.UserID})
			report.Errors++
			continue
		}
		var found []*domain.Signal
		for _, sym := range syms {
			report.Symbols++
			if sig := s.scanSymbol(ctx, sym, settings, &report); sig != nil {
				found = append(found, sig)
			}
		}
		s.dispatch(ctx, found, settings, &report)
	}

	s.metrics.TaskRuns.WithLabelValues(op).Inc()
	if report.Signals > 0 || report.Errors > 0 {
		s.logger.Info(ctx, "Scan complete", map[string]interface{}{
			"op": op, "users": report.Users, "symbols": report.Symbols, "signals": report.Signals,
			"executed": report.Executed, "skips": report.Skips, "deferred": report.Deferred, "errors": report.Errors,
		})
	}
	return report
}

func (s *Service) scanSymbol(ctx context.Context, sym string, settings *domain.ResearchSettings, report *ScanReport) *domain.Signal {
	op := "scan"
	sig, err := s.analyzer.AnalyzeSymbol(ctx, sym, settings.MinConfidence, settings)
	if err != nil {
		s.metrics.TaskErrors.WithLabelValues(op, string(ports.Classify(err))).Inc()
		s.logger.Warn(ctx, "Symbol analysis failed", map[string]interface{}{
			"op": op, "user_id": settings.UserID, "symbol": sym, "error": err.Error(),
		})
		report.Errors++
		return nil
	}
	if sig != nil {
		report.Signals++
	}
	return sig
}

// dispatch hands one user's signals from a scan to the executor or the
// notifier.
func (s *Service) dispatch(ctx context.Context, sigs []*domain.Signal, settings *domain.ResearchSettings, report *ScanReport) {
	op := "scan"
	if settings.ExecutionMode != domain.ExecutionAuto || s.executor == nil {
		for _, sig := range sigs {
			s.announce(ctx, sig, settings)
		}
		return
	}

	sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].Confidence > sigs[j].Confidence })
	for i, sig := range sigs {
		out, err := s.executor.Execute(ctx, sig, settings)
		status := domain.SignalFailed
		switch {
		case err != nil:
			s.logger.Error(ctx, err, "Signal execution failed", map[string]interface{}{"op": op, "signal_id": sig.ID})
			report.Errors++
		case out.Status == domain.SignalExecuted:
			report.Executed++
			continue
		case out.Status == domain.SignalSkipped:
			status = out.Status
			report.Skips++
		default:
			report.Errors++
		}

		if rest := len(sigs) - i - 1; rest > 0 {
			report.Deferred += rest
			s.logger.Info(ctx, "Signal did not execute, leaving the rest pending", map[string]interface{}{
				"op": op, "user_id": settings.UserID, "signal_id": sig.ID, "status": string(status), "pending": rest,
			})
		}
		return
	}
}

// announce tells the user about a signal awaiting confirmation.
func (s *Service) announce(ctx context.Context, sig *domain.Signal, settings *domain.ResearchSettings) {
	action := "Confirm to execute"
	if settings.ExecutionMode == domain.ExecutionManual {
		action = "Manual mode: no order will be placed"
	}
	n := ports.Notification{
		UserID:    sig.UserID,
		Title:     fmt.Sprintf("Research signal: %s", sig.Symbol),
		Message:   fmt.Sprintf("%s at %.8g, confidence %.0f%%. %s.", sig.Symbol, sig.Price, sig.Confidence*100, action),
		EventType: ports.EventSignal,
		Priority:  ports.PriorityNormal,
		Context: map[string]interface{}{
			"signal_id":  sig.ID,
			"symbol":     sig.Symbol,
			"confidence": sig.Confidence,
			"reasons":    sig.Reasons,
			"expires_at": sig.ExpiresAt,
		},
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn(ctx, "Signal notification not accepted", map[string]interface{}{
			"op": "scan", "signal_id": sig.ID, "error": err.Error(),
		})
	}
}

// discovery resolves a user's symbol list. Top-volume tickers are fetched at
// most once per scan.
type discovery struct {
	market  ports.MarketData
	tickers []domain.Ticker
	loaded  bool
}

func (d *discovery) symbolsFor(ctx context.Context, settings *domain.ResearchSettings) ([]string, error) {
	if settings.SymbolDiscovery != domain.DiscoveryTopVolume {
		out := make([]string, 0, len(settings.Watchlist))
		for _, sym := range settings.Watchlist {
			out = append(out, symbols.Normalize(sym))
		}
		return out, nil
	}
	if d.market == nil {
		return nil, fmt.Errorf("top-volume discovery has no market data source: %w", ports.ErrConfigurationError)
	}
	if !d.loaded {
		tickers, err := d.market.GetTicker24hr(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("load tickers for discovery: %w", err)
		}
		d.tickers = TopVolume(tickers, 0)
		d.loaded = true
	}
	limit := settings.DiscoveryLimit
	if limit <= 0 || limit > len(d.tickers) {
		limit = len(d.tickers)
	}
	out := make([]string, 0, limit)
	for _, t := range d.tickers[:limit] {
		out = append(out, t.Symbol)
	}
	return out, nil
}

// TopVolume keeps USD-quoted, non-stablecoin markets ordered by 24h quote
// volume, highest first. A limit of zero keeps all of them. Markets that share
// a base across USD quotes appear once.
func TopVolume(tickers []domain.Ticker, limit int) []domain.Ticker {
	seen := make(map[string]bool)
	out := make([]domain.Ticker, 0, len(tickers))
	sorted := append([]domain.Ticker(nil), tickers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Volume > sorted[j].Volume })
	for _, t := range sorted {
		if !symbols.IsUSDQuote(t.Symbol) {
			continue
		}
		base := symbols.Base(t.Symbol)
		if risk.IsStablecoin(base) || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
