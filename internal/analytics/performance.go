// Package analytics computes performance metrics over closed trades.
package analytics

import (
	"math"
	"sort"
	"time"

	"researchEngine/internal/domain"
)

// PerformanceMetrics holds the performance of a set of closed trades.
type PerformanceMetrics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	GrossProfit        float64
	GrossLoss          float64 // Positive magnitude of losing trades
	MaxDrawdown        float64 // Fraction of the peak balance
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64 // Negative
	FinalBalance       float64
	ReturnOnInvestment float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	RiskRewardRatio      float64
	LowConfidenceFills   int

	ByReason       map[domain.CloseReason]ReasonStats
	MonthlyReturns map[string]float64
	Drawdowns      []Drawdown
	EquityCurve    []EquityPoint
}

// ReasonStats aggregates trades that closed for the same reason.
type ReasonStats struct {
	Trades int
	PnL    float64
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates metrics from closed trades, starting from
// initialBalance. Open trades and trades without a close time are ignored.
// A trade with zero realized P&L counts as a loss.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	m := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		ByReason:       make(map[domain.CloseReason]ReasonStats),
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0),
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.ClosedAt != nil {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return m
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].ClosedAt.Before(*closed[j].ClosedAt)
	})

	balance := initialBalance
	peak := initialBalance
	var current *Drawdown
	var wins, losses int
	var totalDuration time.Duration

	for _, t := range closed {
		exit := *t.ClosedAt
		pnl := t.RealizedPnL

		m.TotalTrades++
		if pnl > 0 {
			m.WinningTrades++
			m.GrossProfit += pnl
			wins++
			losses = 0
		} else {
			m.LosingTrades++
			m.GrossLoss -= pnl
			losses++
			wins = 0
		}
		m.MaxConsecutiveWins = max(m.MaxConsecutiveWins, wins)
		m.MaxConsecutiveLosses = max(m.MaxConsecutiveLosses, losses)
		if t.LowConfidenceFill {
			m.LowConfidenceFills++
		}

		rs := m.ByReason[t.CloseReason]
		rs.Trades++
		rs.PnL += pnl
		m.ByReason[t.CloseReason] = rs

		totalDuration += exit.Sub(entryTime(t))
		m.MonthlyReturns[exit.Format("2006-01")] += pnl

		balance += pnl
		m.TotalProfit += pnl

		if balance > peak {
			peak = balance
			if current != nil {
				current.EndTime = exit
				current.EndValue = balance
				current.Duration = current.EndTime.Sub(current.StartTime)
				m.Drawdowns = append(m.Drawdowns, *current)
				current = nil
			}
		} else if peak > 0 {
			dd := (peak - balance) / peak
			if dd > 0 {
				if current == nil {
					current = &Drawdown{StartTime: exit, StartValue: peak, Depth: dd}
				} else {
					current.Depth = math.Max(current.Depth, dd)
				}
				m.MaxDrawdown = math.Max(m.MaxDrawdown, dd)
			}
		}

		point := EquityPoint{Time: exit, Value: balance}
		if peak > 0 {
			point.Drawdown = (peak - balance) / peak
		}
		m.EquityCurve = append(m.EquityCurve, point)
	}

	if current != nil {
		current.EndTime = *closed[len(closed)-1].ClosedAt
		current.EndValue = balance
		current.Duration = current.EndTime.Sub(current.StartTime)
		m.Drawdowns = append(m.Drawdowns, *current)
	}

	m.FinalBalance = balance
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = -m.GrossLoss / float64(m.LosingTrades)
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	}
	if m.AverageLoss != 0 {
		m.RiskRewardRatio = m.AverageWin / -m.AverageLoss
	}
	if initialBalance > 0 {
		m.ReturnOnInvestment = (balance - initialBalance) / initialBalance
		if m.MaxDrawdown > 0 {
			m.RecoveryFactor = m.TotalProfit / (initialBalance * m.MaxDrawdown)
		}
	}
	m.Expectancy = m.WinRate*m.AverageWin + (1-m.WinRate)*m.AverageLoss
	m.AverageTradeDuration = totalDuration / time.Duration(len(closed))

	return m
}

func entryTime(t *domain.Trade) time.Time {
	if t.FilledAt != nil {
		return *t.FilledAt
	}
	return t.CreatedAt
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
