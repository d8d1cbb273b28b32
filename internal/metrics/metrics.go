// Package metrics derives trade figures a platform export may leave out and
// aggregates the live preview statistics of an analysis.
package metrics

import (
	"github.com/shopspring/decimal"

	"trade-import-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// ComputePnl returns the profit of a closed position: (exit-entry)*qty for
// long trades and (entry-exit)*qty for short ones.
func ComputePnl(direction models.Direction, entry, exit, qty float64) float64 {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	q := decimal.NewFromFloat(qty)

	diff := x.Sub(e)
	if direction == models.DirectionShort {
		diff = e.Sub(x)
	}
	return diff.Mul(q).InexactFloat64()
}

// ComputeRR returns the reward to risk ratio implied by entry, stop loss and
// take profit. A stop at or beyond the entry on the profit side leaves no
// risk to measure against and yields 0.
func ComputeRR(direction models.Direction, entry, stopLoss, takeProfit float64) float64 {
	e := decimal.NewFromFloat(entry)
	sl := decimal.NewFromFloat(stopLoss)
	tp := decimal.NewFromFloat(takeProfit)

	risk, reward := e.Sub(sl), tp.Sub(e)
	if direction == models.DirectionShort {
		risk, reward = sl.Sub(e), e.Sub(tp)
	}

	if !risk.IsPositive() {
		return 0
	}

	rr := reward.Div(risk).Abs()
	return ClampRR(rr.InexactFloat64())
}

// ClampRR floors a risk:reward value at 0.
func ClampRR(rr float64) float64 {
	if rr < 0 {
		return 0
	}
	return rr
}

// ComputeSummary aggregates the preview statistics of analyzed trades. Win
// rate is the percentage of trades with a positive pnl.
func ComputeSummary(trades []models.CanonicalTrade) models.SummaryStats {
	stats := models.SummaryStats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	total := decimal.Zero
	wins := 0
	for i := range trades {
		total = total.Add(decimal.NewFromFloat(trades[i].Pnl))
		if trades[i].IsWin() {
			wins++
		}
	}

	count := decimal.NewFromInt(int64(len(trades)))
	stats.TotalPnl = total.InexactFloat64()
	stats.AvgPnl = total.Div(count).Round(2).InexactFloat64()
	stats.WinRate = decimal.NewFromInt(int64(wins)).Mul(hundred).Div(count).Round(2).InexactFloat64()
	return stats
}
