package backtest

import (
	"math"
	"time"

	"futures-core/internal/model"
)

// Metrics summarizes a run's round trips.
type Metrics struct {
	NetPnL      float64 `json:"net_pnl"`
	Fees        float64 `json:"fees"`
	MaxDrawdown float64 `json:"max_drawdown"`
	// RewardRisk is NetPnL / MaxDrawdown, +Inf when there was no drawdown.
	RewardRisk float64       `json:"reward_risk"`
	Trades     int           `json:"trades"`
	Wins       int           `json:"wins"`
	Losses     int           `json:"losses"`
	WinRate    float64       `json:"win_rate"`
	AvgHolding time.Duration `json:"avg_holding"`
}

// Summarize computes metrics on the realized-P&L curve, one point per trade
// in exit order, starting from zero.
func Summarize(trades []model.TradeRecord) Metrics {
	var m Metrics
	var cum, peak float64
	var held time.Duration
	for _, t := range trades {
		m.Trades++
		m.Fees += t.Fee
		cum += t.PnL
		peak = math.Max(peak, cum)
		m.MaxDrawdown = math.Max(m.MaxDrawdown, peak-cum)
		held += t.Holding()
		switch {
		case t.GrossPnL > 0:
			m.Wins++
		case t.GrossPnL < 0:
			m.Losses++
		}
	}
	m.NetPnL = cum
	if m.Trades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Trades)
		m.AvgHolding = held / time.Duration(m.Trades)
	}
	if m.MaxDrawdown == 0 {
		m.RewardRisk = math.Inf(1)
	} else {
		m.RewardRisk = m.NetPnL / m.MaxDrawdown
	}
	return m
}
