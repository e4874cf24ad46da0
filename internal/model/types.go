// Package model holds the value types that flow between the feed, strategies,
// the ledger and the backtest harness.
package model

import (
	"math"
	"time"
)

// Direction is the intent of a signal or the side of a position.
type Direction int

const (
	None Direction = iota
	Long
	Short
	Flatten
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	case Flatten:
		return "FLATTEN"
	default:
		return "NONE"
	}
}

// Sign returns +1 for Long, -1 for Short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other trading side; Flatten and None map to None.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return None
	}
}

// OrderSide is the broker-facing verb for a direction.
func (d Direction) OrderSide() string {
	switch d {
	case Long:
		return "BUY"
	case Short:
		return "SELL"
	default:
		return ""
	}
}

// Tick is a single trade print.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
	Bid    float64   `json:"bid,omitempty"`
	Ask    float64   `json:"ask,omitempty"`
}

// Bar is an OHLCV aggregate over [Start, Start+Interval).
type Bar struct {
	Symbol   string        `json:"symbol"`
	Interval time.Duration `json:"interval"`
	Start    time.Time     `json:"start"`
	Open     float64       `json:"open"`
	High     float64       `json:"high"`
	Low      float64       `json:"low"`
	Close    float64       `json:"close"`
	Volume   float64       `json:"volume"`
}

// End is the exclusive end of the bar's bucket.
func (b Bar) End() time.Time {
	return b.Start.Add(b.Interval)
}

// Signal is a strategy's (or operator's) request to change the position.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Qty       float64   `json:"qty"`
	Reason    string    `json:"reason"`
	Time      time.Time `json:"time"`
	Strategy  string    `json:"strategy"`
	// Manual marks an operator-authorized signal. Only manual signals may add
	// to an existing position.
	Manual bool `json:"manual"`
}

// Position is the ledger's view of the book for one symbol.
// AvgCost is meaningful only when HasCost is true, which implies Qty != 0.
type Position struct {
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	AvgCost   float64   `json:"avg_cost"`
	HasCost   bool      `json:"has_cost"`
	EntryTime time.Time `json:"entry_time"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
}

// Side reports Long, Short or None for a flat book.
func (p Position) Side() Direction {
	switch {
	case p.Qty > 0:
		return Long
	case p.Qty < 0:
		return Short
	default:
		return None
	}
}

// IsFlat reports whether no contracts are held.
func (p Position) IsFlat() bool {
	return p.Qty == 0
}

// Size is the absolute contract count.
func (p Position) Size() float64 {
	return math.Abs(p.Qty)
}

// TradeRecord is one realized round trip. Never mutated after creation.
type TradeRecord struct {
	ID         string    `json:"id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Qty        float64   `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Fee        float64   `json:"fee"`
	// GrossPnL excludes fees; PnL is net of every leg's fee for this round trip.
	GrossPnL float64 `json:"gross_pnl"`
	PnL      float64 `json:"pnl"`
	Reason   string  `json:"reason"`
}

// Holding is how long the position was open.
func (t TradeRecord) Holding() time.Duration {
	if t.EntryTime.IsZero() || t.ExitTime.Before(t.EntryTime) {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}
