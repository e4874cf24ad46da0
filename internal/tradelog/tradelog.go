// Package tradelog records every confirmed fill and rejection as append-only
// rows, to CSV and to sqlite.
package tradelog

import (
	"context"
	"errors"
	"time"

	"futures-core/internal/ledger"
	"futures-core/internal/model"
)

// Row is one trade log line.
type Row struct {
	Time     time.Time `json:"time"`
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"`
	Price    float64   `json:"price"`
	Qty      float64   `json:"qty"`
	Strategy string    `json:"strategy"`
	RealPnL  float64   `json:"real_pnl"`
	Message  string    `json:"message"`
}

// Sink stores rows.
type Sink interface {
	Append(ctx context.Context, rows ...Row) error
	Close() error
}

// TradeRecorder is implemented by sinks that also keep round trips.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, t model.TradeRecord) error
}

// RowsFromResult flattens a ledger result into one row per confirmed leg.
// The closing leg carries the round trip's net P&L.
func RowsFromResult(res ledger.TradeResult) []Row {
	rows := make([]Row, 0, len(res.Legs))
	at := res.Signal.Time
	if at.IsZero() {
		at = time.Now()
	}
	for _, leg := range res.Legs {
		r := Row{
			Time:     at,
			Symbol:   res.Signal.Symbol,
			Action:   string(leg.Action) + "_" + leg.Direction.OrderSide(),
			Price:    leg.Price,
			Qty:      leg.Qty,
			Strategy: res.Signal.Strategy,
			Message:  res.Signal.Reason,
		}
		if leg.Action == ledger.ActionClose && res.Trade != nil {
			r.RealPnL = res.Trade.PnL
			if r.Symbol == "" {
				r.Symbol = res.Trade.Symbol
			}
		}
		rows = append(rows, r)
	}
	return rows
}

// RowsFromTrade rebuilds the entry and exit legs of a finished round trip, in
// the same shape RowsFromResult gives live fills. Adds are folded into the
// single entry row at the average cost.
func RowsFromTrade(t model.TradeRecord) []Row {
	return []Row{
		{
			Time:     t.EntryTime,
			Symbol:   t.Symbol,
			Action:   string(ledger.ActionOpen) + "_" + t.Direction.OrderSide(),
			Price:    t.EntryPrice,
			Qty:      t.Qty,
			Strategy: t.Strategy,
		},
		{
			Time:     t.ExitTime,
			Symbol:   t.Symbol,
			Action:   string(ledger.ActionClose) + "_" + t.Direction.Opposite().OrderSide(),
			Price:    t.ExitPrice,
			Qty:      t.Qty,
			Strategy: t.Strategy,
			RealPnL:  t.PnL,
			Message:  t.Reason,
		},
	}
}

// RejectedRow records a signal the gateway refused or failed on.
func RejectedRow(sig model.Signal, ref float64, err error) Row {
	at := sig.Time
	if at.IsZero() {
		at = time.Now()
	}
	return Row{
		Time:     at,
		Symbol:   sig.Symbol,
		Action:   "REJECTED_" + sig.Direction.String(),
		Price:    ref,
		Qty:      sig.Qty,
		Strategy: sig.Strategy,
		Message:  err.Error(),
	}
}

// Record writes res to sink, and its round trip when sink keeps trades.
func Record(ctx context.Context, sink Sink, res ledger.TradeResult) error {
	if sink == nil {
		return nil
	}
	var errs []error
	if rows := RowsFromResult(res); len(rows) > 0 {
		errs = append(errs, sink.Append(ctx, rows...))
	}
	if rec, ok := sink.(TradeRecorder); ok && res.Trade != nil {
		errs = append(errs, rec.RecordTrade(ctx, *res.Trade))
	}
	return errors.Join(errs...)
}

// Multi fans rows out to every sink.
type Multi []Sink

func (m Multi) Append(ctx context.Context, rows ...Row) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rows...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordTrade(ctx context.Context, t model.TradeRecord) error {
	var errs []error
	for _, s := range m {
		if rec, ok := s.(TradeRecorder); ok {
			if err := rec.RecordTrade(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
