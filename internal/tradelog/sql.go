package tradelog

import (
	"context"

	"futures-core/internal/model"
	"futures-core/internal/persistence"
	"futures-core/pkg/db"
)

// SQLSink queues rows and round trips on a batch writer so the engine loop
// never waits on sqlite.
type SQLSink struct {
	bw *persistence.BatchWriter
}

// NewSQLSink writes through bw. Closing the sink closes bw.
func NewSQLSink(bw *persistence.BatchWriter) *SQLSink {
	return &SQLSink{bw: bw}
}

func (s *SQLSink) Append(_ context.Context, rows ...Row) error {
	for _, r := range rows {
		s.bw.WriteQuery(db.InsertTradeLogSQL, db.TradeLogArgs(db.TradeLogRow{
			Time:     r.Time,
			Symbol:   r.Symbol,
			Action:   r.Action,
			Price:    r.Price,
			Qty:      r.Qty,
			Strategy: r.Strategy,
			RealPnL:  r.RealPnL,
			Message:  r.Message,
		})...)
	}
	return nil
}

func (s *SQLSink) RecordTrade(_ context.Context, t model.TradeRecord) error {
	s.bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(TradeRow(t))...)
	return nil
}

// Flush forces queued rows to disk.
func (s *SQLSink) Flush(ctx context.Context) error {
	return s.bw.Flush(ctx)
}

func (s *SQLSink) Close() error {
	return s.bw.Close()
}

// TradeRow maps a round trip to its table row.
func TradeRow(t model.TradeRecord) db.Trade {
	return db.Trade{
		ID:         t.ID,
		Strategy:   t.Strategy,
		Symbol:     t.Symbol,
		Side:       t.Direction.String(),
		Qty:        t.Qty,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		Fee:        t.Fee,
		GrossPnL:   t.GrossPnL,
		PnL:        t.PnL,
		Reason:     t.Reason,
	}
}
