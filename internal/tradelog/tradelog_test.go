package tradelog

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/ledger"
	"futures-core/internal/model"
	"futures-core/internal/persistence"
	"futures-core/pkg/db"
)

var at = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func reversal() ledger.TradeResult {
	trade := model.TradeRecord{ID: "t1", Strategy: "wave", Symbol: "MXF", Direction: model.Long, Qty: 1,
		EntryPrice: 100, ExitPrice: 150, ExitTime: at, Fee: 44, GrossPnL: 500, PnL: 456}
	return ledger.TradeResult{
		Action: ledger.ActionReverse,
		Signal: model.Signal{Symbol: "MXF", Direction: model.Short, Qty: 1, Reason: "wave short", Time: at, Strategy: "wave"},
		Legs: []ledger.Leg{
			{Action: ledger.ActionClose, Direction: model.Short, Qty: 1, Price: 150, Fee: 22},
			{Action: ledger.ActionOpen, Direction: model.Short, Qty: 1, Price: 150, Fee: 22},
		},
		Trade: &trade,
	}
}

func TestRowsFromResult(t *testing.T) {
	rows := RowsFromResult(reversal())
	require.Len(t, rows, 2)
	assert.Equal(t, "CLOSE_SELL", rows[0].Action)
	assert.Equal(t, 456.0, rows[0].RealPnL)
	assert.Equal(t, "OPEN_SELL", rows[1].Action)
	assert.Zero(t, rows[1].RealPnL)
	assert.Equal(t, "wave short", rows[1].Message)

	assert.Empty(t, RowsFromResult(ledger.TradeResult{Action: ledger.ActionIgnored}))
}

func TestRowsFromTrade(t *testing.T) {
	trade := model.TradeRecord{Strategy: "wave", Symbol: "MXF", Direction: model.Short, Qty: 2,
		EntryPrice: 200, ExitPrice: 180, EntryTime: at.Add(-time.Hour), ExitTime: at, PnL: 312, Reason: "end of data"}

	rows := RowsFromTrade(trade)
	require.Len(t, rows, 2)
	assert.Equal(t, "OPEN_SELL", rows[0].Action)
	assert.Equal(t, 200.0, rows[0].Price)
	assert.Equal(t, at.Add(-time.Hour), rows[0].Time)
	assert.Zero(t, rows[0].RealPnL)
	assert.Equal(t, "CLOSE_BUY", rows[1].Action)
	assert.Equal(t, 180.0, rows[1].Price)
	assert.Equal(t, 312.0, rows[1].RealPnL)
	assert.Equal(t, "end of data", rows[1].Message)
	assert.Equal(t, 2.0, rows[1].Qty)
}

func TestRejectedRow(t *testing.T) {
	sig := model.Signal{Symbol: "MXF", Direction: model.Long, Qty: 1, Strategy: "wave", Time: at}
	r := RejectedRow(sig, 101, errors.New("ledger: OPEN leg rejected: market closed"))
	assert.Equal(t, "REJECTED_LONG", r.Action)
	assert.Equal(t, 101.0, r.Price)
	assert.Contains(t, r.Message, "market closed")
}

func TestCSVSinkAppendsWithSingleHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trades.csv")
	ctx := context.Background()

	s, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, RowsFromResult(reversal())...))
	require.NoError(t, s.Close())

	s, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, Row{Time: at, Symbol: "MXF", Action: "CLOSE_BUY", Price: 140, Qty: 1, Strategy: "wave", RealPnL: 56.5, Message: "stop, hit"}))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, Header, recs[0])
	assert.Equal(t, []string{"2024-03-01 09:30:00", "MXF", "CLOSE_SELL", "150", "1", "wave", "456.00", "wave short"}, recs[1])
	assert.Equal(t, "stop, hit", recs[3][7])
}

func TestSQLSink(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	sink := NewSQLSink(persistence.NewBatchWriter(database.DB, 100, time.Hour, nil))
	require.NoError(t, Record(ctx, sink, reversal()))
	require.NoError(t, sink.Flush(ctx))

	rows, err := database.ListTradeLog(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	trades, err := database.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "LONG", trades[0].Side)
	assert.Equal(t, 456.0, trades[0].PnL)
	require.NoError(t, sink.Close())
}

type memSink struct {
	rows   []Row
	trades []model.TradeRecord
	err    error
	closed bool
}

func (m *memSink) Append(_ context.Context, rows ...Row) error {
	m.rows = append(m.rows, rows...)
	return m.err
}

func (m *memSink) RecordTrade(_ context.Context, t model.TradeRecord) error {
	m.trades = append(m.trades, t)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

type rowsOnly struct{ n int }

func (r *rowsOnly) Append(_ context.Context, rows ...Row) error {
	r.n += len(rows)
	return nil
}

func (r *rowsOnly) Close() error { return nil }

func TestMultiFansOut(t *testing.T) {
	ctx := context.Background()
	a := &memSink{}
	b := &memSink{err: errors.New("disk full")}
	c := &rowsOnly{}
	m := Multi{a, b, c}

	err := Record(ctx, m, reversal())
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, a.rows, 2)
	assert.Len(t, b.rows, 2)
	assert.Equal(t, 2, c.n)
	assert.Len(t, a.trades, 1)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.NoError(t, Record(ctx, nil, reversal()))
}
