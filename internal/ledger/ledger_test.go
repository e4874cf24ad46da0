package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/gateway"
	"futures-core/internal/model"
)

const (
	pointValue = 10
	fee        = 22
)

func newLedger(slippage float64) (*Ledger, *gateway.Simulated) {
	sim := gateway.NewSimulated(gateway.SimConfig{SlippageTicks: slippage, TickSize: 1, PointValue: pointValue, FeePerContract: fee}, nil)
	l := New(Config{Symbol: "MXF", Strategy: "wave", PointValue: pointValue, FeePerContract: fee}, sim, nil)
	return l, sim
}

func sig(dir model.Direction, qty float64) *model.Signal {
	return &model.Signal{Symbol: "MXF", Direction: dir, Qty: qty, Reason: "test", Time: time.Unix(1700000000, 0)}
}

func manual(dir model.Direction, qty float64) *model.Signal {
	s := sig(dir, qty)
	s.Manual = true
	return s
}

func TestWorkedExample(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(0)

	res, err := l.Execute(ctx, sig(model.Long, 1), 100)
	require.NoError(t, err)
	assert.Equal(t, ActionOpen, res.Action)
	assert.Equal(t, 1.0, res.Position.Qty)
	assert.Equal(t, 100.0, res.Position.AvgCost)
	assert.Zero(t, res.RealizedPnL())

	res, err = l.Execute(ctx, manual(model.Long, 1), 110)
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, res.Action)
	assert.Equal(t, 2.0, res.Position.Qty)
	assert.InDelta(t, 105.0, res.Position.AvgCost, 1e-9)

	res, err = l.Execute(ctx, sig(model.Flatten, 0), 120)
	require.NoError(t, err)
	assert.Equal(t, ActionClose, res.Action)
	assert.True(t, res.Position.IsFlat())
	assert.False(t, res.Position.HasCost)
	require.NotNil(t, res.Trade)
	// two one-lot entries and a two-lot exit
	fees := fee*1.0 + fee*1.0 + fee*2.0
	assert.InDelta(t, (120-105)*2*pointValue, res.Trade.GrossPnL, 1e-9)
	assert.InDelta(t, (120-105)*2*pointValue-fees, res.Trade.PnL, 1e-9)
	assert.InDelta(t, fees, res.Trade.Fee, 1e-9)
	assert.Equal(t, model.Long, res.Trade.Direction)
	assert.NotEmpty(t, res.Trade.ID)

	assert.Len(t, l.Trades(), 1)
	st := l.Stats()
	assert.Equal(t, 1, st.Trades)
	assert.Equal(t, 1, st.Wins)
	assert.InDelta(t, res.Trade.PnL, st.RealizedPnL, 1e-9)
}

func TestRoundTripAtSamePriceCostsFees(t *testing.T) {
	ctx := context.Background()
	for _, dir := range []model.Direction{model.Long, model.Short} {
		t.Run(dir.String(), func(t *testing.T) {
			l, _ := newLedger(0)
			_, err := l.Execute(ctx, sig(dir, 3), 20000)
			require.NoError(t, err)
			res, err := l.Execute(ctx, sig(model.Flatten, 0), 20000)
			require.NoError(t, err)
			require.NotNil(t, res.Trade)
			assert.InDelta(t, -2*3*fee, res.Trade.PnL, 1e-9)
			assert.Zero(t, res.Trade.GrossPnL)

			st := l.Stats()
			assert.Zero(t, st.Wins)
			assert.Zero(t, st.Losses)
		})
	}
}

func TestShortPnL(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(0)
	_, err := l.Execute(ctx, sig(model.Short, 2), 200)
	require.NoError(t, err)
	res, err := l.Execute(ctx, sig(model.Flatten, 0), 180)
	require.NoError(t, err)
	assert.InDelta(t, (200-180)*2*pointValue, res.Trade.GrossPnL, 1e-9)
}

func TestNilAndIgnoredSignals(t *testing.T) {
	ctx := context.Background()
	l, sim := newLedger(0)

	res, err := l.Execute(ctx, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)

	res, err = l.Execute(ctx, sig(model.Flatten, 0), 100)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)

	_, err = l.Execute(ctx, sig(model.Long, 1), 100)
	require.NoError(t, err)

	res, err = l.Execute(ctx, sig(model.Long, 1), 110)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, res.Action)
	assert.Contains(t, res.Reason, "manual")
	assert.Equal(t, 1.0, l.Position().Qty)

	other := sig(model.Short, 1)
	other.Symbol = "TXF"
	res, err = l.Execute(ctx, other, 110)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, res.Action)

	assert.Equal(t, 1, sim.Orders())
}

func TestReversalPaysBothLegs(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(1)

	res, err := l.Execute(ctx, sig(model.Long, 1), 100)
	require.NoError(t, err)
	assert.Equal(t, 101.0, res.Position.AvgCost)

	res, err = l.Execute(ctx, sig(model.Short, 2), 150)
	require.NoError(t, err)
	assert.Equal(t, ActionReverse, res.Action)
	require.Len(t, res.Legs, 2)

	// close leg sells at 149, open leg sells at 149
	assert.Equal(t, 149.0, res.Legs[0].Price)
	assert.Equal(t, 149.0, res.Legs[1].Price)
	require.NotNil(t, res.Trade)
	assert.InDelta(t, (149-101)*pointValue-2*fee, res.Trade.PnL, 1e-9)

	pos := l.Position()
	assert.Equal(t, -2.0, pos.Qty)
	assert.Equal(t, 149.0, pos.AvgCost)
	assert.Equal(t, 149.0, pos.High)
	assert.Equal(t, 149.0, pos.Low)

	res, err = l.Execute(ctx, sig(model.Flatten, 0), 149)
	require.NoError(t, err)
	// exit buys at 150; entry fee for the two-lot short is carried into this trade
	assert.InDelta(t, (149-150)*2*pointValue-2*fee-2*fee, res.Trade.PnL, 1e-9)
}

func TestRejectionLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	l, sim := newLedger(0)

	sim.RejectNext(1, "market closed")
	res, err := l.Execute(ctx, sig(model.Long, 1), 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "market closed", rej.Message)
	assert.True(t, res.Position.IsFlat())
	assert.True(t, l.Position().IsFlat())

	_, err = l.Execute(ctx, sig(model.Long, 1), 100)
	require.NoError(t, err)

	sim.RejectNext(1, "no liquidity")
	_, err = l.Execute(ctx, sig(model.Flatten, 0), 120)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1.0, l.Position().Qty)
	assert.Empty(t, l.Trades())

	boom := errors.New("socket closed")
	sim.FailWith(boom)
	_, err = l.Execute(ctx, sig(model.Short, 1), 120)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, l.Position().Qty)
}

func TestReversalOpenLegRejected(t *testing.T) {
	ctx := context.Background()
	l, sim := newLedger(0)
	_, err := l.Execute(ctx, sig(model.Long, 1), 100)
	require.NoError(t, err)

	// the close leg goes through, the open leg is refused
	l.gw = &rejectAfter{Gateway: sim, allow: 1}
	res, err := l.Execute(ctx, sig(model.Short, 1), 110)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, ActionReverse, res.Action)
	require.NotNil(t, res.Trade)
	assert.Len(t, res.Legs, 1)
	assert.True(t, res.Position.IsFlat())
	assert.True(t, l.Position().IsFlat())
	assert.Len(t, l.Trades(), 1)
}

// rejectAfter accepts the first allow submissions and rejects the rest.
type rejectAfter struct {
	gateway.Gateway
	allow int
}

func (r *rejectAfter) Submit(ctx context.Context, dir model.Direction, qty, price float64) (gateway.Fill, error) {
	if r.allow == 0 {
		return gateway.Fill{Accepted: false, Message: "rejected"}, nil
	}
	r.allow--
	return r.Gateway.Submit(ctx, dir, qty, price)
}

func TestMarkTracksExtrema(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(0)

	l.Mark(model.Bar{High: 500, Low: 1})
	assert.Zero(t, l.Position().High)

	_, err := l.Execute(ctx, sig(model.Long, 1), 100)
	require.NoError(t, err)
	l.Mark(model.Bar{High: 130, Low: 95})
	l.Mark(model.Bar{High: 120, Low: 98})
	pos := l.Position()
	assert.Equal(t, 130.0, pos.High)
	assert.Equal(t, 95.0, pos.Low)
}
