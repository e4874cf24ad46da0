package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/model"
)

func newSim() *Simulated {
	return NewSimulated(SimConfig{SlippageTicks: 1, TickSize: 1, PointValue: 10, FeePerContract: 22, InitialEquity: 100000}, nil)
}

func TestSimulatedSlippageAgainstTrader(t *testing.T) {
	ctx := context.Background()
	sim := newSim()

	fill, err := sim.Submit(ctx, model.Long, 1, 20000)
	require.NoError(t, err)
	assert.True(t, fill.Accepted)
	assert.Equal(t, 20001.0, fill.Price)

	fill, err = sim.Submit(ctx, model.Short, 1, 20100)
	require.NoError(t, err)
	assert.Equal(t, 20099.0, fill.Price)

	qty, err := sim.QueryPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, qty)

	// (20099 - 20001) * 10 - 2 * 22
	eq, err := sim.QueryEquity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100000+980-44, eq, 1e-9)
	assert.Equal(t, 2, sim.Orders())
}

func TestSimulatedPositionBook(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(SimConfig{}, nil)

	tests := []struct {
		name string
		dir  model.Direction
		qty  float64
		px   float64
		pos  float64
		cost float64
	}{
		{"open long", model.Long, 1, 100, 1, 100},
		{"add long", model.Long, 1, 110, 2, 105},
		{"partial close", model.Short, 1, 120, 1, 105},
		{"flip short", model.Short, 3, 90, -2, 90},
		{"close", model.Long, 2, 80, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.Submit(ctx, tt.dir, tt.qty, tt.px)
			require.NoError(t, err)
			pos, _ := sim.QueryPosition(ctx)
			cost, _ := sim.QueryCostBasis(ctx)
			assert.InDelta(t, tt.pos, pos, 1e-9)
			assert.InDelta(t, tt.cost, cost, 1e-9)
		})
	}
}

func TestSimulatedMarketOrderUsesMark(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated(SimConfig{}, nil)

	fill, err := sim.Submit(ctx, model.Long, 1, 0)
	require.NoError(t, err)
	assert.False(t, fill.Accepted)

	sim.SetMark(150)
	fill, err = sim.Submit(ctx, model.Long, 1, 0)
	require.NoError(t, err)
	assert.True(t, fill.Accepted)
	assert.Equal(t, 150.0, fill.Price)
}

func TestSimulatedInjection(t *testing.T) {
	ctx := context.Background()
	sim := newSim()

	sim.RejectNext(1, "insufficient margin")
	fill, err := sim.Submit(ctx, model.Long, 1, 100)
	require.NoError(t, err)
	assert.False(t, fill.Accepted)
	assert.Equal(t, "insufficient margin", fill.Message)

	fill, err = sim.Submit(ctx, model.Long, 1, 100)
	require.NoError(t, err)
	assert.True(t, fill.Accepted)

	boom := errors.New("link down")
	sim.FailWith(boom)
	_, err = sim.QueryPosition(ctx)
	assert.ErrorIs(t, err, boom)
	sim.FailWith(nil)

	_, err = sim.Submit(ctx, model.Flatten, 1, 100)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = sim.Submit(ctx, model.Long, 0, 100)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestSimulatedHonorsContext(t *testing.T) {
	sim := NewSimulated(SimConfig{LatencyMin: time.Second, LatencyMax: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Submit(ctx, model.Long, 1, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

// hanging ignores its context entirely.
type hanging struct {
	release chan struct{}
}

func (h hanging) Submit(context.Context, model.Direction, float64, float64) (Fill, error) {
	<-h.release
	return Fill{Accepted: true}, nil
}

func (h hanging) QueryPosition(context.Context) (float64, error) {
	<-h.release
	return 1, nil
}

func (h hanging) QueryEquity(context.Context) (float64, error) {
	<-h.release
	return 1, nil
}

func (h hanging) QueryCostBasis(context.Context) (float64, error) {
	<-h.release
	return 1, nil
}

func TestTimeoutBoundsHangingGateway(t *testing.T) {
	h := hanging{release: make(chan struct{})}
	defer close(h.release)
	gw := WithTimeout(h, 20*time.Millisecond)

	start := time.Now()
	_, err := gw.QueryPosition(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	_, err = gw.Submit(context.Background(), model.Long, 1, 100)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTimeoutPassesThrough(t *testing.T) {
	sim := newSim()
	gw := WithTimeout(sim, time.Second)
	fill, err := gw.Submit(context.Background(), model.Long, 2, 100)
	require.NoError(t, err)
	assert.True(t, fill.Accepted)

	pos, err := gw.QueryPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, pos)

	assert.Same(t, sim, WithTimeout(sim, 0))
}
