package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/gateway"
	"futures-core/internal/ledger"
	"futures-core/internal/model"
	"futures-core/pkg/db"
)

func setup(t *testing.T) (*ledger.Ledger, *gateway.Simulated, *db.Database) {
	t.Helper()
	sim := gateway.NewSimulated(gateway.SimConfig{PointValue: 10}, nil)
	l := ledger.New(ledger.Config{Symbol: "MXF", PointValue: 10, FeePerContract: 22}, sim, nil)
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return l, sim, database
}

func TestResyncAdoptsBrokerPosition(t *testing.T) {
	ctx := context.Background()
	l, sim, database := setup(t)
	svc := NewService(sim, l, database, time.Second, nil)

	sim.SetPosition(2, 19950)
	rep := svc.Resync(ctx, 20000, "startup")
	assert.False(t, rep.Stale)
	assert.True(t, rep.HasDiff)
	assert.True(t, rep.Synced)
	assert.Equal(t, 2.0, rep.RealQty)

	pos := l.Position()
	assert.Equal(t, 2.0, pos.Qty)
	assert.Equal(t, 19950.0, pos.AvgCost)
	assert.Equal(t, ledger.AnchorGateway, rep.Outcome.AnchorSource)

	last, ok := svc.Last()
	require.True(t, ok)
	assert.Equal(t, "startup", last.Reason)

	rows, err := database.ListReconciliationReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gateway", rows[0].Anchor)
}

func TestResyncAnchorsToMarketWithoutCost(t *testing.T) {
	l, sim, _ := setup(t)
	svc := NewService(sim, l, nil, time.Second, nil)

	sim.SetPosition(-1, 0)
	rep := svc.Resync(context.Background(), 20100, "operator")
	assert.Equal(t, ledger.AnchorMarket, rep.Outcome.AnchorSource)
	assert.Equal(t, 20100.0, l.Position().AvgCost)
	assert.Equal(t, 20100.0, l.Position().High)
}

// stuck never answers position queries.
type stuck struct {
	gateway.Gateway
}

func (stuck) QueryPosition(context.Context) (float64, error) {
	select {}
}

func TestResyncTimeoutIsStale(t *testing.T) {
	ctx := context.Background()
	l, sim, database := setup(t)
	_, err := l.Execute(ctx, &model.Signal{Symbol: "MXF", Direction: model.Long, Qty: 1}, 100)
	require.NoError(t, err)

	svc := NewService(stuck{Gateway: sim}, l, database, 20*time.Millisecond, nil)
	rep := svc.Resync(ctx, 120, "force sync")
	assert.True(t, rep.Stale)
	assert.Contains(t, rep.Error, "timeout")
	assert.Nil(t, rep.Outcome)
	assert.Equal(t, 1.0, l.Position().Qty)

	rows, err := database.ListReconciliationReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Stale)
}

func TestCheckIsReadOnly(t *testing.T) {
	l, sim, _ := setup(t)
	svc := NewService(sim, l, nil, time.Second, nil)

	sim.SetPosition(3, 100)
	rep := svc.Check(context.Background())
	assert.True(t, rep.HasDiff)
	assert.Equal(t, 3.0, rep.RealQty)
	assert.True(t, l.Position().IsFlat())
	_, ok := svc.Last()
	assert.False(t, ok)

	sim.FailWith(errors.New("down"))
	rep = svc.Check(context.Background())
	assert.True(t, rep.Stale)
}

func TestPollerOnlyRequests(t *testing.T) {
	l, sim, _ := setup(t)
	svc := NewService(sim, l, nil, time.Second, nil)
	sim.SetPosition(1, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		reasons []string
	)
	done := make(chan struct{})
	svc.Start(ctx, 5*time.Millisecond, func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, reason)
		if len(reasons) == 1 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never requested a resync")
	}
	cancel()

	mu.Lock()
	assert.Contains(t, reasons[0], "real 1")
	mu.Unlock()
	assert.True(t, l.Position().IsFlat())
}
