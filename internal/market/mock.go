package market

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"futures-core/internal/model"
	"futures-core/pkg/logging"
)

// MockFeed generates synthetic ticks for local development.
type MockFeed struct {
	Symbol     string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Seed       int64
	Logger     *zap.Logger
}

// Start runs a random walk until ctx is done, handing each tick to sink.
// sink may block; that is how the engine applies back-pressure.
func (m *MockFeed) Start(ctx context.Context, sink func(context.Context, model.Tick) error) {
	log := logging.OrNop(m.Logger).Named("mockfeed")
	if sink == nil {
		log.Warn("mock feed: sink not set")
		return
	}
	symbol := m.Symbol
	if symbol == "" {
		symbol = "MXF"
	}
	price := m.StartPrice
	if price == 0 {
		price = 20000
	}
	step := m.Step
	if step == 0 {
		step = 2
	}
	interval := m.Interval
	if interval == 0 {
		interval = time.Second
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				// simple random walk, rounded to whole points
				price = math.Max(1, math.Round(price+(rng.Float64()*2-1)*step))
				tick := model.Tick{
					Symbol: symbol,
					Price:  price,
					Volume: float64(1 + rng.Intn(5)),
					Time:   now,
				}
				if err := sink(ctx, tick); err != nil {
					log.Debug("mock feed stopped", zap.Error(err))
					return
				}
			}
		}
	}()
}
