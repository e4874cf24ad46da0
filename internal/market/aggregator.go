package market

import (
	"time"

	"go.uber.org/zap"

	"futures-core/internal/model"
	"futures-core/pkg/logging"
)

// Aggregator folds ticks for one symbol into fixed-interval bars.
// It is not safe for concurrent use; the engine loop owns it.
type Aggregator struct {
	symbol   string
	interval time.Duration
	onBar    func(model.Bar)
	log      *zap.Logger

	// OnDrop, when set, observes ticks rejected as out-of-order.
	OnDrop func(model.Tick)

	open    model.Bar
	hasOpen bool
	dropped uint64
}

// NewAggregator builds an aggregator that calls onBar with each finalized bar.
func NewAggregator(symbol string, interval time.Duration, onBar func(model.Bar), logger *zap.Logger) *Aggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Aggregator{
		symbol:   symbol,
		interval: interval,
		onBar:    onBar,
		log:      logging.OrNop(logger).Named("aggregator"),
	}
}

// OnTick folds one tick into the open bar, finalizing it when the tick
// belongs to a later bucket.
func (a *Aggregator) OnTick(t model.Tick) {
	if t.Symbol != a.symbol {
		return
	}

	bucket := t.Time.Truncate(a.interval)
	if !a.hasOpen {
		a.start(t, bucket)
		return
	}

	switch {
	case bucket.Equal(a.open.Start):
		if t.Price > a.open.High {
			a.open.High = t.Price
		}
		if t.Price < a.open.Low {
			a.open.Low = t.Price
		}
		a.open.Close = t.Price
		a.open.Volume += t.Volume
	case bucket.After(a.open.Start):
		a.emit()
		a.start(t, bucket)
	default:
		a.dropped++
		a.log.Warn("out-of-order tick dropped",
			zap.Time("tick_time", t.Time),
			zap.Time("open_bucket", a.open.Start),
			zap.Float64("price", t.Price))
		if a.OnDrop != nil {
			a.OnDrop(t)
		}
	}
}

// Flush finalizes the open bar, if any.
func (a *Aggregator) Flush() {
	if a.hasOpen {
		a.emit()
	}
}

// Current returns a copy of the bar under construction.
func (a *Aggregator) Current() (model.Bar, bool) {
	return a.open, a.hasOpen
}

// Dropped is the number of out-of-order ticks discarded so far.
func (a *Aggregator) Dropped() uint64 {
	return a.dropped
}

func (a *Aggregator) start(t model.Tick, bucket time.Time) {
	a.open = model.Bar{
		Symbol:   a.symbol,
		Interval: a.interval,
		Start:    bucket,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
		Volume:   t.Volume,
	}
	a.hasOpen = true
}

func (a *Aggregator) emit() {
	bar := a.open
	a.hasOpen = false
	a.open = model.Bar{}
	if a.onBar != nil {
		a.onBar(bar)
	}
}
