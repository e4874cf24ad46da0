package gateway

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-core/internal/model"
)

const qtyEpsilon = 1e-9

// SimConfig controls the simulated broker.
type SimConfig struct {
	// SlippageTicks is applied against the trader on every fill.
	SlippageTicks  float64
	TickSize       float64
	PointValue     float64
	FeePerContract float64
	InitialEquity  float64
	// Simulated round-trip latency bounds; zero disables.
	LatencyMin time.Duration
	LatencyMax time.Duration
}

// Simulated is an in-memory broker used by backtests, the mock live mode
// and tests. It tracks its own position, cost basis and equity.
type Simulated struct {
	cfg    SimConfig
	logger *zap.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	mark     float64
	qty      float64
	cost     float64
	realized float64
	fees     float64
	orders   int

	rejectMsg  string
	rejectLeft int
	failErr    error
}

// NewSimulated creates a simulated gateway.
func NewSimulated(cfg SimConfig, logger *zap.Logger) *Simulated {
	if cfg.TickSize <= 0 {
		cfg.TickSize = 1
	}
	if cfg.PointValue <= 0 {
		cfg.PointValue = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetMark updates the price used for market orders and equity.
func (s *Simulated) SetMark(price float64) {
	s.mu.Lock()
	s.mark = price
	s.mu.Unlock()
}

// SetPosition overwrites the broker book, as if changed outside this process.
func (s *Simulated) SetPosition(qty, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qty = qty
	s.cost = cost
	if math.Abs(qty) < qtyEpsilon {
		s.qty, s.cost = 0, 0
	}
}

// RejectNext makes the next n submissions come back unaccepted with msg.
// n < 0 rejects until reset with RejectNext(0, "").
func (s *Simulated) RejectNext(n int, msg string) {
	s.mu.Lock()
	s.rejectLeft = n
	s.rejectMsg = msg
	s.mu.Unlock()
}

// FailWith makes every call return err until reset with FailWith(nil).
func (s *Simulated) FailWith(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// Orders is the number of accepted fills.
func (s *Simulated) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders
}

func (s *Simulated) Submit(ctx context.Context, dir model.Direction, qty float64, price float64) (Fill, error) {
	if dir != model.Long && dir != model.Short {
		return Fill{}, fmt.Errorf("%w: direction %s", ErrInvalidOrder, dir)
	}
	if qty <= 0 {
		return Fill{}, fmt.Errorf("%w: qty %.4f", ErrInvalidOrder, qty)
	}
	if err := s.latency(ctx); err != nil {
		return Fill{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return Fill{}, s.failErr
	}
	if s.rejectLeft != 0 {
		if s.rejectLeft > 0 {
			s.rejectLeft--
		}
		s.logger.Info("sim: order rejected", zap.String("side", dir.OrderSide()), zap.Float64("qty", qty), zap.String("reason", s.rejectMsg))
		return Fill{Accepted: false, Message: s.rejectMsg}, nil
	}

	ref := price
	if ref <= 0 {
		ref = s.mark
	}
	if ref <= 0 {
		return Fill{Accepted: false, Message: "no reference price for market order"}, nil
	}
	fillPrice := ref + dir.Sign()*s.cfg.SlippageTicks*s.cfg.TickSize

	s.apply(dir.Sign()*qty, fillPrice)
	s.fees += s.cfg.FeePerContract * qty
	s.orders++
	s.mark = ref

	s.logger.Debug("sim: filled",
		zap.String("side", dir.OrderSide()),
		zap.Float64("qty", qty),
		zap.Float64("ref", ref),
		zap.Float64("price", fillPrice),
		zap.Float64("position", s.qty),
	)
	return Fill{Accepted: true, Price: fillPrice}, nil
}

// apply books a signed quantity at price using weighted average cost.
func (s *Simulated) apply(delta, price float64) {
	switch {
	case s.qty == 0 || sameSign(s.qty, delta):
		total := s.qty + delta
		s.cost = (s.cost*math.Abs(s.qty) + price*math.Abs(delta)) / math.Abs(total)
		s.qty = total
	default:
		closed := math.Min(math.Abs(delta), math.Abs(s.qty))
		s.realized += (price - s.cost) * closed * math.Copysign(1, s.qty) * s.cfg.PointValue
		s.qty += delta
		switch {
		case math.Abs(s.qty) < qtyEpsilon:
			s.qty, s.cost = 0, 0
		case !sameSign(s.qty, -delta):
			// flipped through zero; remainder opened at price
			s.cost = price
		}
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func (s *Simulated) QueryPosition(ctx context.Context) (float64, error) {
	if err := s.latency(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	return s.qty, nil
}

func (s *Simulated) QueryCostBasis(ctx context.Context) (float64, error) {
	if err := s.latency(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	return s.cost, nil
}

// QueryEquity is initial equity plus realized and open P&L minus fees.
func (s *Simulated) QueryEquity(ctx context.Context) (float64, error) {
	if err := s.latency(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	open := 0.0
	if s.qty != 0 && s.mark > 0 {
		open = (s.mark - s.cost) * s.qty * s.cfg.PointValue
	}
	return s.cfg.InitialEquity + s.realized + open - s.fees, nil
}

func (s *Simulated) latency(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lo, hi := s.cfg.LatencyMin, s.cfg.LatencyMax
	if hi <= 0 {
		return nil
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	delay := lo
	if span := hi - lo; span > 0 {
		s.mu.Lock()
		delay += time.Duration(s.rng.Int63n(int64(span) + 1))
		s.mu.Unlock()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
