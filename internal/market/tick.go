package market

import (
	"errors"
	"fmt"
	"math"

	"futures-core/internal/model"
)

// ErrMalformedTick marks ticks rejected at the feed boundary.
var ErrMalformedTick = errors.New("malformed tick")

// ValidateTick rejects ticks that must never reach the aggregator.
func ValidateTick(t model.Tick) error {
	switch {
	case t.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrMalformedTick)
	case t.Time.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedTick)
	case math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrMalformedTick, t.Price)
	case math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0:
		return fmt.Errorf("%w: volume %v", ErrMalformedTick, t.Volume)
	}
	return nil
}

// ValidateBar applies the same boundary checks to a bar.
func ValidateBar(b model.Bar) error {
	if b.Start.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedRow)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: price %v", ErrMalformedRow, v)
		}
	}
	if b.High < b.Low || b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) {
		return fmt.Errorf("%w: inconsistent range o=%v h=%v l=%v c=%v", ErrMalformedRow, b.Open, b.High, b.Low, b.Close)
	}
	if math.IsNaN(b.Volume) || b.Volume < 0 {
		return fmt.Errorf("%w: volume %v", ErrMalformedRow, b.Volume)
	}
	return nil
}
