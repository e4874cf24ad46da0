package indicators

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// EMA returns the last value of an exponential average with span period,
// alpha = 2/(period+1), seeded by the first value.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) == 0 {
		return 0
	}
	alpha := 2.0 / float64(period+1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// emaSeries writes the running EMA of values into dst.
func emaSeries(dst, values []float64, period int) []float64 {
	dst = dst[:0]
	if len(values) == 0 || period <= 0 {
		return dst
	}
	alpha := 2.0 / float64(period+1)
	ema := values[0]
	dst = append(dst, ema)
	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
		dst = append(dst, ema)
	}
	return dst
}

// MAType selects how a moving average is computed.
type MAType string

const (
	MATypeSMA MAType = "SMA"
	MATypeEMA MAType = "EMA"
)

// MovingAverage dispatches to SMA or EMA.
func MovingAverage(kind MAType, values []float64, period int) float64 {
	if kind == MATypeEMA {
		return EMA(values, period)
	}
	return SMA(values, period)
}
