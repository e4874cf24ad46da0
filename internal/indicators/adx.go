package indicators

import "math"

// DMI holds the directional movement readings for the newest bucket.
type DMI struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX computes Wilder-style directional movement over buckets (oldest first)
// with every stage smoothed by EMA(span=period). Buckets where +DI + -DI is 0
// contribute no DX sample. ok is false when no DX sample could be formed.
func ADX(buckets []Bucket, period int) (DMI, bool) {
	n := len(buckets)
	if n < 2 || period <= 0 {
		return DMI{}, false
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr[0] = buckets[0].High - buckets[0].Low
	for i := 1; i < n; i++ {
		cur, prev := buckets[i], buckets[i-1]
		tr[i] = math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	atr := emaSeries(nil, tr, period)
	smPlus := emaSeries(nil, plusDM, period)
	smMinus := emaSeries(nil, minusDM, period)

	alpha := 2.0 / float64(period+1)
	var (
		adx               float64
		seeded            bool
		lastPlus, lastMin float64
	)
	for i := 0; i < n; i++ {
		if atr[i] == 0 {
			continue
		}
		pdi := 100 * smPlus[i] / atr[i]
		mdi := 100 * smMinus[i] / atr[i]
		lastPlus, lastMin = pdi, mdi
		sum := pdi + mdi
		if sum == 0 {
			continue
		}
		dx := 100 * math.Abs(pdi-mdi) / sum
		if !seeded {
			adx = dx
			seeded = true
			continue
		}
		adx = alpha*dx + (1-alpha)*adx
	}
	if !seeded {
		return DMI{PlusDI: lastPlus, MinusDI: lastMin}, false
	}
	return DMI{ADX: adx, PlusDI: lastPlus, MinusDI: lastMin}, true
}
