package indicators

import (
	"time"

	"futures-core/internal/model"
)

// BucketKey maps a bar time to its coarse bucket: floor(minute of day / minutes),
// offset by the calendar day so keys from different sessions never collide.
func BucketKey(t time.Time, minutes int) int64 {
	if minutes <= 0 {
		minutes = 1
	}
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
	minuteOfDay := t.Hour()*60 + t.Minute()
	return day*10000 + int64(minuteOfDay/minutes)
}

// Bucketizer compresses fine bars into N-minute buckets held in a bounded ring.
type Bucketizer struct {
	minutes int
	ring    *Ring
	acc     Bucket
	hasAcc  bool
}

// NewBucketizer groups bars into buckets of minutes, retaining capacity closed buckets.
func NewBucketizer(minutes, capacity int) *Bucketizer {
	if minutes <= 0 {
		minutes = 1
	}
	return &Bucketizer{minutes: minutes, ring: NewRing(capacity)}
}

// Add folds bar into the open accumulator. When the bar opens a new bucket the
// previous accumulator is pushed into the ring and Add reports true.
func (b *Bucketizer) Add(bar model.Bar) bool {
	key := BucketKey(bar.Start, b.minutes)
	if b.hasAcc && key == b.acc.Key {
		if bar.High > b.acc.High {
			b.acc.High = bar.High
		}
		if bar.Low < b.acc.Low {
			b.acc.Low = bar.Low
		}
		b.acc.Close = bar.Close
		b.acc.Volume += bar.Volume
		return false
	}

	flushed := false
	if b.hasAcc {
		b.ring.Push(b.acc)
		flushed = true
	}
	b.acc = Bucket{
		Key:    key,
		Start:  bar.Start,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	}
	b.hasAcc = true
	return flushed
}

// Open returns the accumulator under construction.
func (b *Bucketizer) Open() (Bucket, bool) {
	return b.acc, b.hasAcc
}

// Ring exposes the closed buckets.
func (b *Bucketizer) Ring() *Ring {
	return b.ring
}

// Minutes is the bucket width.
func (b *Bucketizer) Minutes() int {
	return b.minutes
}

// Reset drops all state.
func (b *Bucketizer) Reset() {
	b.ring.Reset()
	b.acc = Bucket{}
	b.hasAcc = false
}
