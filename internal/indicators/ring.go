package indicators

import "time"

// Bucket is one coarse OHLCV aggregate built from several fine bars.
type Bucket struct {
	Key    int64     `json:"key"`
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Ring is a fixed-capacity FIFO of buckets; pushing past capacity evicts the oldest.
type Ring struct {
	buf  []Bucket
	head int // index of the oldest element
	size int
}

// NewRing allocates a ring holding at most capacity buckets.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]Bucket, capacity)}
}

// Push appends b, evicting the oldest bucket when full.
func (r *Ring) Push(b Bucket) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = b
		r.size++
		return
	}
	r.buf[r.head] = b
	r.head = (r.head + 1) % len(r.buf)
}

// Len is the number of buckets held.
func (r *Ring) Len() int { return r.size }

// Cap is the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// At returns the i-th bucket, 0 being the oldest.
func (r *Ring) At(i int) Bucket {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns the newest bucket.
func (r *Ring) Last() (Bucket, bool) {
	if r.size == 0 {
		return Bucket{}, false
	}
	return r.At(r.size - 1), true
}

// Buckets copies the ring contents oldest first into dst (reused when large enough).
func (r *Ring) Buckets(dst []Bucket) []Bucket {
	dst = dst[:0]
	for i := 0; i < r.size; i++ {
		dst = append(dst, r.At(i))
	}
	return dst
}

// Closes copies closing prices oldest first into dst.
func (r *Ring) Closes(dst []float64) []float64 {
	dst = dst[:0]
	for i := 0; i < r.size; i++ {
		dst = append(dst, r.At(i).Close)
	}
	return dst
}

// Volumes copies volumes oldest first into dst.
func (r *Ring) Volumes(dst []float64) []float64 {
	dst = dst[:0]
	for i := 0; i < r.size; i++ {
		dst = append(dst, r.At(i).Volume)
	}
	return dst
}

// Reset empties the ring.
func (r *Ring) Reset() {
	r.head, r.size = 0, 0
}
