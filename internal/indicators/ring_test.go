package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Push(Bucket{Close: float64(i)})
	}
	require.Equal(t, 3, r.Len())
	assert.Equal(t, []float64{3, 4, 5}, r.Closes(nil))

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 5.0, last.Close)
	assert.Equal(t, 3.0, r.At(0).Close)
}

func TestRingEmpty(t *testing.T) {
	r := NewRing(2)
	_, ok := r.Last()
	assert.False(t, ok)
	assert.Empty(t, r.Buckets(nil))

	r.Push(Bucket{Close: 1})
	r.Reset()
	assert.Equal(t, 0, r.Len())
}
