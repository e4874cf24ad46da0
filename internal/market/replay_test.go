package market

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/model"
)

const sampleCSV = `timestamp,open,high,low,close,volume
2024-03-04 09:00:00,100,105,99,104,10
2024-03-04 09:01:00,104,106,103,105,12
2024-03-04 09:01:00,105,107,104,106,5
2024-03-04 09:02:00,abc,106,103,105,12
2024-03-04 09:03:00,105,104,106,105,1
2024-03-04 09:04:00,105,108,104,107,7
`

func TestLoadBarsSkipsBadRows(t *testing.T) {
	bars, err := LoadBars(strings.NewReader(sampleCSV), "MXF", time.Minute, time.UTC, nil)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, "MXF", bars[0].Symbol)
	assert.Equal(t, 104.0, bars[0].Close)
	assert.Equal(t, 12.0, bars[1].Volume)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 4, 0, 0, time.UTC), bars[2].Start)
}

func TestLoadBarsUnixTimestamps(t *testing.T) {
	csv := "1709542800,1,2,1,2,3\n1709542860,2,3,2,3,4\n"
	bars, err := LoadBars(strings.NewReader(csv), "MXF", time.Minute, time.UTC, nil)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Minute, bars[1].Start.Sub(bars[0].Start))
}

type fakeClock struct{ slept []time.Duration }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

func testBars(n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = model.Bar{Symbol: "MXF", Interval: time.Minute, Start: t0.Add(time.Duration(i) * time.Minute),
			Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1}
	}
	return bars
}

func TestReplayPacing(t *testing.T) {
	clock := &fakeClock{}
	var seen []float64
	err := NewReplay(2*time.Second, nil).WithClock(clock).Run(context.Background(), testBars(4), func(b model.Bar) error {
		seen = append(seen, b.Close)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102, 103}, seen)
	assert.Len(t, clock.slept, 3)
}

func TestReplayFullSpeedDoesNotSleep(t *testing.T) {
	clock := &fakeClock{}
	err := NewReplay(0, nil).WithClock(clock).Run(context.Background(), testBars(3), func(model.Bar) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, clock.slept)
}

func TestReplayStopsOnHandlerErrorAndCancel(t *testing.T) {
	boom := errors.New("boom")
	n := 0
	err := NewReplay(0, nil).Run(context.Background(), testBars(5), func(model.Bar) error {
		n++
		if n == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewReplay(0, nil).Run(ctx, testBars(5), func(model.Bar) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
