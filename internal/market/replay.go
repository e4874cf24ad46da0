package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"futures-core/internal/model"
	"futures-core/pkg/logging"
)

// ErrMalformedRow marks OHLCV rows rejected at the feed boundary.
var ErrMalformedRow = errors.New("malformed row")

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02T15:04:05",
}

// LoadBarsFile reads an OHLCV CSV from disk. See LoadBars.
func LoadBarsFile(path, symbol string, interval time.Duration, loc *time.Location, logger *zap.Logger) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars file: %w", err)
	}
	defer f.Close()
	return LoadBars(f, symbol, interval, loc, logger)
}

// LoadBars parses rows of timestamp,open,high,low,close,volume. A header row
// is skipped. Malformed rows and rows that do not advance the timestamp are
// logged and skipped so the rest of the table still loads.
func LoadBars(r io.Reader, symbol string, interval time.Duration, loc *time.Location, logger *zap.Logger) ([]model.Bar, error) {
	log := logging.OrNop(logger).Named("replay")
	if loc == nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = time.Minute
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		bars    []model.Bar
		last    time.Time
		line    int
		skipped int
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			skipped++
			log.Warn("unreadable row skipped", zap.Int("line", line), zap.Error(err))
			continue
		}
		if line == 1 && isHeader(rec) {
			continue
		}

		bar, err := parseRow(rec, symbol, interval, loc)
		if err != nil {
			skipped++
			log.Warn("malformed row skipped", zap.Int("line", line), zap.Error(err))
			continue
		}
		if !last.IsZero() && !bar.Start.After(last) {
			skipped++
			log.Warn("non-increasing timestamp skipped",
				zap.Int("line", line), zap.Time("ts", bar.Start), zap.Time("previous", last))
			continue
		}
		last = bar.Start
		bars = append(bars, bar)
	}

	log.Info("bars loaded", zap.Int("bars", len(bars)), zap.Int("skipped", skipped))
	return bars, nil
}

func isHeader(rec []string) bool {
	if len(rec) < 2 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	return err != nil
}

func parseRow(rec []string, symbol string, interval time.Duration, loc *time.Location) (model.Bar, error) {
	if len(rec) < 6 {
		return model.Bar{}, fmt.Errorf("%w: want 6 fields, got %d", ErrMalformedRow, len(rec))
	}
	ts, err := parseTime(strings.TrimSpace(rec[0]), loc)
	if err != nil {
		return model.Bar{}, err
	}
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRow, i+1, err)
		}
		vals[i] = v
	}
	bar := model.Bar{
		Symbol:   symbol,
		Interval: interval,
		Start:    ts,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}
	if err := ValidateBar(bar); err != nil {
		return model.Bar{}, err
	}
	return bar, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformedRow)
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs > 1e12 {
			return time.UnixMilli(secs).In(loc), nil
		}
		return time.Unix(secs, 0).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRow, s)
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Replay plays a bar table back in order at a fixed pace.
type Replay struct {
	speed time.Duration
	clock Clock
	log   *zap.Logger
}

// NewReplay creates a feeder pausing speed between bars; 0 plays as fast as possible.
func NewReplay(speed time.Duration, logger *zap.Logger) *Replay {
	if speed < 0 {
		speed = 0
	}
	return &Replay{speed: speed, clock: realClock{}, log: logging.OrNop(logger).Named("replay")}
}

// WithClock swaps the clock implementation.
func (r *Replay) WithClock(clock Clock) *Replay {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// Run hands each bar to handler in order. It stops at the first handler
// error or when ctx is done.
func (r *Replay) Run(ctx context.Context, bars []model.Bar, handler func(model.Bar) error) error {
	if handler == nil {
		return errors.New("replay handler is nil")
	}
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(bar); err != nil {
			return fmt.Errorf("replay bar %d (%s): %w", i, bar.Start.Format(time.RFC3339), err)
		}
		if r.speed > 0 && i < len(bars)-1 {
			if err := r.clock.Sleep(ctx, r.speed); err != nil {
				return err
			}
		}
	}
	r.log.Info("replay finished", zap.Int("bars", len(bars)))
	return nil
}
