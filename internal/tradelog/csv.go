package tradelog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Header is the trade log CSV header.
var Header = []string{"Time", "Symbol", "Action", "Price", "Qty", "Strategy", "Real_PnL", "Message"}

const timeLayout = "2006-01-02 15:04:05"

// CSVSink appends rows to a CSV file, writing the header for a new file.
type CSVSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenCSV opens (or creates) path for appending.
func OpenCSV(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trade log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &CSVSink{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.w.Write(Header); err != nil {
			f.Close()
			return nil, err
		}
		s.w.Flush()
	}
	return s, s.w.Error()
}

func (s *CSVSink) Append(_ context.Context, rows ...Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		rec := []string{
			r.Time.Format(timeLayout),
			r.Symbol,
			r.Action,
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			strconv.FormatFloat(r.Qty, 'f', -1, 64),
			r.Strategy,
			strconv.FormatFloat(r.RealPnL, 'f', 2, 64),
			r.Message,
		}
		if err := s.w.Write(rec); err != nil {
			return err
		}
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}
