package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"futures-core/pkg/logging"
)

const flushTimeout = 5 * time.Second

type statement struct {
	query string
	args  []any
}

// BatchWriter queues trade-log inserts and commits them in one transaction
// per flush, so the engine loop never waits on sqlite. A batch that fails is
// rolled back as a whole and reported through OnError.
type BatchWriter struct {
	db       *sql.DB
	logger   *zap.Logger
	maxSize  int
	interval time.Duration

	mu      sync.Mutex
	pending []statement
	onError func(error)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	writes  atomic.Uint64
	batches atomic.Uint64
	errors  atomic.Uint64
}

// BatchWriterMetrics are the writer's lifetime counters.
type BatchWriterMetrics struct {
	TotalWrites  uint64 `json:"total_writes"`
	TotalBatches uint64 `json:"total_batches"`
	TotalErrors  uint64 `json:"total_errors"`
	Pending      int    `json:"pending"`
}

// NewBatchWriter starts a writer that flushes every interval or once maxSize
// statements are queued, whichever comes first.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration, logger *zap.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		db:       db,
		logger:   logging.OrNop(logger).Named("batchwriter"),
		maxSize:  maxSize,
		interval: interval,
		pending:  make([]statement, 0, maxSize),
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.loop()
	return bw
}

// OnError registers fn for batches that failed outside an explicit Flush
// call. fn runs on the flushing goroutine and must not block.
func (bw *BatchWriter) OnError(fn func(error)) {
	bw.mu.Lock()
	bw.onError = fn
	bw.mu.Unlock()
}

// WriteQuery queues one statement. A full queue is flushed synchronously so
// callers see the size bound honored on return.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.mu.Lock()
	bw.pending = append(bw.pending, statement{query: query, args: args})
	full := len(bw.pending) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		bw.report(bw.Flush(ctx))
	}
}

// Flush commits everything queued so far.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.pending) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.pending
	bw.pending = make([]statement, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.commit(ctx, batch)
}

func (bw *BatchWriter) commit(ctx context.Context, batch []statement) error {
	bw.writes.Add(uint64(len(batch)))
	bw.batches.Add(1)

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		bw.errors.Add(1)
		return fmt.Errorf("begin batch: %w", err)
	}
	for i, st := range batch {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			_ = tx.Rollback()
			bw.errors.Add(1)
			return fmt.Errorf("batch statement %d of %d: %w", i+1, len(batch), err)
		}
	}
	if err := tx.Commit(); err != nil {
		bw.errors.Add(1)
		return fmt.Errorf("commit batch: %w", err)
	}
	bw.logger.Debug("flushed", zap.Int("statements", len(batch)))
	return nil
}

func (bw *BatchWriter) report(err error) {
	if err == nil {
		return
	}
	bw.logger.Error("trade log batch dropped", zap.Error(err))
	bw.mu.Lock()
	fn := bw.onError
	bw.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (bw *BatchWriter) loop() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		bw.report(bw.Flush(ctx))
	}
	for {
		select {
		case <-ticker.C:
			flush()
		case <-bw.done:
			flush()
			return
		}
	}
}

// Pending is the number of queued statements.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}

func (bw *BatchWriter) Metrics() BatchWriterMetrics {
	return BatchWriterMetrics{
		TotalWrites:  bw.writes.Load(),
		TotalBatches: bw.batches.Load(),
		TotalErrors:  bw.errors.Load(),
		Pending:      bw.Pending(),
	}
}

// Close stops the loop after a final flush. Safe to call more than once.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
