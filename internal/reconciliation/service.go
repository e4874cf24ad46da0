package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-core/internal/gateway"
	"futures-core/internal/ledger"
	"futures-core/internal/model"
	"futures-core/pkg/db"
)

const qtyTolerance = 1e-4

// Ledger is the part of the shadow ledger reconciliation needs.
type Ledger interface {
	Position() model.Position
	Resync(ledger.ResyncInput) ledger.ResyncOutcome
}

// ReportStore persists reports for the audit trail.
type ReportStore interface {
	SaveReconciliationReport(ctx context.Context, r db.ReconciliationReport) error
}

// Report is the result of one shadow/broker comparison.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	ShadowQty float64   `json:"shadow_qty"`
	RealQty   float64   `json:"real_qty"`
	CostBasis float64   `json:"cost_basis"`
	Market    float64   `json:"market"`
	HasDiff   bool      `json:"has_diff"`
	Synced    bool      `json:"synced"`
	// Stale means the broker did not answer in time; the ledger was not touched.
	Stale   bool                  `json:"stale"`
	Error   string                `json:"error,omitempty"`
	Outcome *ledger.ResyncOutcome `json:"outcome,omitempty"`
}

// Difference is shadow minus real quantity.
func (r Report) Difference() float64 {
	return r.ShadowQty - r.RealQty
}

// Service compares the shadow ledger with the broker. Resync must only be
// called from the engine loop; Check and the poller never mutate the ledger.
type Service struct {
	gw      gateway.Gateway
	ledger  Ledger
	store   ReportStore
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	last *Report
}

// NewService creates a reconciliation service. Every broker query is
// bounded by timeout.
func NewService(gw gateway.Gateway, l Ledger, store ReportStore, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gw:      gateway.WithTimeout(gw, timeout),
		ledger:  l,
		store:   store,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "reconciliation")),
	}
}

type brokerView struct {
	qty  float64
	cost float64
}

func (s *Service) query(ctx context.Context, withCost bool) (brokerView, error) {
	var v brokerView
	qty, err := s.gw.QueryPosition(ctx)
	if err != nil {
		return v, fmt.Errorf("query position: %w", err)
	}
	v.qty = qty
	if withCost && math.Abs(qty) > qtyTolerance {
		cost, err := s.gw.QueryCostBasis(ctx)
		if err != nil {
			// a missing cost basis falls back to the market anchor
			s.logger.Warn("reconciliation: cost basis unavailable", zap.Error(err))
		} else {
			v.cost = cost
		}
	}
	return v, nil
}

// Check compares without mutating anything.
func (s *Service) Check(ctx context.Context) Report {
	shadow := s.ledger.Position()
	rep := Report{Timestamp: time.Now(), Reason: "check", ShadowQty: shadow.Qty}

	v, err := s.query(ctx, false)
	if err != nil {
		rep.Stale = true
		rep.Error = err.Error()
		return rep
	}
	rep.RealQty = v.qty
	rep.HasDiff = math.Abs(rep.Difference()) > qtyTolerance
	return rep
}

// Resync replaces the shadow position with the broker's. On timeout or error
// the report is marked Stale and the ledger is left alone.
func (s *Service) Resync(ctx context.Context, market float64, reason string) Report {
	shadow := s.ledger.Position()
	rep := Report{Timestamp: time.Now(), Reason: reason, ShadowQty: shadow.Qty, Market: market}

	v, err := s.query(ctx, true)
	if err != nil {
		rep.Stale = true
		rep.Error = err.Error()
		s.logger.Warn("reconciliation: broker unavailable, shadow kept",
			zap.String("reason", reason),
			zap.Bool("timeout", errors.Is(err, gateway.ErrTimeout)),
			zap.Error(err),
		)
		s.finish(ctx, rep)
		return rep
	}

	rep.RealQty = v.qty
	rep.CostBasis = v.cost
	rep.HasDiff = math.Abs(rep.Difference()) > qtyTolerance

	out := s.ledger.Resync(ledger.ResyncInput{Qty: v.qty, CostBasis: v.cost, Market: market, Time: rep.Timestamp})
	rep.Outcome = &out
	rep.Synced = out.Changed

	if rep.HasDiff {
		s.logger.Warn("reconciliation: position difference synced",
			zap.String("reason", reason),
			zap.Float64("shadow", rep.ShadowQty),
			zap.Float64("real", rep.RealQty),
			zap.String("anchor", out.AnchorSource),
		)
	} else {
		s.logger.Info("reconciliation: positions match", zap.String("reason", reason), zap.Float64("qty", rep.RealQty))
	}
	s.finish(ctx, rep)
	return rep
}

func (s *Service) finish(ctx context.Context, rep Report) {
	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	s.saveReport(ctx, rep)
}

// Last returns the most recent Resync report.
func (s *Service) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Start begins periodic checks. A detected difference is handed to request,
// which must only enqueue work for the engine loop.
func (s *Service) Start(ctx context.Context, interval time.Duration, request func(reason string)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rep := s.Check(ctx)
				switch {
				case rep.Stale:
					s.logger.Warn("reconciliation: periodic check stale", zap.String("error", rep.Error))
				case rep.HasDiff:
					request(fmt.Sprintf("periodic check: shadow %.0f, real %.0f", rep.ShadowQty, rep.RealQty))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("reconciliation: poller started", zap.Duration("interval", interval))
}

// saveReport writes the audit row.
func (s *Service) saveReport(ctx context.Context, rep Report) {
	if s.store == nil {
		return
	}
	row := db.ReconciliationReport{
		Time:      rep.Timestamp,
		Reason:    rep.Reason,
		ShadowQty: rep.ShadowQty,
		RealQty:   rep.RealQty,
		CostBasis: rep.CostBasis,
		Market:    rep.Market,
		Synced:    rep.Synced,
		Stale:     rep.Stale,
		Error:     rep.Error,
	}
	if rep.Outcome != nil {
		row.Anchor = rep.Outcome.AnchorSource
	}
	// the caller's context may already be the one that timed out
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.store.SaveReconciliationReport(saveCtx, row); err != nil {
		s.logger.Error("reconciliation: save report failed", zap.Error(err))
	}
}
