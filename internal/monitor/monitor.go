package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"futures-core/internal/events"
	"futures-core/internal/ledger"
	"futures-core/internal/reconciliation"
)

// Monitor turns engine notices into operator alerts. It only reads from the
// bus; it never touches engine state. Informational alerts are throttled,
// critical ones always go out.
type Monitor struct {
	Bus    *events.Bus
	Sinks  []AlertSink
	Logger *zap.Logger
	// Limit and Burst throttle non-critical alerts; zero means 1 per second, burst 5.
	Limit rate.Limit
	Burst int

	suppressed atomic.Uint64
}

var watched = []events.Topic{
	events.TopicFill,
	events.TopicRejected,
	events.TopicAlert,
	events.TopicResync,
	events.TopicAutoTrade,
}

// Start subscribes and delivers until ctx is done. The returned channel is
// closed when the delivery loop exits.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if m.Bus == nil || len(m.Sinks) == 0 {
		logger.Info("monitor not fully configured; skipping")
		close(done)
		return done
	}

	limit, burst := m.Limit, m.Burst
	if limit == 0 {
		limit = rate.Every(time.Second)
	}
	if burst <= 0 {
		burst = 5
	}
	limiter := rate.NewLimiter(limit, burst)

	stream, unsub := m.Bus.SubscribeMany(64, watched...)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-stream:
				if !ok {
					return
				}
				alert, ok := Format(n)
				if !ok {
					continue
				}
				if alert.Level != events.LevelCritical && !limiter.Allow() {
					m.suppressed.Add(1)
					continue
				}
				for _, s := range m.Sinks {
					if err := s.Send(ctx, alert); err != nil {
						logger.Warn("monitor: alert delivery failed", zap.Error(err))
					}
				}
			}
		}
	}()
	return done
}

// Suppressed is the number of alerts dropped by throttling.
func (m *Monitor) Suppressed() uint64 {
	return m.suppressed.Load()
}

// Format renders a notice as an alert. Unknown payloads are skipped.
func Format(n events.Notice) (events.Alert, bool) {
	now := time.Now()
	switch p := n.Payload.(type) {
	case events.Alert:
		if p.Time.IsZero() {
			p.Time = now
		}
		return p, true

	case ledger.TradeResult:
		pos := p.Position
		msg := fmt.Sprintf("%s %s: %s, position %.0f", p.Action, p.Signal.Symbol, p.Signal.Reason, pos.Qty)
		if pos.HasCost {
			msg += fmt.Sprintf(" @ %.1f", pos.AvgCost)
		}
		if p.Trade != nil {
			msg += fmt.Sprintf(", realized %.0f", p.Trade.PnL)
		}
		return events.Alert{Level: events.LevelInfo, Message: msg, Time: now}, true

	case events.Rejection:
		return events.Alert{
			Level:   events.LevelCritical,
			Message: fmt.Sprintf("order rejected (%s %s): %s, position %.0f", p.Signal.Direction, p.Signal.Symbol, p.Error, p.Position.Qty),
			Time:    now,
		}, true

	case reconciliation.Report:
		switch {
		case p.Stale:
			return events.Alert{Level: events.LevelWarn, Message: fmt.Sprintf("resync (%s) stale: %s", p.Reason, p.Error), Time: now}, true
		case p.HasDiff:
			return events.Alert{Level: events.LevelCritical, Message: fmt.Sprintf("resync (%s): shadow %.0f, real %.0f, adopted broker position", p.Reason, p.ShadowQty, p.RealQty), Time: now}, true
		default:
			return events.Alert{Level: events.LevelInfo, Message: fmt.Sprintf("resync (%s): positions match at %.0f", p.Reason, p.RealQty), Time: now}, true
		}

	case events.AutoTrade:
		state := "off"
		if p.Enabled {
			state = "on"
		}
		return events.Alert{Level: events.LevelWarn, Message: "auto-trading " + state, Time: now}, true

	default:
		return events.Alert{}, false
	}
}
