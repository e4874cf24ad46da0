package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-core/internal/events"
	"futures-core/internal/gateway"
	"futures-core/internal/ledger"
	"futures-core/internal/market"
	"futures-core/internal/model"
	"futures-core/internal/monitor"
	"futures-core/internal/reconciliation"
	"futures-core/internal/strategy"
	"futures-core/internal/tradelog"
	"futures-core/pkg/logging"
)

// Engine is the single writer of live trading state.
type Engine struct {
	opts     Options
	strategy strategy.Strategy
	ledger   *ledger.Ledger
	gw       gateway.Gateway
	recon    *reconciliation.Service
	sink     tradelog.Sink
	store    StateStore
	bus      *events.Bus
	metrics  *monitor.Metrics
	logger   *zap.Logger

	agg     *market.Aggregator
	inbox   chan envelope
	syncReq chan string
	quit    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
	runOnce  sync.Once

	// loop-owned
	loopCtx     context.Context
	autoTrading bool
	lastBar     *model.Bar
	lastPrice   float64
	lastSignal  *model.Signal
	lastResync  *reconciliation.Report
	startedAt   time.Time

	mu     sync.RWMutex
	status Status
}

// Deps are the collaborators the engine drives. Strategy, Ledger and Gateway
// are required; the rest may be nil.
type Deps struct {
	Strategy   strategy.Strategy
	Ledger     *ledger.Ledger
	Gateway    gateway.Gateway
	Reconciler *reconciliation.Service
	Sink       tradelog.Sink
	Store      StateStore
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	Logger     *zap.Logger
}

// New wires an engine. Call Run to start the loop.
func New(opts Options, deps Deps) (*Engine, error) {
	if deps.Strategy == nil || deps.Ledger == nil || deps.Gateway == nil {
		return nil, errors.New("engine: strategy, ledger and gateway are required")
	}
	if opts.Symbol == "" {
		opts.Symbol = deps.Ledger.Config().Symbol
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 5 * time.Second
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}

	logger := logging.OrNop(deps.Logger).Named("engine")
	e := &Engine{
		opts:        opts,
		strategy:    deps.Strategy,
		ledger:      deps.Ledger,
		gw:          gateway.WithTimeout(deps.Gateway, opts.GatewayTimeout),
		recon:       deps.Reconciler,
		sink:        deps.Sink,
		store:       deps.Store,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		logger:      logger,
		inbox:       make(chan envelope, opts.InboxSize),
		syncReq:     make(chan string, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		autoTrading: opts.AutoTrading,
		loopCtx:     context.Background(),
	}
	e.agg = market.NewAggregator(opts.Symbol, opts.Interval, e.onBar, deps.Logger)
	e.agg.OnDrop = func(t model.Tick) { e.metrics.TickDropped(t.Symbol, "out_of_order") }
	e.refresh()
	return e, nil
}

// Run starts up (warm-up, resync, snapshot restore), then processes the inbox
// until ctx is cancelled or Shutdown is called. The strategy snapshot is saved
// on the way out.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("engine: already running")
	}
	defer close(e.done)

	e.loopCtx = ctx
	e.startedAt = time.Now()
	e.metrics.SetAutoTrading(e.autoTrading)

	e.startup(ctx)
	e.refresh()
	e.setRunning(true)
	e.logger.Info("engine: started",
		zap.String("strategy", e.strategy.Name()),
		zap.String("symbol", e.opts.Symbol),
		zap.Bool("auto_trading", e.autoTrading))

	defer func() {
		e.setRunning(false)
		e.saveSnapshot(context.WithoutCancel(ctx))
		e.logger.Info("engine: stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.quit:
			return nil
		case reason := <-e.syncReq:
			e.resync(ctx, reason)
		case env := <-e.inbox:
			e.handle(ctx, env)
		}
		e.refresh()
	}
}

// Publish enqueues a tick, bar or signal. It blocks while the inbox is full.
func (e *Engine) Publish(ctx context.Context, ev model.Event) error {
	if e.stopped() {
		return ErrStopped
	}
	select {
	case e.inbox <- envelope{event: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// RequestSync asks the loop for a resync. Requests coalesce while one is
// already pending; it never blocks.
func (e *Engine) RequestSync(reason string) {
	select {
	case e.syncReq <- reason:
	default:
		e.logger.Debug("engine: resync already pending", zap.String("reason", reason))
	}
}

// Status returns the last published view of the loop.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Balance asks the broker for equity and position. It does not go through the
// loop and never mutates state.
func (e *Engine) Balance(ctx context.Context) (Balance, error) {
	pos := e.ledger.Position()
	stats := e.ledger.Stats()
	b := Balance{ShadowQty: pos.Qty, RealizedPnL: stats.RealizedPnL, Time: time.Now()}

	equity, err := e.gw.QueryEquity(ctx)
	if err == nil {
		var qty float64
		qty, err = e.gw.QueryPosition(ctx)
		b.Position = qty
	}
	if err != nil {
		b.Stale = true
		b.Error = err.Error()
		b.Position = pos.Qty
		e.logger.Warn("engine: balance query failed, serving shadow view", zap.Error(err))
		if errors.Is(err, gateway.ErrTimeout) {
			return b, nil
		}
		return b, fmt.Errorf("engine: balance: %w", err)
	}
	b.Equity = equity
	return b, nil
}

// SetAutoTrading turns strategy execution on or off. Signals produced while
// off are logged and skipped.
func (e *Engine) SetAutoTrading(ctx context.Context, enabled bool) error {
	_, err := e.call(ctx, &command{kind: cmdAutoTrading, enabled: enabled})
	return err
}

// ForceFlatten closes any open position at the last price, regardless of the
// auto-trading switch.
func (e *Engine) ForceFlatten(ctx context.Context) (ledger.TradeResult, error) {
	r, err := e.call(ctx, &command{kind: cmdFlatten, reason: "operator flatten"})
	return r.trade, err
}

// ForceSync runs a resync inside the loop and returns its report.
func (e *Engine) ForceSync(ctx context.Context) (reconciliation.Report, error) {
	r, err := e.call(ctx, &command{kind: cmdSync, reason: "operator sync"})
	return r.report, err
}

// Shutdown stops the loop. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.quit) })
}

func (e *Engine) stopped() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) call(ctx context.Context, c *command) (reply, error) {
	if e.stopped() {
		return reply{}, ErrStopped
	}
	c.reply = make(chan reply, 1)
	select {
	case e.inbox <- envelope{cmd: c}:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.done:
		return reply{}, ErrStopped
	}
	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.done:
		return reply{}, ErrStopped
	}
}

func (e *Engine) handle(ctx context.Context, env envelope) {
	if env.cmd != nil {
		r := e.command(ctx, env.cmd)
		e.refresh()
		env.cmd.reply <- r
		return
	}
	switch ev := env.event.(type) {
	case model.Tick:
		e.onTick(ev)
	case model.Bar:
		if ev.Symbol != e.opts.Symbol {
			return
		}
		if err := market.ValidateBar(ev); err != nil {
			e.logger.Warn("engine: bar rejected", zap.Error(err))
			return
		}
		e.onBar(ev)
	case model.Signal:
		e.onSignal(ctx, ev)
	case nil:
	}
}

func (e *Engine) command(ctx context.Context, c *command) reply {
	switch c.kind {
	case cmdAutoTrading:
		if e.autoTrading != c.enabled {
			e.autoTrading = c.enabled
			e.metrics.SetAutoTrading(c.enabled)
			e.publish(events.TopicAutoTrade, events.AutoTrade{Enabled: c.enabled, Time: time.Now()})
			e.logger.Warn("engine: auto-trading toggled", zap.Bool("enabled", c.enabled))
		}
		return reply{}
	case cmdFlatten:
		sig := &model.Signal{
			Symbol:    e.opts.Symbol,
			Direction: model.Flatten,
			Reason:    c.reason,
			Time:      time.Now(),
			Strategy:  e.strategy.Name(),
			Manual:    true,
		}
		res, err := e.execute(ctx, sig)
		return reply{trade: res, err: err}
	case cmdSync:
		rep := e.resync(ctx, c.reason)
		return reply{report: rep}
	default:
		return reply{err: fmt.Errorf("engine: unknown command %d", c.kind)}
	}
}

func (e *Engine) onTick(t model.Tick) {
	if err := market.ValidateTick(t); err != nil {
		e.metrics.TickDropped(t.Symbol, "malformed")
		e.logger.Debug("engine: tick rejected", zap.Error(err))
		return
	}
	if t.Symbol != e.opts.Symbol {
		return
	}
	e.metrics.TickProcessed(t.Symbol)
	dropped := e.agg.Dropped()
	e.agg.OnTick(t)
	if e.agg.Dropped() == dropped {
		e.lastPrice = t.Price
	}
}

// onBar runs mark -> evaluate -> execute for one finalized bar.
func (e *Engine) onBar(bar model.Bar) {
	ctx := e.loopCtx
	e.metrics.BarClosed(bar.Symbol)
	e.lastBar = &bar
	e.lastPrice = bar.Close
	e.ledger.Mark(bar)
	e.publish(events.TopicBar, bar)

	start := time.Now()
	sig := e.strategy.Evaluate(bar, e.ledger.Position())
	e.metrics.ObserveEvaluate(time.Since(start))
	if sig == nil {
		return
	}
	e.lastSignal = sig
	e.publish(events.TopicSignal, *sig)

	if strings.HasPrefix(sig.Reason, "circuit breaker") {
		e.publish(events.TopicAlert, events.Alert{Level: events.LevelCritical, Message: sig.Reason, Time: time.Now()})
	}
	if !e.autoTrading {
		e.metrics.SignalSeen(sig.Direction.String(), "skipped")
		e.logger.Info("engine: auto-trading off, signal skipped",
			zap.Stringer("direction", sig.Direction),
			zap.String("reason", sig.Reason))
		return
	}
	_, _ = e.execute(ctx, sig)
}

// onSignal handles externally published signals. Only manual ones bypass the
// auto-trading switch.
func (e *Engine) onSignal(ctx context.Context, sig model.Signal) {
	if sig.Symbol == "" {
		sig.Symbol = e.opts.Symbol
	}
	if !e.autoTrading && !sig.Manual {
		e.metrics.SignalSeen(sig.Direction.String(), "skipped")
		e.logger.Info("engine: auto-trading off, external signal skipped", zap.String("reason", sig.Reason))
		return
	}
	e.lastSignal = &sig
	_, _ = e.execute(ctx, &sig)
}

func (e *Engine) execute(ctx context.Context, sig *model.Signal) (ledger.TradeResult, error) {
	dir := sig.Direction.String()
	ref := e.lastPrice
	if ref <= 0 {
		e.metrics.SignalSeen(dir, "rejected")
		return ledger.TradeResult{Signal: *sig, Position: e.ledger.Position()}, ErrNoMarketPrice
	}

	res, err := e.ledger.Execute(ctx, sig, ref)
	if err != nil {
		e.metrics.SignalSeen(dir, "rejected")
		e.metrics.OrderRejected()
		e.logger.Error("engine: order failed",
			zap.Stringer("direction", sig.Direction),
			zap.Float64("ref", ref),
			zap.Int("confirmed_legs", len(res.Legs)),
			zap.Error(err))
		// a reversal can fail on its open leg after the close leg realized
		if len(res.Legs) > 0 {
			e.recordFills(ctx, res)
		}
		e.appendLog(func(s tradelog.Sink) error {
			return s.Append(ctx, tradelog.RejectedRow(*sig, ref, err))
		})
		e.publish(events.TopicRejected, events.Rejection{Signal: *sig, Price: ref, Error: err.Error(), Position: e.ledger.Position()})
		e.updateLedgerMetrics()
		if !errors.Is(err, ledger.ErrRejected) {
			// the order may or may not have reached the broker
			e.resync(ctx, "order error: "+err.Error())
		}
		return res, err
	}

	switch res.Action {
	case ledger.ActionNone, ledger.ActionIgnored:
		e.metrics.SignalSeen(dir, "ignored")
		return res, nil
	}
	e.metrics.SignalSeen(dir, "executed")
	e.recordFills(ctx, res)
	e.updateLedgerMetrics()
	return res, nil
}

// recordFills logs and publishes the legs the gateway confirmed.
func (e *Engine) recordFills(ctx context.Context, res ledger.TradeResult) {
	for _, leg := range res.Legs {
		e.metrics.FillRecorded(string(leg.Action))
	}
	e.appendLog(func(s tradelog.Sink) error { return tradelog.Record(ctx, s, res) })
	e.publish(events.TopicFill, res)
}

func (e *Engine) resync(ctx context.Context, reason string) reconciliation.Report {
	if e.recon == nil {
		return reconciliation.Report{Timestamp: time.Now(), Reason: reason, Stale: true, Error: "reconciliation disabled"}
	}
	rep := e.recon.Resync(ctx, e.lastPrice, reason)
	switch {
	case rep.Stale:
		e.metrics.ResyncDone("stale")
	case rep.HasDiff:
		e.metrics.ResyncDone("synced")
	default:
		e.metrics.ResyncDone("match")
	}
	e.lastResync = &rep
	e.publish(events.TopicResync, rep)
	e.updateLedgerMetrics()
	return rep
}

func (e *Engine) appendLog(write func(tradelog.Sink) error) {
	if e.sink == nil {
		return
	}
	if err := write(e.sink); err != nil {
		e.logger.Error("engine: trade log write failed", zap.Error(err))
	}
}

func (e *Engine) publish(t events.Topic, payload any) {
	if e.bus != nil {
		e.bus.Publish(t, payload)
	}
}

func (e *Engine) updateLedgerMetrics() {
	e.metrics.SetPosition(e.ledger.Position().Qty)
	e.metrics.SetRealizedPnL(e.ledger.Stats().RealizedPnL)
}

func (e *Engine) setRunning(on bool) {
	e.mu.Lock()
	e.status.Running = on
	e.mu.Unlock()
}

// refresh publishes the loop-owned fields for Status readers.
func (e *Engine) refresh() {
	st := Status{
		InstanceID:   e.opts.InstanceID,
		StrategyID:   e.strategy.ID(),
		Strategy:     e.strategy.Name(),
		Symbol:       e.opts.Symbol,
		Interval:     e.opts.Interval.String(),
		AutoTrading:  e.autoTrading,
		Position:     e.ledger.Position(),
		Stats:        e.ledger.Stats(),
		LastPrice:    e.lastPrice,
		LastResync:   e.lastResync,
		LastSignal:   e.lastSignal,
		DroppedTicks: e.agg.Dropped(),
		StartedAt:    e.startedAt,
		UpdatedAt:    time.Now(),
	}
	if e.lastBar != nil {
		b := *e.lastBar
		st.LastBar = &b
	}
	if in, ok := e.strategy.(strategy.Inspector); ok {
		v := in.Indicators()
		st.Indicators = &v
	}
	e.mu.Lock()
	st.Running = e.status.Running
	e.status = st
	e.mu.Unlock()
}
