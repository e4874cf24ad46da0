package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"futures-core/internal/api"
	"futures-core/internal/backtest"
	"futures-core/internal/engine"
	"futures-core/internal/events"
	"futures-core/internal/gateway"
	"futures-core/internal/ledger"
	"futures-core/internal/market"
	"futures-core/internal/model"
	"futures-core/internal/monitor"
	"futures-core/internal/persistence"
	"futures-core/internal/reconciliation"
	"futures-core/internal/strategy"
	"futures-core/internal/tradelog"
	"futures-core/pkg/config"
	"futures-core/pkg/db"
	"futures-core/pkg/instance"
	"futures-core/pkg/logging"
)

var version = "dev"

// errEngineStopped ends the service group after an operator shutdown.
var errEngineStopped = errors.New("engine stopped")

func main() {
	mode := flag.String("mode", "", "run mode: live, backtest or optimize (overrides MODE)")
	hash := flag.String("hash-password", "", "print a bcrypt hash for ADMIN_PASSWORD_HASH and exit")
	flag.Parse()

	if *hash != "" {
		h, err := api.HashPassword(*hash)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash password:", err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}
	if *mode != "" {
		_ = os.Setenv("MODE", *mode)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", zap.String("version", version), zap.String("mode", cfg.Mode), zap.String("symbol", cfg.Symbol))
	if err := run(ctx, *cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("bye")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}

	switch cfg.Mode {
	case config.ModeBacktest:
		return runBacktest(ctx, cfg, logger)
	case config.ModeOptimize:
		return runOptimize(ctx, cfg, database, logger)
	default:
		return runLive(ctx, cfg, database, logger)
	}
}

// pickStrategy returns STRATEGY_ID's entry, or the first active one.
func pickStrategy(cfg config.Config, configs []strategy.Config) (strategy.Config, error) {
	if cfg.StrategyID != "" {
		for _, sc := range configs {
			if sc.ID == cfg.StrategyID {
				return withSymbol(sc, cfg.Symbol), nil
			}
		}
		return strategy.Config{}, fmt.Errorf("strategy %q not found in %s", cfg.StrategyID, cfg.StrategyFile)
	}
	sc, ok := strategy.Active(configs)
	if !ok {
		return strategy.Config{}, fmt.Errorf("no active strategy in %s", cfg.StrategyFile)
	}
	return withSymbol(sc, cfg.Symbol), nil
}

func withSymbol(sc strategy.Config, symbol string) strategy.Config {
	if sc.Symbol == "" {
		sc.Symbol = symbol
	}
	return sc
}

func loadBars(cfg config.Config, logger *zap.Logger) ([]model.Bar, error) {
	bars, err := market.LoadBarsFile(cfg.DataFile, cfg.Symbol, cfg.BarInterval, cfg.Location(), logger)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no usable bars", cfg.DataFile)
	}
	return bars, nil
}

func backtestConfig(cfg config.Config, logger *zap.Logger) backtest.Config {
	return backtest.Config{
		Symbol:         cfg.Symbol,
		PointValue:     cfg.PointValue,
		FeePerContract: cfg.FeePerContract,
		SlippageTicks:  cfg.SlippageTicks,
		TickSize:       cfg.TickSize,
		InitialEquity:  cfg.InitialEquity,
		Speed:          cfg.ReplaySpeed,
		Logger:         logger,
	}
}

func runBacktest(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	configs, err := strategy.LoadConfig(cfg.StrategyFile)
	if err != nil {
		return err
	}
	sc, err := pickStrategy(cfg, configs)
	if err != nil {
		return err
	}
	bars, err := loadBars(cfg, logger)
	if err != nil {
		return err
	}

	res, err := backtest.Run(ctx, strategy.BuilderFor(sc), nil, bars, backtestConfig(cfg, logger))
	if err != nil {
		return err
	}
	if err := writeTrades(cfg.TradeLogCSV, res.Trades); err != nil {
		logger.Warn("trade log not written", zap.Error(err))
	}
	logResult(logger, "backtest finished", res)
	return nil
}

// writeTrades appends the entry and exit rows of every round trip to the csv
// trade log, in the same shape live mode writes.
func writeTrades(path string, trades []model.TradeRecord) error {
	if path == "" || len(trades) == 0 {
		return nil
	}
	sink, err := tradelog.OpenCSV(path)
	if err != nil {
		return err
	}
	defer sink.Close()
	rows := make([]tradelog.Row, 0, 2*len(trades))
	for _, t := range trades {
		rows = append(rows, tradelog.RowsFromTrade(t)...)
	}
	return sink.Append(context.Background(), rows...)
}

func runOptimize(ctx context.Context, cfg config.Config, database *db.Database, logger *zap.Logger) error {
	gf, err := backtest.LoadGrid(cfg.GridFile)
	if err != nil {
		return err
	}
	combos, err := gf.Parameters.Expand()
	if err != nil {
		return err
	}
	bars, err := loadBars(cfg, logger)
	if err != nil {
		return err
	}
	fraction := gf.InSample
	if fraction == 0 {
		fraction = cfg.InSampleFraction
	}

	logger.Info("optimizing",
		zap.String("strategy", gf.Strategy.Type),
		zap.Int("combinations", len(combos)),
		zap.Int("bars", len(bars)),
		zap.Float64("in_sample", fraction))

	sc := withSymbol(gf.Strategy, cfg.Symbol)
	v, err := backtest.Validate(ctx, strategy.BuilderFor(sc), combos, bars, fraction, backtestConfig(cfg, logger), cfg.Workers)
	if err != nil {
		return err
	}
	id, err := backtest.Save(ctx, database, gf.Strategy.Type, v)
	if err != nil {
		return err
	}

	for i, r := range backtest.Rank(v.InSample) {
		if i == 5 {
			break
		}
		logResult(logger, fmt.Sprintf("in-sample #%d", i+1), r)
	}
	logResult(logger, "out-of-sample", v.OutOfSample)
	if v.Overfit {
		logger.Warn("best combination looks overfit: profitable in sample, not out of sample", zap.String("key", v.Best.Key))
	}
	logger.Info("optimization saved", zap.String("run_id", id))
	return nil
}

func logResult(logger *zap.Logger, msg string, r backtest.Result) {
	rr := r.Metrics.RewardRisk
	if math.IsInf(rr, 1) {
		rr = math.MaxFloat64
	}
	logger.Info(msg,
		zap.String("params", r.Key),
		zap.Float64("net_pnl", r.Metrics.NetPnL),
		zap.Float64("max_drawdown", r.Metrics.MaxDrawdown),
		zap.Float64("reward_risk", rr),
		zap.Int("trades", r.Metrics.Trades),
		zap.Float64("win_rate", r.Metrics.WinRate),
		zap.Duration("avg_holding", r.Metrics.AvgHolding),
		zap.String("error", r.Error),
	)
}

func runLive(ctx context.Context, cfg config.Config, database *db.Database, logger *zap.Logger) error {
	instanceID, err := instance.ID(cfg.AppID)
	if err != nil {
		return err
	}
	configs, err := strategy.LoadConfig(cfg.StrategyFile)
	if err != nil {
		return err
	}
	if err := strategy.SyncConfigToDB(database.DB, configs); err != nil {
		logger.Warn("strategy sync to db failed", zap.Error(err))
	}
	sc, err := pickStrategy(cfg, configs)
	if err != nil {
		return err
	}
	strat, err := strategy.New(sc)
	if err != nil {
		return err
	}

	var warm []model.Bar
	if cfg.DataFile != "" {
		if warm, err = loadBars(cfg, logger); err != nil {
			return fmt.Errorf("warm-up: %w", err)
		}
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	sim := gateway.NewSimulated(gateway.SimConfig{
		SlippageTicks:  cfg.SlippageTicks,
		TickSize:       cfg.TickSize,
		PointValue:     cfg.PointValue,
		FeePerContract: cfg.FeePerContract,
		InitialEquity:  cfg.InitialEquity,
		LatencyMin:     cfg.SimLatencyMin,
		LatencyMax:     cfg.SimLatencyMax,
	}, logger.Named("sim"))
	led := ledger.New(ledger.Config{
		Symbol:         cfg.Symbol,
		Strategy:       strat.Name(),
		PointValue:     cfg.PointValue,
		FeePerContract: cfg.FeePerContract,
	}, gateway.WithTimeout(sim, cfg.GatewayTimeout), logger)
	recon := reconciliation.NewService(sim, led, database, cfg.GatewayTimeout, logger)

	csvSink, err := tradelog.OpenCSV(cfg.TradeLogCSV)
	if err != nil {
		return err
	}
	bw := persistence.NewBatchWriter(database.DB, 50, time.Second, logger)
	bw.OnError(func(err error) {
		bus.Publish(events.TopicAlert, events.Alert{
			Level:   events.LevelCritical,
			Message: "trade log write failed: " + err.Error(),
			Time:    time.Now(),
		})
	})
	sink := tradelog.Multi{csvSink, tradelog.NewSQLSink(bw)}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("trade log close", zap.Error(err))
		}
	}()

	eng, err := engine.New(engine.Options{
		Symbol:         cfg.Symbol,
		Interval:       cfg.BarInterval,
		InstanceID:     instanceID,
		AutoTrading:    cfg.AutoTrading,
		GatewayTimeout: cfg.GatewayTimeout,
		WarmUp:         warm,
	}, engine.Deps{
		Strategy:   strat,
		Ledger:     led,
		Gateway:    sim,
		Reconciler: recon,
		Sink:       sink,
		Store:      database,
		Bus:        bus,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	mon := &monitor.Monitor{
		Bus:    bus,
		Sinks:  []monitor.AlertSink{monitor.LogSink{Logger: logger.Named("alert")}},
		Logger: logger,
		Limit:  rate.Limit(cfg.AlertsPerMinute / 60),
		Burst:  5,
	}
	srv := api.NewServer(eng, bus, database, metrics, api.Options{
		JWTSecret:         cfg.JWTSecret,
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
		RateLimit:         cfg.RateLimitRPS,
		RateBurst:         cfg.RateLimitBurst,
		Version:           version,
		Mode:              cfg.Mode,
	}, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil {
			return err
		}
		return errEngineStopped
	})
	g.Go(func() error {
		<-mon.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	recon.Start(gctx, cfg.ReconcileInterval, eng.RequestSync)
	if cfg.UseMockFeed {
		feed := &market.MockFeed{
			Symbol:     cfg.Symbol,
			StartPrice: cfg.MockStartPrice,
			Interval:   cfg.MockTickEvery,
			Logger:     logger,
		}
		feed.Start(gctx, func(ctx context.Context, t model.Tick) error {
			sim.SetMark(t.Price)
			return eng.Publish(ctx, t)
		})
	}

	err = g.Wait()
	if errors.Is(err, errEngineStopped) {
		return nil
	}
	return err
}
