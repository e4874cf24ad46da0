package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "time/tzdata"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Run modes.
const (
	ModeLive     = "live"
	ModeBacktest = "backtest"
	ModeOptimize = "optimize"
)

// Config holds environment-driven settings. It is built once at startup and
// passed by value; nothing mutates it afterwards.
type Config struct {
	Mode string

	// Logging
	LogLevel string
	LogJSON  bool

	// HTTP command channel
	Port              string
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string // bcrypt
	RateLimitRPS      float64
	RateLimitBurst    int

	// Storage
	DBPath      string
	TradeLogCSV string

	// Strategy
	StrategyFile string
	StrategyID   string // empty selects the first active entry
	GridFile     string

	// Market data
	Symbol         string
	BarInterval    time.Duration
	Timezone       string
	DataFile       string        // OHLCV CSV for backtests and live warm-up
	ReplaySpeed    time.Duration // pause between replayed bars, 0 = as fast as possible
	UseMockFeed    bool
	MockStartPrice float64
	MockTickEvery  time.Duration

	// Contract economics and simulated broker
	PointValue     float64
	FeePerContract float64
	SlippageTicks  float64
	TickSize       float64
	InitialEquity  float64
	SimLatencyMin  time.Duration
	SimLatencyMax  time.Duration

	// Live engine
	AutoTrading       bool
	GatewayTimeout    time.Duration
	ReconcileInterval time.Duration
	AlertsPerMinute   float64
	AppID             string // salt for the protected machine id

	// Optimizer
	InSampleFraction float64
	Workers          int // 0 = NumCPU-1
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Mode:              strings.ToLower(getEnv("MODE", ModeLive)),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogJSON:           getEnvBool("LOG_JSON", false),
		Port:              getEnv("PORT", "8080"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		RateLimitRPS:      getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 10),
		DBPath:            getEnv("DB_PATH", "./data/futures.db"),
		TradeLogCSV:       getEnv("TRADE_LOG_CSV", "./data/trade_log.csv"),
		StrategyFile:      getEnv("STRATEGY_FILE", "./strategies.yaml"),
		StrategyID:        os.Getenv("STRATEGY_ID"),
		GridFile:          getEnv("GRID_FILE", "./grid.yaml"),
		Symbol:            getEnv("SYMBOL", "MXF"),
		BarInterval:       getEnvDuration("BAR_INTERVAL", time.Minute),
		Timezone:          getEnv("TIMEZONE", "Asia/Taipei"),
		DataFile:          os.Getenv("DATA_FILE"),
		ReplaySpeed:       getEnvDuration("REPLAY_SPEED", 0),
		UseMockFeed:       getEnvBool("USE_MOCK_FEED", true),
		MockStartPrice:    getEnvFloat("MOCK_START_PRICE", 20000),
		MockTickEvery:     getEnvDuration("MOCK_TICK_EVERY", 250*time.Millisecond),
		PointValue:        getEnvFloat("POINT_VALUE", 10),
		FeePerContract:    getEnvFloat("FEE_PER_CONTRACT", 22),
		SlippageTicks:     getEnvFloat("SLIPPAGE_TICKS", 1),
		TickSize:          getEnvFloat("TICK_SIZE", 1),
		InitialEquity:     getEnvFloat("INITIAL_EQUITY", 1_000_000),
		SimLatencyMin:     getEnvDuration("SIM_LATENCY_MIN", 0),
		SimLatencyMax:     getEnvDuration("SIM_LATENCY_MAX", 0),
		AutoTrading:       getEnvBool("AUTO_TRADING", true),
		GatewayTimeout:    getEnvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		AlertsPerMinute:   getEnvFloat("ALERTS_PER_MINUTE", 30),
		AppID:             getEnv("APP_ID", "futures-core"),
		InSampleFraction:  getEnvFloat("IN_SAMPLE_FRACTION", 0.7),
		Workers:           getEnvInt("WORKERS", 0),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Mode {
	case ModeLive, ModeBacktest, ModeOptimize:
	default:
		add("MODE must be live, backtest or optimize, got %q", c.Mode)
	}
	if c.Symbol == "" {
		add("SYMBOL is required")
	}
	if c.BarInterval <= 0 {
		add("BAR_INTERVAL must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("TIMEZONE %q: %v", c.Timezone, err)
	}
	if c.PointValue <= 0 {
		add("POINT_VALUE must be positive")
	}
	if c.FeePerContract < 0 || c.SlippageTicks < 0 {
		add("FEE_PER_CONTRACT and SLIPPAGE_TICKS must not be negative")
	}
	if c.TickSize <= 0 {
		add("TICK_SIZE must be positive")
	}
	if c.ReplaySpeed < 0 {
		add("REPLAY_SPEED must not be negative")
	}
	if c.GatewayTimeout <= 0 {
		add("GATEWAY_TIMEOUT must be positive")
	}
	if c.InSampleFraction <= 0 || c.InSampleFraction >= 1 {
		add("IN_SAMPLE_FRACTION must be in (0, 1)")
	}
	if c.Workers < 0 {
		add("WORKERS must not be negative")
	}
	if (c.Mode == ModeBacktest || c.Mode == ModeOptimize) && c.DataFile == "" {
		add("DATA_FILE is required in %s mode", c.Mode)
	}
	if c.Mode == ModeLive && !c.UseMockFeed {
		add("live mode needs a feed; only USE_MOCK_FEED=true is available")
	}
	return errors.Join(errs...)
}

// Location returns the exchange time zone used to parse data files.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
