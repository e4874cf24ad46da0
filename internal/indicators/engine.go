package indicators

import (
	"time"

	"futures-core/internal/model"
)

// Config sizes the bucket stream and the indicator windows, in buckets.
type Config struct {
	BucketMinutes int
	Capacity      int

	FastWindow int
	FastType   MAType
	SlowLong   int
	SlowShort  int
	SlowType   MAType

	ADXPeriod     int
	VolPeriod     int
	VolMultiplier float64
}

// Values are the indicator readings as of the last bucket flush.
type Values struct {
	FastMA    float64   `json:"fast_ma"`
	SlowLong  float64   `json:"slow_long"`
	SlowShort float64   `json:"slow_short"`
	ADX       float64   `json:"adx"`
	PlusDI    float64   `json:"plus_di"`
	MinusDI   float64   `json:"minus_di"`
	ADXOK     bool      `json:"adx_ok"`
	Volume    float64   `json:"volume"`
	VolumeMA  float64   `json:"volume_ma"`
	VolumeOK  bool      `json:"volume_ok"`
	Buckets   int       `json:"buckets"`
	Ready     bool      `json:"ready"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine owns one strategy's bucketizer and recomputes indicators on flush,
// over the bounded ring only.
type Engine struct {
	cfg     Config
	bk      *Bucketizer
	vals    Values
	closes  []float64
	volumes []float64
	buckets []Bucket
}

// NewEngine builds an indicator engine; the ring is sized to hold at least
// the warm-up requirement.
func NewEngine(cfg Config) *Engine {
	if cfg.FastType == "" {
		cfg.FastType = MATypeEMA
	}
	if cfg.SlowType == "" {
		cfg.SlowType = MATypeSMA
	}
	if cfg.SlowShort <= 0 {
		cfg.SlowShort = cfg.SlowLong
	}
	capacity := cfg.Capacity
	if req := required(cfg); capacity < req {
		capacity = req
	}
	cfg.Capacity = capacity
	return &Engine{
		cfg:     cfg,
		bk:      NewBucketizer(cfg.BucketMinutes, capacity),
		closes:  make([]float64, 0, capacity),
		volumes: make([]float64, 0, capacity),
		buckets: make([]Bucket, 0, capacity),
	}
}

func required(cfg Config) int {
	slow := max(cfg.SlowLong, cfg.SlowShort, cfg.FastWindow)
	return slow + max(cfg.ADXPeriod, cfg.VolPeriod)*2
}

// Required is the number of closed buckets needed before Values are Ready.
func (e *Engine) Required() int {
	return required(e.cfg)
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Update feeds one fine bar and reports whether a bucket was flushed (and
// the indicators recomputed).
func (e *Engine) Update(bar model.Bar) bool {
	if !e.bk.Add(bar) {
		return false
	}
	e.recompute()
	return true
}

// Values returns the current readings.
func (e *Engine) Values() Values {
	return e.vals
}

// Reset drops all buckets and readings.
func (e *Engine) Reset() {
	e.bk.Reset()
	e.vals = Values{}
}

func (e *Engine) recompute() {
	ring := e.bk.Ring()
	v := Values{Buckets: ring.Len()}
	if last, ok := ring.Last(); ok {
		v.UpdatedAt = last.Start
		v.Volume = last.Volume
	}
	if ring.Len() < e.Required() {
		e.vals = v
		return
	}

	e.closes = ring.Closes(e.closes)
	v.FastMA = MovingAverage(e.cfg.FastType, e.closes, e.cfg.FastWindow)
	v.SlowLong = MovingAverage(e.cfg.SlowType, e.closes, e.cfg.SlowLong)
	v.SlowShort = MovingAverage(e.cfg.SlowType, e.closes, e.cfg.SlowShort)

	if e.cfg.ADXPeriod > 0 {
		e.buckets = ring.Buckets(e.buckets)
		if dmi, ok := ADX(e.buckets, e.cfg.ADXPeriod); ok {
			v.ADX, v.PlusDI, v.MinusDI, v.ADXOK = dmi.ADX, dmi.PlusDI, dmi.MinusDI, true
		}
	}

	if e.cfg.VolPeriod > 0 {
		e.volumes = ring.Volumes(e.volumes)
		v.VolumeMA = SMA(e.volumes, e.cfg.VolPeriod)
		v.VolumeOK = v.VolumeMA > 0 && v.Volume > v.VolumeMA*e.cfg.VolMultiplier
	}

	v.Ready = true
	e.vals = v
}
