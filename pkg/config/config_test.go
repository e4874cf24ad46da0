package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODE", "")
	t.Setenv("DATA_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, 10.0, cfg.PointValue)
	assert.Equal(t, 22.0, cfg.FeePerContract)
	assert.Equal(t, time.Minute, cfg.BarInterval)
	assert.Equal(t, 0.7, cfg.InSampleFraction)
	assert.True(t, cfg.AutoTrading)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MODE", "Backtest")
	t.Setenv("DATA_FILE", "bars.csv")
	t.Setenv("REPLAY_SPEED", "250ms")
	t.Setenv("AUTO_TRADING", "false")
	t.Setenv("WORKERS", "3")
	t.Setenv("POINT_VALUE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModeBacktest, cfg.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.ReplaySpeed)
	assert.False(t, cfg.AutoTrading)
	assert.Equal(t, 3, cfg.Workers)
	// unparsable values fall back to the default
	assert.Equal(t, 10.0, cfg.PointValue)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Setenv("MODE", "")
	t.Setenv("DATA_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	bad := *cfg
	bad.Mode = "paper"
	bad.PointValue = 0
	bad.InSampleFraction = 1
	bad.Timezone = "Mars/Olympus"

	err = bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"MODE", "POINT_VALUE", "IN_SAMPLE_FRACTION", "TIMEZONE"} {
		assert.Contains(t, err.Error(), want)
	}

	bad = *cfg
	bad.Mode = ModeOptimize
	bad.DataFile = ""
	assert.ErrorContains(t, bad.Validate(), "DATA_FILE")
}
