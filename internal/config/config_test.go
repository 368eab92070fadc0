package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ALLUSE_DATA_DIR", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeMock, cfg.Mode)
	assert.InDelta(t, 1.0, cfg.SleeveSplit.Generator+cfg.SleeveSplit.Revenue+cfg.SleeveSplit.Compounder, 0.001)
	assert.Equal(t, 0.95, cfg.CapitalDeploymentPct)
	assert.Equal(t, 5, cfg.ATRPeriod)
	assert.Equal(t, 50.0, cfg.VIXThresholds.Hedge)
	assert.Equal(t, 65.0, cfg.VIXThresholds.Safe)
	assert.Equal(t, 80.0, cfg.VIXThresholds.Kill)
}

func TestValidateRejectsBadSleeveSplit(t *testing.T) {
	cfg := validConfig()
	cfg.SleeveSplit = SleeveSplit{Generator: 0.5, Revenue: 0.5, Compounder: 0.5}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsCapitalDeploymentOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.CapitalDeploymentPct = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnorderedVIXThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.VIXThresholds = VIXThresholds{Hedge: 70, Safe: 60, Kill: 80}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "paper"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadReinvestSplit(t *testing.T) {
	cfg := validConfig()
	cfg.Reinvest = ReinvestSplit{TaxReserve: 0.3, Contracts: 0.9, LEAPs: 0.2}
	assert.Error(t, cfg.Validate())
}

func validConfig() *Config {
	return &Config{
		Mode:                 ModeMock,
		SleeveSplit:          SleeveSplit{Generator: 0.40, Revenue: 0.30, Compounder: 0.30},
		CapitalDeploymentPct: 0.97,
		PerSymbolExposureCap: 0.25,
		SlippageCapPct:       0.05,
		AckTimeoutSeconds:    3,
		ATRPeriod:            5,
		VIXThresholds:        VIXThresholds{Hedge: 50, Safe: 65, Kill: 80},
		Reinvest:             ReinvestSplit{TaxReserve: 0.30, Contracts: 0.525, LEAPs: 0.175},
	}
}
