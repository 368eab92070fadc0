// Package config loads and validates engine configuration.
//
// Configuration is loaded from environment variables (.env file) first, then
// overridden by the settings database — settings values take precedence, the
// same two-stage precedence the teacher repository used for broker
// credentials. The VIX thresholds and slippage cap in Config can be
// changed from the settings store without a redeploy. No other package
// reads these Config fields: protocol.CircuitBreaker uses fixed 50/65/80
// VIX levels, and the Rules Engine uses a fixed 5% slippage cap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/settingsstore"
)

// SleeveSplit is the fraction of total capital assigned to each sleeve at
// genesis. Must sum to 1.0.
type SleeveSplit struct {
	Generator  float64
	Revenue    float64
	Compounder float64
}

// MonitorIntervals holds the per-protocol-level monitoring cadence (§4.8).
type MonitorIntervals struct {
	L0Seconds int
	L1Seconds int
	L2Seconds int
	L3Seconds int
}

// VIXThresholds holds the three system-wide circuit-breaker levels (§4.8).
type VIXThresholds struct {
	Hedge float64
	Safe  float64
	Kill  float64
}

// ForkThresholds holds the capital-over-base increments that trigger forks (§4.10).
type ForkThresholds struct {
	Generator float64
	Revenue   float64
}

// ReinvestSplit holds the quarterly reinvestment split (§4.12).
type ReinvestSplit struct {
	TaxReserve float64 // fraction of the quarterly gain reserved for taxes
	Contracts  float64 // fraction of the quarterly gain deployed to contracts
	LEAPs      float64 // fraction of the quarterly gain allocated to the LEAP ladder
}

// Mode selects whether the engine talks to a real broker or a deterministic mock.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

// Config holds validated engine configuration (spec §6's configuration table).
type Config struct {
	DataDir  string
	LogLevel string
	Port     int
	Mode     Mode

	SleeveSplit          SleeveSplit
	CapitalDeploymentPct float64
	PerSymbolExposureCap float64
	SlippageCapPct       float64
	AckTimeoutSeconds    int
	MonitorIntervals     MonitorIntervals
	ATRPeriod            int
	VIXThresholds        VIXThresholds
	ForkThresholds       ForkThresholds
	Reinvest             ReinvestSplit
}

// Load reads configuration from the environment (and .env, if present),
// validates it, and returns it. Returns an error — never a partially valid
// Config — on any invalid value, matching the spec's "configuration invalid
// → refuse to start, exit code 4" policy (§7).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := ""
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("ALLUSE_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8080),
		Mode:     Mode(getEnv("ALLUSE_MODE", string(ModeMock))),

		SleeveSplit: SleeveSplit{
			Generator:  getEnvAsFloat("SLEEVE_SPLIT_GEN", 0.40),
			Revenue:    getEnvAsFloat("SLEEVE_SPLIT_REV", 0.30),
			Compounder: getEnvAsFloat("SLEEVE_SPLIT_COM", 0.30),
		},
		CapitalDeploymentPct: getEnvAsFloat("CAPITAL_DEPLOYMENT_PCT", 0.95),
		PerSymbolExposureCap: getEnvAsFloat("PER_SYMBOL_EXPOSURE_CAP", 0.25),
		SlippageCapPct:       getEnvAsFloat("SLIPPAGE_CAP_PCT", 0.05),
		AckTimeoutSeconds:    getEnvAsInt("ACK_TIMEOUT_SECONDS", 3),
		MonitorIntervals: MonitorIntervals{
			L0Seconds: getEnvAsInt("MONITOR_INTERVAL_L0", 300),
			L1Seconds: getEnvAsInt("MONITOR_INTERVAL_L1", 60),
			L2Seconds: getEnvAsInt("MONITOR_INTERVAL_L2", 30),
			L3Seconds: getEnvAsInt("MONITOR_INTERVAL_L3", 1),
		},
		ATRPeriod: getEnvAsInt("ATR_PERIOD", 5),
		VIXThresholds: VIXThresholds{
			Hedge: getEnvAsFloat("VIX_THRESHOLD_HEDGE", 50),
			Safe:  getEnvAsFloat("VIX_THRESHOLD_SAFE", 65),
			Kill:  getEnvAsFloat("VIX_THRESHOLD_KILL", 80),
		},
		ForkThresholds: ForkThresholds{
			Generator: getEnvAsFloat("FORK_THRESHOLD_GEN", 100000),
			Revenue:   getEnvAsFloat("FORK_THRESHOLD_REV", 500000),
		},
		Reinvest: ReinvestSplit{
			TaxReserve: getEnvAsFloat("REINVEST_TAX_RESERVE", 0.30),
			Contracts:  getEnvAsFloat("REINVEST_CONTRACTS", 0.525),
			LEAPs:      getEnvAsFloat("REINVEST_LEAPS", 0.175),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateFromSettings overrides the mutable risk parameters with values held
// in the settings store, the way the teacher's Config.UpdateFromSettings
// let broker credentials be rotated without an env var change. Only
// known, validated keys are applied; an empty stored value is treated as
// "unset" and the environment-derived default is kept.
func (c *Config) UpdateFromSettings(store *settingsstore.Store) error {
	if v, ok, err := store.GetFloat("vix_threshold_hedge"); err != nil {
		return err
	} else if ok {
		c.VIXThresholds.Hedge = v
	}
	if v, ok, err := store.GetFloat("vix_threshold_safe"); err != nil {
		return err
	} else if ok {
		c.VIXThresholds.Safe = v
	}
	if v, ok, err := store.GetFloat("vix_threshold_kill"); err != nil {
		return err
	} else if ok {
		c.VIXThresholds.Kill = v
	}
	if v, ok, err := store.GetFloat("slippage_cap_pct"); err != nil {
		return err
	} else if ok {
		c.SlippageCapPct = v
	}
	return c.Validate()
}

// Validate checks every configured value against the range the spec
// requires, refusing to return a usable Config otherwise.
func (c *Config) Validate() error {
	sum := c.SleeveSplit.Generator + c.SleeveSplit.Revenue + c.SleeveSplit.Compounder
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("sleeve_split fractions must sum to 1.0, got %.4f", sum)
	}
	if c.CapitalDeploymentPct < 0.95 || c.CapitalDeploymentPct > 1.00 {
		return fmt.Errorf("capital_deployment_pct must lie in [0.95, 1.00], got %.4f", c.CapitalDeploymentPct)
	}
	if c.PerSymbolExposureCap <= 0 || c.PerSymbolExposureCap > 1 {
		return fmt.Errorf("per_symbol_exposure_cap must lie in (0, 1], got %.4f", c.PerSymbolExposureCap)
	}
	if c.SlippageCapPct <= 0 || c.SlippageCapPct > 0.5 {
		return fmt.Errorf("slippage_cap_pct out of range: %.4f", c.SlippageCapPct)
	}
	if c.AckTimeoutSeconds <= 0 {
		return fmt.Errorf("ack_timeout_seconds must be positive")
	}
	if c.ATRPeriod <= 0 {
		return fmt.Errorf("atr_period must be positive")
	}
	if !(c.VIXThresholds.Hedge < c.VIXThresholds.Safe && c.VIXThresholds.Safe < c.VIXThresholds.Kill) {
		return fmt.Errorf("vix_thresholds must satisfy hedge < safe < kill, got %+v", c.VIXThresholds)
	}
	reinvestSum := c.Reinvest.TaxReserve + c.Reinvest.Contracts + c.Reinvest.LEAPs
	if reinvestSum < 0.999 || reinvestSum > 1.001 {
		return fmt.Errorf("reinvest.tax_reserve + reinvest.contracts + reinvest.leaps must sum to 1.0, got %.4f", reinvestSum)
	}
	if c.Mode != ModeMock && c.Mode != ModeLive {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeMock, ModeLive, c.Mode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
