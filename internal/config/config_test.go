package config

import (
	"os"
	"path/filepath"
	"testing"

	"algotrader/internal/backtest"
)

var envVars = []string{
	"DATA_DIR", "SQLITE_PATH",
	"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_BASE_URL", "ALPACA_DATA_URL",
	"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	"LOG_LEVEL", "LOG_FORMAT", "ALGOTRADER_CONFIG",
}

// clearEnv unsets every override variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "algotrader.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/algotrader/data"
  sqlite_path: "/tmp/algotrader/runs.db"
server:
  host: "0.0.0.0"
  port: 8081
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
logging:
  level: "debug"
  format: "text"
gather:
  us_daily:
    start_date: "2020-01-01"
    symbols: ["AAPL", "MSFT"]
    batch_size: 500
backtest:
  initial_cash: 25000
  pricing: "next_open"
  commission: 0.001
  slippage: 0.0005
  allow_short: true
  price_increment: 0.01
  max_position_pct: 0.2
  risk_free_rate: 0.04
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/algotrader/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/algotrader/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/algotrader/runs.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/algotrader/runs.db")
	}

	// -- Server --
	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8081)
	}
	if cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server.GRPCPort = %d, want %d (default)", cfg.Server.GRPCPort, 9090)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "test-secret")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Gather --
	if cfg.Gather.USDaily.BatchSize != 500 {
		t.Errorf("Gather.USDaily.BatchSize = %d, want %d", cfg.Gather.USDaily.BatchSize, 500)
	}
	if cfg.Gather.USDaily.RateLimitPerMin != 200 {
		t.Errorf("Gather.USDaily.RateLimitPerMin = %d, want %d (default)", cfg.Gather.USDaily.RateLimitPerMin, 200)
	}
	if len(cfg.Gather.USDaily.Symbols) != 2 {
		t.Errorf("Gather.USDaily.Symbols = %v, want 2 symbols", cfg.Gather.USDaily.Symbols)
	}

	// -- Backtest --
	bt := cfg.Backtest
	if bt.InitialCash != 25000 {
		t.Errorf("Backtest.InitialCash = %f, want %f", bt.InitialCash, 25000.0)
	}
	if bt.Pricing != "next_open" {
		t.Errorf("Backtest.Pricing = %q, want %q", bt.Pricing, "next_open")
	}
	if bt.Commission != 0.001 || bt.Slippage != 0.0005 {
		t.Errorf("Backtest costs = %f/%f, want 0.001/0.0005", bt.Commission, bt.Slippage)
	}
	if !bt.AllowShort {
		t.Error("Backtest.AllowShort = false, want true")
	}
	if bt.MaxPositionPct != 0.2 {
		t.Errorf("Backtest.MaxPositionPct = %f, want %f", bt.MaxPositionPct, 0.2)
	}
	if bt.RiskFreeRate != 0.04 {
		t.Errorf("Backtest.RiskFreeRate = %f, want %f", bt.RiskFreeRate, 0.04)
	}
	if bt.CommissionMode != "proportional" {
		t.Errorf("Backtest.CommissionMode = %q, want %q (default)", bt.CommissionMode, "proportional")
	}
	if bt.PeriodsPerYear != 252 {
		t.Errorf("Backtest.PeriodsPerYear = %f, want %f (default)", bt.PeriodsPerYear, 252.0)
	}
	if bt.SweepWorkers != 4 {
		t.Errorf("Backtest.SweepWorkers = %d, want %d (default)", bt.SweepWorkers, 4)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Storage.DataDir != "data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "data")
	}
	if cfg.Backtest.InitialCash != 100000 {
		t.Errorf("Backtest.InitialCash = %f, want %f", cfg.Backtest.InitialCash, 100000.0)
	}
	if cfg.Backtest.Pricing != "close" {
		t.Errorf("Backtest.Pricing = %q, want %q", cfg.Backtest.Pricing, "close")
	}
	if cfg.Backtest.DefaultQty != 1 {
		t.Errorf("Backtest.DefaultQty = %f, want %f", cfg.Backtest.DefaultQty, 1.0)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q (env override)", cfg.Logging.Format, "text")
	}

	// The SDK's own variable names win over ALPACA_*.
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (APCA override)", cfg.Alpaca.APIKey, "apca-key")
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("Load(missing) error = %v, want not-exist", err)
	}
	bad := writeConfig(t, "backtest: [unclosed")
	if _, err := Load(bad); err == nil {
		t.Error("Load(malformed) returned nil error")
	}
}

func TestLoadOrDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if cfg.Backtest.InitialCash != 100000 {
		t.Errorf("Backtest.InitialCash = %f, want default %f", cfg.Backtest.InitialCash, 100000.0)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q (env override)", cfg.Logging.Level, "warn")
	}

	path := writeConfig(t, "backtest:\n  initial_cash: 5000\n")
	t.Setenv("ALGOTRADER_CONFIG", path)
	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if cfg.Backtest.InitialCash != 5000 {
		t.Errorf("Backtest.InitialCash = %f, want %f (from ALGOTRADER_CONFIG)", cfg.Backtest.InitialCash, 5000.0)
	}
}

func TestBacktestEngineConfig(t *testing.T) {
	bt := Default().Backtest
	bt.Pricing = "next_open"
	bt.CommissionMode = "fixed"
	bt.Commission = 4.95
	bt.RiskFreeRate = 0.03

	cfg, err := bt.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig() returned error: %v", err)
	}
	if cfg.Execution.Pricing != backtest.PriceNextOpen {
		t.Errorf("Pricing = %v, want %v", cfg.Execution.Pricing, backtest.PriceNextOpen)
	}
	if cfg.Execution.CommissionMode != backtest.CommissionFixed || cfg.Execution.Commission != 4.95 {
		t.Errorf("commission = %v %v, want fixed 4.95", cfg.Execution.CommissionMode, cfg.Execution.Commission)
	}
	if cfg.Metrics.PeriodsPerYear != 252 || cfg.Metrics.RiskFreeRate != 0.03 {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}

	for _, mutate := range []func(*BacktestConfig){
		func(b *BacktestConfig) { b.Pricing = "vwap" },
		func(b *BacktestConfig) { b.CommissionMode = "tiered" },
		func(b *BacktestConfig) { b.Slippage = -0.1 },
	} {
		b := Default().Backtest
		mutate(&b)
		if _, err := b.EngineConfig(); err == nil {
			t.Errorf("EngineConfig() accepted %+v", b)
		}
	}
}
