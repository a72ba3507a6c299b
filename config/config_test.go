package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8645" {
		t.Fatalf("rpc address = %q", cfg.RPCAddress)
	}
	if cfg.Valuation.MaxDeviationBps != 200 || cfg.Valuation.TwapWindowSeconds != 120 {
		t.Fatalf("defaults not applied: %+v", cfg.Valuation)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
RPCAddress = "0.0.0.0:9000"

[valuation]
MaxDeviationBps = 150
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("override lost: %q", cfg.RPCAddress)
	}
	if cfg.Valuation.MaxDeviationBps != 150 {
		t.Fatalf("valuation override lost: %d", cfg.Valuation.MaxDeviationBps)
	}
	if cfg.Valuation.LoanToValueBps != 5000 {
		t.Fatalf("default not applied: %d", cfg.Valuation.LoanToValueBps)
	}
	if cfg.TokenSymbol != "vUSD" {
		t.Fatalf("token symbol default lost: %q", cfg.TokenSymbol)
	}
}

func TestLoadDecodesSourceTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[valuation]
MaxPriceAgeSeconds = 300

[[poolshare_source]]
Address = "vlt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
DebtCeiling = "1000000000000000000000"
StableToken = "vlt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
VolatileToken = "vlt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
StableDecimals = 6
VolatileDecimals = 18
PriceDecimals = 8

[[range_source]]
Address = "vlt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
DebtCeiling = "500000000000000000000"
VolatileToken = "vlt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
PairedToken = "vlt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
VolatileDecimals = 18
PairedDecimals = 18
PriceDecimals = 8
TwapDecimals = 8
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.PoolShareSources) != 1 || len(cfg.RangeSources) != 1 {
		t.Fatalf("source tables not decoded: %d/%d", len(cfg.PoolShareSources), len(cfg.RangeSources))
	}
	ps := cfg.PoolShareSources[0]
	if ps.DebtCeiling != "1000000000000000000000" || ps.StableDecimals != 6 {
		t.Fatalf("poolshare source fields: %+v", ps)
	}
	rs := cfg.RangeSources[0]
	if rs.TwapDecimals != 8 || rs.PairedDecimals != 18 {
		t.Fatalf("range source fields: %+v", rs)
	}
	if cfg.Valuation.MaxPriceAge() != 5*time.Minute {
		t.Fatalf("max price age = %s", cfg.Valuation.MaxPriceAge())
	}
}
