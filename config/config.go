package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, decoded from TOML.
type Config struct {
	RPCAddress    string `toml:"RPCAddress"`
	DataDir       string `toml:"DataDir"`
	TokenSymbol   string `toml:"TokenSymbol"`
	LedgerAddress string `toml:"LedgerAddress"`

	Valuation ValuationConfig `toml:"valuation"`

	PoolShareSources []PoolShareSourceConfig `toml:"poolshare_source"`
	RangeSources     []RangeSourceConfig     `toml:"range_source"`
}

// PoolShareSourceConfig declares a pool-share collateral source to register at
// startup.
type PoolShareSourceConfig struct {
	Address string `toml:"Address"`
	// DebtCeiling is a decimal string in 18-decimal debt units.
	DebtCeiling      string `toml:"DebtCeiling"`
	StableToken      string `toml:"StableToken"`
	VolatileToken    string `toml:"VolatileToken"`
	StableDecimals   uint8  `toml:"StableDecimals"`
	VolatileDecimals uint8  `toml:"VolatileDecimals"`
	// PriceDecimals is the primary feed's fixed-point precision.
	PriceDecimals uint8 `toml:"PriceDecimals"`
}

// RangeSourceConfig declares a range-position collateral source to register at
// startup.
type RangeSourceConfig struct {
	Address string `toml:"Address"`
	// DebtCeiling is a decimal string in 18-decimal debt units.
	DebtCeiling      string `toml:"DebtCeiling"`
	VolatileToken    string `toml:"VolatileToken"`
	PairedToken      string `toml:"PairedToken"`
	VolatileDecimals uint8  `toml:"VolatileDecimals"`
	PairedDecimals   uint8  `toml:"PairedDecimals"`
	// PriceDecimals is the primary feed's fixed-point precision,
	// TwapDecimals the secondary source's.
	PriceDecimals uint8 `toml:"PriceDecimals"`
	TwapDecimals  uint8 `toml:"TwapDecimals"`
}

// ValuationConfig surfaces the protocol policy constants as tunables. Zero
// values fall back to the protocol defaults.
type ValuationConfig struct {
	// MaxDeviationBps is the pool-implied vs oracle price tolerance band.
	MaxDeviationBps uint32 `toml:"MaxDeviationBps"`
	// LoanToValueBps is the credited fraction of the volatile leg for range
	// positions.
	LoanToValueBps uint32 `toml:"LoanToValueBps"`
	// LiquidationThresholdBps marks a deposit liquidatable below this
	// fraction of the debt.
	LiquidationThresholdBps uint32 `toml:"LiquidationThresholdBps"`
	// TwapWindowSeconds is the observation window for the secondary
	// time-weighted price source.
	TwapWindowSeconds uint32 `toml:"TwapWindowSeconds"`
	// MaxPriceAgeSeconds bounds oracle staleness. Zero disables the check.
	MaxPriceAgeSeconds int64 `toml:"MaxPriceAgeSeconds"`
}

// MaxPriceAge returns the staleness bound as a duration.
func (v ValuationConfig) MaxPriceAge() time.Duration {
	return time.Duration(v.MaxPriceAgeSeconds) * time.Second
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.Normalise()
	return cfg, nil
}

// Normalise fills unset fields with defaults.
func (c *Config) Normalise() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./lpvault-data"
	}
	if strings.TrimSpace(c.TokenSymbol) == "" {
		c.TokenSymbol = "vUSD"
	}
	if c.Valuation.MaxDeviationBps == 0 {
		c.Valuation.MaxDeviationBps = 200
	}
	if c.Valuation.LoanToValueBps == 0 {
		c.Valuation.LoanToValueBps = 5000
	}
	if c.Valuation.LiquidationThresholdBps == 0 {
		c.Valuation.LiquidationThresholdBps = 11000
	}
	if c.Valuation.TwapWindowSeconds == 0 {
		c.Valuation.TwapWindowSeconds = 120
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Normalise()
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}
