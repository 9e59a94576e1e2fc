package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration loaded from a TOML file.
type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	DataDir        string `toml:"DataDir"`
	CustodyAccount string `toml:"CustodyAccount"`

	// Oracle settings.
	OracleSampleSpace        int    `toml:"OracleSampleSpace"`
	OracleMaxAgeSeconds      int64  `toml:"OracleMaxAgeSeconds"`
	MaxStrictPriceDeviation  string `toml:"MaxStrictPriceDeviation"`
	SecondaryMaxDeviationBps uint64 `toml:"SecondaryMaxDeviationBps"`

	// Fee schedule, in basis points except the fixed liquidation fee which
	// is whole USD.
	SwapFeeBps        uint64 `toml:"SwapFeeBps"`
	StableSwapFeeBps  uint64 `toml:"StableSwapFeeBps"`
	MarginFeeBps      uint64 `toml:"MarginFeeBps"`
	LiquidationFeeUsd int64  `toml:"LiquidationFeeUsd"`

	// Funding accrual.
	FundingIntervalSeconds int64  `toml:"FundingIntervalSeconds"`
	FundingRateFactor      uint64 `toml:"FundingRateFactor"`

	// Risk limits.
	MaxLeverage uint64 `toml:"MaxLeverage"`
	MaxGasPrice int64  `toml:"MaxGasPrice"`

	// Governance.
	Governor             string  `toml:"Governor"`
	TimelockDelaySeconds int64   `toml:"TimelockDelaySeconds"`
	RequestsPerMinute    float64 `toml:"RequestsPerMinute"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8547"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./vaultdata"
	}
	if strings.TrimSpace(c.CustodyAccount) == "" {
		c.CustodyAccount = "vault-custody"
	}
	if c.OracleSampleSpace <= 0 {
		c.OracleSampleSpace = 3
	}
	if c.OracleMaxAgeSeconds <= 0 {
		c.OracleMaxAgeSeconds = 120
	}
	if c.FundingIntervalSeconds <= 0 {
		c.FundingIntervalSeconds = 8 * 60 * 60
	}
	if c.FundingRateFactor == 0 {
		c.FundingRateFactor = 600
	}
	if c.MaxLeverage == 0 {
		c.MaxLeverage = 500_000
	}
	if c.LiquidationFeeUsd <= 0 {
		c.LiquidationFeeUsd = 5
	}
	if c.TimelockDelaySeconds <= 0 {
		c.TimelockDelaySeconds = 24 * 60 * 60
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 600
	}
}

func (c *Config) validate() error {
	if c.MaxLeverage < 10_000 {
		return fmt.Errorf("config: MaxLeverage below 1x")
	}
	if c.SwapFeeBps > 500 || c.StableSwapFeeBps > 500 || c.MarginFeeBps > 500 {
		return fmt.Errorf("config: fee basis points exceed 500")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
