package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the trading core.
// Values come from an optional YAML file (CONFIG_FILE) overridden by
// environment variables.
type Config struct {
	Port     int
	LogLevel string
	LogFile  string // empty = stdout only

	ExpirationInterval      time.Duration
	SettlementSweepInterval time.Duration
	SettlementCycle         int // T+N business days
	CustodianID             string
	VWAPWindow              time.Duration

	JournalFile string // empty = no journal
	ArchivePath string // empty = no trade archive

	Pairs []PairConfig

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PairConfig declares one trading pair in the YAML config file. Prices
// are dollars; fee rates and deviation are decimal fractions.
type PairConfig struct {
	Symbol            string  `yaml:"symbol"`
	TickSize          float64 `yaml:"tick_size"`
	MinQuantity       int64   `yaml:"min_quantity"`
	MaxQuantity       int64   `yaml:"max_quantity"`
	MinPrice          float64 `yaml:"min_price"`
	MaxPrice          float64 `yaml:"max_price"`
	MakerFeeRate      string  `yaml:"maker_fee_rate"`
	TakerFeeRate      string  `yaml:"taker_fee_rate"`
	MaxPriceDeviation string  `yaml:"max_price_deviation"`
	AssetType         string  `yaml:"asset_type"`
	QuoteCurrency     string  `yaml:"quote_currency"`
	CustodialAsset    bool    `yaml:"custodial_asset"`
}

// fileConfig mirrors Config for YAML decoding; durations are strings in
// Go duration syntax ("1m", "30s").
type fileConfig struct {
	Port     *int    `yaml:"port"`
	LogLevel *string `yaml:"log_level"`
	LogFile  *string `yaml:"log_file"`

	ExpirationInterval      *string `yaml:"expiration_interval"`
	SettlementSweepInterval *string `yaml:"settlement_sweep_interval"`
	SettlementCycle         *int    `yaml:"settlement_cycle"`
	CustodianID             *string `yaml:"custodian_id"`
	VWAPWindow              *string `yaml:"vwap_window"`

	JournalFile *string `yaml:"journal_file"`
	ArchivePath *string `yaml:"archive_path"`

	Pairs []PairConfig `yaml:"pairs"`

	ReadTimeout     *string `yaml:"read_timeout"`
	WriteTimeout    *string `yaml:"write_timeout"`
	IdleTimeout     *string `yaml:"idle_timeout"`
	ShutdownTimeout *string `yaml:"shutdown_timeout"`
}

// Load reads configuration from the YAML file named by CONFIG_FILE (if
// set), applies environment variable overrides and defaults, and
// validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                    8080,
		LogLevel:                "info",
		ExpirationInterval:      1 * time.Second,
		SettlementSweepInterval: 1 * time.Minute,
		SettlementCycle:         2,
		CustodianID:             "custodian",
		VWAPWindow:              5 * time.Minute,
		ReadTimeout:             5 * time.Second,
		WriteTimeout:            10 * time.Second,
		IdleTimeout:             60 * time.Second,
		ShutdownTimeout:         10 * time.Second,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid log level: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}
	if cfg.SettlementCycle < 0 || cfg.SettlementCycle > 3 {
		return nil, fmt.Errorf("invalid settlement cycle: T+%d, must be T+0 through T+3", cfg.SettlementCycle)
	}

	return cfg, nil
}

// applyFile overlays the YAML file at path onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setInt(&cfg.Port, fc.Port)
	setStr(&cfg.LogLevel, fc.LogLevel)
	setStr(&cfg.LogFile, fc.LogFile)
	setInt(&cfg.SettlementCycle, fc.SettlementCycle)
	setStr(&cfg.CustodianID, fc.CustodianID)
	setStr(&cfg.JournalFile, fc.JournalFile)
	setStr(&cfg.ArchivePath, fc.ArchivePath)
	cfg.Pairs = fc.Pairs

	for _, d := range []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"expiration_interval", &cfg.ExpirationInterval, fc.ExpirationInterval},
		{"settlement_sweep_interval", &cfg.SettlementSweepInterval, fc.SettlementSweepInterval},
		{"vwap_window", &cfg.VWAPWindow, fc.VWAPWindow},
		{"read_timeout", &cfg.ReadTimeout, fc.ReadTimeout},
		{"write_timeout", &cfg.WriteTimeout, fc.WriteTimeout},
		{"idle_timeout", &cfg.IdleTimeout, fc.IdleTimeout},
		{"shutdown_timeout", &cfg.ShutdownTimeout, fc.ShutdownTimeout},
	} {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid %s in config file: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Environment always
// wins over the config file.
func applyEnv(cfg *Config) error {
	var err error
	if cfg.Port, err = getInt("PORT", cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.LogLevel = getStr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getStr("LOG_FILE", cfg.LogFile)

	if cfg.ExpirationInterval, err = getDuration("EXPIRATION_INTERVAL", cfg.ExpirationInterval); err != nil {
		return fmt.Errorf("invalid EXPIRATION_INTERVAL: %w", err)
	}
	if cfg.SettlementSweepInterval, err = getDuration("SETTLEMENT_SWEEP_INTERVAL", cfg.SettlementSweepInterval); err != nil {
		return fmt.Errorf("invalid SETTLEMENT_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SettlementCycle, err = getInt("SETTLEMENT_CYCLE", cfg.SettlementCycle); err != nil {
		return fmt.Errorf("invalid SETTLEMENT_CYCLE: %w", err)
	}
	cfg.CustodianID = getStr("CUSTODIAN_ID", cfg.CustodianID)
	if cfg.VWAPWindow, err = getDuration("VWAP_WINDOW", cfg.VWAPWindow); err != nil {
		return fmt.Errorf("invalid VWAP_WINDOW: %w", err)
	}

	cfg.JournalFile = getStr("JOURNAL_FILE", cfg.JournalFile)
	cfg.ArchivePath = getStr("ARCHIVE_PATH", cfg.ArchivePath)

	if cfg.ReadTimeout, err = getDuration("READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}
	if cfg.WriteTimeout, err = getDuration("WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}
	if cfg.IdleTimeout, err = getDuration("IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}
	return nil
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
