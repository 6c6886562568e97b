// Package config loads pipeline settings from a yaml file or, for quick
// runs, from command-line flags. Decimal parameters travel as strings in
// yaml and are parsed into shopspring decimals with defaults applied.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"cryptick/internal/entity"
	"cryptick/internal/services/signal"
)

type Config struct {
	Platform string
	Markets  []entity.Market

	BarInterval       time.Duration
	ScrapeInterval    time.Duration
	OrderPollInterval time.Duration
	MaxOpenDuration   time.Duration

	InitialBalance decimal.Decimal
	BuyAmount      decimal.Decimal
	OffsetPercent  decimal.Decimal

	StopLossPercent   decimal.Decimal
	StopGainPercent   decimal.Decimal
	StopGainIncrement decimal.Decimal
	MaxHoldTime       time.Duration
	WaitTime          time.Duration

	DatabaseURL string
	JournalDir  string

	ListenAddr  string
	TLSDomains  []string
	TLSCacheDir string
}

// ConfigTmp mirrors the yaml layout; decimal fields are strings so empty
// values can fall back to defaults.
type ConfigTmp struct {
	Platform string   `yaml:"platform"`
	Markets  []string `yaml:"markets"`

	BarInterval       time.Duration `yaml:"bar_interval,omitempty"`
	ScrapeInterval    time.Duration `yaml:"scrape_interval,omitempty"`
	OrderPollInterval time.Duration `yaml:"order_poll_interval,omitempty"`
	MaxOpenDuration   time.Duration `yaml:"max_open_duration,omitempty"`

	InitialBalanceStr string `yaml:"initial_balance,omitempty"`
	BuyAmountStr      string `yaml:"buy_amount,omitempty"`
	OffsetPercentStr  string `yaml:"offset_percent,omitempty"`

	StopLossPercentStr   string        `yaml:"stop_loss_percent,omitempty"`
	StopGainPercentStr   string        `yaml:"stop_gain_percent,omitempty"`
	StopGainIncrementStr string        `yaml:"stop_gain_increment,omitempty"`
	MaxHoldTime          time.Duration `yaml:"max_hold_time,omitempty"`
	WaitTime             time.Duration `yaml:"wait_time,omitempty"`

	DatabaseURL string `yaml:"database_url,omitempty"`
	JournalDir  string `yaml:"journal_dir,omitempty"`

	ListenAddr  string   `yaml:"listen_addr,omitempty"`
	TLSDomains  []string `yaml:"tls_domains,omitempty"`
	TLSCacheDir string   `yaml:"tls_cache_dir,omitempty"`
}

// Get loads configuration from --config when provided, otherwise from the
// remaining flags.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	platform := flag.String("platform", "binance", "exchange platform: binance or bybit")
	markets := flag.String("markets", "BTC-LTC", "comma-separated markets, example: BTC-LTC,BTC-ETH")
	buyAmount := flag.String("buyamount", "0.005", "base amount committed per buy")
	balance := flag.String("balance", "0.1", "initial base balance")
	dbURL := flag.String("db", "", "postgres url, empty disables persistence")
	listen := flag.String("listen", ":8080", "control server listen address")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	cfg := defaults()
	cfg.Platform = *platform
	cfg.DatabaseURL = *dbURL
	cfg.ListenAddr = *listen

	var err error
	if cfg.Markets, err = parseMarkets(strings.Split(*markets, ",")); err != nil {
		return Config{}, err
	}
	if cfg.BuyAmount, err = decimal.NewFromString(*buyAmount); err != nil {
		return Config{}, fmt.Errorf("invalid --buyamount provided, --buyamount=%s", *buyAmount)
	}
	if cfg.InitialBalance, err = decimal.NewFromString(*balance); err != nil {
		return Config{}, fmt.Errorf("invalid --balance provided, --balance=%s", *balance)
	}

	return cfg, validate(cfg)
}

func defaults() Config {
	rules := signal.DefaultRules()
	return Config{
		Platform:          "binance",
		BarInterval:       time.Minute,
		ScrapeInterval:    30 * time.Second,
		OrderPollInterval: 5 * time.Second,
		MaxOpenDuration:   time.Minute,
		InitialBalance:    decimal.Zero,
		BuyAmount:         rules.BuyAmount,
		OffsetPercent:     decimal.RequireFromString("0.05"),
		StopLossPercent:   rules.StopLossPercent,
		StopGainPercent:   rules.StopGainPercent,
		StopGainIncrement: rules.StopGainIncrement,
		MaxHoldTime:       rules.MaxHoldTime,
		WaitTime:          rules.WaitTime,
		JournalDir:        "./wal/trades",
		ListenAddr:        ":8080",
		TLSCacheDir:       "cert-cache",
	}
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	cfg := defaults()
	if tmp.Platform != "" {
		cfg.Platform = tmp.Platform
	}
	if cfg.Markets, err = parseMarkets(tmp.Markets); err != nil {
		return Config{}, fmt.Errorf("incorrect 'markets' param in yaml config: %w", err)
	}

	if tmp.BarInterval > 0 {
		cfg.BarInterval = tmp.BarInterval
	}
	if tmp.ScrapeInterval > 0 {
		cfg.ScrapeInterval = tmp.ScrapeInterval
	}
	if tmp.OrderPollInterval > 0 {
		cfg.OrderPollInterval = tmp.OrderPollInterval
	}
	if tmp.MaxOpenDuration > 0 {
		cfg.MaxOpenDuration = tmp.MaxOpenDuration
	}
	if tmp.MaxHoldTime > 0 {
		cfg.MaxHoldTime = tmp.MaxHoldTime
	}
	if tmp.WaitTime > 0 {
		cfg.WaitTime = tmp.WaitTime
	}

	for name, field := range map[string]struct {
		raw string
		dst *decimal.Decimal
	}{
		"initial_balance":     {tmp.InitialBalanceStr, &cfg.InitialBalance},
		"buy_amount":          {tmp.BuyAmountStr, &cfg.BuyAmount},
		"offset_percent":      {tmp.OffsetPercentStr, &cfg.OffsetPercent},
		"stop_loss_percent":   {tmp.StopLossPercentStr, &cfg.StopLossPercent},
		"stop_gain_percent":   {tmp.StopGainPercentStr, &cfg.StopGainPercent},
		"stop_gain_increment": {tmp.StopGainIncrementStr, &cfg.StopGainIncrement},
	} {
		if field.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal): %w", name, err)
		}
		*field.dst = d
	}

	cfg.DatabaseURL = tmp.DatabaseURL
	if tmp.JournalDir != "" {
		cfg.JournalDir = tmp.JournalDir
	}
	if tmp.ListenAddr != "" {
		cfg.ListenAddr = tmp.ListenAddr
	}
	cfg.TLSDomains = tmp.TLSDomains
	if tmp.TLSCacheDir != "" {
		cfg.TLSCacheDir = tmp.TLSCacheDir
	}

	return cfg, validate(cfg)
}

// Rules builds the signal thresholds from the configured overrides on top
// of the production defaults.
func (c Config) Rules() signal.Rules {
	rules := signal.DefaultRules()
	rules.BuyAmount = c.BuyAmount
	rules.StopLossPercent = c.StopLossPercent
	rules.StopGainPercent = c.StopGainPercent
	rules.StopGainIncrement = c.StopGainIncrement
	rules.MaxHoldTime = c.MaxHoldTime
	rules.WaitTime = c.WaitTime
	return rules
}

func parseMarkets(raw []string) ([]entity.Market, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one market is required")
	}
	markets := make([]entity.Market, 0, len(raw))
	base := ""
	for _, s := range raw {
		market, err := entity.MarketFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		// All markets must trade against the same base balance.
		if base == "" {
			base = market.Base
		} else if market.Base != base {
			return nil, fmt.Errorf("mixed base assets %s and %s", base, market.Base)
		}
		markets = append(markets, market)
	}
	return markets, nil
}

func validate(cfg Config) error {
	switch cfg.Platform {
	case "binance", "bybit":
	default:
		return fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
	if !cfg.BuyAmount.IsPositive() {
		return fmt.Errorf("buy_amount must be positive")
	}
	if cfg.InitialBalance.IsNegative() {
		return fmt.Errorf("initial_balance must not be negative")
	}
	if cfg.ScrapeInterval > cfg.BarInterval {
		return fmt.Errorf("scrape_interval must not exceed bar_interval")
	}
	return nil
}
