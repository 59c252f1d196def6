package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nifty-engine/internal/execution"
	"nifty-engine/internal/fallback"
	"nifty-engine/internal/indicator"
	"nifty-engine/internal/logger"
	"nifty-engine/internal/model"
	"nifty-engine/internal/options"
	"nifty-engine/internal/order"
	"nifty-engine/internal/runner"
	"nifty-engine/internal/store/redis"
	"nifty-engine/internal/store/sqlite"
	"nifty-engine/internal/strategy"
)

// Config holds all application configuration. It is built from defaults,
// an optional YAML file and environment overrides, in that order.
type Config struct {
	Mode        model.Mode `yaml:"mode"` // paper | live
	LogLevel    string     `yaml:"log_level"`
	APIAddr     string     `yaml:"api_addr"`
	MetricsAddr string     `yaml:"metrics_addr"`

	Dhan      DhanConfig       `yaml:"dhan"`
	Providers ProvidersConfig  `yaml:"providers"`
	Fallback  fallback.Config  `yaml:"fallback"`
	Indicator indicator.Config `yaml:"indicator"`
	Strategy  strategy.Config  `yaml:"strategy"`
	Runner    runner.Config    `yaml:"runner"`
	Options   options.Config   `yaml:"options"`

	Risk  order.RiskLimits     `yaml:"risk"`
	Live  execution.LiveConfig `yaml:"live"`
	Paper PaperConfig          `yaml:"paper"`

	Redis  redis.Config  `yaml:"redis"`
	SQLite sqlite.Config `yaml:"sqlite"`
	Notify NotifyConfig  `yaml:"notify"`
}

// DhanConfig holds broker credentials. Either an access token or a PIN
// plus TOTP secret is needed for live trading.
type DhanConfig struct {
	ClientID     string `yaml:"client_id"`
	AccessToken  string `yaml:"access_token"`
	PIN          string `yaml:"pin"`
	TOTPSecret   string `yaml:"totp_secret"`
	BaseURL      string `yaml:"base_url"`
	AuthURL      string `yaml:"auth_url"`
	OrderFeedURL string `yaml:"order_feed_url"`
}

// Configured reports whether credentials are present.
func (d DhanConfig) Configured() bool {
	return d.ClientID != "" && (d.AccessToken != "" || (d.PIN != "" && d.TOTPSecret != ""))
}

// ProvidersConfig selects market-data providers in priority order.
type ProvidersConfig struct {
	Order        []string `yaml:"order"` // dhan, nse, yahoo
	NSEBaseURL   string   `yaml:"nse_base_url"`
	YahooBaseURL string   `yaml:"yahoo_base_url"`
}

type PaperConfig struct {
	SlippageBps int64 `yaml:"slippage_bps"`
}

type NotifyConfig struct {
	TelegramBotToken string        `yaml:"telegram_bot_token"`
	TelegramChatID   string        `yaml:"telegram_chat_id"`
	WebhookURL       string        `yaml:"webhook_url"`
	Throttle         time.Duration `yaml:"throttle"` // suppress repeats of the same alert
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Mode:        model.ModePaper,
		LogLevel:    "info",
		APIAddr:     ":8080",
		MetricsAddr: ":9090",
		Providers:   ProvidersConfig{Order: []string{"dhan", "nse", "yahoo"}},
		Fallback:    fallback.DefaultConfig(),
		Indicator:   indicator.DefaultConfig(),
		Strategy:    strategy.DefaultConfig(),
		Runner:      runner.DefaultConfig(),
		Options:     options.DefaultConfig(),
		Risk:        order.DefaultRiskLimits(),
		Live:        execution.DefaultLiveConfig(),
		Paper:       PaperConfig{SlippageBps: 5},
		Redis:       redis.Config{BreakerFailures: 5, BreakerReset: 30 * time.Second, BufferSize: 10000},
		SQLite:      sqlite.Config{Path: "data/engine.db"},
		Notify:      NotifyConfig{Throttle: 5 * time.Minute},
	}
}

// Load reads .env (if present), the YAML file at path (or CONFIG_PATH, or
// config.yaml; a missing file is fine), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = getEnv("CONFIG_PATH", "config.yaml")
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Runner.Mode = cfg.Mode
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	c.Mode = model.Mode(strings.ToLower(getEnv("TRADING_MODE", string(c.Mode))))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.APIAddr = getEnv("API_ADDR", c.APIAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	c.Dhan.ClientID = getEnv("DHAN_CLIENT_ID", c.Dhan.ClientID)
	c.Dhan.AccessToken = getEnv("DHAN_ACCESS_TOKEN", c.Dhan.AccessToken)
	c.Dhan.PIN = getEnv("DHAN_PIN", c.Dhan.PIN)
	c.Dhan.TOTPSecret = getEnv("DHAN_TOTP_SECRET", c.Dhan.TOTPSecret)
	c.Dhan.BaseURL = getEnv("DHAN_BASE_URL", c.Dhan.BaseURL)

	if v := os.Getenv("PROVIDERS"); v != "" {
		c.Providers.Order = splitList(v)
	}
	c.Providers.NSEBaseURL = getEnv("NSE_BASE_URL", c.Providers.NSEBaseURL)
	c.Providers.YahooBaseURL = getEnv("YAHOO_BASE_URL", c.Providers.YahooBaseURL)

	if v := os.Getenv("INTERVAL"); v != "" {
		iv, err := model.ParseInterval(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("INTERVAL: %w", err))
		} else {
			c.Runner.Interval = iv
		}
	}
	c.Runner.Schedule = getEnv("SCHEDULE", c.Runner.Schedule)
	c.Options.ExpiryWeekday = getEnv("OPTION_EXPIRY_WEEKDAY", c.Options.ExpiryWeekday)
	c.Options.Strike = getEnv("OPTION_STRIKE", c.Options.Strike)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)

	c.Notify.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramBotToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.Notify.WebhookURL = getEnv("WEBHOOK_URL", c.Notify.WebhookURL)

	var err error
	if c.Runner.TradeOptions, err = getEnvBool("TRADE_OPTIONS", c.Runner.TradeOptions); err != nil {
		errs = append(errs, err)
	}
	if c.Strategy.Qty, err = getEnvInt("STRATEGY_QTY", c.Strategy.Qty); err != nil {
		errs = append(errs, err)
	}
	if c.Paper.SlippageBps, err = getEnvInt("PAPER_SLIPPAGE_BPS", c.Paper.SlippageBps); err != nil {
		errs = append(errs, err)
	}
	if c.Fallback.CallTimeout, err = getEnvDuration("PROVIDER_TIMEOUT", c.Fallback.CallTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Notify.Throttle, err = getEnvDuration("ALERT_THROTTLE", c.Notify.Throttle); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if !c.Mode.Valid() {
		errs = append(errs, fmt.Errorf("mode must be paper or live, got %q", c.Mode))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Mode == model.ModeLive && !c.Dhan.Configured() {
		errs = append(errs, fmt.Errorf("live mode needs DHAN_CLIENT_ID and an access token or PIN + TOTP secret"))
	}
	if len(c.Providers.Order) == 0 {
		errs = append(errs, fmt.Errorf("providers.order is empty"))
	}
	seen := make(map[string]bool)
	for _, name := range c.Providers.Order {
		switch name {
		case "dhan", "nse", "yahoo":
		default:
			errs = append(errs, fmt.Errorf("unknown provider %q", name))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("provider %q listed twice", name))
		}
		seen[name] = true
	}
	if err := c.Indicator.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := strategy.Build(c.Strategy, c.Indicator); err != nil {
		errs = append(errs, err)
	}
	if lot := c.Runner.Instrument.LotSize; lot > 0 && c.Strategy.Qty%lot != 0 {
		errs = append(errs, fmt.Errorf("strategy qty %d is not a multiple of lot size %d", c.Strategy.Qty, lot))
	}
	if err := c.Runner.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Runner.TradeOptions {
		if err := c.Options.Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.Runner.Instrument.NSESymbol == "" && c.Runner.Instrument.DhanSecurityID == "" {
			errs = append(errs, fmt.Errorf("trade_options needs a dhan security id or NSE symbol for %s", c.Runner.Instrument.Symbol))
		}
	}
	if c.Paper.SlippageBps < 0 {
		errs = append(errs, fmt.Errorf("paper slippage must be >= 0"))
	}
	if c.SQLite.Path == "" {
		errs = append(errs, fmt.Errorf("sqlite path is required"))
	}
	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, fmt.Errorf("telegram needs both bot token and chat id"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		} else {
			log.Printf("[config] skipping empty list entry in %q", s)
		}
	}
	return out
}
