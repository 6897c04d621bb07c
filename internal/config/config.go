// Package config defines the top-level configuration for the Kalshi bot and
// provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KALSHIBOT_* environment variables.
type Config struct {
	Kalshi    KalshiConfig    `toml:"kalshi"`
	PriceFeed PriceFeedConfig `toml:"price_feed"`
	Trading   TradingConfig   `toml:"trading"`
	Technical TechnicalConfig `toml:"technical"`
	Paper     PaperConfig     `toml:"paper"`
	Assets    []AssetConfig   `toml:"assets"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	TradeLog  TradeLogConfig  `toml:"trade_log"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API credentials and endpoints. The RSA
// key is read from RSAPrivateKeyPath, or decrypted from EncryptedKeyPath with
// KeyPassword.
type KalshiConfig struct {
	APIKey            string `toml:"api_key"`
	RSAPrivateKeyPath string `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	BaseURL           string `toml:"base_url"`
	WSURL             string `toml:"ws_url"`
	UseWS             bool   `toml:"use_ws"`
}

// PriceFeedConfig points at the underlying price source.
type PriceFeedConfig struct {
	BaseURL        string `toml:"base_url"`
	CandleInterval string `toml:"candle_interval"`
	CandleLimit    int    `toml:"candle_limit"`
}

// TradingConfig holds execution, rate-limit and exit thresholds shared by
// every runner.
type TradingConfig struct {
	ProfitTarget          float64   `toml:"profit_target"`
	MaxArbitragePerPeriod int       `toml:"max_arbitrage_per_period"`
	MaxTechnicalPerPeriod int       `toml:"max_technical_per_period"`
	StaleAfter            duration  `toml:"stale_after"`
	CounterRetention      duration  `toml:"counter_retention"`
	VolatilityTiers       []float64 `toml:"volatility_tiers"`
	MaxRetries            int       `toml:"max_retries"`
	MinMinutesToExpiry    float64   `toml:"min_minutes_to_expiry"`
	TakerFeeRate          float64   `toml:"taker_fee_rate"`
	StopLossPct           float64   `toml:"stop_loss_pct"`
	NormalizationBand     float64   `toml:"normalization_band"`
	StrikeStopPct         float64   `toml:"strike_stop_pct"`
	MinEdge               float64   `toml:"min_edge"`
	QuoteMaxAge           duration  `toml:"quote_max_age"`
	SummaryEvery          int       `toml:"summary_every"`
}

// TechnicalConfig holds the decision engine thresholds.
type TechnicalConfig struct {
	StrikeGapPct   float64 `toml:"strike_gap_pct"`
	MinMinutes     float64 `toml:"min_minutes"`
	MinScore       float64 `toml:"min_score"`
	MinSignalGap   int     `toml:"min_signal_gap"`
	Threshold      float64 `toml:"threshold"`
	StrikeFloor    float64 `toml:"strike_floor"`
	TrendMin       float64 `toml:"trend_min"`
	TrendSpreadMin float64 `toml:"trend_spread_min"`
}

// PaperConfig configures the simulated exchange used in paper mode.
type PaperConfig struct {
	StartingBalance float64 `toml:"starting_balance"`
}

// AssetConfig defines one runner.
type AssetConfig struct {
	Name         string   `toml:"name"`
	Symbol       string   `toml:"symbol"`
	Series       string   `toml:"series"`
	Cadence      string   `toml:"cadence"`
	Strategy     string   `toml:"strategy"`
	Quantity     int      `toml:"quantity"`
	PollInterval duration `toml:"poll_interval"`
	Disabled     bool     `toml:"disabled"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN and
// host disables the database journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TradeLogConfig configures the CSV order-attempt log.
type TradeLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	// Archive uploads closed daily files to S3 when S3 is enabled.
	Archive bool `toml:"archive"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards /api and /ws when set.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per minute per client IP; it needs Redis.
	// Zero disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WSURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
			UseWS:   true,
		},
		PriceFeed: PriceFeedConfig{
			BaseURL:        "https://api.binance.com",
			CandleInterval: "1m",
			CandleLimit:    100,
		},
		Trading: TradingConfig{
			ProfitTarget:          0.05,
			MaxArbitragePerPeriod: 3,
			MaxTechnicalPerPeriod: 1,
			StaleAfter:            duration{2 * time.Hour},
			CounterRetention:      duration{4 * time.Hour},
			VolatilityTiers:       []float64{0.05, 0.10, 0.15, 0.20},
			MaxRetries:            3,
			MinMinutesToExpiry:    2,
			TakerFeeRate:          0.007,
			StopLossPct:           15,
			NormalizationBand:     0.02,
			StrikeStopPct:         0.05,
			MinEdge:               0.02,
			QuoteMaxAge:           duration{5 * time.Second},
			SummaryEvery:          30,
		},
		Technical: TechnicalConfig{
			StrikeGapPct:   0.015,
			MinMinutes:     5,
			MinScore:       8,
			MinSignalGap:   2,
			Threshold:      0.70,
			StrikeFloor:    0.75,
			TrendMin:       22,
			TrendSpreadMin: 3,
		},
		Paper: PaperConfig{
			StartingBalance: 1000,
		},
		Assets: []AssetConfig{
			{
				Name:         "BTC",
				Symbol:       "BTCUSDT",
				Series:       "KXBTC15M",
				Cadence:      "15m",
				Strategy:     "technical",
				Quantity:     1,
				PollInterval: duration{10 * time.Second},
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "kalshibot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "kalshibot-data",
			ForcePathStyle: true,
		},
		TradeLog: TradeLogConfig{
			Enabled: true,
			Dir:     "data/trades",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "partial_fill"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[string]bool{
	"arbitrage": true,
	"technical": true,
}

var validCadences = map[string]bool{
	"15m": true,
	"1h":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi: trading needs a signing key; paper and monitor read public data.
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if strings.EqualFold(c.Mode, "trade") {
		if c.Kalshi.APIKey == "" {
			errs = append(errs, "kalshi: api_key is required for mode trade")
		}
		if c.Kalshi.RSAPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
			errs = append(errs, "kalshi: either rsa_private_key_path or encrypted_key_path must be set for mode trade")
		}
	}
	if c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
		errs = append(errs, "kalshi: key_password is required when encrypted_key_path is set")
	}
	if c.Kalshi.UseWS && c.Kalshi.WSURL == "" {
		errs = append(errs, "kalshi: ws_url must not be empty when use_ws is set")
	}

	if c.PriceFeed.BaseURL == "" {
		errs = append(errs, "price_feed: base_url must not be empty")
	}
	if c.PriceFeed.CandleLimit < 30 || c.PriceFeed.CandleLimit > 1000 {
		errs = append(errs, fmt.Sprintf("price_feed: candle_limit must be 30-1000, got %d", c.PriceFeed.CandleLimit))
	}

	errs = append(errs, c.Trading.validate()...)

	if c.Technical.Threshold <= 0 || c.Technical.Threshold > 1 {
		errs = append(errs, "technical: threshold must be in (0, 1]")
	}
	if c.Technical.StrikeFloor < 0 || c.Technical.StrikeFloor > 1 {
		errs = append(errs, "technical: strike_floor must be in [0, 1]")
	}

	if strings.EqualFold(c.Mode, "paper") && c.Paper.StartingBalance <= 0 {
		errs = append(errs, "paper: starting_balance must be > 0")
	}

	enabled := 0
	seen := map[string]bool{}
	for i, a := range c.Assets {
		if a.Disabled {
			continue
		}
		enabled++
		prefix := fmt.Sprintf("assets[%d]", i)
		if a.Name == "" {
			errs = append(errs, prefix+": name must not be empty")
		} else if seen[a.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate asset name %q", prefix, a.Name))
		}
		seen[a.Name] = true
		if a.Symbol == "" || a.Series == "" {
			errs = append(errs, prefix+": symbol and series must be set")
		}
		if !validCadences[a.Cadence] {
			errs = append(errs, fmt.Sprintf("%s: unknown cadence %q (valid: 15m, 1h)", prefix, a.Cadence))
		}
		if !validStrategies[a.Strategy] {
			errs = append(errs, fmt.Sprintf("%s: unknown strategy %q (valid: arbitrage, technical)", prefix, a.Strategy))
		}
		if a.Quantity < 1 {
			errs = append(errs, prefix+": quantity must be >= 1")
		}
		if a.PollInterval.Duration < time.Second {
			errs = append(errs, prefix+": poll_interval must be >= 1s")
		}
	}
	if enabled == 0 {
		errs = append(errs, "assets: at least one enabled asset is required")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.TradeLog.Enabled && c.TradeLog.Dir == "" {
		errs = append(errs, "trade_log: dir must not be empty")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (t TradingConfig) validate() []string {
	var errs []string
	if t.ProfitTarget <= 0 {
		errs = append(errs, "trading: profit_target must be > 0")
	}
	if t.MaxArbitragePerPeriod < 1 || t.MaxTechnicalPerPeriod < 1 {
		errs = append(errs, "trading: max positions per period must be >= 1")
	}
	if t.StaleAfter.Duration <= 0 {
		errs = append(errs, "trading: stale_after must be > 0")
	}
	if t.CounterRetention.Duration < time.Hour {
		errs = append(errs, "trading: counter_retention must be >= 1h")
	}
	if len(t.VolatilityTiers) != 4 {
		errs = append(errs, fmt.Sprintf("trading: volatility_tiers must have 4 entries, got %d", len(t.VolatilityTiers)))
	} else if !sort.Float64sAreSorted(t.VolatilityTiers) {
		errs = append(errs, "trading: volatility_tiers must be ascending")
	}
	if t.MaxRetries < 1 {
		errs = append(errs, "trading: max_retries must be >= 1")
	}
	if t.MinMinutesToExpiry < 0 {
		errs = append(errs, "trading: min_minutes_to_expiry must be >= 0")
	}
	if t.TakerFeeRate < 0 || t.TakerFeeRate >= 0.5 {
		errs = append(errs, "trading: taker_fee_rate must be in [0, 0.5)")
	}
	if t.StopLossPct <= 0 || t.StopLossPct >= 100 {
		errs = append(errs, "trading: stop_loss_pct must be in (0, 100)")
	}
	if t.MinEdge < 0 || t.MinEdge >= 1 {
		errs = append(errs, "trading: min_edge must be in [0, 1)")
	}
	return errs
}

// EnabledAssets returns the assets not marked disabled.
func (c *Config) EnabledAssets() []AssetConfig {
	var out []AssetConfig
	for _, a := range c.Assets {
		if !a.Disabled {
			out = append(out, a)
		}
	}
	return out
}
