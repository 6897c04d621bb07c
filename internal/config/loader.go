package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KALSHIBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// Assets in the file replace the default asset list instead of
		// merging into it element by element.
		var probe struct {
			Assets []AssetConfig `toml:"assets"`
		}
		md, err := toml.DecodeFile(path, &probe)
		if err != nil {
			return nil, err
		}
		if md.IsDefined("assets") {
			cfg.Assets = nil
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
		for i := range cfg.Assets {
			cfg.Assets[i] = withAssetDefaults(cfg.Assets[i])
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// withAssetDefaults fills fields an [[assets]] table left unset.
func withAssetDefaults(a AssetConfig) AssetConfig {
	if a.Cadence == "" {
		a.Cadence = "15m"
	}
	if a.Strategy == "" {
		a.Strategy = "technical"
	}
	if a.Quantity == 0 {
		a.Quantity = 1
	}
	if a.PollInterval.Duration == 0 {
		a.PollInterval = duration{10 * time.Second}
	}
	return a
}

// applyEnvOverrides reads well-known KALSHIBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setStr(&cfg.Kalshi.APIKey, "KALSHIBOT_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RSAPrivateKeyPath, "KALSHIBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.EncryptedKeyPath, "KALSHIBOT_KALSHI_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Kalshi.KeyPassword, "KALSHIBOT_KALSHI_KEY_PASSWORD")
	setStr(&cfg.Kalshi.BaseURL, "KALSHIBOT_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WSURL, "KALSHIBOT_KALSHI_WS_URL")
	setBool(&cfg.Kalshi.UseWS, "KALSHIBOT_KALSHI_USE_WS")

	// ── Price feed ──
	setStr(&cfg.PriceFeed.BaseURL, "KALSHIBOT_PRICE_FEED_BASE_URL")
	setStr(&cfg.PriceFeed.CandleInterval, "KALSHIBOT_PRICE_FEED_CANDLE_INTERVAL")
	setInt(&cfg.PriceFeed.CandleLimit, "KALSHIBOT_PRICE_FEED_CANDLE_LIMIT")

	// ── Trading ──
	setFloat64(&cfg.Trading.ProfitTarget, "KALSHIBOT_TRADING_PROFIT_TARGET")
	setInt(&cfg.Trading.MaxArbitragePerPeriod, "KALSHIBOT_TRADING_MAX_ARBITRAGE_PER_PERIOD")
	setInt(&cfg.Trading.MaxTechnicalPerPeriod, "KALSHIBOT_TRADING_MAX_TECHNICAL_PER_PERIOD")
	setDuration(&cfg.Trading.StaleAfter, "KALSHIBOT_TRADING_STALE_AFTER")
	setDuration(&cfg.Trading.CounterRetention, "KALSHIBOT_TRADING_COUNTER_RETENTION")
	setFloat64Slice(&cfg.Trading.VolatilityTiers, "KALSHIBOT_TRADING_VOLATILITY_TIERS")
	setInt(&cfg.Trading.MaxRetries, "KALSHIBOT_TRADING_MAX_RETRIES")
	setFloat64(&cfg.Trading.MinMinutesToExpiry, "KALSHIBOT_TRADING_MIN_MINUTES_TO_EXPIRY")
	setFloat64(&cfg.Trading.TakerFeeRate, "KALSHIBOT_TRADING_TAKER_FEE_RATE")
	setFloat64(&cfg.Trading.StopLossPct, "KALSHIBOT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.NormalizationBand, "KALSHIBOT_TRADING_NORMALIZATION_BAND")
	setFloat64(&cfg.Trading.StrikeStopPct, "KALSHIBOT_TRADING_STRIKE_STOP_PCT")
	setFloat64(&cfg.Trading.MinEdge, "KALSHIBOT_TRADING_MIN_EDGE")
	setDuration(&cfg.Trading.QuoteMaxAge, "KALSHIBOT_TRADING_QUOTE_MAX_AGE")
	setInt(&cfg.Trading.SummaryEvery, "KALSHIBOT_TRADING_SUMMARY_EVERY")

	// ── Technical ──
	setFloat64(&cfg.Technical.StrikeGapPct, "KALSHIBOT_TECHNICAL_STRIKE_GAP_PCT")
	setFloat64(&cfg.Technical.MinMinutes, "KALSHIBOT_TECHNICAL_MIN_MINUTES")
	setFloat64(&cfg.Technical.Threshold, "KALSHIBOT_TECHNICAL_THRESHOLD")

	// ── Paper ──
	setFloat64(&cfg.Paper.StartingBalance, "KALSHIBOT_PAPER_STARTING_BALANCE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KALSHIBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KALSHIBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "KALSHIBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KALSHIBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KALSHIBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KALSHIBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KALSHIBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KALSHIBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KALSHIBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KALSHIBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KALSHIBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KALSHIBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KALSHIBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KALSHIBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KALSHIBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KALSHIBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KALSHIBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KALSHIBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KALSHIBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KALSHIBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KALSHIBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "KALSHIBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KALSHIBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KALSHIBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KALSHIBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KALSHIBOT_S3_FORCE_PATH_STYLE")

	// ── Trade log ──
	setBool(&cfg.TradeLog.Enabled, "KALSHIBOT_TRADE_LOG_ENABLED")
	setStr(&cfg.TradeLog.Dir, "KALSHIBOT_TRADE_LOG_DIR")
	setBool(&cfg.TradeLog.Archive, "KALSHIBOT_TRADE_LOG_ARCHIVE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KALSHIBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KALSHIBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "KALSHIBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "KALSHIBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "KALSHIBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KALSHIBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KALSHIBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KALSHIBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KALSHIBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KALSHIBOT_MODE")
	setStr(&cfg.LogLevel, "KALSHIBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		cleaned := splitList(v)
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setFloat64Slice replaces dst only when every element parses.
func setFloat64Slice(dst *[]float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return
		}
		out = append(out, f)
	}
	if len(out) > 0 {
		*dst = out
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
