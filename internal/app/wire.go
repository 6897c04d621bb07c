package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/kalshibot/internal/blob/s3"
	"github.com/alanyoungcy/kalshibot/internal/cache/redis"
	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/crypto"
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/notify"
	"github.com/alanyoungcy/kalshibot/internal/platform/binance"
	"github.com/alanyoungcy/kalshibot/internal/platform/kalshi"
	"github.com/alanyoungcy/kalshibot/internal/platform/paper"
	"github.com/alanyoungcy/kalshibot/internal/server/handler"
	"github.com/alanyoungcy/kalshibot/internal/server/ws"
	"github.com/alanyoungcy/kalshibot/internal/service"
	"github.com/alanyoungcy/kalshibot/internal/store/postgres"
	"github.com/alanyoungcy/kalshibot/internal/tradelog"
)

// Exchange is the full exchange surface shared by runners and executors.
type Exchange interface {
	ListMarkets(ctx context.Context, series, status string) ([]domain.MarketSnapshot, error)
	GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error)
	GetOrderbook(ctx context.Context, ticker string) (domain.Orderbook, error)
	GetBalance(ctx context.Context) (float64, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
}

// Dependencies bundles everything the runners and the API server share. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Exchange is the live client in trade and monitor mode and the
	// simulated exchange in paper mode.
	Exchange Exchange
	Kalshi   *kalshi.Client
	Feed     *binance.Client
	// Quotes and Stream are nil unless the websocket feed is enabled.
	Quotes *kalshi.QuoteBook
	Stream *kalshi.WSClient

	// Journal sinks; nil when the backing service is disabled.
	Attempts  *postgres.AttemptStore
	Positions *postgres.PositionStore
	Audit     *postgres.AuditStore
	Redis     *redis.Client
	Locker    domain.LockManager
	Limiter   *redis.RateLimiter
	EventBus  *redis.EventBus
	Blob      *s3blob.Writer
	TradeLog  *tradelog.Writer
	Notifier  *notify.Notifier

	Hub     *ws.Hub
	Journal *service.JournalService
	Checks  map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	fees := domain.FeeModel{TakerRate: cfg.Trading.TakerFeeRate}

	// --- Exchange ---
	deps.Kalshi = kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.APIKey)
	keyed := false
	if cfg.Kalshi.RSAPrivateKeyPath != "" || cfg.Kalshi.EncryptedKeyPath != "" {
		pemBytes, err := crypto.LoadKey(crypto.KeyConfig{
			PEMPath:          cfg.Kalshi.RSAPrivateKeyPath,
			EncryptedKeyPath: cfg.Kalshi.EncryptedKeyPath,
			KeyPassword:      cfg.Kalshi.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: kalshi key: %w", err))
		}
		if err := deps.Kalshi.SetRSAPrivateKey(pemBytes); err != nil {
			return fail(fmt.Errorf("wire: kalshi key: %w", err))
		}
		keyed = true
	}
	deps.Exchange = deps.Kalshi
	if cfg.Mode == modePaper {
		deps.Exchange = paper.New(deps.Kalshi, cfg.Paper.StartingBalance, fees)
	}
	deps.Feed = binance.NewClient(cfg.PriceFeed.BaseURL)

	if cfg.Kalshi.UseWS {
		if keyed {
			deps.Quotes = kalshi.NewQuoteBook()
			deps.Stream = kalshi.NewWSClient(cfg.Kalshi.WSURL, deps.Kalshi, deps.Quotes, logger)
			closers = append(closers, func() { _ = deps.Stream.Close() })
		} else {
			logger.Warn("wire: kalshi websocket needs an API key, falling back to REST quotes")
		}
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Attempts = postgres.NewAttemptStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.Locker = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blob = s3blob.NewWriter(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Trade log ---
	if cfg.TradeLog.Enabled {
		var opts []tradelog.Option
		if cfg.TradeLog.Archive && deps.Blob != nil {
			opts = append(opts, tradelog.WithArchive(deps.Blob, "trades"))
		}
		tl, err := tradelog.New(cfg.TradeLog.Dir, logger, opts...)
		if err != nil {
			return fail(fmt.Errorf("wire: trade log: %w", err))
		}
		closers = append(closers, func() {
			if err := tl.Close(context.Background()); err != nil {
				logger.Warn("wire: close trade log", slog.String("error", err.Error()))
			}
		})
		deps.TradeLog = tl
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Event fan-out ---
	deps.Hub = ws.NewHub(logger)
	deps.Journal = service.NewJournalService(journalSinks(deps), logger)

	return deps, cleanup, nil
}

// journalSinks converts the optional concrete sinks into interfaces, leaving
// disabled ones nil rather than typed-nil. Without Redis the hub receives
// events directly.
func journalSinks(deps *Dependencies) service.Sinks {
	var s service.Sinks
	if deps.Attempts != nil {
		s.Attempts = deps.Attempts
	}
	if deps.Positions != nil {
		s.Positions = deps.Positions
	}
	if deps.Audit != nil {
		s.Audit = deps.Audit
	}
	if deps.EventBus != nil {
		s.Bus = deps.EventBus
	} else if deps.Hub != nil {
		s.Bus = deps.Hub
	}
	if deps.TradeLog != nil {
		s.TradeLog = deps.TradeLog
	}
	if deps.Notifier != nil {
		s.Notifier = deps.Notifier
	}
	return s
}
