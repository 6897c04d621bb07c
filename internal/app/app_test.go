package app

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/platform/paper"
	"github.com/alanyoungcy/kalshibot/internal/technical"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// offline returns a paper config with every networked sink disabled.
func offline() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.Postgres.Enabled = false
	cfg.Redis.Enabled = false
	cfg.S3.Enabled = false
	cfg.TradeLog.Enabled = false
	cfg.Server.Enabled = false
	cfg.Kalshi.UseWS = false
	return &cfg
}

func TestRunnerConfigMapsAsset(t *testing.T) {
	cfg := offline()
	cfg.Mode = "monitor"
	cfg.Trading.QuoteMaxAge.Duration = 3 * time.Second
	asset := config.AssetConfig{
		Name: "ETH", Symbol: "ETHUSDT", Series: "KXETH", Cadence: "1h",
		Strategy: "arbitrage", Quantity: 4,
	}
	asset.PollInterval.Duration = 7 * time.Second

	rc := runnerConfig(cfg, asset)
	if rc.Asset != "ETH" || rc.Series != "KXETH" || rc.Cadence != domain.Cadence1h || rc.Strategy != domain.StrategyArbitrage {
		t.Fatalf("identity = %+v", rc)
	}
	if rc.Quantity != 4 || rc.PollInterval != 7*time.Second || rc.QuoteMaxAge != 3*time.Second {
		t.Fatalf("tuning = %+v", rc)
	}
	if !rc.Monitor {
		t.Fatal("monitor mode did not set Monitor")
	}
	if runnerConfig(offline(), asset).Monitor {
		t.Fatal("paper mode set Monitor")
	}
}

func TestTechnicalParamsKeepUnconfiguredDefaults(t *testing.T) {
	cfg := offline()
	cfg.Technical.Threshold = 0.8
	p := technicalParams(cfg)
	def := technical.DefaultParams()
	if p.Threshold != 0.8 {
		t.Fatalf("threshold = %v", p.Threshold)
	}
	if p.VolatilityWindow != def.VolatilityWindow || p.DeltaPeriods != def.DeltaPeriods {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestExitParamsCopiesTiers(t *testing.T) {
	cfg := offline()
	p := exitParams(cfg)
	p.VolatilityTiers[0] = 99
	if cfg.Trading.VolatilityTiers[0] == 99 {
		t.Fatal("exit params alias the config tiers")
	}
	if p.Fees.TakerRate != cfg.Trading.TakerFeeRate {
		t.Fatalf("fee rate = %v", p.Fees.TakerRate)
	}
}

func TestWireOfflinePaper(t *testing.T) {
	cfg := offline()
	deps, cleanup, err := Wire(t.Context(), cfg, discard)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	if _, ok := deps.Exchange.(*paper.Exchange); !ok {
		t.Fatalf("paper mode exchange = %T", deps.Exchange)
	}
	if deps.Stream != nil || deps.Attempts != nil || deps.Locker != nil || len(deps.Checks) != 0 {
		t.Fatalf("disabled services wired: %+v", deps)
	}

	sinks := journalSinks(deps)
	if sinks.Attempts != nil || sinks.Positions != nil || sinks.TradeLog != nil {
		t.Fatal("disabled sinks must be untyped nil")
	}
	if sinks.Bus != deps.Hub {
		t.Fatal("without redis events go straight to the hub")
	}

	a := New(cfg, discard)
	runners := a.buildRunners(deps)
	if len(runners) != 1 || runners[0].Asset() != "BTC" {
		t.Fatalf("runners = %d", len(runners))
	}
}

func TestWireTradeModeKeepsLiveClient(t *testing.T) {
	cfg := offline()
	cfg.Mode = "trade"
	deps, cleanup, err := Wire(t.Context(), cfg, discard)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if deps.Exchange != deps.Kalshi {
		t.Fatalf("trade mode exchange = %T", deps.Exchange)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := offline()
	cfg.Mode = "backtest"
	if err := New(cfg, discard).Run(t.Context()); err == nil {
		t.Fatal("expected error")
	}
}

func TestWireFailsOnMissingKey(t *testing.T) {
	cfg := offline()
	cfg.Kalshi.RSAPrivateKeyPath = t.TempDir() + "/missing.pem"
	if _, _, err := Wire(t.Context(), cfg, discard); err == nil {
		t.Fatal("expected key load error")
	}
}
