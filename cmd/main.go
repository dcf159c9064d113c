// Command treasury-engine runs the secure treasury trading engine. It keeps
// signing keys in an encrypted vault, opens and closes positions through a
// trading orchestrator and watches the open book with a position monitor.
//
// Usage:
//
//	treasury-engine --config config.yaml
//	treasury-engine --setup (interactive configuration wizard)
//
// Required environment variables:
//
//	TREASURY_MASTER_SECRET: passphrase for the wallet vault
//	For Binance price feed: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit price feed: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"treasury-engine/config"
	"treasury-engine/internal/clients"
	"treasury-engine/internal/domain"
	"treasury-engine/internal/ledger"
	"treasury-engine/internal/monitor"
	"treasury-engine/internal/orchestrator"
	"treasury-engine/internal/risk"
	"treasury-engine/internal/services/execution"
	"treasury-engine/internal/services/pricefeed"
	"treasury-engine/internal/setup"
	"treasury-engine/internal/vault"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	setupMode := flag.Bool("setup", false, "run the interactive configuration wizard")
	flag.Parse()

	_ = godotenv.Load()

	if *setupMode {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		*configPath = "config.gen.yaml"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	masterSecret, err := config.MasterSecret()
	if err != nil {
		logger.Fatal("vault secret missing", zap.Error(err))
	}

	audit, err := ledger.NewAuditLog(filepath.Join(cfg.DataDir, "audit"))
	if err != nil {
		logger.Fatal("audit log init failed", zap.Error(err))
	}
	defer audit.Close()

	wv, err := vault.New(filepath.Join(cfg.DataDir, "vault"), masterSecret, logger, vault.WithAuditor(audit))
	if err != nil {
		logger.Fatal("vault init failed", zap.Error(err))
	}

	treasury, err := ensureTreasury(wv, logger)
	if err != nil {
		logger.Fatal("treasury wallet init failed", zap.Error(err))
	}

	var storeOpts []ledger.StoreOption
	if cfg.LegacyPositions != "" {
		storeOpts = append(storeOpts, ledger.WithLegacyPositions(cfg.LegacyPositions))
	}
	if cfg.LegacyHistory != "" {
		storeOpts = append(storeOpts, ledger.WithLegacyHistory(cfg.LegacyHistory))
	}
	store, err := ledger.NewStore(filepath.Join(cfg.DataDir, "ledger"), storeOpts...)
	if err != nil {
		logger.Fatal("ledger store init failed", zap.Error(err))
	}
	led, err := ledger.New(store, logger)
	if err != nil {
		logger.Fatal("ledger init failed", zap.Error(err))
	}

	feed, err := buildFeed(cfg, logger)
	if err != nil {
		logger.Fatal("price feed init failed", zap.Error(err))
	}

	var venue execution.Venue
	if cfg.AggregatorURL != "" && !cfg.DryRun {
		venue, err = execution.NewAggregatorVenue(cfg.AggregatorURL, wv, cfg.PriceTimeout, logger)
		if err != nil {
			logger.Fatal("aggregator venue init failed", zap.Error(err))
		}
	} else {
		venue = execution.NewSimulatedVenue(cfg.Slippage, logger)
	}

	portfolio := func(context.Context) (decimal.Decimal, error) {
		rec, err := wv.GetWallet(treasury)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if rec.CachedBalance.IsPositive() {
			return rec.CachedBalance, nil
		}
		return cfg.PortfolioUSD, nil
	}

	engine := risk.NewEngine()
	orch, err := orchestrator.New(orchestrator.Config{
		AdminIDs:        cfg.AdminIDs,
		RiskTier:        cfg.RiskTier,
		Limits:          cfg.Limits,
		DryRun:          cfg.DryRun,
		TreasuryAddress: treasury,
	}, led, audit, engine, feed, venue, portfolio, logger)
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	mon := monitor.New(led, feed, engine, orch, cfg.Limits, logger,
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithCooldown(cfg.AlertCooldown),
		monitor.WithStaleAfter(cfg.StaleAfter),
	)
	mon.Subscribe(func(_ context.Context, a monitor.Alert) error {
		logger.Info("alert",
			zap.String("type", string(a.Type)),
			zap.String("position_id", a.PositionID),
			zap.String("symbol", a.Symbol),
			zap.String("message", a.Message))
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("treasury engine started",
		zap.String("platform", cfg.Platform),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("risk_tier", string(cfg.RiskTier)),
		zap.String("treasury", treasury))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("engine stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// ensureTreasury returns the treasury wallet address, creating the wallet on
// first run.
func ensureTreasury(wv *vault.Vault, logger *zap.Logger) (string, error) {
	rec, err := wv.GetTreasury()
	if err == nil {
		return rec.Address, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return "", err
	}

	rec, err = wv.CreateWallet("treasury", true)
	if err != nil {
		return "", err
	}
	logger.Info("created treasury wallet", zap.String("address", rec.Address))
	return rec.Address, nil
}

func buildFeed(cfg *config.Config, logger *zap.Logger) (pricefeed.PriceFeed, error) {
	switch cfg.Platform {
	case "binance":
		apiKey := os.Getenv("BINANCE_API_KEY")
		apiSecret := os.Getenv("BINANCE_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			return nil, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
		return pricefeed.NewBinanceFeed(clients.NewBinanceClient(apiKey, apiSecret)), nil
	case "bybit":
		apiKey := os.Getenv("BYBIT_API_KEY")
		apiSecret := os.Getenv("BYBIT_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			return nil, errors.New("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
		return pricefeed.NewBybitFeed(clients.NewBybitClient(apiKey, apiSecret)), nil
	case "hyperliquid":
		primary := pricefeed.NewHyperliquidFeed(clients.NewHyperliquidInfo(""))
		// binance public tickers need no key and back up the primary feed
		backup := pricefeed.NewBinanceFeed(clients.NewBinanceClient("", ""))
		return pricefeed.NewFallbackFeed(logger, primary, backup), nil
	case "static":
		return pricefeed.NewStaticFeed(), nil
	default:
		return nil, errors.Errorf("unsupported platform %q", cfg.Platform)
	}
}
