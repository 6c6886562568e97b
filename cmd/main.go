// Command cryptick runs the trading pipeline: it scrapes market history
// into interval bars, evaluates entry/exit signals and manages the
// resulting orders. Binance and Bybit spot markets are supported; the bot
// is configured via a YAML file or command-line arguments and steered at
// runtime over the HTTP control API.
//
// Usage:
//
//	cryptick --config config.yaml
//	cryptick --markets BTC-LTC,BTC-ETH --balance 0.1
//
// Required environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cryptick/config"
	"cryptick/internal/coordinator"
	"cryptick/internal/entity"
	"cryptick/internal/exchange"
	"cryptick/internal/services/aggregator"
	"cryptick/internal/services/manager"
	"cryptick/internal/services/wallet"
	"cryptick/internal/storage"
	"cryptick/internal/storage/journal"
	"cryptick/internal/web"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	source, client, err := buildExchange(cfg)
	if err != nil {
		logger.Fatal("failed to build exchange client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink coordinator.BarSink
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		sink = pg
	}

	trades, err := journal.New(cfg.JournalDir)
	if err != nil {
		logger.Fatal("failed to open trade journal", zap.Error(err))
	}
	defer trades.Close()

	ledger := wallet.NewLedger(cfg.Markets[0].Base, cfg.InitialBalance)
	mgr := manager.New(client, ledger, cfg.OffsetPercent, cfg.MaxOpenDuration, logger)
	book := aggregator.NewBook(cfg.BarInterval, logger)

	coord := coordinator.New(coordinator.Config{
		Markets:           cfg.Markets,
		ScrapeInterval:    cfg.ScrapeInterval,
		OrderPollInterval: cfg.OrderPollInterval,
	}, source, book, cfg.Rules(), mgr, sink, trades, logger)

	// Scraping starts immediately; trading is armed over the control API.
	coord.Control(entity.ControlStart)

	server := web.NewServer(cfg.ListenAddr, coord, ledger, trades, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(ctx)
	})
	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return server.StartWithAutoTLS(ctx, cfg.TLSDomains, cfg.TLSCacheDir)
		}
		return server.Start(ctx)
	})

	logger.Info("pipeline started",
		zap.String("platform", cfg.Platform),
		zap.Int("markets", len(cfg.Markets)),
		zap.String("listen", cfg.ListenAddr))

	if err := g.Wait(); err != nil {
		logger.Fatal("pipeline failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildExchange(cfg config.Config) (exchange.MarketDataSource, exchange.Client, error) {
	switch cfg.Platform {
	case "binance":
		apiKey, apiSecret, err := credentials("BINANCE_API_KEY", "BINANCE_API_SECRET")
		if err != nil {
			return nil, nil, err
		}
		client := exchange.NewBinanceClient(apiKey, apiSecret)
		return exchange.NewBinanceSource(client), exchange.NewBinanceExchange(client), nil
	case "bybit":
		apiKey, apiSecret, err := credentials("BYBIT_API_KEY", "BYBIT_API_SECRET")
		if err != nil {
			return nil, nil, err
		}
		client := exchange.NewBybitClient(apiKey, apiSecret)
		return exchange.NewBybitSource(client), exchange.NewBybitExchange(client), nil
	default:
		return nil, nil, errors.Errorf("unsupported platform %q", cfg.Platform)
	}
}

func credentials(keyEnv, secretEnv string) (string, string, error) {
	apiKey := os.Getenv(keyEnv)
	apiSecret := os.Getenv(secretEnv)
	if apiKey == "" || apiSecret == "" {
		return "", "", errors.Errorf("%s and %s environment variables must be set", keyEnv, secretEnv)
	}
	return apiKey, apiSecret, nil
}
