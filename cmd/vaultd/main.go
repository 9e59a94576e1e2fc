package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"perpvault/config"
	"perpvault/gov"
	"perpvault/observability/logging"
	"perpvault/oracle"
	"perpvault/rpc"
	"perpvault/state"
	"perpvault/storage"
	"perpvault/vault"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	logger := logging.Setup("vaultd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	agg := oracle.NewAggregator(cfg.OracleSampleSpace, time.Duration(cfg.OracleMaxAgeSeconds)*time.Second)
	if raw := strings.TrimSpace(cfg.MaxStrictPriceDeviation); raw != "" {
		deviation, err := vault.ParseUsd(raw)
		if err != nil {
			logger.Error("Failed to parse strict price deviation", slog.Any("error", err))
			os.Exit(1)
		}
		agg.SetMaxStrictDeviation(deviation)
	}

	// Prices arrive through the operator submission endpoint.
	feed := oracle.NewManualFeed()
	var secondaryFeed *oracle.ManualFeed
	if cfg.SecondaryMaxDeviationBps > 0 {
		secondaryFeed = oracle.NewManualFeed()
		agg.SetSecondary(oracle.NewFeedSecondary(secondaryFeed), cfg.SecondaryMaxDeviationBps)
	}

	manager := state.NewManager(db)
	if err := registerPersistedFeeds(manager, agg, feed); err != nil {
		logger.Error("Failed to restore token feeds", slog.Any("error", err))
		os.Exit(1)
	}

	engine := vault.NewEngine(cfg.CustodyAccount)
	engine.SetState(manager)
	engine.SetOracle(agg)
	engine.SetFees(vault.FeeParams{
		SwapFeeBps:        cfg.SwapFeeBps,
		StableSwapFeeBps:  cfg.StableSwapFeeBps,
		MarginFeeBps:      cfg.MarginFeeBps,
		LiquidationFeeUsd: vault.UsdFromWhole(cfg.LiquidationFeeUsd),
	})
	engine.SetFundingParams(vault.FundingParams{
		IntervalSeconds: cfg.FundingIntervalSeconds,
		RateFactor:      cfg.FundingRateFactor,
	})
	engine.SetMaxLeverage(cfg.MaxLeverage)

	timelock := gov.NewTimelock(engine, cfg.Governor, time.Duration(cfg.TimelockDelaySeconds)*time.Second)

	var maxGasPrice uint64
	if cfg.MaxGasPrice > 0 {
		maxGasPrice = uint64(cfg.MaxGasPrice)
	}
	server, err := rpc.NewServer(rpc.Config{
		Engine:            engine,
		Timelock:          timelock,
		Logger:            logger,
		MaxGasPrice:       maxGasPrice,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Prices:            agg,
		Feed:              feed,
		SecondaryFeed:     secondaryFeed,
	})
	if err != nil {
		logger.Error("Failed to build rpc server", slog.Any("error", err))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vault daemon listening", slog.String("address", cfg.ListenAddress))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}

// registerPersistedFeeds re-attaches the manual feed to every whitelisted
// token after a restart, so quoting resumes as soon as the operator submits
// fresh prices.
func registerPersistedFeeds(manager *state.Manager, agg *oracle.Aggregator, feed *oracle.ManualFeed) error {
	tokens, err := manager.TokenList()
	if err != nil {
		return err
	}
	for _, symbol := range tokens {
		cfg, err := manager.GetTokenConfig(symbol)
		if err != nil {
			return err
		}
		if cfg == nil || !cfg.Whitelisted {
			continue
		}
		agg.RegisterFeed(symbol, feed, cfg.StrictStable)
	}
	return nil
}
