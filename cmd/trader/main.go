// Package main runs the live weather bracket trader: market-data feed,
// periodic trading cycle, settlement sweep, pending-trade sweep, and the
// metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/gopher-lab/weathertrader/internal/config"
	"github.com/gopher-lab/weathertrader/internal/cycle"
	"github.com/gopher-lab/weathertrader/internal/exec"
	"github.com/gopher-lab/weathertrader/internal/feed"
	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/internal/logging"
	"github.com/gopher-lab/weathertrader/internal/notify"
	"github.com/gopher-lab/weathertrader/internal/queue"
	"github.com/gopher-lab/weathertrader/internal/reconcile"
	"github.com/gopher-lab/weathertrader/internal/risk"
	"github.com/gopher-lab/weathertrader/internal/settle"
	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/internal/weather"
	"github.com/gopher-lab/weathertrader/pkg/domain"
	"github.com/gopher-lab/weathertrader/pkg/kalshi"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogPretty)

	if err := cfg.ValidateCredentials(); err != nil {
		logger.Fatal().Err(err).Msg("exchange credentials missing")
	}
	signingKey, err := kalshi.ParseSigningKeyString(cfg.PrivateKeyPEM)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse signing key")
	}
	if signingKey.IsEC() {
		logger.Warn().Msg("EC signing key: the exchange documents RSA-PSS only")
	}

	st, err := store.Open(cfg.DatabasePath, logging.Component(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("open database")
	}
	defer st.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis unreachable")
	}

	demoMode := cfg.DemoMode || cfg.Settings.DemoMode
	restOpts := []kalshi.Option{kalshi.WithLogger(logging.Component(logger, "kalshi"))}
	wsURL := kalshi.ProdWSURL
	if demoMode {
		restOpts = append(restOpts, kalshi.WithDemo())
		wsURL = kalshi.DemoWSURL
		logger.Warn().Msg("running against the demo exchange")
	}
	client := kalshi.NewClient(cfg.APIKey, signingKey, restOpts...)

	cache := feed.NewPriceCache(redisClient, cfg.CacheTTL(), logging.Component(logger, "cache"))

	cities := make([]domain.City, 0, len(cfg.Settings.ActiveCities))
	for _, s := range cfg.Settings.ActiveCities {
		city, err := domain.ParseCity(s)
		if err != nil {
			logger.Warn().Str("city", s).Msg("ignoring unknown active city")
			continue
		}
		cities = append(cities, city)
	}
	if len(cities) == 0 {
		logger.Fatal().Msg("no valid active cities configured")
	}

	consumer := feed.NewConsumer(client, nil, cache, cities, cfg.RefreshInterval(),
		logging.Component(logger, "feed"))
	ws := kalshi.NewWSClient(wsURL, cfg.APIKey, signingKey,
		logging.Component(logger, "ws"), consumer.HandleMessage)
	consumer.SetSubscriber(ws)

	feedRunner := feed.NewRunner(ws, consumer, cache,
		func() bool { return cfg.APIKey != "" }, time.Minute,
		logging.Component(logger, "feed"))
	go feedRunner.Run(ctx)

	notifier := notify.New(cfg.WebhookURL, cfg.Settings.NotificationsEnabled,
		logging.Component(logger, "notify"))

	riskManager := risk.NewManager(st, risk.Limits{
		MaxTradeSizeCents:      int64(cfg.Settings.MaxTradeSizeCents),
		MaxDailyExposureCents:  int64(cfg.Settings.MaxDailyExposureCents),
		DailyLossLimitCents:    int64(cfg.Settings.DailyLossLimitCents),
		MinEVThreshold:         cfg.Settings.MinEVThreshold,
		CooldownPerLossMinutes: cfg.Settings.CooldownPerLossMinutes,
		ConsecutiveLossLimit:   cfg.Settings.ConsecutiveLossLimit,
	}, logging.Component(logger, "risk"))

	provider := weather.NewProvider(logging.Component(logger, "weather"))
	runner := cycle.NewRunner(cfg.UserID, cfg.Settings, cycle.Deps{
		Observations: provider,
		Settlements:  provider,
		Balance:      client,
		Engine:       forecast.NewEngine(st, nil, cfg.ModelBlendWeight, logging.Component(logger, "forecast")),
		Cache:        cache,
		Risk:         riskManager,
		Queue:        queue.New(st, logging.Component(logger, "queue")),
		Executor:     exec.New(client, st, logging.Component(logger, "exec")),
		Settler:      settle.NewEngine(st, riskManager, logging.Component(logger, "settle")),
		Store:        st,
		Notifier:     notifier,
	}, logging.Component(logger, "cycle"))

	scheduler := cron.New()
	cycleSpec := fmt.Sprintf("@every %dm", cfg.CycleMinutes)
	if _, err := scheduler.AddFunc(cycleSpec, func() { runner.TradingCycle(ctx) }); err != nil {
		logger.Fatal().Err(err).Msg("schedule trading cycle")
	}
	if _, err := scheduler.AddFunc("@every 30m", func() { runner.SettlementSweep(ctx) }); err != nil {
		logger.Fatal().Err(err).Msg("schedule settlement sweep")
	}
	if _, err := scheduler.AddFunc("@every 5m", func() { runner.QueueSweep(ctx) }); err != nil {
		logger.Fatal().Err(err).Msg("schedule queue sweep")
	}
	reconciler := reconcile.New(client, st, logging.Component(logger, "reconcile"))
	if _, err := scheduler.AddFunc("@every 1h", func() {
		if summary, err := reconciler.Run(ctx, cfg.UserID); err != nil {
			logger.Error().Err(err).Msg("reconciliation failed")
		} else if summary.Synced > 0 || summary.Failed > 0 {
			logger.Info().Int("synced", summary.Synced).Int("skipped", summary.Skipped).
				Int("failed", summary.Failed).Msg("reconciliation complete")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("schedule reconciliation")
	}
	scheduler.Start()
	defer scheduler.Stop()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().Str("user", cfg.UserID).Str("mode", cfg.Settings.TradingMode).
		Bool("demo", demoMode).Int("cities", len(cities)).Msg("trader started")

	// First cycle immediately rather than waiting for the schedule.
	runner.TradingCycle(ctx)

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics shutdown")
	}
	if err := ws.Close(); err != nil {
		logger.Warn().Err(err).Msg("websocket close")
	}
}
