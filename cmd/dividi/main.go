package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"dividi/internal/amqp"
	"dividi/internal/auth"
	"dividi/internal/backend"
	"dividi/internal/cache"
	"dividi/internal/cli"
	"dividi/internal/core"
	apphttp "dividi/internal/http"
	"dividi/internal/log"
	"dividi/internal/metrics"
	"dividi/internal/rates"
	"dividi/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentApp)
	cli.MustValidate(logger, cfg.Validate)

	m := metrics.New()

	// Choose data backend (default: memory).
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateStore(bcfg)
	if err != nil {
		logger.Error("Failed to initialize store", log.FieldError, err.Error(), "backend", bcfg.Type.String())
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Store cleanup failed", log.FieldError, err.Error())
		}
	}()

	// Exchange rates: live source behind a cache when configured.
	var source rates.Provider = rates.StaticProvider
	if cfg.RatesURL != "" {
		source = rates.NewHTTPProvider(cfg.RatesURL, cfg.RatesTimeout, logger)
	}
	ratesCache := rates.NewCached(source, cfg.RatesRefreshInterval, cache.WithObserver(m.CacheObserver("rates")))

	ledger := services.NewLedgerService(res.Store, ratesCache, services.LedgerConfig{
		DefaultCurrency: core.Currency(cfg.DisplayCurrency),
		CacheSize:       cfg.ReportCacheSize,
		CacheTTL:        cfg.ReportCacheTTL,
		CacheOptions:    []cache.Option{cache.WithObserver(m.CacheObserver("reports"))},
		Observer:        m.ObserveLedger,
	}, logger)

	caches := cache.NewManager(logger)
	caches.Register(ledger.Cache())
	caches.Register(ratesCache)
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	// Ledger events go to the broker only when one is configured.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer client.Close()
		publisher = client
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	expenses := services.NewExpenseService(res.Store, publisher, ledger, logger)
	expenses.OnPublish = m.EventPublished

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:    res.Store,
		Auth:     auth.NewService(res.Store, issuer, logger),
		Issuer:   issuer,
		Groups:   services.NewGroupService(res.Store, ledger, logger),
		Expenses: expenses,
		Ledger:   ledger,
		Metrics:  m,
		Logger:   logger,
	}, apphttp.Options{
		CORSOrigins:   cfg.CORSOrigins,
		RatePerMinute: cfg.RateLimit,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := cli.SignalContext()
	defer stop()

	if cfg.RatesURL != "" {
		refresher := rates.NewRefresher(ratesCache, cfg.RatesRefreshInterval, logger)
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting dividi server", "port", cfg.Port, "backend", bcfg.Type.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
