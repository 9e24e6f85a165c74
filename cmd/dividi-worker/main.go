package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"dividi/internal/amqp"
	"dividi/internal/backend"
	"dividi/internal/cli"
	"dividi/internal/core"
	"dividi/internal/log"
	"dividi/internal/metrics"
	"dividi/internal/rates"
	"dividi/internal/services"
	"dividi/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentWorker)
	cli.MustValidate(logger, cfg.ValidateWorker)

	logger.Info("Starting dividi-worker")

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	factory := backend.NewFactory(logger)
	res, err := factory.CreateStore(bcfg)
	if err != nil {
		logger.Error("Failed to initialize store", log.FieldError, err.Error(), "backend", bcfg.Type.String())
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Store cleanup failed", log.FieldError, err.Error())
		}
	}()

	ctx, stop := cli.SignalContext()
	defer stop()

	// Google Sheets export is optional
	writer, err := factory.CreateReportWriter(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err.Error())
		os.Exit(1)
	}
	if writer.Writer == nil {
		logger.Info("Google Sheets export disabled")
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer client.Close()

	var source rates.Provider = rates.StaticProvider
	if cfg.RatesURL != "" {
		source = rates.NewHTTPProvider(cfg.RatesURL, cfg.RatesTimeout, logger)
	}

	m := metrics.New()
	ledger := services.NewLedgerService(res.Store, rates.NewCached(source, cfg.RatesRefreshInterval), services.LedgerConfig{
		DefaultCurrency: core.Currency(cfg.DisplayCurrency),
		CacheSize:       cfg.ReportCacheSize,
		CacheTTL:        cfg.ReportCacheTTL,
		Observer:        m.ObserveLedger,
	}, logger)
	processor := services.NewEventProcessor(res.Store, ledger, writer.Writer, services.EventProcessorConfig{
		ExportTimeout: cfg.ExportTimeout,
	}, logger)
	w := worker.NewLedgerWorker(client, processor, m, cfg.WorkerPrefetch, logger)

	// Health and metrics for the orchestrator.
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	probe := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		if err := probe.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return probe.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
