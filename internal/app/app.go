// Package app initializes and holds long-lived application services, acting
// as a dependency injection container. It is built once at startup, handed to
// the CLI commands, and closed after they finish.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/api"
	clocksystem "github.com/ftmlabs/bknmu-notifier/internal/clock/system"
	"github.com/ftmlabs/bknmu-notifier/internal/commands"
	"github.com/ftmlabs/bknmu-notifier/internal/config"
	"github.com/ftmlabs/bknmu-notifier/internal/dispatch"
	"github.com/ftmlabs/bknmu-notifier/internal/fetch"
	iduuid "github.com/ftmlabs/bknmu-notifier/internal/id/uuid"
	"github.com/ftmlabs/bknmu-notifier/internal/metrics"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
	"github.com/ftmlabs/bknmu-notifier/internal/parse"
	"github.com/ftmlabs/bknmu-notifier/internal/pipeline"
	"github.com/ftmlabs/bknmu-notifier/internal/storage/memory"
	"github.com/ftmlabs/bknmu-notifier/internal/storage/postgres"
	"github.com/ftmlabs/bknmu-notifier/internal/telegram"
	"github.com/ftmlabs/bknmu-notifier/internal/translate"
)

const (
	startupText  = "🤖 BKNMU notifier started. Watching for new circulars."
	shutdownText = "🛑 BKNMU notifier stopped."

	shutdownGrace = 10 * time.Second
)

// App holds the shared, long-lived services for the notifier: the delivery
// ledger, the translation chain, the Telegram client, the orchestrator, and
// the optional HTTP and command surfaces.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pgStores   *postgres.Stores
	deliveries notices.DeliveryStore
	cache      translate.TranslationCache
	cloud      *translate.CloudBackend
	client     *telegram.Client
	dispatcher *dispatch.Dispatcher
	orch       *pipeline.Orchestrator
	httpServer *http.Server
	listener   *commands.Listener
}

// New creates and initializes the App from configuration. It fails fast when
// a critical dependency (store, Telegram credentials) cannot be verified.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	translator := a.initTranslator(ctx)

	client, err := telegram.NewClient(telegram.Config{
		BotToken:          cfg.Telegram.BotToken,
		APIBaseURL:        cfg.Telegram.APIBaseURL,
		Timeout:           time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
		MessagesPerMinute: cfg.Telegram.MessagesPerMinute,
	})
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("build telegram client: %w", err)
	}
	a.client = client

	verifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	me, err := client.GetMe(verifyCtx)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("verify bot credentials: %w", err)
	}
	logger.Info("authenticated with Telegram", zap.String("bot", me.Username))

	initialDelay, maxDelay := cfg.ScrapeBackoff()
	fetcher := fetch.New(fetch.Config{
		UserAgent:          cfg.Scraper.UserAgent,
		Timeout:            cfg.ScrapeTimeout(),
		InsecureSkipVerify: cfg.Scraper.InsecureSkipVerify,
		Backoff:            notices.NewBackoff(cfg.Scraper.MaxRetries, initialDelay, maxDelay),
	}, logger.Named("fetch"))

	parser, err := parse.New(cfg.Scraper.BaseURL, logger.Named("parse"))
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("build parser: %w", err)
	}

	a.dispatcher, err = dispatch.New(client, dispatch.Config{
		ChatID:       cfg.Telegram.ChatID,
		ShowOriginal: cfg.Translate.ShowOriginal,
	}, logger.Named("dispatch"))
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	fromDate, err := cfg.FromDate()
	if err != nil {
		a.closePartial()
		return nil, err
	}
	a.orch, err = pipeline.New(
		fetcher,
		parser,
		translator,
		a.deliveries,
		a.dispatcher,
		clocksystem.New(),
		iduuid.New(),
		pipeline.Config{
			SourceURL:    cfg.CircularsURL(),
			Interval:     cfg.Interval(),
			CycleTimeout: cfg.CycleTimeout(),
			SendDelay:    cfg.SendDelay(),
			Concurrency:  cfg.Pipeline.Concurrency,
			FromDate:     fromDate,
		},
		logger.Named("pipeline"),
	)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	if cfg.Server.Enabled {
		server := api.NewServer(a.deliveries, a.orch, a.cache, api.Config{
			APIKey: cfg.Server.APIKey,
		}, logger.Named("api"))
		a.httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if cfg.Telegram.CommandsEnabled {
		a.listener, err = commands.New(client, a.orch, commands.Config{
			PollGap:      time.Duration(cfg.Telegram.CommandPollSeconds) * time.Second,
			ShowOriginal: cfg.Translate.ShowOriginal,
		}, logger.Named("commands"))
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("build command listener: %w", err)
		}
	}

	logger.Info("application services initialized",
		zap.String("store", cfg.Database.Provider),
		zap.Bool("api", cfg.Server.Enabled),
		zap.Bool("commands", cfg.Telegram.CommandsEnabled))
	return a, nil
}

// initStores builds the delivery ledger and translation cache behind the
// configured providers. Postgres opens one pool shared by both stores and
// runs migrations before first use.
func (a *App) initStores(ctx context.Context) error {
	switch a.cfg.Database.Provider {
	case "postgres":
		stores, err := postgres.Open(ctx, postgres.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        int32(a.cfg.Database.MaxConns),
			MinConns:        int32(a.cfg.Database.MinConns),
			MaxConnLifetime: a.cfg.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("open postgres stores: %w", err)
		}
		a.pgStores = stores
		a.deliveries = stores.Deliveries
	case "memory":
		a.logger.Info("using in-memory delivery store, dedup will not survive restarts")
		a.deliveries = memory.NewDeliveryStore()
	default:
		return fmt.Errorf("unknown database provider: %s", a.cfg.Database.Provider)
	}

	switch a.cfg.Translate.Cache {
	case "postgres":
		if a.pgStores == nil {
			return fmt.Errorf("translate.cache postgres requires the postgres database provider")
		}
		a.cache = a.pgStores.Cache
	default:
		a.cache = memory.NewTranslationCache(a.cfg.Translate.CacheSize)
	}
	return nil
}

// initTranslator assembles the backend chain: the paid API when a key is
// configured, the free endpoint as fallback. Without a key the fallback runs
// alone; with translation disabled titles pass through untouched.
func (a *App) initTranslator(ctx context.Context) notices.Translator {
	if !a.cfg.Translate.Enabled {
		a.logger.Info("translation disabled")
		return translate.Disabled{}
	}

	var backends []translate.Backend
	if a.cfg.Translate.APIKey != "" {
		cloud, err := translate.NewCloudBackend(ctx, a.cfg.Translate.APIKey)
		if err != nil {
			a.logger.Warn("cloud translation unavailable, using free endpoint only", zap.Error(err))
		} else {
			a.cloud = cloud
			backends = append(backends, cloud)
		}
	}
	backends = append(backends, translate.NewWebBackend(
		a.cfg.Translate.WebEndpoint,
		time.Duration(a.cfg.Translate.TimeoutSeconds)*time.Second,
	))

	return translate.NewService(backends, a.cache, nil, a.logger.Named("translate"))
}

// Run starts the daemon surfaces (HTTP API, command listener) and blocks in
// the poll loop until ctx is canceled or a surface fails fatally.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	if a.httpServer != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
		go func() {
			defer wg.Done()
			<-runCtx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.WithoutCancel(runCtx), shutdownGrace)
			defer shutCancel()
			if err := a.httpServer.Shutdown(shutCtx); err != nil {
				a.logger.Warn("http server shutdown", zap.Error(err))
			}
		}()
	}

	if a.listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.listener.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("command listener stopped", zap.Error(err))
			}
		}()
	}

	a.serviceMessage(runCtx, startupText)

	pollErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		pollErr <- a.orch.Run(runCtx)
	}()

	var runErr error
	select {
	case <-runCtx.Done():
	case runErr = <-errCh:
		cancel()
	}
	cancel()
	wg.Wait()

	if err := <-pollErr; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = err
	}

	goodbyeCtx, goodbyeCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer goodbyeCancel()
	a.serviceMessage(goodbyeCtx, shutdownText)

	return runErr
}

// RunOnce executes a single poll cycle.
func (a *App) RunOnce(ctx context.Context) (notices.CycleReport, error) {
	return a.orch.RunCycle(ctx)
}

// PurgeOlderThan removes delivery records made before the cutoff.
func (a *App) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.deliveries.PurgeOlderThan(ctx, cutoff)
}

// serviceMessage sends an operational announcement when those are enabled.
func (a *App) serviceMessage(ctx context.Context, text string) {
	if !a.cfg.Telegram.ServiceMessages {
		return
	}
	if err := a.dispatcher.ServiceMessage(ctx, text); err != nil {
		a.logger.Warn("service message failed", zap.Error(err))
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// DeliveryStore exposes the dedup ledger.
func (a *App) DeliveryStore() notices.DeliveryStore {
	return a.deliveries
}

// Orchestrator exposes the poll cycle coordinator.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return a.orch
}

// closePartial releases whatever New managed to open before failing.
func (a *App) closePartial() {
	if a.cloud != nil {
		if err := a.cloud.Close(); err != nil {
			a.logger.Warn("close cloud translation client", zap.Error(err))
		}
		a.cloud = nil
	}
	if a.pgStores != nil {
		a.pgStores.Close()
		a.pgStores = nil
	}
}

// Close gracefully shuts down all services in the container and flushes the
// logger. It is called by a Cobra hook after the command finishes.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.closePartial()
	_ = a.logger.Sync()
}
