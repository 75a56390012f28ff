package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"researchEngine/config"
	"researchEngine/internal/adapters/binanceclient"
	"researchEngine/internal/adapters/bridge"
	"researchEngine/internal/adapters/logger"
	"researchEngine/internal/adapters/notifier"
	"researchEngine/internal/adapters/postgres"
	"researchEngine/internal/adapters/sqlite"
	"researchEngine/internal/api"
	"researchEngine/internal/app"
	"researchEngine/internal/autotrade"
	"researchEngine/internal/crypto"
	"researchEngine/internal/domain"
	"researchEngine/internal/exchange"
	"researchEngine/internal/execution"
	"researchEngine/internal/margin"
	"researchEngine/internal/metrics"
	"researchEngine/internal/monitor"
	"researchEngine/internal/ports"
	"researchEngine/internal/pricecache"
	"researchEngine/internal/reconcile"
	"researchEngine/internal/risk"
	"researchEngine/internal/settings"
	"researchEngine/internal/strategy/signal"
)

const lotSizeTTL = time.Hour

// engine holds every wired component of one process.
type engine struct {
	cfg     *config.Config
	logger  ports.Logger
	metrics *metrics.Metrics

	store    ports.Store
	market   ports.MarketData
	stream   pricecache.Streamer // Nil when the market data exchange has no push feed
	prices   *pricecache.Cache
	provider *exchange.Provider
	settings *settings.Service
	signals  *signal.Engine
	router   *execution.Router
	monitor  *monitor.Monitor
	notifier *notifier.Queue
	bridge   ports.ExecutionBridge
	hub      *api.Hub
	service  *app.Service
}

func newLogger(cfg *config.Config) ports.Logger {
	return logger.NewStdLogger(cfg.LogLevel)
}

func openStore(ctx context.Context, cfg *config.Config, log ports.Logger) (ports.Store, error) {
	if cfg.StoreDriver == config.DriverPostgres {
		repo, err := postgres.NewRepository(ctx, postgres.Config{DSN: cfg.DatabaseURL, Logger: log})
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// newMarketClient builds the unauthenticated client scans and price
// fallbacks read from.
func newMarketClient(cfg *config.Config, log ports.Logger, factory exchange.Factory) (ports.MarketData, pricecache.Streamer, error) {
	if cfg.MarketDataExchange == domain.ExchangeCryptoCom {
		client, err := factory(domain.ExchangeCryptoCom, "", "")
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	}
	client, err := binanceclient.New(binanceclient.Config{
		UseTestnet:        cfg.BinanceTestnet,
		Logger:            log,
		RequestsPerSecond: cfg.ExchangeRateLimit,
		ReconnectDelay:    cfg.ReconnectDelay,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

// build wires the engine. The notification queue runs until ctx ends.
func build(ctx context.Context, cfg *config.Config) (*engine, error) {
	log := newLogger(cfg)
	log.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})
	m := metrics.New()
	clock := ports.SystemClock{}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e := &engine{cfg: cfg, logger: log, metrics: m, store: store}
	ok := false
	defer func() {
		if !ok {
			e.close(context.Background())
		}
	}()

	vault, err := crypto.NewVaultFromBase64(cfg.MasterEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("credential vault: %w", err)
	}

	factory := exchange.NewFactory(exchange.FactoryConfig{
		Logger:            log,
		BinanceTestnet:    cfg.BinanceTestnet,
		BinanceMargin:     cfg.BinanceMargin,
		CryptoComSandbox:  cfg.CryptoComSandbox,
		RequestsPerSecond: cfg.ExchangeRateLimit,
	})
	if e.provider, err = exchange.NewProvider(exchange.ProviderConfig{
		Credentials: store,
		Vault:       vault,
		Factory:     factory,
		Logger:      log,
		TTL:         cfg.ClientCacheTTL,
		Clock:       clock,
	}); err != nil {
		return nil, err
	}

	if e.market, e.stream, err = newMarketClient(cfg, log, factory); err != nil {
		return nil, fmt.Errorf("market data client: %w", err)
	}
	if e.prices, err = pricecache.New(pricecache.Config{
		Market:  e.market,
		Logger:  log,
		Metrics: m,
		MaxAge:  cfg.PriceMaxAge,
		Clock:   clock,
	}); err != nil {
		return nil, err
	}

	if e.settings, err = settings.NewService(store, vault, e.provider, clock, log); err != nil {
		return nil, err
	}

	var sender notifier.Sender = notifier.LogSender{Logger: log}
	if cfg.NotifyWebhookURL != "" {
		sender = notifier.NewWebhook(cfg.NotifyWebhookURL, &http.Client{Timeout: 10 * time.Second}, clock)
	}
	e.notifier = notifier.NewQueue(ctx, sender, notifier.QueueConfig{}, log, m)
	if cfg.BridgeURL != "" {
		e.bridge = bridge.New(cfg.BridgeURL, nil)
	}

	scoring, err := signal.LoadScoringConfig(cfg.ScoringConfigPath)
	if err != nil {
		return nil, err
	}
	e.hub = api.NewHub(log)
	if e.signals, err = signal.NewEngine(signal.EngineConfig{
		Market:      e.market,
		Prices:      e.prices,
		Signals:     store,
		Broadcaster: e.hub,
		Scoring:     scoring,
		Clock:       clock,
		Logger:      log,
		Metrics:     m,
	}); err != nil {
		return nil, err
	}

	outcomes, err := autotrade.NewTracker(store, clock, log)
	if err != nil {
		return nil, err
	}
	lots := exchange.NewLotSizer(lotSizeTTL, clock)
	closer, err := monitor.NewCloser(monitor.CloserConfig{
		Store:    store,
		Clients:  e.provider,
		Lots:     lots,
		Notifier: e.notifier,
		Outcomes: outcomes,
		Clock:    clock,
		Logger:   log,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}
	if e.monitor, err = monitor.NewMonitor(monitor.Config{
		Trades:  store,
		Prices:  e.prices,
		Closer:  closer,
		Logger:  log,
		Metrics: m,
	}); err != nil {
		return nil, err
	}

	marginTracker, err := margin.NewTracker(store, e.prices, e.monitor, clock, log, m)
	if err != nil {
		return nil, err
	}
	hooks := []ports.FillHook{marginTracker}

	reconciler, err := reconcile.New(reconcile.Config{
		Trades:   store,
		Clients:  e.provider,
		Notifier: e.notifier,
		Hooks:    hooks,
		Clock:    clock,
		Logger:   log,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}
	if e.router, err = execution.NewRouter(execution.Config{
		Store:    store,
		Clients:  e.provider,
		Prices:   e.prices,
		Risk:     risk.NewManager(risk.Config{PaperNotional: cfg.PaperTradeNotional, MinLiveNotional: cfg.MinLiveNotional}),
		Lots:     lots,
		Notifier: e.notifier,
		Hooks:    hooks,
		Clock:    clock,
		Logger:   log,
		Metrics:  m,
	}); err != nil {
		return nil, err
	}

	if e.service, err = app.NewService(app.Config{
		Monitor:    e.monitor,
		Reconciler: reconciler,
		Margin:     marginTracker,
		Store:      store,
		Notifier:   e.notifier,
		Settings:   e.settings,
		Analyzer:   e.signals,
		Executor:   e.router,
		Market:     e.market,
		Clock:      clock,
		Logger:     log,
		Metrics:    m,
	}); err != nil {
		return nil, err
	}

	ok = true
	return e, nil
}

// server builds the HTTP API over the wired engine.
func (e *engine) server() (*api.Server, error) {
	return api.NewServer(api.Config{
		Settings: e.settings,
		Router:   e.router,
		Closer:   e.monitor,
		Store:    e.store,
		Hub:      e.hub,
		Bridge:   e.bridge,
		Metrics:  e.metrics,
		Logger:   e.logger,
	})
}

func (e *engine) close(ctx context.Context) {
	if e.notifier != nil {
		e.notifier.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error(ctx, err, "Error closing store")
		}
	}
}
