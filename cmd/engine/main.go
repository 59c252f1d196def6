// cmd/engine runs the Nifty strategy engine: market data with provider
// fallback, the indicator engine, the strategy loop, order management in
// paper or live mode, and the dashboard API.
//
// Usage:
//
//	go run ./cmd/engine --config=config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"nifty-engine/config"
	"nifty-engine/internal/api"
	"nifty-engine/internal/execution"
	"nifty-engine/internal/fallback"
	"nifty-engine/internal/indicator"
	"nifty-engine/internal/logger"
	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
	"nifty-engine/internal/notification"
	"nifty-engine/internal/options"
	"nifty-engine/internal/order"
	"nifty-engine/internal/provider"
	dhanprov "nifty-engine/internal/provider/dhan"
	"nifty-engine/internal/provider/nse"
	"nifty-engine/internal/provider/yahoo"
	"nifty-engine/internal/runner"
	redisstore "nifty-engine/internal/store/redis"
	sqlitestore "nifty-engine/internal/store/sqlite"
	"nifty-engine/internal/strategy"
	"nifty-engine/pkg/dhan"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	configPath := flag.String("config", "", "Path to YAML config (default: $CONFIG_PATH or config.yaml)")
	flag.Parse()

	log.Println("[engine] starting...")

	// ---- Load config ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[engine] config: %v", err)
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	slogger := logger.Init("nifty-engine", level)
	log.Printf("[engine] mode=%s instrument=%s interval=%s providers=%v",
		cfg.Mode, cfg.Runner.Instrument.Symbol, cfg.Runner.Interval, cfg.Providers.Order)
	if cfg.Mode == model.ModeLive {
		log.Println("[engine] *** LIVE MODE: orders go to Dhan ***")
	}

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Setup metrics & health ----
	prom := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(string(cfg.Mode))
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- SQLite store ----
	store, err := sqlitestore.Open(cfg.SQLite, prom, slogger)
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)
	log.Printf("[engine] sqlite ready at %s", cfg.SQLite.Path)

	// ---- Redis publisher (optional) ----
	var (
		rdb       *goredis.Client
		publisher model.StatePublisher
		redisPub  *redisstore.Publisher
	)
	if cfg.Redis.Addr != "" {
		rdb, err = redisstore.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Printf("[engine] WARNING: redis connect failed: %v (publishing will buffer until it recovers)", err)
			rdb = goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		}
		redisPub = redisstore.NewPublisher(rdb, cfg.Redis, prom, slogger)
		publisher = redisPub
		health.SetRedisEnabled(true)
		log.Printf("[engine] redis publisher ready at %s", cfg.Redis.Addr)
	} else {
		log.Println("[engine] redis disabled (REDIS_ADDR empty)")
	}

	// ---- Periodic liveness checks ----
	health.StartLivenessChecker(ctx, rdb, store.DB(), 10*time.Second)

	// ---- Market data providers ----
	dhanClient := dhan.NewClient(dhan.Config{
		ClientID:     cfg.Dhan.ClientID,
		AccessToken:  cfg.Dhan.AccessToken,
		PIN:          cfg.Dhan.PIN,
		TOTPSecret:   cfg.Dhan.TOTPSecret,
		BaseURL:      cfg.Dhan.BaseURL,
		AuthURL:      cfg.Dhan.AuthURL,
		OrderFeedURL: cfg.Dhan.OrderFeedURL,
	}, nil)

	var providers []provider.Provider
	for _, name := range cfg.Providers.Order {
		switch name {
		case provider.NameDhan:
			if !dhanClient.Configured() {
				log.Println("[engine] skipping dhan provider: no credentials")
				continue
			}
			providers = append(providers, dhanprov.New(dhanClient))
		case provider.NameNSE:
			providers = append(providers, nse.New(cfg.Providers.NSEBaseURL, nil))
		case provider.NameYahoo:
			providers = append(providers, yahoo.New(cfg.Providers.YahooBaseURL, nil))
		}
	}
	if len(providers) == 0 {
		log.Fatal("[engine] no usable market-data providers")
	}
	fbCfg := cfg.Fallback
	fbCfg.Metrics = prom
	fbCfg.Logger = slogger
	data := fallback.New(fbCfg, providers...)
	log.Printf("[engine] fallback order: %v", data.Providers())

	// ---- Option contracts ----
	var contracts runner.Contracts
	if cfg.Runner.TradeOptions {
		var chains []provider.ChainSource
		for _, p := range providers {
			if cs, ok := p.(provider.ChainSource); ok {
				chains = append(chains, cs)
			}
		}
		if len(chains) == 0 {
			log.Fatal("[engine] trade_options needs an option-chain source (dhan or nse)")
		}
		data.WithChains(chains...)
		resolver, err := options.NewResolver(cfg.Options, data, slogger)
		if err != nil {
			log.Fatalf("[engine] options: %v", err)
		}
		contracts = resolver
		log.Printf("[engine] option chains: %v expiry=%s strike=%s", data.ChainSources(), cfg.Options.ExpiryWeekday, cfg.Options.Strike)
	}

	// ---- Indicator engine & strategy ----
	ind, err := indicator.NewEngine(cfg.Indicator, prom)
	if err != nil {
		log.Fatalf("[engine] indicator engine: %v", err)
	}
	strat, err := strategy.Build(cfg.Strategy, cfg.Indicator)
	if err != nil {
		log.Fatalf("[engine] strategy: %v", err)
	}
	log.Printf("[engine] strategy chain: %s", strat.Name())

	// ---- Execution backends ----
	events := make(chan model.OrderEvent, 1024)
	instruments := []model.Instrument{cfg.Runner.Instrument}

	paper := execution.NewPaper(events, cfg.Paper.SlippageBps, slogger)
	backends := []order.Backend{paper}

	if cfg.Mode == model.ModeLive {
		live := execution.NewLive(dhanClient, cfg.Live, instruments, events, prom, slogger)
		backends = append(backends, live)

		updates := make(chan dhan.OrderUpdate, 256)
		feed := dhan.NewOrderFeed(dhanClient)
		feed.OnState = func(connected bool) {
			health.SetOrderFeedUp(connected)
			if connected {
				prom.OrderFeedUp.Set(1)
			} else {
				prom.OrderFeedUp.Set(0)
			}
		}
		go feed.Run(ctx, updates)
		go live.Run(ctx, updates)
		log.Println("[engine] live backend and order feed started")
	}

	// ---- Order manager ----
	mgr := order.NewManager(execution.NewRouter(backends...), events, order.Options{
		Risk:      order.NewRiskManager(cfg.Risk, slogger),
		OrderLog:  store,
		Positions: store,
		Publisher: publisher,
		Metrics:   prom,
		Logger:    slogger,
	})
	if err := mgr.Restore(ctx); err != nil {
		log.Fatalf("[engine] restore positions: %v", err)
	}
	go mgr.Run(ctx)

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier(slogger)}
	if cfg.Notify.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID, "", nil))
		log.Println("[engine] telegram alerts enabled")
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, nil))
		log.Println("[engine] webhook alerts enabled")
	}
	notifier := notification.NewThrottled(notifiers, cfg.Notify.Throttle)

	// ---- Strategy runner ----
	run, err := runner.New(cfg.Runner, data, ind, strat, mgr, runner.Options{
		Cache:     store,
		Contracts: contracts,
		Quotes:    paper,
		Publisher: publisher,
		Notifier:  notifier,
		Health:    health,
		Metrics:   prom,
		Logger:    slogger,
	})
	if err != nil {
		log.Fatalf("[engine] runner: %v", err)
	}
	if err := run.Warmup(ctx); err != nil {
		log.Printf("[engine] WARNING: warmup failed: %v (retrying on the next cycle)", err)
	}
	run.Probe(ctx)
	if err := run.Start(ctx); err != nil {
		log.Fatalf("[engine] runner start: %v", err)
	}

	// ---- Dashboard API ----
	var hub *api.Hub
	if rdb != nil {
		hub = api.NewHub(rdb, 1000, slogger)
		go hub.Run(ctx)
	}
	srv := api.NewServer(api.Deps{
		Orders:      mgr,
		Instruments: instruments,
		Indicators:  map[string]api.IndicatorSource{cfg.Runner.Instrument.Symbol: ind},
		OrderLog:    store,
		Health:      health,
		Stream:      hub,
		DefaultMode: cfg.Mode,
		Logger:      slogger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           srv.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[engine] api listening on %s", cfg.APIAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[engine] api server error: %v", err)
		}
	}()

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[engine] shutdown signal received, cleaning up...")
	run.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	if hub != nil {
		hub.Close()
	}
	cancel()
	metricsSrv.Stop(shutdownCtx)

	if redisPub != nil {
		redisPub.Close()
	}
	log.Println("[engine] shutdown complete.")
}
