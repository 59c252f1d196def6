// cmd/backtest replays historical bars through the indicator engine,
// strategy loop, paper backend and order manager, then prints a P&L
// summary. Bars come from the SQLite bar cache or, with --source=fetch,
// from the provider fallback chain (and are cached for the next run).
//
// Usage:
//
//	go run ./cmd/backtest --from=2025-01-01 --to=2025-01-31 --interval=5min
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nifty-engine/config"
	"nifty-engine/internal/fallback"
	"nifty-engine/internal/logger"
	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
	"nifty-engine/internal/provider/nse"
	"nifty-engine/internal/provider/yahoo"
	"nifty-engine/internal/replay"
	sqlitestore "nifty-engine/internal/store/sqlite"
)

const dateLayout = "2006-01-02"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	configPath := flag.String("config", "", "Path to YAML config (default: $CONFIG_PATH or config.yaml)")
	fromStr := flag.String("from", time.Now().AddDate(0, 0, -30).Format(dateLayout), "First session date (YYYY-MM-DD, IST)")
	toStr := flag.String("to", time.Now().Format(dateLayout), "Last session date (YYYY-MM-DD, IST)")
	ivStr := flag.String("interval", "", "Bar interval (default: runner interval from config)")
	source := flag.String("source", "cache", "Bar source: cache (SQLite) or fetch (provider fallback)")
	warm := flag.Int("warmup", 50, "Bars loaded as history before the first cycle")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	slogger := logger.Init("nifty-backtest", level)

	iv := cfg.Runner.Interval
	if *ivStr != "" {
		if iv, err = model.ParseInterval(*ivStr); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
	}
	rng, err := parseRange(*fromStr, *toStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	inst := cfg.Runner.Instrument

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Open SQLite
	store, err := sqlitestore.Open(cfg.SQLite, nil, slogger)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer store.Close()

	var bars []model.Bar
	switch *source {
	case "cache":
		bars, err = store.LoadBars(ctx, inst.Symbol, iv, rng)
		if err != nil {
			log.Fatalf("[backtest] load cached bars: %v", err)
		}
	case "fetch":
		series, err := fetch(ctx, cfg, inst, iv, rng)
		if err != nil {
			log.Fatalf("[backtest] fetch: %v", err)
		}
		if err := store.SaveSeries(ctx, series); err != nil {
			log.Printf("[backtest] WARNING: caching bars failed: %v", err)
		}
		bars = series.Bars
	default:
		log.Fatalf("[backtest] unknown source %q (want cache or fetch)", *source)
	}
	log.Printf("[backtest] %d %s bars for %s from %s", len(bars), iv, inst.Symbol, *source)

	rcfg := cfg.Runner
	rcfg.Interval = iv
	session, err := replay.NewSession(replay.Config{
		Runner:      rcfg,
		Indicator:   cfg.Indicator,
		Strategy:    cfg.Strategy,
		Risk:        cfg.Risk,
		SlippageBps: cfg.Paper.SlippageBps,
		WarmupBars:  min(*warm, len(bars)-1),
		Speed:       *speed,
		Logger:      slogger,
	}, bars)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	rep, err := session.Run(ctx)
	if err != nil {
		log.Fatalf("[backtest] replay: %v", err)
	}
	printReport(rep)
}

// parseRange turns two IST dates into a range covering both sessions.
func parseRange(from, to string) (model.TimeRange, error) {
	f, err := time.ParseInLocation(dateLayout, from, markethours.IST)
	if err != nil {
		return model.TimeRange{}, fmt.Errorf("--from: %w", err)
	}
	t, err := time.ParseInLocation(dateLayout, to, markethours.IST)
	if err != nil {
		return model.TimeRange{}, fmt.Errorf("--to: %w", err)
	}
	if t.Before(f) {
		return model.TimeRange{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return model.TimeRange{From: f, To: t.AddDate(0, 0, 1)}, nil
}

// fetch pulls history through the public providers. Dhan is skipped: a
// backtest should not spend the trading account's rate limit.
func fetch(ctx context.Context, cfg *config.Config, inst model.Instrument, iv model.Interval, rng model.TimeRange) (model.Series, error) {
	var providers []provider.Provider
	for _, name := range cfg.Providers.Order {
		switch name {
		case provider.NameNSE:
			providers = append(providers, nse.New(cfg.Providers.NSEBaseURL, nil))
		case provider.NameYahoo:
			providers = append(providers, yahoo.New(cfg.Providers.YahooBaseURL, nil))
		}
	}
	if len(providers) == 0 {
		return model.Series{}, fmt.Errorf("no public providers in %v", cfg.Providers.Order)
	}
	series, err := fallback.New(cfg.Fallback, providers...).GetHistory(ctx, inst, iv, rng)
	if err != nil {
		return model.Series{}, err
	}
	if len(series.Gaps) > 0 {
		log.Printf("[backtest] WARNING: %d gaps in fetched history (%s)", len(series.Gaps), series.Completeness)
	}
	return series, nil
}

func printReport(rep *replay.Report) {
	for i, t := range rep.Trades {
		fmt.Printf("  #%-3d %s %-4s %3d  %s -> %s  %10s -> %10s  pnl %10s  (%s)\n",
			i+1, t.Opened.In(markethours.IST).Format(dateLayout), t.Side, t.Qty,
			t.Opened.In(markethours.IST).Format("15:04"), t.Closed.In(markethours.IST).Format("15:04"),
			t.Entry.StringFixed(2), t.Exit.StringFixed(2), t.PnL.StringFixed(2), t.ExitTag)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Instrument:        %-16s ║\n", rep.Symbol)
	fmt.Printf("║  Bars replayed:     %-16d ║\n", rep.Bars)
	fmt.Printf("║  Trades:            %-16d ║\n", len(rep.Trades))
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", rep.WinRate()*100))
	fmt.Printf("║  Realized P&L:      %-16s ║\n", rep.RealizedPnL.StringFixed(2))
	fmt.Printf("║  Max drawdown:      %-16s ║\n", rep.MaxDrawdown.StringFixed(2))
	fmt.Printf("║  Open qty:          %-16d ║\n", rep.OpenQty)
	fmt.Printf("║  Unrealized P&L:    %-16s ║\n", rep.UnrealizedPnL.StringFixed(2))
	fmt.Println("╚══════════════════════════════════════╝")
}
