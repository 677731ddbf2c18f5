package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openclear/tradecore/internal/config"
	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/engine"
	"github.com/openclear/tradecore/internal/events"
	"github.com/openclear/tradecore/internal/fees"
	"github.com/openclear/tradecore/internal/handler"
	"github.com/openclear/tradecore/internal/journal"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/service"
	"github.com/openclear/tradecore/internal/settlement"
	"github.com/openclear/tradecore/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Stores and ledger. The archive is optional durable storage for
	// trades; the ledger works without it.
	orderStore := store.NewOrderStore()
	settlementStore := store.NewSettlementStore()

	var archive *ledger.Archive
	if cfg.ArchivePath != "" {
		archive, err = ledger.NewArchive(cfg.ArchivePath)
		if err != nil {
			logger.Error("failed to open trade archive", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	trades := ledger.New(archive)

	// Trading pairs.
	pairs := domain.NewPairRegistry()
	if err := registerPairs(pairs, cfg.Pairs); err != nil {
		logger.Error("failed to register trading pairs", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Engine.
	books := engine.NewBookManager()
	feeCalc := fees.NewCalculator()
	matcher := engine.NewMatcher(books, orderStore, trades, pairs, feeCalc)
	auctioneer := engine.NewAuctioneer(matcher)
	stops := engine.NewStopIndex()

	// Event bus.
	bus := events.NewBus()

	// Expiry manager publishes the transition for each expired order.
	expiryMgr := engine.NewExpiryManager(cfg.ExpirationInterval, books, stops, func(o *domain.Order) {
		bus.Publish(events.Event{Type: events.OrderExpired, At: *o.ExpiresAt, Order: o})
	})

	// Settlement coordinator. The executor is the in-process transfer
	// stub; a real deployment injects a custodian gateway here.
	coordinator := settlement.NewCoordinator(
		settlementStore,
		trades,
		pairs,
		settlement.InProcessExecutor(),
		bus,
		cfg.CustodianID,
	)

	// Services.
	orderSvc := service.NewOrderService(
		matcher, auctioneer, stops, expiryMgr,
		orderStore, trades, pairs,
		domain.AllowAll{}, coordinator, feeCalc, bus,
		domain.SettlementCycle(cfg.SettlementCycle),
	)
	marketSvc := service.NewMarketService(books, trades, pairs, cfg.VWAPWindow)

	// Journal replay happens before the journal subscribes, so recovered
	// events are not re-appended.
	if cfg.JournalFile != "" {
		recovery := service.NewRecovery(orderStore, settlementStore, trades, matcher, stops, expiryMgr)
		if _, err := recovery.Replay(cfg.JournalFile); err != nil {
			logger.Error("journal replay failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jnl, err := journal.Open(cfg.JournalFile)
		if err != nil {
			logger.Error("failed to open journal", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer jnl.Close()
		bus.SubscribeFunc(jnl.Handler())
	}

	// Router.
	router := handler.NewRouter(orderSvc, marketSvc, coordinator, bus, logger)

	// Background goroutines: expiry sweep, settlement sweep, archive writer.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	expiryMgr.Start(ctx)
	coordinator.Start(ctx, cfg.SettlementSweepInterval)
	if archive != nil {
		go archive.Run(ctx)
	}

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, cancel context (stops background goroutines).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}

// newLogger builds the slog JSON logger. When LOG_FILE is set, output
// goes to both stdout and a size-rotated file.
func newLogger(cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// registerPairs loads the configured trading pairs, falling back to a
// permissive default pair set when the config names none.
func registerPairs(registry *domain.PairRegistry, configured []config.PairConfig) error {
	if len(configured) == 0 {
		return registry.Register(&domain.TradingPair{
			Symbol:            "AAPL",
			Status:            domain.PairEnabled,
			TickSize:          1,
			MinQuantity:       1,
			MaxQuantity:       1_000_000,
			MinPrice:          1,
			MaxPrice:          100_000_00,
			MakerFeeRate:      decimal.NewFromFloat(0.001),
			TakerFeeRate:      decimal.NewFromFloat(0.002),
			MaxPriceDeviation: decimal.NewFromFloat(0.10),
			AssetType:         "equity",
			QuoteCurrency:     "USD",
		})
	}

	for _, pc := range configured {
		tickSize, err := domain.DollarsToCents(pc.TickSize)
		if err != nil {
			return fmt.Errorf("pair %s: invalid tick_size: %w", pc.Symbol, err)
		}
		minPrice, err := domain.DollarsToCents(pc.MinPrice)
		if err != nil {
			return fmt.Errorf("pair %s: invalid min_price: %w", pc.Symbol, err)
		}
		maxPrice, err := domain.DollarsToCents(pc.MaxPrice)
		if err != nil {
			return fmt.Errorf("pair %s: invalid max_price: %w", pc.Symbol, err)
		}
		makerRate, err := decimal.NewFromString(pc.MakerFeeRate)
		if err != nil {
			return fmt.Errorf("pair %s: invalid maker_fee_rate: %w", pc.Symbol, err)
		}
		takerRate, err := decimal.NewFromString(pc.TakerFeeRate)
		if err != nil {
			return fmt.Errorf("pair %s: invalid taker_fee_rate: %w", pc.Symbol, err)
		}
		deviation := decimal.Zero
		if pc.MaxPriceDeviation != "" {
			deviation, err = decimal.NewFromString(pc.MaxPriceDeviation)
			if err != nil {
				return fmt.Errorf("pair %s: invalid max_price_deviation: %w", pc.Symbol, err)
			}
		}

		pair := &domain.TradingPair{
			Symbol:            pc.Symbol,
			Status:            domain.PairEnabled,
			TickSize:          tickSize,
			MinQuantity:       pc.MinQuantity,
			MaxQuantity:       pc.MaxQuantity,
			MinPrice:          minPrice,
			MaxPrice:          maxPrice,
			MakerFeeRate:      makerRate,
			TakerFeeRate:      takerRate,
			MaxPriceDeviation: deviation,
			AssetType:         pc.AssetType,
			QuoteCurrency:     pc.QuoteCurrency,
			CustodialAsset:    pc.CustodialAsset,
		}
		if err := registry.Register(pair); err != nil {
			return err
		}
	}
	return nil
}
