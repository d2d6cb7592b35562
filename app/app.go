// Package app wires the long-lived monitor: collection cycles, the daily
// stats worker, the daily summary, the monthly archiver, and the notifier.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oi-radar/anomaly"
	"oi-radar/binance"
	"oi-radar/cache"
	"oi-radar/config"
	"oi-radar/database"
	"oi-radar/notifier"
)

// App represents the main monitor process
type App struct {
	config *config.Config

	db         *database.Database
	repo       *database.MarketRepository
	redis      *cache.RedisClient
	client     *binance.Client
	lastValues *cache.LastValues
	stats      *StatsHolder
	notifier   *notifier.Notifier
	collector  *Collector
	statsWork  *StatsWorker
	summary    *DailySummary
	archiver   *Archiver
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
		client: binance.NewClient(cfg.BinanceFAPIBase),
	}
}

// Start brings the monitor up and blocks until a termination signal
func (a *App) Start() error {
	// 1. Storage
	fmt.Println("🗄️  Opening storage...")
	db, err := database.Connect(a.config.DBPath)
	if err != nil {
		return fmt.Errorf("storage open failed: %w", err)
	}
	a.db = db
	a.repo = database.NewMarketRepository(db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 2. Optional Redis mirror
	if a.config.RedisHost != "" {
		fmt.Println("🧠 Connecting to Redis...")
		a.redis = cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword)
		if a.redis == nil {
			fmt.Println("⚠️  Redis connection failed. Mirror disabled.")
		}
	}

	// 3. Hydrate the live cache so a restart causes no spurious change-detection
	hydrated, err := a.repo.LoadLastValues()
	if err != nil {
		return fmt.Errorf("cache hydration failed: %w", err)
	}
	a.lastValues = cache.NewLastValues(hydrated, a.redis)
	log.Printf("✅ Live cache hydrated: %d readings", a.lastValues.Len())

	// 4. Baseline snapshot
	baselines, err := a.repo.LoadSymbolStats()
	if err != nil {
		return fmt.Errorf("baseline load failed: %w", err)
	}
	a.stats = NewStatsHolder(anomaly.NewStatsSnapshot(baselines, a.config.Severity.TopN))
	log.Printf("✅ Baselines loaded: %d symbols", len(baselines))

	// 5. Initial symbol universe
	registry := NewSymbolRegistry(a.client, a.repo, a.config.Collect)
	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), 2*time.Minute)
	if _, err := registry.Refresh(refreshCtx); err != nil {
		cancelRefresh()
		return fmt.Errorf("initial symbol refresh failed: %w", err)
	}
	cancelRefresh()

	// 6. Notifier
	var transport notifier.Transport
	if a.config.TelegramBotToken != "" && a.config.TelegramChatID != "" {
		transport = notifier.NewTelegramTransport(a.config.TelegramBotToken, a.config.TelegramChatID)
		log.Println("✅ Telegram transport configured")
	} else {
		transport = notifier.NopTransport{}
		log.Println("ℹ️  No Telegram credentials, alerts will be logged only")
	}
	a.notifier = notifier.New(transport, notifier.Options{
		MaxQueue:           a.config.Notify.NotifierMaxQueue,
		Delay:              a.config.Notify.NotifierDelay,
		MassAlertThreshold: a.config.Notify.MassAlertThreshold,
		MassAlertWindow:    a.config.Notify.MassAlertWindow,
	})
	a.notifier.Start()

	// 7. Background tasks
	detector := anomaly.NewDetector(a.repo, a.config)
	a.collector = NewCollector(a.client, a.repo, registry, detector, a.notifier, a.lastValues, a.stats, a.config)
	a.collector.Start()

	a.statsWork = NewStatsWorker(a.repo, a.stats, a.config)
	a.statsWork.Start()

	a.summary = NewDailySummary(a.repo, a.notifier, a.config)
	a.summary.Start()

	a.archiver = NewArchiver(a.db, a.repo, a.config.Archive)
	a.archiver.Start()

	return a.gracefulShutdown()
}

// gracefulShutdown waits for a termination signal, then stops every task,
// drains the notifier, and closes storage.
func (a *App) gracefulShutdown() error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		fmt.Println("📡 Stopping collector...")
		a.collector.Stop()

		fmt.Println("📐 Stopping stats worker...")
		a.statsWork.Stop()
		a.summary.Stop()
		a.archiver.Stop()

		fmt.Println("📣 Draining notifier...")
		a.notifier.Stop()

		if a.db != nil {
			if err := a.db.Close(); err != nil {
				log.Printf("Error closing storage: %v", err)
			} else {
				fmt.Println("✅ Storage closed")
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				log.Printf("Error closing redis: %v", err)
			} else {
				fmt.Println("✅ Redis connection closed")
			}
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}
