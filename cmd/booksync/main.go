package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"booksync/config"
	"booksync/internal/metrics"
	"booksync/internal/session"
	"booksync/internal/venue"
	"booksync/logger"
)

func main() {
	log := logger.GetLogger()

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to environment file")
	shardPath := flag.String("shards", "", "Path to IP shard configuration file")
	depth := flag.Int("depth", 5, "Levels per side in the periodic book log line")
	report := flag.Duration("report", 0, "Runtime report interval, overrides logging.report_interval")
	flag.Parse()

	// Load environment variables from .env if present
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	env := config.AppEnvironment()
	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if *shardPath != "" {
		shards, err := config.LoadIPShards(*shardPath)
		if err != nil {
			log.WithError(err).Error("failed to load shard configuration")
			os.Exit(1)
		}
		shards.Apply(cfg.Books)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": env,
		"books":       len(cfg.Books),
	}).Info("starting booksync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.CloudWatch.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard)
	}
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}

	sessions, err := venue.BuildAll(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build book sessions")
		os.Exit(1)
	}
	manager := session.NewManager(sessions...)
	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start book sessions")
		os.Exit(1)
	}

	interval := cfg.Logging.ReportInterval
	if *report > 0 {
		interval = *report
	}
	if interval > 0 {
		logger.StartReport(ctx, log, interval, manager.StatusCounts)
	}

	go watchFatal(ctx, log, manager)

	if err := manager.ConnectAll(ctx); err != nil {
		if config.IsProductionLike(env) {
			log.WithError(err).Error("initial connect failed")
			manager.Stop()
			os.Exit(1)
		}
		log.WithError(err).Warn("some books failed to connect")
	}
	log.Info("all book sessions started")

	go logBooks(ctx, log, manager, *depth, interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		manager.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("booksync stopped")
}

// watchFatal logs every fatal session error. Sessions stay down until
// reconnected by an operator restart.
func watchFatal(ctx context.Context, log *logger.Log, manager *session.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-manager.Errors():
			if !ok {
				return
			}
			log.WithComponent("main").WithError(err).Error("book session failed")
		}
	}
}

// logBooks writes the top of every connected book once per interval.
func logBooks(ctx context.Context, log *logger.Log, manager *session.Manager, depth int, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range manager.Sessions() {
				snap := s.Snapshot(depth)
				fields := logger.Fields{
					"venue":  snap.Venue,
					"symbol": snap.Symbol,
					"status": snap.Status,
					"asks":   len(snap.Asks),
					"bids":   len(snap.Bids),
				}
				if len(snap.Asks) > 0 && len(snap.Bids) > 0 {
					fields["best_ask"] = snap.Asks[0].Price.String()
					fields["best_bid"] = snap.Bids[0].Price.String()
					fields["spread"] = snap.Asks[0].Price.Sub(snap.Bids[0].Price).String()
				}
				log.WithComponent("book").WithFields(fields).Info("top of book")
			}
		}
	}
}
