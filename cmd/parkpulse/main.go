// Command parkpulse runs the wait-time pipeline: one-shot batch runs for
// cron, or a long-lived serve mode hosting the read API and built-in
// scheduler.
//
// Usage:
//
//	parkpulse ingest
//	parkpulse hourly [-date YYYY-MM-DD] [-hour N] [-attraction ID] [-all-hours] [-tz ZONE]
//	parkpulse daily [-date YYYY-MM-DD] [-cleanup] [-force]
//	parkpulse monthly [-year YYYY] [-month N]
//	parkpulse backfill-daily [-date YYYY-MM-DD] [-attraction ID]
//	parkpulse serve
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parkpulse/parkpulse/pkg/aggregate"
	"github.com/parkpulse/parkpulse/pkg/config"
	"github.com/parkpulse/parkpulse/pkg/events"
	"github.com/parkpulse/parkpulse/pkg/ingest"
	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/provider"
	"github.com/parkpulse/parkpulse/pkg/retention"
	"github.com/parkpulse/parkpulse/pkg/scheduler"
	"github.com/parkpulse/parkpulse/pkg/server"
	"github.com/parkpulse/parkpulse/pkg/storage/badger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.LogLevel, cfg.App.Env)

	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		log.Errorf("create data directory: %v", err)
		os.Exit(1)
	}
	store, err := badger.New(badger.Config{Path: cfg.Store.Path})
	if err != nil {
		log.Errorf("open store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	gate := provider.NewGate(cfg.Provider.MinInterval)
	client := provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.Timeout, log)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Errorf("connect kafka: %v", err)
			os.Exit(1)
		}
		defer kp.Close()
		publisher = kp
	}

	runner := scheduler.New(
		store,
		ingest.New(store, client, gate, log),
		aggregate.New(store, log),
		aggregate.NewCorrector(store, log),
		retention.New(store, cfg.Retention.MinDays, log),
		publisher,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var sum model.RunSummary
	switch cmd {
	case "ingest":
		runCtx, cancel := context.WithTimeout(ctx, config.IngestRunTimeout)
		defer cancel()
		sum = runner.RunIngest(runCtx)

	case "hourly":
		fs := flag.NewFlagSet("hourly", flag.ExitOnError)
		date := fs.String("date", "", "venue-local date (YYYY-MM-DD); default previous local hour")
		hour := fs.Int("hour", -1, "hour 0..23; requires -date")
		attraction := fs.String("attraction", "", "limit to one attraction id")
		allHours := fs.Bool("all-hours", false, "aggregate every hour of the date")
		tz := fs.String("tz", "", "timezone -date/-hour are expressed in")
		fs.Parse(args)

		runCtx, cancel := context.WithTimeout(ctx, config.HourlyRunTimeout)
		defer cancel()
		sum = runner.RunHourly(runCtx, scheduler.HourlyOptions{
			Date:              *date,
			Hour:              *hour,
			HasHour:           *hour >= 0,
			AllHours:          *allHours,
			AttractionID:      *attraction,
			ReferenceTimezone: *tz,
		})

	case "daily":
		fs := flag.NewFlagSet("daily", flag.ExitOnError)
		date := fs.String("date", "", "venue-local date (YYYY-MM-DD); default previous local date")
		cleanup := fs.Bool("cleanup", false, "sweep expired raw samples after a clean run")
		force := fs.Bool("force", false, "recompute dates that already have a daily stat")
		fs.Parse(args)

		runCtx, cancel := context.WithTimeout(ctx, config.DailyRunTimeout)
		defer cancel()
		sum = runner.RunDaily(runCtx, scheduler.DailyOptions{
			Date: *date, Cleanup: *cleanup, ForceUpdate: *force,
		})

	case "monthly":
		fs := flag.NewFlagSet("monthly", flag.ExitOnError)
		year := fs.Int("year", 0, "target year; default previous month per venue")
		month := fs.Int("month", 0, "target month 1..12")
		fs.Parse(args)

		runCtx, cancel := context.WithTimeout(ctx, config.MonthlyRunTimeout)
		defer cancel()
		sum = runner.RunMonthly(runCtx, scheduler.MonthlyOptions{Year: *year, Month: *month})

	case "backfill-daily":
		fs := flag.NewFlagSet("backfill-daily", flag.ExitOnError)
		date := fs.String("date", "", "limit to one date; empty recomputes every stored date")
		attraction := fs.String("attraction", "", "limit to one attraction id")
		fs.Parse(args)

		sum = runner.RunBackfillDaily(ctx, *date, *attraction)

	case "serve":
		if err := serve(ctx, cfg, store, runner, log); err != nil {
			log.Errorf("serve: %v", err)
			os.Exit(1)
		}
		return

	default:
		usage()
		os.Exit(2)
	}

	if !sum.Success {
		os.Exit(1)
	}
}

// serve hosts the read API plus the cron-driven pipeline until SIGINT or
// SIGTERM.
func serve(ctx context.Context, cfg *config.Config, store *badger.Store, runner *scheduler.Runner, log logger.Logger) error {
	hub := server.NewLiveHub(log)
	go hub.Run(ctx)

	// Run summaries stream to websocket subscribers alongside Kafka.
	runner.AddPublisher(hub)

	var cache server.Cache = server.NopCache{}
	if cfg.Redis.Enabled {
		cache = server.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, log)
	}

	cron, err := scheduler.NewCron(runner, scheduler.CronConfig{
		IngestInterval: cfg.Schedule.IngestInterval,
		HourlySpec:     cfg.Schedule.HourlySpec,
		DailySpec:      cfg.Schedule.DailySpec,
		MonthlySpec:    cfg.Schedule.MonthlySpec,
		DailyCleanup:   cfg.Schedule.DailyCleanup,
	}, log)
	if err != nil {
		return err
	}
	cron.Start()

	gcDone := make(chan struct{})
	go badgerGCLoop(ctx, store, cfg.Store.GCInterval, log, gcDone)

	srv := server.New(cfg.Server.Port, server.NewHandler(store, cache, log), hub, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	cron.Stop()
	<-gcDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// badgerGCLoop reclaims value-log space freed by retention deletes.
func badgerGCLoop(ctx context.Context, store *badger.Store, interval time.Duration, log logger.Logger, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.RunGC(0.5); err != nil {
				log.Debugf("badger gc: %v", err)
			}
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: parkpulse <ingest|hourly|daily|monthly|backfill-daily|serve> [flags]")
}
