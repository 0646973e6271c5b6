package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/analytics"
	"github.com/smukkama/agv-rtls/internal/database"
	"github.com/smukkama/agv-rtls/internal/eventlog"
	"github.com/smukkama/agv-rtls/internal/logger"
	"github.com/smukkama/agv-rtls/internal/queue"
	"github.com/smukkama/agv-rtls/internal/registry"
	"github.com/smukkama/agv-rtls/internal/rollup"
	"github.com/smukkama/agv-rtls/internal/scheduler"
	"github.com/smukkama/agv-rtls/internal/service"
	"github.com/smukkama/agv-rtls/internal/violation"
	"github.com/smukkama/agv-rtls/internal/zones"
	"github.com/smukkama/agv-rtls/pkg/config"
)

const jobFleetReport = "fleet-report"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "rtls-scheduler")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	lg.Info("Starting RTLS scheduler", zap.String("instance_id", cfg.Scheduler.InstanceID))

	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.MaxConns, cfg.Database.MaxIdle, lg)
	if err != nil {
		lg.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		lg.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var publisher eventlog.Publisher
	if cfg.Kafka.Enabled {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = producer
	}
	events := eventlog.New(db, publisher, lg)

	var (
		lease    scheduler.Lease
		cooldown violation.Cooldown = violation.NewEventLogCooldown(db)
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		lease = scheduler.NewRedisLease(rdb, cfg.Scheduler.InstanceID)
		cooldown = violation.NewRedisCooldown(rdb)
		lg.Info("Using Redis for job leases and alert cooldowns", zap.String("addr", cfg.Redis.Addr))
	} else {
		lg.Warn("Redis disabled: cooldowns come from the event log and jobs are not leased across replicas")
	}

	resolver := zones.NewResolver(cfg.Zones.GridCellSize, lg)
	var zoneSrc zones.Source = db
	if cfg.Zones.File != "" {
		zoneSrc = zones.FileSource{Path: cfg.Zones.File}
	}
	if err := resolver.Reload(ctx, zoneSrc); err != nil {
		lg.Fatal("Failed to load zones", zap.Error(err))
	}
	zoneName := func(id string) string {
		if z, ok := resolver.Snapshot().Zone(id); ok {
			return z.Name
		}
		return id
	}

	th := analytics.Thresholds{
		IdleSpeed:      cfg.Analytics.IdleSpeedThreshold,
		RateHz:         cfg.Analytics.SamplingRateHz,
		AnomalyAccel:   cfg.Analytics.AnomalyAccel,
		AnomalyQuality: cfg.Analytics.AnomalyQuality,
		MinStop:        cfg.Analytics.MinStop,
	}
	detector := violation.NewDetector(db,
		func() violation.ZoneCatalog { return resolver.Snapshot() },
		cooldown, events,
		violation.Config{
			Cooldown:          cfg.Violations.Cooldown,
			OvercrowdWindow:   cfg.Violations.OvercrowdWindow,
			OvercrowdCooldown: cfg.Violations.OvercrowdCooldown,
			BatteryLowPercent: cfg.Violations.BatteryLowPercent,
			Anomaly:           th,
			CollisionDistance: cfg.Violations.CollisionDistance,
			CollisionWindow:   cfg.Violations.CollisionWindow,
			CollisionHorizon:  cfg.Violations.CollisionHorizon,
			CollisionCritical: cfg.Violations.CollisionCritical,
		}, lg)
	hourly := rollup.NewHourlyAggregator(db, th, lg)
	archiver := rollup.NewArchiver(db, events, cfg.Retention.BatchSize, cfg.Retention.PartitionsAhead, lg)

	runner := scheduler.NewRunner(lease, cfg.Scheduler.LeaseTTL, events, lg)
	svc := service.New(service.Deps{
		Engine:   analytics.NewEngine(db, th, zoneName, lg),
		Registry: registry.NewView(db, func() registry.ZoneLookup { return resolver.Snapshot() }, cfg.Analytics.StatusLookback, lg),
		Detector: detector,
		Hourly:   hourly,
		Archiver: archiver,
		History:  db,
		Events:   events,
		Zones:    resolver,
		Guard:    runner,
		Logger:   lg,
	})

	archiveAt, err := scheduler.DailyAt(cfg.Retention.DailyTime)
	if err != nil {
		lg.Fatal("Invalid retention schedule", zap.Error(err))
	}
	hourlyDelay := cfg.Rollup.HourlyDelay

	jobs := []scheduler.Job{
		{
			Name:     service.JobViolationCheck,
			Schedule: scheduler.Every(cfg.Violations.CheckInterval),
			Timeout:  cfg.Violations.CheckInterval,
			Run: func(ctx context.Context) error {
				_, err := detector.Check(ctx, cfg.Violations.CheckWindow)
				return err
			},
		},
		{
			Name: service.JobHourlyRollup,
			Schedule: func(now time.Time) time.Time {
				return rollup.CalculateNextRunTime(now, hourlyDelay)
			},
			Timeout: 30 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := hourly.AggregatePreviousHour(ctx)
				return err
			},
		},
		{
			Name:     service.JobArchive,
			Schedule: archiveAt,
			Run: func(ctx context.Context) error {
				_, err := archiver.Archive(ctx, cfg.Retention.Days)
				return err
			},
		},
		{
			Name:     service.JobZoneRefresh,
			Schedule: scheduler.Every(cfg.Zones.RefreshInterval),
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				return resolver.Reload(ctx, zoneSrc)
			},
		},
		{
			Name:     jobFleetReport,
			Schedule: archiveAt,
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) error {
				return reportFleet(ctx, svc, lg)
			},
		},
	}
	for _, job := range jobs {
		if err := runner.Add(job); err != nil {
			lg.Fatal("Failed to register job", zap.String("job", job.Name), zap.Error(err))
		}
	}

	if err := runner.Start(ctx); err != nil {
		lg.Fatal("Failed to start scheduler", zap.Error(err))
	}
	for _, st := range runner.Status() {
		lg.Info("Job scheduled", zap.String("job", st.Name), zap.Time("next_run", st.NextRun))
	}

	lg.Info("RTLS scheduler is running")

	// SIGHUP re-reads zones and runs a violation check without waiting for the next tick.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		if err := runner.Trigger(ctx, service.JobZoneRefresh); err != nil {
			lg.Warn("Zone refresh trigger failed", zap.Error(err))
		}
		window := int(cfg.Violations.CheckWindow / time.Minute)
		if window < 1 {
			window = 1
		}
		if _, err := svc.RunViolationCheck(ctx, window); err != nil {
			lg.Warn("On-demand violation check failed", zap.Error(err))
		}
	}

	lg.Info("Shutting down gracefully")
	runner.Stop()
	lg.Info("RTLS scheduler stopped")
}

// reportFleet logs the previous day's fleet KPIs and the open alert backlog.
func reportFleet(ctx context.Context, svc *service.Service, lg *zap.Logger) error {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	kpis, err := svc.FleetKPIs(ctx, yesterday)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Time("date", kpis.Date),
		zap.Int("total_agvs", kpis.TotalAGVs),
		zap.Int("active_agvs", kpis.ActiveAGVs),
		zap.Float64("total_distance_m", kpis.TotalDistance),
		zap.Int("completed_tasks", kpis.CompletedTasks),
		zap.Float64("tasks_per_hour", kpis.TasksPerHour),
	}
	if kpis.UtilizationPct != nil {
		fields = append(fields, zap.Float64("utilization_pct", *kpis.UtilizationPct))
	}
	if kpis.AvgTaskDuration != nil {
		fields = append(fields, zap.Duration("avg_task_duration", *kpis.AvgTaskDuration))
	}
	lg.Info("Fleet KPIs", fields...)

	open, err := svc.RecentEvents(ctx, 500, true)
	if err != nil {
		return err
	}
	snapshot, err := svc.FleetSnapshot(ctx)
	if err != nil {
		return err
	}
	offline := 0
	for _, e := range snapshot {
		if e.Position == nil {
			offline++
		}
	}
	lg.Info("Fleet status",
		zap.Int("agvs", len(snapshot)),
		zap.Int("without_recent_position", offline),
		zap.Int("unacknowledged_events", len(open)),
	)
	return nil
}
