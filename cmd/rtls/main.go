package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/database"
	"github.com/smukkama/agv-rtls/internal/eventlog"
	"github.com/smukkama/agv-rtls/internal/ingest"
	"github.com/smukkama/agv-rtls/internal/logger"
	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/queue"
	"github.com/smukkama/agv-rtls/internal/registry"
	"github.com/smukkama/agv-rtls/internal/zones"
	"github.com/smukkama/agv-rtls/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "rtls-ingest")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	lg.Info("Starting RTLS ingestion service")

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

	if err := db.EnsurePartitions(ctx, time.Now().UTC(), cfg.Retention.PartitionsAhead+1); err != nil {
		lg.Warn("Failed to create partitions, samples will land in the default partition", zap.Error(err))
	}

	resolver := zones.NewResolver(cfg.Zones.GridCellSize, lg)
	zoneSrc := zoneSource(cfg, db)
	if err := resolver.Reload(ctx, zoneSrc); err != nil {
		lg.Fatal("Failed to load zones", zap.Error(err))
	}

	var publisher eventlog.Publisher
	if cfg.Kafka.Enabled {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, 1, 1, lg); err != nil {
			lg.Warn("Topic creation failed (may already exist)", zap.String("topic", cfg.Kafka.TopicEvents), zap.Error(err))
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = producer
	}
	events := eventlog.New(db, publisher, lg)

	writer := ingest.NewWriter(db, cfg.Ingest.Shards, cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval, lg)
	// Stop drains and flushes; the writer outlives the source context.
	writer.Start(context.Background())

	presence := registry.NewPresence(cfg.Ingest.PresenceTimeout)
	pipeline := ingest.NewPipeline(ingest.Options{
		RequireRegistered: cfg.Ingest.RequireRegisteredAGV,
		MaxSampleAge:      cfg.Ingest.MaxSampleAge,
		MaxSpeed:          cfg.Ingest.MaxSpeed,
	}, resolver, writer, presence, lg)

	if cfg.Ingest.RequireRegisteredAGV {
		if err := pipeline.RefreshRegistered(ctx, db); err != nil {
			lg.Fatal("Failed to load AGV registry", zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	background(func() {
		presence.Run(ctx, cfg.Ingest.PresenceSweep, time.Now, func(ctx context.Context, l registry.Lost) {
			lg.Warn("AGV connection lost",
				zap.String("agv_id", l.AGVID),
				zap.Time("last_seen", l.LastSeen),
				zap.Duration("silence", l.Silence),
			)
			ev := model.NewSystemEvent(model.EventConnectionLost, model.SeverityWarning,
				fmt.Sprintf("No telemetry from %s for %s", l.AGVID, l.Silence.Round(time.Second)),
				map[string]any{
					"last_seen":       l.LastSeen.UTC(),
					"last_zone":       l.ZoneID,
					"silence_seconds": int(l.Silence.Seconds()),
				}, time.Now()).WithAGV(l.AGVID)
			if l.ZoneID != "" {
				ev.WithZone(l.ZoneID)
			}
			if err := events.Record(ctx, ev); err != nil {
				lg.Error("Failed to record connection loss", zap.String("agv_id", l.AGVID), zap.Error(err))
			}
		})
	})

	background(func() {
		every(ctx, cfg.Zones.RefreshInterval, func() {
			if err := resolver.Reload(ctx, zoneSrc); err != nil {
				lg.Error("Zone refresh failed, keeping previous snapshot", zap.Error(err))
			}
		})
	})

	if cfg.Ingest.RequireRegisteredAGV {
		background(func() {
			every(ctx, cfg.Ingest.RegistryRefresh, func() {
				if err := pipeline.RefreshRegistered(ctx, db); err != nil {
					lg.Error("AGV registry refresh failed", zap.Error(err))
				}
			})
		})
	}


	var mqttSource *ingest.MQTTSource
	if cfg.MQTT.Enabled {
		mqttSource = ingest.NewMQTTSource(cfg.MQTT, pipeline, lg)
		if err := mqttSource.Start(ctx); err != nil {
			lg.Fatal("Failed to start MQTT source", zap.Error(err))
		}
	}

	var consumer *queue.Consumer
	if cfg.Kafka.Enabled {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicPositions, cfg.Kafka.NumPartitions, 1, lg); err != nil {
			lg.Warn("Topic creation failed (may already exist)", zap.String("topic", cfg.Kafka.TopicPositions), zap.Error(err))
		}
		consumer = queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPositions, cfg.Kafka.GroupID)
		defer consumer.Close()
		source := ingest.NewKafkaSource(consumer, pipeline, writer, cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval, lg)
		background(func() {
			if err := source.Run(ctx); err != nil {
				lg.Error("Kafka source stopped", zap.Error(err))
				cancel()
			}
		})
	}

	background(func() {
		every(ctx, time.Minute, func() {
			ws := writer.Stats()
			ps := pipeline.Stats()
			fields := []zap.Field{
				zap.Int64("accepted", ps.Accepted),
				zap.Int64("rejected", ps.Rejected),
				zap.Int64("written", ws.Written),
				zap.Int64("write_failures", ws.Failed),
				zap.Int("pending", ws.Pending),
				zap.Int("agvs_online", presence.Online()),
				zap.Any("agvs_by_zone", presence.CountByZone()),
			}
			if consumer != nil {
				ks := consumer.Stats()
				fields = append(fields, zap.Int64("kafka_messages", ks.Messages), zap.Int64("kafka_lag", ks.Lag))
			}
			lg.Info("Ingestion statistics", fields...)
		})
	})

	lg.Info("RTLS ingestion service is running",
		zap.Bool("mqtt", cfg.MQTT.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Int("zones", resolver.Snapshot().Len()),
		zap.Int("shards", cfg.Ingest.Shards),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	lg.Info("Shutting down gracefully")
	if mqttSource != nil {
		mqttSource.Stop()
	}
	cancel()
	wg.Wait()

	writer.Stop()
	lg.Info("RTLS ingestion service stopped")
}

func zoneSource(cfg *config.Config, db *database.DB) zones.Source {
	if cfg.Zones.File != "" {
		return zones.FileSource{Path: cfg.Zones.File}
	}
	return db
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
