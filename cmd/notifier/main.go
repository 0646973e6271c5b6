package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/logger"
	"github.com/smukkama/agv-rtls/internal/notification"
	"github.com/smukkama/agv-rtls/internal/queue"
	"github.com/smukkama/agv-rtls/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "rtls-notifier")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	if !cfg.Kafka.Enabled {
		lg.Fatal("The notifier consumes the events topic and needs KAFKA_ENABLED=true")
	}

	sender := notification.NewSMTPSender(cfg.SMTP, lg)
	if err := sender.TestConnection(); err != nil {
		lg.Warn("SMTP unavailable, alerts will be logged only", zap.Error(err))
	}

	notifier, err := notification.NewNotifier(sender, cfg.SMTP.MinSeverity, lg)
	if err != nil {
		lg.Fatal("Invalid NOTIFY_MIN_SEVERITY", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.SMTP.GroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- notifier.Consume(ctx, consumer) }()

	lg.Info("RTLS notifier is running",
		zap.String("topic", cfg.Kafka.TopicEvents),
		zap.String("min_severity", cfg.SMTP.MinSeverity),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("Shutting down gracefully")
	cancel()
	if err := <-done; err != nil {
		lg.Error("Notifier stopped with error", zap.Error(err))
	}
}
