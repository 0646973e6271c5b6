package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the consumer side of a position topic.
type MessageReader interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Flusher makes accepted samples durable.
type Flusher interface {
	Flush(ctx context.Context) error
}

// KafkaSource ingests position messages from a Kafka topic. Offsets are
// committed only after the writer has flushed the samples they carried, so
// a crash replays uncommitted messages rather than losing them.
type KafkaSource struct {
	reader         MessageReader
	handler        MessageHandler
	flusher        Flusher
	commitEvery    int
	commitInterval time.Duration
	logger         *zap.Logger
}

// NewKafkaSource creates a Kafka source that commits after every
// commitEvery messages or commitInterval, whichever comes first.
func NewKafkaSource(reader MessageReader, handler MessageHandler, flusher Flusher, commitEvery int, commitInterval time.Duration, logger *zap.Logger) *KafkaSource {
	return &KafkaSource{
		reader:         reader,
		handler:        handler,
		flusher:        flusher,
		commitEvery:    commitEvery,
		commitInterval: commitInterval,
		logger:         logger,
	}
}

// Run consumes until ctx is done or a flush fails.
func (k *KafkaSource) Run(ctx context.Context) error {
	msgChan := make(chan kafka.Message, k.commitEvery)
	go func() {
		for {
			msg, err := k.reader.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				k.logger.Warn("Kafka consume failed", zap.Error(err))
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(k.commitInterval)
	defer ticker.Stop()

	var pending []kafka.Message
	for {
		select {
		case <-ctx.Done():
			// Commit what was already handed to the writer.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := k.commit(shutdownCtx, pending)
			cancel()
			return err

		case <-ticker.C:
			if err := k.commit(ctx, pending); err != nil {
				return err
			}
			pending = nil

		case msg := <-msgChan:
			if err := k.handler.HandleMessage(ctx, msg.Value, string(msg.Key)); err != nil && !IsRejection(err) {
				return fmt.Errorf("failed to handle message at partition %d offset %d: %w", msg.Partition, msg.Offset, err)
			}
			pending = append(pending, msg)
			if len(pending) >= k.commitEvery {
				if err := k.commit(ctx, pending); err != nil {
					return err
				}
				pending = nil
			}
		}
	}
}

func (k *KafkaSource) commit(ctx context.Context, pending []kafka.Message) error {
	if len(pending) == 0 {
		return nil
	}
	if err := k.flusher.Flush(ctx); err != nil {
		if errors.Is(err, ErrWriterStopped) {
			return nil
		}
		return fmt.Errorf("flush before commit failed: %w", err)
	}
	if err := k.reader.Commit(ctx, pending...); err != nil {
		return err
	}
	k.logger.Debug("Committed Kafka offsets", zap.Int("messages", len(pending)))
	return nil
}
