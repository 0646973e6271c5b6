package eventlog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/protocol"
)

// Store persists events. Acknowledgement is the only mutation.
type Store interface {
	InsertEvent(ctx context.Context, e *model.SystemEvent) error
	Acknowledge(ctx context.Context, eventID, actor string, at time.Time) error
	RecentEvents(ctx context.Context, limit int, unacknowledgedOnly bool) ([]model.SystemEvent, error)
}

// Publisher fans events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Log is the append-only operational event log. Events are committed to the
// store first; publishing is best effort.
type Log struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an event log. publisher may be nil.
func New(store Store, publisher Publisher, logger *zap.Logger) *Log {
	return &Log{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// Record appends an event and publishes it.
func (l *Log) Record(ctx context.Context, e *model.SystemEvent) error {
	if err := l.store.InsertEvent(ctx, e); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("severity", string(e.Severity)),
	}
	if e.AGVID != nil {
		fields = append(fields, zap.String("agv_id", *e.AGVID))
	}
	if e.ZoneID != nil {
		fields = append(fields, zap.String("zone_id", *e.ZoneID))
	}
	l.logger.Info(e.Message, fields...)

	if l.publisher == nil {
		return nil
	}
	data, err := protocol.EncodeEvent(e)
	if err != nil {
		l.logger.Error("Failed to encode event", zap.String("event_id", e.ID), zap.Error(err))
		return nil
	}
	if err := l.publisher.Publish(ctx, publishKey(e), data); err != nil {
		l.logger.Warn("Failed to publish event", zap.String("event_id", e.ID), zap.Error(err))
	}
	return nil
}

// Acknowledge marks an event handled by actor.
func (l *Log) Acknowledge(ctx context.Context, eventID, actor string) error {
	if actor == "" {
		return fmt.Errorf("acknowledging %s: actor is required", eventID)
	}
	return l.store.Acknowledge(ctx, eventID, actor, l.now())
}

// Recent returns the newest events first.
func (l *Log) Recent(ctx context.Context, limit int, unacknowledgedOnly bool) ([]model.SystemEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.store.RecentEvents(ctx, limit, unacknowledgedOnly)
}

// publishKey keeps one subject's events on one partition.
func publishKey(e *model.SystemEvent) string {
	switch {
	case e.AGVID != nil:
		return *e.AGVID
	case e.ZoneID != nil:
		return *e.ZoneID
	default:
		return string(e.Type)
	}
}
