package violation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/agv-rtls/internal/model"
)

// Subject identifies the condition an alert is about. A nil AGVID or ZoneID
// is part of the identity. Peer names the second AGV of a pairwise alert.
type Subject struct {
	Type   model.EventType
	AGVID  *string
	ZoneID *string
	Peer   *string
}

func (s Subject) key() string {
	k := fmt.Sprintf("rtls:cooldown:%s:%s:%s", s.Type, deref(s.AGVID), deref(s.ZoneID))
	if s.Peer != nil {
		k += ":" + *s.Peer
	}
	return k
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// Cooldown is a sliding deduplication window per subject.
type Cooldown interface {
	// Acquire reports whether an alert for subj may fire at now. On true
	// the window starts at now.
	Acquire(ctx context.Context, subj Subject, window time.Duration, now time.Time) (bool, error)
	// Release undoes an Acquire whose alert could not be recorded.
	Release(ctx context.Context, subj Subject) error
}

// RedisCooldown keeps one expiring key per subject.
type RedisCooldown struct {
	redis *redis.Client
}

func NewRedisCooldown(client *redis.Client) *RedisCooldown {
	return &RedisCooldown{redis: client}
}

func (c *RedisCooldown) Acquire(ctx context.Context, subj Subject, window time.Duration, now time.Time) (bool, error) {
	ok, err := c.redis.SetNX(ctx, subj.key(), now.UTC().Format(time.RFC3339Nano), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set cooldown in Redis: %w", err)
	}
	return ok, nil
}

func (c *RedisCooldown) Release(ctx context.Context, subj Subject) error {
	return c.redis.Del(ctx, subj.key()).Err()
}

// RecentEventChecker answers whether a matching event exists since a time.
type RecentEventChecker interface {
	HasRecentEvent(ctx context.Context, eventType model.EventType, agvID, zoneID *string, since time.Time) (bool, error)
}

// EventLogCooldown derives the window from the event log itself. It is used
// when Redis is not configured. The log does not index Peer, so pairwise
// alerts share one window per leading AGV.
type EventLogCooldown struct {
	events RecentEventChecker
}

func NewEventLogCooldown(events RecentEventChecker) *EventLogCooldown {
	return &EventLogCooldown{events: events}
}

func (c *EventLogCooldown) Acquire(ctx context.Context, subj Subject, window time.Duration, now time.Time) (bool, error) {
	exists, err := c.events.HasRecentEvent(ctx, subj.Type, subj.AGVID, subj.ZoneID, now.Add(-window))
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Release is a no-op: nothing was reserved.
func (c *EventLogCooldown) Release(ctx context.Context, subj Subject) error {
	return nil
}
