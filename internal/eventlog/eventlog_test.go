package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/protocol"
)

type memStore struct {
	events []model.SystemEvent
	acked  map[string]string
	err    error
}

func (m *memStore) InsertEvent(ctx context.Context, e *model.SystemEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) Acknowledge(ctx context.Context, eventID, actor string, at time.Time) error {
	if m.acked == nil {
		m.acked = map[string]string{}
	}
	m.acked[eventID] = actor
	return nil
}

func (m *memStore) RecentEvents(ctx context.Context, limit int, unacknowledgedOnly bool) ([]model.SystemEvent, error) {
	if len(m.events) > limit {
		return m.events[:limit], nil
	}
	return m.events, nil
}

type memPublisher struct {
	keys   []string
	values [][]byte
	err    error
}

func (p *memPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestRecord_StoresThenPublishes(t *testing.T) {
	store, pub := &memStore{}, &memPublisher{}
	l := New(store, pub, zap.NewNop())

	ev := model.NewSystemEvent(model.EventZoneViolation, model.SeverityCritical, "AGV entered restricted zone", nil, now).
		WithAGV("A1").WithZone("Z9")
	require.NoError(t, l.Record(context.Background(), ev))

	require.Len(t, store.events, 1)
	require.Len(t, pub.values, 1)
	assert.Equal(t, "A1", pub.keys[0])

	n, err := protocol.DecodeEvent(pub.values[0])
	require.NoError(t, err)
	assert.Equal(t, ev.ID, n.EventID)
	assert.Equal(t, "ZONE_VIOLATION", n.EventType)
}

func TestRecord_PublishFailureIsNotAnError(t *testing.T) {
	store := &memStore{}
	l := New(store, &memPublisher{err: errors.New("broker down")}, zap.NewNop())

	ev := model.NewSystemEvent(model.EventMaintenance, model.SeverityInfo, "archived", nil, now)
	require.NoError(t, l.Record(context.Background(), ev))
	assert.Len(t, store.events, 1)
}

func TestRecord_StoreFailureSkipsPublish(t *testing.T) {
	pub := &memPublisher{}
	l := New(&memStore{err: errors.New("db down")}, pub, zap.NewNop())

	ev := model.NewSystemEvent(model.EventMaintenance, model.SeverityInfo, "archived", nil, now)
	assert.Error(t, l.Record(context.Background(), ev))
	assert.Empty(t, pub.values)
}

func TestAcknowledge_RequiresActor(t *testing.T) {
	store := &memStore{}
	l := New(store, nil, zap.NewNop())

	assert.Error(t, l.Acknowledge(context.Background(), "e1", ""))
	require.NoError(t, l.Acknowledge(context.Background(), "e1", "operator"))
	assert.Equal(t, "operator", store.acked["e1"])
}
