package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/protocol"
)

type mail struct{ subject, body string }

type fakeSender struct {
	mu   sync.Mutex
	sent []mail
	err  error
}

func (f *fakeSender) Send(subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, mail{subject, body})
	return nil
}

func encoded(t *testing.T, sev model.Severity) []byte {
	t.Helper()
	ev := model.NewSystemEvent(model.EventZoneViolation, sev, "AGV-007 entered Paint Booth",
		map[string]string{"violation": "RESTRICTED_ZONE_ENTRY"},
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)).
		WithAGV("AGV-007").WithZone("Z-PAINT")
	data, err := protocol.EncodeEvent(ev)
	require.NoError(t, err)
	return data
}

func TestNotifier_FiltersBySeverity(t *testing.T) {
	sender := &fakeSender{}
	n, err := NewNotifier(sender, "ERROR", zap.NewNop())
	require.NoError(t, err)

	for _, sev := range []model.Severity{model.SeverityInfo, model.SeverityWarning, model.SeverityError, model.SeverityCritical} {
		ev, err := protocol.DecodeEvent(encoded(t, sev))
		require.NoError(t, err)
		_, err = n.Notify(ev)
		require.NoError(t, err)
	}

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "[ERROR] ZONE_VIOLATION - AGV-007 @ Z-PAINT", sender.sent[0].subject)
	assert.Contains(t, sender.sent[1].body, "AGV-007 entered Paint Booth")
	assert.Contains(t, sender.sent[1].body, "Zone:      Z-PAINT")
	assert.Contains(t, sender.sent[1].body, "RESTRICTED_ZONE_ENTRY")
}

func TestNewNotifier_RejectsUnknownSeverity(t *testing.T) {
	_, err := NewNotifier(&fakeSender{}, "LOUD", zap.NewNop())
	assert.ErrorIs(t, err, model.ErrUnknownSeverity)
}

type scriptedReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptedReader) Consume(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptedReader) Commit(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func TestNotifier_ConsumeCommitsOnlyDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	garbage, _ := json.Marshal("not an event")
	reader := &scriptedReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: encoded(t, model.SeverityCritical)},
			{Offset: 2, Value: garbage},
			{Offset: 3, Value: encoded(t, model.SeverityInfo)},
		},
		cancel: cancel,
	}
	sender := &fakeSender{}
	n, err := NewNotifier(sender, "WARNING", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, n.Consume(ctx, reader))
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	assert.Len(t, sender.sent, 1)
}

func TestNotifier_ConsumeLeavesFailedSendUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{
		msgs:   []kafka.Message{{Offset: 7, Value: encoded(t, model.SeverityCritical)}},
		cancel: cancel,
	}
	n, err := NewNotifier(&fakeSender{err: errors.New("smtp down")}, "ERROR", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, n.Consume(ctx, reader))
	assert.Empty(t, reader.committed)
}
