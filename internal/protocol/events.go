package protocol

import (
	"encoding/json"
	"time"

	"github.com/smukkama/agv-rtls/internal/model"
)

// EventNotification is the message published for each new system event.
type EventNotification struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Severity  string          `json:"severity"`
	AGVID     *string         `json:"agv_id,omitempty"`
	ZoneID    *string         `json:"zone_id,omitempty"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// EncodeEvent encodes a system event notification
func EncodeEvent(e *model.SystemEvent) ([]byte, error) {
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	return json.Marshal(&EventNotification{
		EventID:   e.ID,
		EventType: string(e.Type),
		Severity:  string(e.Severity),
		AGVID:     e.AGVID,
		ZoneID:    e.ZoneID,
		Message:   e.Message,
		Details:   details,
		CreatedAt: e.CreatedAt,
	})
}

// DecodeEvent decodes an event notification
func DecodeEvent(data []byte) (*EventNotification, error) {
	var n EventNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
