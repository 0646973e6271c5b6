package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/protocol"
	"github.com/smukkama/agv-rtls/pkg/config"
)

var severityRank = map[model.Severity]int{
	model.SeverityInfo:     0,
	model.SeverityWarning:  1,
	model.SeverityError:    2,
	model.SeverityCritical: 3,
}

// Sender delivers one message.
type Sender interface {
	Send(subject, body string) error
}

// SMTPSender sends plain-text mail. Without credentials it only logs.
type SMTPSender struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) Send(subject, body string) error {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		s.logger.Info("SMTP not configured, alert logged only", zap.String("subject", subject), zap.String("body", body))
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := smtp.SendMail(addr, auth, s.cfg.From, s.cfg.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Info("Alert email sent", zap.String("subject", subject))
	return nil
}

// TestConnection dials the SMTP server.
func (s *SMTPSender) TestConnection() error {
	if s.cfg.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}
	client, err := smtp.Dial(fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	return client.Close()
}

var alertTemplate = template.Must(template.New("alert").Parse(`
AGV Fleet Alert
===============

Event:     {{.EventType}} ({{.Severity}})
{{- if .AGVID}}
AGV:       {{.AGVID}}{{end}}
{{- if .ZoneID}}
Zone:      {{.ZoneID}}{{end}}
Raised at: {{.CreatedAt.UTC.Format "2006-01-02 15:04:05 MST"}}
Event ID:  {{.EventID}}

{{.Message}}

Details:
{{.Details}}

Acknowledge this event once it has been handled.
`))

type alertView struct {
	EventID   string
	EventType string
	Severity  string
	AGVID     string
	ZoneID    string
	Message   string
	Details   string
	CreatedAt time.Time
}

// Notifier turns published system events into alert emails.
type Notifier struct {
	sender Sender
	min    int
	logger *zap.Logger
}

// NewNotifier sends events at or above minSeverity.
func NewNotifier(sender Sender, minSeverity string, logger *zap.Logger) (*Notifier, error) {
	sv, err := model.ParseSeverity(minSeverity)
	if err != nil {
		return nil, err
	}
	return &Notifier{sender: sender, min: severityRank[sv], logger: logger}, nil
}

// Notify sends n if it is severe enough. It reports whether mail was sent.
func (n *Notifier) Notify(ev *protocol.EventNotification) (bool, error) {
	rank, ok := severityRank[model.Severity(ev.Severity)]
	if !ok || rank < n.min {
		return false, nil
	}

	view := alertView{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		Severity:  ev.Severity,
		Message:   ev.Message,
		Details:   string(ev.Details),
		CreatedAt: ev.CreatedAt,
	}
	if ev.AGVID != nil {
		view.AGVID = *ev.AGVID
	}
	if ev.ZoneID != nil {
		view.ZoneID = *ev.ZoneID
	}

	var body bytes.Buffer
	if err := alertTemplate.Execute(&body, view); err != nil {
		return false, fmt.Errorf("failed to render alert: %w", err)
	}

	subject := fmt.Sprintf("[%s] %s", ev.Severity, ev.EventType)
	if view.AGVID != "" {
		subject += " - " + view.AGVID
	}
	if view.ZoneID != "" {
		subject += " @ " + view.ZoneID
	}
	if err := n.sender.Send(subject, body.String()); err != nil {
		return false, err
	}
	return true, nil
}

// MessageReader is the consumer side of the events topic.
type MessageReader interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Consume reads events until ctx is done. Undecodable messages are skipped
// and committed; a message whose mail could not be sent is not committed, so
// a restart retries it.
func (n *Notifier) Consume(ctx context.Context, reader MessageReader) error {
	for {
		msg, err := reader.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n.logger.Error("Failed to consume event", zap.Error(err))
			continue
		}

		ev, err := protocol.DecodeEvent(msg.Value)
		if err != nil {
			n.logger.Warn("Skipping undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
		} else if _, err := n.Notify(ev); err != nil {
			n.logger.Error("Failed to send alert", zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}

		if err := reader.Commit(ctx, msg); err != nil {
			n.logger.Error("Failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
