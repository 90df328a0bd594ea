// Package events publishes device telemetry to NATS so back-office tooling
// can observe field devices without polling them. Publishing is strictly
// fire-and-forget: no consumer, broker outage, or slow network may ever stall
// the capture workflow.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/divertscan/fieldsync/internal/config"
	"github.com/divertscan/fieldsync/internal/logfields"
	"github.com/divertscan/fieldsync/internal/session"
	"github.com/divertscan/fieldsync/internal/syncer"
)

// SessionEvent is the wire shape of a session transition notification.
type SessionEvent struct {
	DeviceTenant string    `json:"tenant"`
	SessionID    string    `json:"session_id"`
	State        string    `json:"state"`
	ProjectID    string    `json:"project_id"`
	TicketNumber string    `json:"ticket_number,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeliveryEvent is the wire shape of a sync delivery outcome notification.
type DeliveryEvent struct {
	DeviceTenant string    `json:"tenant"`
	OperationID  string    `json:"operation_id"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	Outcome      string    `json:"outcome"`
	StatusCode   int       `json:"status_code,omitempty"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// QueueDepthEvent is the wire shape of a queue depth change notification.
type QueueDepthEvent struct {
	DeviceTenant string    `json:"tenant"`
	Depth        int       `json:"depth"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher publishes fieldsync telemetry over a core NATS connection.
// Subjects are <prefix>.session, <prefix>.delivery and <prefix>.queue.depth.
type Publisher struct {
	conn   *nats.Conn
	tenant string
	prefix string
}

// NewPublisher connects to NATS using the events configuration. It returns an
// error when events are disabled so the caller composes a nil publisher
// explicitly rather than carrying a half-connected one.
func NewPublisher(tenant string, cfg config.EventsConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("events are disabled")
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("fieldsync-"+tenant),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS event publisher connected",
		"url", cfg.NATSURL,
		"subject_prefix", cfg.SubjectPrefix)

	return &Publisher{
		conn:   conn,
		tenant: tenant,
		prefix: cfg.SubjectPrefix,
	}, nil
}

// PublishSession publishes a session transition. A nil publisher discards.
func (p *Publisher) PublishSession(ev session.Event, now time.Time) {
	if p == nil {
		return
	}
	p.publish(p.prefix+".session", SessionEvent{
		DeviceTenant: p.tenant,
		SessionID:    ev.SessionID,
		State:        string(ev.State),
		ProjectID:    ev.Session.Metadata.ProjectID,
		TicketNumber: ev.Session.TicketNumber,
		Timestamp:    now,
	})
}

// PublishDelivery publishes a sync delivery outcome. A nil publisher discards.
func (p *Publisher) PublishDelivery(res syncer.Result, now time.Time) {
	if p == nil {
		return
	}
	ev := DeliveryEvent{
		DeviceTenant: p.tenant,
		OperationID:  res.Operation.ID,
		Endpoint:     res.Operation.Endpoint,
		Method:       res.Operation.Method,
		Outcome:      string(res.Outcome),
		StatusCode:   res.StatusCode,
		Attempts:     res.Operation.Attempts,
		Timestamp:    now,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	p.publish(p.prefix+".delivery", ev)
}

// PublishQueueDepth publishes a queue depth change. A nil publisher discards.
func (p *Publisher) PublishQueueDepth(depth int, now time.Time) {
	if p == nil {
		return
	}
	p.publish(p.prefix+".queue.depth", QueueDepthEvent{
		DeviceTenant: p.tenant,
		Depth:        depth,
		Timestamp:    now,
	})
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Could not marshal event payload", "subject", subject, logfields.Error(err))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Debug("Event publish failed", "subject", subject, logfields.Error(err))
	}
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Flush()
	p.conn.Close()
}
