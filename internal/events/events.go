// Package events publishes kiosk activity to an optional message bus so
// operators can watch a fleet of screens without polling each one.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ent0n29/kiosk/internal/observability"
)

const (
	KindVoiceState      = "voice.state"
	KindVoiceQuery      = "voice.query"
	KindModeChanged     = "presentation.mode"
	KindCatalogReloaded = "catalog.reloaded"
	KindMediaUploaded   = "admin.media_uploaded"
	KindMediaDeleted    = "admin.media_deleted"
	KindSettingsUpdated = "admin.settings_updated"
)

// Header is common to every event.
type Header struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

type Event struct {
	Header Header         `json:"header"`
	Data   map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event of kind with a fresh id.
func NewEvent(kind string, data map[string]any) Event {
	return Event{
		Header: Header{
			EventID:   uuid.NewString(),
			Kind:      kind,
			Timestamp: time.Now().UTC(),
		},
		Data: data,
	}
}

// Publisher delivers events. Publish must not block on a slow bus for long;
// callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// NATSPublisher publishes events as JSON on "<prefix>.<kind>".
type NATSPublisher struct {
	conn    *nats.Conn
	prefix  string
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewNATSPublisher(url, prefix string, metrics *observability.Metrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "events"))
	conn, err := nats.Connect(url,
		nats.Name("kioskd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %q: %w", url, err)
	}
	return NewNATSPublisherConn(conn, prefix, metrics, logger), nil
}

// NewNATSPublisherConn wraps an existing connection.
func NewNATSPublisherConn(conn *nats.Conn, prefix string, metrics *observability.Metrics, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "kiosk"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, metrics: metrics, logger: logger}
}

// Subject returns the subject an event kind is published on.
func (p *NATSPublisher) Subject(kind string) string {
	return p.prefix + "." + kind
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := p.Subject(ev.Header.Kind)
	data, err := json.Marshal(ev)
	if err != nil {
		p.metrics.ObservePublish(subject, "encode_error")
		return fmt.Errorf("encode event %s: %w", ev.Header.Kind, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.metrics.ObservePublish(subject, "error")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.metrics.ObservePublish(subject, "ok")
	return nil
}

// Close flushes buffered events and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// New returns a NATS publisher when url is set and Noop otherwise.
func New(url, prefix string, metrics *observability.Metrics, logger *slog.Logger) (Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return Noop{}, nil
	}
	pub, err := NewNATSPublisher(url, prefix, metrics, logger)
	if err != nil {
		return nil, err
	}
	return pub, nil
}
