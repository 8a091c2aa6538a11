/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process calendar events to NATS so other
// services can react to new calendars.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/events"
	"github.com/friendsincode/rerun_calendar/internal/telemetry"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "reruncal.events."

// Publisher is the subset of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Name:          "reruncal",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Message is the JSON body published for each event.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Forwarder republishes bus events on NATS.
type Forwarder struct {
	bus    *events.Bus
	pub    Publisher
	conn   *nats.Conn
	nodeID string
	logger zerolog.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

// Connect dials NATS and returns a forwarder for bus.
func Connect(cfg NATSConfig, bus *events.Bus, logger zerolog.Logger) (*Forwarder, error) {
	logger = logger.With().Str("component", "eventbus").Logger()
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("forwarding calendar events to nats")

	f := NewForwarder(bus, conn, logger)
	f.conn = conn
	return f, nil
}

// NewForwarder forwards through pub.
func NewForwarder(bus *events.Bus, pub Publisher, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		bus:    bus,
		pub:    pub,
		nodeID: nodeID(),
		logger: logger,
		now:    time.Now,
	}
}

// Run forwards every calendar event until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for _, eventType := range events.CalendarEvents {
		sub := f.bus.Subscribe(eventType)
		f.wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer f.wg.Done()
			defer f.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					f.forward(eventType, payload)
				}
			}
		}(eventType, sub)
	}
	f.wg.Wait()
}

func (f *Forwarder) forward(eventType events.EventType, payload events.Payload) {
	data, err := json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: f.now().UTC(),
		NodeID:    f.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues(string(eventType), "error").Inc()
		f.logger.Error().Err(err).Str("event", string(eventType)).Msg("encode event")
		return
	}
	if err := f.pub.Publish(SubjectPrefix+string(eventType), data); err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues(string(eventType), "error").Inc()
		f.logger.Warn().Err(err).Str("event", string(eventType)).Msg("publish event")
		return
	}
	telemetry.EventsForwardedTotal.WithLabelValues(string(eventType), "ok").Inc()
}

// Close drains the NATS connection.
func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
