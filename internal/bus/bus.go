// Package bus is the in-process event backbone. An embedded NATS server
// (no listen socket) decouples the SCUM-side producers from the Discord-side
// consumers without hand-rolled fan-out plumbing.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/spidees/scum-server-automation/internal/domain"
)

const (
	subjectPrefix = "scum.events"
	readyTimeout  = 5 * time.Second
)

// Bus wraps the embedded server and a single in-process connection.
type Bus struct {
	ns   *server.Server
	conn *nats.Conn
	log  zerolog.Logger
}

// New starts the embedded server and connects to it in-process.
func New(log zerolog.Logger) (*Bus, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "scumbot",
		DontListen: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded server: %w", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded server not ready after %s", readyTimeout)
	}

	conn, err := nats.Connect("", nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect in-process: %w", err)
	}

	return &Bus{
		ns:   ns,
		conn: conn,
		log:  log.With().Str("component", "bus").Logger(),
	}, nil
}

// Publish sends an event on scum.events.<type>. Publishing is fire and
// forget; a producer never blocks on its consumers.
func (b *Bus) Publish(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	subject := subjectPrefix + "." + ev.Type
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for one event type. Malformed payloads are
// logged and skipped, never surfaced to the handler.
func (b *Bus) Subscribe(eventType string, handler func(domain.Event)) (*nats.Subscription, error) {
	subject := subjectPrefix + "." + eventType
	return b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev domain.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("discarding malformed event")
			return
		}
		handler(ev)
	})
}

// SubscribeAll registers a handler for every event on the bus.
func (b *Bus) SubscribeAll(handler func(domain.Event)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subjectPrefix+".>", func(msg *nats.Msg) {
		var ev domain.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("discarding malformed event")
			return
		}
		handler(ev)
	})
}

// Close drains the connection and shuts the embedded server down.
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.log.Warn().Err(err).Msg("drain failed")
	}
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
}
