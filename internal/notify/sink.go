// Package notify turns bus and gateway lifecycle events into Discord
// channel messages.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/spidees/scum-server-automation/internal/domain"
	"github.com/spidees/scum-server-automation/internal/gateway"
)

// Embed accent colors
const (
	colorGreen  = 0x2ECC71
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
	colorBlue   = 0x3498DB
	colorGrey   = 0x95A5A6
)

// Messenger is the outbound half of the Discord API the sink needs
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string, embed *gateway.Embed) (*gateway.Message, error)
}

// Subscriber delivers every domain event published on the bus
type Subscriber interface {
	SubscribeAll(handler func(domain.Event)) (*nats.Subscription, error)
}

// Sink consumes domain and lifecycle events and posts them to a channel.
// Send failures are logged and dropped; notifications never push back on
// the producers.
type Sink struct {
	rest      Messenger
	channelID string
	log       zerolog.Logger

	sub *nats.Subscription
}

// NewSink creates a sink posting to the given channel
func NewSink(rest Messenger, channelID string, log zerolog.Logger) *Sink {
	return &Sink{
		rest:      rest,
		channelID: channelID,
		log:       log.With().Str("component", "notify").Logger(),
	}
}

// Start subscribes to the event bus and begins consuming gateway
// lifecycle events.
func (s *Sink) Start(ctx context.Context, events Subscriber, lifecycle <-chan domain.LifecycleEvent) error {
	sub, err := events.SubscribeAll(func(ev domain.Event) {
		s.handleEvent(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	s.sub = sub

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-lifecycle:
				if !ok {
					return
				}
				s.handleLifecycle(ctx, ev)
			}
		}
	}()
	return nil
}

// Stop unsubscribes from the bus
func (s *Sink) Stop() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}

func (s *Sink) handleEvent(ctx context.Context, ev domain.Event) {
	var embed *gateway.Embed

	switch ev.Type {
	case domain.EventServerStarting:
		embed = &gateway.Embed{Title: "Server starting", Color: colorOrange}
	case domain.EventServerOnline:
		var data domain.ServerLifecycleEvent
		if err := decode(ev.Data, &data); err != nil {
			s.log.Warn().Err(err).Str("event", ev.Type).Msg("undecodable event")
			return
		}
		embed = &gateway.Embed{Title: "Server online", Color: colorGreen}
		if data.Version != "" {
			embed.Fields = []gateway.EmbedField{{Name: "Version", Value: data.Version, Inline: true}}
		}
	case domain.EventServerStopping:
		embed = &gateway.Embed{Title: "Server stopping", Color: colorOrange}
	case domain.EventServerOffline:
		embed = &gateway.Embed{Title: "Server offline", Color: colorRed}

	case domain.EventPlayerJoin:
		var data domain.PlayerJoinEvent
		if err := decode(ev.Data, &data); err != nil {
			return
		}
		embed = &gateway.Embed{
			Description: fmt.Sprintf("**%s** joined the server", data.Name),
			Color:       colorGreen,
		}
	case domain.EventPlayerLeave:
		var data domain.PlayerLeaveEvent
		if err := decode(ev.Data, &data); err != nil {
			return
		}
		embed = &gateway.Embed{
			Description: fmt.Sprintf("**%s** left the server", data.Name),
			Color:       colorGrey,
		}

	case domain.EventKill:
		var data domain.KillEvent
		if err := decode(ev.Data, &data); err != nil {
			return
		}
		desc := fmt.Sprintf("**%s** killed **%s**", data.Killer, data.Victim)
		if data.Weapon != "" {
			desc += fmt.Sprintf(" with %s", data.Weapon)
		}
		if data.Distance > 0 {
			desc += fmt.Sprintf(" (%.0fm)", data.Distance)
		}
		embed = &gateway.Embed{Description: desc, Color: colorRed}

	case domain.EventChat:
		var data domain.ChatEvent
		if err := decode(ev.Data, &data); err != nil {
			return
		}
		// Only global chat is relayed; local and squad stay in game
		if data.Channel != "global" {
			return
		}
		embed = &gateway.Embed{
			Description: fmt.Sprintf("**%s**: %s", data.Name, data.Message),
			Color:       colorBlue,
		}

	case domain.EventAdminCommand:
		var data domain.AdminCommandEvent
		if err := decode(ev.Data, &data); err != nil {
			return
		}
		embed = &gateway.Embed{
			Title:       "Admin command",
			Description: fmt.Sprintf("**%s**: `%s`", data.Name, data.Command),
			Color:       colorOrange,
		}

	default:
		return
	}

	embed.Timestamp = ev.Timestamp.Format("2006-01-02T15:04:05Z")
	s.send(ctx, embed)
}

func (s *Sink) handleLifecycle(ctx context.Context, ev domain.LifecycleEvent) {
	var embed *gateway.Embed
	switch ev.Type {
	case domain.EventGatewayConnected:
		// Routine startup, log only
		s.log.Info().Msg("gateway connected")
		return
	case domain.EventGatewayDegraded:
		s.log.Warn().Str("reason", ev.Reason).Msg("gateway degraded")
		return
	case domain.EventGatewayReconnected:
		embed = &gateway.Embed{
			Title:       "Discord connection recovered",
			Description: ev.Reason,
			Color:       colorGreen,
		}
	case domain.EventRecoveryExhausted:
		embed = &gateway.Embed{
			Title:       "Discord connection lost",
			Description: "Automatic recovery gave up. Manual intervention required.",
			Color:       colorRed,
		}
	default:
		return
	}

	embed.Timestamp = ev.Timestamp.Format("2006-01-02T15:04:05Z")
	s.send(ctx, embed)
}

func (s *Sink) send(ctx context.Context, embed *gateway.Embed) {
	if _, err := s.rest.SendMessage(ctx, s.channelID, "", embed); err != nil {
		s.log.Warn().Err(err).Msg("sending notification")
	}
}

// decode converts the envelope's loosely typed payload back into a struct.
// Payloads cross the bus as JSON, so a roundtrip is the honest conversion.
func decode(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
