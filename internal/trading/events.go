package trading

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bookbazaar/bookbot/internal/domain"
)

// Event is one negotiation lifecycle event pushed to the event bus and
// relayed to WebSocket clients by the status server.
type Event struct {
	Type         string   `json:"type"`
	Agent        string   `json:"agent"`
	Conversation string   `json:"conversation,omitempty"`
	Counterparty string   `json:"counterparty,omitempty"`
	Score        float64  `json:"score,omitempty"`
	Money        float64  `json:"money,omitempty"`
	Books        []string `json:"books,omitempty"`
	At           string   `json:"at"`
}

// EventPublisher serializes events to JSON and publishes them on a fixed bus
// channel. Publish failures are logged and otherwise ignored; events are
// best-effort.
type EventPublisher struct {
	bus     domain.EventBus
	channel string
	logger  *slog.Logger
}

// NewEventPublisher creates an EventPublisher for the given channel.
func NewEventPublisher(bus domain.EventBus, channel string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:     bus,
		channel: channel,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// Publish emits one event.
func (p *EventPublisher) Publish(ctx context.Context, ev Event) {
	ev.At = time.Now().UTC().Format(time.RFC3339Nano)
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
		p.logger.DebugContext(ctx, "event publish failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}
