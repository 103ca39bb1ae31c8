package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bookbazaar/bookbot/internal/domain"
)

const (
	inboxPrefix = "bb:inbox:"

	// convBufferSize is the per-conversation reply buffer; replies beyond it
	// are dropped rather than blocking the receive loop.
	convBufferSize = 16
	// requestBufferSize buffers unsolicited CFPs awaiting dispatch.
	requestBufferSize = 64
)

// Bus is the Redis-backed messaging transport for one agent. A single
// receive loop reads the agent's inbox channel and routes each message:
// replies go to the conversation that opened their ID, fresh CFPs and
// start-trading requests go to the Requests stream, and anything else (late
// replies after a round closed) is dropped.
type Bus struct {
	rdb    *redis.Client
	agent  string
	logger *slog.Logger

	mu       sync.Mutex
	convs    map[string]chan domain.Message
	requests chan domain.Message
}

// New connects to Redis and returns a Bus for the named agent. Start must be
// called before any message can be received.
func New(ctx context.Context, cfg ClientConfig, agent string, logger *slog.Logger) (*Bus, error) {
	rdb, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Bus{
		rdb:      rdb,
		agent:    agent,
		logger:   logger.With(slog.String("component", "redisbus")),
		convs:    make(map[string]chan domain.Message),
		requests: make(chan domain.Message, requestBufferSize),
	}, nil
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Start subscribes to the agent's inbox and launches the receive loop. The
// loop exits and the Requests channel closes when the context is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, inboxPrefix+b.agent)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redisbus: subscribe inbox: %w", err)
	}

	go func() {
		defer close(b.requests)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg domain.Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					b.logger.Warn("dropping undecodable message",
						slog.String("error", err.Error()),
					)
					continue
				}
				b.route(msg)
			}
		}
	}()

	return nil
}

// route delivers one inbound message to its conversation or to the request
// stream.
func (b *Bus) route(msg domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, open := b.convs[msg.ConversationID]; open {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("conversation buffer full, dropping reply",
				slog.String("conversation", msg.ConversationID),
				slog.String("kind", string(msg.Kind)),
			)
		}
		return
	}

	switch msg.Kind {
	case domain.KindCFP, domain.KindStartTrading:
		select {
		case b.requests <- msg:
		default:
			b.logger.Warn("request buffer full, dropping request",
				slog.String("kind", string(msg.Kind)),
				slog.String("sender", msg.Sender),
			)
		}
	default:
		// Reply for a conversation that already closed; the round it
		// belonged to timed out.
		b.logger.Debug("dropping late reply",
			slog.String("conversation", msg.ConversationID),
			slog.String("kind", string(msg.Kind)),
		)
	}
}

// Requests returns the stream of conversation-opening messages.
func (b *Bus) Requests() <-chan domain.Message {
	return b.requests
}

// Open registers a reply channel for the given conversation ID.
func (b *Bus) Open(conversationID string) domain.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Message, convBufferSize)
	b.convs[conversationID] = ch
	return &conversation{bus: b, id: conversationID, ch: ch}
}

// Send publishes one message to a peer's inbox.
func (b *Bus) Send(ctx context.Context, to string, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redisbus: marshal message: %w", err)
	}
	if err := b.rdb.Publish(ctx, inboxPrefix+to, payload).Err(); err != nil {
		return fmt.Errorf("redisbus: send to %s: %w", to, err)
	}
	return nil
}

// Broadcast publishes the same message to every listed peer.
func (b *Bus) Broadcast(ctx context.Context, to []string, msg domain.Message) error {
	for _, peer := range to {
		if err := b.Send(ctx, peer, msg); err != nil {
			return err
		}
	}
	return nil
}

// conversation is one registered reply stream.
type conversation struct {
	bus  *Bus
	id   string
	ch   chan domain.Message
	once sync.Once
}

func (c *conversation) Ch() <-chan domain.Message {
	return c.ch
}

func (c *conversation) Close() {
	c.once.Do(func() {
		c.bus.mu.Lock()
		delete(c.bus.convs, c.id)
		close(c.ch)
		c.bus.mu.Unlock()
	})
}

// Compile-time interface check.
var _ domain.Transport = (*Bus)(nil)
