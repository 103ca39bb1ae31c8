package domain

import (
	"context"
	"time"
)

// Directory locates peer agents by the service they advertise.
type Directory interface {
	// Register advertises the agent under the given service type until the
	// context is cancelled or Deregister is called.
	Register(ctx context.Context, service, agent string) error
	Deregister(ctx context.Context, service, agent string) error
	// Search returns the names of all agents currently advertising service.
	Search(ctx context.Context, service string) ([]string, error)
}

// Conversation receives the replies bound to one conversation ID. Close must
// be called when the round ends; messages arriving afterwards are dropped.
type Conversation interface {
	Ch() <-chan Message
	Close()
}

// Transport delivers negotiation messages between agents.
type Transport interface {
	// Send delivers one message to a single peer's inbox.
	Send(ctx context.Context, to string, msg Message) error
	// Broadcast delivers the same message to every listed peer.
	Broadcast(ctx context.Context, to []string, msg Message) error
	// Requests returns the stream of conversation-opening messages addressed
	// to this agent (CFPs, start-trading requests). Replies to conversations
	// opened with Open never appear here.
	Requests() <-chan Message
	// Open registers interest in replies for a conversation ID. It must be
	// called before the first message of the conversation is sent, or replies
	// may race the registration and be dropped.
	Open(conversationID string) Conversation
}

// Settlement is the external authority that moves book and money ownership
// and is the source of truth for an agent's holdings.
type Settlement interface {
	MyInfo(ctx context.Context, agent string) (*AgentInfo, error)
	MakeTransaction(ctx context.Context, tx Transaction) error
}

// TradeJournal persists settled transactions for audit and status reporting.
type TradeJournal interface {
	Insert(ctx context.Context, trade SettledTrade) error
	ListRecent(ctx context.Context, limit int) ([]SettledTrade, error)
}

// EventBus publishes and consumes raw event payloads on named channels. The
// status server's WebSocket hub bridges these events to connected clients.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Clock is an injectable time source. Valuation logic never reads the wall
// clock directly so tests can run at compressed time scales.
type Clock func() time.Time
