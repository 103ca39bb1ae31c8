package redisbus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/bookbazaar/bookbot/internal/domain"
)

func newTestBus() *Bus {
	return &Bus{
		agent:    "alice",
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		convs:    make(map[string]chan domain.Message),
		requests: make(chan domain.Message, requestBufferSize),
	}
}

func TestRouteReplyToOpenConversation(t *testing.T) {
	b := newTestBus()
	conv := b.Open("conv-1")
	defer conv.Close()

	msg := domain.Message{Kind: domain.KindPropose, ConversationID: "conv-1", Sender: "bob"}
	b.route(msg)

	select {
	case got := <-conv.Ch():
		if got.Sender != "bob" || got.Kind != domain.KindPropose {
			t.Errorf("routed message = %+v", got)
		}
	default:
		t.Fatal("reply was not delivered to the conversation")
	}

	// Nothing leaks into the request stream.
	select {
	case got := <-b.Requests():
		t.Fatalf("reply leaked into requests: %+v", got)
	default:
	}
}

func TestRouteRequestKinds(t *testing.T) {
	b := newTestBus()

	b.route(domain.Message{Kind: domain.KindCFP, ConversationID: "conv-1", Sender: "bob"})
	b.route(domain.Message{Kind: domain.KindStartTrading, Sender: "env"})

	for _, want := range []domain.MessageKind{domain.KindCFP, domain.KindStartTrading} {
		select {
		case got := <-b.Requests():
			if got.Kind != want {
				t.Errorf("request kind = %q, want %q", got.Kind, want)
			}
		default:
			t.Fatalf("missing %q in request stream", want)
		}
	}
}

func TestRouteDropsLateReply(t *testing.T) {
	b := newTestBus()
	conv := b.Open("conv-1")
	conv.Close()

	b.route(domain.Message{Kind: domain.KindPropose, ConversationID: "conv-1", Sender: "bob"})

	select {
	case got := <-b.Requests():
		t.Fatalf("late reply surfaced as a request: %+v", got)
	default:
	}
}

func TestRouteDropsOverflowInsteadOfBlocking(t *testing.T) {
	b := newTestBus()
	conv := b.Open("conv-1")
	defer conv.Close()

	// One more message than the buffer holds; the surplus is dropped and the
	// call never blocks.
	for i := 0; i <= convBufferSize; i++ {
		b.route(domain.Message{Kind: domain.KindPropose, ConversationID: "conv-1"})
	}

	delivered := 0
	for {
		select {
		case <-conv.Ch():
			delivered++
			continue
		default:
		}
		break
	}
	if delivered != convBufferSize {
		t.Errorf("delivered %d messages, want %d", delivered, convBufferSize)
	}
}

func TestConversationCloseIsIdempotent(t *testing.T) {
	b := newTestBus()
	conv := b.Open("conv-1")
	conv.Close()
	conv.Close()

	// Reopening the same ID after close works.
	conv2 := b.Open("conv-1")
	defer conv2.Close()
	b.route(domain.Message{Kind: domain.KindPropose, ConversationID: "conv-1"})
	select {
	case <-conv2.Ch():
	default:
		t.Fatal("reopened conversation did not receive the reply")
	}
}

func TestDirKey(t *testing.T) {
	if got := dirKey("book-trader", "alice"); got != "bb:dir:book-trader:alice" {
		t.Errorf("dirKey = %q", got)
	}
}
