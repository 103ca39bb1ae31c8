// Package domain defines the core types shared across the book trading agent:
// books, goals, offers, negotiation messages, collaborator interfaces, and
// sentinel errors.
package domain

import "time"

// Book is a tradable item. Name is the stable identity used across agents.
// ID is an opaque per-inventory identifier assigned by the environment; it is
// meaningless outside the holder's own inventory and must be re-resolved by
// name whenever a counterparty's book reference is matched against local
// stock.
type Book struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// Goal is one acquisition target: a book the agent wants and the value it
// assigns to obtaining it. Goals are fixed for the duration of a session.
type Goal struct {
	Book  Book    `json:"book"`
	Value float64 `json:"value"`
}

// Offer is one side of a proposed trade: the books plus money a party gives.
// A complete trade pairs two offers, one per direction.
type Offer struct {
	Books []Book  `json:"books,omitempty"`
	Money float64 `json:"money"`
}

// AgentInfo is the authoritative snapshot of an agent's holdings as reported
// by the environment: current inventory, session goals, and cash balance.
type AgentInfo struct {
	Books []Book  `json:"books"`
	Goals []Goal  `json:"goals"`
	Money float64 `json:"money"`
}

// FindBookByName returns the first book in inventory whose name matches.
func FindBookByName(inventory []Book, name string) (Book, bool) {
	for _, b := range inventory {
		if b.Name == name {
			return b, true
		}
	}
	return Book{}, false
}

// Transaction is a settlement request sent to the environment. The
// environment is the source of truth for ownership; the agent never applies
// inventory changes locally.
type Transaction struct {
	SenderName     string  `json:"sender_name"`
	ReceiverName   string  `json:"receiver_name"`
	ConversationID string  `json:"conversation_id"`
	SendingBooks   []Book  `json:"sending_books"`
	SendingMoney   float64 `json:"sending_money"`
	ReceivingBooks []Book  `json:"receiving_books"`
	ReceivingMoney float64 `json:"receiving_money"`
}

// SettledTrade is the journal record of one completed transaction.
type SettledTrade struct {
	ID             string
	ConversationID string
	Counterparty   string
	Side           string // "buy" or "sell"
	GaveBooks      []string
	GaveMoney      float64
	GotBooks       []string
	GotMoney       float64
	Utility        float64
	SettledAt      time.Time
}
