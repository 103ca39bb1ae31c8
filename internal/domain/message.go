package domain

import "time"

// MessageKind tags the variant of a negotiation message. A single dispatch
// loop switches on the kind; there is no polymorphic handler registry.
type MessageKind string

const (
	// KindStartTrading asks the agent to begin a trading session.
	KindStartTrading MessageKind = "start_trading"
	// KindCFP is a call-for-proposals: the sender wants to buy the listed books.
	KindCFP MessageKind = "cfp"
	// KindPropose carries a responder's alternative sale offers.
	KindPropose MessageKind = "propose"
	// KindRefuse declines a CFP (requested book not held, malformed request).
	KindRefuse MessageKind = "refuse"
	// KindAccept accepts exactly one offer out of a propose reply.
	KindAccept MessageKind = "accept_proposal"
	// KindReject rejects a propose reply.
	KindReject MessageKind = "reject_proposal"
	// KindInform confirms that the sender has filed its side of the settlement.
	KindInform MessageKind = "inform"
	// KindFailure aborts a conversation after an unrecoverable error.
	KindFailure MessageKind = "failure"
)

// Message is the tagged-variant envelope exchanged between agents. Which
// payload fields are meaningful depends on Kind:
//
//	cfp:             Wanted
//	propose:         WillSell, Offers
//	accept_proposal: Chosen
//
// the remaining kinds carry no payload beyond the envelope.
type Message struct {
	Kind           MessageKind `json:"kind"`
	ConversationID string      `json:"conversation_id"`
	Sender         string      `json:"sender"`
	ReplyBy        time.Time   `json:"reply_by,omitempty"`

	Wanted   []Book  `json:"wanted,omitempty"`
	WillSell []Book  `json:"will_sell,omitempty"`
	Offers   []Offer `json:"offers,omitempty"`
	Chosen   *Offer  `json:"chosen,omitempty"`
}

// Reply builds a reply envelope for the same conversation.
func (m Message) Reply(kind MessageKind, sender string) Message {
	return Message{
		Kind:           kind,
		ConversationID: m.ConversationID,
		Sender:         sender,
	}
}
