package trading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bookbazaar/bookbot/internal/domain"
)

// Notifier is the subset of the notification fan-out the coordinator uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the round-level protocol parameters.
type Config struct {
	// Service is the directory service type the agent registers under and
	// solicits peers from.
	Service string
	// TickInterval is how often a purchase round is initiated.
	TickInterval time.Duration
	// ReplyDeadline bounds how long a broadcast waits for responses, and how
	// long a sale offer stays open.
	ReplyDeadline time.Duration
	// SettleTimeout bounds the wait for settlement confirmation.
	SettleTimeout time.Duration
	// AutoStart begins the session at Run instead of waiting for a
	// start-trading request from the environment.
	AutoStart bool
}

// Coordinator drives negotiation rounds to completion. It initiates one
// purchase round per tick, services inbound CFPs concurrently, and hands
// committed trades to the settlement authority. Every round is independent;
// a failed or timed-out round ends quietly without retry.
type Coordinator struct {
	cfg     Config
	trader  *Trader
	dir     domain.Directory
	tp      domain.Transport
	env     domain.Settlement
	journal domain.TradeJournal // optional
	events  *EventPublisher     // optional
	notify  Notifier            // optional
	logger  *slog.Logger

	endedOnce sync.Once
}

// NewCoordinator wires a Coordinator. journal, events, and notify may be nil.
func NewCoordinator(cfg Config, trader *Trader, dir domain.Directory, tp domain.Transport, env domain.Settlement, journal domain.TradeJournal, events *EventPublisher, notify Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		trader:  trader,
		dir:     dir,
		tp:      tp,
		env:     env,
		journal: journal,
		events:  events,
		notify:  notify,
		logger:  logger.With(slog.String("component", "coordinator")),
	}
}

// Run registers the agent in the directory and starts the dispatch and ticker
// loops. It blocks until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.dir.Register(ctx, c.cfg.Service, c.trader.Name()); err != nil {
		return fmt.Errorf("coordinator: register: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.dir.Deregister(dctx, c.cfg.Service, c.trader.Name())
	}()

	if c.cfg.AutoStart {
		if err := c.startSession(ctx); err != nil {
			return fmt.Errorf("coordinator: auto start: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.dispatchLoop(ctx) })
	g.Go(func() error { return c.tickLoop(ctx) })
	return g.Wait()
}

// dispatchLoop consumes conversation-opening messages and switches on kind.
func (c *Coordinator) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.tp.Requests():
			if !ok {
				return nil
			}
			switch msg.Kind {
			case domain.KindStartTrading:
				if err := c.startSession(ctx); err != nil {
					c.logger.ErrorContext(ctx, "start trading failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if msg.Sender != "" {
					_ = c.tp.Send(ctx, msg.Sender, msg.Reply(domain.KindInform, c.trader.Name()))
				}
			case domain.KindCFP:
				go c.respond(ctx, msg)
			default:
				// Not a conversation opener; refuse so the sender is not
				// left waiting.
				c.logger.DebugContext(ctx, "unexpected request kind",
					slog.String("kind", string(msg.Kind)),
					slog.String("sender", msg.Sender),
				)
				if msg.Sender != "" {
					_ = c.tp.Send(ctx, msg.Sender, msg.Reply(domain.KindRefuse, c.trader.Name()))
				}
			}
		}
	}
}

// tickLoop initiates one purchase round per tick while the session is live.
func (c *Coordinator) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !c.trader.Started() {
				continue
			}
			if c.trader.Expired() {
				c.endedOnce.Do(func() {
					c.logger.InfoContext(ctx, "trading session ended")
					c.publish(ctx, Event{Type: "session_ended"})
					if c.notify != nil {
						_ = c.notify.Notify(ctx, "session_ended", "Session ended",
							fmt.Sprintf("agent %s stopped trading", c.trader.Name()))
					}
				})
				continue
			}
			go c.initiate(ctx)
		}
	}
}

// startSession fetches the authoritative snapshot and begins trading.
func (c *Coordinator) startSession(ctx context.Context) error {
	info, err := c.env.MyInfo(ctx, c.trader.Name())
	if err != nil {
		return fmt.Errorf("fetch agent info: %w", err)
	}
	if err := c.trader.Start(info); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "trading session started",
		slog.Int("books", len(info.Books)),
		slog.Int("goals", len(info.Goals)),
		slog.Float64("money", info.Money),
	)
	c.publish(ctx, Event{Type: "session_started", Money: info.Money})
	if c.notify != nil {
		_ = c.notify.Notify(ctx, "session_started", "Session started",
			fmt.Sprintf("agent %s trading with %.2f", c.trader.Name(), info.Money))
	}
	return nil
}

// initiate runs one outbound purchase round: broadcast, collect, score,
// accept one winner, settle.
func (c *Coordinator) initiate(ctx context.Context) {
	peers, err := c.dir.Search(ctx, c.cfg.Service)
	if err != nil {
		c.logger.WarnContext(ctx, "directory search failed", slog.String("error", err.Error()))
		return
	}
	others := peers[:0:0]
	for _, p := range peers {
		if p != c.trader.Name() {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return
	}

	wanted, err := c.trader.ProposePurchase()
	if err != nil || len(wanted) == 0 {
		return
	}

	convID := uuid.NewString()
	conv := c.tp.Open(convID)
	defer conv.Close()

	deadline := time.Now().Add(c.cfg.ReplyDeadline)
	cfp := domain.Message{
		Kind:           domain.KindCFP,
		ConversationID: convID,
		Sender:         c.trader.Name(),
		ReplyBy:        deadline,
		Wanted:         wanted,
	}
	if err := c.tp.Broadcast(ctx, others, cfp); err != nil {
		c.logger.WarnContext(ctx, "broadcast failed", slog.String("error", err.Error()))
		return
	}
	c.publish(ctx, Event{Type: "cfp_sent", Conversation: convID, Books: bookNames(wanted)})

	responses := c.collect(ctx, conv, deadline, len(others))
	winner := c.chooseWinner(ctx, responses)
	if winner == nil {
		c.logger.DebugContext(ctx, "round ended without winner",
			slog.String("conversation", convID),
			slog.Int("responses", len(responses)),
		)
		return
	}

	if err := c.trader.Reserve(convID, winner.Offer.Books); err != nil {
		// The books we would pay with were committed to another round in
		// the meantime; withdraw.
		_ = c.tp.Send(ctx, winner.Response.Sender, winner.Response.Reply(domain.KindReject, c.trader.Name()))
		return
	}
	defer c.trader.Release(convID)

	accept := winner.Response.Reply(domain.KindAccept, c.trader.Name())
	accept.Chosen = &winner.Offer
	if err := c.tp.Send(ctx, winner.Response.Sender, accept); err != nil {
		c.logger.WarnContext(ctx, "accept send failed", slog.String("error", err.Error()))
		return
	}
	c.publish(ctx, Event{
		Type:         "offer_accepted",
		Conversation: convID,
		Counterparty: winner.Response.Sender,
		Score:        winner.Score,
		Money:        winner.Offer.Money,
	})

	reply, ok := c.await(ctx, conv, time.Now().Add(c.cfg.SettleTimeout), domain.KindInform, domain.KindFailure)
	if !ok || reply.Kind != domain.KindInform {
		c.logger.WarnContext(ctx, "seller never confirmed, abandoning round",
			slog.String("conversation", convID),
		)
		return
	}

	tx := domain.Transaction{
		SenderName:     c.trader.Name(),
		ReceiverName:   winner.Response.Sender,
		ConversationID: convID,
		SendingBooks:   winner.Offer.Books,
		SendingMoney:   winner.Offer.Money,
		ReceivingBooks: winner.WillSell,
		ReceivingMoney: 0,
	}
	c.settle(ctx, tx, "buy", winner.Score)
}

// collect gathers propose/refuse replies until the deadline or until every
// peer has answered. Late replies are dropped by the transport once the
// conversation closes.
func (c *Coordinator) collect(ctx context.Context, conv domain.Conversation, deadline time.Time, max int) []domain.Message {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	var responses []domain.Message
	for len(responses) < max {
		select {
		case <-ctx.Done():
			return responses
		case <-timer.C:
			return responses
		case msg, ok := <-conv.Ch():
			if !ok {
				return responses
			}
			if msg.Kind == domain.KindPropose || msg.Kind == domain.KindRefuse {
				responses = append(responses, msg)
			}
		}
	}
	return responses
}

// chooseWinner scores every response's best fulfillable alternative, keeps a
// single running best, and rejects everything else as it goes. Refusals are
// skipped. Ties keep the earlier response.
func (c *Coordinator) chooseWinner(ctx context.Context, responses []domain.Message) *ScoredOffer {
	var best *ScoredOffer
	for _, resp := range responses {
		if resp.Kind != domain.KindPropose {
			continue
		}

		candidate := c.trader.EvaluateResponse(resp)
		if candidate == nil {
			_ = c.tp.Send(ctx, resp.Sender, resp.Reply(domain.KindReject, c.trader.Name()))
			continue
		}
		c.publish(ctx, Event{
			Type:         "offer_scored",
			Conversation: resp.ConversationID,
			Counterparty: resp.Sender,
			Score:        candidate.Score,
		})

		switch {
		case best == nil:
			best = candidate
		case candidate.Score > best.Score:
			_ = c.tp.Send(ctx, best.Response.Sender, best.Response.Reply(domain.KindReject, c.trader.Name()))
			best = candidate
		default:
			_ = c.tp.Send(ctx, resp.Sender, resp.Reply(domain.KindReject, c.trader.Name()))
		}
	}
	return best
}

// respond services one inbound CFP as the selling side.
func (c *Coordinator) respond(ctx context.Context, cfp domain.Message) {
	if cfp.Sender == "" {
		return
	}

	conv := c.tp.Open(cfp.ConversationID)
	defer conv.Close()

	sellBooks, offers, err := c.trader.PrepareSale(cfp.Wanted)
	if err != nil {
		_ = c.tp.Send(ctx, cfp.Sender, cfp.Reply(domain.KindRefuse, c.trader.Name()))
		return
	}

	proposal := cfp.Reply(domain.KindPropose, c.trader.Name())
	proposal.WillSell = sellBooks
	proposal.Offers = offers
	proposal.ReplyBy = time.Now().Add(c.cfg.ReplyDeadline)
	if err := c.tp.Send(ctx, cfp.Sender, proposal); err != nil {
		c.logger.WarnContext(ctx, "proposal send failed", slog.String("error", err.Error()))
		return
	}

	decision, ok := c.await(ctx, conv, proposal.ReplyBy, domain.KindAccept, domain.KindReject)
	if !ok || decision.Kind != domain.KindAccept {
		return
	}
	if decision.Chosen == nil {
		_ = c.tp.Send(ctx, cfp.Sender, cfp.Reply(domain.KindFailure, c.trader.Name()))
		return
	}

	if err := c.trader.Reserve(cfp.ConversationID, sellBooks); err != nil {
		// Another round committed these books first; the buyer's acceptance
		// cannot be honored.
		_ = c.tp.Send(ctx, cfp.Sender, cfp.Reply(domain.KindFailure, c.trader.Name()))
		return
	}
	defer c.trader.Release(cfp.ConversationID)

	tx := domain.Transaction{
		SenderName:     c.trader.Name(),
		ReceiverName:   cfp.Sender,
		ConversationID: cfp.ConversationID,
		SendingBooks:   sellBooks,
		SendingMoney:   0,
		ReceivingBooks: decision.Chosen.Books,
		ReceivingMoney: decision.Chosen.Money,
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.SettleTimeout)
	defer cancel()
	if err := c.env.MakeTransaction(sctx, tx); err != nil {
		c.logger.ErrorContext(ctx, "settlement failed",
			slog.String("conversation", cfp.ConversationID),
			slog.String("error", err.Error()),
		)
		_ = c.tp.Send(ctx, cfp.Sender, cfp.Reply(domain.KindFailure, c.trader.Name()))
		return
	}

	_ = c.tp.Send(ctx, cfp.Sender, cfp.Reply(domain.KindInform, c.trader.Name()))
	c.finishSettled(ctx, tx, "sell", 0)
}

// settle files the initiator's side of the transaction and refreshes state.
func (c *Coordinator) settle(ctx context.Context, tx domain.Transaction, side string, score float64) {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SettleTimeout)
	defer cancel()

	if err := c.env.MakeTransaction(sctx, tx); err != nil {
		// No local rollback: the next authoritative refresh is the truth.
		c.logger.ErrorContext(ctx, "settlement failed",
			slog.String("conversation", tx.ConversationID),
			slog.String("error", err.Error()),
		)
		c.publish(ctx, Event{Type: "error", Conversation: tx.ConversationID})
		return
	}
	c.finishSettled(ctx, tx, side, score)
}

// finishSettled refreshes the snapshot from the environment and records the
// completed trade.
func (c *Coordinator) finishSettled(ctx context.Context, tx domain.Transaction, side string, score float64) {
	info, err := c.env.MyInfo(ctx, c.trader.Name())
	if err != nil {
		c.logger.WarnContext(ctx, "state refresh failed", slog.String("error", err.Error()))
	} else {
		c.trader.Refresh(info)
	}

	trade := domain.SettledTrade{
		ID:             uuid.NewString(),
		ConversationID: tx.ConversationID,
		Counterparty:   tx.ReceiverName,
		Side:           side,
		GaveBooks:      bookNames(tx.SendingBooks),
		GaveMoney:      tx.SendingMoney,
		GotBooks:       bookNames(tx.ReceivingBooks),
		GotMoney:       tx.ReceivingMoney,
		Utility:        score,
		SettledAt:      time.Now().UTC(),
	}
	if c.journal != nil {
		if err := c.journal.Insert(ctx, trade); err != nil {
			c.logger.WarnContext(ctx, "journal insert failed", slog.String("error", err.Error()))
		}
	}

	c.logger.InfoContext(ctx, "trade settled",
		slog.String("conversation", tx.ConversationID),
		slog.String("side", side),
		slog.String("counterparty", tx.ReceiverName),
		slog.Float64("gave_money", tx.SendingMoney),
		slog.Float64("got_money", tx.ReceivingMoney),
	)
	c.publish(ctx, Event{
		Type:         "trade_settled",
		Conversation: tx.ConversationID,
		Counterparty: tx.ReceiverName,
		Score:        score,
		Money:        tx.SendingMoney,
		Books:        trade.GaveBooks,
	})
	if c.notify != nil {
		_ = c.notify.Notify(ctx, "trade_settled", "Trade settled",
			fmt.Sprintf("%s %s with %s (%.2f out, %.2f in)",
				c.trader.Name(), side, tx.ReceiverName, tx.SendingMoney, tx.ReceivingMoney))
	}
}

// await waits for the first message of one of the given kinds, until the
// deadline. The second return is false on timeout or cancellation.
func (c *Coordinator) await(ctx context.Context, conv domain.Conversation, deadline time.Time, kinds ...domain.MessageKind) (domain.Message, bool) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.Message{}, false
		case <-timer.C:
			return domain.Message{}, false
		case msg, ok := <-conv.Ch():
			if !ok {
				return domain.Message{}, false
			}
			for _, k := range kinds {
				if msg.Kind == k {
					return msg, true
				}
			}
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, ev Event) {
	if c.events == nil {
		return
	}
	ev.Agent = c.trader.Name()
	c.events.Publish(ctx, ev)
}

func bookNames(books []domain.Book) []string {
	names := make([]string, 0, len(books))
	for _, b := range books {
		names = append(names, b.Name)
	}
	return names
}
