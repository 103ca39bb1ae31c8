package trading

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/bookbazaar/bookbot/internal/domain"
	"github.com/bookbazaar/bookbot/internal/valuation"
)

// Trader owns every piece of mutable negotiation state: the valuation model,
// the inventory snapshot, the proposer's round-robin cursor, and the optional
// reservation ledger. Concurrent rounds all funnel through its mutex, so EMA
// updates and cursor advances never interleave.
type Trader struct {
	mu sync.Mutex

	name     string
	model    *valuation.Model
	proposer *Proposer
	eval     *Evaluator

	books []domain.Book
	money float64

	// reserveOn enables the cross-round reservation ledger that closes the
	// same-book double-commit race. Off by default to match the legacy
	// behavior, where each round validates only against its own snapshot.
	reserveOn bool
	reserved  map[string]string // book name -> conversation holding it
}

// NewTrader assembles a Trader and its owned components.
func NewTrader(name string, valCfg valuation.Config, propCfg ProposerConfig, clock domain.Clock, rng *rand.Rand, reserveInventory bool) *Trader {
	model := valuation.New(valCfg, clock)
	return &Trader{
		name:      name,
		model:     model,
		proposer:  NewProposer(propCfg, model, rng),
		eval:      NewEvaluator(model),
		reserveOn: reserveInventory,
		reserved:  make(map[string]string),
	}
}

// Name returns the agent's name.
func (t *Trader) Name() string { return t.name }

// Start begins a trading session from the authoritative snapshot.
func (t *Trader) Start(info *domain.AgentInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.model.Start(info.Goals, info.Books); err != nil {
		return err
	}
	t.books = append([]domain.Book(nil), info.Books...)
	t.money = info.Money
	t.reserved = make(map[string]string)
	return nil
}

// Refresh replaces the inventory snapshot after a settled transaction and
// recomputes the derived non-goal set.
func (t *Trader) Refresh(info *domain.AgentInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.books = append([]domain.Book(nil), info.Books...)
	t.money = info.Money
	t.model.Refresh(t.books)
}

// Started reports whether a session is active.
func (t *Trader) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model.Started()
}

// Expired reports whether the session has run past its trading duration.
func (t *Trader) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model.Expired()
}

// ProposePurchase returns the books to solicit in the next purchase round.
func (t *Trader) ProposePurchase() ([]domain.Book, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.model.Started() {
		return nil, domain.ErrNotStarted
	}
	return t.proposer.ProposePurchase(), nil
}

// PrepareSale services an inbound CFP: it re-resolves every requested book
// against live inventory by name and, when all are held, builds the two sale
// alternatives. A request naming any book the agent does not hold (or that a
// concurrent round has reserved) returns ErrUnfulfillable.
func (t *Trader) PrepareSale(wanted []domain.Book) ([]domain.Book, []domain.Offer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.model.Started() {
		return nil, nil, domain.ErrNotStarted
	}
	if len(wanted) == 0 {
		return nil, nil, domain.ErrNotUnderstood
	}

	sellBooks := make([]domain.Book, 0, len(wanted))
	for _, w := range wanted {
		if t.reserveOn && t.reserved[w.Name] != "" {
			return nil, nil, fmt.Errorf("%s: %w", w.Name, domain.ErrUnfulfillable)
		}
		local, held := domain.FindBookByName(t.books, w.Name)
		if !held {
			return nil, nil, fmt.Errorf("%s: %w", w.Name, domain.ErrUnfulfillable)
		}
		sellBooks = append(sellBooks, local)
	}

	return sellBooks, t.proposer.ProposeSale(sellBooks, t.books), nil
}

// ScoredOffer is one fulfillable alternative from a propose reply, with its
// utility and the reply it came from.
type ScoredOffer struct {
	Offer    domain.Offer
	WillSell []domain.Book
	Score    float64
	Response domain.Message
}

// EvaluateResponse scores every alternative in one propose reply and returns
// the best fulfillable one, or nil when none passes the filter and the margin
// threshold. Scoring feeds observations into the valuation model even for
// alternatives that end up rejected.
func (t *Trader) EvaluateResponse(resp domain.Message) *ScoredOffer {
	t.mu.Lock()
	defer t.mu.Unlock()

	offered := domain.Offer{Books: resp.WillSell}

	var best *ScoredOffer
	for _, alt := range resp.Offers {
		resolved, ok := t.eval.Fulfillable(alt, t.books, t.money, t.reservedSet())
		if !ok {
			continue
		}
		score := t.eval.Score(resolved, offered)
		if score <= t.model.Margin() {
			continue
		}
		if best == nil || score > best.Score {
			best = &ScoredOffer{
				Offer:    resolved,
				WillSell: resp.WillSell,
				Score:    score,
				Response: resp,
			}
		}
	}
	return best
}

func (t *Trader) reservedSet() map[string]bool {
	if !t.reserveOn || len(t.reserved) == 0 {
		return nil
	}
	set := make(map[string]bool, len(t.reserved))
	for name := range t.reserved {
		set[name] = true
	}
	return set
}

// Reserve places a tentative hold on the books a round has committed to give
// away, keyed by conversation. No-op unless reservation is enabled.
func (t *Trader) Reserve(conversationID string, books []domain.Book) error {
	if !t.reserveOn {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range books {
		if holder, held := t.reserved[b.Name]; held && holder != conversationID {
			return fmt.Errorf("%s held by %s: %w", b.Name, holder, domain.ErrReserved)
		}
	}
	for _, b := range books {
		t.reserved[b.Name] = conversationID
	}
	return nil
}

// Release drops every hold placed by the given conversation.
func (t *Trader) Release(conversationID string) {
	if !t.reserveOn {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, holder := range t.reserved {
		if holder == conversationID {
			delete(t.reserved, name)
		}
	}
}

// Status is a point-in-time view of the trader for the status server.
type Status struct {
	Agent     string   `json:"agent"`
	Phase     string   `json:"phase"`
	Money     float64  `json:"money"`
	Books     []string `json:"books"`
	Estimates int      `json:"estimates"`
}

// Snapshot returns the current status.
func (t *Trader) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.books))
	for _, b := range t.books {
		names = append(names, b.Name)
	}
	return Status{
		Agent:     t.name,
		Phase:     t.model.Phase(),
		Money:     t.money,
		Books:     names,
		Estimates: t.model.EstimateCount(),
	}
}
