// Package trading implements the negotiation core: proposal generation,
// offer evaluation, the serialized trader state, and the coordinator that
// drives purchase and sale rounds over the transport.
package trading

import (
	"math/rand"

	"github.com/bookbazaar/bookbot/internal/domain"
	"github.com/bookbazaar/bookbot/internal/valuation"
)

// ProposerConfig holds the randomized widening knobs for proposal generation.
type ProposerConfig struct {
	// BatchProbability is the chance of widening a purchase request by one
	// more goal book. Each extra slot is granted independently, so larger
	// batches become geometrically less likely.
	BatchProbability float64
	// SaleSkipProbability is the chance of passing over a candidate book when
	// sampling the items-plus-money sale alternative.
	SaleSkipProbability float64
}

// Proposer decides what to request when initiating a purchase round and what
// priced offers to present when servicing a counterparty's request. The
// round-robin cursor persists across rounds so repeated rounds eventually
// touch every goal. Not safe for concurrent use; the Trader serializes calls.
type Proposer struct {
	cfg    ProposerConfig
	model  *valuation.Model
	rng    *rand.Rand
	cursor int
}

// NewProposer creates a Proposer over the given model. The rng is injected so
// tests can pin the widening decisions.
func NewProposer(cfg ProposerConfig, model *valuation.Model, rng *rand.Rand) *Proposer {
	return &Proposer{cfg: cfg, model: model, rng: rng}
}

// ProposePurchase selects the goal books to solicit in the next
// call-for-proposals. The cursor advances one goal per round; the request is
// widened beyond one book with geometrically shrinking probability. Returned
// books carry zeroed IDs: the responder re-resolves them against its own
// inventory.
func (p *Proposer) ProposePurchase() []domain.Book {
	names := p.model.GoalNames()
	if len(names) == 0 {
		return nil
	}

	count := 1
	for count < len(names) && p.rng.Float64() < p.cfg.BatchProbability {
		count++
	}

	if p.cursor >= len(names) {
		p.cursor = 0
	}

	proposal := make([]domain.Book, 0, count)
	for i := 0; i < count; i++ {
		name := names[(p.cursor+i)%len(names)]
		// A name can drop out of the goal set between rounds; past the
		// wind-down cutoff such a book is no longer worth soliciting.
		if p.model.PastNonGoalCutoff() && !p.model.IsGoal(name) {
			continue
		}
		proposal = append(proposal, domain.Book{Name: name})
	}

	p.cursor = (p.cursor + 1) % len(names)
	return proposal
}

// ProposeSale builds the two alternatives presented to a buyer who solicited
// sellBooks (already resolved against local inventory): a money-only ask, and
// an items-plus-money ask that swaps some of our other estimated stock in
// place of money.
func (p *Proposer) ProposeSale(sellBooks []domain.Book, inventory []domain.Book) []domain.Offer {
	ask := p.model.OfferValue(sellBooks, valuation.Sale)

	moneyOnly := domain.Offer{Money: ask}

	requested := make(map[string]bool, len(sellBooks))
	for _, b := range sellBooks {
		requested[b.Name] = true
	}

	remainder := ask
	var swap []domain.Book
	for _, name := range p.model.EstimatedNames() {
		if remainder < 0 {
			break
		}
		if requested[name] {
			continue
		}
		if p.rng.Float64() < p.cfg.SaleSkipProbability {
			continue
		}
		book, held := domain.FindBookByName(inventory, name)
		if !held {
			continue
		}
		swap = append(swap, book)
		remainder -= p.model.Estimate(name, valuation.Pessimistic)
	}

	mixed := domain.Offer{Books: swap}
	if remainder > 0 {
		mixed.Money = remainder
	}

	return []domain.Offer{moneyOnly, mixed}
}
