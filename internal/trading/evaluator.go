package trading

import (
	"github.com/bookbazaar/bookbot/internal/domain"
	"github.com/bookbazaar/bookbot/internal/valuation"
)

// Evaluator scores incoming offers against the valuation model and filters
// out offers the agent cannot actually fulfill. Not safe for concurrent use;
// the Trader serializes calls.
type Evaluator struct {
	model *valuation.Model
}

// NewEvaluator creates an Evaluator over the given model.
func NewEvaluator(model *valuation.Model) *Evaluator {
	return &Evaluator{model: model}
}

// Fulfillable re-resolves every book in asked against the live inventory by
// name, ignoring the counterparty-supplied IDs, and checks the money demand
// against the available balance. On success it returns a copy of the offer
// with local inventory IDs filled in. Books in the reserved set are treated
// as absent.
func (e *Evaluator) Fulfillable(asked domain.Offer, inventory []domain.Book, money float64, reserved map[string]bool) (domain.Offer, bool) {
	if asked.Money > money {
		return domain.Offer{}, false
	}

	resolved := domain.Offer{Money: asked.Money}
	if len(asked.Books) > 0 {
		resolved.Books = make([]domain.Book, 0, len(asked.Books))
		for _, b := range asked.Books {
			if reserved[b.Name] {
				return domain.Offer{}, false
			}
			local, held := domain.FindBookByName(inventory, b.Name)
			if !held {
				return domain.Offer{}, false
			}
			resolved.Books = append(resolved.Books, local)
		}
	}
	return resolved, true
}

// Score computes the signed utility of a trade where we give asked and
// receive offered: the pessimistic value of what we gain over the optimistic
// value of what it costs. Both sides are recorded as market observations.
// A score above 1 gains value outright; callers require it to exceed the
// margin before accepting, never mere positivity.
func (e *Evaluator) Score(asked, offered domain.Offer) float64 {
	cost := asked.Money
	for _, b := range asked.Books {
		p := e.model.Estimate(b.Name, valuation.Optimistic)
		cost += p
		e.model.Observe(b.Name, p, valuation.SaleSide)
	}

	gain := offered.Money
	for _, b := range offered.Books {
		p := e.model.Estimate(b.Name, valuation.Pessimistic)
		gain += p
		e.model.Observe(b.Name, p, valuation.PurchaseSide)
	}

	if cost == 0 {
		// A free offer: anything gained is strictly good.
		if gain > 0 {
			return gain
		}
		return 0
	}
	return gain / cost
}
