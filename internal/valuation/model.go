// Package valuation maintains the agent's per-book price model: fixed goal
// values, exponentially smoothed market observations, and the end-of-session
// decay applied to non-goal stock.
package valuation

import (
	"fmt"
	"sort"
	"time"

	"github.com/bookbazaar/bookbot/internal/domain"
)

// Mode selects which bound of the estimate range is returned for books the
// model has no reliable signal for. Optimistic returns the high bound,
// Pessimistic the low one.
type Mode int

const (
	Optimistic Mode = iota
	Pessimistic
)

// Side selects which of the two observation series an Observe call feeds:
// SaleSide for prices seen on books flowing toward the counterparty,
// PurchaseSide for books flowing toward us.
type Side int

const (
	SaleSide Side = iota
	PurchaseSide
)

// nonGoalFloorFraction fixes the decay floor at this fraction of the cheapest
// goal value. Decayed non-goal books never fall below it.
const nonGoalFloorFraction = 0.1

// Config holds the session-scoped valuation constants. All of them are
// externally tunable so tests can run at compressed time scales.
type Config struct {
	// UseAveragesAfter is the cold-start window during which smoothed
	// observations are not yet trusted.
	UseAveragesAfter time.Duration
	// StopTradingNonGoal marks the start of the wind-down phase after which
	// non-goal book valuations decay toward the floor.
	StopTradingNonGoal time.Duration
	// TradingDuration is the total session length.
	TradingDuration time.Duration
	// Margin is the spread applied by OfferValue to bias toward profitable
	// round trips.
	Margin float64
	// SmoothingFactor is the EMA factor alpha in (0, 1].
	SmoothingFactor float64
}

// TradeKind distinguishes the direction OfferValue prices an offer for.
type TradeKind int

const (
	Purchase TradeKind = iota
	Sale
)

// Model is the agent's price memory for one trading session. It is not safe
// for concurrent use; the trading coordinator serializes all access.
type Model struct {
	cfg   Config
	now   domain.Clock
	start time.Time

	goals       map[string]float64
	saleEMA     map[string]float64
	purchaseEMA map[string]float64
	nonGoal     map[string]bool

	minGoalPrice float64
	maxGoalPrice float64
}

// New creates an empty model. Start must be called before estimates are
// requested.
func New(cfg Config, now domain.Clock) *Model {
	if now == nil {
		now = time.Now
	}
	return &Model{
		cfg:         cfg,
		now:         now,
		goals:       make(map[string]float64),
		saleEMA:     make(map[string]float64),
		purchaseEMA: make(map[string]float64),
		nonGoal:     make(map[string]bool),
	}
}

// Start begins a session: it fixes the goal set, derives the goal price range
// used as the cold-start fallback, and records the session start time.
func (m *Model) Start(goals []domain.Goal, inventory []domain.Book) error {
	if len(goals) == 0 {
		return fmt.Errorf("valuation: start: no goals supplied")
	}

	m.start = m.now()
	m.goals = make(map[string]float64, len(goals))
	m.saleEMA = make(map[string]float64)
	m.purchaseEMA = make(map[string]float64)

	for _, g := range goals {
		m.goals[g.Book.Name] = g.Value
	}

	first := true
	for _, v := range m.goals {
		if first {
			m.minGoalPrice, m.maxGoalPrice = v, v
			first = false
			continue
		}
		if v < m.minGoalPrice {
			m.minGoalPrice = v
		}
		if v > m.maxGoalPrice {
			m.maxGoalPrice = v
		}
	}

	m.Refresh(inventory)
	return nil
}

// Refresh recomputes the derived non-goal set from the current inventory.
// It must be called after every settled transaction; the set is never stored
// across refreshes.
func (m *Model) Refresh(inventory []domain.Book) {
	m.nonGoal = make(map[string]bool)
	for _, b := range inventory {
		if _, isGoal := m.goals[b.Name]; !isGoal {
			m.nonGoal[b.Name] = true
		}
	}
}

// Started reports whether a session is active.
func (m *Model) Started() bool {
	return !m.start.IsZero()
}

// Elapsed returns the time since the session started.
func (m *Model) Elapsed() time.Duration {
	return m.now().Sub(m.start)
}

// Expired reports whether the session has run past its configured duration.
func (m *Model) Expired() bool {
	return m.Started() && m.Elapsed() > m.cfg.TradingDuration
}

// PastNonGoalCutoff reports whether the session is in (or past) the
// wind-down phase.
func (m *Model) PastNonGoalCutoff() bool {
	return m.Started() && m.Elapsed() > m.cfg.StopTradingNonGoal
}

// IsGoal reports whether name is part of the fixed goal set.
func (m *Model) IsGoal(name string) bool {
	_, ok := m.goals[name]
	return ok
}

// GoalNames returns the goal book names in sorted order, so that the
// proposer's round-robin cursor walks them deterministically.
func (m *Model) GoalNames() []string {
	names := make([]string, 0, len(m.goals))
	for n := range m.goals {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EstimatedNames returns the names with a sale-side observation, sorted.
func (m *Model) EstimatedNames() []string {
	names := make([]string, 0, len(m.saleEMA))
	for n := range m.saleEMA {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EstimateCount returns the number of books with a market observation.
func (m *Model) EstimateCount() int {
	return len(m.saleEMA)
}

// Margin returns the configured spread.
func (m *Model) Margin() float64 {
	return m.cfg.Margin
}

// Phase names the current session phase for status reporting.
func (m *Model) Phase() string {
	if !m.Started() {
		return "idle"
	}
	switch elapsed := m.Elapsed(); {
	case elapsed > m.cfg.TradingDuration:
		return "closed"
	case elapsed > m.cfg.StopTradingNonGoal:
		return "wind-down"
	case elapsed > m.cfg.UseAveragesAfter:
		return "warm"
	default:
		return "cold-start"
	}
}

// Estimate returns the current valuation of one book.
//
// Goal books are valued at their fixed goal value. Anything else falls back
// to the goal price range during the cold-start window, then to the smoothed
// sale-side observation once warm. Non-goal stock decays linearly toward the
// floor during wind-down so the agent liquidates excess inventory before the
// session closes.
func (m *Model) Estimate(name string, mode Mode) float64 {
	if _, ok := m.goals[name]; ok && !m.nonGoal[name] {
		return m.goals[name]
	}

	elapsed := m.Elapsed()

	base := m.fallback(mode)
	if elapsed > m.cfg.UseAveragesAfter {
		if v, ok := m.saleEMA[name]; ok {
			base = v
		}
	}

	if m.nonGoal[name] && elapsed > m.cfg.StopTradingNonGoal {
		remaining := m.cfg.TradingDuration - elapsed
		window := m.cfg.TradingDuration - m.cfg.StopTradingNonGoal
		frac := 0.0
		if remaining > 0 && window > 0 {
			frac = float64(remaining) / float64(window)
		}
		v := base * frac
		if floor := m.minGoalPrice * nonGoalFloorFraction; v < floor {
			v = floor
		}
		return v
	}

	return base
}

func (m *Model) fallback(mode Mode) float64 {
	if mode == Pessimistic {
		return m.minGoalPrice
	}
	return m.maxGoalPrice
}

// Observe folds one observed price into the smoothed estimate for name.
// Every offer the agent evaluates is a market signal regardless of whether
// the trade completes, so the evaluator calls this for both sides of every
// scored trade.
func (m *Model) Observe(name string, price float64, side Side) {
	series := m.saleEMA
	if side == PurchaseSide {
		series = m.purchaseEMA
	}
	if prev, ok := series[name]; ok {
		price = m.cfg.SmoothingFactor*price + (1-m.cfg.SmoothingFactor)*prev
	}
	series[name] = price
}

// OfferValue prices a set of books for a proposal: the sum of per-book
// estimates with the margin spread applied. A sale asks for more than the
// optimistic estimate; a purchase bids less than the pessimistic one.
func (m *Model) OfferValue(books []domain.Book, kind TradeKind) float64 {
	var sum float64
	for _, b := range books {
		if kind == Sale {
			sum += m.Estimate(b.Name, Optimistic)
		} else {
			sum += m.Estimate(b.Name, Pessimistic)
		}
	}
	if kind == Purchase {
		return sum * (1 - m.cfg.Margin)
	}
	return sum * (1 + m.cfg.Margin)
}
