package valuation

import (
	"math"
	"testing"
	"time"

	"github.com/bookbazaar/bookbot/internal/domain"
)

func testConfig() Config {
	return Config{
		UseAveragesAfter:   10 * time.Second,
		StopTradingNonGoal: 15 * time.Second,
		TradingDuration:    18 * time.Second,
		Margin:             0.1,
		SmoothingFactor:    0.5,
	}
}

// testClock is a settable clock for driving the model through its phases.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newStartedModel(t *testing.T, goals []domain.Goal, inventory []domain.Book) (*Model, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := New(testConfig(), clock.Now)
	if err := m.Start(goals, inventory); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return m, clock
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestStartRequiresGoals(t *testing.T) {
	m := New(testConfig(), nil)
	if err := m.Start(nil, nil); err == nil {
		t.Fatal("expected error starting with no goals")
	}
	if m.Started() {
		t.Error("model should not be started after failed Start")
	}
}

func TestEstimateGoalBookFixed(t *testing.T) {
	goals := []domain.Goal{
		{Book: domain.Book{Name: "Dune"}, Value: 40},
		{Book: domain.Book{Name: "Solaris"}, Value: 25},
	}
	m, clock := newStartedModel(t, goals, nil)

	// A goal book is worth its goal value in every phase and under both modes.
	for _, elapsed := range []time.Duration{0, 11 * time.Second, 16 * time.Second} {
		clock.now = clock.now.Add(elapsed - m.Elapsed())
		for _, mode := range []Mode{Optimistic, Pessimistic} {
			if got := m.Estimate("Dune", mode); !approx(got, 40) {
				t.Errorf("Estimate(Dune) at %v mode %v = %v, want 40", elapsed, mode, got)
			}
		}
	}
}

func TestEstimateColdStartFallback(t *testing.T) {
	goals := []domain.Goal{
		{Book: domain.Book{Name: "Dune"}, Value: 40},
		{Book: domain.Book{Name: "Solaris"}, Value: 25},
	}
	m, _ := newStartedModel(t, goals, nil)

	// An unknown book falls back to the goal price range before any
	// observation is trusted.
	if got := m.Estimate("Hyperion", Optimistic); !approx(got, 40) {
		t.Errorf("optimistic fallback = %v, want 40", got)
	}
	if got := m.Estimate("Hyperion", Pessimistic); !approx(got, 25) {
		t.Errorf("pessimistic fallback = %v, want 25", got)
	}
}

func TestEstimateIgnoresObservationsDuringColdStart(t *testing.T) {
	goals := []domain.Goal{{Book: domain.Book{Name: "Dune"}, Value: 40}}
	m, clock := newStartedModel(t, goals, nil)

	m.Observe("Hyperion", 7, SaleSide)
	if got := m.Estimate("Hyperion", Optimistic); !approx(got, 40) {
		t.Errorf("cold-start estimate = %v, want fallback 40", got)
	}

	clock.Advance(11 * time.Second)
	if got := m.Estimate("Hyperion", Optimistic); !approx(got, 7) {
		t.Errorf("warm estimate = %v, want observed 7", got)
	}
}

func TestObserveSmoothing(t *testing.T) {
	goals := []domain.Goal{{Book: domain.Book{Name: "Dune"}, Value: 40}}
	m, clock := newStartedModel(t, goals, nil)
	clock.Advance(11 * time.Second)

	m.Observe("Hyperion", 10, SaleSide)
	m.Observe("Hyperion", 20, SaleSide)
	// alpha 0.5: 0.5*20 + 0.5*10
	if got := m.Estimate("Hyperion", Optimistic); !approx(got, 15) {
		t.Errorf("smoothed estimate = %v, want 15", got)
	}

	// Observing the current estimate again must not move it.
	m.Observe("Hyperion", 15, SaleSide)
	if got := m.Estimate("Hyperion", Optimistic); !approx(got, 15) {
		t.Errorf("estimate moved on identical observation: %v", got)
	}
}

func TestNonGoalDecay(t *testing.T) {
	goals := []domain.Goal{
		{Book: domain.Book{Name: "Dune"}, Value: 40},
		{Book: domain.Book{Name: "Solaris"}, Value: 25},
	}
	inventory := []domain.Book{{Name: "Leftover", ID: 3}}
	m, clock := newStartedModel(t, goals, inventory)

	clock.Advance(14 * time.Second)
	before := m.Estimate("Leftover", Optimistic)
	if !approx(before, 40) {
		t.Fatalf("pre-cutoff estimate = %v, want 40", before)
	}

	// Past the cutoff the value decays and never increases again.
	prev := before
	for _, step := range []time.Duration{2 * time.Second, 1 * time.Second, 1 * time.Second} {
		clock.Advance(step)
		got := m.Estimate("Leftover", Optimistic)
		if got > prev {
			t.Errorf("estimate increased during wind-down: %v -> %v at %v", prev, got, m.Elapsed())
		}
		prev = got
	}

	// At and past session end the value sits on the floor, a tenth of the
	// cheapest goal.
	clock.Advance(5 * time.Second)
	floor := 25 * 0.1
	if got := m.Estimate("Leftover", Optimistic); !approx(got, floor) {
		t.Errorf("post-session estimate = %v, want floor %v", got, floor)
	}
}

func TestRefreshRecomputesNonGoalSet(t *testing.T) {
	goals := []domain.Goal{{Book: domain.Book{Name: "Dune"}, Value: 40}}
	m, clock := newStartedModel(t, goals, []domain.Book{{Name: "Leftover"}})

	clock.Advance(16 * time.Second)
	decayed := m.Estimate("Leftover", Optimistic)
	if decayed >= 40 {
		t.Fatalf("expected decay, got %v", decayed)
	}

	// Once the book leaves the inventory it is no longer non-goal stock and
	// is valued like any other market book.
	m.Refresh(nil)
	m.Observe("Leftover", 12, SaleSide)
	if got := m.Estimate("Leftover", Optimistic); !approx(got, 12) {
		t.Errorf("estimate after refresh = %v, want 12", got)
	}
}

func TestOfferValueAppliesMargin(t *testing.T) {
	goals := []domain.Goal{
		{Book: domain.Book{Name: "Dune"}, Value: 40},
		{Book: domain.Book{Name: "Solaris"}, Value: 25},
	}
	m, _ := newStartedModel(t, goals, nil)

	books := []domain.Book{{Name: "Dune"}, {Name: "Solaris"}}
	if got := m.OfferValue(books, Sale); !approx(got, 65*1.1) {
		t.Errorf("sale value = %v, want %v", got, 65*1.1)
	}
	if got := m.OfferValue(books, Purchase); !approx(got, 65*0.9) {
		t.Errorf("purchase value = %v, want %v", got, 65*0.9)
	}
}

func TestPhaseTransitions(t *testing.T) {
	m := New(testConfig(), nil)
	if got := m.Phase(); got != "idle" {
		t.Errorf("phase before start = %q, want idle", got)
	}

	goals := []domain.Goal{{Book: domain.Book{Name: "Dune"}, Value: 40}}
	m, clock := newStartedModel(t, goals, nil)

	steps := []struct {
		advance time.Duration
		want    string
	}{
		{0, "cold-start"},
		{11 * time.Second, "warm"},
		{5 * time.Second, "wind-down"},
		{3 * time.Second, "closed"},
	}
	for _, s := range steps {
		clock.Advance(s.advance)
		if got := m.Phase(); got != s.want {
			t.Errorf("phase at %v = %q, want %q", m.Elapsed(), got, s.want)
		}
	}

	if !m.Expired() {
		t.Error("Expired should be true past the trading duration")
	}
}

func TestGoalNamesSorted(t *testing.T) {
	goals := []domain.Goal{
		{Book: domain.Book{Name: "Solaris"}, Value: 25},
		{Book: domain.Book{Name: "Dune"}, Value: 40},
		{Book: domain.Book{Name: "Hyperion"}, Value: 30},
	}
	m, _ := newStartedModel(t, goals, nil)

	names := m.GoalNames()
	want := []string{"Dune", "Hyperion", "Solaris"}
	if len(names) != len(want) {
		t.Fatalf("GoalNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("GoalNames[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
