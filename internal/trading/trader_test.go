package trading

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/bookbazaar/bookbot/internal/domain"
)

func newTestTrader(t *testing.T, info *domain.AgentInfo, reserve bool) (*Trader, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTrader("alice", testValConfig(), ProposerConfig{}, clock.Now, rand.New(rand.NewSource(1)), reserve)
	if info != nil {
		if err := tr.Start(info); err != nil {
			t.Fatalf("trader start failed: %v", err)
		}
	}
	return tr, clock
}

func testAgentInfo() *domain.AgentInfo {
	return &domain.AgentInfo{
		Books: []domain.Book{
			{Name: "Solaris", ID: 1},
			{Name: "Hyperion", ID: 2},
		},
		Goals: []domain.Goal{
			{Book: domain.Book{Name: "Dune"}, Value: 10},
		},
		Money: 100,
	}
}

func TestProposePurchaseRequiresSession(t *testing.T) {
	tr, _ := newTestTrader(t, nil, false)
	if _, err := tr.ProposePurchase(); !errors.Is(err, domain.ErrNotStarted) {
		t.Errorf("got %v, want ErrNotStarted", err)
	}
}

func TestPrepareSaleRefusesAbsentBook(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), false)

	_, _, err := tr.PrepareSale([]domain.Book{{Name: "Neuromancer"}})
	if !errors.Is(err, domain.ErrUnfulfillable) {
		t.Errorf("got %v, want ErrUnfulfillable", err)
	}
}

func TestPrepareSaleRefusesEmptyRequest(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), false)

	_, _, err := tr.PrepareSale(nil)
	if !errors.Is(err, domain.ErrNotUnderstood) {
		t.Errorf("got %v, want ErrNotUnderstood", err)
	}
}

func TestPrepareSaleResolvesInventoryIDs(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), false)

	sell, offers, err := tr.PrepareSale([]domain.Book{{Name: "Solaris", ID: 42}})
	if err != nil {
		t.Fatalf("PrepareSale failed: %v", err)
	}
	if len(sell) != 1 || sell[0].ID != 1 {
		t.Errorf("sell books = %v, want Solaris with local ID 1", sell)
	}
	if len(offers) != 2 {
		t.Errorf("got %d offers, want 2", len(offers))
	}
}

func TestEvaluateResponsePicksBestAlternative(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), false)

	resp := domain.Message{
		Kind:     domain.KindPropose,
		Sender:   "bob",
		WillSell: []domain.Book{{Name: "Dune", ID: 9}},
		Offers: []domain.Offer{
			{Money: 20}, // score 0.5
			{Money: 5},  // score 2.0
			{Money: 8},  // score 1.25
		},
	}

	best := tr.EvaluateResponse(resp)
	if best == nil {
		t.Fatal("expected a winning alternative")
	}
	if best.Offer.Money != 5 {
		t.Errorf("picked money %v, want the cheapest ask 5", best.Offer.Money)
	}
	if want := 2.0; math.Abs(best.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", best.Score, want)
	}
}

func TestEvaluateResponseFiltersUnfulfillable(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), false)

	resp := domain.Message{
		Kind:     domain.KindPropose,
		Sender:   "bob",
		WillSell: []domain.Book{{Name: "Dune", ID: 9}},
		Offers: []domain.Offer{
			{Money: 500},                                // beyond our balance
			{Books: []domain.Book{{Name: "Foundation"}}}, // book we do not hold
		},
	}

	if best := tr.EvaluateResponse(resp); best != nil {
		t.Errorf("expected no viable alternative, got %+v", best)
	}
}

func TestEvaluateResponseRequiresMargin(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), false)

	// Gain 10 for 100 in cash scores 0.1, which does not clear the margin.
	resp := domain.Message{
		Kind:     domain.KindPropose,
		Sender:   "bob",
		WillSell: []domain.Book{{Name: "Dune", ID: 9}},
		Offers:   []domain.Offer{{Money: 100}},
	}

	if best := tr.EvaluateResponse(resp); best != nil {
		t.Errorf("score at the margin must not be accepted, got %+v", best)
	}
}

func TestReservationBlocksConcurrentCommit(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), true)

	solaris := []domain.Book{{Name: "Solaris", ID: 1}}
	if err := tr.Reserve("conv-1", solaris); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}

	// A second round cannot sell a book already committed elsewhere.
	if _, _, err := tr.PrepareSale(solaris); !errors.Is(err, domain.ErrUnfulfillable) {
		t.Errorf("got %v, want ErrUnfulfillable while reserved", err)
	}
	if err := tr.Reserve("conv-2", solaris); !errors.Is(err, domain.ErrReserved) {
		t.Errorf("got %v, want ErrReserved", err)
	}

	// The same round may re-reserve its own hold.
	if err := tr.Reserve("conv-1", solaris); err != nil {
		t.Errorf("re-reserve by holder failed: %v", err)
	}

	tr.Release("conv-1")
	if _, _, err := tr.PrepareSale(solaris); err != nil {
		t.Errorf("PrepareSale after release failed: %v", err)
	}
}

func TestReservationDisabledPreservesLegacyRace(t *testing.T) {
	tr, _ := newTestTrader(t, testAgentInfo(), false)

	solaris := []domain.Book{{Name: "Solaris", ID: 1}}
	if err := tr.Reserve("conv-1", solaris); err != nil {
		t.Fatalf("reserve no-op failed: %v", err)
	}
	// With the ledger off both rounds see the book as available.
	if _, _, err := tr.PrepareSale(solaris); err != nil {
		t.Errorf("PrepareSale failed: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	tr, clock := newTestTrader(t, testAgentInfo(), false)
	clock.Advance(11 * time.Second)

	s := tr.Snapshot()
	if s.Agent != "alice" {
		t.Errorf("agent = %q, want alice", s.Agent)
	}
	if s.Phase != "warm" {
		t.Errorf("phase = %q, want warm", s.Phase)
	}
	if s.Money != 100 {
		t.Errorf("money = %v, want 100", s.Money)
	}
	if len(s.Books) != 2 {
		t.Errorf("books = %v, want 2 entries", s.Books)
	}
}
