package pipeline

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/mohammad-safakhou/chainbrief/config"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

type planStoreStub struct {
	spent   float64
	cursors map[string]int64
	seeded  []string
	wallets []string
}

func (s *planStoreStub) SpentToday(ctx context.Context, now time.Time) (float64, error) {
	return s.spent, nil
}

func (s *planStoreStub) GetCursor(ctx context.Context, name string) (store.Cursor, bool, error) {
	ts, ok := s.cursors[name]
	if !ok {
		return store.Cursor{Name: name}, false, nil
	}
	return store.Cursor{Name: name, LastTS: ts}, true, nil
}

func (s *planStoreStub) SeedCursor(ctx context.Context, name string) error {
	s.seeded = append(s.seeded, name)
	if s.cursors == nil {
		s.cursors = map[string]int64{}
	}
	if _, ok := s.cursors[name]; !ok {
		s.cursors[name] = 0
	}
	return nil
}

func (s *planStoreStub) ListWallets(ctx context.Context) ([]string, error) {
	return s.wallets, nil
}

func testStaleness() config.StalenessConfig {
	return config.StalenessConfig{
		Wallet:  2 * time.Hour,
		LP:      6 * time.Hour,
		Explore: 24 * time.Hour,
	}
}

func newTestPlanner(st planStore, watchlist []string) *Planner {
	p := NewPlanner(st, config.BudgetConfig{DailyCap: 5.0}, testStaleness(), watchlist, log.New(os.Stdout, "", 0))
	p.now = func() time.Time { return time.Unix(1_000_000, 0) }
	return p
}

func TestPlanBudgetCapBeforeStaleness(t *testing.T) {
	stub := &planStoreStub{spent: 5.0}
	p := newTestPlanner(stub, []string{"0xaaa"})

	state := NewState("r", "t", "g")
	if err := p.Plan(context.Background(), state); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if state.Status != StatusCapped {
		t.Fatalf("status: got %q", state.Status)
	}
	if state.Action != ActionNone {
		t.Fatalf("capped day must schedule nothing, got %q", state.Action)
	}
	if len(stub.seeded) != 0 {
		t.Fatal("budget gate must run before any cursor access")
	}
}

func TestPlanPicksFirstStaleWallet(t *testing.T) {
	now := int64(1_000_000)
	stub := &planStoreStub{cursors: map[string]int64{
		"wallet:0xaaa": now - 3600,   // fresh (1h < 2h)
		"wallet:0xbbb": now - 3*3600, // stale
		"wallet:0xccc": 0,            // stale too, but later in order
	}}
	p := newTestPlanner(stub, []string{"0xccc", "0xbbb", "0xaaa"})

	state := NewState("r", "t", "g")
	if err := p.Plan(context.Background(), state); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if state.Action != ActionWalletRecon {
		t.Fatalf("action: got %q", state.Action)
	}
	if state.TargetWallet != "0xbbb" {
		t.Fatalf("wallet order must be lexicographic, got %q", state.TargetWallet)
	}
	if state.SinceTS != now-3*3600 {
		t.Fatalf("since must carry the cursor value, got %d", state.SinceTS)
	}
}

func TestPlanMergesStoredWallets(t *testing.T) {
	stub := &planStoreStub{
		wallets: []string{"0xaaa"},
		cursors: map[string]int64{},
	}
	p := newTestPlanner(stub, []string{"0xbbb"})

	state := NewState("r", "t", "g")
	if err := p.Plan(context.Background(), state); err != nil {
		t.Fatalf("plan: %v", err)
	}
	// Both wallets stale at zero; the store-managed one sorts first.
	if state.TargetWallet != "0xaaa" {
		t.Fatalf("target: got %q", state.TargetWallet)
	}
}

func TestPlanFallsThroughToLP(t *testing.T) {
	now := int64(1_000_000)
	stub := &planStoreStub{cursors: map[string]int64{
		"wallet:0xaaa": now - 60,
		"lp":           now - 7*3600,
	}}
	p := newTestPlanner(stub, []string{"0xaaa"})

	state := NewState("r", "t", "g")
	if err := p.Plan(context.Background(), state); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if state.Action != ActionLPRecon {
		t.Fatalf("action: got %q", state.Action)
	}
}

func TestPlanFallsThroughToExplore(t *testing.T) {
	now := int64(1_000_000)
	stub := &planStoreStub{cursors: map[string]int64{
		"wallet:0xaaa":    now - 60,
		"lp":              now - 60,
		"explore_metrics": now - 25*3600,
	}}
	p := newTestPlanner(stub, []string{"0xaaa"})

	state := NewState("r", "t", "g")
	if err := p.Plan(context.Background(), state); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if state.Action != ActionExplore {
		t.Fatalf("action: got %q", state.Action)
	}
}

func TestPlanAllFreshCompletes(t *testing.T) {
	now := int64(1_000_000)
	stub := &planStoreStub{cursors: map[string]int64{
		"wallet:0xaaa":    now - 60,
		"lp":              now - 60,
		"explore_metrics": now - 60,
	}}
	p := newTestPlanner(stub, []string{"0xaaa"})

	state := NewState("r", "t", "g")
	if err := p.Plan(context.Background(), state); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("status: got %q", state.Status)
	}
	if state.Action != ActionNone {
		t.Fatalf("action: got %q", state.Action)
	}
}
