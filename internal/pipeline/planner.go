package pipeline

import (
	"context"
	"log"
	"os"
	"sort"
	"time"

	"github.com/mohammad-safakhou/chainbrief/config"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

// planStore is the slice of the store the planner needs.
type planStore interface {
	SpentToday(ctx context.Context, now time.Time) (float64, error)
	GetCursor(ctx context.Context, name string) (store.Cursor, bool, error)
	SeedCursor(ctx context.Context, name string) error
	ListWallets(ctx context.Context) ([]string, error)
}

// Planner picks the next action from budget state and cursor staleness.
// Order is fixed: budget cap, then stale wallet, then stale LP, then stale
// metrics exploration. Fresh everything means no action.
type Planner struct {
	store     planStore
	budget    config.BudgetConfig
	staleness config.StalenessConfig
	watchlist []string
	logger    *log.Logger
	now       func() time.Time
}

func NewPlanner(st planStore, budget config.BudgetConfig, staleness config.StalenessConfig, watchlist []string, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(os.Stdout, "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{
		store:     st,
		budget:    budget,
		staleness: staleness,
		watchlist: watchlist,
		logger:    logger,
		now:       time.Now,
	}
}

// Plan decides what this tick does. The budget gate runs before any
// staleness check; a capped day schedules nothing.
func (p *Planner) Plan(ctx context.Context, state *State) error {
	now := p.now()

	spent, err := p.store.SpentToday(ctx, now)
	if err != nil {
		return err
	}
	state.Spend = spent
	if spent >= p.budget.DailyCap {
		p.logger.Printf("budget cap reached: %.2f/%.2f", spent, p.budget.DailyCap)
		state.Status = StatusCapped
		state.Log("budget cap reached: %.2f/%.2f", spent, p.budget.DailyCap)
		return nil
	}

	wallets, err := p.trackedWallets(ctx)
	if err != nil {
		return err
	}
	for _, wallet := range wallets {
		name := "wallet:" + wallet
		if err := p.store.SeedCursor(ctx, name); err != nil {
			return err
		}
		cursor, _, err := p.store.GetCursor(ctx, name)
		if err != nil {
			return err
		}
		if now.Unix()-cursor.LastTS > int64(p.staleness.Wallet.Seconds()) {
			p.logger.Printf("wallet cursor stale for %s", wallet)
			state.Action = ActionWalletRecon
			state.TargetWallet = wallet
			state.SinceTS = cursor.LastTS
			state.Status = StatusWorking
			return nil
		}
	}

	if err := p.store.SeedCursor(ctx, "lp"); err != nil {
		return err
	}
	lp, _, err := p.store.GetCursor(ctx, "lp")
	if err != nil {
		return err
	}
	if now.Unix()-lp.LastTS > int64(p.staleness.LP.Seconds()) {
		p.logger.Printf("lp cursor stale")
		state.Action = ActionLPRecon
		state.SinceTS = lp.LastTS
		state.Status = StatusWorking
		return nil
	}

	if err := p.store.SeedCursor(ctx, "explore_metrics"); err != nil {
		return err
	}
	explore, _, err := p.store.GetCursor(ctx, "explore_metrics")
	if err != nil {
		return err
	}
	if now.Unix()-explore.LastTS > int64(p.staleness.Explore.Seconds()) {
		p.logger.Printf("explore_metrics cursor stale")
		state.Action = ActionExplore
		state.SinceTS = explore.LastTS
		state.Status = StatusWorking
		return nil
	}

	p.logger.Printf("all cursors fresh, no action")
	state.Status = StatusCompleted
	state.Log("all cursors fresh, no action")
	return nil
}

// trackedWallets merges the configured watchlist with store-managed wallets
// and returns them in lexicographic order, so the first stale pick is
// deterministic.
func (p *Planner) trackedWallets(ctx context.Context) ([]string, error) {
	stored, err := p.store.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, w := range append(append([]string{}, p.watchlist...), stored...) {
		if _, dup := seen[w]; dup || w == "" {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out, nil
}
