package pipeline

import (
	"context"
	"log"
	"os"
	"sort"
	"time"

	"github.com/mohammad-safakhou/chainbrief/internal/schema"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
	"github.com/mohammad-safakhou/chainbrief/internal/telemetry"
)

// Analyzer rolls the tick's normalized records into the trailing-24h window,
// persists them to the event layer, and computes the signal set the brief
// gate reads.
type Analyzer struct {
	store     *store.Store
	telemetry *telemetry.Telemetry
	chain     string
	logger    *log.Logger
	now       func() time.Time
}

func NewAnalyzer(st *store.Store, tel *telemetry.Telemetry, chain string, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.New(os.Stdout, "[ANALYZE] ", log.LstdFlags)
	}
	return &Analyzer{store: st, telemetry: tel, chain: chain, logger: logger, now: time.Now}
}

func (a *Analyzer) Analyze(ctx context.Context, state *State) error {
	if len(state.Records) == 0 {
		state.Counts24h = map[string]int{}
		state.TopPools = nil
		state.Signals = map[string]float64{}
		state.Status = StatusCompleted
		return nil
	}

	cutoff := a.now().Add(-24 * time.Hour).Unix()
	sourceID := ""
	if len(state.SourceIDs) > 0 {
		sourceID = state.SourceIDs[len(state.SourceIDs)-1]
	}

	var recent []schema.Record
	for _, rec := range state.Records {
		if rec.Timestamp < cutoff {
			continue
		}
		recent = append(recent, rec)
		if err := a.persist(ctx, rec, sourceID); err != nil {
			return err
		}
	}
	if a.telemetry != nil {
		a.telemetry.EventsNormalized(len(recent))
	}

	counts := map[string]int{}
	poolCounts := map[string]int{}
	for _, rec := range recent {
		counts[typeOrUnknown(rec)]++
		poolCounts[poolOrUnknown(rec)]++
	}

	state.Counts24h = counts
	state.TopPools = topPools(poolCounts, 5)
	state.Signals = a.computeSignals(ctx, state, recent, poolCounts)
	a.logger.Printf("24h events: %d, top pools: %v", len(recent), state.TopPools)
	state.Status = StatusBriefing
	return nil
}

func (a *Analyzer) persist(ctx context.Context, rec schema.Record, sourceID string) error {
	chain := rec.Chain
	if chain == "" {
		chain = a.chain
	}
	return a.store.SaveEvent(ctx, store.Event{
		EventID:   rec.EventID,
		Wallet:    rec.Wallet,
		EventType: typeOrUnknown(rec),
		Pool:      rec.Pool,
		Chain:     chain,
		Timestamp: rec.Timestamp,
		Value:     rec.Fields,
		SourceID:  sourceID,
	})
}

func (a *Analyzer) computeSignals(ctx context.Context, state *State, recent []schema.Record, poolCounts map[string]int) map[string]float64 {
	total := len(recent)
	counts := state.Counts24h

	signals := map[string]float64{
		"volume_signal":    clamp01(float64(total) / 10.0),
		"activity_signal":  clamp01(float64(len(counts)) / 3.0),
		"total_events_24h": float64(total),
	}
	if total > 0 && len(state.TopPools) > 0 {
		dominant := poolCounts[state.TopPools[0]]
		signals["concentration_signal"] = 1.0 - float64(dominant)/float64(total)
	} else {
		signals["concentration_signal"] = 0.0
	}

	switch state.Action {
	case ActionLPRecon:
		lpEvents := 0
		actors := map[string]struct{}{}
		for _, rec := range recent {
			t := typeOrUnknown(rec)
			if t != "lp_add" && t != "lp_remove" {
				continue
			}
			lpEvents++
			if rec.Wallet != "" {
				actors[rec.Wallet] = struct{}{}
			}
		}
		signals["net_liquidity_delta_24h"] = float64(counts["lp_add"] - counts["lp_remove"])
		if lpEvents > 0 {
			signals["lp_churn_rate_24h"] = float64(len(actors)) / float64(lpEvents)
		} else {
			signals["lp_churn_rate_24h"] = 0.0
		}
		signals["pool_activity_score"] = clamp01(float64(lpEvents) / 5.0)

	case ActionWalletRecon:
		// Sign convention rides on the canonical event type alone:
		// lp_add contributes +usd, lp_remove contributes -usd.
		netUSD := 0.0
		windowPools := map[string]struct{}{}
		for _, rec := range recent {
			switch typeOrUnknown(rec) {
			case "lp_add":
				netUSD += rec.USDValue()
			case "lp_remove":
				netUSD -= rec.USDValue()
			}
			if rec.Pool != "" {
				windowPools[rec.Pool] = struct{}{}
			}
		}
		signals["net_lp_usd_24h"] = netUSD

		newPools := a.newPoolsTouched(ctx, state.TargetWallet, windowPools, recent)
		signals["new_pools_touched_24h"] = float64(len(newPools))
		state.NewPools = newPools
	}

	return signals
}

// newPoolsTouched returns pools seen in this window that the wallet has no
// earlier recorded event for.
func (a *Analyzer) newPoolsTouched(ctx context.Context, wallet string, windowPools map[string]struct{}, recent []schema.Record) []string {
	if wallet == "" || len(windowPools) == 0 {
		return nil
	}
	history, err := a.store.EventsByWallet(ctx, wallet, 0)
	if err != nil {
		a.logger.Printf("wallet history lookup failed: %v", err)
		return nil
	}
	windowIDs := map[string]struct{}{}
	for _, rec := range recent {
		windowIDs[rec.EventID] = struct{}{}
	}
	known := map[string]struct{}{}
	for _, ev := range history {
		if _, inWindow := windowIDs[ev.EventID]; inWindow {
			continue
		}
		if ev.Pool != "" {
			known[ev.Pool] = struct{}{}
		}
	}
	var out []string
	for pool := range windowPools {
		if _, seen := known[pool]; !seen {
			out = append(out, pool)
		}
	}
	sort.Strings(out)
	return out
}

func topPools(poolCounts map[string]int, n int) []string {
	type entry struct {
		pool  string
		count int
	}
	entries := make([]entry, 0, len(poolCounts))
	for pool, count := range poolCounts {
		entries = append(entries, entry{pool, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].pool < entries[j].pool
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.pool
	}
	return out
}

func typeOrUnknown(rec schema.Record) string {
	if rec.EventType == "" {
		return "unknown"
	}
	return rec.EventType
}

func poolOrUnknown(rec schema.Record) string {
	if rec.Pool == "" {
		return "unknown"
	}
	return rec.Pool
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
