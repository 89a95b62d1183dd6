package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/chainbrief/config"
	"github.com/mohammad-safakhou/chainbrief/internal/llm"
	"github.com/mohammad-safakhou/chainbrief/internal/notify"
	"github.com/mohammad-safakhou/chainbrief/internal/search"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
	"github.com/mohammad-safakhou/chainbrief/internal/telemetry"
)

const briefSystemPrompt = `You are an on-chain activity analyst. You receive normalized wallet and
liquidity-pool events plus rollup signals. Respond with a single JSON object:
{"summary_text": string, "struct": {"top_wallets": [string], "notable_events":
[string], "signals": {string: number}, "risk_flags": [string], "confidence":
number}, "validation": {"consistency_ok": bool, "discrepancies": [string]}}.
Base every claim on the supplied events; list anything inconsistent in
discrepancies.`

// generalSignals are the signal keys the gate's max-signal check reads.
var generalSignals = []string{"volume_signal", "activity_signal", "concentration_signal"}

// GateResult says whether a brief should be emitted and, when not, why.
type GateResult struct {
	Emit   bool
	Reason string
}

// Gate is the brief emission decision. It is a pure function of the elapsed
// time since the last brief, the 24h event count, the strongest general
// signal and the pool activity score.
func Gate(elapsed, cooldown time.Duration, eventCount, eventThreshold int, maxSignal, signalThreshold, poolScore float64) GateResult {
	if elapsed < cooldown {
		return GateResult{Reason: "cooldown"}
	}
	if eventCount >= eventThreshold || maxSignal >= signalThreshold || poolScore >= signalThreshold {
		return GateResult{Emit: true}
	}
	return GateResult{Reason: "low_activity"}
}

// BriefGenerator turns an analyzed tick into a persisted artifact: a gated,
// deterministic summary, optionally augmented by an LLM pass, indexed for
// search and pushed to the notification sink.
type BriefGenerator struct {
	store     *store.Store
	llm       *llm.Client
	index     *search.Index
	notifier  *notify.Discord
	telemetry *telemetry.Telemetry
	cfg       config.BriefConfig
	watchlist int
	logger    *log.Logger
	now       func() time.Time
}

func NewBriefGenerator(st *store.Store, client *llm.Client, idx *search.Index, notifier *notify.Discord, tel *telemetry.Telemetry, cfg config.BriefConfig, watchlistSize int, logger *log.Logger) *BriefGenerator {
	if logger == nil {
		logger = log.New(os.Stdout, "[BRIEF] ", log.LstdFlags)
	}
	return &BriefGenerator{
		store:     st,
		llm:       client,
		index:     idx,
		notifier:  notifier,
		telemetry: tel,
		cfg:       cfg,
		watchlist: watchlistSize,
		logger:    logger,
		now:       time.Now,
	}
}

func (g *BriefGenerator) Generate(ctx context.Context, state *State) error {
	now := g.now().UTC()

	lastBriefAt := int64(0)
	if latest, ok, err := g.store.LatestArtifact(ctx); err != nil {
		return err
	} else if ok {
		lastBriefAt = latest.Timestamp
	}

	totalEvents := 0
	for _, n := range state.Counts24h {
		totalEvents += n
	}
	maxGeneral := 0.0
	for _, key := range generalSignals {
		if v := state.Signals[key]; v > maxGeneral {
			maxGeneral = v
		}
	}
	poolScore := state.Signals["pool_activity_score"]

	gate := Gate(time.Duration(now.Unix()-lastBriefAt)*time.Second, g.cfg.Cooldown,
		totalEvents, g.cfg.EventThreshold, maxGeneral, g.cfg.SignalThreshold, poolScore)
	if !gate.Emit {
		g.logger.Printf("brief skipped: %s (%d events, max signal %.2f)", gate.Reason, totalEvents, maxGeneral)
		if g.telemetry != nil {
			g.telemetry.BriefSkipped(gate.Reason)
		}
		state.BriefSkipped = true
		state.SkipReason = gate.Reason
		state.Status = StatusMemory
		return nil
	}

	briefText, discoveredPools := g.deterministicBrief(state, totalEvents)

	var llmPayload json.RawMessage
	if g.cfg.Mode == "llm" || g.cfg.Mode == "both" {
		llmPayload = g.llmBrief(ctx, state, lastBriefAt)
	}

	artifact := store.Artifact{
		ArtifactID: fmt.Sprintf("brief_%d", now.Unix()),
		Timestamp:  now.Unix(),
		Summary:    briefText,
		Signals:    state.Signals,
		Watchlist:  discoveredPools,
		SourceIDs:  state.SourceIDs,
		EventCount: totalEvents,
		LLM:        llmPayload,
	}
	if err := g.store.SaveArtifact(ctx, artifact); err != nil {
		return err
	}
	if g.index != nil {
		if err := g.index.IndexArtifact(artifact); err != nil {
			g.logger.Printf("index artifact failed: %v", err)
		}
	}
	if g.notifier != nil && g.notifier.Enabled() {
		meta := map[string]string{
			"events":   fmt.Sprintf("%d", totalEvents),
			"artifact": artifact.ArtifactID,
		}
		if err := g.notifier.Notify(ctx, "chainbrief: new brief", briefText, meta); err != nil {
			g.logger.Printf("notify failed: %v", err)
		}
	}
	if g.telemetry != nil {
		g.telemetry.BriefEmitted()
	}

	g.logger.Printf("emitted %s: %d chars, %d discovered pools", artifact.ArtifactID, len(briefText), len(discoveredPools))
	state.BriefText = briefText
	state.Status = StatusMemory
	return nil
}

func (g *BriefGenerator) deterministicBrief(state *State, totalEvents int) (string, []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "24h activity: %d events across %d types", totalEvents, len(state.Counts24h))
	if g.watchlist > 0 {
		fmt.Fprintf(&b, " (monitoring %d wallets)", g.watchlist)
	}
	b.WriteString(". ")

	if len(state.TopPools) > 0 {
		fmt.Fprintf(&b, "Top pools: %s. ", strings.Join(firstN(state.TopPools, 3), ", "))
	}

	if _, ok := state.Signals["pool_activity_score"]; ok {
		fmt.Fprintf(&b, "LP activity: net delta %g, churn rate %.2f, activity score %.2f. ",
			state.Signals["net_liquidity_delta_24h"],
			state.Signals["lp_churn_rate_24h"],
			state.Signals["pool_activity_score"])
	}

	if state.Action == ActionWalletRecon {
		if _, ok := state.Signals["net_lp_usd_24h"]; ok {
			source := state.ProviderRef.Name
			if source == "" {
				source = "unknown"
			}
			fmt.Fprintf(&b, "Wallet recon via %s: net LP USD $%.2f, new pools touched %d. ",
				source, state.Signals["net_lp_usd_24h"], len(state.NewPools))
		}
	}

	fmt.Fprintf(&b, "General signals: volume=%.2f, activity=%.2f. ",
		state.Signals["volume_signal"], state.Signals["activity_signal"])

	var discovered []string
	discovered = append(discovered, firstN(state.TopPools, 2)...)
	if state.Signals["pool_activity_score"] > 0.5 {
		for _, pool := range firstN(state.TopPools, 2) {
			discovered = append(discovered, pool+" (LP)")
		}
	}
	if keyValues, ok := state.RawMetadata["key_values"].(map[string]interface{}); ok {
		if top := metricsTopPool(keyValues); top != "unknown" && !contains(discovered, top) {
			discovered = append(discovered, top)
		}
	}

	if len(discovered) > 0 {
		fmt.Fprintf(&b, "Discovered pools: %s.", strings.Join(discovered, ", "))
	} else {
		b.WriteString("Discovered pools: none.")
	}
	return b.String(), discovered
}

// llmBrief runs the model pass. Every failure path degrades to nil so the
// deterministic brief always ships.
func (g *BriefGenerator) llmBrief(ctx context.Context, state *State, lastBriefAt int64) json.RawMessage {
	if g.llm == nil || !g.llm.Available() {
		return nil
	}
	events, err := g.store.EventsSince(ctx, lastBriefAt)
	if err != nil {
		g.logger.Printf("llm input load failed: %v", err)
		return nil
	}

	if g.cfg.LLMInputPolicy == "budgeted" {
		if est := EstimateTokens(events, state.Signals); est > g.cfg.LLMTokenCap {
			g.logger.Printf("reducing llm input: %d tokens over cap %d", est, g.cfg.LLMTokenCap)
			before := len(events)
			events = ReduceEvents(events, state.Signals, g.cfg.LLMTokenCap)
			state.Signals["reduction_original_count"] = float64(before)
			state.Signals["reduction_reduced_count"] = float64(len(events))
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"events":  events,
		"rollups": state.Signals,
	})
	if err != nil {
		g.logger.Printf("llm payload marshal failed: %v", err)
		return nil
	}

	result, requestID, err := g.llm.GenerateBrief(ctx, briefSystemPrompt, string(payload))
	if err != nil {
		g.logger.Printf("llm brief failed, deterministic only: %v", err)
		return nil
	}
	totalTokens := result.PromptTokens + result.CompletionTokens
	if err := g.store.RecordLLMUsage(ctx, result.Model, result.PromptTokens, result.CompletionTokens, result.Cost, requestID); err != nil {
		g.logger.Printf("record llm usage failed: %v", err)
	}
	if err := g.store.AddSpend(ctx, g.now(), result.Cost); err != nil {
		g.logger.Printf("record llm spend failed: %v", err)
	}
	state.Spend += result.Cost

	out, err := json.Marshal(map[string]interface{}{
		"summary_text": result.SummaryText,
		"struct":       result.Struct,
		"validation":   result.Validation,
		"model":        result.Model,
		"tokens":       totalTokens,
		"degraded":     result.Degraded,
	})
	if err != nil {
		return nil
	}
	g.logger.Printf("llm brief via %s (%d tokens)", result.Model, totalTokens)
	return out
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func contains(s []string, v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}
