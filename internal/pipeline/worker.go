package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/chainbrief/internal/provider"
	"github.com/mohammad-safakhou/chainbrief/internal/schema"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

const exploreQuery = "base chain DEX metrics volume pools"

// activityRouter is the router surface the worker consumes.
type activityRouter interface {
	FetchWalletActivity(ctx context.Context, address string, sinceTS int64) (provider.Activity, []schema.Record, error)
	FetchPoolActivity(ctx context.Context, sinceTS int64) (provider.Activity, []schema.Record, error)
	FetchMetrics(ctx context.Context, query string) (map[string]interface{}, error)
}

// Worker executes the planned action: fetch upstream data, persist the raw
// response with provenance, and stage the cursor advance for the runner to
// commit at the end of the tick.
type Worker struct {
	store  *store.Store
	router activityRouter
	logger *log.Logger
	now    func() time.Time
}

func NewWorker(st *store.Store, router activityRouter, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
	}
	return &Worker{store: st, router: router, logger: logger, now: time.Now}
}

func (w *Worker) Execute(ctx context.Context, state *State) error {
	switch state.Action {
	case ActionNone:
		state.Status = StatusCompleted
		return nil
	case ActionWalletRecon:
		return w.walletRecon(ctx, state)
	case ActionLPRecon:
		return w.lpRecon(ctx, state)
	case ActionExplore:
		return w.exploreMetrics(ctx, state)
	default:
		return fmt.Errorf("unknown action %q", state.Action)
	}
}

func (w *Worker) walletRecon(ctx context.Context, state *State) error {
	act, records, err := w.router.FetchWalletActivity(ctx, state.TargetWallet, state.SinceTS)
	if err != nil {
		return fmt.Errorf("wallet recon %s: %w", state.TargetWallet, err)
	}
	now := w.now().UTC()

	rawID := fmt.Sprintf("%s_wallet_%s_%d", act.Ref.Name, state.TargetWallet, now.Unix())
	if err := w.saveRaw(ctx, rawID, act, map[string]string{
		"address":  state.TargetWallet,
		"since_ts": strconv.FormatInt(state.SinceTS, 10),
	}, now); err != nil {
		return err
	}

	state.Records = records
	state.SourceIDs = append(state.SourceIDs, rawID)
	state.ProviderRef = act.Ref
	state.RawMetadata = act.Metadata
	state.PendingCursor = &CursorUpdate{
		Name:  "wallet:" + state.TargetWallet,
		TS:    now.Unix(),
		Notes: "wallet activity fetch for " + state.TargetWallet,
	}
	w.logger.Printf("wallet recon %s via %s: %d events", state.TargetWallet, act.Ref.Name, len(records))
	state.Status = StatusAnalyzing
	return nil
}

func (w *Worker) lpRecon(ctx context.Context, state *State) error {
	act, records, err := w.router.FetchPoolActivity(ctx, state.SinceTS)
	if err != nil {
		return fmt.Errorf("lp recon: %w", err)
	}
	now := w.now().UTC()

	rawID := fmt.Sprintf("%s_lp_%d", act.Ref.Name, now.Unix())
	if err := w.saveRaw(ctx, rawID, act, map[string]string{
		"since_ts": strconv.FormatInt(state.SinceTS, 10),
	}, now); err != nil {
		return err
	}

	state.Records = records
	state.SourceIDs = append(state.SourceIDs, rawID)
	state.ProviderRef = act.Ref
	state.RawMetadata = act.Metadata
	state.PendingCursor = &CursorUpdate{Name: "lp", TS: now.Unix(), Notes: "lp activity fetch"}
	w.logger.Printf("lp recon via %s: %d events", act.Ref.Name, len(records))
	state.Status = StatusAnalyzing
	return nil
}

func (w *Worker) exploreMetrics(ctx context.Context, state *State) error {
	metrics, err := w.router.FetchMetrics(ctx, exploreQuery)
	if err != nil {
		return fmt.Errorf("explore metrics: %w", err)
	}
	now := w.now().UTC()

	rawID := fmt.Sprintf("web_metrics_%d", now.Unix())
	payload, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	source := "metrics"
	if s, ok := metrics["source"].(string); ok && s != "" {
		source = s
	}
	if err := w.store.SaveRaw(ctx, store.RawResponse{
		ID:      rawID,
		Source:  source,
		Payload: payload,
		Provenance: store.Provenance{
			Provider:     source,
			QueryParams:  map[string]string{"query": exploreQuery},
			SnapshotTime: now,
		},
	}); err != nil {
		return err
	}

	// Metrics become a single synthetic event so the analyze and brief
	// stages see exploration runs the same way as recon runs.
	keyValues, _ := metrics["key_values"].(map[string]interface{})
	state.Records = []schema.Record{{
		EventID:   fmt.Sprintf("metrics_%d:0", now.Unix()),
		EventType: "metrics",
		Pool:      metricsTopPool(keyValues),
		Chain:     "base",
		Timestamp: now.Unix(),
		Fields: map[string]interface{}{
			schema.FieldEventID:   fmt.Sprintf("metrics_%d:0", now.Unix()),
			schema.FieldEventType: "metrics",
			schema.FieldTimestamp: now.Unix(),
			schema.FieldPool:      metricsTopPool(keyValues),
			schema.FieldAmounts:   keyValues,
			schema.FieldChain:     "base",
		},
	}}
	state.SourceIDs = append(state.SourceIDs, rawID)
	state.RawMetadata = metrics
	state.PendingCursor = &CursorUpdate{Name: "explore_metrics", TS: now.Unix(), Notes: "metrics exploration"}
	w.logger.Printf("explore metrics via %s", source)
	state.Status = StatusAnalyzing
	return nil
}

func (w *Worker) saveRaw(ctx context.Context, rawID string, act provider.Activity, params map[string]string, now time.Time) error {
	payload, err := json.Marshal(map[string]interface{}{
		"events":   act.Events,
		"metadata": act.Metadata,
	})
	if err != nil {
		return err
	}
	return w.store.SaveRaw(ctx, store.RawResponse{
		ID:      rawID,
		Source:  act.Ref.Name,
		Payload: payload,
		Provenance: store.Provenance{
			Provider:     act.Ref.Name,
			QueryParams:  params,
			SnapshotTime: now,
		},
	})
}

func metricsTopPool(keyValues map[string]interface{}) string {
	for _, key := range []string{"top_pool", "top_gainer_pool"} {
		if v, ok := keyValues[key].(string); ok && v != "" {
			return v
		}
	}
	return "unknown"
}
