package pipeline

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/mohammad-safakhou/chainbrief/internal/provider"
	"github.com/mohammad-safakhou/chainbrief/internal/schema"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

type routerStub struct {
	walletErr error
	records   []schema.Record
	events    []map[string]interface{}
	metrics   map[string]interface{}
	provider  string
}

func (r *routerStub) FetchWalletActivity(ctx context.Context, address string, sinceTS int64) (provider.Activity, []schema.Record, error) {
	if r.walletErr != nil {
		return provider.Activity{}, nil, r.walletErr
	}
	return provider.Activity{
		Events:   r.events,
		Metadata: map[string]interface{}{"source": r.provider},
		Ref:      provider.Ref{Name: r.provider, Chain: "base", Cursor: sinceTS},
	}, r.records, nil
}

func (r *routerStub) FetchPoolActivity(ctx context.Context, sinceTS int64) (provider.Activity, []schema.Record, error) {
	return provider.Activity{
		Events:   r.events,
		Metadata: map[string]interface{}{"source": r.provider},
		Ref:      provider.Ref{Name: r.provider, Chain: "base", Cursor: sinceTS},
	}, r.records, nil
}

func (r *routerStub) FetchMetrics(ctx context.Context, query string) (map[string]interface{}, error) {
	return r.metrics, nil
}

func newTestWorker(st *store.Store, router activityRouter, now time.Time) *Worker {
	w := NewWorker(st, router, log.New(os.Stdout, "", 0))
	w.now = func() time.Time { return now }
	return w
}

func TestWorkerWalletRecon(t *testing.T) {
	st := newPipelineStore(t)
	now := time.Unix(1_000_000, 0)
	stub := &routerStub{
		provider: "mock",
		records:  []schema.Record{testRecord("0x1", "swap", "0xw", "WETH/USDC", now.Unix()-60, 0)},
		events:   []map[string]interface{}{{"tx": "0x1"}},
	}
	w := newTestWorker(st, stub, now)

	state := NewState("r", "t", "g")
	state.Action = ActionWalletRecon
	state.TargetWallet = "0xw"
	state.SinceTS = 500

	if err := w.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status != StatusAnalyzing {
		t.Fatalf("status: got %q", state.Status)
	}

	wantID := "mock_wallet_0xw_1000000"
	raw, ok, err := st.GetRaw(context.Background(), wantID)
	if err != nil || !ok {
		t.Fatalf("raw %s: ok=%v err=%v", wantID, ok, err)
	}
	if raw.Provenance.Provider != "mock" {
		t.Fatalf("provenance provider: got %q", raw.Provenance.Provider)
	}
	if raw.Provenance.QueryParams["since_ts"] != "500" {
		t.Fatalf("query params: got %v", raw.Provenance.QueryParams)
	}
	if len(state.SourceIDs) != 1 || state.SourceIDs[0] != wantID {
		t.Fatalf("source ids: got %v", state.SourceIDs)
	}
	if state.PendingCursor == nil || state.PendingCursor.Name != "wallet:0xw" || state.PendingCursor.TS != now.Unix() {
		t.Fatalf("pending cursor: got %+v", state.PendingCursor)
	}
	// Cursor is staged, not written.
	if _, ok, _ := st.GetCursor(context.Background(), "wallet:0xw"); ok {
		t.Fatal("worker must not commit the cursor itself")
	}
}

func TestWorkerWalletReconError(t *testing.T) {
	st := newPipelineStore(t)
	w := newTestWorker(st, &routerStub{walletErr: errors.New("all providers down")}, time.Unix(1_000_000, 0))

	state := NewState("r", "t", "g")
	state.Action = ActionWalletRecon
	state.TargetWallet = "0xw"

	if err := w.Execute(context.Background(), state); err == nil {
		t.Fatal("expected error")
	}
	if state.PendingCursor != nil {
		t.Fatal("failed fetch must not stage a cursor advance")
	}
}

func TestWorkerLPRecon(t *testing.T) {
	st := newPipelineStore(t)
	now := time.Unix(1_000_000, 0)
	w := newTestWorker(st, &routerStub{provider: "mock"}, now)

	state := NewState("r", "t", "g")
	state.Action = ActionLPRecon

	if err := w.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok, _ := st.GetRaw(context.Background(), "mock_lp_1000000"); !ok {
		t.Fatal("lp raw row missing")
	}
	if state.PendingCursor == nil || state.PendingCursor.Name != "lp" {
		t.Fatalf("pending cursor: got %+v", state.PendingCursor)
	}
}

func TestWorkerExploreMetrics(t *testing.T) {
	st := newPipelineStore(t)
	now := time.Unix(1_000_000, 0)
	stub := &routerStub{metrics: map[string]interface{}{
		"source": "mock_metrics",
		"key_values": map[string]interface{}{
			"top_gainer_pool": "DEGEN/WETH",
			"new_pools_24h":   7,
		},
	}}
	w := newTestWorker(st, stub, now)

	state := NewState("r", "t", "g")
	state.Action = ActionExplore

	if err := w.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok, _ := st.GetRaw(context.Background(), "web_metrics_1000000"); !ok {
		t.Fatal("metrics raw row missing")
	}
	if len(state.Records) != 1 {
		t.Fatalf("records: got %d", len(state.Records))
	}
	rec := state.Records[0]
	if rec.EventType != "metrics" {
		t.Fatalf("event type: got %q", rec.EventType)
	}
	if rec.Pool != "DEGEN/WETH" {
		t.Fatalf("pool: got %q", rec.Pool)
	}
	if state.PendingCursor == nil || state.PendingCursor.Name != "explore_metrics" {
		t.Fatalf("pending cursor: got %+v", state.PendingCursor)
	}
}

func TestWorkerNoActionCompletes(t *testing.T) {
	st := newPipelineStore(t)
	w := newTestWorker(st, &routerStub{}, time.Unix(1_000_000, 0))

	state := NewState("r", "t", "g")
	if err := w.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("status: got %q", state.Status)
	}
}
