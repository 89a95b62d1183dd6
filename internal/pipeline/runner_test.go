package pipeline

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/mohammad-safakhou/chainbrief/config"
	"github.com/mohammad-safakhou/chainbrief/internal/schema"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

func newTestRunner(t *testing.T, st *store.Store, router activityRouter, now time.Time) *Runner {
	t.Helper()
	logger := log.New(os.Stdout, "", 0)

	planner := NewPlanner(st, config.BudgetConfig{DailyCap: 5}, testStaleness(), []string{"0xw"}, logger)
	planner.now = func() time.Time { return now }

	worker := NewWorker(st, router, logger)
	worker.now = func() time.Time { return now }

	analyzer := NewAnalyzer(st, nil, "base", logger)
	analyzer.now = func() time.Time { return now }

	cfg := briefConfig()
	cfg.EventThreshold = 1
	brief := newTestBriefGenerator(t, st, cfg, now)

	r := NewRunner(st, planner, worker, analyzer, brief, nil, logger)
	r.now = func() time.Time { return now }
	return r
}

func TestRunOnceFullTick(t *testing.T) {
	st := newPipelineStore(t)
	now := time.Unix(1_000_000, 0)
	stub := &routerStub{
		provider: "mock",
		records: []schema.Record{
			testRecord("0x1", "swap", "0xw", "WETH/USDC", now.Unix()-3600, 100),
			testRecord("0x2", "lp_add", "0xw", "WETH/USDC", now.Unix()-7200, 400),
		},
		events: []map[string]interface{}{{"tx": "0x1"}, {"tx": "0x2"}},
	}
	r := newTestRunner(t, st, stub, now)

	rec, err := r.RunOnce(context.Background(), "track wallets", "")
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rec.Status != string(StatusCompleted) {
		t.Fatalf("status: got %q (%v)", rec.Status, rec.Messages)
	}
	if rec.Action != string(ActionWalletRecon) {
		t.Fatalf("action: got %q", rec.Action)
	}
	if rec.ThreadID == "" || rec.ID == "" {
		t.Fatal("run and thread ids must be assigned")
	}

	// Cursor committed at end of tick.
	cursor, ok, err := st.GetCursor(context.Background(), "wallet:0xw")
	if err != nil || !ok {
		t.Fatalf("cursor: ok=%v err=%v", ok, err)
	}
	if cursor.LastTS != now.Unix() {
		t.Fatalf("cursor ts: got %d", cursor.LastTS)
	}

	// Run record persisted, artifact emitted.
	latest, ok, err := st.LatestRun(context.Background(), rec.ThreadID)
	if err != nil || !ok {
		t.Fatalf("latest run: ok=%v err=%v", ok, err)
	}
	if latest.ID != rec.ID {
		t.Fatalf("persisted run: got %q", latest.ID)
	}
	if _, ok, _ := st.LatestArtifact(context.Background()); !ok {
		t.Fatal("full tick above thresholds must emit an artifact")
	}
}

func TestRunOncePanicBecomesFailed(t *testing.T) {
	st := newPipelineStore(t)
	now := time.Unix(1_000_000, 0)
	// A nil router makes the worker stage panic on first use.
	r := newTestRunner(t, st, nil, now)

	rec, err := r.RunOnce(context.Background(), "track wallets", "")
	if err != nil {
		t.Fatalf("run once must persist the failure, got %v", err)
	}
	if rec.Status != string(StatusFailed) {
		t.Fatalf("status: got %q", rec.Status)
	}
	if len(rec.Messages) == 0 {
		t.Fatal("failure must leave a message trail")
	}
	// Failed ticks never commit cursors.
	if c, ok, _ := st.GetCursor(context.Background(), "wallet:0xw"); ok && c.LastTS != 0 {
		t.Fatalf("cursor advanced on failure: %+v", c)
	}
}

func TestResumeReusesGoal(t *testing.T) {
	st := newPipelineStore(t)
	now := time.Unix(1_000_000, 0)
	stub := &routerStub{provider: "mock"}
	r := newTestRunner(t, st, stub, now)

	first, err := r.RunOnce(context.Background(), "watch the whales", "")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	second, err := r.Resume(context.Background(), first.ThreadID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Goal != "watch the whales" {
		t.Fatalf("goal: got %q", second.Goal)
	}
	if second.ThreadID != first.ThreadID {
		t.Fatalf("thread: got %q", second.ThreadID)
	}
	if second.ID == first.ID {
		t.Fatal("resume must create a new run")
	}

	runs, err := st.RunsByThread(context.Background(), first.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("thread runs: got %d", len(runs))
	}
}

func TestResumeUnknownThread(t *testing.T) {
	st := newPipelineStore(t)
	r := newTestRunner(t, st, &routerStub{provider: "mock"}, time.Unix(1_000_000, 0))
	if _, err := r.Resume(context.Background(), "no-such-thread"); err == nil {
		t.Fatal("expected error for unknown thread")
	}
}
