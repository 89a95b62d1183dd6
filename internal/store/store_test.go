package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestHealthCheck(t *testing.T) {
	st := newTestStore(t)
	if err := st.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}

func TestSaveRawRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	raw := RawResponse{
		ID:      "mock_wallet_0xw_100",
		Source:  "mock",
		Payload: json.RawMessage(`{"events":[]}`),
		Provenance: Provenance{
			Provider:     "mock",
			QueryParams:  map[string]string{"address": "0xw"},
			SnapshotTime: time.Unix(100, 0).UTC(),
		},
	}
	if err := st.SaveRaw(ctx, raw); err != nil {
		t.Fatalf("save raw: %v", err)
	}
	// Re-saving the same id replaces, not duplicates.
	raw.Source = "mock2"
	if err := st.SaveRaw(ctx, raw); err != nil {
		t.Fatalf("re-save raw: %v", err)
	}

	got, ok, err := st.GetRaw(ctx, raw.ID)
	if err != nil || !ok {
		t.Fatalf("get raw: ok=%v err=%v", ok, err)
	}
	if got.Source != "mock2" {
		t.Fatalf("source: got %q", got.Source)
	}
	if got.Provenance.QueryParams["address"] != "0xw" {
		t.Fatalf("provenance: got %+v", got.Provenance)
	}

	if _, ok, _ := st.GetRaw(ctx, "nope"); ok {
		t.Fatal("missing id must report absent")
	}
}

func TestSaveEventIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustSaveRaw(t, st, "src_1")
	ev := Event{
		EventID:   "0xabc:0",
		Wallet:    "0xw",
		EventType: "swap",
		Pool:      "WETH/USDC",
		Chain:     "base",
		Timestamp: 100,
		Value:     map[string]interface{}{"usd_value": 10.0},
		SourceID:  "src_1",
	}
	if err := st.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("save event: %v", err)
	}
	ev.EventType = "lp_add"
	if err := st.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("re-save event: %v", err)
	}

	events, err := st.EventsByWallet(ctx, "0xw", 0)
	if err != nil {
		t.Fatalf("events by wallet: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one row after double save, got %d", len(events))
	}
	if events[0].EventType != "lp_add" {
		t.Fatalf("upsert did not replace: %q", events[0].EventType)
	}
}

func TestSaveEventRequiresSource(t *testing.T) {
	st := newTestStore(t)
	err := st.SaveEvent(context.Background(), Event{EventID: "0x1", Timestamp: 1})
	if err == nil {
		t.Fatal("expected error for missing source id")
	}
}

func TestProvenanceChain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustSaveRaw(t, st, "src_1")
	mustSaveEvent(t, st, "0x1", "src_1")
	mustSaveEvent(t, st, "0x2", "src_1")

	artifact := Artifact{
		ArtifactID: "brief_100",
		Timestamp:  100,
		Summary:    "two events",
		Signals:    map[string]float64{"volume_signal": 0.2},
		SourceIDs:  []string{"src_1"},
		EventCount: 2,
	}
	if err := st.SaveArtifact(ctx, artifact); err != nil {
		t.Fatalf("save artifact: %v", err)
	}

	link, err := st.ProvenanceChain(ctx, "brief_100")
	if err != nil {
		t.Fatalf("provenance chain: %v", err)
	}
	if link.Artifact.ArtifactID != "brief_100" {
		t.Fatalf("artifact: got %q", link.Artifact.ArtifactID)
	}
	if len(link.Sources) != 1 || link.Sources[0].ID != "src_1" {
		t.Fatalf("sources: got %+v", link.Sources)
	}
	if len(link.Events) != 2 {
		t.Fatalf("events: got %d", len(link.Events))
	}

	if _, err := st.ProvenanceChain(ctx, "brief_missing"); err == nil {
		t.Fatal("missing artifact must error")
	}
}

func TestCleanupRetention(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)

	// Old raw + old event, and a fresh pair that must survive.
	if err := st.SaveRaw(ctx, RawResponse{ID: "src_old", Source: "mock", CreatedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveEvent(ctx, Event{EventID: "0xold", SourceID: "src_old", Timestamp: old.Unix(), CreatedAt: old}); err != nil {
		t.Fatal(err)
	}
	mustSaveRaw(t, st, "src_new")
	mustSaveEvent(t, st, "0xnew", "src_new")
	if err := st.SaveArtifact(ctx, Artifact{ArtifactID: "brief_old", Timestamp: old.Unix(), CreatedAt: old}); err != nil {
		t.Fatal(err)
	}

	stats, err := st.Cleanup(ctx, now, 7, 30, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if stats.Events != 1 || stats.Scratch != 1 || stats.Artifacts != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if _, ok, _ := st.GetRaw(ctx, "src_new"); !ok {
		t.Fatal("fresh scratch row deleted")
	}
	if events, _ := st.EventsSince(ctx, 0); len(events) != 1 {
		t.Fatalf("surviving events: got %d", len(events))
	}
}

func TestCleanupKeepsReferencedScratch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)

	// Scratch row past its horizon but still referenced by a live event.
	if err := st.SaveRaw(ctx, RawResponse{ID: "src_ref", Source: "mock", CreatedAt: old}); err != nil {
		t.Fatal(err)
	}
	mustSaveEvent(t, st, "0xlive", "src_ref")

	stats, err := st.Cleanup(ctx, now, 7, 30, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if stats.Scratch != 0 {
		t.Fatalf("referenced scratch must survive, stats: %+v", stats)
	}
	if _, ok, _ := st.GetRaw(ctx, "src_ref"); !ok {
		t.Fatal("referenced scratch row deleted")
	}
}

func TestCursorMonotonic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SetCursor(ctx, "wallet:0xw", 100, "first"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetCursor(ctx, "wallet:0xw", 50, "regression"); err != nil {
		t.Fatal(err)
	}
	c, ok, err := st.GetCursor(ctx, "wallet:0xw")
	if err != nil || !ok {
		t.Fatalf("get cursor: ok=%v err=%v", ok, err)
	}
	if c.LastTS != 100 {
		t.Fatalf("cursor moved backwards: %d", c.LastTS)
	}
}

func TestSeedCursorOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SeedCursor(ctx, "lp"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetCursor(ctx, "lp", 500, "advanced"); err != nil {
		t.Fatal(err)
	}
	// Re-seeding must not reset the cursor.
	if err := st.SeedCursor(ctx, "lp"); err != nil {
		t.Fatal(err)
	}
	c, _, err := st.GetCursor(ctx, "lp")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastTS != 500 {
		t.Fatalf("seed reset existing cursor to %d", c.LastTS)
	}
}

func TestBudgetDayRollover(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 31, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 9, 1, 0, 30, 0, 0, time.UTC)

	spent, err := st.SpentToday(ctx, day1)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0 {
		t.Fatalf("missing day row: got %v", spent)
	}

	if err := st.AddSpend(ctx, day1, 1.25); err != nil {
		t.Fatal(err)
	}
	if err := st.AddSpend(ctx, day1, 0.75); err != nil {
		t.Fatal(err)
	}
	if spent, _ = st.SpentToday(ctx, day1); spent != 2.0 {
		t.Fatalf("day1 spend: got %v", spent)
	}
	// Midnight UTC starts a fresh row.
	if spent, _ = st.SpentToday(ctx, day2); spent != 0 {
		t.Fatalf("day2 spend: got %v", spent)
	}
}

func TestRunsAndThreads(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	runs := []RunRecord{
		{ID: "r1", ThreadID: "t1", Goal: "g", Status: "completed", Action: "wallet_recon", CreatedAt: time.Unix(100, 0)},
		{ID: "r2", ThreadID: "t1", Goal: "g", Status: "failed", Action: "lp_recon", CreatedAt: time.Unix(200, 0)},
		{ID: "r3", ThreadID: "t2", Goal: "other", Status: "completed", CreatedAt: time.Unix(300, 0)},
	}
	for _, r := range runs {
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatalf("save run %s: %v", r.ID, err)
		}
	}

	latest, ok, err := st.LatestRun(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("latest run: ok=%v err=%v", ok, err)
	}
	if latest.ID != "r2" {
		t.Fatalf("latest: got %q", latest.ID)
	}

	byThread, err := st.RunsByThread(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byThread) != 2 {
		t.Fatalf("thread runs: got %d", len(byThread))
	}

	threads, err := st.ListThreads(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 {
		t.Fatalf("threads: got %d", len(threads))
	}

	if _, ok, _ := st.LatestRun(ctx, "t404"); ok {
		t.Fatal("unknown thread must report absent")
	}
}

func TestArtifactQueries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{100, 200, 300} {
		if err := st.SaveArtifact(ctx, Artifact{
			ArtifactID: []string{"brief_100", "brief_200", "brief_300"}[i],
			Timestamp:  ts,
			Summary:    "s",
		}); err != nil {
			t.Fatal(err)
		}
	}

	latest, ok, err := st.LatestArtifact(ctx)
	if err != nil || !ok {
		t.Fatalf("latest artifact: ok=%v err=%v", ok, err)
	}
	if latest.ArtifactID != "brief_300" {
		t.Fatalf("latest: got %q", latest.ArtifactID)
	}

	recent, err := st.RecentArtifacts(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ArtifactID != "brief_300" {
		t.Fatalf("recent: got %+v", recent)
	}
}

func TestWallets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.AddWallet(ctx, "0xbbb", "second"); err != nil {
		t.Fatal(err)
	}
	if err := st.AddWallet(ctx, "0xaaa", "first"); err != nil {
		t.Fatal(err)
	}
	wallets, err := st.ListWallets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(wallets) != 2 || wallets[0] != "0xaaa" {
		t.Fatalf("wallets: got %v", wallets)
	}

	if err := st.RemoveWallet(ctx, "0xaaa"); err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveWallet(ctx, "0xmissing"); err == nil {
		t.Fatal("removing an untracked wallet must error")
	}
}

func TestLLMUsage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.RecordLLMUsage(ctx, "gpt-4o-mini", 1000, 200, 0.01, "req_1"); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordLLMUsage(ctx, "gpt-4o-mini", 500, 100, 0.005, "req_2"); err != nil {
		t.Fatal(err)
	}
	tokens, cost, err := st.LLMUsageSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if tokens != 1800 {
		t.Fatalf("tokens: got %d", tokens)
	}
	if cost < 0.014 || cost > 0.016 {
		t.Fatalf("cost: got %v", cost)
	}
}

func mustSaveRaw(t *testing.T, st *Store, id string) {
	t.Helper()
	if err := st.SaveRaw(context.Background(), RawResponse{ID: id, Source: "mock"}); err != nil {
		t.Fatalf("save raw %s: %v", id, err)
	}
}

func mustSaveEvent(t *testing.T, st *Store, eventID, sourceID string) {
	t.Helper()
	err := st.SaveEvent(context.Background(), Event{
		EventID:   eventID,
		Wallet:    "0xw",
		EventType: "swap",
		Timestamp: time.Now().Unix(),
		SourceID:  sourceID,
	})
	if err != nil {
		t.Fatalf("save event %s: %v", eventID, err)
	}
}
