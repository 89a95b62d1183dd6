package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the local sqlite database holding all three data layers:
// raw provider responses (scratch), normalized events, and brief artifacts.
type Store struct {
	DB     *sql.DB
	logger *log.Logger
}

// Provenance records where a raw response came from.
type Provenance struct {
	Provider     string            `json:"provider"`
	QueryParams  map[string]string `json:"query_params,omitempty"`
	SnapshotTime time.Time         `json:"snapshot_time"`
}

// RawResponse is a Layer 1 record: the untouched provider payload.
type RawResponse struct {
	ID         string
	Source     string
	Payload    json.RawMessage
	Provenance Provenance
	CreatedAt  time.Time
}

// Event is a Layer 2 record: one normalized on-chain event.
type Event struct {
	EventID   string
	Wallet    string
	EventType string
	Pool      string
	Chain     string
	Timestamp int64
	Value     map[string]interface{}
	SourceID  string
	CreatedAt time.Time
}

// Artifact is a Layer 3 record: one immutable brief.
type Artifact struct {
	ArtifactID string
	Timestamp  int64
	Summary    string
	Signals    map[string]float64
	Watchlist  []string
	SourceIDs  []string
	EventCount int
	LLM        json.RawMessage
	CreatedAt  time.Time
}

// Cursor tracks the last observed timestamp for a scheduled resource.
type Cursor struct {
	Name      string
	LastTS    int64
	Notes     string
	UpdatedAt time.Time
}

// RunRecord captures the outcome of one pipeline tick within a thread.
type RunRecord struct {
	ID        string
	ThreadID  string
	Goal      string
	Status    string
	Action    string
	Signals   map[string]float64
	BriefText string
	Spend     float64
	Messages  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ThreadSummary is a lightweight view of a thread's latest run.
type ThreadSummary struct {
	ThreadID  string
	Goal      string
	Status    string
	Runs      int
	UpdatedAt time.Time
}

// ProvenanceLink resolves an artifact down to its raw sources and events.
type ProvenanceLink struct {
	Artifact Artifact
	Sources  []RawResponse
	Events   []Event
}

// CleanupStats reports rows removed per layer.
type CleanupStats struct {
	Scratch   int64
	Events    int64
	Artifacts int64
}

// Open opens (creating if needed) the sqlite database at path, applies
// pragmas for single-process durability and runs pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(db, "up", 0); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		DB:     db,
		logger: log.New(os.Stdout, "[STORE] ", log.LstdFlags),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.DB.Close() }

// HealthCheck verifies the required tables exist and the database file is
// internally consistent.
func (s *Store) HealthCheck(ctx context.Context) error {
	required := []string{"scratch", "events", "artifacts", "cursors", "budget_days", "runs", "llm_usage", "writes_log", "wallets"}
	for _, tbl := range required {
		var name string
		err := s.DB.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, tbl).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("missing table %s", tbl)
		}
		if err != nil {
			return err
		}
	}
	var result string
	if err := s.DB.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// SaveRaw upserts a Layer 1 record. Re-saving the same id replaces the row.
func (s *Store) SaveRaw(ctx context.Context, raw RawResponse) error {
	if raw.ID == "" {
		return fmt.Errorf("raw id required")
	}
	payload := raw.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	prov, err := json.Marshal(raw.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	created := raw.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO scratch (id, source, payload, provenance, created_at)
VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  source     = excluded.source,
  payload    = excluded.payload,
  provenance = excluded.provenance
`, raw.ID, raw.Source, string(payload), string(prov), created.Unix())
	if err != nil {
		return err
	}
	s.logWrite(ctx, "scratch", "upsert", 1, raw.ID)
	return nil
}

// GetRaw fetches a Layer 1 record by id. Bool reports existence.
func (s *Store) GetRaw(ctx context.Context, id string) (RawResponse, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, source, payload, provenance, created_at FROM scratch WHERE id=?`, id)
	var raw RawResponse
	var payload, prov string
	var created int64
	if err := row.Scan(&raw.ID, &raw.Source, &payload, &prov, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RawResponse{}, false, nil
		}
		return RawResponse{}, false, err
	}
	raw.Payload = json.RawMessage(payload)
	raw.CreatedAt = time.Unix(created, 0).UTC()
	if err := json.Unmarshal([]byte(prov), &raw.Provenance); err != nil {
		s.logger.Printf("scratch %s: corrupted provenance: %v", raw.ID, err)
	}
	return raw, true, nil
}

// SaveEvent upserts a Layer 2 record keyed by event id.
func (s *Store) SaveEvent(ctx context.Context, ev Event) error {
	if ev.EventID == "" {
		return fmt.Errorf("event id required")
	}
	if ev.SourceID == "" {
		return fmt.Errorf("event %s: source id required", ev.EventID)
	}
	value := ev.Value
	if value == nil {
		value = map[string]interface{}{}
	}
	valBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal event value: %w", err)
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO events (event_id, wallet, event_type, pool, chain, timestamp, value, source_id, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(event_id) DO UPDATE SET
  wallet     = excluded.wallet,
  event_type = excluded.event_type,
  pool       = excluded.pool,
  chain      = excluded.chain,
  timestamp  = excluded.timestamp,
  value      = excluded.value,
  source_id  = excluded.source_id
`, ev.EventID, ev.Wallet, ev.EventType, ev.Pool, ev.Chain, ev.Timestamp, string(valBytes), ev.SourceID, created.Unix())
	if err != nil {
		return err
	}
	s.logWrite(ctx, "events", "upsert", 1, ev.EventID)
	return nil
}

// EventsByWallet returns events for a wallet at or after since, oldest first.
func (s *Store) EventsByWallet(ctx context.Context, wallet string, since int64) ([]Event, error) {
	return s.queryEvents(ctx, `
SELECT event_id, wallet, event_type, pool, chain, timestamp, value, source_id, created_at
FROM events WHERE wallet=? AND timestamp>=? ORDER BY timestamp ASC`, wallet, since)
}

// EventsByType returns events of one canonical type at or after since.
func (s *Store) EventsByType(ctx context.Context, eventType string, since int64) ([]Event, error) {
	return s.queryEvents(ctx, `
SELECT event_id, wallet, event_type, pool, chain, timestamp, value, source_id, created_at
FROM events WHERE event_type=? AND timestamp>=? ORDER BY timestamp ASC`, eventType, since)
}

// EventsSince returns all events at or after since, oldest first.
func (s *Store) EventsSince(ctx context.Context, since int64) ([]Event, error) {
	return s.queryEvents(ctx, `
SELECT event_id, wallet, event_type, pool, chain, timestamp, value, source_id, created_at
FROM events WHERE timestamp>=? ORDER BY timestamp ASC`, since)
}

// EventsBySource returns the events derived from one raw response.
func (s *Store) EventsBySource(ctx context.Context, sourceID string) ([]Event, error) {
	return s.queryEvents(ctx, `
SELECT event_id, wallet, event_type, pool, chain, timestamp, value, source_id, created_at
FROM events WHERE source_id=? ORDER BY timestamp ASC`, sourceID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]Event, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var pool sql.NullString
		var value string
		var created int64
		if err := rows.Scan(&ev.EventID, &ev.Wallet, &ev.EventType, &pool, &ev.Chain, &ev.Timestamp, &value, &ev.SourceID, &created); err != nil {
			return nil, err
		}
		if pool.Valid {
			ev.Pool = pool.String
		}
		ev.CreatedAt = time.Unix(created, 0).UTC()
		if err := json.Unmarshal([]byte(value), &ev.Value); err != nil {
			// Corrupted rows are skipped; the rest of the result stands.
			s.logger.Printf("event %s: corrupted value json, skipping: %v", ev.EventID, err)
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveArtifact upserts a Layer 3 record keyed by artifact id.
func (s *Store) SaveArtifact(ctx context.Context, a Artifact) error {
	if a.ArtifactID == "" {
		return fmt.Errorf("artifact id required")
	}
	signals, err := json.Marshal(orEmptySignals(a.Signals))
	if err != nil {
		return err
	}
	watchlist, err := json.Marshal(orEmptyStrings(a.Watchlist))
	if err != nil {
		return err
	}
	sourceIDs, err := json.Marshal(orEmptyStrings(a.SourceIDs))
	if err != nil {
		return err
	}
	var llm interface{}
	if len(a.LLM) > 0 {
		llm = string(a.LLM)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO artifacts (artifact_id, timestamp, summary, signals, watchlist, source_ids, event_count, llm, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(artifact_id) DO UPDATE SET
  timestamp   = excluded.timestamp,
  summary     = excluded.summary,
  signals     = excluded.signals,
  watchlist   = excluded.watchlist,
  source_ids  = excluded.source_ids,
  event_count = excluded.event_count,
  llm         = excluded.llm
`, a.ArtifactID, a.Timestamp, a.Summary, string(signals), string(watchlist), string(sourceIDs), a.EventCount, llm, created.Unix())
	if err != nil {
		return err
	}
	s.logWrite(ctx, "artifacts", "upsert", 1, a.ArtifactID)
	return nil
}

// GetArtifact fetches one artifact by id. Bool reports existence.
func (s *Store) GetArtifact(ctx context.Context, id string) (Artifact, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT artifact_id, timestamp, summary, signals, watchlist, source_ids, event_count, llm, created_at
FROM artifacts WHERE artifact_id=?`, id)
	a, err := s.scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, err
	}
	return a, true, nil
}

// LatestArtifact returns the most recent artifact, if any.
func (s *Store) LatestArtifact(ctx context.Context) (Artifact, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT artifact_id, timestamp, summary, signals, watchlist, source_ids, event_count, llm, created_at
FROM artifacts ORDER BY timestamp DESC LIMIT 1`)
	a, err := s.scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, err
	}
	return a, true, nil
}

// RecentArtifacts returns up to limit artifacts, newest first.
func (s *Store) RecentArtifacts(ctx context.Context, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT artifact_id, timestamp, summary, signals, watchlist, source_ids, event_count, llm, created_at
FROM artifacts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := s.scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanArtifact(row rowScanner) (Artifact, error) {
	var a Artifact
	var signals, watchlist, sourceIDs string
	var llm sql.NullString
	var created int64
	if err := row.Scan(&a.ArtifactID, &a.Timestamp, &a.Summary, &signals, &watchlist, &sourceIDs, &a.EventCount, &llm, &created); err != nil {
		return Artifact{}, err
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	if err := json.Unmarshal([]byte(signals), &a.Signals); err != nil {
		s.logger.Printf("artifact %s: corrupted signals json: %v", a.ArtifactID, err)
		a.Signals = map[string]float64{}
	}
	if err := json.Unmarshal([]byte(watchlist), &a.Watchlist); err != nil {
		s.logger.Printf("artifact %s: corrupted watchlist json: %v", a.ArtifactID, err)
	}
	if err := json.Unmarshal([]byte(sourceIDs), &a.SourceIDs); err != nil {
		s.logger.Printf("artifact %s: corrupted source_ids json: %v", a.ArtifactID, err)
	}
	if llm.Valid {
		a.LLM = json.RawMessage(llm.String)
	}
	return a, nil
}

// ProvenanceChain resolves an artifact to its raw sources and their events.
func (s *Store) ProvenanceChain(ctx context.Context, artifactID string) (ProvenanceLink, error) {
	a, ok, err := s.GetArtifact(ctx, artifactID)
	if err != nil {
		return ProvenanceLink{}, err
	}
	if !ok {
		return ProvenanceLink{}, fmt.Errorf("artifact %s not found", artifactID)
	}
	link := ProvenanceLink{Artifact: a}
	for _, sourceID := range a.SourceIDs {
		raw, ok, err := s.GetRaw(ctx, sourceID)
		if err != nil {
			return ProvenanceLink{}, err
		}
		if !ok {
			s.logger.Printf("artifact %s: source %s missing from scratch", artifactID, sourceID)
			continue
		}
		link.Sources = append(link.Sources, raw)
		events, err := s.EventsBySource(ctx, sourceID)
		if err != nil {
			return ProvenanceLink{}, err
		}
		link.Events = append(link.Events, events...)
	}
	return link, nil
}

// Cleanup removes rows older than the per-layer horizons, measured from now.
// Events are removed before their scratch parents to keep references valid.
func (s *Store) Cleanup(ctx context.Context, now time.Time, scratchDays, eventsDays, artifactDays int) (CleanupStats, error) {
	var stats CleanupStats
	cutoff := func(days int) int64 { return now.UTC().AddDate(0, 0, -days).Unix() }

	res, err := s.DB.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff(eventsDays))
	if err != nil {
		return stats, err
	}
	stats.Events, _ = res.RowsAffected()

	res, err = s.DB.ExecContext(ctx, `
DELETE FROM scratch WHERE created_at < ?
AND id NOT IN (SELECT DISTINCT source_id FROM events)`, cutoff(scratchDays))
	if err != nil {
		return stats, err
	}
	stats.Scratch, _ = res.RowsAffected()

	res, err = s.DB.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, cutoff(artifactDays))
	if err != nil {
		return stats, err
	}
	stats.Artifacts, _ = res.RowsAffected()

	s.logWrite(ctx, "cleanup", "delete", stats.Scratch+stats.Events+stats.Artifacts, "")
	return stats, nil
}

// GetCursor fetches a cursor by name. Bool reports existence.
func (s *Store) GetCursor(ctx context.Context, name string) (Cursor, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT name, last_ts, notes, updated_at FROM cursors WHERE name=?`, name)
	var c Cursor
	var updated int64
	if err := row.Scan(&c.Name, &c.LastTS, &c.Notes, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, err
	}
	c.UpdatedAt = time.Unix(updated, 0).UTC()
	return c, true, nil
}

// SetCursor advances a cursor. The stored value never decreases.
func (s *Store) SetCursor(ctx context.Context, name string, lastTS int64, notes string) error {
	if name == "" {
		return fmt.Errorf("cursor name required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO cursors (name, last_ts, notes, updated_at)
VALUES (?,?,?,?)
ON CONFLICT(name) DO UPDATE SET
  last_ts    = MAX(cursors.last_ts, excluded.last_ts),
  notes      = excluded.notes,
  updated_at = excluded.updated_at
`, name, lastTS, notes, time.Now().UTC().Unix())
	return err
}

// SeedCursor creates a cursor at zero if it does not exist yet. Existing
// cursors are left untouched.
func (s *Store) SeedCursor(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("cursor name required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT OR IGNORE INTO cursors (name, last_ts, notes, updated_at) VALUES (?,0,'seeded',?)`,
		name, time.Now().UTC().Unix())
	return err
}

// ListCursors returns all cursors ordered by name.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name, last_ts, notes, updated_at FROM cursors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cursor
	for rows.Next() {
		var c Cursor
		var updated int64
		if err := rows.Scan(&c.Name, &c.LastTS, &c.Notes, &updated); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// BudgetDay returns the UTC day key used for budget rows.
func BudgetDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

// SpentToday returns the spend recorded for now's UTC day. A missing row
// means the day rolled over and nothing has been spent yet.
func (s *Store) SpentToday(ctx context.Context, now time.Time) (float64, error) {
	var spent float64
	err := s.DB.QueryRowContext(ctx, `SELECT spent FROM budget_days WHERE day=?`, BudgetDay(now)).Scan(&spent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return spent, err
}

// AddSpend accumulates amount onto now's UTC day row.
func (s *Store) AddSpend(ctx context.Context, now time.Time, amount float64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO budget_days (day, spent) VALUES (?,?)
ON CONFLICT(day) DO UPDATE SET spent = budget_days.spent + excluded.spent
`, BudgetDay(now), amount)
	return err
}

// SaveRun upserts a run record.
func (s *Store) SaveRun(ctx context.Context, r RunRecord) error {
	if r.ID == "" {
		return fmt.Errorf("run id required")
	}
	if r.ThreadID == "" {
		return fmt.Errorf("run %s: thread id required", r.ID)
	}
	signals, err := json.Marshal(orEmptySignals(r.Signals))
	if err != nil {
		return err
	}
	messages, err := json.Marshal(orEmptyStrings(r.Messages))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO runs (id, thread_id, goal, status, action, signals, brief_text, spend, messages, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status     = excluded.status,
  action     = excluded.action,
  signals    = excluded.signals,
  brief_text = excluded.brief_text,
  spend      = excluded.spend,
  messages   = excluded.messages,
  updated_at = excluded.updated_at
`, r.ID, r.ThreadID, r.Goal, r.Status, r.Action, string(signals), r.BriefText, r.Spend, string(messages), created.Unix(), now.Unix())
	if err != nil {
		return err
	}
	s.logWrite(ctx, "runs", "upsert", 1, r.ID)
	return nil
}

// LatestRun returns the most recent run for a thread. Bool reports existence.
func (s *Store) LatestRun(ctx context.Context, threadID string) (RunRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, thread_id, goal, status, action, signals, brief_text, spend, messages, created_at, updated_at
FROM runs WHERE thread_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, threadID)
	r, err := s.scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return r, true, nil
}

// RunsByThread returns every run in a thread, oldest first.
func (s *Store) RunsByThread(ctx context.Context, threadID string) ([]RunRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, thread_id, goal, status, action, signals, brief_text, spend, messages, created_at, updated_at
FROM runs WHERE thread_id=? ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListThreads summarizes all threads, most recently active first.
func (s *Store) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT thread_id, COUNT(*), MAX(updated_at)
FROM runs GROUP BY thread_id ORDER BY MAX(updated_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ThreadSummary
	for rows.Next() {
		var t ThreadSummary
		var updated int64
		if err := rows.Scan(&t.ThreadID, &t.Runs, &updated); err != nil {
			return nil, err
		}
		t.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		latest, ok, err := s.LatestRun(ctx, out[i].ThreadID)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i].Goal = latest.Goal
			out[i].Status = latest.Status
		}
	}
	return out, nil
}

func (s *Store) scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	var signals, messages string
	var created, updated int64
	if err := row.Scan(&r.ID, &r.ThreadID, &r.Goal, &r.Status, &r.Action, &signals, &r.BriefText, &r.Spend, &messages, &created, &updated); err != nil {
		return RunRecord{}, err
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	if err := json.Unmarshal([]byte(signals), &r.Signals); err != nil {
		s.logger.Printf("run %s: corrupted signals json: %v", r.ID, err)
		r.Signals = map[string]float64{}
	}
	if err := json.Unmarshal([]byte(messages), &r.Messages); err != nil {
		s.logger.Printf("run %s: corrupted messages json: %v", r.ID, err)
	}
	return r, nil
}

// RecordLLMUsage appends one usage row for a completed LLM call.
func (s *Store) RecordLLMUsage(ctx context.Context, model string, promptTokens, completionTokens int, cost float64, requestID string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO llm_usage (ts, model, prompt_tokens, completion_tokens, estimated_cost, request_id)
VALUES (?,?,?,?,?,?)`,
		time.Now().UTC().Unix(), model, promptTokens, completionTokens, cost, requestID)
	return err
}

// LLMUsageSince sums tokens and cost across usage rows at or after since.
func (s *Store) LLMUsageSince(ctx context.Context, since time.Time) (tokens int64, cost float64, err error) {
	err = s.DB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(prompt_tokens + completion_tokens),0), COALESCE(SUM(estimated_cost),0)
FROM llm_usage WHERE ts >= ?`, since.UTC().Unix()).Scan(&tokens, &cost)
	return tokens, cost, err
}

// AddWallet adds an address to the tracked set. Re-adding updates the label.
func (s *Store) AddWallet(ctx context.Context, address, label string) error {
	if address == "" {
		return fmt.Errorf("wallet address required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO wallets (address, label, added_at) VALUES (?,?,?)
ON CONFLICT(address) DO UPDATE SET label = excluded.label
`, address, label, time.Now().UTC().Unix())
	return err
}

// RemoveWallet drops an address from the tracked set.
func (s *Store) RemoveWallet(ctx context.Context, address string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM wallets WHERE address=?`, address)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListWallets returns tracked addresses in lexicographic order.
func (s *Store) ListWallets(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT address FROM wallets ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// logWrite appends an audit row. Audit failures are logged, never fatal.
func (s *Store) logWrite(ctx context.Context, table, operation string, n int64, note string) {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO writes_log (ts, tbl, operation, n_rows, note) VALUES (?,?,?,?,?)`,
		time.Now().UTC().Unix(), table, operation, n, note)
	if err != nil {
		s.logger.Printf("writes_log append failed: %v", err)
	}
}

func orEmptySignals(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
