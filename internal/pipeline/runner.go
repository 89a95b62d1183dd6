package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/chainbrief/internal/store"
	"github.com/mohammad-safakhou/chainbrief/internal/telemetry"
)

// Per-stage timeouts. A stage that overruns fails the tick; the failure
// never propagates past the tick boundary.
const (
	plannerTimeout = 10 * time.Second
	workerTimeout  = 20 * time.Second
	analyzeTimeout = 15 * time.Second
	briefTimeout   = 10 * time.Second
)

// Runner drives one tick: planner, worker, analyzer, brief, then the cursor
// commit. Stages run sequentially; any panic or error is captured into the
// run record as a failed status.
type Runner struct {
	store     *store.Store
	planner   *Planner
	worker    *Worker
	analyzer  *Analyzer
	brief     *BriefGenerator
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	now       func() time.Time
}

func NewRunner(st *store.Store, planner *Planner, worker *Worker, analyzer *Analyzer, brief *BriefGenerator, tel *telemetry.Telemetry, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stdout, "[RUNNER] ", log.LstdFlags)
	}
	return &Runner{
		store:     st,
		planner:   planner,
		worker:    worker,
		analyzer:  analyzer,
		brief:     brief,
		telemetry: tel,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce executes a single tick within a thread and persists the outcome.
// A missing thread id starts a new thread.
func (r *Runner) RunOnce(ctx context.Context, goal, threadID string) (store.RunRecord, error) {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	state := NewState(uuid.NewString(), threadID, goal)

	r.tick(ctx, state)

	if r.telemetry != nil {
		r.telemetry.Tick(string(state.Status))
		r.telemetry.SetDailySpend(state.Spend)
	}

	record := store.RunRecord{
		ID:        state.RunID,
		ThreadID:  state.ThreadID,
		Goal:      state.Goal,
		Status:    string(state.Status),
		Action:    string(state.Action),
		Signals:   state.Signals,
		BriefText: state.BriefText,
		Spend:     state.Spend,
		Messages:  state.Messages,
	}
	if err := r.store.SaveRun(ctx, record); err != nil {
		return record, err
	}
	r.logger.Printf("run %s (thread %s): %s action=%s", record.ID, record.ThreadID, record.Status, record.Action)
	return record, nil
}

// Resume loads a thread's last run and executes another tick with the same
// goal.
func (r *Runner) Resume(ctx context.Context, threadID string) (store.RunRecord, error) {
	latest, ok, err := r.store.LatestRun(ctx, threadID)
	if err != nil {
		return store.RunRecord{}, err
	}
	if !ok {
		return store.RunRecord{}, fmt.Errorf("thread %s not found", threadID)
	}
	return r.RunOnce(ctx, latest.Goal, threadID)
}

// ListThreads summarizes known threads, most recently active first.
func (r *Runner) ListThreads(ctx context.Context) ([]store.ThreadSummary, error) {
	return r.store.ListThreads(ctx)
}

func (r *Runner) tick(ctx context.Context, state *State) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("tick panic: %v", rec)
			state.Status = StatusFailed
			state.Log("panic: %v", rec)
		}
	}()

	if !r.runStage(ctx, "planner", plannerTimeout, state, r.planner.Plan) {
		return
	}
	if state.Status == StatusCapped || state.Status == StatusCompleted {
		return
	}

	if !r.runStage(ctx, "worker", workerTimeout, state, r.worker.Execute) {
		return
	}
	if state.Status == StatusCompleted {
		r.commitCursor(ctx, state)
		return
	}

	if !r.runStage(ctx, "analyze", analyzeTimeout, state, r.analyzer.Analyze) {
		return
	}
	if state.Status == StatusBriefing {
		if !r.runStage(ctx, "brief", briefTimeout, state, r.brief.Generate) {
			return
		}
	}

	r.commitCursor(ctx, state)
	if state.Status == StatusMemory {
		state.Status = StatusCompleted
	}
}

func (r *Runner) runStage(ctx context.Context, name string, timeout time.Duration, state *State, fn func(context.Context, *State) error) bool {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := fn(stageCtx, state)
	elapsed := r.now().Sub(start)
	if err != nil {
		if stageCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%s timed out after %s", name, timeout)
		}
		r.logger.Printf("%s failed after %s: %v", name, elapsed.Round(time.Millisecond), err)
		state.Status = StatusFailed
		state.Log("%s: %v", name, err)
		return false
	}
	return true
}

// commitCursor applies the worker's staged cursor advance. Failed ticks
// never reach here, so a broken analyze or brief leaves the cursor behind
// and the data gets refetched next tick.
func (r *Runner) commitCursor(ctx context.Context, state *State) {
	if state.PendingCursor == nil {
		return
	}
	cu := state.PendingCursor
	if err := r.store.SetCursor(ctx, cu.Name, cu.TS, cu.Notes); err != nil {
		r.logger.Printf("cursor commit %s failed: %v", cu.Name, err)
		state.Log("cursor commit %s: %v", cu.Name, err)
		return
	}
	state.PendingCursor = nil
}
