package pipeline

import (
	"fmt"

	"github.com/mohammad-safakhou/chainbrief/internal/provider"
	"github.com/mohammad-safakhou/chainbrief/internal/schema"
)

// Action is the unit of work the planner can schedule for one tick.
type Action string

const (
	ActionNone        Action = ""
	ActionWalletRecon Action = "wallet_recon"
	ActionLPRecon     Action = "lp_recon"
	ActionExplore     Action = "explore_metrics"
)

// Status tracks a tick through its stages.
type Status string

const (
	StatusWorking   Status = "working"
	StatusAnalyzing Status = "analyzing"
	StatusBriefing  Status = "briefing"
	StatusMemory    Status = "memory"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCapped    Status = "capped"
)

// CursorUpdate is a cursor advance decided by the worker and committed by
// the runner once the tick finishes without failing.
type CursorUpdate struct {
	Name  string
	TS    int64
	Notes string
}

// State is the mutable carrier threaded through one tick's stages.
type State struct {
	RunID    string
	ThreadID string
	Goal     string
	Status   Status

	Action       Action
	TargetWallet string
	SinceTS      int64

	Records     []schema.Record
	SourceIDs   []string
	ProviderRef provider.Ref
	RawMetadata map[string]interface{}

	Counts24h map[string]int
	TopPools  []string
	Signals   map[string]float64
	NewPools  []string

	BriefText    string
	BriefSkipped bool
	SkipReason   string

	PendingCursor *CursorUpdate
	Spend         float64
	Messages      []string
}

func NewState(runID, threadID, goal string) *State {
	return &State{
		RunID:     runID,
		ThreadID:  threadID,
		Goal:      goal,
		Status:    StatusWorking,
		Counts24h: map[string]int{},
		Signals:   map[string]float64{},
	}
}

// Log appends a message to the run's trail.
func (s *State) Log(format string, args ...interface{}) {
	s.Messages = append(s.Messages, fmt.Sprintf(format, args...))
}
