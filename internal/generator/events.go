package generator

import "time"

// EventType discriminates progress events emitted by a run.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventRetryScheduled EventType = "retry_scheduled"
	EventStageFailed    EventType = "stage_failed"
	EventAwaitingChoice EventType = "awaiting_commit_choice"
	EventCommitted      EventType = "committed"
)

// Stage names as they appear in events and errors.
const (
	StagePlanning   = "planning"
	StageExpanding  = "expanding"
	StageEnriching  = "enriching"
	StageValidating = "validating"
	StageCommitting = "committing"
)

// ProgressEvent is one update on a run's event stream. Which fields are set
// depends on Type:
//
//   - EventStageStarted: Stage
//   - EventRetryScheduled: Stage, Attempt, Delay, Message
//   - EventStageFailed: Stage, Part, ErrorKind, Message
//   - EventAwaitingChoice: Response
//   - EventCommitted: CommittedCount
type ProgressEvent struct {
	Type           EventType
	RunID          string
	Stage          string
	Part           int
	Attempt        int
	Delay          time.Duration
	ErrorKind      ErrorKind
	Message        string
	Response       *PlanResponse
	CommittedCount int
}
