package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a download task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAssigned    Status = "assigned"
	StatusResolving   Status = "resolving"
	StatusFetching    Status = "fetching"
	StatusTranscoding Status = "transcoding"
	StatusTagging     Status = "tagging"
	StatusPlacing     Status = "placing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusAssigned,
	StatusResolving,
	StatusFetching,
	StatusTranscoding,
	StatusTagging,
	StatusPlacing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// pipelineOrder positions each status along the fixed stage sequence.
// Terminal statuses sit past the last stage.
var pipelineOrder = map[Status]int{
	StatusPending:     0,
	StatusAssigned:    1,
	StatusResolving:   2,
	StatusFetching:    3,
	StatusTranscoding: 4,
	StatusTagging:     5,
	StatusPlacing:     6,
	StatusCompleted:   7,
	StatusFailed:      7,
	StatusCancelled:   7,
}

var processingStatuses = map[Status]struct{}{
	StatusAssigned:    {},
	StatusResolving:   {},
	StatusFetching:    {},
	StatusTranscoding: {},
	StatusTagging:     {},
	StatusPlacing:     {},
}

// Band partitions scheduling into interactive single-track submissions and
// bulk batch-spawned children.
type Band string

const (
	BandInteractive Band = "interactive"
	BandBulk        Band = "bulk"
)

// ParseBand converts a string into a known Band.
func ParseBand(value string) (Band, bool) {
	switch Band(strings.ToLower(strings.TrimSpace(value))) {
	case BandInteractive:
		return BandInteractive, true
	case BandBulk:
		return BandBulk, true
	default:
		return "", false
	}
}

// TrackRequest is the caller-supplied description of a desired download.
// Immutable once a task is created from it.
type TrackRequest struct {
	TrackID string
	Format  string
	Quality string
}

// Task represents a download task persisted in SQLite.
type Task struct {
	ID              string
	Fingerprint     string
	TrackID         string
	Format          string
	Quality         string
	Band            Band
	Status          Status
	Attempt         int
	MaxAttempts     int
	ErrorKind       string
	ErrorMessage    string
	ErrorAttempt    int
	StagingPath     string
	OutputPath      string
	BatchID         string
	CancelRequested bool
	ProgressPercent float64
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// Batch groups child download tasks spawned from one batch submission.
type Batch struct {
	ID        string
	ChildIDs  []string
	Cancelled bool
	CreatedAt time.Time
}

// AggregateState summarizes a batch from its children's terminal states.
type AggregateState string

const (
	AggregateInProgress      AggregateState = "in_progress"
	AggregateCompleted       AggregateState = "completed"
	AggregatePartiallyFailed AggregateState = "partially_failed"
	AggregateFailed          AggregateState = "failed"
	AggregateCancelled       AggregateState = "cancelled"
)

// Aggregate carries derived batch progress counts.
type Aggregate struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Active    int
	State     AggregateState
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further automatic transition occurs from status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsProcessing reports whether a status reflects an in-flight worker.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// ProcessingStatuses returns the statuses a worker moves a task through
// while holding its lease.
func ProcessingStatuses() []Status {
	return []Status{StatusAssigned, StatusResolving, StatusFetching, StatusTranscoding, StatusTagging, StatusPlacing}
}

// CanTransition reports whether moving from one status to another respects
// the pipeline order. The only back-edge is failed -> pending, taken by the
// retry controller; cancellation and failure are reachable from any
// non-terminal status.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from.IsTerminal() {
		return from == StatusFailed && to == StatusPending
	}
	if to == StatusCancelled || to == StatusFailed {
		return true
	}
	fromPos, fromOK := pipelineOrder[from]
	toPos, toOK := pipelineOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return toPos > fromPos
}

// IsProcessing reports whether the task is currently held by a worker.
func (t *Task) IsProcessing() bool {
	return t.Status.IsProcessing()
}

// SetFailed marks the task as failed with the classified error.
func (t *Task) SetFailed(kind, message string) {
	t.Status = StatusFailed
	t.ErrorKind = kind
	t.ErrorMessage = message
	t.ErrorAttempt = t.Attempt
	t.ProgressMessage = message
	t.LastHeartbeat = nil
}

// SetCancelled marks the task as cancelled, discarding progress.
func (t *Task) SetCancelled(reason string) {
	t.Status = StatusCancelled
	t.ErrorKind = ""
	t.ErrorMessage = ""
	t.ProgressMessage = reason
	t.LastHeartbeat = nil
}

// SetProgress updates progress bookkeeping for notifier and CLI output.
func (t *Task) SetProgress(message string, percent float64) {
	t.ProgressMessage = message
	t.ProgressPercent = percent
}

// StatusCounts groups tasks-per-status totals for health reporting.
type StatusCounts struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}
