package protocol

import "time"

// RunStatus represents the outcome state of a supervisory run.
type RunStatus string

// Run status constants.
const (
	RunInProgress  RunStatus = "in_progress"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunNeedsReview RunStatus = "needs_review"
)

// FileChangeType classifies a file-system observation attached to a run.
type FileChangeType string

// File change type constants.
const (
	FileCreated  FileChangeType = "created"
	FileModified FileChangeType = "modified"
	FileDeleted  FileChangeType = "deleted"
	FileRenamed  FileChangeType = "renamed"
)

// RunOutput is one timestamped unit of run activity: an instruction echo,
// a captured output line, a status update.
type RunOutput struct {
	Kind      string    `json:"kind"` // "instruction", "output", "error", "status_update", ...
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FileChange records one file-system observation under a watched path.
type FileChange struct {
	Path       string         `json:"path"`
	ChangeType FileChangeType `json:"change_type"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Run groups a span of workstream activity: opened when an instruction
// starts processing, closed when the worker reports completion, failure, or
// a review request. Runs aggregate messages and file observations for
// display; the adapter and health logic never consult them.
type Run struct {
	ID          string       `json:"id"`
	AgentID     string       `json:"agent_id"`
	Status      RunStatus    `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Outputs     []RunOutput  `json:"outputs"`
	FileChanges []FileChange `json:"file_changes"`
}
