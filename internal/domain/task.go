package domain

import "time"

// TaskStatus is the lifecycle state of one per-device audit task.
type TaskStatus string

const (
	StatusPending         TaskStatus = "pending"
	StatusRunning         TaskStatus = "running"
	StatusSkippedToReport TaskStatus = "skipped_to_report"
	StatusCompleted       TaskStatus = "completed"
	StatusFailed          TaskStatus = "failed"
	StatusCancelled       TaskStatus = "cancelled"
)

// Terminal reports whether no further stage can run for this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkippedToReport, StatusCancelled:
		return true
	}
	return false
}

// StageResult is the immutable outcome of one stage. Every stage of a
// finished task has exactly one StageResult: attempted stages record their
// last attempt, skipped stages carry Skipped=true.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Attempts int           `json:"attempts"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Category Category      `json:"category,omitempty"`
	Error    string        `json:"error,omitempty"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StageName is for readable JSON output.
func (r StageResult) StageName() string { return r.Stage.String() }

// CommandResult is the outcome of one collected command.
type CommandResult struct {
	Command  string        `json:"command"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CollectSummary is derived from the command results at the Summarize stage.
type CollectSummary struct {
	Commands  int           `json:"commands"`
	Succeeded int           `json:"succeeded"`
	Failed    []string      `json:"failed,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// AuditTask is the mutable per-device run state. It is created when the
// scheduler dispatches a device and mutated only by the single worker
// executing it.
type AuditTask struct {
	Device     Device
	Status     TaskStatus
	Stage      Stage
	Stages     []StageResult
	Commands   []CommandResult
	Findings   []LineSecurityFinding
	Retries    map[Stage]int
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewAuditTask returns a pending task positioned before the first stage.
func NewAuditTask(dev Device) *AuditTask {
	return &AuditTask{
		Device:  dev,
		Status:  StatusPending,
		Retries: make(map[Stage]int),
	}
}

// Record appends a stage outcome and advances the retry counter bookkeeping.
func (t *AuditTask) Record(res StageResult) {
	t.Stages = append(t.Stages, res)
	if res.Attempts > 1 {
		t.Retries[res.Stage] = res.Attempts - 1
	}
}

// ResultFor returns the recorded outcome for a stage, if any.
func (t *AuditTask) ResultFor(s Stage) (StageResult, bool) {
	for _, r := range t.Stages {
		if r.Stage == s {
			return r, true
		}
	}
	return StageResult{}, false
}

// AuditReport is the final per-device result compiled at the Report stage.
type AuditReport struct {
	Device          Device                `json:"device"`
	Status          TaskStatus            `json:"status"`
	Partial         string                `json:"partial,omitempty"`
	Stages          []StageResult         `json:"stages"`
	Commands        []CommandResult       `json:"commands,omitempty"`
	Summary         *CollectSummary       `json:"summary,omitempty"`
	Findings        []LineSecurityFinding `json:"findings,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	Duration        time.Duration         `json:"duration"`
}

// ResultSet is the ordered list of per-device reports for one run, in
// inventory order.
type ResultSet struct {
	RunID   string        `json:"run_id"`
	Reports []AuditReport `json:"reports"`
}
