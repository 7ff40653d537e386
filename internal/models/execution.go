package models

import "time"

// JobStatus enumerates automation-runner job states as seen by the pipeline.
type JobStatus string

const (
	JobRunning    JobStatus = "running"
	JobSuccessful JobStatus = "successful"
	JobFailed     JobStatus = "failed"
	JobError      JobStatus = "error"
	JobCanceled   JobStatus = "canceled"
	JobTimeout    JobStatus = "timeout"
)

// Terminal reports whether the runner considers the status final. Timeout is
// not a runner status: the executor synthesizes it when the poll budget runs
// out.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccessful, JobFailed, JobError, JobCanceled:
		return true
	default:
		return false
	}
}

// JobEvent is a single event emitted by a remediation job.
type JobEvent struct {
	Event     string
	Message   string
	Timestamp time.Time
}

// ExecutionRecord captures one remediation job run to a terminal-or-timeout
// state. Running never appears here.
type ExecutionRecord struct {
	JobID      string
	Steps      []JobEvent
	Status     JobStatus
	FinishedAt *time.Time
}

// Decision enumerates validation outcomes.
type Decision string

const (
	DecisionSuccess  Decision = "success"
	DecisionPartial  Decision = "partial"
	DecisionRollback Decision = "rollback"
	DecisionEscalate Decision = "escalate"
)

// ParseDecision validates a free-form decision string against the four
// permitted outcomes.
func ParseDecision(value string) (Decision, bool) {
	switch Decision(value) {
	case DecisionSuccess, DecisionPartial, DecisionRollback, DecisionEscalate:
		return Decision(value), true
	default:
		return "", false
	}
}

// ValidationSignal is the validate stage output: a bounded decision plus the
// raw telemetry the oracle reasoned over.
type ValidationSignal struct {
	Decision   Decision
	Metrics    map[string]any
	Logs       map[string]any
	Synthetics map[string]any
}
