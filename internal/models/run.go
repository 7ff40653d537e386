package models

// RunStatus is the top-level outcome reported for one coordinator run.
type RunStatus string

const (
	RunError            RunStatus = "error"
	RunAwaitingApproval RunStatus = "awaiting_approval"
	RunSuccess          RunStatus = "success"
	RunPartial          RunStatus = "partial"
	RunRollback         RunStatus = "rollback"
	RunEscalate         RunStatus = "escalate"
)

// RunResult summarises a pipeline run for the caller.
type RunResult struct {
	Status   RunStatus
	Incident string
	JobID    string
}

// RawIncident is the unvalidated payload handed to the intake stage, as
// received from the ticketing poller or an external caller.
type RawIncident struct {
	Number           string
	SysID            string
	Source           string
	ResourceID       string
	Service          string
	Severity         string
	ShortDescription string
	Description      string
	Tags             map[string]string
	Context          map[string]string
}

// PipelineContext accumulates stage outputs across one incident run. Each
// stage sets exactly its own field; the context is owned by a single
// coordinator invocation and never shared across runs.
type PipelineContext struct {
	Incident       *Incident
	Classification *Classification
	Plan           *RemediationPlan
	Execution      *ExecutionRecord
	Validation     *ValidationSignal
	Closure        *ClosureRecord
}
