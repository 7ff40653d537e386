package models

// NoPlaybookID is the sentinel used when no catalog procedure suits the
// incident. Plans carrying it are still well formed.
const NoPlaybookID = "none"

// Playbook describes a remediation procedure offered by the automation runner.
type Playbook struct {
	ID          string
	Name        string
	Description string
}

// RemediationPlan is the selected procedure plus oracle-authored guidance.
// PlaybookID always references a catalog entry from the snapshot used for
// this run, or NoPlaybookID.
type RemediationPlan struct {
	PlaybookID    string
	PlaybookName  string
	Prechecks     []string
	RollbackSteps []string
	RiskScore     float64
	Eligibility   Eligibility
}
