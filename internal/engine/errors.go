package engine

import "fmt"

// IntakeError reports a raw incident that cannot enter the pipeline. It is
// fatal to the run.
type IntakeError struct {
	Reason string
}

func (e *IntakeError) Error() string {
	return fmt.Sprintf("intake rejected incident: %s", e.Reason)
}

// DecisionParseError reports oracle output that could not be coerced into
// the shape a stage requires. It is fatal for that stage and is never
// retried locally.
type DecisionParseError struct {
	Stage string
	Err   error
}

func (e *DecisionParseError) Error() string {
	return fmt.Sprintf("%s: oracle output unusable: %v", e.Stage, e.Err)
}

func (e *DecisionParseError) Unwrap() error { return e.Err }

// PlaybookNotAvailableError reports an oracle-chosen procedure that is
// absent from the catalog and unresolvable by name.
type PlaybookNotAvailableError struct {
	PlaybookID   string
	PlaybookName string
}

func (e *PlaybookNotAvailableError) Error() string {
	return fmt.Sprintf("playbook %q (%s) not available in catalog", e.PlaybookName, e.PlaybookID)
}

// RemoteUnavailableError reports an unreachable automation runner or
// ticketing system. It is never fatal to the run: execution substitutes a
// synthetic failed result and ticketing updates are best-effort.
type RemoteUnavailableError struct {
	System string
	Err    error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.System, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }
