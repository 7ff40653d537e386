package models

import "time"

// Resolution enumerates how an incident ends.
type Resolution string

const (
	ResolutionResolved      Resolution = "resolved"
	ResolutionDuplicate     Resolution = "duplicate"
	ResolutionFalsePositive Resolution = "false-positive"
	ResolutionEscalated     Resolution = "escalated"
)

// ParseResolution validates a free-form resolution string.
func ParseResolution(value string) (Resolution, bool) {
	switch Resolution(value) {
	case ResolutionResolved, ResolutionDuplicate, ResolutionFalsePositive, ResolutionEscalated:
		return Resolution(value), true
	default:
		return "", false
	}
}

// ClosureRecord is the final resolution record. WorkNotes and
// ResolutionSummary are guaranteed non-empty by the closure stage.
type ClosureRecord struct {
	IncidentID        string
	ClosedBy          string
	Resolution        Resolution
	WorkNotes         string
	ResolutionSummary string
	ClosedAt          time.Time
}
