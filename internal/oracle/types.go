package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// The oracle is a probabilistic collaborator: every attempt type below is a
// loosely-typed snapshot of what it returned. Nothing here is trusted; the
// engine owns defaulting, validation, and policy overrides.

// FlexString decodes a JSON string or number into a string. Models routinely
// emit playbook ids as bare numbers.
type FlexString string

// UnmarshalJSON accepts strings, numbers, and null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value %s is neither string nor number", data)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexStrings decodes a JSON array of strings, tolerating scalar entries.
type FlexStrings []string

// UnmarshalJSON accepts an array of strings/numbers or a single string.
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexStrings{s}
		return nil
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		default:
			return fmt.Errorf("list entry %v is not a string", v)
		}
	}
	*f = out
	return nil
}

// ClassificationAttempt is the oracle's raw answer to a classify request.
// Missing fields stay at their zero values for the engine to default.
type ClassificationAttempt struct {
	Labels      FlexStrings `json:"labels"`
	Severity    string      `json:"severity"`
	Eligibility string      `json:"eligibility"`
	Confidence  *float64    `json:"confidence"`
}

// PlanAttempt is the oracle's raw procedure selection.
type PlanAttempt struct {
	PlaybookID    FlexString  `json:"playbook_id"`
	PlaybookName  string      `json:"playbook_name"`
	Prechecks     FlexStrings `json:"prechecks"`
	RollbackSteps FlexStrings `json:"rollback_steps"`
	RiskScore     *float64    `json:"risk_score"`
	Eligibility   string      `json:"eligibility"`
}

// EvaluationAttempt is the oracle's raw remediation verdict.
type EvaluationAttempt struct {
	Decision   string         `json:"decision"`
	Metrics    map[string]any `json:"metrics"`
	Logs       map[string]any `json:"logs"`
	Synthetics map[string]any `json:"synthetics"`
}

// ClosureAttempt is the oracle's raw closure narrative.
type ClosureAttempt struct {
	WorkNotes         string     `json:"work_notes"`
	ResolutionSummary string     `json:"resolution_summary"`
	IncidentID        FlexString `json:"incident_id"`
	ClosedBy          string     `json:"closed_by"`
	Resolution        string     `json:"resolution"`
}
