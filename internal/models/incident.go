package models

// Severity enumerates incident priorities, P1 being the most critical.
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// NormalizeSeverity coerces foreign severity vocabularies into P1-P4.
// Unknown values map to P3.
func NormalizeSeverity(value string) Severity {
	switch value {
	case "P1", "p1", "critical", "1":
		return SeverityP1
	case "P2", "p2", "high", "2":
		return SeverityP2
	case "P3", "p3", "medium", "3":
		return SeverityP3
	case "P4", "p4", "low", "4":
		return SeverityP4
	default:
		return SeverityP3
	}
}

// Eligibility states whether an incident may be remediated without a human decision.
type Eligibility string

const (
	EligibilityAuto      Eligibility = "auto"
	EligibilityHumanOnly Eligibility = "human-only"
)

// MergeEligibility combines two eligibility values monotonically: once either
// side is human-only the result stays human-only. This is the one-way policy
// latch applied by the classification stage.
func MergeEligibility(old, new Eligibility) Eligibility {
	if old == EligibilityHumanOnly || new == EligibilityHumanOnly {
		return EligibilityHumanOnly
	}
	return new
}

// Incident is the normalized view of a ticketing-system incident. Number is
// the join key for every persisted stage record and must not change once set.
type Incident struct {
	SysID            string
	Number           string
	Source           string
	ResourceID       string
	Service          string
	Severity         Severity
	ShortDescription string
	Description      string
	Tags             map[string]string
	Context          map[string]string
}

// Text returns the free-form incident text scanned by heuristics and
// candidate scoring.
func (i Incident) Text() string {
	if i.ShortDescription == "" {
		return i.Description
	}
	if i.Description == "" {
		return i.ShortDescription
	}
	return i.ShortDescription + " " + i.Description
}

// Classification is the reconciled output of the classify stage.
type Classification struct {
	Labels      []string
	Severity    Severity
	Eligibility Eligibility
	Confidence  float64
}

// HasLabel reports whether the label set contains the given label.
func (c Classification) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}
