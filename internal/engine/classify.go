package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/oracle"
)

// ClassifierOracle is the slice of the decision oracle the classify stage
// consumes.
type ClassifierOracle interface {
	Classify(ctx context.Context, incident models.Incident, hints []string) (oracle.ClassificationAttempt, error)
}

// Reconciler runs the classify stage: it asks the oracle for labels, then
// reconciles the answer against deterministic defaults, keyword heuristics,
// and the eligibility policy latch.
type Reconciler struct {
	logger  *slog.Logger
	oracle  ClassifierOracle
	catalog *Catalog
	store   RecordStore
}

// NewReconciler constructs the classify stage.
func NewReconciler(logger *slog.Logger, o ClassifierOracle, catalog *Catalog, store RecordStore) *Reconciler {
	return &Reconciler{logger: logger, oracle: o, catalog: catalog, store: store}
}

// Run classifies pc.Incident and stores the reconciled result on the context.
func (r *Reconciler) Run(ctx context.Context, pc *models.PipelineContext) error {
	incident := *pc.Incident

	attempt, err := r.oracle.Classify(ctx, incident, r.catalog.Labels())
	if err != nil {
		return &DecisionParseError{Stage: "classify", Err: err}
	}

	classification := ReconcileClassification(attempt, incident)
	pc.Classification = &classification

	if err := r.store.UpsertClassification(ctx, incident.Number, classification); err != nil {
		r.logger.Warn("classification record not persisted",
			slog.String("incident", incident.Number), slog.Any("error", err))
	}

	r.logger.Info("incident classified",
		slog.String("incident", incident.Number),
		slog.Any("labels", classification.Labels),
		slog.String("eligibility", string(classification.Eligibility)),
		slog.Float64("confidence", classification.Confidence))
	return nil
}

// ReconcileClassification turns an untrusted oracle attempt into a valid
// classification. Every field is defaulted independently, heuristic labels
// derived from the incident text are unioned in, and the human-only latch is
// applied last so no later default can undo it.
func ReconcileClassification(attempt oracle.ClassificationAttempt, incident models.Incident) models.Classification {
	labels := normalizeLabels(attempt.Labels)

	confidence := 0.5
	if attempt.Confidence != nil {
		confidence = clamp01(*attempt.Confidence)
	}

	heuristic := heuristicLabels(incident.Text())
	added := false
	for _, label := range heuristic {
		if !containsLabel(labels, label) {
			labels = append(labels, label)
			added = true
		}
	}
	if added {
		confidence = clamp01(confidence + 0.2)
	}

	if len(labels) == 0 {
		labels = []string{"unknown"}
	}

	severity := models.NormalizeSeverity(attempt.Severity)

	eligibility := models.EligibilityAuto
	if models.Eligibility(attempt.Eligibility) == models.EligibilityHumanOnly {
		eligibility = models.EligibilityHumanOnly
	}
	if hasCriticalMarker(labels) {
		eligibility = models.MergeEligibility(eligibility, models.EligibilityHumanOnly)
	}

	return models.Classification{
		Labels:      labels,
		Severity:    severity,
		Eligibility: eligibility,
		Confidence:  confidence,
	}
}

func normalizeLabels(raw []string) []string {
	labels := make([]string, 0, len(raw))
	for _, label := range raw {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" || containsLabel(labels, label) {
			continue
		}
		labels = append(labels, label)
	}
	return labels
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// keywordGroups map incident-text keywords to the label the policy table
// understands. The oracle often misses these; the union keeps the selector
// deterministic for well-known failure modes.
var keywordGroups = []struct {
	label    string
	keywords []string
}{
	{"disk_full", []string{"disk", "storage", "filesystem", "file system", "out of space", "no space", "partition", "/var", "/tmp"}},
	{"high_cpu", []string{"cpu", "processor", "load average"}},
	{"high_memory", []string{"memory", "oom", "out of memory", "swap"}},
	{"database_down", []string{"database", "db connection", "sql"}},
	{"network_error", []string{"network", "unreachable", "packet loss", "dns"}},
}

func heuristicLabels(text string) []string {
	text = strings.ToLower(text)
	var labels []string
	for _, group := range keywordGroups {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				labels = append(labels, group.label)
				break
			}
		}
	}
	return labels
}

// hasCriticalMarker reports whether the label set carries a severity marker
// that forces a human decision.
func hasCriticalMarker(labels []string) bool {
	for _, label := range labels {
		if label == "p1" || strings.Contains(label, "severity") {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
