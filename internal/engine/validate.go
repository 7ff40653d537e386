package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/oracle"
)

// ValidatorOracle is the slice of the decision oracle the validate stage
// consumes.
type ValidatorOracle interface {
	Evaluate(ctx context.Context, incident models.Incident, execution models.ExecutionRecord, telemetry map[string]any) (oracle.EvaluationAttempt, error)
}

// Validator runs the validate stage: it asks the oracle to judge the
// remediation outcome and accepts only one of the four bounded decisions.
// Absence of a decision never defaults to success.
type Validator struct {
	logger *slog.Logger
	oracle ValidatorOracle
	store  RecordStore
}

// NewValidator constructs the validate stage.
func NewValidator(logger *slog.Logger, o ValidatorOracle, store RecordStore) *Validator {
	return &Validator{logger: logger, oracle: o, store: store}
}

// Run evaluates pc.Execution and stores the validation signal on the context.
func (v *Validator) Run(ctx context.Context, pc *models.PipelineContext) error {
	incident := *pc.Incident
	execution := *pc.Execution

	telemetry := map[string]any{
		"job_status":  string(execution.Status),
		"event_count": len(execution.Steps),
	}
	if execution.FinishedAt != nil {
		telemetry["finished_at"] = execution.FinishedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	attempt, err := v.oracle.Evaluate(ctx, incident, execution, telemetry)
	if err != nil {
		return &DecisionParseError{Stage: "validate", Err: err}
	}

	decision, ok := models.ParseDecision(attempt.Decision)
	if !ok {
		return &DecisionParseError{
			Stage: "validate",
			Err:   fmt.Errorf("decision %q is not one of success, partial, rollback, escalate", attempt.Decision),
		}
	}

	signal := models.ValidationSignal{
		Decision:   decision,
		Metrics:    nonNilMap(attempt.Metrics),
		Logs:       nonNilMap(attempt.Logs),
		Synthetics: nonNilMap(attempt.Synthetics),
	}
	pc.Validation = &signal

	if err := v.store.InsertValidation(ctx, incident.Number, signal); err != nil {
		v.logger.Warn("validation record not persisted",
			slog.String("incident", incident.Number), slog.Any("error", err))
	}

	v.logger.Info("remediation validated",
		slog.String("incident", incident.Number),
		slog.String("decision", string(decision)),
		slog.String("job_status", string(execution.Status)))
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
