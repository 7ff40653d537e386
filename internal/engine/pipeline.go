package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsforge/remedy-engine/internal/metrics"
	"github.com/opsforge/remedy-engine/internal/models"
)

// RecordStore persists per-stage records. All stages treat persistence as
// best-effort; a store failure never fails a run.
type RecordStore interface {
	UpsertIncident(ctx context.Context, incident models.Incident) error
	UpsertClassification(ctx context.Context, number string, classification models.Classification) error
	UpsertPlan(ctx context.Context, number string, plan models.RemediationPlan) error
	InsertExecution(ctx context.Context, number string, execution models.ExecutionRecord) error
	InsertValidation(ctx context.Context, number string, validation models.ValidationSignal) error
	InsertClosure(ctx context.Context, number string, closure models.ClosureRecord) error
}

// Stage names the states of the remediation pipeline.
type Stage string

const (
	StageIntake   Stage = "intake"
	StageClassify Stage = "classify"
	StagePlan     Stage = "plan"
	StageExecute  Stage = "execute"
	StageValidate Stage = "validate"
	StageClose    Stage = "close"
	StageDone     Stage = "done"
)

// transitions is the forward edge of the pipeline state machine. The two
// deviations, the approval gate after classify and the single rollback retry
// after validate, are decided in Run.
var transitions = map[Stage]Stage{
	StageIntake:   StageClassify,
	StageClassify: StagePlan,
	StagePlan:     StageExecute,
	StageExecute:  StageValidate,
	StageValidate: StageClose,
	StageClose:    StageDone,
}

// Coordinator drives one incident through the pipeline state machine. Each
// Run owns a fresh PipelineContext; coordinators are safe for concurrent use.
type Coordinator struct {
	logger   *slog.Logger
	intake   *Intake
	classify *Reconciler
	plan     *Selector
	execute  *Executor
	validate *Validator
	close    *Composer
}

// NewCoordinator wires the six stages into a pipeline.
func NewCoordinator(logger *slog.Logger, intake *Intake, classify *Reconciler, plan *Selector, execute *Executor, validate *Validator, close *Composer) *Coordinator {
	return &Coordinator{
		logger:   logger,
		intake:   intake,
		classify: classify,
		plan:     plan,
		execute:  execute,
		validate: validate,
		close:    close,
	}
}

// Run processes one raw incident end to end and reports the terminal status.
// Stage errors end the run with RunError; the incident number is preserved in
// the result whenever intake got far enough to establish it.
func (c *Coordinator) Run(ctx context.Context, raw models.RawIncident) models.RunResult {
	start := time.Now()
	result := c.run(ctx, raw)
	metrics.ObserveRun(time.Since(start), string(result.Status))

	c.logger.Info("run finished",
		slog.String("incident", result.Incident),
		slog.String("status", string(result.Status)),
		slog.String("job_id", result.JobID),
		slog.Duration("elapsed", time.Since(start)))
	return result
}

func (c *Coordinator) run(ctx context.Context, raw models.RawIncident) models.RunResult {
	pc := &models.PipelineContext{}
	rollbackRetried := false

	fail := func(stage Stage, err error) models.RunResult {
		number := raw.Number
		if pc.Incident != nil {
			number = pc.Incident.Number
		}
		c.logger.Error("pipeline stage failed",
			slog.String("incident", number),
			slog.String("stage", string(stage)),
			slog.Any("error", err))
		return models.RunResult{Status: models.RunError, Incident: number}
	}

	stage := StageIntake
	for stage != StageDone {
		switch stage {
		case StageIntake:
			if err := c.intake.Run(ctx, pc, raw); err != nil {
				return fail(stage, err)
			}

		case StageClassify:
			if err := c.classify.Run(ctx, pc); err != nil {
				return fail(stage, err)
			}
			if pc.Classification.Eligibility == models.EligibilityHumanOnly {
				c.logger.Info("remediation requires human approval",
					slog.String("incident", pc.Incident.Number),
					slog.Any("labels", pc.Classification.Labels))
				return models.RunResult{Status: models.RunAwaitingApproval, Incident: pc.Incident.Number}
			}

		case StagePlan:
			if err := c.plan.Run(ctx, pc); err != nil {
				return fail(stage, err)
			}
			if pc.Plan.Eligibility == models.EligibilityHumanOnly {
				c.logger.Info("selected plan requires human approval",
					slog.String("incident", pc.Incident.Number),
					slog.String("playbook_id", pc.Plan.PlaybookID))
				return models.RunResult{Status: models.RunAwaitingApproval, Incident: pc.Incident.Number}
			}

		case StageExecute:
			if err := c.execute.Run(ctx, pc); err != nil {
				return fail(stage, err)
			}

		case StageValidate:
			if err := c.validate.Run(ctx, pc); err != nil {
				return fail(stage, err)
			}
			if pc.Validation.Decision == models.DecisionRollback && !rollbackRetried {
				rollbackRetried = true
				c.logger.Warn("validation requested rollback, re-executing once",
					slog.String("incident", pc.Incident.Number),
					slog.String("job_id", jobID(pc)))
				stage = StageExecute
				continue
			}

		case StageClose:
			if err := c.close.Run(ctx, pc); err != nil {
				return fail(stage, err)
			}
		}

		stage = transitions[stage]
	}

	return models.RunResult{
		Status:   runStatus(pc.Validation.Decision),
		Incident: pc.Incident.Number,
		JobID:    jobID(pc),
	}
}

func jobID(pc *models.PipelineContext) string {
	if pc.Execution == nil {
		return ""
	}
	return pc.Execution.JobID
}

func runStatus(decision models.Decision) models.RunStatus {
	switch decision {
	case models.DecisionSuccess:
		return models.RunSuccess
	case models.DecisionPartial:
		return models.RunPartial
	case models.DecisionRollback:
		return models.RunRollback
	default:
		return models.RunEscalate
	}
}
