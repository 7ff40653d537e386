package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/remedy-engine/internal/metrics"
	"github.com/opsforge/remedy-engine/internal/models"
)

// RunnerClient is the slice of the automation runner the execute stage
// consumes.
type RunnerClient interface {
	Launch(ctx context.Context, procedureID string, vars map[string]any) (string, error)
	JobStatus(ctx context.Context, jobID string) (models.JobStatus, *time.Time, error)
	JobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)
}

// Executor runs the execute stage: it launches the planned procedure and
// polls it to a terminal state within a fixed time budget. A run never exits
// this stage with a running status; an exhausted budget yields timeout and a
// failed launch yields a synthetic failed record.
type Executor struct {
	logger       *slog.Logger
	runner       RunnerClient
	store        RecordStore
	pollInterval time.Duration
	jobTimeout   time.Duration
}

// NewExecutor constructs the execute stage.
func NewExecutor(logger *slog.Logger, runner RunnerClient, store RecordStore, pollInterval, jobTimeout time.Duration) *Executor {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Executor{
		logger:       logger,
		runner:       runner,
		store:        store,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
	}
}

// Run executes pc.Plan against the runner and records the outcome. The stage
// returns an error only when the surrounding context is canceled; remote
// failures degrade to a failed execution record so validation still gets a
// signal to reason over.
func (e *Executor) Run(ctx context.Context, pc *models.PipelineContext) error {
	incident := *pc.Incident
	plan := *pc.Plan

	var classification models.Classification
	if pc.Classification != nil {
		classification = *pc.Classification
	}

	record, err := e.execute(ctx, incident, classification, plan)
	if err != nil {
		return err
	}
	pc.Execution = &record

	if err := e.store.InsertExecution(ctx, incident.Number, record); err != nil {
		e.logger.Warn("execution record not persisted",
			slog.String("incident", incident.Number), slog.Any("error", err))
	}

	e.logger.Info("execution finished",
		slog.String("incident", incident.Number),
		slog.String("job_id", record.JobID),
		slog.String("status", string(record.Status)),
		slog.Int("events", len(record.Steps)))
	return nil
}

func (e *Executor) execute(ctx context.Context, incident models.Incident, classification models.Classification, plan models.RemediationPlan) (models.ExecutionRecord, error) {
	if plan.PlaybookID == models.NoPlaybookID {
		return syntheticFailure("", "no remediation procedure available for this incident"), nil
	}

	vars := launchVariables(incident, classification, plan)
	jobID, err := e.runner.Launch(ctx, plan.PlaybookID, vars)
	if err != nil {
		remoteErr := &RemoteUnavailableError{System: "runner", Err: err}
		e.logger.Warn("procedure launch failed, recording synthetic failure",
			slog.String("incident", incident.Number),
			slog.String("playbook_id", plan.PlaybookID),
			slog.Any("error", remoteErr))
		return syntheticFailure("", fmt.Sprintf("launch failed: %v", err)), nil
	}

	return e.poll(ctx, incident, jobID)
}

// poll watches the job until it is terminal or the time budget runs out. The
// loop issues at most one status query per interval, so it returns within
// jobTimeout plus one interval.
func (e *Executor) poll(ctx context.Context, incident models.Incident, jobID string) (models.ExecutionRecord, error) {
	deadline := time.Now().Add(e.jobTimeout)
	var events []models.JobEvent

	for {
		status, finishedAt, err := e.runner.JobStatus(ctx, jobID)
		metrics.ObserveJobPoll()
		if err != nil {
			e.logger.Warn("job status unavailable, recording synthetic failure",
				slog.String("incident", incident.Number),
				slog.String("job_id", jobID),
				slog.Any("error", err))
			record := syntheticFailure(jobID, fmt.Sprintf("status poll failed: %v", err))
			record.Steps = append(events, record.Steps...)
			return record, nil
		}

		if fetched, err := e.runner.JobEvents(ctx, jobID); err == nil {
			events = fetched
		}

		if status.Terminal() {
			return models.ExecutionRecord{
				JobID:      jobID,
				Steps:      events,
				Status:     status,
				FinishedAt: finishedAt,
			}, nil
		}

		if !time.Now().Before(deadline) {
			e.logger.Warn("job exceeded time budget",
				slog.String("incident", incident.Number),
				slog.String("job_id", jobID),
				slog.Duration("budget", e.jobTimeout))
			return models.ExecutionRecord{
				JobID:  jobID,
				Steps:  events,
				Status: models.JobTimeout,
			}, nil
		}

		select {
		case <-ctx.Done():
			return models.ExecutionRecord{}, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}

// launchVariables is the fixed variable bundle handed to every procedure.
func launchVariables(incident models.Incident, classification models.Classification, plan models.RemediationPlan) map[string]any {
	category := "unknown"
	if len(classification.Labels) > 0 {
		category = classification.Labels[0]
	}
	return map[string]any{
		"incident_number":         incident.Number,
		"incident_description":    incident.Text(),
		"incident_service":        incident.Service,
		"incident_severity":       string(incident.Severity),
		"classification_category": category,
		"plan_prechecks":          plan.Prechecks,
	}
}

func syntheticFailure(jobID, message string) models.ExecutionRecord {
	if jobID == "" {
		jobID = "synthetic-" + uuid.NewString()
	}
	return models.ExecutionRecord{
		JobID: jobID,
		Steps: []models.JobEvent{{
			Event:     "error",
			Message:   message,
			Timestamp: time.Now().UTC(),
		}},
		Status: models.JobFailed,
	}
}
