package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/oracle"
)

// ClosureOracle is the slice of the decision oracle the close stage consumes.
type ClosureOracle interface {
	SummarizeClosure(ctx context.Context, pc models.PipelineContext) (oracle.ClosureAttempt, error)
}

// TicketClient is the slice of the ticketing system the close stage consumes.
type TicketClient interface {
	CloseTicket(ctx context.Context, number, workNotes, resolutionSummary string) error
	AppendNotes(ctx context.Context, number, notes string) error
}

// Composer runs the close stage: it asks the oracle for a closure narrative,
// overrides the parts policy does not leave to it, and updates the ticket.
// The closure record always carries non-empty notes and summary.
type Composer struct {
	logger  *slog.Logger
	oracle  ClosureOracle
	tickets TicketClient
	store   RecordStore
}

// NewComposer constructs the close stage.
func NewComposer(logger *slog.Logger, o ClosureOracle, tickets TicketClient, store RecordStore) *Composer {
	return &Composer{logger: logger, oracle: o, tickets: tickets, store: store}
}

// Run composes the closure record and applies the ticket action. Ticketing
// failures are logged and swallowed; the record is authoritative even when
// the ticket could not be touched.
func (c *Composer) Run(ctx context.Context, pc *models.PipelineContext) error {
	incident := *pc.Incident

	attempt, err := c.oracle.SummarizeClosure(ctx, *pc)
	if err != nil {
		return &DecisionParseError{Stage: "close", Err: err}
	}

	record := composeClosure(attempt, *pc, time.Now().UTC())
	pc.Closure = &record

	if err := c.store.InsertClosure(ctx, incident.Number, record); err != nil {
		c.logger.Warn("closure record not persisted",
			slog.String("incident", incident.Number), slog.Any("error", err))
	}

	c.applyTicketAction(ctx, incident.Number, record, remediationSucceeded(*pc))

	c.logger.Info("incident closed",
		slog.String("incident", incident.Number),
		slog.String("resolution", string(record.Resolution)),
		slog.String("closed_by", record.ClosedBy))
	return nil
}

func (c *Composer) applyTicketAction(ctx context.Context, number string, record models.ClosureRecord, succeeded bool) {
	if succeeded {
		if err := c.tickets.CloseTicket(ctx, number, record.WorkNotes, record.ResolutionSummary); err != nil {
			c.logger.Warn("ticket close failed",
				slog.String("incident", number), slog.Any("error", err))
		}
		return
	}
	notes := record.WorkNotes + "\n\n" + record.ResolutionSummary
	if err := c.tickets.AppendNotes(ctx, number, notes); err != nil {
		c.logger.Warn("ticket note append failed",
			slog.String("incident", number), slog.Any("error", err))
	}
}

// remediationSucceeded reports whether both the job and the validation agree
// the incident is fixed. Only this combination closes the ticket; everything
// else appends notes and leaves the ticket open.
func remediationSucceeded(pc models.PipelineContext) bool {
	return pc.Execution != nil && pc.Execution.Status == models.JobSuccessful &&
		pc.Validation != nil && pc.Validation.Decision == models.DecisionSuccess
}

// composeClosure reconciles the oracle's narrative into a complete closure
// record. Field defaults are independent, and on confirmed success the
// resolution and summary are templated from pipeline facts rather than
// trusted to the oracle.
func composeClosure(attempt oracle.ClosureAttempt, pc models.PipelineContext, closedAt time.Time) models.ClosureRecord {
	number := ""
	if pc.Incident != nil {
		number = pc.Incident.Number
	}

	closedBy := strings.TrimSpace(attempt.ClosedBy)
	if closedBy == "" {
		closedBy = "remedy-engine"
	}

	succeeded := remediationSucceeded(pc)

	resolution, ok := models.ParseResolution(strings.TrimSpace(attempt.Resolution))
	if !ok {
		if succeeded {
			resolution = models.ResolutionResolved
		} else {
			resolution = models.ResolutionEscalated
		}
	}

	workNotes := strings.TrimSpace(attempt.WorkNotes)
	if workNotes == "" {
		workNotes = fallbackWorkNotes(pc)
	}
	summary := strings.TrimSpace(attempt.ResolutionSummary)
	if summary == "" {
		summary = fallbackSummary(pc)
	}

	if succeeded {
		resolution = models.ResolutionResolved
		summary = successSummary(pc)
	}

	return models.ClosureRecord{
		IncidentID:        number,
		ClosedBy:          closedBy,
		Resolution:        resolution,
		WorkNotes:         workNotes,
		ResolutionSummary: summary,
		ClosedAt:          closedAt,
	}
}

func fallbackWorkNotes(pc models.PipelineContext) string {
	status := "unknown"
	jobID := "n/a"
	if pc.Execution != nil {
		status = string(pc.Execution.Status)
		jobID = pc.Execution.JobID
	}
	decision := "unknown"
	if pc.Validation != nil {
		decision = string(pc.Validation.Decision)
	}
	return fmt.Sprintf("Automated remediation run completed. Job %s finished with status %s; validation decision: %s.", jobID, status, decision)
}

func fallbackSummary(pc models.PipelineContext) string {
	playbook := "no procedure"
	if pc.Plan != nil && pc.Plan.PlaybookID != models.NoPlaybookID {
		playbook = fmt.Sprintf("procedure %q", pc.Plan.PlaybookName)
	}
	decision := "no validation decision"
	if pc.Validation != nil {
		decision = fmt.Sprintf("validation decision %s", pc.Validation.Decision)
	}
	return fmt.Sprintf("Automated remediation ran %s with %s.", playbook, decision)
}

func successSummary(pc models.PipelineContext) string {
	playbook := "the selected procedure"
	if pc.Plan != nil && pc.Plan.PlaybookName != "" {
		playbook = fmt.Sprintf("procedure %q", pc.Plan.PlaybookName)
	}
	jobID := ""
	if pc.Execution != nil {
		jobID = pc.Execution.JobID
	}
	return fmt.Sprintf("Incident remediated automatically: %s completed successfully (job %s) and validation confirmed recovery.", playbook, jobID)
}
