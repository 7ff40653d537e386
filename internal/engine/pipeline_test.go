package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/oracle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := NewCatalog("", testLogger())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return catalog
}

// nopStore satisfies RecordStore for tests that do not assert persistence.
type nopStore struct{}

func (nopStore) UpsertIncident(context.Context, models.Incident) error { return nil }
func (nopStore) UpsertClassification(context.Context, string, models.Classification) error {
	return nil
}
func (nopStore) UpsertPlan(context.Context, string, models.RemediationPlan) error      { return nil }
func (nopStore) InsertExecution(context.Context, string, models.ExecutionRecord) error { return nil }
func (nopStore) InsertValidation(context.Context, string, models.ValidationSignal) error {
	return nil
}
func (nopStore) InsertClosure(context.Context, string, models.ClosureRecord) error { return nil }

// fakeOracle scripts all four oracle operations.
type fakeOracle struct {
	classification oracle.ClassificationAttempt
	classifyErr    error
	plan           oracle.PlanAttempt
	planErr        error
	evaluation     oracle.EvaluationAttempt
	evaluateErr    error
	closure        oracle.ClosureAttempt
	closureErr     error
}

func (f *fakeOracle) Classify(context.Context, models.Incident, []string) (oracle.ClassificationAttempt, error) {
	return f.classification, f.classifyErr
}

func (f *fakeOracle) SelectProcedure(context.Context, models.Incident, models.Classification, []models.Playbook, models.Playbook) (oracle.PlanAttempt, error) {
	return f.plan, f.planErr
}

func (f *fakeOracle) Evaluate(context.Context, models.Incident, models.ExecutionRecord, map[string]any) (oracle.EvaluationAttempt, error) {
	return f.evaluation, f.evaluateErr
}

func (f *fakeOracle) SummarizeClosure(context.Context, models.PipelineContext) (oracle.ClosureAttempt, error) {
	return f.closure, f.closureErr
}

// fakeRunner scripts the automation runner.
type fakeRunner struct {
	procedures []models.Playbook
	listErr    error

	launchedID   string
	launchedVars map[string]any
	launchErr    error
	jobID        string

	statuses    []models.JobStatus
	statusCalls int
	statusErr   error
	events      []models.JobEvent
}

func (f *fakeRunner) ListProcedures(context.Context) ([]models.Playbook, error) {
	return f.procedures, f.listErr
}

func (f *fakeRunner) Launch(_ context.Context, procedureID string, vars map[string]any) (string, error) {
	f.launchedID = procedureID
	f.launchedVars = vars
	if f.launchErr != nil {
		return "", f.launchErr
	}
	if f.jobID == "" {
		f.jobID = "42"
	}
	return f.jobID, nil
}

func (f *fakeRunner) JobStatus(context.Context, string) (models.JobStatus, *time.Time, error) {
	if f.statusErr != nil {
		return "", nil, f.statusErr
	}
	idx := f.statusCalls
	f.statusCalls++
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	status := f.statuses[idx]
	if status.Terminal() {
		now := time.Now().UTC()
		return status, &now, nil
	}
	return status, nil, nil
}

func (f *fakeRunner) JobEvents(context.Context, string) ([]models.JobEvent, error) {
	return f.events, nil
}

// fakeTickets records the ticket action taken by the close stage.
type fakeTickets struct {
	closedNumber   string
	closedNotes    string
	appendedNumber string
	appendedNotes  string
}

func (f *fakeTickets) CloseTicket(_ context.Context, number, workNotes, _ string) error {
	f.closedNumber = number
	f.closedNotes = workNotes
	return nil
}

func (f *fakeTickets) AppendNotes(_ context.Context, number, notes string) error {
	f.appendedNumber = number
	f.appendedNotes = notes
	return nil
}

func newTestCoordinator(t *testing.T, o *fakeOracle, runner *fakeRunner, tickets *fakeTickets) *Coordinator {
	t.Helper()
	logger := testLogger()
	catalog := testCatalog(t)
	store := nopStore{}

	return NewCoordinator(
		logger,
		NewIntake(logger, store),
		NewReconciler(logger, o, catalog, store),
		NewSelector(logger, o, runner, catalog, store),
		NewExecutor(logger, runner, store, time.Millisecond, 50*time.Millisecond),
		NewValidator(logger, o, store),
		NewComposer(logger, o, tickets, store),
	)
}

func TestRunRejectsMissingIncidentNumber(t *testing.T) {
	coordinator := newTestCoordinator(t, &fakeOracle{}, &fakeRunner{}, &fakeTickets{})

	result := coordinator.Run(context.Background(), models.RawIncident{
		ShortDescription: "disk full on appserver",
	})

	if result.Status != models.RunError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if result.JobID != "" {
		t.Fatalf("no job must be launched for a rejected incident, got job %s", result.JobID)
	}
}

func TestRunVarFullIncidentEndToEnd(t *testing.T) {
	o := &fakeOracle{
		classification: oracle.ClassificationAttempt{
			Labels:      oracle.FlexStrings{"disk_full"},
			Severity:    "P3",
			Eligibility: "auto",
		},
		plan:       oracle.PlanAttempt{PlaybookID: "10", PlaybookName: "Clean up var filesystem"},
		evaluation: oracle.EvaluationAttempt{Decision: "success"},
		closure: oracle.ClosureAttempt{
			WorkNotes:  "Cleared /var",
			Resolution: "resolved",
		},
	}
	runner := &fakeRunner{
		procedures: []models.Playbook{
			{ID: "7", Name: "Demo Job Template"},
			{ID: "10", Name: "Clean up var filesystem"},
		},
		statuses: []models.JobStatus{models.JobRunning, models.JobSuccessful},
	}
	tickets := &fakeTickets{}
	coordinator := newTestCoordinator(t, o, runner, tickets)

	result := coordinator.Run(context.Background(), models.RawIncident{
		Number:           "INC0012345",
		ShortDescription: "/var is full",
		Description:      "filesystem /var at 100% on host app-01",
		Severity:         "medium",
	})

	if result.Status != models.RunSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if runner.launchedID != "10" {
		t.Fatalf("expected filesystem cleanup procedure 10, launched %s", runner.launchedID)
	}
	if result.JobID == "" {
		t.Fatal("expected a job id on the result")
	}
	if tickets.closedNumber != "INC0012345" {
		t.Fatalf("expected ticket INC0012345 closed, got %q", tickets.closedNumber)
	}
	if runner.launchedVars["incident_number"] != "INC0012345" {
		t.Fatalf("launch variables missing incident number: %v", runner.launchedVars)
	}
	if runner.launchedVars["classification_category"] != "disk_full" {
		t.Fatalf("launch variables missing classification category: %v", runner.launchedVars)
	}
}

func TestRunCriticalMarkerStopsBeforePlanning(t *testing.T) {
	o := &fakeOracle{
		classification: oracle.ClassificationAttempt{
			Labels:      oracle.FlexStrings{"server_down", "P1"},
			Eligibility: "auto",
		},
	}
	runner := &fakeRunner{}
	coordinator := newTestCoordinator(t, o, runner, &fakeTickets{})

	result := coordinator.Run(context.Background(), models.RawIncident{
		Number:           "INC0000001",
		ShortDescription: "core router down",
		Severity:         "critical",
	})

	if result.Status != models.RunAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", result.Status)
	}
	if runner.launchedID != "" {
		t.Fatalf("no procedure may launch for a human-only incident, launched %s", runner.launchedID)
	}
	if result.JobID != "" {
		t.Fatalf("unexpected job id %s", result.JobID)
	}
}

func TestRunLaunchFailureStillValidatesAndCloses(t *testing.T) {
	o := &fakeOracle{
		classification: oracle.ClassificationAttempt{Labels: oracle.FlexStrings{"server_down"}},
		plan:           oracle.PlanAttempt{PlaybookID: "7", PlaybookName: "Demo Job Template"},
		evaluation:     oracle.EvaluationAttempt{Decision: "escalate"},
		closure:        oracle.ClosureAttempt{},
	}
	runner := &fakeRunner{
		procedures: []models.Playbook{{ID: "7", Name: "Demo Job Template"}},
		launchErr:  context.DeadlineExceeded,
	}
	tickets := &fakeTickets{}
	coordinator := newTestCoordinator(t, o, runner, tickets)

	result := coordinator.Run(context.Background(), models.RawIncident{
		Number:           "INC0000002",
		ShortDescription: "application offline",
	})

	if result.Status != models.RunEscalate {
		t.Fatalf("expected escalate, got %s", result.Status)
	}
	if result.JobID == "" {
		t.Fatal("expected a synthetic job id on the result")
	}
	if tickets.closedNumber != "" {
		t.Fatalf("failed remediation must not close the ticket, closed %q", tickets.closedNumber)
	}
	if tickets.appendedNumber != "INC0000002" {
		t.Fatalf("expected appended notes on INC0000002, got %q", tickets.appendedNumber)
	}
	if !strings.Contains(tickets.appendedNotes, "escalate") {
		t.Fatalf("appended notes should mention the validation decision: %q", tickets.appendedNotes)
	}
}

func TestRunRollbackRetriesExecutionOnce(t *testing.T) {
	o := &fakeOracle{
		classification: oracle.ClassificationAttempt{Labels: oracle.FlexStrings{"server_down"}},
		plan: oracle.PlanAttempt{
			PlaybookID:    "7",
			PlaybookName:  "Demo Job Template",
			RollbackSteps: oracle.FlexStrings{"restore previous release"},
		},
		evaluation: oracle.EvaluationAttempt{Decision: "rollback"},
		closure:    oracle.ClosureAttempt{},
	}
	runner := &fakeRunner{
		procedures: []models.Playbook{{ID: "7", Name: "Demo Job Template"}},
		statuses:   []models.JobStatus{models.JobSuccessful},
	}
	coordinator := newTestCoordinator(t, o, runner, &fakeTickets{})

	result := coordinator.Run(context.Background(), models.RawIncident{
		Number:           "INC0000003",
		ShortDescription: "bad deploy",
	})

	if result.Status != models.RunRollback {
		t.Fatalf("expected rollback, got %s", result.Status)
	}
	if runner.statusCalls < 2 {
		t.Fatalf("expected the job to execute twice, saw %d status polls", runner.statusCalls)
	}
}
