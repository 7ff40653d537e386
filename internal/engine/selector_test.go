package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/oracle"
)

func runSelector(t *testing.T, o *fakeOracle, runner *fakeRunner, incident models.Incident, classification models.Classification) (*models.PipelineContext, error) {
	t.Helper()
	selector := NewSelector(testLogger(), o, runner, testCatalog(t), nopStore{})
	pc := &models.PipelineContext{Incident: &incident, Classification: &classification}
	err := selector.Run(context.Background(), pc)
	return pc, err
}

func TestSelectorForcesCPUPlaybook(t *testing.T) {
	o := &fakeOracle{plan: oracle.PlanAttempt{PlaybookID: "7", PlaybookName: "Demo Job Template"}}
	runner := &fakeRunner{procedures: []models.Playbook{
		{ID: "7", Name: "Demo Job Template"},
		{ID: "9", Name: "check_cpu_utilization"},
	}}

	pc, err := runSelector(t, o, runner,
		models.Incident{Number: "INC10", ShortDescription: "cpu pegged"},
		models.Classification{Labels: []string{"high_cpu"}, Eligibility: models.EligibilityAuto},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Plan.PlaybookID != "9" {
		t.Fatalf("high_cpu must force the CPU procedure over the oracle pick, got %s", pc.Plan.PlaybookID)
	}
}

func TestSelectorForcesStorageCleanupForFamilyLabels(t *testing.T) {
	for _, label := range []string{"disk_full", "storage_full", "var_full", "tmp_full", "fs_full", "file_system_full"} {
		o := &fakeOracle{plan: oracle.PlanAttempt{PlaybookID: "7", PlaybookName: "Demo Job Template"}}
		runner := &fakeRunner{procedures: []models.Playbook{
			{ID: "7", Name: "Demo Job Template"},
			{ID: "10", Name: "Clean up var filesystem"},
		}}

		pc, err := runSelector(t, o, runner,
			models.Incident{Number: "INC11", ShortDescription: "storage trouble"},
			models.Classification{Labels: []string{label}, Eligibility: models.EligibilityAuto},
		)
		if err != nil {
			t.Fatalf("label %s: %v", label, err)
		}
		if pc.Plan.PlaybookID != "10" {
			t.Fatalf("label %s must force the cleanup procedure, got %s", label, pc.Plan.PlaybookID)
		}
	}
}

func TestSelectorResolvesUnknownIDByName(t *testing.T) {
	o := &fakeOracle{plan: oracle.PlanAttempt{PlaybookID: "999", PlaybookName: "Demo Job Template"}}
	runner := &fakeRunner{procedures: []models.Playbook{{ID: "7", Name: "Demo Job Template"}}}

	pc, err := runSelector(t, o, runner,
		models.Incident{Number: "INC12", ShortDescription: "service flapping"},
		models.Classification{Labels: []string{"server_down"}, Eligibility: models.EligibilityAuto},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Plan.PlaybookID != "7" {
		t.Fatalf("expected name fallback to procedure 7, got %s", pc.Plan.PlaybookID)
	}
}

func TestSelectorRejectsUnknownPlaybook(t *testing.T) {
	o := &fakeOracle{plan: oracle.PlanAttempt{PlaybookID: "999", PlaybookName: "made up playbook"}}
	runner := &fakeRunner{procedures: []models.Playbook{{ID: "7", Name: "Demo Job Template"}}}

	_, err := runSelector(t, o, runner,
		models.Incident{Number: "INC13", ShortDescription: "odd behaviour"},
		models.Classification{Labels: []string{"unknown"}, Eligibility: models.EligibilityAuto},
	)

	var notAvailable *PlaybookNotAvailableError
	if !errors.As(err, &notAvailable) {
		t.Fatalf("expected PlaybookNotAvailableError, got %v", err)
	}
}

func TestSelectorAcceptsNoneSentinel(t *testing.T) {
	o := &fakeOracle{plan: oracle.PlanAttempt{PlaybookID: "none"}}
	runner := &fakeRunner{procedures: []models.Playbook{{ID: "7", Name: "Demo Job Template"}}}

	pc, err := runSelector(t, o, runner,
		models.Incident{Number: "INC14", ShortDescription: "nothing automatable"},
		models.Classification{Labels: []string{"unknown"}, Eligibility: models.EligibilityAuto},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Plan.PlaybookID != models.NoPlaybookID {
		t.Fatalf("expected the no-playbook sentinel, got %s", pc.Plan.PlaybookID)
	}
}

func TestSelectorKeepsHumanOnlyLatch(t *testing.T) {
	o := &fakeOracle{plan: oracle.PlanAttempt{PlaybookID: "7", PlaybookName: "Demo Job Template", Eligibility: "auto"}}
	runner := &fakeRunner{procedures: []models.Playbook{{ID: "7", Name: "Demo Job Template"}}}

	pc, err := runSelector(t, o, runner,
		models.Incident{Number: "INC15", ShortDescription: "major outage"},
		models.Classification{Labels: []string{"server_down"}, Eligibility: models.EligibilityHumanOnly},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Plan.Eligibility != models.EligibilityHumanOnly {
		t.Fatalf("the plan must not downgrade human-only, got %s", pc.Plan.Eligibility)
	}
}

func TestSelectorDegradesWhenRunnerListingFails(t *testing.T) {
	o := &fakeOracle{plan: oracle.PlanAttempt{PlaybookID: "10"}}
	runner := &fakeRunner{listErr: errors.New("runner down")}

	pc, err := runSelector(t, o, runner,
		models.Incident{Number: "INC16", ShortDescription: "/var is full"},
		models.Classification{Labels: []string{"disk_full"}, Eligibility: models.EligibilityAuto},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Plan.PlaybookID != "10" {
		t.Fatalf("policy table must still resolve procedure 10, got %s", pc.Plan.PlaybookID)
	}
}

func TestFilterCandidatesBoundsTheSet(t *testing.T) {
	procedures := make([]models.Playbook, 0, 20)
	for i := 0; i < 20; i++ {
		procedures = append(procedures, models.Playbook{
			ID:          string(rune('a' + i)),
			Name:        "database maintenance task",
			Description: "database cleanup",
		})
	}
	incident := models.Incident{Number: "INC17", ShortDescription: "database connection errors"}
	classification := models.Classification{Labels: []string{"database_down"}}
	suggested := models.Playbook{ID: "7", Name: "Demo Job Template"}

	candidates := filterCandidates(procedures, incident, classification, suggested, suggested)

	if len(candidates) > maxCandidates {
		t.Fatalf("candidate set must hold at most %d entries, got %d", maxCandidates, len(candidates))
	}
	if candidates[0].ID != "7" {
		t.Fatalf("the suggestion must lead the candidate set, got %s", candidates[0].ID)
	}
}
