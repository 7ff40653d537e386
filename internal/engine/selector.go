package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/oracle"
)

// maxCandidates bounds the procedure list offered to the oracle per run.
const maxCandidates = 5

// storageFamilyLabels force the storage-cleanup procedure regardless of what
// the oracle picked.
var storageFamilyLabels = map[string]struct{}{
	"disk_full":        {},
	"storage_full":     {},
	"var_full":         {},
	"tmp_full":         {},
	"fs_full":          {},
	"file_system_full": {},
}

// storagePhrases are incident-text markers that trigger the storage safeguard
// even when classification missed the label.
var storagePhrases = []string{"/var", "/tmp", "disk full", "storage full", "filesystem full", "out of space", "no space left"}

// PlannerOracle is the slice of the decision oracle the plan stage consumes.
type PlannerOracle interface {
	SelectProcedure(ctx context.Context, incident models.Incident, classification models.Classification, candidates []models.Playbook, suggested models.Playbook) (oracle.PlanAttempt, error)
}

// ProcedureLister lists the procedures currently offered by the automation
// runner.
type ProcedureLister interface {
	ListProcedures(ctx context.Context) ([]models.Playbook, error)
}

// Selector runs the plan stage: it snapshots the procedure catalog, asks the
// oracle to choose, and reconciles the answer against the policy table.
type Selector struct {
	logger  *slog.Logger
	oracle  PlannerOracle
	runner  ProcedureLister
	catalog *Catalog
	store   RecordStore
}

// NewSelector constructs the plan stage.
func NewSelector(logger *slog.Logger, o PlannerOracle, runner ProcedureLister, catalog *Catalog, store RecordStore) *Selector {
	return &Selector{logger: logger, oracle: o, runner: runner, catalog: catalog, store: store}
}

// Run selects a remediation plan for the classified incident.
func (s *Selector) Run(ctx context.Context, pc *models.PipelineContext) error {
	incident := *pc.Incident
	classification := *pc.Classification

	procedures, err := s.runner.ListProcedures(ctx)
	if err != nil {
		s.logger.Warn("procedure listing unavailable, falling back to policy table",
			slog.String("incident", incident.Number), slog.Any("error", err))
		procedures = nil
	}

	suggested := s.suggest(incident, classification)
	candidates := filterCandidates(procedures, incident, classification, suggested, s.catalog.Default())

	attempt, err := s.oracle.SelectProcedure(ctx, incident, classification, candidates, suggested)
	if err != nil {
		return &DecisionParseError{Stage: "plan", Err: err}
	}

	plan, err := s.reconcilePlan(attempt, incident, classification, procedures, candidates, suggested)
	if err != nil {
		return err
	}
	pc.Plan = &plan

	if err := s.store.UpsertPlan(ctx, incident.Number, plan); err != nil {
		s.logger.Warn("plan record not persisted",
			slog.String("incident", incident.Number), slog.Any("error", err))
	}

	s.logger.Info("remediation plan selected",
		slog.String("incident", incident.Number),
		slog.String("playbook_id", plan.PlaybookID),
		slog.String("playbook_name", plan.PlaybookName),
		slog.String("eligibility", string(plan.Eligibility)))
	return nil
}

// suggest derives the deterministic recommendation from the policy table. A
// storage phrase in the incident text wins over any label mapping.
func (s *Selector) suggest(incident models.Incident, classification models.Classification) models.Playbook {
	text := strings.ToLower(incident.Text())
	for _, phrase := range storagePhrases {
		if strings.Contains(text, phrase) {
			return s.catalog.StorageCleanup()
		}
	}
	for _, label := range classification.Labels {
		if pb, ok := s.catalog.Lookup(label); ok {
			return pb
		}
	}
	return s.catalog.Default()
}

// filterCandidates trims the runner's procedure list to a bounded candidate
// set: the suggestion, the default, and the best token-overlap matches.
func filterCandidates(procedures []models.Playbook, incident models.Incident, classification models.Classification, suggested, fallback models.Playbook) []models.Playbook {
	candidates := []models.Playbook{suggested}
	if fallback.ID != suggested.ID {
		candidates = append(candidates, fallback)
	}

	tokens := scoringTokens(incident, classification)
	type scored struct {
		pb    models.Playbook
		score int
	}
	var ranked []scored
	for _, pb := range procedures {
		if pb.ID == suggested.ID || pb.ID == fallback.ID {
			continue
		}
		if score := overlapScore(pb, tokens); score > 0 {
			ranked = append(ranked, scored{pb: pb, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	for _, sc := range ranked {
		if len(candidates) >= maxCandidates {
			break
		}
		candidates = append(candidates, sc.pb)
	}
	return candidates
}

func scoringTokens(incident models.Incident, classification models.Classification) map[string]struct{} {
	tokens := make(map[string]struct{})
	add := func(text string) {
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
		}) {
			if len(tok) > 3 {
				tokens[tok] = struct{}{}
			}
		}
	}
	add(incident.Text())
	for _, label := range classification.Labels {
		add(strings.ReplaceAll(label, "_", " "))
	}
	return tokens
}

func overlapScore(pb models.Playbook, tokens map[string]struct{}) int {
	text := strings.ToLower(pb.Name + " " + pb.Description)
	score := 0
	for tok := range tokens {
		if strings.Contains(text, tok) {
			score++
		}
	}
	return score
}

// reconcilePlan validates the oracle's choice against the catalog and applies
// the deterministic policy overrides.
func (s *Selector) reconcilePlan(attempt oracle.PlanAttempt, incident models.Incident, classification models.Classification, procedures, candidates []models.Playbook, suggested models.Playbook) (models.RemediationPlan, error) {
	chosenID := strings.TrimSpace(string(attempt.PlaybookID))
	chosenName := strings.TrimSpace(attempt.PlaybookName)

	var chosen models.Playbook
	switch {
	case strings.EqualFold(chosenID, models.NoPlaybookID):
		chosen = models.Playbook{ID: models.NoPlaybookID, Name: "none"}
	case chosenID == "" && chosenName == "":
		s.logger.Warn("oracle returned no procedure, using suggestion",
			slog.String("incident", incident.Number), slog.String("playbook_id", suggested.ID))
		chosen = suggested
	default:
		resolved, ok := resolveProcedure(chosenID, chosenName, procedures, candidates, s.catalog)
		if !ok {
			return models.RemediationPlan{}, &PlaybookNotAvailableError{PlaybookID: chosenID, PlaybookName: chosenName}
		}
		if resolved.ID != chosenID {
			s.logger.Warn("procedure id unknown, resolved by name",
				slog.String("incident", incident.Number),
				slog.String("requested_id", chosenID),
				slog.String("resolved_id", resolved.ID))
		}
		chosen = resolved
	}

	if forced, ok := s.forcedProcedure(classification); ok && chosen.ID != forced.ID {
		s.logger.Warn("policy table overrides oracle procedure choice",
			slog.String("incident", incident.Number),
			slog.String("oracle_choice", chosen.ID),
			slog.String("forced", forced.ID))
		chosen = forced
	}

	risk := 0.5
	if attempt.RiskScore != nil {
		risk = clamp01(*attempt.RiskScore)
	}

	eligibility := classification.Eligibility
	if models.Eligibility(attempt.Eligibility) == models.EligibilityHumanOnly {
		eligibility = models.EligibilityHumanOnly
	}
	eligibility = models.MergeEligibility(classification.Eligibility, eligibility)

	return models.RemediationPlan{
		PlaybookID:    chosen.ID,
		PlaybookName:  chosen.Name,
		Prechecks:     append([]string{}, attempt.Prechecks...),
		RollbackSteps: append([]string{}, attempt.RollbackSteps...),
		RiskScore:     risk,
		Eligibility:   eligibility,
	}, nil
}

// forcedProcedure returns the procedure the policy table mandates for the
// label set, if any. Storage exhaustion and CPU saturation are never left to
// the oracle.
func (s *Selector) forcedProcedure(classification models.Classification) (models.Playbook, bool) {
	for _, label := range classification.Labels {
		if _, ok := storageFamilyLabels[label]; ok {
			return s.catalog.StorageCleanup(), true
		}
	}
	if classification.HasLabel("high_cpu") {
		return s.catalog.CPUCheck(), true
	}
	return models.Playbook{}, false
}

// resolveProcedure maps the oracle's id to a known procedure, falling back to
// an exact case-insensitive name match over the offered sets.
func resolveProcedure(id, name string, procedures, candidates []models.Playbook, catalog *Catalog) (models.Playbook, bool) {
	pools := [][]models.Playbook{candidates, procedures}
	for _, pool := range pools {
		for _, pb := range pool {
			if pb.ID == id {
				return pb, true
			}
		}
	}
	if catalog.Contains(id) {
		for _, label := range catalog.Labels() {
			if pb, ok := catalog.Lookup(label); ok && pb.ID == id {
				return pb, true
			}
		}
	}
	if name != "" {
		for _, pool := range pools {
			for _, pb := range pool {
				if strings.EqualFold(pb.Name, name) {
					return pb, true
				}
			}
		}
	}
	return models.Playbook{}, false
}
