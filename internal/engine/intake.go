package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opsforge/remedy-engine/internal/models"
)

// Intake normalizes a raw incident payload into the pipeline's incident view.
type Intake struct {
	logger *slog.Logger
	store  RecordStore
}

// NewIntake constructs the intake stage.
func NewIntake(logger *slog.Logger, store RecordStore) *Intake {
	return &Intake{logger: logger, store: store}
}

// Run validates the payload and seeds the pipeline context. A missing
// incident number is the one hard rejection: without the join key no stage
// record can be persisted or correlated.
func (s *Intake) Run(ctx context.Context, pc *models.PipelineContext, raw models.RawIncident) error {
	number := strings.TrimSpace(raw.Number)
	if number == "" {
		return &IntakeError{Reason: "incident number is required"}
	}

	incident := models.Incident{
		SysID:            strings.TrimSpace(raw.SysID),
		Number:           number,
		Source:           valueOr(raw.Source, "ticketing"),
		ResourceID:       valueOr(raw.ResourceID, "unknown"),
		Service:          valueOr(raw.Service, "unknown"),
		Severity:         models.NormalizeSeverity(strings.TrimSpace(raw.Severity)),
		ShortDescription: strings.TrimSpace(raw.ShortDescription),
		Description:      strings.TrimSpace(raw.Description),
		Tags:             raw.Tags,
		Context:          raw.Context,
	}
	pc.Incident = &incident

	if err := s.store.UpsertIncident(ctx, incident); err != nil {
		s.logger.Warn("incident record not persisted",
			slog.String("incident", incident.Number), slog.Any("error", err))
	}

	s.logger.Info("incident accepted",
		slog.String("incident", incident.Number),
		slog.String("severity", string(incident.Severity)),
		slog.String("service", incident.Service))
	return nil
}

func valueOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
