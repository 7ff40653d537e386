package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsforge/remedy-engine/internal/cache"
	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/ticket"
	"github.com/opsforge/remedy-engine/internal/utils"
)

// TicketSource lists incidents awaiting remediation.
type TicketSource interface {
	QueryOpenIncidents(ctx context.Context, limit int) ([]ticket.Incident, error)
}

// Pipeline runs one incident end to end.
type Pipeline interface {
	Run(ctx context.Context, raw models.RawIncident) models.RunResult
}

// SchedulerOptions bound the poll loop.
type SchedulerOptions struct {
	PollInterval     time.Duration
	IncidentsPerPoll int
	MaxConcurrent    int
	ProcessedTTL     time.Duration
}

// Scheduler polls the ticketing system for new incidents and feeds them to
// the pipeline. A cache-backed SetNX key per incident number keeps replicas
// and successive polls from processing the same incident twice within the
// dedupe window.
type Scheduler struct {
	logger   *slog.Logger
	tickets  TicketSource
	pipeline Pipeline
	dedupe   cache.Provider
	opts     SchedulerOptions
	latency  *utils.LatencyTracker
}

// NewScheduler constructs the poller. A nil dedupe provider disables
// cross-poll deduplication.
func NewScheduler(logger *slog.Logger, tickets TicketSource, pipeline Pipeline, dedupe cache.Provider, opts SchedulerOptions) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.IncidentsPerPoll <= 0 {
		opts.IncidentsPerPoll = 5
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.ProcessedTTL <= 0 {
		opts.ProcessedTTL = 24 * time.Hour
	}
	if dedupe == nil {
		dedupe = cache.NoopProvider{}
	}
	return &Scheduler{
		logger:   logger,
		tickets:  tickets,
		pipeline: pipeline,
		dedupe:   dedupe,
		opts:     opts,
		latency:  utils.NewLatencyTracker(0),
	}
}

// Run polls until ctx is canceled. In-flight runs are waited for on exit.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.opts.PollInterval),
		slog.Int("per_poll", s.opts.IncidentsPerPoll),
		slog.Int("concurrency", s.opts.MaxConcurrent))

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.opts.MaxConcurrent)

	for {
		s.pollOnce(ctx, &wg, sem)

		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context, wg *sync.WaitGroup, sem chan struct{}) {
	incidents, err := s.tickets.QueryOpenIncidents(ctx, s.opts.IncidentsPerPoll)
	if err != nil {
		s.logger.Warn("incident poll failed", slog.Any("error", err))
		return
	}

	for _, inc := range incidents {
		if inc.Number == "" {
			continue
		}
		if !s.claim(ctx, inc.Number) {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			s.release(inc.Number)
			return
		}

		wg.Add(1)
		go func(inc ticket.Incident) {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, inc)
		}(inc)
	}
}

// claim marks an incident as in-flight. Losing the SetNX race means another
// replica or an earlier poll already owns it.
func (s *Scheduler) claim(ctx context.Context, number string) bool {
	ok, err := s.dedupe.SetNX(ctx, "processed:"+number, []byte("1"), s.opts.ProcessedTTL)
	if err != nil {
		s.logger.Warn("dedupe claim failed, processing anyway",
			slog.String("incident", number), slog.Any("error", err))
		return true
	}
	if !ok {
		s.logger.Debug("incident already claimed", slog.String("incident", number))
	}
	return ok
}

func (s *Scheduler) release(number string) {
	_ = s.dedupe.Del(context.Background(), "processed:"+number)
}

func (s *Scheduler) process(ctx context.Context, inc ticket.Incident) {
	start := time.Now()
	result := s.pipeline.Run(ctx, models.RawIncident{
		Number:           inc.Number,
		SysID:            inc.SysID,
		Source:           "ticketing",
		Service:          inc.Service,
		Severity:         inc.Severity,
		ShortDescription: inc.ShortDescription,
		Description:      inc.Description,
	})
	s.latency.Observe(time.Since(start))

	s.logger.Info("scheduled run finished",
		slog.String("incident", inc.Number),
		slog.String("status", string(result.Status)),
		slog.Duration("p95", s.latency.Percentile(95)))
}
