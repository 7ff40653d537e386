package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opsforge/remedy-engine/internal/cache"
	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/ticket"
)

type fakeTicketSource struct {
	incidents []ticket.Incident
	calls     int
}

func (f *fakeTicketSource) QueryOpenIncidents(context.Context, int) ([]ticket.Incident, error) {
	f.calls++
	return f.incidents, nil
}

type countingPipeline struct {
	mu   sync.Mutex
	runs map[string]int
}

func (p *countingPipeline) Run(_ context.Context, raw models.RawIncident) models.RunResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runs == nil {
		p.runs = make(map[string]int)
	}
	p.runs[raw.Number]++
	return models.RunResult{Status: models.RunSuccess, Incident: raw.Number}
}

func (p *countingPipeline) count(number string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[number]
}

func TestSchedulerDeduplicatesAcrossPolls(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := &fakeTicketSource{incidents: []ticket.Incident{
		{Number: "INC100", ShortDescription: "disk full"},
		{Number: "INC101", ShortDescription: "cpu high"},
	}}
	pipeline := &countingPipeline{}
	dedupe := cache.NewMemoryProvider()

	s := NewScheduler(logger, source, pipeline, dedupe, SchedulerOptions{
		PollInterval:     time.Hour,
		IncidentsPerPoll: 5,
		MaxConcurrent:    2,
		ProcessedTTL:     time.Minute,
	})

	var wg sync.WaitGroup
	sem := make(chan struct{}, 2)
	ctx := context.Background()

	s.pollOnce(ctx, &wg, sem)
	s.pollOnce(ctx, &wg, sem)
	wg.Wait()

	if got := pipeline.count("INC100"); got != 1 {
		t.Fatalf("INC100 must run exactly once, ran %d times", got)
	}
	if got := pipeline.count("INC101"); got != 1 {
		t.Fatalf("INC101 must run exactly once, ran %d times", got)
	}
}

func TestSchedulerSkipsIncidentsWithoutNumber(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := &fakeTicketSource{incidents: []ticket.Incident{{ShortDescription: "anonymous alert"}}}
	pipeline := &countingPipeline{}

	s := NewScheduler(logger, source, pipeline, cache.NewMemoryProvider(), SchedulerOptions{})

	var wg sync.WaitGroup
	sem := make(chan struct{}, 1)
	s.pollOnce(context.Background(), &wg, sem)
	wg.Wait()

	if len(pipeline.runs) != 0 {
		t.Fatalf("numberless incidents must be skipped, ran %v", pipeline.runs)
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := &fakeTicketSource{}
	pipeline := &countingPipeline{}

	s := NewScheduler(logger, source, pipeline, nil, SchedulerOptions{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if source.calls == 0 {
		t.Fatal("expected at least one poll before cancel")
	}
}
