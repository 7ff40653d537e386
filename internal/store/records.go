package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsforge/remedy-engine/internal/models"
)

// Client persists per-stage records to the remediation document store. Every
// record is keyed by incident number; the pipeline treats all persistence as
// best-effort and never fails a stage on a store error.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a store client. An empty endpoint turns every write
// into a no-op, which keeps local runs free of a store dependency.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UpsertIncident stores the normalized incident.
func (c *Client) UpsertIncident(ctx context.Context, incident models.Incident) error {
	return c.put(ctx, "incidents", incident.Number, incident)
}

// UpsertClassification stores the reconciled classification.
func (c *Client) UpsertClassification(ctx context.Context, number string, classification models.Classification) error {
	return c.put(ctx, "classifications", number, classification)
}

// UpsertPlan stores the selected remediation plan.
func (c *Client) UpsertPlan(ctx context.Context, number string, plan models.RemediationPlan) error {
	return c.put(ctx, "plans", number, plan)
}

// InsertExecution stores one execution record. Retried executions append a
// second record under the same incident number.
func (c *Client) InsertExecution(ctx context.Context, number string, execution models.ExecutionRecord) error {
	return c.put(ctx, "executions", number, execution)
}

// InsertValidation stores the validation signal.
func (c *Client) InsertValidation(ctx context.Context, number string, validation models.ValidationSignal) error {
	return c.put(ctx, "validations", number, validation)
}

// InsertClosure stores the closure record.
func (c *Client) InsertClosure(ctx context.Context, number string, closure models.ClosureRecord) error {
	return c.put(ctx, "closures", number, closure)
}

func (c *Client) put(ctx context.Context, kind, number string, record any) error {
	if c == nil || c.endpoint == "" {
		return nil
	}
	if number == "" {
		return fmt.Errorf("incident number required for %s record", kind)
	}

	payload := map[string]any{
		"incident": number,
		"record":   record,
		"storedAt": time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", kind, err)
	}

	endpoint := fmt.Sprintf("%s/v1/records/%s", c.endpoint, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store %s record: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("store %s record failed: %s", kind, strings.TrimSpace(string(data)))
	}
	return nil
}
