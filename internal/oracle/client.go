package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opsforge/remedy-engine/internal/metrics"
	"github.com/opsforge/remedy-engine/internal/models"
)

// Client talks to a self-hosted chat-completion endpoint (Ollama wire format)
// and turns free-form completions into attempt structs. Completions are asked
// for strict JSON but frequently come back wrapped in prose; the client
// extracts the first JSON object it can find.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewClient constructs an oracle client for the configured model endpoint.
func NewClient(baseURL, model string, temperature float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Classify asks the oracle to label an incident. Hints list the label
// vocabulary the catalog understands.
func (c *Client) Classify(ctx context.Context, incident models.Incident, hints []string) (ClassificationAttempt, error) {
	system := "You are a classification agent for IT incidents. " +
		"Output only valid JSON with keys: labels (array of strings), severity (P1|P2|P3|P4), " +
		"eligibility (auto or human-only), confidence (number 0-1). " +
		"Prefer labels from this vocabulary: " + strings.Join(hints, ", ") + "."
	user := fmt.Sprintf(
		"Classify the incident below.\nshort_description: %s\ndescription: %s\nservice: %s\nseverity_hint: %s\nReturn only JSON, no extra text.",
		incident.ShortDescription, incident.Description, incident.Service, incident.Severity,
	)

	var attempt ClassificationAttempt
	err := c.complete(ctx, "classify", system, user, &attempt)
	return attempt, err
}

// SelectProcedure asks the oracle to pick one procedure from the candidate
// set, steering it toward the deterministic suggestion.
func (c *Client) SelectProcedure(ctx context.Context, incident models.Incident, classification models.Classification, candidates []models.Playbook, suggested models.Playbook) (PlanAttempt, error) {
	listed := make([]string, 0, len(candidates))
	for _, pb := range candidates {
		listed = append(listed, fmt.Sprintf("ID: %s, Name: %s", pb.ID, pb.Name))
	}
	system := "You are a remediation planner. Available playbooks:\n" + strings.Join(listed, "\n") +
		fmt.Sprintf("\nThe recommended playbook is ID %s (%s). Use it unless another candidate clearly fits better. ", suggested.ID, suggested.Name) +
		"Return only JSON with keys: playbook_id, playbook_name, prechecks (list), rollback_steps (list), risk_score (0-1), eligibility (auto or human-only)."
	user := fmt.Sprintf(
		"Incident: %s\nLabels: %s\nSeverity: %s",
		incident.Text(), strings.Join(classification.Labels, ", "), classification.Severity,
	)

	var attempt PlanAttempt
	err := c.complete(ctx, "select_procedure", system, user, &attempt)
	return attempt, err
}

// Evaluate asks the oracle to judge a finished remediation job.
func (c *Client) Evaluate(ctx context.Context, incident models.Incident, execution models.ExecutionRecord, telemetry map[string]any) (EvaluationAttempt, error) {
	system := "You are a validation agent. Evaluate the remediation outcome from the job status, job events, and telemetry. " +
		"decision must be: success (job successful and telemetry confirms recovery), partial (completed with partial recovery), " +
		"rollback (job failed or caused further issues), escalate (timed out or status unknown). " +
		"Return only JSON with keys: decision, metrics (object), logs (object), synthetics (object)."

	execJSON, _ := json.Marshal(map[string]any{
		"job_id": execution.JobID, "status": execution.Status, "events": len(execution.Steps),
	})
	telemetryJSON, _ := json.Marshal(telemetry)
	user := fmt.Sprintf("Incident: %s\nExecution: %s\nTelemetry: %s", incident.Text(), execJSON, telemetryJSON)

	var attempt EvaluationAttempt
	err := c.complete(ctx, "evaluate", system, user, &attempt)
	return attempt, err
}

// SummarizeClosure asks the oracle for closure narrative fields.
func (c *Client) SummarizeClosure(ctx context.Context, pc models.PipelineContext) (ClosureAttempt, error) {
	system := "You are a closure agent. Summarize the incident resolution. " +
		"work_notes and resolution_summary must name the playbook used, whether execution succeeded, failed or timed out, and the validation decision. " +
		"Return only JSON with keys: work_notes, resolution_summary, incident_id, closed_by, resolution (resolved|duplicate|false-positive|escalated)."

	summary := map[string]any{}
	if pc.Incident != nil {
		summary["incident"] = pc.Incident.Number
		summary["description"] = pc.Incident.Text()
	}
	if pc.Classification != nil {
		summary["labels"] = pc.Classification.Labels
	}
	if pc.Plan != nil {
		summary["playbook_id"] = pc.Plan.PlaybookID
		summary["playbook_name"] = pc.Plan.PlaybookName
	}
	if pc.Execution != nil {
		summary["job_id"] = pc.Execution.JobID
		summary["execution_status"] = pc.Execution.Status
	}
	if pc.Validation != nil {
		summary["validation_decision"] = pc.Validation.Decision
	}
	payload, _ := json.Marshal(summary)

	var attempt ClosureAttempt
	err := c.complete(ctx, "summarize_closure", system, string(payload), &attempt)
	return attempt, err
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

func (c *Client) complete(ctx context.Context, op, system, user string, out any) error {
	err := c.doComplete(ctx, system, user, out)
	metrics.ObserveOracleRequest(op, err)
	return err
}

func (c *Client) doComplete(ctx context.Context, system, user string, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("oracle endpoint not configured")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:  false,
		Options: chatOptions{Temperature: c.temperature},
	})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle returned %s", resp.Status)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return fmt.Errorf("decode oracle response: %w", err)
	}

	return DecodeCompletion(chat.Message.Content, out)
}

// DecodeCompletion extracts the first JSON object from a completion and
// unmarshals it into out. Completions wrapped in markdown fences or prose are
// tolerated; anything without a parseable object is an error.
func DecodeCompletion(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("empty completion")
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("completion contains no JSON object")
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), out); err != nil {
		return fmt.Errorf("decode completion JSON: %w", err)
	}
	return nil
}
